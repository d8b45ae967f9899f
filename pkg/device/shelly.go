package device

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/levenlabs/go-lflag"
	"github.com/raterudder/homeplug/pkg/common"
	"github.com/raterudder/homeplug/pkg/log"
	"github.com/raterudder/homeplug/pkg/types"
)

// ShellyHTTP drives a Shelly Gen1 plug over its local HTTP API.
type ShellyHTTP struct {
	baseURL string
	client  *http.Client
}

var _ Relay = (*ShellyHTTP)(nil)

func configuredShellyHTTP() *ShellyHTTP {
	s := &ShellyHTTP{
		client: common.HTTPClient(5 * time.Second),
	}
	baseURL := lflag.String("shelly-url", "", "Base URL of the Shelly plug (e.g. http://192.168.1.50)")

	lflag.Do(func() {
		s.baseURL = strings.TrimSuffix(*baseURL, "/")
	})

	return s
}

// NewShellyHTTP returns a ShellyHTTP talking to baseURL with client.
func NewShellyHTTP(baseURL string, client *http.Client) *ShellyHTTP {
	return &ShellyHTTP{baseURL: strings.TrimSuffix(baseURL, "/"), client: client}
}

// Validate ensures the configuration is valid.
func (s *ShellyHTTP) Validate() error {
	if s.baseURL == "" {
		return fmt.Errorf("shelly-url is required")
	}
	if _, err := url.Parse(s.baseURL); err != nil {
		return fmt.Errorf("failed to parse shelly url (%s): %w", s.baseURL, err)
	}
	return nil
}

type shellyRelayResponse struct {
	IsOn bool `json:"ison"`
}

func (s *ShellyHTTP) relay(ctx context.Context, params url.Values) (types.RelayStatus, error) {
	u := s.baseURL + "/relay/0"
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return types.RelayStatus{}, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return types.RelayStatus{}, fmt.Errorf("failed to reach shelly: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return types.RelayStatus{}, fmt.Errorf("shelly returned status: %d", resp.StatusCode)
	}
	var data shellyRelayResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return types.RelayStatus{}, fmt.Errorf("failed to decode shelly response: %w", err)
	}
	return types.RelayStatus{IsOn: data.IsOn}, nil
}

// SetRelay implements Relay. The plug answers with its new state, which must
// match what was asked for.
func (s *ShellyHTTP) SetRelay(ctx context.Context, on bool) error {
	turn := "off"
	if on {
		turn = "on"
	}
	log.Ctx(ctx).DebugContext(ctx, "setting shelly relay", slog.String("turn", turn))

	status, err := s.relay(ctx, url.Values{"turn": {turn}})
	if err != nil {
		return fmt.Errorf("failed to turn relay %s: %w", turn, err)
	}
	if status.IsOn != on {
		return fmt.Errorf("relay reported ison=%t after turn=%s", status.IsOn, turn)
	}
	return nil
}

// GetRelayState implements Relay.
func (s *ShellyHTTP) GetRelayState(ctx context.Context) (types.RelayStatus, error) {
	status, err := s.relay(ctx, nil)
	if err != nil {
		return types.RelayStatus{}, fmt.Errorf("failed to get relay state: %w", err)
	}
	return status, nil
}
