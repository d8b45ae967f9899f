package utility

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/levenlabs/go-lflag"
	"github.com/raterudder/homeplug/pkg/common"
	"github.com/raterudder/homeplug/pkg/log"
	"github.com/raterudder/homeplug/pkg/types"
	"github.com/shopspring/decimal"
)

var areaRegexp = regexp.MustCompile(`^SE[1-4]$`)

// Elpris implements the Provider interface for the elprisetjustnu.se API,
// which serves Nord Pool day-ahead prices for the Swedish price areas.
type Elpris struct {
	apiURL string
	client *http.Client
}

var _ Provider = (*Elpris)(nil)

// configuredElpris sets up flags for elprisetjustnu.se and returns the instance.
func configuredElpris() *Elpris {
	e := &Elpris{
		client: common.HTTPClient(10 * time.Second),
	}
	apiURL := lflag.String("elpris-api-url", "https://www.elprisetjustnu.se/api/v1/prices", "Base URL for the elprisetjustnu.se price API")

	lflag.Do(func() {
		e.apiURL = *apiURL
	})

	return e
}

// NewElpris returns an Elpris talking to apiURL with client.
func NewElpris(apiURL string, client *http.Client) *Elpris {
	return &Elpris{apiURL: apiURL, client: client}
}

// Validate ensures the configuration is valid.
func (e *Elpris) Validate() error {
	if e.apiURL == "" {
		return fmt.Errorf("elpris-api-url is required")
	}
	if _, err := url.Parse(e.apiURL); err != nil {
		return fmt.Errorf("failed to parse elpris url (%s): %w", e.apiURL, err)
	}
	return nil
}

// Location implements Provider.
func (e *Elpris) Location() *time.Location {
	return seLocation
}

type elprisEntry struct {
	SEKPerKWH decimal.Decimal `json:"SEK_per_kWh"`
	TimeStart string          `json:"time_start"`
	TimeEnd   string          `json:"time_end"`
}

// FetchDayPrices implements Provider. It returns ErrNotPublished when the API
// has no document for the day yet.
func (e *Elpris) FetchDayPrices(ctx context.Context, date time.Time, area string) ([]types.PriceSample, error) {
	if !areaRegexp.MatchString(area) {
		return nil, fmt.Errorf("invalid price area: %q", area)
	}
	date = date.In(seLocation)
	u := fmt.Sprintf("%s/%s_%s.json", strings.TrimSuffix(e.apiURL, "/"), date.Format("2006/01-02"), area)

	req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	log.Ctx(ctx).DebugContext(ctx, "fetching prices from elprisetjustnu", slog.String("url", u))

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch prices: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%s %s: %w", date.Format(time.DateOnly), area, ErrNotPublished)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("elprisetjustnu api returned status: %d", resp.StatusCode)
	}

	var data []elprisEntry
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to decode elprisetjustnu response", slog.Any("error", err))
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	prices := make([]types.PriceSample, 0, len(data))
	for _, item := range data {
		if _, err := time.Parse(time.RFC3339, item.TimeStart); err != nil {
			log.Ctx(ctx).WarnContext(ctx, "failed to parse elprisetjustnu time_start", slog.String("value", item.TimeStart), slog.Any("error", err))
			continue
		}
		prices = append(prices, types.PriceSample{
			TimeStart: item.TimeStart,
			TimeEnd:   item.TimeEnd,
			Price:     item.SEKPerKWH,
			Area:      area,
		})
	}
	log.Ctx(ctx).DebugContext(
		ctx,
		"fetched prices",
		slog.Int("count", len(prices)),
		slog.String("date", date.Format(time.DateOnly)),
		slog.String("area", area),
	)
	return prices, nil
}
