package device

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/levenlabs/go-lflag"
	"github.com/raterudder/homeplug/pkg/log"
	"github.com/raterudder/homeplug/pkg/types"
)

// ShellyMQTT drives a Shelly Gen1 plug through an MQTT broker. The plug
// publishes its state retained on shellies/<id>/relay/0 and accepts on/off on
// shellies/<id>/relay/0/command.
type ShellyMQTT struct {
	opts     *mqtt.ClientOptions
	client   mqtt.Client
	deviceID string
	timeout  time.Duration

	mu      sync.Mutex
	known   bool
	isOn    bool
	changed chan struct{}
}

var _ Relay = (*ShellyMQTT)(nil)

func configuredShellyMQTT() *ShellyMQTT {
	broker := lflag.String("mqtt-broker", "tcp://localhost:1883", "MQTT broker URL")
	username := lflag.String("mqtt-username", "", "MQTT username")
	password := lflag.String("mqtt-password", "", "MQTT password")
	deviceID := lflag.String("shelly-mqtt-id", "", "Shelly device ID used in its MQTT topics (e.g. shellyplug-s-AABBCC)")
	timeout := lflag.Duration("mqtt-timeout", 5*time.Second, "How long to wait for the broker and the plug to respond")

	s := &ShellyMQTT{
		changed: make(chan struct{}),
	}

	lflag.Do(func() {
		opts := mqtt.NewClientOptions()
		opts.AddBroker(*broker)
		opts.SetClientID(fmt.Sprintf("homeplug_%d", rand.IntN(100000)))
		if *username != "" && *password != "" {
			opts.SetUsername(*username)
			opts.SetPassword(*password)
		}
		opts.SetAutoReconnect(true)
		opts.SetOnConnectHandler(func(c mqtt.Client) {
			// resubscribe after a reconnect
			c.Subscribe(s.stateTopic(), 1, s.handleState)
		})
		opts.SetConnectionLostHandler(func(c mqtt.Client, err error) {
			log.Ctx(context.Background()).Warn("mqtt connection lost", slog.Any("error", err))
		})
		s.opts = opts
		s.deviceID = *deviceID
		s.timeout = *timeout
	})

	return s
}

// NewShellyMQTT returns a ShellyMQTT using an already constructed client.
func NewShellyMQTT(client mqtt.Client, deviceID string, timeout time.Duration) *ShellyMQTT {
	return &ShellyMQTT{
		client:   client,
		deviceID: deviceID,
		timeout:  timeout,
		changed:  make(chan struct{}),
	}
}

// Validate ensures the configuration is valid.
func (s *ShellyMQTT) Validate() error {
	if s.deviceID == "" {
		return errors.New("shelly-mqtt-id is required")
	}
	if s.timeout <= 0 {
		return errors.New("mqtt-timeout must be positive")
	}
	return nil
}

func (s *ShellyMQTT) stateTopic() string {
	return fmt.Sprintf("shellies/%s/relay/0", s.deviceID)
}

func (s *ShellyMQTT) commandTopic() string {
	return fmt.Sprintf("shellies/%s/relay/0/command", s.deviceID)
}

func waitToken(ctx context.Context, token mqtt.Token, timeout time.Duration, what string) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return fmt.Errorf("mqtt %s failed: %w", what, err)
		}
		return nil
	case <-timer.C:
		return fmt.Errorf("mqtt %s timed out", what)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Connect connects to the broker and subscribes to the plug's state.
func (s *ShellyMQTT) Connect(ctx context.Context) error {
	if s.client == nil {
		s.client = mqtt.NewClient(s.opts)
	}
	if err := waitToken(ctx, s.client.Connect(), s.timeout, "connect"); err != nil {
		return err
	}
	if err := waitToken(ctx, s.client.Subscribe(s.stateTopic(), 1, s.handleState), s.timeout, "subscribe"); err != nil {
		return err
	}
	return nil
}

// Close disconnects from the broker.
func (s *ShellyMQTT) Close() {
	if s.client != nil {
		s.client.Disconnect(uint(s.timeout.Milliseconds()))
	}
}

func (s *ShellyMQTT) handleState(_ mqtt.Client, msg mqtt.Message) {
	var on bool
	switch payload := string(msg.Payload()); payload {
	case "on":
		on = true
	case "off", "overpower":
		on = false
	default:
		log.Ctx(context.Background()).Warn("unknown shelly relay state", slog.String("payload", payload))
		return
	}

	s.mu.Lock()
	s.known = true
	s.isOn = on
	close(s.changed)
	s.changed = make(chan struct{})
	s.mu.Unlock()
}

// SetRelay implements Relay. It publishes the command and waits for the plug
// to report the requested state.
func (s *ShellyMQTT) SetRelay(ctx context.Context, on bool) error {
	payload := "off"
	if on {
		payload = "on"
	}
	if err := waitToken(ctx, s.client.Publish(s.commandTopic(), 1, false, payload), s.timeout, "publish"); err != nil {
		return err
	}

	timer := time.NewTimer(s.timeout)
	defer timer.Stop()
	for {
		s.mu.Lock()
		if s.known && s.isOn == on {
			s.mu.Unlock()
			return nil
		}
		changed := s.changed
		s.mu.Unlock()

		select {
		case <-changed:
		case <-timer.C:
			return fmt.Errorf("relay did not report %s within %s", payload, s.timeout)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// GetRelayState implements Relay from the last state the plug published.
func (s *ShellyMQTT) GetRelayState(ctx context.Context) (types.RelayStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.known {
		return types.RelayStatus{}, ErrRelayStateUnknown
	}
	return types.RelayStatus{IsOn: s.isOn}, nil
}
