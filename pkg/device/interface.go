package device

import (
	"context"
	"errors"

	"github.com/raterudder/homeplug/pkg/types"
)

var (
	// ErrNoBattery is returned by a BatterySensor when the host has no
	// battery. It is permanent, unlike other read errors.
	ErrNoBattery = errors.New("no battery present")

	// ErrRelayStateUnknown is returned when the relay has not reported its
	// state yet.
	ErrRelayStateUnknown = errors.New("relay state unknown")
)

// BatterySensor reads the state of the battery being charged.
type BatterySensor interface {
	// ReadBattery returns the current reading or ErrNoBattery.
	ReadBattery(ctx context.Context) (types.BatteryReading, error)
}

// Relay switches the charger's power.
type Relay interface {
	// SetRelay turns the relay on or off.
	SetRelay(ctx context.Context, on bool) error

	// GetRelayState returns what the relay reports its state to be.
	GetRelayState(ctx context.Context) (types.RelayStatus, error)
}
