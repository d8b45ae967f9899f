package device

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/levenlabs/go-lflag"
	"github.com/raterudder/homeplug/pkg/types"
)

// Mock simulates a laptop battery plugged into a relay. While the relay is on
// the battery charges, otherwise it drains.
type Mock struct {
	mu sync.Mutex

	chargePerHour    float64
	dischargePerHour float64
	now              func() time.Time

	percent float64
	on      bool
	last    time.Time
}

var (
	_ BatterySensor = (*Mock)(nil)
	_ Relay         = (*Mock)(nil)
)

func configuredMock() *Mock {
	start := 50.0
	lflag.JSON(&start, "mock-battery-start-percent", start, "Initial charge of the simulated battery")
	charge := 60.0
	lflag.JSON(&charge, "mock-battery-charge-rate", charge, "Percent per hour the simulated battery gains while the relay is on")
	discharge := 20.0
	lflag.JSON(&discharge, "mock-battery-discharge-rate", discharge, "Percent per hour the simulated battery loses while the relay is off")

	m := &Mock{now: time.Now}

	lflag.Do(func() {
		if start < 0 || start > 100 {
			panic(fmt.Sprintf("mock-battery-start-percent must be between 0 and 100: %v", start))
		}
		m.percent = start
		m.chargePerHour = charge
		m.dischargePerHour = discharge
	})

	return m
}

// NewMock returns a Mock starting at percent with the relay off.
func NewMock(percent, chargePerHour, dischargePerHour float64, now func() time.Time) *Mock {
	return &Mock{
		percent:          percent,
		chargePerHour:    chargePerHour,
		dischargePerHour: dischargePerHour,
		now:              now,
	}
}

// advance must be called with mu held.
func (m *Mock) advance() {
	now := m.now()
	if m.last.IsZero() {
		m.last = now
		return
	}
	hours := now.Sub(m.last).Hours()
	m.last = now
	if hours <= 0 {
		return
	}
	if m.on {
		m.percent = math.Min(100, m.percent+m.chargePerHour*hours)
	} else {
		m.percent = math.Max(0, m.percent-m.dischargePerHour*hours)
	}
}

// ReadBattery implements BatterySensor.
func (m *Mock) ReadBattery(ctx context.Context) (types.BatteryReading, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.advance()

	r := types.BatteryReading{
		Percent:    math.Round(m.percent*10) / 10,
		IsCharging: m.on && m.percent < 100,
	}
	var secs int
	switch {
	case r.IsCharging && m.chargePerHour > 0:
		secs = int((100 - m.percent) / m.chargePerHour * 3600)
		r.SecondsRemaining = &secs
	case !m.on && m.dischargePerHour > 0:
		secs = int(m.percent / m.dischargePerHour * 3600)
		r.SecondsRemaining = &secs
	}
	return r, nil
}

// SetRelay implements Relay.
func (m *Mock) SetRelay(ctx context.Context, on bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.advance()
	m.on = on
	return nil
}

// GetRelayState implements Relay.
func (m *Mock) GetRelayState(ctx context.Context) (types.RelayStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return types.RelayStatus{IsOn: m.on}, nil
}
