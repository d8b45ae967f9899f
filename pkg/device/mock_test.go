package device

import (
	"context"
	"testing"
	"time"

	"github.com/levenlabs/go-lflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMock(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	m := NewMock(50, 60, 20, func() time.Time { return now })

	r, err := m.ReadBattery(ctx)
	require.NoError(t, err)
	assert.Equal(t, 50.0, r.Percent)
	assert.False(t, r.IsCharging)
	require.NotNil(t, r.SecondsRemaining)
	assert.Equal(t, int(2.5*3600), *r.SecondsRemaining)

	// drains while off
	now = now.Add(30 * time.Minute)
	r, err = m.ReadBattery(ctx)
	require.NoError(t, err)
	assert.Equal(t, 40.0, r.Percent)

	require.NoError(t, m.SetRelay(ctx, true))
	status, err := m.GetRelayState(ctx)
	require.NoError(t, err)
	assert.True(t, status.IsOn)

	// charges while on
	now = now.Add(30 * time.Minute)
	r, err = m.ReadBattery(ctx)
	require.NoError(t, err)
	assert.Equal(t, 70.0, r.Percent)
	assert.True(t, r.IsCharging)

	// stops charging when full
	now = now.Add(2 * time.Hour)
	r, err = m.ReadBattery(ctx)
	require.NoError(t, err)
	assert.Equal(t, 100.0, r.Percent)
	assert.False(t, r.IsCharging)

	require.NoError(t, m.SetRelay(ctx, false))
	now = now.Add(10 * time.Hour)
	r, err = m.ReadBattery(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0.0, r.Percent)
}

func TestConfiguredMock(t *testing.T) {
	lflag.Reset()
	t.Cleanup(lflag.Reset)

	m := configuredMock()
	lflag.Parse(lflag.SourceStub{
		"mock-battery-start-percent":  "72.5",
		"mock-battery-charge-rate":    "30",
		"mock-battery-discharge-rate": "0.5",
	})
	assert.Equal(t, 72.5, m.percent)
	assert.Equal(t, 30.0, m.chargePerHour)
	assert.Equal(t, 0.5, m.dischargePerHour)

	t.Run("OutOfRange", func(t *testing.T) {
		lflag.Reset()
		configuredMock()
		assert.Panics(t, func() {
			lflag.Parse(lflag.SourceStub{"mock-battery-start-percent": "101"})
		})
	})
}
