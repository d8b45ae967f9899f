package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrateSettings(t *testing.T) {
	t.Run("v1: initial defaults", func(t *testing.T) {
		s, changed, err := MigrateSettings(Settings{}, 0)
		require.NoError(t, err)
		assert.True(t, changed)
		assert.Equal(t, 20.0, s.CurrentTemperature)
		assert.Equal(t, 35.0, s.LowThresholdPercent)
		assert.Equal(t, 80.0, s.HighThresholdPercent)
	})

	t.Run("v1 to v2: keeps temperature", func(t *testing.T) {
		s, changed, err := MigrateSettings(Settings{CurrentTemperature: 22.5}, 1)
		require.NoError(t, err)
		assert.True(t, changed)
		assert.Equal(t, 22.5, s.CurrentTemperature)
		assert.Equal(t, 35.0, s.LowThresholdPercent)
	})

	t.Run("v1 to v2: keeps custom thresholds", func(t *testing.T) {
		s, changed, err := MigrateSettings(Settings{LowThresholdPercent: 20, HighThresholdPercent: 90}, 1)
		require.NoError(t, err)
		assert.False(t, changed)
		assert.Equal(t, 20.0, s.LowThresholdPercent)
		assert.Equal(t, 90.0, s.HighThresholdPercent)
	})

	t.Run("current version is a no-op", func(t *testing.T) {
		in := Settings{CurrentTemperature: 18}
		s, changed, err := MigrateSettings(in, CurrentSettingsVersion)
		require.NoError(t, err)
		assert.False(t, changed)
		assert.Equal(t, in, s)
	})
}

func TestSettingsValidate(t *testing.T) {
	assert.NoError(t, Settings{LowThresholdPercent: 35, HighThresholdPercent: 80}.Validate())
	assert.Error(t, Settings{LowThresholdPercent: 80, HighThresholdPercent: 80}.Validate())
	assert.Error(t, Settings{LowThresholdPercent: -1, HighThresholdPercent: 80}.Validate())
	assert.Error(t, Settings{LowThresholdPercent: 10, HighThresholdPercent: 101}.Validate())
}
