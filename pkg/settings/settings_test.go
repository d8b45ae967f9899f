package settings

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"

	"github.com/raterudder/homeplug/pkg/log"
	"github.com/raterudder/homeplug/pkg/storage"
	"github.com/raterudder/homeplug/pkg/storage/storagemock"
	"github.com/raterudder/homeplug/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func init() {
	log.SetDefaultLogLevel(slog.LevelError)
}

func TestDefaults(t *testing.T) {
	d := Defaults()
	assert.Equal(t, 35.0, d.LowThresholdPercent)
	assert.Equal(t, 80.0, d.HighThresholdPercent)
	assert.Equal(t, 20.0, d.CurrentTemperature)
	assert.NoError(t, d.Validate())

	s := New(storage.NewMemory())
	assert.Equal(t, d, s.Get())
}

func TestLoad(t *testing.T) {
	ctx := context.Background()

	t.Run("MigratesAndSaves", func(t *testing.T) {
		db := &storagemock.MockDatabase{}
		db.On("GetSettings", mock.Anything).Return(types.Settings{CurrentTemperature: 22}, 1, nil)
		db.On("SetSettings", mock.Anything, types.Settings{
			CurrentTemperature:   22,
			LowThresholdPercent:  35,
			HighThresholdPercent: 80,
		}, types.CurrentSettingsVersion).Return(nil)

		s := New(db)
		require.NoError(t, s.Load(ctx))
		assert.Equal(t, 22.0, s.Get().CurrentTemperature)
		assert.Equal(t, 35.0, s.Get().LowThresholdPercent)
		db.AssertExpectations(t)
	})

	t.Run("SaveFailureStillMigrates", func(t *testing.T) {
		db := &storagemock.MockDatabase{}
		db.On("GetSettings", mock.Anything).Return(types.Settings{}, 0, nil)
		db.On("SetSettings", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("read only"))

		s := New(db)
		require.NoError(t, s.Load(ctx))
		assert.Equal(t, Defaults(), s.Get())
	})

	t.Run("CurrentVersionNotRewritten", func(t *testing.T) {
		db := &storagemock.MockDatabase{}
		stored := types.Settings{LowThresholdPercent: 20, HighThresholdPercent: 90, CurrentTemperature: 19}
		db.On("GetSettings", mock.Anything).Return(stored, types.CurrentSettingsVersion, nil)

		s := New(db)
		require.NoError(t, s.Load(ctx))
		assert.Equal(t, stored, s.Get())
		db.AssertNotCalled(t, "SetSettings", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("ErrorKeepsCurrent", func(t *testing.T) {
		db := &storagemock.MockDatabase{}
		db.On("GetSettings", mock.Anything).Return(types.Settings{}, 0, errors.New("down"))

		s := New(db)
		assert.Error(t, s.Load(ctx))
		assert.Equal(t, Defaults(), s.Get())
	})

	t.Run("InvalidStored", func(t *testing.T) {
		db := &storagemock.MockDatabase{}
		db.On("GetSettings", mock.Anything).Return(types.Settings{LowThresholdPercent: 90, HighThresholdPercent: 10}, types.CurrentSettingsVersion, nil)

		s := New(db)
		assert.ErrorContains(t, s.Load(ctx), "invalid")
		assert.Equal(t, Defaults(), s.Get())
	})
}

func TestUpdate(t *testing.T) {
	ctx := context.Background()

	t.Run("Persists", func(t *testing.T) {
		db := storage.NewMemory()
		s := New(db)

		got, err := s.Update(ctx, func(cur types.Settings) (types.Settings, error) {
			cur.CurrentTemperature = 23.5
			return cur, nil
		})
		require.NoError(t, err)
		assert.Equal(t, 23.5, got.CurrentTemperature)
		assert.Equal(t, got, s.Get())

		stored, version, err := db.GetSettings(ctx)
		require.NoError(t, err)
		assert.Equal(t, types.CurrentSettingsVersion, version)
		assert.Equal(t, got, stored)

		reloaded := New(db)
		require.NoError(t, reloaded.Load(ctx))
		assert.Equal(t, got, reloaded.Get())
	})

	t.Run("RejectsInvalid", func(t *testing.T) {
		s := New(storage.NewMemory())
		_, err := s.Update(ctx, func(cur types.Settings) (types.Settings, error) {
			cur.LowThresholdPercent = 85
			return cur, nil
		})
		assert.ErrorIs(t, err, ErrInvalid)
		assert.ErrorContains(t, err, "low threshold")
		assert.Equal(t, Defaults(), s.Get())
	})

	t.Run("FnError", func(t *testing.T) {
		s := New(storage.NewMemory())
		boom := errors.New("boom")
		_, err := s.Update(ctx, func(cur types.Settings) (types.Settings, error) {
			return cur, boom
		})
		assert.ErrorIs(t, err, boom)
	})

	t.Run("SaveFails", func(t *testing.T) {
		db := &storagemock.MockDatabase{}
		db.On("SetSettings", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("down"))
		s := New(db)
		_, err := s.Update(ctx, func(cur types.Settings) (types.Settings, error) {
			cur.Pause = true
			return cur, nil
		})
		assert.ErrorContains(t, err, "failed to save settings")
		assert.False(t, s.Get().Pause, "unsaved settings don't become current")
	})

	t.Run("ConcurrentUpdatesDontLoseWrites", func(t *testing.T) {
		s := New(storage.NewMemory())
		var wg sync.WaitGroup
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := s.Update(ctx, func(cur types.Settings) (types.Settings, error) {
					cur.CurrentTemperature++
					return cur, nil
				})
				assert.NoError(t, err)
			}()
		}
		wg.Wait()
		assert.Equal(t, 70.0, s.Get().CurrentTemperature)
	})
}
