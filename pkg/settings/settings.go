package settings

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/raterudder/homeplug/pkg/log"
	"github.com/raterudder/homeplug/pkg/types"
)

// ErrInvalid is returned by Update when the new settings fail validation.
var ErrInvalid = errors.New("invalid settings")

// Persister loads and saves versioned settings.
type Persister interface {
	GetSettings(ctx context.Context) (types.Settings, int, error)
	SetSettings(ctx context.Context, settings types.Settings, version int) error
}

// Store holds the runtime settings. Reads are lock free; every change
// builds a new value and swaps it in.
type Store struct {
	db  Persister
	cur atomic.Pointer[types.Settings]
	// mu serializes writers so concurrent updates don't lose each other
	mu sync.Mutex
}

// Defaults returns the settings a fresh install starts with.
func Defaults() types.Settings {
	s, _, err := types.MigrateSettings(types.Settings{}, 0)
	if err != nil {
		panic(fmt.Sprintf("failed to build default settings: %v", err))
	}
	return s
}

// New returns a Store holding Defaults until Load is called.
func New(db Persister) *Store {
	s := &Store{db: db}
	d := Defaults()
	s.cur.Store(&d)
	return s
}

// Load reads the settings from the database, migrating and saving them if
// they are from an older version. On error the current settings are kept.
func (s *Store) Load(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	settings, version, err := s.db.GetSettings(ctx)
	if err != nil {
		return fmt.Errorf("failed to get settings: %w", err)
	}

	// Check for migration
	if version < types.CurrentSettingsVersion {
		log.Ctx(ctx).InfoContext(ctx, "migrating settings", slog.Int("oldVersion", version), slog.Int("newVersion", types.CurrentSettingsVersion))
		newSettings, changed, err := types.MigrateSettings(settings, version)
		if err != nil {
			// Log error but use settings as is (best effort)
			log.Ctx(ctx).ErrorContext(ctx, "failed to migrate settings", slog.Int("currentVersion", version), slog.Any("error", err))
		} else {
			settings = newSettings
			if changed {
				if err := s.db.SetSettings(ctx, newSettings, types.CurrentSettingsVersion); err != nil {
					// keep going with the migrated settings even if the save failed
					log.Ctx(ctx).ErrorContext(ctx, "failed to save migrated settings", slog.Any("error", err))
				} else {
					log.Ctx(ctx).InfoContext(ctx, "saved migrated settings", slog.Int("oldVersion", version), slog.Int("newVersion", types.CurrentSettingsVersion))
				}
			}
		}
	}

	if err := settings.Validate(); err != nil {
		return fmt.Errorf("stored settings are invalid: %w", err)
	}
	s.cur.Store(&settings)
	return nil
}

// Get returns the current settings.
func (s *Store) Get() types.Settings {
	return *s.cur.Load()
}

// Update applies fn to a copy of the current settings, validates and saves
// the result, and only then makes it current.
func (s *Store) Update(ctx context.Context, fn func(types.Settings) (types.Settings, error)) (types.Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next, err := fn(*s.cur.Load())
	if err != nil {
		return types.Settings{}, err
	}
	if err := next.Validate(); err != nil {
		return types.Settings{}, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if err := s.db.SetSettings(ctx, next, types.CurrentSettingsVersion); err != nil {
		return types.Settings{}, fmt.Errorf("failed to save settings: %w", err)
	}
	s.cur.Store(&next)
	log.Ctx(ctx).InfoContext(
		ctx,
		"updated settings",
		slog.Float64("lowThresholdPercent", next.LowThresholdPercent),
		slog.Float64("highThresholdPercent", next.HighThresholdPercent),
		slog.Float64("currentTemperature", next.CurrentTemperature),
		slog.Bool("pause", next.Pause),
	)
	return next, nil
}
