package utility

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/raterudder/homeplug/pkg/log"
	"github.com/raterudder/homeplug/pkg/types"
)

// WindowSize is the number of hourly prices in a full rolling window.
const WindowSize = 24

// MergeWindow builds the rolling price window starting at the current hour.
// It takes every entry of today whose local hour is at or after now's hour, in
// input order, then fills from tomorrow in order until WindowSize entries are
// collected or tomorrow is exhausted. Hours are compared in now's location.
// Entries with an unparseable start time are skipped.
func MergeWindow(today, tomorrow []types.PriceSample, now time.Time) []types.PriceSample {
	currentHour := now.Hour()
	window := make([]types.PriceSample, 0, WindowSize)
	for _, p := range today {
		if len(window) == WindowSize {
			return window
		}
		start, err := p.Start()
		if err != nil {
			continue
		}
		if start.In(now.Location()).Hour() >= currentHour {
			window = append(window, p)
		}
	}
	for _, p := range tomorrow {
		if len(window) == WindowSize {
			break
		}
		if _, err := p.Start(); err != nil {
			continue
		}
		window = append(window, p)
	}
	return window
}

// Window fetches today's and, once published, tomorrow's prices and merges
// them into a rolling window.
type Window struct {
	provider   Provider
	area       string
	cutoffHour int
	now        func() time.Time
}

// NewWindow returns a Window over provider for area.
func NewWindow(provider Provider, area string, cutoffHour int) *Window {
	return &Window{
		provider:   provider,
		area:       area,
		cutoffHour: cutoffHour,
		now:        time.Now,
	}
}

// Area returns the configured price area.
func (w *Window) Area() string {
	return w.area
}

// Fetch returns the merged window for the current hour. A failure to fetch
// today's prices is returned. Tomorrow is only requested at or after the
// cutoff hour, and a failure there is logged and the window is built from
// today's tail alone.
func (w *Window) Fetch(ctx context.Context) ([]types.PriceSample, error) {
	now := w.now().In(w.provider.Location())

	today, err := w.provider.FetchDayPrices(ctx, now, w.area)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch today's prices: %w", err)
	}

	var tomorrow []types.PriceSample
	if now.Hour() >= w.cutoffHour {
		next := time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, now.Location())
		tomorrow, err = w.provider.FetchDayPrices(ctx, next, w.area)
		if err != nil {
			level := slog.LevelWarn
			if errors.Is(err, ErrNotPublished) {
				level = slog.LevelInfo
			}
			log.Ctx(ctx).Log(ctx, level, "failed to fetch tomorrow's prices", slog.Any("error", err))
			tomorrow = nil
		}
	}

	window := MergeWindow(today, tomorrow, now)
	log.Ctx(ctx).DebugContext(
		ctx,
		"merged price window",
		slog.Int("today", len(today)),
		slog.Int("tomorrow", len(tomorrow)),
		slog.Int("window", len(window)),
	)
	return window, nil
}
