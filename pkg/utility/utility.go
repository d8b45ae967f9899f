package utility

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/levenlabs/go-lflag"
	"github.com/raterudder/homeplug/pkg/types"
)

// ErrNotPublished is returned by a Provider when the requested day's prices
// have not been published yet.
var ErrNotPublished = errors.New("prices not published yet")

// DefaultTomorrowCutoffHour is the local hour at and after which tomorrow's
// day-ahead prices are expected to be available.
const DefaultTomorrowCutoffHour = 13

// Provider defines the interface for fetching day-ahead energy prices.
type Provider interface {
	// FetchDayPrices returns the hourly prices for the calendar day containing
	// date in the provider's location, ordered chronologically.
	FetchDayPrices(ctx context.Context, date time.Time, area string) ([]types.PriceSample, error)

	// Location is the time zone the provider's days are defined in.
	Location() *time.Location
}

// Configured sets up the price provider and the window built on it.
func Configured() *Window {
	area := lflag.String("price-area", "SE3", "Price area to fetch day-ahead prices for (SE1-SE4)")
	cutoff := lflag.Int("price-tomorrow-cutoff-hour", DefaultTomorrowCutoffHour, "Local hour after which tomorrow's prices are fetched")
	el := configuredElpris()

	w := &Window{
		now: time.Now,
	}

	lflag.Do(func() {
		if err := el.Validate(); err != nil {
			panic(fmt.Sprintf("price provider validation failed: %v", err))
		}
		if *cutoff < 0 || *cutoff > 23 {
			panic(fmt.Sprintf("price-tomorrow-cutoff-hour must be between 0 and 23: %d", *cutoff))
		}
		w.provider = el
		w.area = *area
		w.cutoffHour = *cutoff
	})

	return w
}
