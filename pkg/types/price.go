package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// PriceSample is the spot price of electricity for one hour in a price area.
// TimeStart is the provider's ISO-8601 hour key and is unique in storage.
type PriceSample struct {
	TimeStart string          `json:"timeStart"`
	TimeEnd   string          `json:"timeEnd,omitempty"`
	Price     decimal.Decimal `json:"price"`
	Area      string          `json:"area,omitempty"`
}

// Start parses TimeStart.
func (p PriceSample) Start() (time.Time, error) {
	return time.Parse(time.RFC3339, p.TimeStart)
}

// RecordTime implements storage.Record. An unparseable key sorts as the
// oldest possible record so it is the first to be evicted.
func (p PriceSample) RecordTime() time.Time {
	t, err := p.Start()
	if err != nil {
		return time.Time{}
	}
	return t
}

// RecordKey implements storage.Record.
func (p PriceSample) RecordKey() string {
	return p.TimeStart
}

// Contains reports whether t falls within the hour this price covers. When
// TimeEnd is missing the price is assumed to cover one hour.
func (p PriceSample) Contains(t time.Time) bool {
	start, err := p.Start()
	if err != nil {
		return false
	}
	end := start.Add(time.Hour)
	if p.TimeEnd != "" {
		if e, err := time.Parse(time.RFC3339, p.TimeEnd); err == nil {
			end = e
		}
	}
	return !t.Before(start) && t.Before(end)
}
