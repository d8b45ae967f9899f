package types

import "time"

// Weather is the current conditions at the site.
type Weather struct {
	Time time.Time `json:"time"`
	// Temperature is in °C.
	Temperature float64 `json:"temperature"`
	// WindSpeed is in m/s.
	WindSpeed float64 `json:"windSpeed"`
}
