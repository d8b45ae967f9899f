package types

import "time"

// SolarSample is one hour of forecast irradiance and the power we expect the
// panels to produce from it.
type SolarSample struct {
	TimeUTC   string `json:"timeUTC"`
	TimeLocal string `json:"timeLocal"`

	// Irradiance is global horizontal irradiance in W/m².
	Irradiance float64 `json:"irradiance"`
	// Temperature is the ambient air temperature in °C.
	Temperature float64 `json:"temperature"`
	// PredictedPower is in W.
	PredictedPower float64 `json:"predictedPower"`
}

// RecordTime implements storage.Record.
func (s SolarSample) RecordTime() time.Time {
	t, err := time.Parse(time.RFC3339, s.TimeUTC)
	if err != nil {
		return time.Time{}
	}
	return t
}

// RecordKey implements storage.Record.
func (s SolarSample) RecordKey() string {
	return s.TimeUTC
}
