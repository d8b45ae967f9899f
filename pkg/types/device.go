package types

// BatteryReading is what the battery sensor reports on each poll.
type BatteryReading struct {
	Percent    float64 `json:"percent"`
	IsCharging bool    `json:"isCharging"`
	// SecondsRemaining is nil when the sensor cannot estimate it.
	SecondsRemaining *int `json:"secondsRemaining,omitempty"`
}

// RelayStatus is the state the relay reports for itself.
type RelayStatus struct {
	IsOn bool `json:"isOn"`
}
