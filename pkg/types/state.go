package types

import "time"

// PlugState is the controller's belief about the relay.
type PlugState string

const (
	PlugStateOff PlugState = "OFF"
	PlugStateOn  PlugState = "ON"
)

// ChargingSession is the open interval between an observed charging start and
// charging stop.
type ChargingSession struct {
	ID        string    `json:"id"`
	StartTime time.Time `json:"startTime"`
	// Commanded is true when the controller switched the relay on to start
	// this session rather than observing charging that started elsewhere.
	Commanded bool `json:"commanded"`
}

// ControllerState is the charge controller's full mutable state. Only the
// controller mutates it; everyone else receives copies.
type ControllerState struct {
	PlugState           PlugState        `json:"plugState"`
	Session             *ChargingSession `json:"session,omitempty"`
	LastSeenPercent     *float64         `json:"lastSeenPercent,omitempty"`
	AccumulatedEnergyWh float64          `json:"accumulatedEnergyWh"`
	CompletedCycles     int              `json:"completedCycles"`

	// Available is false when there is no battery to control.
	Available   bool            `json:"available"`
	LastReading *BatteryReading `json:"lastReading,omitempty"`
	LastError   string          `json:"lastError,omitempty"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

// Clone returns a deep copy so callers can't alias the controller's pointers.
func (s ControllerState) Clone() ControllerState {
	c := s
	if s.Session != nil {
		sess := *s.Session
		c.Session = &sess
	}
	if s.LastSeenPercent != nil {
		p := *s.LastSeenPercent
		c.LastSeenPercent = &p
	}
	if s.LastReading != nil {
		r := *s.LastReading
		if r.SecondsRemaining != nil {
			secs := *r.SecondsRemaining
			r.SecondsRemaining = &secs
		}
		c.LastReading = &r
	}
	return c
}
