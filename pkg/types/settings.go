package types

import (
	"fmt"
)

// CurrentSettingsVersion is the current version of the settings struct.
// Increment this value when adding new fields that require default values.
const CurrentSettingsVersion = 2

// Settings represents the configuration stored in the database.
// These are dynamic settings that can be changed without restarting.
type Settings struct {
	// CurrentTemperature is the indoor temperature set point shown to readers.
	CurrentTemperature float64 `json:"currentTemperature"`

	// Pause stops automatic relay control. Manual toggles still work.
	Pause bool `json:"pause"`

	// Charge when the battery drops below LowThresholdPercent and stop once it
	// climbs above HighThresholdPercent.
	LowThresholdPercent  float64 `json:"lowThresholdPercent"`
	HighThresholdPercent float64 `json:"highThresholdPercent"`
}

// Validate checks the settings are usable by the controller.
func (s Settings) Validate() error {
	if s.LowThresholdPercent < 0 || s.HighThresholdPercent > 100 {
		return fmt.Errorf("thresholds must be within 0-100")
	}
	if s.LowThresholdPercent >= s.HighThresholdPercent {
		return fmt.Errorf("low threshold (%.1f) must be below high threshold (%.1f)", s.LowThresholdPercent, s.HighThresholdPercent)
	}
	return nil
}

// MigrateSettings migrates the settings to the current version.
// It returns the migrated settings, a boolean indicating if changes were made, and an error if migration failed.
func MigrateSettings(s Settings, currentVersion int) (Settings, bool, error) {
	if currentVersion >= CurrentSettingsVersion {
		return s, false, nil
	}

	migrated := false
	for version := currentVersion + 1; version <= CurrentSettingsVersion; version++ {
		switch version {
		case 1:
			// version 1: initial
			if s.CurrentTemperature == 0 {
				s.CurrentTemperature = 20
				migrated = true
			}
		case 2:
			// version 2: thresholds moved from flags into settings
			if s.LowThresholdPercent == 0 {
				s.LowThresholdPercent = 35
				migrated = true
			}
			if s.HighThresholdPercent == 0 {
				s.HighThresholdPercent = 80
				migrated = true
			}
		default:
			return s, false, fmt.Errorf("unknown settings version: %d", version)
		}
	}

	return s, migrated, nil
}
