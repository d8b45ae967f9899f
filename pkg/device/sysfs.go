package device

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/levenlabs/go-lflag"
	"github.com/raterudder/homeplug/pkg/types"
)

// Sysfs reads the first battery exposed under the Linux power_supply class.
type Sysfs struct {
	root string
}

var _ BatterySensor = (*Sysfs)(nil)

func configuredSysfs() *Sysfs {
	root := lflag.String("sysfs-power-supply-path", "/sys/class/power_supply", "Directory containing the power_supply devices")

	s := &Sysfs{}

	lflag.Do(func() {
		s.root = *root
	})

	return s
}

// NewSysfs returns a Sysfs reading from root.
func NewSysfs(root string) *Sysfs {
	return &Sysfs{root: root}
}

func readTrimmed(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}

func readInt(path string) (int64, bool) {
	s, err := readTrimmed(path)
	if err != nil {
		return 0, false
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// ReadBattery implements BatterySensor.
func (s *Sysfs) ReadBattery(ctx context.Context) (types.BatteryReading, error) {
	matches, err := filepath.Glob(filepath.Join(s.root, "BAT*"))
	if err != nil {
		return types.BatteryReading{}, fmt.Errorf("failed to list batteries: %w", err)
	}
	if len(matches) == 0 {
		return types.BatteryReading{}, ErrNoBattery
	}
	sort.Strings(matches)
	dir := matches[0]

	capacity, err := readTrimmed(filepath.Join(dir, "capacity"))
	if errors.Is(err, fs.ErrNotExist) {
		return types.BatteryReading{}, ErrNoBattery
	} else if err != nil {
		return types.BatteryReading{}, fmt.Errorf("failed to read battery capacity: %w", err)
	}
	percent, err := strconv.ParseFloat(capacity, 64)
	if err != nil {
		return types.BatteryReading{}, fmt.Errorf("failed to parse battery capacity %q: %w", capacity, err)
	}
	if percent < 0 || percent > 100 {
		return types.BatteryReading{}, fmt.Errorf("battery capacity out of range: %v", percent)
	}

	status, err := readTrimmed(filepath.Join(dir, "status"))
	if err != nil {
		return types.BatteryReading{}, fmt.Errorf("failed to read battery status: %w", err)
	}

	reading := types.BatteryReading{
		Percent:    percent,
		IsCharging: status == "Charging",
	}
	if secs, ok := secondsRemaining(dir, reading.IsCharging); ok {
		reading.SecondsRemaining = &secs
	}
	return reading, nil
}

// secondsRemaining estimates time to empty, or to full while charging, from
// the energy or charge counters. Not every driver exposes them.
func secondsRemaining(dir string, charging bool) (int, bool) {
	now, okNow := readInt(filepath.Join(dir, "energy_now"))
	full, okFull := readInt(filepath.Join(dir, "energy_full"))
	rate, okRate := readInt(filepath.Join(dir, "power_now"))
	if !okNow || !okFull || !okRate {
		now, okNow = readInt(filepath.Join(dir, "charge_now"))
		full, okFull = readInt(filepath.Join(dir, "charge_full"))
		rate, okRate = readInt(filepath.Join(dir, "current_now"))
	}
	if !okNow || !okFull || !okRate || rate <= 0 {
		return 0, false
	}
	remaining := now
	if charging {
		remaining = full - now
	}
	if remaining < 0 {
		return 0, false
	}
	return int(remaining * 3600 / rate), true
}
