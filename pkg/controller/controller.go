package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/levenlabs/go-lflag"

	"github.com/raterudder/homeplug/pkg/common"
	"github.com/raterudder/homeplug/pkg/device"
	"github.com/raterudder/homeplug/pkg/log"
	"github.com/raterudder/homeplug/pkg/types"
)

const (
	MinCheckInterval     = 30 * time.Second
	MaxCheckInterval     = 180 * time.Second
	DefaultCheckInterval = 60 * time.Second

	// DefaultCycleEnergyWh is credited each time a charge completes.
	DefaultCycleEnergyWh = 25.0
)

// Publisher receives a copy of the state after every change.
type Publisher interface {
	PublishState(state types.ControllerState)
}

// SettingsGetter returns the current runtime settings.
type SettingsGetter interface {
	Get() types.Settings
}

// Controller drives the charger relay from battery readings with a
// hysteresis between the low and high thresholds and keeps count of the
// energy delivered by completed charges.
type Controller struct {
	battery  device.BatterySensor
	relay    device.Relay
	bus      Publisher
	settings SettingsGetter

	cycleEnergyWh float64
	interval      time.Duration
	now           func() time.Time
	newID         func() string

	// mu guards state. Reading the battery, commanding the relay and
	// crediting energy all happen while holding it.
	mu    sync.Mutex
	state types.ControllerState
}

// New returns a Controller with the plug assumed OFF until Reconcile or the
// first command says otherwise.
func New(battery device.BatterySensor, relay device.Relay, bus Publisher, settings SettingsGetter, cycleEnergyWh float64, interval time.Duration) *Controller {
	c := &Controller{}
	c.init(battery, relay, bus, settings, cycleEnergyWh, interval)
	return c
}

func (c *Controller) init(battery device.BatterySensor, relay device.Relay, bus Publisher, settings SettingsGetter, cycleEnergyWh float64, interval time.Duration) {
	c.battery = battery
	c.relay = relay
	c.bus = bus
	c.settings = settings
	c.cycleEnergyWh = cycleEnergyWh
	c.interval = interval
	c.now = time.Now
	c.newID = uuid.NewString
	c.state = types.ControllerState{
		PlugState: types.PlugStateOff,
		Available: true,
	}
}

// Configured returns a Controller using the configured devices. The devices,
// bus and settings must be configured before this is called.
func Configured(devices *device.Devices, bus Publisher, settings SettingsGetter) *Controller {
	interval := lflag.Duration("charge-check-interval", DefaultCheckInterval, "How often to read the battery and evaluate the charge thresholds (30s-180s)")
	cycleEnergy := DefaultCycleEnergyWh
	lflag.JSON(&cycleEnergy, "charge-cycle-energy-wh", cycleEnergy, "Energy in Wh credited for each completed charge")

	c := &Controller{}

	lflag.Do(func() {
		if *interval < MinCheckInterval || *interval > MaxCheckInterval {
			panic(fmt.Sprintf("charge-check-interval must be between %s and %s, got %s", MinCheckInterval, MaxCheckInterval, *interval))
		}
		if cycleEnergy < 0 {
			panic("charge-cycle-energy-wh must not be negative")
		}
		c.init(devices.Battery, devices.Relay, bus, settings, cycleEnergy, *interval)
	})

	return c
}

// Interval returns how often Run ticks.
func (c *Controller) Interval() time.Duration {
	return c.interval
}

// Snapshot returns a copy of the current state.
func (c *Controller) Snapshot() types.ControllerState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Clone()
}

// Run ticks immediately and then every interval until ctx is done.
func (c *Controller) Run(ctx context.Context) error {
	ctx = log.WithLoop(ctx, "charge-control")
	log.Ctx(ctx).InfoContext(ctx, "starting charge controller", slog.Duration("interval", c.interval))
	return common.RunEvery(ctx, c.interval, func(ctx context.Context) {
		if err := c.Tick(ctx); err != nil {
			log.Ctx(ctx).WarnContext(ctx, "charge control tick failed", slog.Any("error", err))
		}
	})
}

// Tick reads the battery once and applies the charge rules. A failed battery
// read or relay command leaves the state as it was so the next tick retries.
func (c *Controller) Tick(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	defer c.publish()

	reading, err := c.battery.ReadBattery(ctx)
	if errors.Is(err, device.ErrNoBattery) {
		if c.state.Available {
			log.Ctx(ctx).InfoContext(ctx, "no battery present, charge control disabled")
		}
		c.state.Available = false
		c.state.LastReading = nil
		c.state.LastError = err.Error()
		c.state.UpdatedAt = c.now()
		return nil
	}
	if err != nil {
		c.state.LastError = err.Error()
		c.state.UpdatedAt = c.now()
		return fmt.Errorf("failed to read battery: %w", err)
	}

	c.state.Available = true
	c.state.LastReading = &reading
	c.state.LastError = ""
	c.state.UpdatedAt = c.now()

	settings := c.settings.Get()
	low, high := settings.LowThresholdPercent, settings.HighThresholdPercent
	percent := reading.Percent

	log.Ctx(ctx).DebugContext(
		ctx,
		"evaluating battery",
		slog.Float64("percent", percent),
		slog.Bool("isCharging", reading.IsCharging),
		slog.String("plugState", string(c.state.PlugState)),
		slog.Bool("pause", settings.Pause),
	)

	switch {
	case settings.Pause:
		// no automatic commands while paused
	case percent < low && !reading.IsCharging && c.state.PlugState != types.PlugStateOn:
		if err := c.relay.SetRelay(ctx, true); err != nil {
			c.state.LastError = err.Error()
			return fmt.Errorf("failed to turn relay on: %w", err)
		}
		c.state.PlugState = types.PlugStateOn
		c.openSession(true)
		c.state.LastSeenPercent = &percent
		log.Ctx(ctx).InfoContext(ctx, "battery below low threshold, started charging", slog.Float64("percent", percent), slog.Float64("low", low))
		return nil
	case percent > high && reading.IsCharging && c.crossed(high):
		if err := c.relay.SetRelay(ctx, false); err != nil {
			c.state.LastError = err.Error()
			return fmt.Errorf("failed to turn relay off: %w", err)
		}
		c.state.PlugState = types.PlugStateOff
		c.completeCycle(ctx, percent)
		return nil
	}

	c.observe(ctx, reading, high)
	return nil
}

// ManualToggle commands the relay directly and then aligns the plug state
// with what the relay reports. Turning the relay off only credits energy if
// the battery just crossed the high threshold and that crossing has not been
// credited yet.
func (c *Controller) ManualToggle(ctx context.Context, on bool) (types.ControllerState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	defer c.publish()

	if err := c.relay.SetRelay(ctx, on); err != nil {
		c.state.LastError = err.Error()
		return c.state.Clone(), fmt.Errorf("failed to set relay: %w", err)
	}

	isOn := on
	if status, err := c.relay.GetRelayState(ctx); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to read relay state after manual toggle, assuming commanded state", slog.Any("error", err))
	} else {
		isOn = status.IsOn
	}
	c.setPlug(isOn)
	c.state.UpdatedAt = c.now()
	log.Ctx(ctx).InfoContext(ctx, "manual relay toggle", slog.Bool("on", on), slog.Bool("isOn", isOn))

	if isOn {
		return c.state.Clone(), nil
	}

	reading, err := c.battery.ReadBattery(ctx)
	if err != nil {
		log.Ctx(ctx).DebugContext(ctx, "skipping energy check after manual toggle", slog.Any("error", err))
		return c.state.Clone(), nil
	}
	c.state.LastReading = &reading

	high := c.settings.Get().HighThresholdPercent
	if reading.IsCharging && reading.Percent >= high && c.crossed(high) {
		c.completeCycle(ctx, reading.Percent)
	}
	return c.state.Clone(), nil
}

// Reconcile reads the relay and sets the plug state to match it.
func (c *Controller) Reconcile(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	status, err := c.relay.GetRelayState(ctx)
	if err != nil {
		return fmt.Errorf("failed to get relay state: %w", err)
	}
	if c.setPlug(status.IsOn) {
		log.Ctx(ctx).InfoContext(ctx, "reconciled plug state with relay", slog.Bool("isOn", status.IsOn))
	}
	c.state.UpdatedAt = c.now()
	c.publish()
	return nil
}

// observe applies the rules that don't touch the relay.
func (c *Controller) observe(ctx context.Context, reading types.BatteryReading, high float64) {
	if !reading.IsCharging {
		if c.state.Session != nil {
			log.Ctx(ctx).InfoContext(ctx, "charging stopped before completion", slog.String("sessionID", c.state.Session.ID), slog.Float64("percent", reading.Percent))
			c.state.Session = nil
		}
		return
	}
	if c.state.Session == nil {
		c.openSession(false)
		log.Ctx(ctx).InfoContext(ctx, "observed charging started externally", slog.String("sessionID", c.state.Session.ID), slog.Float64("percent", reading.Percent))
	}
	// track the last reading below high so the first reading above it is
	// seen as the crossing
	if reading.Percent < high {
		p := reading.Percent
		c.state.LastSeenPercent = &p
	}
}

// crossed reports whether the last reading seen while charging was below
// high. Must be called with mu held.
func (c *Controller) crossed(high float64) bool {
	return c.state.LastSeenPercent != nil && *c.state.LastSeenPercent < high
}

// completeCycle credits one cycle and consumes the crossing. Must be called
// with mu held.
func (c *Controller) completeCycle(ctx context.Context, percent float64) {
	c.state.AccumulatedEnergyWh += c.cycleEnergyWh
	c.state.CompletedCycles++
	var sessionID string
	if c.state.Session != nil {
		sessionID = c.state.Session.ID
	}
	c.state.Session = nil
	c.state.LastSeenPercent = nil
	log.Ctx(ctx).InfoContext(
		ctx,
		"charge completed",
		slog.String("sessionID", sessionID),
		slog.Float64("percent", percent),
		slog.Float64("accumulatedEnergyWh", c.state.AccumulatedEnergyWh),
		slog.Int("completedCycles", c.state.CompletedCycles),
	)
}

func (c *Controller) openSession(commanded bool) {
	c.state.Session = &types.ChargingSession{
		ID:        c.newID(),
		StartTime: c.now(),
		Commanded: commanded,
	}
}

// setPlug returns true if the plug state changed.
func (c *Controller) setPlug(on bool) bool {
	next := types.PlugStateOff
	if on {
		next = types.PlugStateOn
	}
	changed := c.state.PlugState != next
	c.state.PlugState = next
	return changed
}

func (c *Controller) publish() {
	if c.bus != nil {
		c.bus.PublishState(c.state.Clone())
	}
}
