package device

import (
	"context"
	"fmt"
	"time"

	"github.com/levenlabs/go-lflag"
)

// Devices holds the configured sensor and relay.
type Devices struct {
	Battery BatterySensor
	Relay   Relay

	closers []func()
}

// Close releases any connections held by the devices.
func (d *Devices) Close() {
	for _, c := range d.closers {
		c()
	}
}

// Configured sets up the battery sensor and relay based on flags. The mock
// battery and mock relay share one simulated device so that turning the
// relay on charges the battery.
func Configured() *Devices {
	batteryProvider := lflag.String("battery-provider", "sysfs", "Battery sensor to use (available: sysfs, mock)")
	relayProvider := lflag.String("relay-provider", "shelly-http", "Relay to use (available: shelly-http, shelly-mqtt, mock)")

	sysfs := configuredSysfs()
	shelly := configuredShellyHTTP()
	shellyMQTT := configuredShellyMQTT()
	mock := configuredMock()

	d := &Devices{}

	lflag.Do(func() {
		switch *batteryProvider {
		case "sysfs":
			d.Battery = sysfs
		case "mock":
			d.Battery = mock
		default:
			panic(fmt.Sprintf("unknown battery provider: %s", *batteryProvider))
		}

		switch *relayProvider {
		case "shelly-http":
			if err := shelly.Validate(); err != nil {
				panic(fmt.Sprintf("shelly validation failed: %v", err))
			}
			d.Relay = shelly
		case "shelly-mqtt":
			if err := shellyMQTT.Validate(); err != nil {
				panic(fmt.Sprintf("shelly mqtt validation failed: %v", err))
			}
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := shellyMQTT.Connect(ctx); err != nil {
				panic(fmt.Sprintf("shelly mqtt connect failed: %v", err))
			}
			d.Relay = shellyMQTT
			d.closers = append(d.closers, shellyMQTT.Close)
		case "mock":
			d.Relay = mock
		default:
			panic(fmt.Sprintf("unknown relay provider: %s", *relayProvider))
		}
	})

	return d
}
