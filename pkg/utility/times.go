package utility

import (
	"fmt"
	"time"
)

var (
	// elprisetjustnu.se publishes Swedish days
	seLocation = func() *time.Location {
		loc, err := time.LoadLocation("Europe/Stockholm")
		if err != nil {
			panic(fmt.Errorf("failed to load stockholm time location: %w", err))
		}
		return loc
	}()
)
