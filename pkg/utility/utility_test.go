package utility

import (
	"log/slog"

	"github.com/raterudder/homeplug/pkg/log"
)

func init() {
	log.SetDefaultLogLevel(slog.LevelError)
}
