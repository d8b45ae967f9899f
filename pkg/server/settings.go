package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/raterudder/homeplug/pkg/log"
	"github.com/raterudder/homeplug/pkg/settings"
	"github.com/raterudder/homeplug/pkg/types"
)

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, s.settings.Get())
}

// settingsUpdate holds the fields a client wants to change. Missing fields
// keep their current value.
type settingsUpdate struct {
	CurrentTemperature   *float64 `json:"currentTemperature"`
	Pause                *bool    `json:"pause"`
	LowThresholdPercent  *float64 `json:"lowThresholdPercent"`
	HighThresholdPercent *float64 `json:"highThresholdPercent"`
}

func (u settingsUpdate) apply(cur types.Settings) (types.Settings, error) {
	if u.CurrentTemperature != nil {
		cur.CurrentTemperature = *u.CurrentTemperature
	}
	if u.Pause != nil {
		cur.Pause = *u.Pause
	}
	if u.LowThresholdPercent != nil {
		cur.LowThresholdPercent = *u.LowThresholdPercent
	}
	if u.HighThresholdPercent != nil {
		cur.HighThresholdPercent = *u.HighThresholdPercent
	}
	return cur, nil
}

func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req settingsUpdate
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to decode settings", slog.Any("error", err))
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	updated, err := s.settings.Update(ctx, req.apply)
	if errors.Is(err, settings.ErrInvalid) {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to save settings", slog.Any("error", err))
		writeJSONError(w, "failed to save settings", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, updated)
}
