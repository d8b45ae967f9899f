package server

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/raterudder/homeplug/pkg/log"
)

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, s.state.Read().State)
}

func (s *Server) handleRelay(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req struct {
		On *bool `json:"on"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to decode relay request", slog.Any("error", err))
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.On == nil {
		writeJSONError(w, "on is required", http.StatusBadRequest)
		return
	}

	state, err := s.relay.ManualToggle(ctx, *req.On)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to toggle relay", slog.Bool("on", *req.On), slog.Any("error", err))
		writeJSONError(w, "failed to toggle relay", http.StatusBadGateway)
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, state)
}
