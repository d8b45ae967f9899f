package server

import (
	"log/slog"
	"net/http"

	"github.com/raterudder/homeplug/pkg/log"
)

func (s *Server) handlePrices(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	limit, ok := parseLimit(r, s.store.Prices.Limit(), s.store.Prices.Limit())
	if !ok {
		writeJSONError(w, "limit must be a positive integer", http.StatusBadRequest)
		return
	}

	prices, err := s.store.Prices.Latest(ctx, limit)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to get prices", slog.Any("error", err))
		writeJSONError(w, "failed to get prices", http.StatusInternalServerError)
		return
	}

	// prices change at most once an hour
	w.Header().Set("Cache-Control", "private, max-age=60")
	writeJSON(w, prices)
}

func (s *Server) handleSolar(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	limit, ok := parseLimit(r, s.store.Solar.Limit(), s.store.Solar.Limit())
	if !ok {
		writeJSONError(w, "limit must be a positive integer", http.StatusBadRequest)
		return
	}

	samples, err := s.store.Solar.Latest(ctx, limit)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to get solar forecast", slog.Any("error", err))
		writeJSONError(w, "failed to get solar forecast", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Cache-Control", "private, max-age=60")
	writeJSON(w, samples)
}

// handleCurrentPrice returns the stored price for the current hour.
func (s *Server) handleCurrentPrice(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	prices, err := s.store.Prices.Latest(ctx, s.store.Prices.Limit())
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to get prices", slog.Any("error", err))
		writeJSONError(w, "failed to get prices", http.StatusInternalServerError)
		return
	}

	now := s.now()
	for _, p := range prices {
		if p.Contains(now) {
			w.Header().Set("Cache-Control", "private, max-age=60")
			writeJSON(w, p)
			return
		}
	}
	writeJSONError(w, "no price stored for the current hour", http.StatusNotFound)
}

func (s *Server) handleWeather(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if s.site == nil {
		writeJSONError(w, "weather is not configured", http.StatusServiceUnavailable)
		return
	}

	weather, err := s.site.Weather(ctx)
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to get weather", slog.Any("error", err))
		writeJSONError(w, "failed to get weather", http.StatusBadGateway)
		return
	}

	w.Header().Set("Cache-Control", "private, max-age=300")
	writeJSON(w, weather)
}
