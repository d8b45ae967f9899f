package server

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/raterudder/homeplug/pkg/log"
	"github.com/raterudder/homeplug/pkg/types"
)

const defaultRecentMetrics = 100

// parseLimit reads the limit query parameter, capped at max.
func parseLimit(r *http.Request, def, max int) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return min(def, max), true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, false
	}
	return min(n, max), true
}

func (s *Server) handleLatestMetrics(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	// the bus has the newest sample even if storing it failed
	if snap := s.state.Read(); snap.Metrics != nil {
		w.Header().Set("Cache-Control", "no-store")
		writeJSON(w, snap.Metrics)
		return
	}

	m, ok, err := s.store.Metrics.Last(ctx)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to get latest metrics", slog.Any("error", err))
		writeJSONError(w, "failed to get latest metrics", http.StatusInternalServerError)
		return
	}
	if !ok {
		writeJSONError(w, "no metrics sampled yet", http.StatusNotFound)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, m)
}

func (s *Server) handleRecentMetrics(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	limit, ok := parseLimit(r, defaultRecentMetrics, s.store.Metrics.Limit())
	if !ok {
		writeJSONError(w, "limit must be a positive integer", http.StatusBadRequest)
		return
	}

	samples, err := s.store.Metrics.Latest(ctx, limit)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to get recent metrics", slog.Int("limit", limit), slog.Any("error", err))
		writeJSONError(w, "failed to get recent metrics", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, types.NewMetricsSeries(samples))
}
