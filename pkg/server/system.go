package server

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/raterudder/homeplug/pkg/log"
)

func (s *Server) location() *time.Location {
	if s.site != nil {
		if loc := s.site.Location(); loc != nil {
			return loc
		}
	}
	return time.Local
}

func (s *Server) handleTime(w http.ResponseWriter, r *http.Request) {
	now := s.now().In(s.location())
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, struct {
		Time     string    `json:"time"`
		Timezone string    `json:"timezone"`
		RFC3339  time.Time `json:"rfc3339"`
	}{
		Time:     now.Format(time.DateTime),
		Timezone: now.Location().String(),
		RFC3339:  now,
	})
}

// formatUptime renders d as "2 days, 3 hours, 4 minutes, 5 seconds", leaving
// out leading zero units.
func formatUptime(d time.Duration) string {
	secs := int64(d / time.Second)
	days := secs / 86400
	hours := secs % 86400 / 3600
	minutes := secs % 3600 / 60
	secs %= 60

	var parts []string
	if days > 0 {
		parts = append(parts, fmt.Sprintf("%d days", days))
	}
	if hours > 0 {
		parts = append(parts, fmt.Sprintf("%d hours", hours))
	}
	if minutes > 0 {
		parts = append(parts, fmt.Sprintf("%d minutes", minutes))
	}
	parts = append(parts, fmt.Sprintf("%d seconds", secs))
	return strings.Join(parts, ", ")
}

func (s *Server) handleUptime(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	uptime := s.now().Sub(s.startedAt)

	resp := struct {
		UptimeSeconds     int64  `json:"uptimeSeconds"`
		Uptime            string `json:"uptime"`
		HostUptimeSeconds *int64 `json:"hostUptimeSeconds,omitempty"`
		HostUptime        string `json:"hostUptime,omitempty"`
	}{
		UptimeSeconds: int64(uptime / time.Second),
		Uptime:        formatUptime(uptime),
	}
	if s.host != nil {
		host, err := s.host.HostUptime(ctx)
		if err != nil {
			log.Ctx(ctx).WarnContext(ctx, "failed to get host uptime", slog.Any("error", err))
		} else {
			secs := int64(host / time.Second)
			resp.HostUptimeSeconds = &secs
			resp.HostUptime = formatUptime(host)
		}
	}

	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, resp)
}
