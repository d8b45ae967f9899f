package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/NYTimes/gziphandler"
	"github.com/levenlabs/go-lflag"

	"github.com/raterudder/homeplug/pkg/bus"
	"github.com/raterudder/homeplug/pkg/common"
	"github.com/raterudder/homeplug/pkg/log"
	"github.com/raterudder/homeplug/pkg/storage"
	"github.com/raterudder/homeplug/pkg/types"
)

// StateReader returns the latest published snapshot.
type StateReader interface {
	Read() bus.Snapshot
}

// RelayToggler switches the relay on request.
type RelayToggler interface {
	ManualToggle(ctx context.Context, on bool) (types.ControllerState, error)
}

// SettingsStore holds the runtime settings.
type SettingsStore interface {
	Get() types.Settings
	Update(ctx context.Context, fn func(types.Settings) (types.Settings, error)) (types.Settings, error)
}

// Site describes where the panels and battery are.
type Site interface {
	Weather(ctx context.Context) (types.Weather, error)
	Location() *time.Location
}

// HostUptimer reports how long the host has been up.
type HostUptimer interface {
	HostUptime(ctx context.Context) (time.Duration, error)
}

// Server serves a read-mostly JSON API over the stored series, the latest
// controller state and the runtime settings.
type Server struct {
	store    *storage.Store
	state    StateReader
	relay    RelayToggler
	settings SettingsStore
	site     Site
	host     HostUptimer

	listenAddr string
	serverName string
	httpServer *http.Server
	startedAt  time.Time
	now        func() time.Time
}

// New returns a Server. site and host may be nil, in which case the weather
// and host uptime are reported as unavailable.
func New(store *storage.Store, state StateReader, relay RelayToggler, settings SettingsStore, site Site, host HostUptimer) *Server {
	return &Server{
		store:      store,
		state:      state,
		relay:      relay,
		settings:   settings,
		site:       site,
		host:       host,
		listenAddr: ":8080",
		serverName: "homeplug/" + common.Version(),
		startedAt:  time.Now(),
		now:        time.Now,
	}
}

// Configured initializes the Server with dependencies.
// It uses lflag to register command-line flags for configuration.
func Configured(store *storage.Store, state StateReader, relay RelayToggler, settings SettingsStore, site Site, host HostUptimer) *Server {
	srv := New(store, state, relay, settings, site, host)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	listenAddr := lflag.String("http-listen", ":"+port, "HTTP server listen address")

	lflag.Do(func() {
		srv.listenAddr = *listenAddr
	})

	return srv
}

func (s *Server) setupHandler() http.Handler {
	apiMux := http.NewServeMux()
	apiMux.HandleFunc("GET /api/metrics/latest", s.handleLatestMetrics)
	apiMux.HandleFunc("GET /api/metrics/recent", s.handleRecentMetrics)
	apiMux.HandleFunc("GET /api/state", s.handleState)
	apiMux.HandleFunc("POST /api/relay", s.handleRelay)
	apiMux.HandleFunc("GET /api/prices", s.handlePrices)
	apiMux.HandleFunc("GET /api/prices/current", s.handleCurrentPrice)
	apiMux.HandleFunc("GET /api/solar", s.handleSolar)
	apiMux.HandleFunc("GET /api/weather", s.handleWeather)
	apiMux.HandleFunc("GET /api/settings", s.handleGetSettings)
	apiMux.HandleFunc("POST /api/settings", s.handleUpdateSettings)
	apiMux.HandleFunc("GET /api/time", s.handleTime)
	apiMux.HandleFunc("GET /api/uptime", s.handleUptime)

	mux := http.NewServeMux()
	mux.Handle("/api/", apiMux)
	mux.HandleFunc("/healthz", s.handleHealthz)
	return s.revisionMiddleware(gziphandler.GzipHandler(s.securityHeadersMiddleware(mux)))
}

// Run starts the HTTP server and blocks until the context is canceled or an error occurs.
// It also handles graceful shutdown when the context is done.
func (s *Server) Run(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         s.listenAddr,
		Handler:      s.setupHandler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  15 * time.Second,
	}

	// use a channel to capturing server errors
	errChan := make(chan error, 1)
	go func() {
		defer close(errChan)
		log.Ctx(ctx).InfoContext(ctx, "starting server", slog.String("addr", s.listenAddr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		// Context canceled, shut down gracefully
		log.Ctx(ctx).InfoContext(ctx, "shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		panic(http.ErrAbortHandler)
	}
}

func writeJSONError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(struct {
		Error string `json:"error"`
	}{Error: msg}); err != nil {
		slog.Warn("failed to write error response", slog.Any("error", err))
		panic(http.ErrAbortHandler)
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("ok")); err != nil {
		panic(http.ErrAbortHandler)
	}
}

func (s *Server) revisionMiddleware(next http.Handler) http.Handler {
	if s.serverName == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Server", s.serverName)
		next.ServeHTTP(w, r)
	})
}
