package server

import (
	"context"
	"log"
	"net/http"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/signagekit/signage-hub-go/internal/api"
	"github.com/signagekit/signage-hub-go/internal/audit"
	"github.com/signagekit/signage-hub-go/internal/auth"
	"github.com/signagekit/signage-hub-go/internal/broadcast"
	"github.com/signagekit/signage-hub-go/internal/config"
	"github.com/signagekit/signage-hub-go/internal/db"
	"github.com/signagekit/signage-hub-go/internal/devices"
	"github.com/signagekit/signage-hub-go/internal/hub"
	"github.com/signagekit/signage-hub-go/internal/license"
	"github.com/signagekit/signage-hub-go/internal/metrics"
	"github.com/signagekit/signage-hub-go/internal/playlist"
	"github.com/signagekit/signage-hub-go/internal/screenshots"
)

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// requestLoggerMiddleware logs all incoming HTTP requests
func requestLoggerMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		log.Printf("%s %s %d %s", r.Method, r.URL.Path, wrapped.status, time.Since(start).Round(time.Millisecond))
	})
}

// Options controls server wiring.
type Options struct {
	// DisableBackgroundJobs skips the audit prune and broadcast expiry
	// schedulers, used by tests that drive sweeps directly.
	DisableBackgroundJobs bool
}

// NewHandler builds the HTTP handler and returns a shutdown function.
func NewHandler(cfg config.Config, options Options) (http.Handler, func(context.Context) error, error) {
	log.Printf("Using database: %s", cfg.SQLiteDBPath)
	dbPair, err := db.Init(cfg.SQLiteDBPath)
	if err != nil {
		return nil, nil, err
	}

	router := chi.NewRouter()
	router.Use(middleware.StripSlashes)
	router.Use(requestLoggerMiddleware)
	router.Use(api.RequestIDMiddleware)
	router.Use(api.RecovererMiddleware)
	router.Use(auth.Middleware(cfg))

	registerHealthRoutes(router)
	auth.RegisterRoutes(router, cfg)

	m := metrics.New()
	router.Method(http.MethodGet, "/metrics", m.Handler())

	deviceService := devices.NewService(&cfg, dbPair, nil)
	playlistService := playlist.NewService(&cfg, dbPair, nil)
	licenseService := license.NewService(&cfg, dbPair, nil)
	auditService := audit.NewService(&cfg, dbPair, nil)
	screenshotService := screenshots.NewService(&cfg, dbPair, nil)

	// Sessions from a previous run are gone; start device slot accounting
	// from a clean slate.
	if err := licenseService.ResetCounts(); err != nil {
		_ = dbPair.Close()
		return nil, nil, err
	}

	sink := newTelemetrySink(auditService, screenshotService)
	sessionHub := hub.New(&cfg, deviceService, licenseService, playlistService, sink, m, nil)
	broadcastService := broadcast.NewService(&cfg, dbPair, deviceService, playlistService, sessionHub, nil)

	// Cross-package notifications flow through hooks so the lower layers
	// never import the hub.
	sessionHub.SetContentOverride(broadcastService.OverrideFor)
	playlistService.SetChangedHook(sessionHub.PlaylistChanged)
	deviceService.SetConfigChangedHook(sessionHub.DeviceConfigChanged)
	deviceService.SetAssignedHook(sessionHub.DeviceAssigned)
	deviceService.SetDeletedHook(func(stableDeviceID string) {
		sessionHub.DeviceDeleted(stableDeviceID)
		screenshotService.Purge(stableDeviceID)
		sink.forget(stableDeviceID)
	})
	licenseService.SetRevokedHook(sessionHub.RevalidateAll)

	devices.RegisterRoutes(router, deviceService, sessionHub.IsOnline)
	playlist.RegisterRoutes(router, playlistService)
	license.RegisterRoutes(router, licenseService)
	broadcast.RegisterRoutes(router, broadcastService)
	audit.RegisterRoutes(router, auditService)
	screenshots.RegisterRoutes(router, screenshotService, deviceService)
	hub.RegisterRoutes(router, sessionHub)
	registerStatusRoute(router, sessionHub, auditService, sink)

	sessionHub.Start()
	if !options.DisableBackgroundJobs {
		auditService.StartPruneJob()
		broadcastService.Start()
	}

	auditService.RecordSimple(string(audit.EventLevelInfo), audit.TypeSystemStartup, "signage hub started", "")

	shutdown := func(ctx context.Context) error {
		sessionHub.Stop()
		if !options.DisableBackgroundJobs {
			broadcastService.Stop()
			auditService.StopPruneJob()
		}
		if ctx == nil {
			ctx = context.Background()
		}
		return dbPair.Close()
	}

	return router, shutdown, nil
}

func registerHealthRoutes(router chi.Router) {
	router.Method(http.MethodGet, "/v1/health", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		response := map[string]any{
			"status":    "healthy",
			"service":   "signage-hub",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		}
		return api.WriteJSON(w, http.StatusOK, response)
	}))
	router.Method(http.MethodGet, "/v1/health/live", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		return api.WriteJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	}))
	router.Method(http.MethodGet, "/v1/health/ready", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		return api.WriteJSON(w, http.StatusOK, map[string]any{"status": "ready"})
	}))
}

// registerStatusRoute serves the operator-facing system overview: per-device
// health samples plus audit store health.
func registerStatusRoute(router chi.Router, sessionHub *hub.Hub, auditService *audit.Service, sink *telemetrySink) {
	router.Method(http.MethodGet, "/v1/system/status", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		samples := sink.healthSnapshot()
		deviceStatus := make(map[string]any, len(samples))
		for stableID, sample := range samples {
			deviceStatus[stableID] = map[string]any{
				"online":      sessionHub.IsOnline(stableID),
				"cpu":         sample.Report.CPU,
				"memory":      sample.Report.Memory,
				"disk":        sample.Report.Disk,
				"reported_at": sample.ReceivedAt.Format(time.RFC3339),
			}
		}
		return api.WriteJSON(w, http.StatusOK, map[string]any{
			"object":        "system_status",
			"audit_healthy": auditService.IsHealthy(),
			"devices":       deviceStatus,
			"timestamp":     time.Now().UTC().Format(time.RFC3339),
		})
	}))
}
