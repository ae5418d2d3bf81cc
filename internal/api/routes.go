package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"land-search/internal/db"
	"land-search/internal/importer"
	"land-search/internal/metrics"
)

// Config holds router dependencies. Zero values fall back to defaults.
type Config struct {
	// BaseURL overrides the NSPD address, mainly for tests and mirrors
	BaseURL string
	// Pause between bulk import items
	Pause time.Duration
	// ProxyCheckTimeout bounds POST /settings/check-proxy
	ProxyCheckTimeout time.Duration
	// NewClient replaces the settings-backed client factory
	NewClient ClientFactory

	Logger   *slog.Logger
	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer
}

// NewRouter creates and configures the Chi router
func NewRouter(database *db.DB, cfg Config) http.Handler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Pause == 0 {
		cfg.Pause = importer.DefaultPause
	}
	if cfg.ProxyCheckTimeout == 0 {
		cfg.ProxyCheckTimeout = 10 * time.Second
	}
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}
	if cfg.NewClient == nil {
		cfg.NewClient = SettingsClientFactory(database, cfg.BaseURL, cfg.Logger, cfg.Metrics)
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(Logger(cfg.Logger))
	r.Use(middleware.Recoverer)
	r.Use(CORS)

	// Create handlers
	h := NewHandlers(database, cfg)

	// API routes
	r.Route("/api/admin", func(r chi.Router) {
		r.Route("/plots", func(r chi.Router) {
			r.Post("/bulk-import", h.BulkImport)
			r.Post("/bulk-import/stream", h.BulkImportStream)
			r.Get("/check-cadastral", h.CheckCadastral)
			r.Post("/{id}/fetch-geometry", h.FetchGeometry)
		})
		r.Route("/settings", func(r chi.Router) {
			r.Get("/", h.ListSettings)
			r.Post("/check-proxy", h.CheckProxy)
			r.Get("/{key}", h.GetSetting)
			r.Put("/{key}", h.UpdateSetting)
		})
	})

	r.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))

	return r
}
