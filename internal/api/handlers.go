package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"land-search/internal/cadastral"
	"land-search/internal/db"
	"land-search/internal/importer"
	"land-search/internal/metrics"
)

// LookupClient is the part of cadastral.Client the handlers use
type LookupClient interface {
	importer.Lookuper
	Close() error
}

// ClientFactory builds a lookup client for one request. Settings are read at
// that moment, so edits apply to the next operation.
type ClientFactory func(ctx context.Context) (LookupClient, error)

// SettingsClientFactory returns a factory configured from the settings table
func SettingsClientFactory(database *db.DB, baseURL string, logger *slog.Logger, m *metrics.Metrics) ClientFactory {
	return func(ctx context.Context) (LookupClient, error) {
		settings, err := database.SettingsMap(ctx)
		if err != nil {
			return nil, err
		}
		cfg := cadastral.ConfigFromSettings(settings)
		if baseURL != "" {
			cfg.BaseURL = baseURL
		}
		client, err := cadastral.NewClient(cfg, cadastral.WithLogger(logger), cadastral.WithMetrics(m))
		if err != nil {
			return nil, err
		}
		return client, nil
	}
}

// Handlers contains HTTP handlers and their dependencies
type Handlers struct {
	db  *db.DB
	cfg Config
}

// NewHandlers creates a new Handlers instance
func NewHandlers(database *db.DB, cfg Config) *Handlers {
	return &Handlers{db: database, cfg: cfg}
}

type bulkImportRequest struct {
	Items []importer.Item `json:"items"`
}

func (h *Handlers) newImporter(client LookupClient) *importer.Importer {
	return importer.New(h.db, client,
		importer.WithPause(h.cfg.Pause),
		importer.WithLogger(h.cfg.Logger),
		importer.WithMetrics(h.cfg.Metrics))
}

// BulkImport handles POST /api/admin/plots/bulk-import
func (h *Handlers) BulkImport(w http.ResponseWriter, r *http.Request) {
	var req bulkImportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	client, err := h.cfg.NewClient(r.Context())
	if err != nil {
		h.cfg.Logger.Error("creating nspd client failed", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	defer client.Close()

	summary, err := h.newImporter(client).Run(r.Context(), req.Items)
	if err != nil {
		h.cfg.Logger.Warn("bulk import interrupted", "error", err, "processed", len(summary.Items))
	}
	writeJSON(w, http.StatusOK, summary)
}

// BulkImportStream handles POST /api/admin/plots/bulk-import/stream. Progress
// is written as newline-delimited JSON and flushed after every event.
func (h *Handlers) BulkImportStream(w http.ResponseWriter, r *http.Request) {
	var req bulkImportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	client, err := h.cfg.NewClient(r.Context())
	if err != nil {
		h.cfg.Logger.Error("creating nspd client failed", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	defer client.Close()

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	rc := http.NewResponseController(w)
	enc := json.NewEncoder(w)
	emit := func(e importer.Event) error {
		if err := enc.Encode(e); err != nil {
			return err
		}
		if err := rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
			return err
		}
		return nil
	}

	if _, err := h.newImporter(client).RunStream(r.Context(), req.Items, emit); err != nil {
		h.cfg.Logger.Warn("bulk import stream interrupted", "error", err)
	}
}

// FetchGeometry handles POST /api/admin/plots/{id}/fetch-geometry. Unlike
// bulk import it replaces the stored polygon and centroid.
func (h *Handlers) FetchGeometry(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid plot ID")
		return
	}

	plot, err := h.db.GetPlot(r.Context(), id)
	if errors.Is(err, db.ErrNotFound) {
		writeError(w, http.StatusNotFound, "plot not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if plot.CadastralNumber == nil || strings.TrimSpace(*plot.CadastralNumber) == "" {
		writeError(w, http.StatusBadRequest, "plot has no cadastral number")
		return
	}

	client, err := h.cfg.NewClient(r.Context())
	if err != nil {
		h.cfg.Logger.Error("creating nspd client failed", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	defer client.Close()

	obj := client.Lookup(r.Context(), strings.TrimSpace(*plot.CadastralNumber))
	if obj == nil {
		writeError(w, http.StatusNotFound, "object not found in NSPD")
		return
	}
	if !obj.HasPolygon() {
		writeError(w, http.StatusBadRequest, "object has no polygon geometry")
		return
	}

	if err := plot.SetPolygon(obj.Polygon[0]); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if obj.Centroid != nil {
		plot.SetCentroid(*obj.Centroid)
	}
	if (plot.Address == nil || *plot.Address == "") && obj.Address != nil {
		plot.Address = obj.Address
	}
	if (plot.Area == nil || *plot.Area == 0) && obj.AreaSqM != nil {
		plot.Area = obj.AreaSqM
	}

	if err := h.db.SavePlot(r.Context(), plot); err != nil {
		h.cfg.Logger.Error("saving plot geometry failed", "plot_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, plot)
}

// CheckCadastral handles GET /api/admin/plots/check-cadastral
func (h *Handlers) CheckCadastral(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	cn := strings.TrimSpace(q.Get("cadastral_number"))
	if cn == "" {
		writeError(w, http.StatusBadRequest, "cadastral_number is required")
		return
	}

	var excludeID int64
	if v := q.Get("exclude_id"); v != "" {
		val, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid exclude_id")
			return
		}
		excludeID = val
	}

	check, err := h.db.CheckCadastral(r.Context(), cn, excludeID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, check)
}

// ListSettings handles GET /api/admin/settings
func (h *Handlers) ListSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := h.db.ListSettings(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": settings})
}

// GetSetting handles GET /api/admin/settings/{key}
func (h *Handlers) GetSetting(w http.ResponseWriter, r *http.Request) {
	setting, err := h.db.GetSetting(r.Context(), chi.URLParam(r, "key"))
	if errors.Is(err, db.ErrNotFound) {
		writeError(w, http.StatusNotFound, "setting not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, setting)
}

// UpdateSetting handles PUT /api/admin/settings/{key}, creating missing keys
func (h *Handlers) UpdateSetting(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Value *string `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	key := chi.URLParam(r, "key")
	setting, err := h.db.SetSetting(r.Context(), key, req.Value, nil)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.cfg.Logger.Info("setting updated", "key", key)
	writeJSON(w, http.StatusOK, setting)
}

// CheckProxy handles POST /api/admin/settings/check-proxy
func (h *Handlers) CheckProxy(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Proxy   string  `json:"proxy"`
		TestURL *string `json:"test_url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	testURL := cadastral.DefaultProxyCheckURL
	if req.TestURL != nil && *req.TestURL != "" {
		testURL = *req.TestURL
	}
	writeJSON(w, http.StatusOK, cadastral.CheckProxy(r.Context(), req.Proxy, testURL, h.cfg.ProxyCheckTimeout))
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError uses the {"detail": ...} shape the admin frontend reads
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"detail": msg})
}
