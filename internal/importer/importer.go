package importer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"land-search/internal/cadastral"
	"land-search/internal/db"
	"land-search/internal/geo"
	"land-search/internal/metrics"
	"land-search/internal/models"
)

// DefaultPause is the delay between items. It keeps a batch from hammering
// the upstream but is not a rate limit.
const DefaultPause = 100 * time.Millisecond

// PlotStore persists plots. FindPlotByCadastralNumber returns db.ErrNotFound
// for unknown numbers.
type PlotStore interface {
	FindPlotByCadastralNumber(ctx context.Context, cadastralNumber string) (*models.Plot, error)
	SavePlot(ctx context.Context, p *models.Plot) error
}

// Lookuper fetches cadastral objects; nil means nothing usable was found
type Lookuper interface {
	Lookup(ctx context.Context, cadastralNumber string) *cadastral.Object
}

// Importer applies batches of import items one at a time
type Importer struct {
	store   PlotStore
	lookup  Lookuper
	pause   time.Duration
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// Option configures an Importer
type Option func(*Importer)

// WithPause sets the delay between items
func WithPause(d time.Duration) Option {
	return func(im *Importer) { im.pause = d }
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(im *Importer) { im.logger = logger }
}

// WithMetrics enables Prometheus instrumentation
func WithMetrics(m *metrics.Metrics) Option {
	return func(im *Importer) { im.metrics = m }
}

// New creates an Importer
func New(store PlotStore, lookup Lookuper, opts ...Option) *Importer {
	im := &Importer{
		store:  store,
		lookup: lookup,
		pause:  DefaultPause,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(im)
	}
	return im
}

// Run imports items and returns the summary. On cancellation the item in
// flight is still committed and the partial summary is returned with the
// context error.
func (im *Importer) Run(ctx context.Context, items []Item) (Summary, error) {
	return im.run(ctx, items, func(Event) error { return nil })
}

// RunStream is Run with progress events passed to emit as they happen. An
// emit error stops the run after the current item.
func (im *Importer) RunStream(ctx context.Context, items []Item, emit func(Event) error) (Summary, error) {
	return im.run(ctx, items, emit)
}

func (im *Importer) run(ctx context.Context, items []Item, emit func(Event) error) (Summary, error) {
	log := im.logger.With("run_id", uuid.NewString())
	im.metrics.IncImportRun()

	total := len(items)
	summary := Summary{Total: total, Items: make([]Result, 0, total)}
	start := time.Now()
	log.Info("bulk import started", "total", total)

	if err := emit(StartEvent{Total: total}); err != nil {
		return summary, fmt.Errorf("emitting start: %w", err)
	}

	for i, item := range items {
		if i > 0 && im.pause > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(im.pause):
			}
		}
		if err := ctx.Err(); err != nil {
			log.Warn("bulk import cancelled", "processed", i, "total", total)
			_ = emit(FinishEvent{Summary: summary})
			return summary, err
		}

		if err := emit(ProcessingEvent{Current: i + 1, Total: total, CadastralNumber: item.CadastralNumber}); err != nil {
			return summary, fmt.Errorf("emitting processing: %w", err)
		}

		res := im.processItem(ctx, log, item)
		summary.add(res)
		im.metrics.IncImportItem(res.Status, metricsNSPDStatus(res.NSPDStatus))

		if err := emit(ProgressEvent{Current: i + 1, Total: total, Item: res}); err != nil {
			return summary, fmt.Errorf("emitting progress: %w", err)
		}
	}

	log.Info("bulk import finished",
		"total", total,
		"created", summary.Created,
		"updated", summary.Updated,
		"errors", summary.Errors,
		"duration", time.Since(start).String())

	if err := emit(FinishEvent{Summary: summary}); err != nil {
		return summary, fmt.Errorf("emitting finish: %w", err)
	}
	return summary, nil
}

// processItem creates or updates one plot, enriches it from the upstream and
// commits it. Every failure is captured in the result.
func (im *Importer) processItem(ctx context.Context, log *slog.Logger, item Item) Result {
	cn := strings.TrimSpace(item.CadastralNumber)
	res := Result{CadastralNumber: item.CadastralNumber, NSPDStatus: NSPDSkipped}
	log = log.With("cadastral_number", cn)

	if cn == "" {
		return failed(res, errors.New("cadastral number is required"))
	}

	// Once an item is announced it runs to completion; only the lookup observes cancellation
	plot, err := im.store.FindPlotByCadastralNumber(context.WithoutCancel(ctx), cn)
	switch {
	case errors.Is(err, db.ErrNotFound):
		plot = &models.Plot{
			CadastralNumber: &cn,
			PricePublic:     item.Price,
			Comment:         item.Comment,
			Status:          models.PlotActive,
		}
		res.Status = StatusCreated
	case err != nil:
		log.Error("loading plot failed", "error", err)
		return failed(res, err)
	default:
		if item.Price != nil {
			plot.PricePublic = item.Price
		}
		if item.Comment != nil {
			plot.Comment = item.Comment
		}
		res.Status = StatusUpdated
	}

	res.NSPDStatus = im.enrich(ctx, log, plot)

	if err := im.store.SavePlot(context.WithoutCancel(ctx), plot); err != nil {
		log.Error("saving plot failed", "error", err)
		return failed(res, err)
	}

	res.PlotID = &plot.ID
	return res
}

// enrich looks the plot up upstream and merges what it finds
func (im *Importer) enrich(ctx context.Context, log *slog.Logger, plot *models.Plot) (status string) {
	if ctx.Err() != nil {
		return NSPDSkipped
	}

	defer func() {
		if r := recover(); r != nil {
			log.Error("nspd enrichment panicked", "panic", r)
			status = fmt.Sprintf("error: %v", r)
		}
	}()

	obj := im.lookup.Lookup(ctx, *plot.CadastralNumber)
	if obj == nil {
		if ctx.Err() != nil {
			return NSPDSkipped
		}
		return NSPDNotFound
	}

	if err := im.merge(log, plot, obj); err != nil {
		log.Error("merging nspd data failed", "error", err)
		return "error: " + err.Error()
	}
	return NSPDSuccess
}

// merge fills empty plot fields from the upstream object. Values already on
// the plot are never overwritten.
func (im *Importer) merge(log *slog.Logger, plot *models.Plot, obj *cadastral.Object) error {
	if obj.HasPolygon() && !plot.HasPolygon() {
		if err := plot.SetPolygon(obj.Polygon[0]); err != nil {
			return err
		}
	}

	upstream := obj.Centroid
	if upstream == nil && obj.GeometryType == cadastral.GeometryPoint {
		upstream = obj.Point
	}
	if upstream != nil {
		if current, ok := plot.Centroid(); ok {
			log.Debug("keeping stored centroid", "drift_km", geo.DistanceKm(current, *upstream))
		} else {
			plot.SetCentroid(*upstream)
		}
	}

	if (plot.Address == nil || *plot.Address == "") && obj.Address != nil {
		plot.Address = obj.Address
	}
	if (plot.Area == nil || *plot.Area == 0) && obj.AreaSqM != nil {
		plot.Area = obj.AreaSqM
	}
	return nil
}

func failed(res Result, err error) Result {
	msg := err.Error()
	res.Status = StatusError
	res.Message = &msg
	res.PlotID = nil
	return res
}

// metricsNSPDStatus folds error details into one label value
func metricsNSPDStatus(s string) string {
	if strings.HasPrefix(s, "error") {
		return "error"
	}
	return s
}
