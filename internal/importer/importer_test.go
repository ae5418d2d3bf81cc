package importer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"land-search/internal/cadastral"
	"land-search/internal/db"
	"land-search/internal/geo"
	"land-search/internal/metrics"
	"land-search/internal/models"
)

// fakeLookup serves objects from a map and counts calls
type fakeLookup struct {
	mu      sync.Mutex
	objects map[string]*cadastral.Object
	calls   []string
	hook    func(cn string)
}

func (f *fakeLookup) Lookup(ctx context.Context, cn string) *cadastral.Object {
	f.mu.Lock()
	f.calls = append(f.calls, cn)
	hook := f.hook
	obj := f.objects[cn]
	f.mu.Unlock()

	if hook != nil {
		hook(cn)
	}
	return obj
}

// failingStore wraps a real database and fails the nth save
type failingStore struct {
	*db.DB
	failOn int
	saves  int
}

func (s *failingStore) SavePlot(ctx context.Context, p *models.Plot) error {
	s.saves++
	if s.saves == s.failOn {
		return errors.New("disk I/O error")
	}
	return s.DB.SavePlot(ctx, p)
}

func newTestDB(t *testing.T) *db.DB {
	t.Helper()
	database, err := db.New(filepath.Join(t.TempDir(), "import.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	return database
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
}

func polygonObject(cn string) *cadastral.Object {
	address := "Калининградская обл., пос. Лесное"
	area := 1200.0
	centroid := geo.Position{20.55, 54.95}
	return &cadastral.Object{
		CadastralNumber: cn,
		Address:         &address,
		AreaSqM:         &area,
		GeometryType:    cadastral.GeometryPolygon,
		Polygon: [][]geo.Position{{
			{20.5, 54.9}, {20.6, 54.9}, {20.6, 55.0}, {20.5, 55.0}, {20.5, 54.9},
		}},
		Centroid: &centroid,
	}
}

func items(cns ...string) []Item {
	out := make([]Item, len(cns))
	for i, cn := range cns {
		out[i] = Item{CadastralNumber: cn}
	}
	return out
}

func TestRun_CreatesAndEnriches(t *testing.T) {
	database := newTestDB(t)
	lookup := &fakeLookup{objects: map[string]*cadastral.Object{
		"39:05:0:1": polygonObject("39:05:0:1"),
	}}
	im := New(database, lookup, WithPause(0), WithLogger(quietLogger()))

	price := int64(900_000)
	summary, err := im.Run(context.Background(), []Item{
		{CadastralNumber: "39:05:0:1", Price: &price},
		{CadastralNumber: "39:05:0:2"},
	})
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Total)
	assert.Equal(t, 2, summary.Created)
	assert.Equal(t, 0, summary.Updated)
	assert.Equal(t, 0, summary.Errors)
	require.Len(t, summary.Items, 2)
	assert.Equal(t, NSPDSuccess, summary.Items[0].NSPDStatus)
	assert.Equal(t, NSPDNotFound, summary.Items[1].NSPDStatus)

	plot, err := database.FindPlotByCadastralNumber(context.Background(), "39:05:0:1")
	require.NoError(t, err)
	assert.Equal(t, *summary.Items[0].PlotID, plot.ID)
	assert.Equal(t, price, *plot.PricePublic)
	assert.True(t, plot.HasPolygon())
	c, ok := plot.Centroid()
	require.True(t, ok)
	assert.Equal(t, geo.Position{20.55, 54.95}, c)
	assert.Equal(t, 1200.0, *plot.Area)

	bare, err := database.FindPlotByCadastralNumber(context.Background(), "39:05:0:2")
	require.NoError(t, err)
	assert.False(t, bare.HasPolygon())
}

func TestRun_Idempotent(t *testing.T) {
	database := newTestDB(t)
	lookup := &fakeLookup{objects: map[string]*cadastral.Object{
		"39:05:0:1": polygonObject("39:05:0:1"),
	}}
	im := New(database, lookup, WithPause(0), WithLogger(quietLogger()))

	first, err := im.Run(context.Background(), items("39:05:0:1"))
	require.NoError(t, err)
	before, err := database.FindPlotByCadastralNumber(context.Background(), "39:05:0:1")
	require.NoError(t, err)

	second, err := im.Run(context.Background(), items("39:05:0:1"))
	require.NoError(t, err)
	after, err := database.FindPlotByCadastralNumber(context.Background(), "39:05:0:1")
	require.NoError(t, err)

	assert.Equal(t, StatusCreated, first.Items[0].Status)
	assert.Equal(t, StatusUpdated, second.Items[0].Status)
	assert.Equal(t, *first.Items[0].PlotID, *second.Items[0].PlotID)

	count, err := database.GetPlotCount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	assert.Equal(t, *before.Polygon, *after.Polygon)
	assert.Equal(t, *before.CentroidLat, *after.CentroidLat)
	assert.Equal(t, *before.Address, *after.Address)
}

func TestRun_DoesNotOverwriteLocalData(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()

	cn := "39:05:0:1"
	address := "manually entered"
	area := 999.0
	existing := &models.Plot{CadastralNumber: &cn, Address: &address, Area: &area}
	existing.SetCentroid(geo.Position{20.0, 54.0})
	require.NoError(t, database.SavePlot(ctx, existing))

	lookup := &fakeLookup{objects: map[string]*cadastral.Object{cn: polygonObject(cn)}}
	comment := "with a well"
	im := New(database, lookup, WithPause(0), WithLogger(quietLogger()))
	summary, err := im.Run(ctx, []Item{{CadastralNumber: cn, Comment: &comment}})
	require.NoError(t, err)
	assert.Equal(t, StatusUpdated, summary.Items[0].Status)
	assert.Equal(t, NSPDSuccess, summary.Items[0].NSPDStatus)

	got, err := database.GetPlot(ctx, existing.ID)
	require.NoError(t, err)
	assert.Equal(t, "manually entered", *got.Address)
	assert.Equal(t, 999.0, *got.Area)
	assert.Equal(t, 20.0, *got.CentroidLng)
	assert.Equal(t, "with a well", *got.Comment)
	assert.True(t, got.HasPolygon(), "empty polygon is filled")
}

func TestRun_PointFillsCentroid(t *testing.T) {
	database := newTestDB(t)
	point := geo.Position{21.0, 55.0}
	lookup := &fakeLookup{objects: map[string]*cadastral.Object{
		"39:05:0:7": {CadastralNumber: "39:05:0:7", GeometryType: cadastral.GeometryPoint, Point: &point},
	}}
	im := New(database, lookup, WithPause(0), WithLogger(quietLogger()))

	_, err := im.Run(context.Background(), items("39:05:0:7"))
	require.NoError(t, err)

	plot, err := database.FindPlotByCadastralNumber(context.Background(), "39:05:0:7")
	require.NoError(t, err)
	assert.False(t, plot.HasPolygon())
	c, ok := plot.Centroid()
	require.True(t, ok)
	assert.Equal(t, point, c)
}

func TestRun_FaultIsolation(t *testing.T) {
	database := newTestDB(t)
	store := &failingStore{DB: database, failOn: 3}
	lookup := &fakeLookup{objects: map[string]*cadastral.Object{}}
	for _, cn := range []string{"a", "b", "c", "d", "e"} {
		lookup.objects[cn] = polygonObject(cn)
	}
	m := metrics.New(prometheus.NewRegistry())
	im := New(store, lookup, WithPause(0), WithLogger(quietLogger()), WithMetrics(m))

	summary, err := im.Run(context.Background(), items("a", "b", "c", "d", "e"))
	require.NoError(t, err)

	assert.Equal(t, 5, summary.Total)
	assert.Equal(t, 4, summary.Created)
	assert.Equal(t, 1, summary.Errors)
	require.Len(t, summary.Items, 5)

	failedItem := summary.Items[2]
	assert.Equal(t, "c", failedItem.CadastralNumber)
	assert.Equal(t, StatusError, failedItem.Status)
	assert.Nil(t, failedItem.PlotID)
	require.NotNil(t, failedItem.Message)
	assert.Contains(t, *failedItem.Message, "disk I/O error")

	for _, i := range []int{0, 1, 3, 4} {
		assert.Equal(t, StatusCreated, summary.Items[i].Status)
		assert.NotNil(t, summary.Items[i].PlotID)
	}

	count, err := database.GetPlotCount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, count)
	_, err = database.FindPlotByCadastralNumber(context.Background(), "c")
	assert.ErrorIs(t, err, db.ErrNotFound)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ImportRuns))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.ImportItems.WithLabelValues(StatusCreated, NSPDSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ImportItems.WithLabelValues(StatusError, NSPDSuccess)))
}

func TestRun_EmptyCadastralNumber(t *testing.T) {
	database := newTestDB(t)
	lookup := &fakeLookup{}
	im := New(database, lookup, WithPause(0), WithLogger(quietLogger()))

	summary, err := im.Run(context.Background(), items("  ", "39:05:0:1"))
	require.NoError(t, err)
	assert.Equal(t, StatusError, summary.Items[0].Status)
	assert.Equal(t, NSPDSkipped, summary.Items[0].NSPDStatus)
	assert.Equal(t, StatusCreated, summary.Items[1].Status)
	assert.Equal(t, []string{"39:05:0:1"}, lookup.calls)
}

func TestRun_LookupPanicIsIsolated(t *testing.T) {
	database := newTestDB(t)
	lookup := &fakeLookup{hook: func(cn string) {
		if cn == "boom" {
			panic("unexpected geometry")
		}
	}}
	im := New(database, lookup, WithPause(0), WithLogger(quietLogger()))

	summary, err := im.Run(context.Background(), items("boom", "fine"))
	require.NoError(t, err)
	assert.Equal(t, StatusCreated, summary.Items[0].Status)
	assert.Equal(t, "error: unexpected geometry", summary.Items[0].NSPDStatus)
	assert.Equal(t, StatusCreated, summary.Items[1].Status)
	assert.Equal(t, NSPDNotFound, summary.Items[1].NSPDStatus)
}

func TestRunStream_EventOrder(t *testing.T) {
	database := newTestDB(t)
	lookup := &fakeLookup{objects: map[string]*cadastral.Object{"b": polygonObject("b")}}
	im := New(database, lookup, WithPause(time.Millisecond), WithLogger(quietLogger()))

	var events []Event
	summary, err := im.RunStream(context.Background(), items("a", "b", "c"), func(e Event) error {
		events = append(events, e)
		return nil
	})
	require.NoError(t, err)

	var types []string
	for _, e := range events {
		types = append(types, e.EventType())
	}
	assert.Equal(t, []string{
		"start",
		"processing", "progress",
		"processing", "progress",
		"processing", "progress",
		"finish",
	}, types)

	assert.Equal(t, StartEvent{Total: 3}, events[0])
	assert.Equal(t, ProcessingEvent{Current: 2, Total: 3, CadastralNumber: "b"}, events[3])
	progress := events[4].(ProgressEvent)
	assert.Equal(t, 2, progress.Current)
	assert.Equal(t, NSPDSuccess, progress.Item.NSPDStatus)
	assert.Equal(t, summary, events[7].(FinishEvent).Summary)
}

func TestEventJSON(t *testing.T) {
	id := int64(7)
	cases := []struct {
		event Event
		want  string
	}{
		{StartEvent{Total: 0}, `{"type":"start","total":0}`},
		{ProcessingEvent{Current: 1, Total: 2, CadastralNumber: "a"}, `{"type":"processing","current":1,"total":2,"cadastral_number":"a"}`},
		{
			ProgressEvent{Current: 1, Total: 2, Item: Result{CadastralNumber: "a", PlotID: &id, Status: StatusCreated, NSPDStatus: NSPDNotFound}},
			`{"type":"progress","current":1,"total":2,"item":{"cadastral_number":"a","plot_id":7,"status":"created","message":null,"nspd_status":"not_found"}}`,
		},
		{
			FinishEvent{Summary: Summary{Total: 0, Items: []Result{}}},
			`{"type":"finish","summary":{"total":0,"created":0,"updated":0,"errors":0,"items":[]}}`,
		},
	}

	for _, tc := range cases {
		t.Run(tc.event.EventType(), func(t *testing.T) {
			data, err := json.Marshal(tc.event)
			require.NoError(t, err)
			assert.JSONEq(t, tc.want, string(data))
		})
	}
}

func TestRunStream_StopsWhenEmitFails(t *testing.T) {
	database := newTestDB(t)
	im := New(database, &fakeLookup{}, WithPause(0), WithLogger(quietLogger()))

	gone := errors.New("client went away")
	seen := 0
	summary, err := im.RunStream(context.Background(), items("a", "b", "c"), func(e Event) error {
		if _, ok := e.(ProgressEvent); ok {
			seen++
			if seen == 1 {
				return gone
			}
		}
		return nil
	})
	assert.ErrorIs(t, err, gone)
	assert.Len(t, summary.Items, 1)

	// The item was committed before the emit failed
	count, err := database.GetPlotCount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestRun_CancellationCommitsInFlightItem(t *testing.T) {
	database := newTestDB(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	lookup := &fakeLookup{
		objects: map[string]*cadastral.Object{"b": polygonObject("b")},
		hook: func(cn string) {
			if cn == "b" {
				cancel()
			}
		},
	}
	im := New(database, lookup, WithPause(0), WithLogger(quietLogger()))

	summary, err := im.Run(ctx, items("a", "b", "c", "d"))
	assert.ErrorIs(t, err, context.Canceled)

	require.Len(t, summary.Items, 2)
	assert.Equal(t, 4, summary.Total)
	assert.Equal(t, StatusCreated, summary.Items[1].Status)
	// The lookup answered before the cancellation was observed
	assert.Equal(t, NSPDSuccess, summary.Items[1].NSPDStatus)

	plot, err := database.FindPlotByCadastralNumber(context.Background(), "b")
	require.NoError(t, err)
	assert.True(t, plot.HasPolygon())

	_, err = database.FindPlotByCadastralNumber(context.Background(), "c")
	assert.ErrorIs(t, err, db.ErrNotFound)
	assert.Equal(t, []string{"a", "b"}, lookup.calls)
}

func TestRun_CancelledLookupIsSkipped(t *testing.T) {
	database := newTestDB(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Simulates a client that gives up when the caller cancels
	lookup := &fakeLookup{hook: func(string) { cancel() }}
	im := New(database, lookup, WithPause(0), WithLogger(quietLogger()))

	summary, err := im.Run(ctx, items("a", "b"))
	assert.ErrorIs(t, err, context.Canceled)
	require.Len(t, summary.Items, 1)
	assert.Equal(t, NSPDSkipped, summary.Items[0].NSPDStatus)
	assert.Equal(t, StatusCreated, summary.Items[0].Status)
	assert.NotNil(t, summary.Items[0].PlotID)
}

func TestRunStream_CancelAfterProcessingFinishesItem(t *testing.T) {
	database := newTestDB(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	lookup := &fakeLookup{objects: map[string]*cadastral.Object{"b": polygonObject("b")}}
	im := New(database, lookup, WithPause(0), WithLogger(quietLogger()))

	summary, err := im.RunStream(ctx, items("a", "b", "c"), func(e Event) error {
		if p, ok := e.(ProcessingEvent); ok && p.CadastralNumber == "b" {
			cancel()
		}
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)

	require.Len(t, summary.Items, 2)
	announced := summary.Items[1]
	assert.Equal(t, "b", announced.CadastralNumber)
	assert.Equal(t, StatusCreated, announced.Status)
	assert.Nil(t, announced.Message)
	assert.Equal(t, NSPDSkipped, announced.NSPDStatus)
	require.NotNil(t, announced.PlotID)

	_, err = database.FindPlotByCadastralNumber(context.Background(), "b")
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, lookup.calls)
}
