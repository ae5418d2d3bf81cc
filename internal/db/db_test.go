package db

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"land-search/internal/geo"
	"land-search/internal/models"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := New(filepath.Join(t.TempDir(), "nested", "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func strPtr(s string) *string { return &s }

func TestNew_MigrationsAreIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	first, err := New(path)
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, err := New(path)
	require.NoError(t, err)
	defer second.Close()
}

func TestSavePlot_InsertAndUpdate(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	price := int64(1_500_000)
	p := &models.Plot{CadastralNumber: strPtr("39:05:010101:1"), PricePublic: &price}
	require.NoError(t, db.SavePlot(ctx, p))
	require.NotZero(t, p.ID)
	assert.Equal(t, models.PlotActive, p.Status)
	assert.NotEmpty(t, p.CreatedAt)

	require.NoError(t, p.SetPolygon([]geo.Position{{20, 54}, {20.1, 54}, {20.1, 54.1}, {20, 54}}))
	p.SetCentroid(geo.Position{20.05, 54.03})
	p.Comment = strPtr("sold together with 39:05:010101:2")
	require.NoError(t, db.SavePlot(ctx, p))

	got, err := db.GetPlot(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "39:05:010101:1", *got.CadastralNumber)
	assert.Equal(t, price, *got.PricePublic)
	assert.Equal(t, "sold together with 39:05:010101:2", *got.Comment)
	assert.True(t, got.HasPolygon())
	ring, err := got.PolygonRing()
	require.NoError(t, err)
	assert.Len(t, ring, 4)
	c, ok := got.Centroid()
	require.True(t, ok)
	assert.Equal(t, geo.Position{20.05, 54.03}, c)
	assert.Nil(t, got.Address)
	assert.Nil(t, got.Area)
}

func TestSavePlot_UpdateMissing(t *testing.T) {
	db := newTestDB(t)
	err := db.SavePlot(context.Background(), &models.Plot{ID: 42})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSavePlot_DuplicateCadastralNumber(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.SavePlot(ctx, &models.Plot{CadastralNumber: strPtr("39:05:010101:1")}))
	assert.Error(t, db.SavePlot(ctx, &models.Plot{CadastralNumber: strPtr("39:05:010101:1")}))

	// Plots without a cadastral number do not collide
	require.NoError(t, db.SavePlot(ctx, &models.Plot{}))
	require.NoError(t, db.SavePlot(ctx, &models.Plot{}))

	count, err := db.GetPlotCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestSavePlot_RejectsUnknownStatus(t *testing.T) {
	db := newTestDB(t)
	assert.Error(t, db.SavePlot(context.Background(), &models.Plot{Status: "archived"}))
}

func TestFindPlotByCadastralNumber(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	_, err := db.FindPlotByCadastralNumber(ctx, "39:05:010101:1")
	assert.ErrorIs(t, err, ErrNotFound)

	p := &models.Plot{CadastralNumber: strPtr("39:05:010101:1")}
	require.NoError(t, db.SavePlot(ctx, p))

	got, err := db.FindPlotByCadastralNumber(ctx, "39:05:010101:1")
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.ID)

	_, err = db.GetPlot(ctx, p.ID+1)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCheckCadastral(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	p := &models.Plot{CadastralNumber: strPtr("39:05:010101:1"), Address: strPtr("Zelenogradsk"), Status: models.PlotReserved}
	require.NoError(t, db.SavePlot(ctx, p))

	check, err := db.CheckCadastral(ctx, "39:05:010101:1", 0)
	require.NoError(t, err)
	assert.True(t, check.Exists)
	assert.Equal(t, p.ID, *check.PlotID)
	assert.Equal(t, "Zelenogradsk", *check.Address)
	assert.Equal(t, models.PlotReserved, *check.Status)

	check, err = db.CheckCadastral(ctx, "39:05:010101:1", p.ID)
	require.NoError(t, err)
	assert.False(t, check.Exists)

	check, err = db.CheckCadastral(ctx, "39:05:010101:999", 0)
	require.NoError(t, err)
	assert.False(t, check.Exists)
}

func TestSettings(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	settings, err := db.ListSettings(ctx)
	require.NoError(t, err)
	assert.Empty(t, settings)

	_, err = db.GetSetting(ctx, "nspd_proxy")
	assert.ErrorIs(t, err, ErrNotFound)

	wrote, err := db.EnsureSetting(ctx, "nspd_timeout", "10", "timeout in seconds")
	require.NoError(t, err)
	assert.True(t, wrote)
	wrote, err = db.EnsureSetting(ctx, "nspd_timeout", "99", "ignored")
	require.NoError(t, err)
	assert.False(t, wrote)

	s, err := db.SetSetting(ctx, "nspd_timeout", strPtr("15"), nil)
	require.NoError(t, err)
	assert.Equal(t, "15", *s.Value)
	assert.Equal(t, "timeout in seconds", *s.Description)

	_, err = db.SetSetting(ctx, "nspd_proxy", nil, strPtr("proxy"))
	require.NoError(t, err)

	m, err := db.SettingsMap(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"nspd_timeout": "15"}, m)

	settings, err = db.ListSettings(ctx)
	require.NoError(t, err)
	require.Len(t, settings, 2)
	assert.Equal(t, "nspd_proxy", settings[0].Key)
}
