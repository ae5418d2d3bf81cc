package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"land-search/internal/models"
)

const plotColumns = `id, cadastral_number, address, area, polygon, centroid_lat, centroid_lng,
	price_public, comment, status, created_at, updated_at`

// GetPlot returns a plot by ID
func (db *DB) GetPlot(ctx context.Context, id int64) (*models.Plot, error) {
	var p models.Plot
	err := db.GetContext(ctx, &p, "SELECT "+plotColumns+" FROM plots WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get plot %d: %w", id, err)
	}
	return &p, nil
}

// FindPlotByCadastralNumber returns the plot carrying the cadastral number
func (db *DB) FindPlotByCadastralNumber(ctx context.Context, cadastralNumber string) (*models.Plot, error) {
	var p models.Plot
	err := db.GetContext(ctx, &p, "SELECT "+plotColumns+" FROM plots WHERE cadastral_number = ?", cadastralNumber)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find plot %s: %w", cadastralNumber, err)
	}
	return &p, nil
}

// CheckCadastral looks for another plot with the same cadastral number.
// excludeID skips the plot being edited; zero excludes nothing.
func (db *DB) CheckCadastral(ctx context.Context, cadastralNumber string, excludeID int64) (models.CadastralCheck, error) {
	var p models.Plot
	err := db.GetContext(ctx, &p,
		"SELECT "+plotColumns+" FROM plots WHERE cadastral_number = ? AND id != ? LIMIT 1",
		cadastralNumber, excludeID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.CadastralCheck{}, nil
	}
	if err != nil {
		return models.CadastralCheck{}, fmt.Errorf("failed to check cadastral number: %w", err)
	}
	return models.CadastralCheck{
		Exists:  true,
		PlotID:  &p.ID,
		Address: p.Address,
		Status:  &p.Status,
	}, nil
}

// SavePlot inserts a plot when its ID is zero and updates it otherwise. The
// ID and timestamps are filled in on p.
func (db *DB) SavePlot(ctx context.Context, p *models.Plot) error {
	ts := now()
	if p.Status == "" {
		p.Status = models.PlotActive
	}

	if p.ID == 0 {
		res, err := db.ExecContext(ctx, `
			INSERT INTO plots (
				cadastral_number, address, area, polygon, centroid_lat, centroid_lng,
				price_public, comment, status, created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			p.CadastralNumber, p.Address, p.Area, p.Polygon, p.CentroidLat, p.CentroidLng,
			p.PricePublic, p.Comment, p.Status, ts, ts,
		)
		if err != nil {
			return fmt.Errorf("failed to insert plot: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to read plot id: %w", err)
		}
		p.ID = id
		p.CreatedAt = ts
		p.UpdatedAt = ts
		return nil
	}

	res, err := db.ExecContext(ctx, `
		UPDATE plots SET
			cadastral_number = ?,
			address = ?,
			area = ?,
			polygon = ?,
			centroid_lat = ?,
			centroid_lng = ?,
			price_public = ?,
			comment = ?,
			status = ?,
			updated_at = ?
		WHERE id = ?`,
		p.CadastralNumber, p.Address, p.Area, p.Polygon, p.CentroidLat, p.CentroidLng,
		p.PricePublic, p.Comment, p.Status, ts, p.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update plot %d: %w", p.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update plot %d: %w", p.ID, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	p.UpdatedAt = ts
	return nil
}

// GetPlotCount returns total number of plots
func (db *DB) GetPlotCount(ctx context.Context) (int, error) {
	var count int
	err := db.GetContext(ctx, &count, "SELECT COUNT(*) FROM plots")
	return count, err
}
