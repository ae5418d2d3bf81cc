package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"land-search/internal/models"
)

// ListSettings returns all settings ordered by key
func (db *DB) ListSettings(ctx context.Context) ([]models.Setting, error) {
	settings := []models.Setting{}
	err := db.SelectContext(ctx, &settings, "SELECT key, value, description, updated_at FROM settings ORDER BY key")
	if err != nil {
		return nil, fmt.Errorf("failed to list settings: %w", err)
	}
	return settings, nil
}

// GetSetting returns one setting
func (db *DB) GetSetting(ctx context.Context, key string) (*models.Setting, error) {
	var s models.Setting
	err := db.GetContext(ctx, &s, "SELECT key, value, description, updated_at FROM settings WHERE key = ?", key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get setting %s: %w", key, err)
	}
	return &s, nil
}

// SetSetting creates or updates a setting. A nil description keeps the stored one.
func (db *DB) SetSetting(ctx context.Context, key string, value, description *string) (*models.Setting, error) {
	_, err := db.ExecContext(ctx, `
		INSERT INTO settings (key, value, description, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			description = COALESCE(excluded.description, settings.description),
			updated_at = excluded.updated_at
	`, key, value, description, now())
	if err != nil {
		return nil, fmt.Errorf("failed to save setting %s: %w", key, err)
	}
	return db.GetSetting(ctx, key)
}

// EnsureSetting inserts a setting unless the key already exists. It reports
// whether a row was written.
func (db *DB) EnsureSetting(ctx context.Context, key, value, description string) (bool, error) {
	res, err := db.ExecContext(ctx, `
		INSERT INTO settings (key, value, description, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO NOTHING
	`, key, value, description, now())
	if err != nil {
		return false, fmt.Errorf("failed to seed setting %s: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// SettingsMap returns all non-null settings as key/value pairs
func (db *DB) SettingsMap(ctx context.Context) (map[string]string, error) {
	settings, err := db.ListSettings(ctx)
	if err != nil {
		return nil, err
	}
	m := make(map[string]string, len(settings))
	for _, s := range settings {
		if s.Value != nil {
			m[s.Key] = *s.Value
		}
	}
	return m, nil
}
