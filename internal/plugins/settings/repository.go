package settings

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/keyxmakerx/folio/internal/apperror"
)

// SettingsRepository defines the data access contract for site settings.
type SettingsRepository interface {
	// Get retrieves a single setting value. Returns NotFound if the key does
	// not exist.
	Get(ctx context.Context, key string) (string, error)

	// GetAll returns every setting as a key-value map.
	GetAll(ctx context.Context) (map[string]string, error)

	// SetMany upserts several settings in one transaction.
	SetMany(ctx context.Context, values map[string]string) error
}

type settingsRepository struct {
	db *sql.DB
}

// NewSettingsRepository creates a settings repository backed by MariaDB.
func NewSettingsRepository(db *sql.DB) SettingsRepository {
	return &settingsRepository{db: db}
}

func (r *settingsRepository) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := r.db.QueryRowContext(ctx,
		`SELECT setting_value FROM site_settings WHERE setting_key = ?`, key,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", apperror.NewNotFound(fmt.Sprintf("setting %q not found", key))
	}
	if err != nil {
		return "", apperror.NewInternal(fmt.Errorf("querying setting %q: %w", key, err))
	}
	return value, nil
}

func (r *settingsRepository) GetAll(ctx context.Context) (map[string]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT setting_key, setting_value FROM site_settings`)
	if err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("querying settings: %w", err))
	}
	defer rows.Close()

	result := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, apperror.NewInternal(fmt.Errorf("scanning setting row: %w", err))
		}
		result[key] = value
	}
	if err := rows.Err(); err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("iterating settings: %w", err))
	}
	return result, nil
}

func (r *settingsRepository) SetMany(ctx context.Context, values map[string]string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return apperror.NewInternal(fmt.Errorf("beginning settings tx: %w", err))
	}
	defer tx.Rollback() //nolint:errcheck

	for key, value := range values {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO site_settings (setting_key, setting_value) VALUES (?, ?)
			 ON DUPLICATE KEY UPDATE setting_value = VALUES(setting_value)`,
			key, value,
		); err != nil {
			return apperror.NewInternal(fmt.Errorf("upserting setting %q: %w", key, err))
		}
	}

	if err := tx.Commit(); err != nil {
		return apperror.NewInternal(fmt.Errorf("committing settings: %w", err))
	}
	return nil
}
