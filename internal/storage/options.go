package storage

import (
	"context"
	"errors"
	"strconv"

	"github.com/micro-ha/hive-bridge/internal/model"
)

const optionScanInterval = "scan_interval_sec"

// LoadOptions returns the stored user options; missing values stay zero.
func (r *Repository) LoadOptions(ctx context.Context) (model.IntegrationOptions, error) {
	var opts model.IntegrationOptions
	value, err := r.loadOption(ctx, optionScanInterval)
	switch {
	case errors.Is(err, ErrNotFound):
		return opts, nil
	case err != nil:
		return opts, err
	}
	seconds, err := strconv.Atoi(value)
	if err == nil {
		opts.ScanIntervalSec = seconds
	}
	return opts, nil
}

// SaveOptions persists the user options.
func (r *Repository) SaveOptions(ctx context.Context, opts model.IntegrationOptions) error {
	return r.saveOption(ctx, optionScanInterval, strconv.Itoa(opts.ScanIntervalSec))
}

func (r *Repository) loadOption(ctx context.Context, key string) (string, error) {
	var value string
	if err := r.db.QueryRowContext(ctx, `SELECT value FROM options WHERE key = ?`, key).Scan(&value); err != nil {
		return "", notFound(err)
	}
	return value, nil
}

func (r *Repository) saveOption(ctx context.Context, key, value string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO options (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at`,
		key, value, nowText())
	return err
}
