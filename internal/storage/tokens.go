package storage

import (
	"context"
	"errors"
	"time"

	"github.com/micro-ha/hive-bridge/internal/model"
)

// ErrTokensNotAuthenticated rejects token sets that are mid-challenge or incomplete.
var ErrTokensNotAuthenticated = errors.New("token set is not authenticated")

// LoadTokens returns the last persisted token set, or nil when none exists.
func (r *Repository) LoadTokens(ctx context.Context) (*model.TokenSet, error) {
	var (
		tokens    model.TokenSet
		expiresAt string
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT access_token, refresh_token, id_token, expires_at FROM tokens WHERE id = 1`).
		Scan(&tokens.AccessToken, &tokens.RefreshToken, &tokens.IDToken, &expiresAt)
	if err != nil {
		if errors.Is(notFound(err), ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	tokens.Expiry = parseTime(expiresAt)
	return &tokens, nil
}

// SaveTokens persists an authenticated token set. Pending challenges are never stored.
func (r *Repository) SaveTokens(ctx context.Context, tokens model.TokenSet) error {
	if !tokens.Authenticated() {
		return ErrTokensNotAuthenticated
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO tokens (id, access_token, refresh_token, id_token, expires_at, updated_at)
		VALUES (1, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			access_token=excluded.access_token,
			refresh_token=excluded.refresh_token,
			id_token=excluded.id_token,
			expires_at=excluded.expires_at,
			updated_at=excluded.updated_at`,
		tokens.AccessToken,
		tokens.RefreshToken,
		tokens.IDToken,
		tokens.Expiry.UTC().Format(time.RFC3339Nano),
		nowText(),
	)
	return err
}

// ClearTokens forgets the stored token set.
func (r *Repository) ClearTokens(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM tokens WHERE id = 1`)
	return err
}
