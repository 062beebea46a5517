package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/signalix/identity/internal/model"
)

// TokenRepo defines the magic-link token table operations
type TokenRepo interface {
	Create(ctx context.Context, t model.MagicLinkToken) error
	Get(ctx context.Context, token string) (model.MagicLinkToken, error)
	IncrementAttempts(ctx context.Context, token string) (newAttempts int, err error)
	MarkUsed(ctx context.Context, token string, usedAt time.Time) error
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

type tokenRepo struct {
	db *sqlx.DB
}

// NewTokenRepo creates a new TokenRepo instance
func NewTokenRepo(db *sqlx.DB) TokenRepo {
	return &tokenRepo{db: db}
}

type tokenRow struct {
	Token       string         `db:"token"`
	Email       string         `db:"email"`
	AppID       sql.NullString `db:"app_id"`
	RedirectURI sql.NullString `db:"redirect_uri"`
	CreatedAt   int64          `db:"created_at"`
	ExpiresAt   int64          `db:"expires_at"`
	Attempts    int            `db:"attempts"`
	UsedAt      sql.NullInt64  `db:"used_at"`
}

func (r tokenRow) model() model.MagicLinkToken {
	return model.MagicLinkToken{
		Token:       r.Token,
		Email:       r.Email,
		AppID:       stringPtr(r.AppID),
		RedirectURI: stringPtr(r.RedirectURI),
		CreatedAt:   fromMillis(r.CreatedAt),
		ExpiresAt:   fromMillis(r.ExpiresAt),
		Attempts:    r.Attempts,
		UsedAt:      timePtr(r.UsedAt),
	}
}

// Create inserts a freshly issued token
func (r *tokenRepo) Create(ctx context.Context, t model.MagicLinkToken) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO magic_link_tokens (token, email, app_id, redirect_uri, created_at, expires_at, attempts, used_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`), t.Token, t.Email, nullString(t.AppID), nullString(t.RedirectURI),
		toMillis(t.CreatedAt), toMillis(t.ExpiresAt), t.Attempts, nullMillis(t.UsedAt))
	if err != nil {
		return fmt.Errorf("insert token: %w", err)
	}
	return nil
}

// Get returns the token row regardless of its state
func (r *tokenRepo) Get(ctx context.Context, token string) (model.MagicLinkToken, error) {
	var row tokenRow
	err := r.db.GetContext(ctx, &row, r.db.Rebind(`
		SELECT token, email, app_id, redirect_uri, created_at, expires_at, attempts, used_at
		FROM magic_link_tokens
		WHERE token = ?
	`), token)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.MagicLinkToken{}, ErrNotFound
		}
		return model.MagicLinkToken{}, fmt.Errorf("query token: %w", err)
	}
	return row.model(), nil
}

// IncrementAttempts bumps attempts by one and returns the new count.
func (r *tokenRepo) IncrementAttempts(ctx context.Context, token string) (int, error) {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`
		UPDATE magic_link_tokens SET attempts = attempts + 1 WHERE token = ?
	`), token)
	if err != nil {
		return 0, fmt.Errorf("increment attempts: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return 0, ErrNotFound
	}
	var attempts int
	if err := r.db.GetContext(ctx, &attempts, r.db.Rebind(`
		SELECT attempts FROM magic_link_tokens WHERE token = ?
	`), token); err != nil {
		return 0, fmt.Errorf("read attempts: %w", err)
	}
	return attempts, nil
}

// MarkUsed sets used_at, only if the token has not been used yet.
// Returns ErrConflict when it already was.
func (r *tokenRepo) MarkUsed(ctx context.Context, token string, usedAt time.Time) error {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`
		UPDATE magic_link_tokens SET used_at = ? WHERE token = ? AND used_at IS NULL
	`), toMillis(usedAt), token)
	if err != nil {
		return fmt.Errorf("mark used: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrConflict
	}
	return nil
}

// DeleteExpired removes every token past expires_at, used or not.
func (r *tokenRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`
		DELETE FROM magic_link_tokens WHERE expires_at < ?
	`), toMillis(now))
	if err != nil {
		return 0, fmt.Errorf("delete expired tokens: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
