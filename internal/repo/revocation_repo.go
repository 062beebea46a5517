package repo

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/signalix/identity/internal/model"
)

// RevocationRepo defines the revoked refresh-token table operations
type RevocationRepo interface {
	Upsert(ctx context.Context, e model.RevocationEntry) error
	IsRevoked(ctx context.Context, jti string) (bool, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

type revocationRepo struct {
	db *sqlx.DB
}

// NewRevocationRepo creates a new RevocationRepo instance
func NewRevocationRepo(db *sqlx.DB) RevocationRepo {
	return &revocationRepo{db: db}
}

// Upsert records jti as revoked. Revoking twice refreshes the timestamps.
func (r *revocationRepo) Upsert(ctx context.Context, e model.RevocationEntry) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO revoked_tokens (jti, revoked_at, expires_at)
		VALUES (?, ?, ?)
		ON CONFLICT (jti) DO UPDATE SET revoked_at = excluded.revoked_at, expires_at = excluded.expires_at
	`), e.JTI, toMillis(e.RevokedAt), toMillis(e.ExpiresAt))
	if err != nil {
		return fmt.Errorf("upsert revocation: %w", err)
	}
	return nil
}

// IsRevoked reports whether jti is on the list
func (r *revocationRepo) IsRevoked(ctx context.Context, jti string) (bool, error) {
	var n int
	err := r.db.GetContext(ctx, &n, r.db.Rebind(`
		SELECT COUNT(*) FROM revoked_tokens WHERE jti = ?
	`), jti)
	if err != nil {
		return false, fmt.Errorf("query revocation: %w", err)
	}
	return n > 0, nil
}

// DeleteExpired purges entries whose token would have expired anyway
func (r *revocationRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`
		DELETE FROM revoked_tokens WHERE expires_at < ?
	`), toMillis(now))
	if err != nil {
		return 0, fmt.Errorf("delete expired revocations: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
