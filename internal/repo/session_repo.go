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

// SessionRepo defines the session table operations of one identity store
type SessionRepo interface {
	Create(ctx context.Context, s model.Session) error
	GetByID(ctx context.Context, id string) (model.Session, error)
	GetByRefreshTokenID(ctx context.Context, refreshTokenID string) (model.Session, error)
	Touch(ctx context.Context, id string, lastAccessedAt time.Time) (model.Session, error)
	List(ctx context.Context) ([]model.Session, error)
	Delete(ctx context.Context, id string) (model.Session, error)
	DeleteAll(ctx context.Context) ([]model.Session, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

type sessionRepo struct {
	db *sqlx.DB
}

// NewSessionRepo creates a new SessionRepo instance
func NewSessionRepo(db *sqlx.DB) SessionRepo {
	return &sessionRepo{db: db}
}

const sessionColumns = `id, user_id, refresh_token_id, app_id, created_at, last_accessed_at, expires_at, ip_address, user_agent`

type sessionRow struct {
	ID             string         `db:"id"`
	UserID         string         `db:"user_id"`
	RefreshTokenID string         `db:"refresh_token_id"`
	AppID          sql.NullString `db:"app_id"`
	CreatedAt      int64          `db:"created_at"`
	LastAccessedAt int64          `db:"last_accessed_at"`
	ExpiresAt      int64          `db:"expires_at"`
	IPAddress      sql.NullString `db:"ip_address"`
	UserAgent      sql.NullString `db:"user_agent"`
}

func (r sessionRow) model() model.Session {
	return model.Session{
		ID:             r.ID,
		UserID:         r.UserID,
		RefreshTokenID: r.RefreshTokenID,
		AppID:          stringPtr(r.AppID),
		CreatedAt:      fromMillis(r.CreatedAt),
		LastAccessedAt: fromMillis(r.LastAccessedAt),
		ExpiresAt:      fromMillis(r.ExpiresAt),
		IPAddress:      stringPtr(r.IPAddress),
		UserAgent:      stringPtr(r.UserAgent),
	}
}

func sessionModels(rows []sessionRow) []model.Session {
	out := make([]model.Session, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.model())
	}
	return out
}

// Create inserts a new session
func (r *sessionRepo) Create(ctx context.Context, s model.Session) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO sessions (`+sessionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), s.ID, s.UserID, s.RefreshTokenID, nullString(s.AppID), toMillis(s.CreatedAt),
		toMillis(s.LastAccessedAt), toMillis(s.ExpiresAt), nullString(s.IPAddress), nullString(s.UserAgent))
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (r *sessionRepo) getBy(ctx context.Context, column, value string) (model.Session, error) {
	var row sessionRow
	err := r.db.GetContext(ctx, &row, r.db.Rebind(`SELECT `+sessionColumns+` FROM sessions WHERE `+column+` = ?`), value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Session{}, ErrNotFound
		}
		return model.Session{}, fmt.Errorf("find session: %w", err)
	}
	return row.model(), nil
}

// GetByID returns the session with the given id
func (r *sessionRepo) GetByID(ctx context.Context, id string) (model.Session, error) {
	return r.getBy(ctx, "id", id)
}

// GetByRefreshTokenID returns the session linked to a refresh token jti
func (r *sessionRepo) GetByRefreshTokenID(ctx context.Context, refreshTokenID string) (model.Session, error) {
	return r.getBy(ctx, "refresh_token_id", refreshTokenID)
}

// Touch sets last_accessed_at and returns the updated session
func (r *sessionRepo) Touch(ctx context.Context, id string, lastAccessedAt time.Time) (model.Session, error) {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`
		UPDATE sessions SET last_accessed_at = ? WHERE id = ?
	`), toMillis(lastAccessedAt), id)
	if err != nil {
		return model.Session{}, fmt.Errorf("touch session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.Session{}, ErrNotFound
	}
	return r.GetByID(ctx, id)
}

// List returns all sessions, most recently used first
func (r *sessionRepo) List(ctx context.Context) ([]model.Session, error) {
	var rows []sessionRow
	err := r.db.SelectContext(ctx, &rows, `SELECT `+sessionColumns+` FROM sessions ORDER BY last_accessed_at DESC, created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return sessionModels(rows), nil
}

// Delete removes one session and returns what was removed
func (r *sessionRepo) Delete(ctx context.Context, id string) (model.Session, error) {
	s, err := r.GetByID(ctx, id)
	if err != nil {
		return model.Session{}, err
	}
	if _, err := r.db.ExecContext(ctx, r.db.Rebind(`DELETE FROM sessions WHERE id = ?`), id); err != nil {
		return model.Session{}, fmt.Errorf("delete session: %w", err)
	}
	return s, nil
}

// DeleteAll removes every session and returns what was removed
func (r *sessionRepo) DeleteAll(ctx context.Context) ([]model.Session, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var rows []sessionRow
	if err := tx.SelectContext(ctx, &rows, `SELECT `+sessionColumns+` FROM sessions`); err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM sessions`); err != nil {
		return nil, fmt.Errorf("delete sessions: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return sessionModels(rows), nil
}

// DeleteExpired removes sessions past expires_at
func (r *sessionRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`DELETE FROM sessions WHERE expires_at < ?`), toMillis(now))
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
