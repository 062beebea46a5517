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

// UserRepo defines the user table operations of one identity store.
// Each store holds at most one user.
type UserRepo interface {
	Get(ctx context.Context) (model.User, error)
	Create(ctx context.Context, u model.User) error
	UpdateDisplayName(ctx context.Context, displayName string, now time.Time) error
	UpdatePreferences(ctx context.Context, prefs model.Preferences, now time.Time) error
}

type userRepo struct {
	db *sqlx.DB
}

// NewUserRepo creates a new UserRepo instance
func NewUserRepo(db *sqlx.DB) UserRepo {
	return &userRepo{db: db}
}

type userRow struct {
	ID                 string `db:"id"`
	Email              string `db:"email"`
	DisplayName        string `db:"display_name"`
	Theme              string `db:"theme"`
	EmailNotifications int    `db:"email_notifications"`
	CreatedAt          int64  `db:"created_at"`
	UpdatedAt          int64  `db:"updated_at"`
}

func (r userRow) model() model.User {
	return model.User{
		ID:          r.ID,
		Email:       r.Email,
		DisplayName: r.DisplayName,
		CreatedAt:   fromMillis(r.CreatedAt),
		UpdatedAt:   fromMillis(r.UpdatedAt),
		Preferences: model.Preferences{
			Theme:              model.Theme(r.Theme),
			EmailNotifications: r.EmailNotifications != 0,
		},
	}
}

// Get returns the store's user
func (r *userRepo) Get(ctx context.Context) (model.User, error) {
	var row userRow
	err := r.db.GetContext(ctx, &row, `
		SELECT id, email, display_name, theme, email_notifications, created_at, updated_at
		FROM users
		ORDER BY created_at
		LIMIT 1
	`)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.User{}, ErrNotFound
		}
		return model.User{}, fmt.Errorf("failed to query user: %w", err)
	}
	return row.model(), nil
}

// Create inserts the user; the first write wins and later ones get ErrConflict.
func (r *userRepo) Create(ctx context.Context, u model.User) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var n int
	if err := tx.GetContext(ctx, &n, `SELECT COUNT(*) FROM users`); err != nil {
		return fmt.Errorf("count users: %w", err)
	}
	if n > 0 {
		return ErrConflict
	}

	_, err = tx.ExecContext(ctx, tx.Rebind(`
		INSERT INTO users (id, email, display_name, theme, email_notifications, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`), u.ID, u.Email, u.DisplayName, string(u.Preferences.Theme), boolInt(u.Preferences.EmailNotifications),
		toMillis(u.CreatedAt), toMillis(u.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert user: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// UpdateDisplayName sets the display name and bumps updated_at
func (r *userRepo) UpdateDisplayName(ctx context.Context, displayName string, now time.Time) error {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`
		UPDATE users SET display_name = ?, updated_at = ?
	`), displayName, toMillis(now))
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdatePreferences replaces the preferences and bumps updated_at
func (r *userRepo) UpdatePreferences(ctx context.Context, prefs model.Preferences, now time.Time) error {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`
		UPDATE users SET theme = ?, email_notifications = ?, updated_at = ?
	`), string(prefs.Theme), boolInt(prefs.EmailNotifications), toMillis(now))
	if err != nil {
		return fmt.Errorf("update preferences: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
