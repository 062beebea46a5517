package db

import (
	"context"
	"embed"
	"fmt"
	"io/fs"

	"github.com/jmoiron/sqlx"
	"github.com/pressly/goose/v3"
)

//go:embed migrations
var migrationsFS embed.FS

// Migrations returns the embedded migration set for one actor kind
// ("magiclink" or "identity").
func Migrations(kind string) (fs.FS, error) {
	sub, err := fs.Sub(migrationsFS, "migrations/"+kind)
	if err != nil {
		return nil, fmt.Errorf("migrations for %q: %w", kind, err)
	}
	return sub, nil
}

// MustMigrations is Migrations for package-level wiring.
func MustMigrations(kind string) fs.FS {
	sub, err := Migrations(kind)
	if err != nil {
		panic(err)
	}
	return sub
}

func dialectFor(driver string) (goose.Dialect, error) {
	switch driver {
	case "postgres":
		return goose.DialectPostgres, nil
	case "sqlite3":
		return goose.DialectSQLite3, nil
	}
	return "", fmt.Errorf("no migration dialect for driver %q", driver)
}

// Migrate brings db up to the latest version in fsys. Each call uses its own
// goose provider, so actors of different dialects can migrate concurrently.
func Migrate(ctx context.Context, db *sqlx.DB, fsys fs.FS) error {
	dialect, err := dialectFor(db.DriverName())
	if err != nil {
		return err
	}
	provider, err := goose.NewProvider(dialect, db.DB, fsys)
	if err != nil {
		return fmt.Errorf("goose provider: %w", err)
	}
	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("goose up: %w", err)
	}
	return nil
}
