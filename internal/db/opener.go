package db

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// SQLiteOpener gives every actor key its own SQLite file under Dir/<namespace>/.
type SQLiteOpener struct {
	Dir string
}

// NewSQLiteOpener returns an opener rooted at dir.
func NewSQLiteOpener(dir string) *SQLiteOpener {
	return &SQLiteOpener{Dir: dir}
}

func (o *SQLiteOpener) path(namespace, key string) string {
	return filepath.Join(o.Dir, namespace, hex.EncodeToString([]byte(key))+".db")
}

// Open opens the database file for (namespace, key).
func (o *SQLiteOpener) Open(ctx context.Context, namespace, key string) (*sqlx.DB, error) {
	if err := os.MkdirAll(filepath.Join(o.Dir, namespace), 0o700); err != nil {
		return nil, fmt.Errorf("create actor dir: %w", err)
	}
	return OpenSQLite(ctx, o.path(namespace, key))
}

// Keys lists every key that has a database file in namespace.
func (o *SQLiteOpener) Keys(_ context.Context, namespace string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(o.Dir, namespace))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list actor dir: %w", err)
	}
	keys := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".db") {
			continue
		}
		raw, err := hex.DecodeString(strings.TrimSuffix(name, ".db"))
		if err != nil {
			continue
		}
		keys = append(keys, string(raw))
	}
	sort.Strings(keys)
	return keys, nil
}

// PostgresOpener gives every actor key its own schema in one Postgres
// database. A catalog table in the public schema records which keys exist.
type PostgresOpener struct {
	root        *sqlx.DB
	databaseURL string
}

// NewPostgresOpener prepares the catalog table using root.
func NewPostgresOpener(ctx context.Context, root *sqlx.DB, databaseURL string) (*PostgresOpener, error) {
	_, err := root.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS public.actor_catalog (
			namespace   TEXT NOT NULL,
			actor_key   TEXT NOT NULL,
			schema_name TEXT NOT NULL,
			created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (namespace, actor_key)
		)
	`)
	if err != nil {
		return nil, fmt.Errorf("create actor catalog: %w", err)
	}
	return &PostgresOpener{root: root, databaseURL: databaseURL}, nil
}

func schemaName(namespace, key string) string {
	sum := sha256.Sum256([]byte(key))
	return "actor_" + namespace + "_" + hex.EncodeToString(sum[:12])
}

// Open ensures the key's schema exists and returns a pool pinned to it.
func (o *PostgresOpener) Open(ctx context.Context, namespace, key string) (*sqlx.DB, error) {
	schema := schemaName(namespace, key)
	if _, err := o.root.ExecContext(ctx, "CREATE SCHEMA IF NOT EXISTS "+pq.QuoteIdentifier(schema)); err != nil {
		return nil, fmt.Errorf("create schema %s: %w", schema, err)
	}
	_, err := o.root.ExecContext(ctx, `
		INSERT INTO public.actor_catalog (namespace, actor_key, schema_name)
		VALUES ($1, $2, $3)
		ON CONFLICT (namespace, actor_key) DO NOTHING
	`, namespace, key, schema)
	if err != nil {
		return nil, fmt.Errorf("register actor %s/%s: %w", namespace, schema, err)
	}
	return OpenPostgres(ctx, withSearchPath(o.databaseURL, schema), ActorPool)
}

// Keys lists the catalogued keys of namespace.
func (o *PostgresOpener) Keys(ctx context.Context, namespace string) ([]string, error) {
	var keys []string
	err := o.root.SelectContext(ctx, &keys, `
		SELECT actor_key FROM public.actor_catalog
		WHERE namespace = $1
		ORDER BY actor_key
	`, namespace)
	if err != nil {
		return nil, fmt.Errorf("list actor catalog: %w", err)
	}
	return keys, nil
}
