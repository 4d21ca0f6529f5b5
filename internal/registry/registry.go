// Package registry persists the key/path table of locked items in SQLite.
package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	apperrors "filelocker/internal/errors"
	"filelocker/internal/registry/migrations"
	"filelocker/internal/trailer"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite" // register driver
)

// Entry is one locked item.
type Entry struct {
	ID           string
	Path         string // container path
	OriginalName string
	FileType     trailer.FileType
	CreatedAt    time.Time
}

// Store is a SQLite-backed item registry.
type Store struct {
	db *sql.DB
}

// gooseUpContext is a seam for testing goose.UpContext.
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

// RunMigrations applies the embedded migrations to db.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	if err := gooseUpContext(ctx, db, "."); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// Open opens (creating if needed) the database at dsn and migrates it.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open registry: %w", err)
	}
	// A single connection keeps ":memory:" databases alive and serializes writers.
	db.SetMaxOpenConns(1)

	if err := RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return New(db), nil
}

// New wraps an already migrated database.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Put inserts e or replaces the entry with the same ID.
func (s *Store) Put(ctx context.Context, e Entry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}

	query := `INSERT INTO items (id, path, original_name, file_type, created_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET path = excluded.path,
				original_name = excluded.original_name,
				file_type = excluded.file_type`
	_, err := s.db.ExecContext(ctx, query, e.ID, e.Path, e.OriginalName, int(e.FileType), e.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to upsert item: %w", err)
	}
	return nil
}

// Get returns the entry with the given ID.
func (s *Store) Get(ctx context.Context, id string) (*Entry, error) {
	query := `SELECT id, path, original_name, file_type, created_at FROM items WHERE id = ?`
	e, err := scanEntry(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("item %s: %w", id, apperrors.ErrFileNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get item: %w", err)
	}
	return e, nil
}

// Delete removes the entry with the given ID. Deleting a missing entry is not an error.
func (s *Store) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM items WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete item: %w", err)
	}
	return nil
}

// All returns every entry, oldest first.
func (s *Store) All(ctx context.Context) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, path, original_name, file_type, created_at FROM items ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("error selecting items: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning item: %w", err)
		}
		out = append(out, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating items: %w", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (*Entry, error) {
	var (
		e       Entry
		ft      int
		created int64
	)
	if err := row.Scan(&e.ID, &e.Path, &e.OriginalName, &ft, &created); err != nil {
		return nil, err
	}
	e.FileType = trailer.FileType(ft)
	e.CreatedAt = time.UnixMilli(created)
	return &e, nil
}
