// Package store persists signals, trades, and order snapshots as JSON
// documents in sqlite. The only concurrency primitive the lifecycle depends
// on is CreateIfAbsent, which is atomic at the database level.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

var (
	ErrNotFound = errors.New("document not found")
)

const schema = `
PRAGMA journal_mode=WAL;

CREATE TABLE IF NOT EXISTS documents (
    collection TEXT NOT NULL,
    key        TEXT NOT NULL,
    doc        TEXT NOT NULL,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (collection, key)
);
`

// DB is a small document store over a single sqlite table.
type DB struct {
	db *sql.DB
}

// Open opens (and creates if needed) the store at path. ":memory:" is
// supported for tests.
func Open(path string) (*DB, error) {
	if path == "" {
		return nil, errors.New("store path is empty")
	}

	if dir := filepath.Dir(path); path != ":memory:" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite prefers single writer.
	db.SetConnMaxLifetime(time.Hour)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &DB{db: db}, nil
}

// Close releases the underlying handle.
func (d *DB) Close() error {
	if d == nil || d.db == nil {
		return nil
	}
	return d.db.Close()
}

// CreateIfAbsent inserts the document only when the key does not exist yet
// and reports whether it was created. An existing key is not an error.
func (d *DB) CreateIfAbsent(ctx context.Context, collection, key string, doc any) (bool, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return false, fmt.Errorf("marshal document: %w", err)
	}

	res, err := d.db.ExecContext(ctx, `
		INSERT INTO documents (collection, key, doc)
		VALUES (?, ?, ?)
		ON CONFLICT(collection, key) DO NOTHING
	`, collection, key, string(data))
	if err != nil {
		return false, fmt.Errorf("insert document: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

// Get unmarshals the document at (collection, key) into out.
func (d *DB) Get(ctx context.Context, collection, key string, out any) error {
	var data string
	err := d.db.QueryRowContext(ctx, `
		SELECT doc FROM documents WHERE collection = ? AND key = ?
	`, collection, key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("select document: %w", err)
	}
	return json.Unmarshal([]byte(data), out)
}

// Put writes the document unconditionally, creating or replacing it.
func (d *DB) Put(ctx context.Context, collection, key string, doc any) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal document: %w", err)
	}

	_, err = d.db.ExecContext(ctx, `
		INSERT INTO documents (collection, key, doc)
		VALUES (?, ?, ?)
		ON CONFLICT(collection, key) DO UPDATE SET
			doc = excluded.doc,
			updated_at = CURRENT_TIMESTAMP
	`, collection, key, string(data))
	if err != nil {
		return fmt.Errorf("upsert document: %w", err)
	}
	return nil
}

// Patch applies a partial update to an existing document via json_patch.
// Array-valued fields are replaced wholesale, which is what signal-ref
// updates rely on.
func (d *DB) Patch(ctx context.Context, collection, key string, partial map[string]any) error {
	data, err := json.Marshal(partial)
	if err != nil {
		return fmt.Errorf("marshal patch: %w", err)
	}

	res, err := d.db.ExecContext(ctx, `
		UPDATE documents
		SET doc = json_patch(doc, ?), updated_at = CURRENT_TIMESTAMP
		WHERE collection = ? AND key = ?
	`, string(data), collection, key)
	if err != nil {
		return fmt.Errorf("patch document: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// query runs a SQL predicate over one collection and hands each (key, doc)
// pair to scan.
func (d *DB) query(ctx context.Context, where string, args []any, scan func(key, doc string) error) error {
	rows, err := d.db.QueryContext(ctx, `
		SELECT key, doc FROM documents WHERE `+where, args...)
	if err != nil {
		return fmt.Errorf("query documents: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var key, doc string
		if err := rows.Scan(&key, &doc); err != nil {
			return fmt.Errorf("scan document: %w", err)
		}
		if err := scan(key, doc); err != nil {
			return err
		}
	}
	return rows.Err()
}
