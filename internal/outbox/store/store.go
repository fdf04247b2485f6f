// Package store provides the durable queue store for outbox items.
//
// The store is a local SQLite database (ncruces/go-sqlite3 embedded driver)
// opened in WAL mode. It deliberately exposes only two operations: read the
// whole queue, and atomically replace the whole queue. All mutation —
// coalescing, status transitions, retargeting — is expressed upstream as
// read-compute-replace, so a single transaction per replace is the only
// write path and partial-write corruption cannot occur.
//
// The store does not serialize concurrent read-modify-write cycles; that
// discipline belongs to the queue layer, which owns the single-writer lock.
// Storage errors propagate raw to the caller — retry policy lives with the
// drain worker, not here.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/fieldops/fieldsync/internal/outbox"
)

// DB wraps the SQLite connection holding the persisted outbox queue.
type DB struct {
	conn *sql.DB
	path string
}

// Open creates or opens the queue database at the specified path.
//
// The database is opened in WAL mode with a busy timeout so a concurrent
// reader (the status dashboard, the CLI) never fails on a writer's
// transaction. The caller MUST call Close() when done.
//
// Example:
//
//	db, err := store.Open(".fieldsync/outbox.db")
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
func Open(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", fmt.Sprintf("file:%s", path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db := &DB{conn: conn, path: path}

	if _, err := db.conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if _, err := db.conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	return db, nil
}

// Close closes the database connection, checkpointing the WAL first so all
// queued mutations are in the main file before the process exits.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}

	if _, err := db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}

	if err := db.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	db.conn = nil
	return nil
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

// InitSchema creates the queue table if it doesn't exist. Idempotent.
func (db *DB) InitSchema() error {
	return db.InitSchemaContext(context.Background())
}

// InitSchemaContext creates the queue table with context support.
//
// position records insertion order; replay order is position order, and
// ReplaceQueue renumbers from zero so order survives coalescing rewrites.
func (db *DB) InitSchemaContext(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS outbox_items (
		position   INTEGER PRIMARY KEY,
		uid        TEXT NOT NULL UNIQUE,
		status     TEXT NOT NULL DEFAULT 'pending',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		payload    TEXT NOT NULL  -- JSON
	);

	CREATE INDEX IF NOT EXISTS idx_outbox_status ON outbox_items(status);
	`

	if _, err := db.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	return nil
}

// ReadQueue returns the full queue in insertion order.
//
// The read is non-destructive and reflects the latest committed replace.
func (db *DB) ReadQueue() ([]outbox.Item, error) {
	return db.ReadQueueContext(context.Background())
}

// ReadQueueContext returns the full queue with context support.
func (db *DB) ReadQueueContext(ctx context.Context) ([]outbox.Item, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT uid, status, created_at, updated_at, payload
		FROM outbox_items
		ORDER BY position ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to read queue: %w", err)
	}
	defer rows.Close()

	var items []outbox.Item
	for rows.Next() {
		var (
			item       outbox.Item
			status     string
			payloadStr string
		)
		if err := rows.Scan(&item.UID, &status, &item.CreatedAt, &item.UpdatedAt, &payloadStr); err != nil {
			return nil, fmt.Errorf("failed to scan queue row: %w", err)
		}
		item.Status = outbox.Status(status)

		if err := json.Unmarshal([]byte(payloadStr), &item.Payload); err != nil {
			return nil, fmt.Errorf("failed to decode payload for item %s: %w", item.UID, err)
		}

		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate queue rows: %w", err)
	}

	return items, nil
}

// ReplaceQueue atomically overwrites the full queue with items, preserving
// the given slice order as the new insertion order.
func (db *DB) ReplaceQueue(items []outbox.Item) error {
	return db.ReplaceQueueContext(context.Background(), items)
}

// ReplaceQueueContext atomically overwrites the full queue with context support.
func (db *DB) ReplaceQueueContext(ctx context.Context, items []outbox.Item) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM outbox_items"); err != nil {
		return fmt.Errorf("failed to clear queue: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO outbox_items (position, uid, status, created_at, updated_at, payload)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, item := range items {
		payload, err := json.Marshal(item.Payload)
		if err != nil {
			return fmt.Errorf("failed to encode payload for item %s: %w", item.UID, err)
		}

		if _, err := stmt.ExecContext(ctx, i, item.UID, string(item.Status),
			item.CreatedAt, item.UpdatedAt, string(payload)); err != nil {
			return fmt.Errorf("failed to insert item %s: %w", item.UID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit queue replace: %w", err)
	}

	return nil
}
