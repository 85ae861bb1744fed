// Package syncstore persists the per-endpoint sync record: the
// high-water mark, last collection attempt, and last error message the
// controller uses to decide what to collect next and to report health
// (spec.md §4.7). The backing store is namespaced per deployment so
// multiple environments can share one backend without key collision.
package syncstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/m-lab/scraper/internal/model"
)

const driverName = "sqlite3"

const schema = `
CREATE TABLE IF NOT EXISTS sync_record (
    namespace TEXT NOT NULL,
    key TEXT NOT NULL,
    last_archived_mtime TEXT NOT NULL DEFAULT '',
    last_archived_date TEXT NOT NULL DEFAULT '',
    last_collection_attempt TEXT NOT NULL DEFAULT '',
    last_error_message TEXT NOT NULL DEFAULT '',
    PRIMARY KEY (namespace, key)
);
`

const maxAttempts = 5

// dbRecord mirrors sync_record's columns. LastArchivedMtime is stored as
// RFC3339 since it needs to round-trip as a time.Time; LastArchivedDate and
// LastCollectionAttempt are the legacy "x..." strings from spec.md §3 and
// are stored and reloaded verbatim.
type dbRecord struct {
	LastArchivedMtime     string `db:"last_archived_mtime"`
	LastArchivedDate      string `db:"last_archived_date"`
	LastCollectionAttempt string `db:"last_collection_attempt"`
	LastErrorMessage      string `db:"last_error_message"`
}

// Store is the abstract key/value contract spec.md §9 describes:
// get(namespace, key) -> record | absent, put(namespace, key, record).
type Store interface {
	Get(ctx context.Context, namespace, key string) (*model.SyncRecord, error)
	Put(ctx context.Context, namespace, key string, rec model.SyncRecord) error
}

// SQLiteStore is a Store backed by a local SQLite file, using the
// pure-Go ncruces/go-sqlite3 driver so the worker binary stays a single
// statically-linked executable with no cgo toolchain requirement.
type SQLiteStore struct {
	db *sqlx.DB
}

// Open creates or opens the sync record database at path.
func Open(path string) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("file:%s?_txlock=immediate&mode=rwc", path)
	db, err := sqlx.Connect(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("syncstore: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("syncstore: init schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Get returns the stored record for namespace/key, or (nil, nil) if absent.
func (s *SQLiteStore) Get(ctx context.Context, namespace, key string) (*model.SyncRecord, error) {
	var row dbRecord
	err := withRetry(func() error {
		return s.db.GetContext(ctx, &row,
			`SELECT last_archived_mtime, last_archived_date, last_collection_attempt, last_error_message
			 FROM sync_record WHERE namespace = ? AND key = ?`, namespace, key)
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("syncstore: get %s/%s: %w", namespace, key, err)
	}
	return rowToRecord(row)
}

// Put inserts or overwrites the record for namespace/key.
func (s *SQLiteStore) Put(ctx context.Context, namespace, key string, rec model.SyncRecord) error {
	row := recordToRow(rec)
	err := withRetry(func() error {
		_, err := s.db.NamedExecContext(ctx, `
			INSERT INTO sync_record (namespace, key, last_archived_mtime, last_archived_date, last_collection_attempt, last_error_message)
			VALUES (:namespace, :key, :last_archived_mtime, :last_archived_date, :last_collection_attempt, :last_error_message)
			ON CONFLICT(namespace, key) DO UPDATE SET
				last_archived_mtime = excluded.last_archived_mtime,
				last_archived_date = excluded.last_archived_date,
				last_collection_attempt = excluded.last_collection_attempt,
				last_error_message = excluded.last_error_message
			`, map[string]any{
			"namespace":                namespace,
			"key":                      key,
			"last_archived_mtime":      row.LastArchivedMtime,
			"last_archived_date":       row.LastArchivedDate,
			"last_collection_attempt":  row.LastCollectionAttempt,
			"last_error_message":       row.LastErrorMessage,
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("syncstore: put %s/%s: %w", namespace, key, err)
	}
	return nil
}

func rowToRecord(row dbRecord) (*model.SyncRecord, error) {
	rec := &model.SyncRecord{
		LastArchivedDate:      row.LastArchivedDate,
		LastCollectionAttempt: row.LastCollectionAttempt,
		LastErrorMessage:      row.LastErrorMessage,
	}
	if row.LastArchivedMtime != "" {
		t, err := time.Parse(time.RFC3339, row.LastArchivedMtime)
		if err != nil {
			return nil, fmt.Errorf("parse last_archived_mtime: %w", err)
		}
		rec.LastArchivedMtime = t
	}
	return rec, nil
}

func recordToRow(rec model.SyncRecord) dbRecord {
	var row dbRecord
	if !rec.LastArchivedMtime.IsZero() {
		row.LastArchivedMtime = rec.LastArchivedMtime.UTC().Format(time.RFC3339)
	}
	row.LastArchivedDate = rec.LastArchivedDate
	row.LastCollectionAttempt = rec.LastCollectionAttempt
	row.LastErrorMessage = rec.LastErrorMessage
	return row
}

// withRetry retries transient SQLite errors (database locked/busy) up to
// maxAttempts times, per spec.md §9's "transient failures must be retried
// by the store client (5 attempts)".
func withRetry(fn func() error) error {
	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err = fn()
		if err == nil || errors.Is(err, sql.ErrNoRows) || !isTransient(err) {
			return err
		}
		slog.Warn("syncstore: transient error, retrying", "attempt", attempt, "error", err)
		time.Sleep(time.Duration(attempt) * 50 * time.Millisecond)
	}
	return err
}

func isTransient(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "locked") || strings.Contains(msg, "busy")
}
