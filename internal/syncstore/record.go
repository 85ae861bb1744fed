package syncstore

import (
	"context"
	"fmt"
	"time"

	"github.com/m-lab/scraper/internal/model"
)

// Record is the controller-facing view of the sync-status store: the four
// operations spec.md §4.7 names, scoped to one (namespace, key) pair for
// the lifetime of a worker process.
type Record struct {
	store     Store
	namespace string
	key       string
}

// NewRecord scopes store to namespace/key, the identity under which this
// worker's sync record lives.
func NewRecord(store Store, namespace, key string) *Record {
	return &Record{store: store, namespace: namespace, key: key}
}

// GetLastArchivedMtime returns the stored high-water mark, or def if no
// record exists yet or the stored value is zero.
func (r *Record) GetLastArchivedMtime(ctx context.Context, def time.Time) (time.Time, error) {
	rec, err := r.store.Get(ctx, r.namespace, r.key)
	if err != nil {
		return time.Time{}, err
	}
	if rec == nil || rec.LastArchivedMtime.IsZero() {
		return def, nil
	}
	return rec.LastArchivedMtime, nil
}

// UpdateLastCollectionAttempt stamps the record with the current wall
// clock, preserving every other field.
func (r *Record) UpdateLastCollectionAttempt(ctx context.Context, now time.Time) error {
	rec, err := r.load(ctx)
	if err != nil {
		return err
	}
	rec.LastCollectionAttempt = model.FormatCollectionAttempt(now)
	return r.store.Put(ctx, r.namespace, r.key, *rec)
}

// UpdateLastArchived atomically (from the controller's perspective) writes
// both the archived-date string and the high-water mark.
func (r *Record) UpdateLastArchived(ctx context.Context, date string, mtime time.Time) error {
	rec, err := r.load(ctx)
	if err != nil {
		return err
	}
	rec.LastArchivedDate = date
	rec.LastArchivedMtime = mtime.UTC()
	return r.store.Put(ctx, r.namespace, r.key, *rec)
}

// UpdateError writes a truncated error message, or clears it with an
// empty string.
func (r *Record) UpdateError(ctx context.Context, message string) error {
	rec, err := r.load(ctx)
	if err != nil {
		return err
	}
	if len(message) > model.MaxErrorMessageBytes {
		message = message[:model.MaxErrorMessageBytes]
	}
	rec.LastErrorMessage = message
	return r.store.Put(ctx, r.namespace, r.key, *rec)
}

func (r *Record) load(ctx context.Context) (*model.SyncRecord, error) {
	rec, err := r.store.Get(ctx, r.namespace, r.key)
	if err != nil {
		return nil, fmt.Errorf("syncstore: load %s/%s: %w", r.namespace, r.key, err)
	}
	if rec == nil {
		rec = &model.SyncRecord{}
	}
	return rec, nil
}
