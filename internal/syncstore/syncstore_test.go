package syncstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/m-lab/scraper/internal/model"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sync.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestGetAbsentReturnsNil(t *testing.T) {
	s := openTestStore(t)
	rec, err := s.Get(context.Background(), "ns", "mlab1.acc01.measurement-lab.org")
	require.NoError(t, err)
	require.Nil(t, rec)
}

func TestPutThenGetRoundTrips(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	mtime := time.Date(2016, 1, 28, 15, 0, 0, 0, time.UTC)
	attempt := time.Date(2016, 1, 28, 15, 5, 0, 0, time.UTC)

	r := NewRecord(s, "ns", "mlab1.acc01.measurement-lab.org")
	require.NoError(t, r.UpdateLastCollectionAttempt(ctx, attempt))
	require.NoError(t, r.UpdateLastArchived(ctx, "x2016-01-28", mtime))
	require.NoError(t, r.UpdateError(ctx, "boom"))

	rec, err := s.Get(ctx, "ns", "mlab1.acc01.measurement-lab.org")
	require.NoError(t, err)
	require.NotNil(t, rec)
	require.True(t, mtime.Equal(rec.LastArchivedMtime))
	require.Equal(t, model.FormatCollectionAttempt(attempt), rec.LastCollectionAttempt)
	require.Equal(t, "x2016-01-28", rec.LastArchivedDate)
	require.Equal(t, "boom", rec.LastErrorMessage)
}

func TestUpdateErrorClearsWithEmptyString(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	r := NewRecord(s, "ns", "key")
	require.NoError(t, r.UpdateError(ctx, "boom"))
	require.NoError(t, r.UpdateError(ctx, ""))

	rec, err := s.Get(ctx, "ns", "key")
	require.NoError(t, err)
	require.Equal(t, "", rec.LastErrorMessage)
}

func TestGetLastArchivedMtimeDefaultsWhenAbsent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	r := NewRecord(s, "ns", "key")
	def := time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)

	got, err := r.GetLastArchivedMtime(ctx, def)
	require.NoError(t, err)
	require.True(t, def.Equal(got))
}

func TestNamespacesDoNotCollide(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	mtime := time.Date(2016, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, NewRecord(s, "ns-a", "key").UpdateLastArchived(ctx, "x2016-01-01", mtime))
	rec, err := s.Get(ctx, "ns-b", "key")
	require.NoError(t, err)
	require.Nil(t, rec)
}
