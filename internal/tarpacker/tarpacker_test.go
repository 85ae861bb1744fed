package tarpacker

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/m-lab/scraper/internal/model"
)

func writeFile(t *testing.T, dir, rel string, mtime time.Time, size int) {
	t.Helper()
	full := filepath.Join(dir, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, make([]byte, size), 0o644))
	require.NoError(t, os.Chtimes(full, mtime, mtime))
}

func TestArchiveFilename(t *testing.T) {
	mtime := time.Date(2016, 1, 28, 15, 0, 0, 0, time.UTC)
	got := archiveFilename(mtime, "mlab1", "acc01", "ndt", 0)
	require.Equal(t, "20160128T150000Z-mlab1-acc01-ndt-0000.tgz", got)
}

// TestSameSecondNeverSplits exercises seed scenario 2 from spec.md §8:
// five 1 KB files at seconds T, T, T+1, T+2, T+2 with a 2048-byte budget
// must produce exactly three archives: {T,T}, {T+1}, {T+2,T+2} — the
// first of which overshoots the budget to preserve the same-second rule.
func TestSameSecondNeverSplits(t *testing.T) {
	if _, err := os.Stat("/bin/tar"); err != nil {
		t.Skip("tar binary not available in this environment")
	}
	dir := t.TempDir()
	base := time.Date(2016, 1, 28, 0, 0, 0, 0, time.UTC)

	writeFile(t, dir, "2016/01/28/a1", base, 1024)
	writeFile(t, dir, "2016/01/28/a2", base, 1024)
	writeFile(t, dir, "2016/01/28/b1", base.Add(time.Second), 1024)
	writeFile(t, dir, "2016/01/28/c1", base.Add(2*time.Second), 1024)
	writeFile(t, dir, "2016/01/28/c2", base.Add(2*time.Second), 1024)

	p := New("/bin/tar")
	var archives []model.Archive
	err := p.Pack(dir, base.Add(-time.Second), base.Add(3*time.Second), 2048,
		"mlab1", "acc01", "ndt", func(tarPath string, meta model.Archive) error {
			if _, statErr := os.Stat(tarPath); statErr != nil {
				t.Fatalf("archive %s missing during handler: %v", tarPath, statErr)
			}
			archives = append(archives, meta)
			return nil
		})
	require.NoError(t, err)

	require.Len(t, archives, 3)
	require.Equal(t, 2, archives[0].FileCount)
	require.Equal(t, 1, archives[1].FileCount)
	require.Equal(t, 2, archives[2].FileCount)

	for _, a := range archives {
		_, statErr := os.Stat(filepath.Join(dir, a.Filename))
		require.True(t, os.IsNotExist(statErr), "archive %s should be deleted after handler returns", a.Filename)
	}
}

func TestHandlerErrorAbortsPack(t *testing.T) {
	if _, err := os.Stat("/bin/tar"); err != nil {
		t.Skip("tar binary not available in this environment")
	}
	dir := t.TempDir()
	base := time.Date(2016, 1, 28, 0, 0, 0, 0, time.UTC)
	writeFile(t, dir, "2016/01/28/a1", base, 10)
	writeFile(t, dir, "2016/01/28/b1", base.Add(time.Second), 10)

	p := New("/bin/tar")
	calls := 0
	err := p.Pack(dir, base.Add(-time.Second), base.Add(2*time.Second), 5,
		"mlab1", "acc01", "ndt", func(tarPath string, meta model.Archive) error {
			calls++
			return errAbort
		})
	require.Error(t, err)
	require.Equal(t, 1, calls)
}

var errAbort = &abortErr{}

type abortErr struct{}

func (*abortErr) Error() string { return "abort" }
