package localscan

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func touch(t *testing.T, dir, rel string, mtime time.Time, size int) {
	t.Helper()
	full := filepath.Join(dir, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, make([]byte, size), 0o644))
	require.NoError(t, os.Chtimes(full, mtime, mtime))
}

func TestScanWindow(t *testing.T) {
	dir := t.TempDir()
	base := time.Date(2016, 1, 28, 0, 0, 0, 0, time.UTC)

	touch(t, dir, "2016/01/28/a", base, 10)
	touch(t, dir, "2016/01/28/b", base.Add(time.Hour), 20)
	touch(t, dir, "2016/01/28/c", base.Add(2*time.Hour), 30)
	touch(t, dir, "malformed", base.Add(time.Hour), 5)

	files, err := Scan(dir, base, base.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, files, 1)
	require.Equal(t, "2016/01/28/b", files[0].Path)
	require.Equal(t, int64(20), files[0].Size)
}

func TestScanEmptyDir(t *testing.T) {
	dir := t.TempDir()
	files, err := Scan(dir, time.Unix(0, 0), time.Now())
	require.NoError(t, err)
	require.Empty(t, files)
}
