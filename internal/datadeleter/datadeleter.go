// Package datadeleter removes local buffer files once their containing
// archive has been durably uploaded, and prunes any directory that
// becomes empty as a result (spec.md §6). It is the sole deleter of data
// files; the tar packer is the sole deleter of archive files.
package datadeleter

import (
	"log/slog"
	"os"
	"path/filepath"

	"github.com/m-lab/scraper/internal/model"
)

// Delete removes each file in files (paths relative to dir) and prunes
// any ancestor directory under dir that becomes empty, bottom-up. A
// missing file is not an error: a crash between delete and the next
// cycle's retry must not wedge the worker.
func Delete(dir string, files []model.LocalFile) error {
	dirsToCheck := make(map[string]struct{})
	for _, f := range files {
		full := filepath.Join(dir, filepath.FromSlash(f.Path))
		if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
			return err
		}
		dirsToCheck[filepath.Dir(full)] = struct{}{}
	}
	for d := range dirsToCheck {
		pruneEmptyAncestors(dir, d)
	}
	return nil
}

// pruneEmptyAncestors removes dir and each of its ancestors, stopping at
// root or at the first non-empty directory.
func pruneEmptyAncestors(root, dir string) {
	for {
		if dir == root || len(dir) <= len(root) {
			return
		}
		entries, err := os.ReadDir(dir)
		if err != nil {
			return
		}
		if len(entries) > 0 {
			return
		}
		if err := os.Remove(dir); err != nil {
			slog.Warn("datadeleter: failed to prune empty directory", "path", dir, "error", err)
			return
		}
		dir = filepath.Dir(dir)
	}
}
