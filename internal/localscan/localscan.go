// Package localscan walks the local buffer directory and yields every
// regular file whose mtime falls in a (low, high] window (spec.md §4.4).
// Ordering is unspecified; the tar packer re-sorts by mtime.
package localscan

import (
	"io/fs"
	"path/filepath"
	"time"

	"github.com/m-lab/scraper/internal/model"
)

// Scan walks dir and returns every regular file with low < mtime <= high.
// Paths that fail the YYYY/MM/DD/<name> shape relative to dir are skipped,
// since the only thing this system ever writes below dir is that layout.
func Scan(dir string, low, high time.Time) ([]model.LocalFile, error) {
	var out []model.LocalFile

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		mtime := info.ModTime().Truncate(time.Second)
		if !mtime.After(low) || mtime.After(high) {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if !model.ValidPathShape(rel) {
			return nil
		}
		out = append(out, model.LocalFile{
			Path:  rel,
			Mtime: mtime,
			Size:  info.Size(),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
