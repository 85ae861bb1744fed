// Package tarpacker groups a time-ordered local file stream into
// size-bounded archive batches under the same-second grouping invariant
// (spec.md §4.5): files sharing a whole-second mtime are never split
// across archives, even if that overshoots the size budget.
package tarpacker

import (
	"bufio"
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"time"

	"github.com/m-lab/scraper/internal/localscan"
	"github.com/m-lab/scraper/internal/model"
	"github.com/m-lab/scraper/internal/scrapeerr"
)

// Packer creates size-bounded tar.gz archives from the local buffer
// directory.
type Packer struct {
	TarBinary string
}

// New returns a Packer that shells out to the tar binary at path.
func New(tarBinary string) *Packer {
	return &Packer{TarBinary: tarBinary}
}

// Handler is called once per sealed archive, with the absolute path to the
// (still-existing) tar.gz file and its metadata. The packer deletes the
// archive file immediately after Handler returns, win or lose — this is
// the "ack, then delete" contract from the design notes: callers that need
// the bytes (e.g. to upload them) must read or copy them inside Handler.
type Handler func(tarPath string, meta model.Archive) error

// Pack walks dir for local files with early < mtime <= late, sorts them
// ascending by mtime, and seals them into archives whose total size stays
// below maxUncompressedSize bytes, except that a single larger file or a
// run of files sharing one second may overshoot it. It calls handler once
// per sealed archive. The
// node/site/experiment triple names each archive:
// YYYYMMDDTHHMMSSZ-<node>-<site>-<experiment>-0000.tgz, derived from the
// minimum mtime of the files it contains.
//
// If handler returns an error, Pack stops immediately (after deleting the
// just-sealed archive) and returns that error.
func (p *Packer) Pack(dir string, early, late time.Time, maxUncompressedSize int64, node, site, experiment string, handler Handler) error {
	files, err := localscan.Scan(dir, early, late)
	if err != nil {
		return scrapeerr.NewNonRecoverable(scrapeerr.LabelTarError, fmt.Errorf("scan: %w", err))
	}
	sort.SliceStable(files, func(i, j int) bool {
		return files[i].Mtime.Before(files[j].Mtime)
	})

	var batch []model.LocalFile
	var size int64
	var minMtime, maxMtime, prevMtime time.Time
	seq := 0

	seal := func() error {
		if len(batch) == 0 {
			return nil
		}
		filename := archiveFilename(minMtime, node, site, experiment, seq)
		seq++
		meta := model.Archive{
			Filename:  filename,
			MinMtime:  minMtime,
			MaxMtime:  maxMtime,
			FileCount: len(batch),
			Files:     batch,
		}
		tarPath, err := p.createTarfile(dir, filename, batch)
		if err != nil {
			return err
		}
		defer func() {
			if rmErr := os.Remove(tarPath); rmErr != nil && !os.IsNotExist(rmErr) {
				slog.Warn("tarpacker: failed to remove archive after handling", "path", tarPath, "error", rmErr)
			}
		}()

		batch = nil
		size = 0
		minMtime = time.Time{}
		maxMtime = time.Time{}

		return handler(tarPath, meta)
	}

	for _, f := range files {
		if len(batch) > 0 && size+f.Size >= maxUncompressedSize && !f.Mtime.Equal(prevMtime) {
			if err := seal(); err != nil {
				return err
			}
		}
		batch = append(batch, f)
		size += f.Size
		if minMtime.IsZero() || f.Mtime.Before(minMtime) {
			minMtime = f.Mtime
		}
		if f.Mtime.After(maxMtime) {
			maxMtime = f.Mtime
		}
		prevMtime = f.Mtime
	}
	return seal()
}

// archiveFilename matches the legacy naming convention: the trailing
// "-0000" sequence component is fixed (spec.md §3); uniqueness instead
// comes from the min-mtime-to-the-second plus the same-second invariant.
func archiveFilename(minMtime time.Time, node, site, experiment string, _ int) string {
	return fmt.Sprintf("%sT%sZ-%s-%s-%s-0000.tgz",
		minMtime.UTC().Format("20060102"),
		minMtime.UTC().Format("150405"),
		node, site, experiment)
}

// createTarfile shells out to `tar cfz --null --files-from <tempfile>`
// with dir as the working directory, so the archive's member names are
// the files' paths relative to dir. If a file with the intended archive
// name already exists, it is removed first with a warning (spec.md §4.5).
func (p *Packer) createTarfile(dir, filename string, files []model.LocalFile) (string, error) {
	tarPath := filepath.Join(dir, filename)
	if _, err := os.Stat(tarPath); err == nil {
		slog.Warn("tarpacker: archive already exists, removing before recreate", "path", tarPath)
		if err := os.Remove(tarPath); err != nil {
			return "", scrapeerr.NewNonRecoverable(scrapeerr.LabelTarError, fmt.Errorf("remove stale archive: %w", err))
		}
	}

	listFile, err := os.CreateTemp("", "scraper-tarlist-*")
	if err != nil {
		return "", scrapeerr.NewNonRecoverable(scrapeerr.LabelTarError, fmt.Errorf("tarlist tempfile: %w", err))
	}
	defer os.Remove(listFile.Name())
	defer listFile.Close()

	w := bufio.NewWriter(listFile)
	for _, f := range files {
		if _, err := w.WriteString(f.Path); err != nil {
			return "", scrapeerr.NewNonRecoverable(scrapeerr.LabelTarError, err)
		}
		if err := w.WriteByte(0); err != nil {
			return "", scrapeerr.NewNonRecoverable(scrapeerr.LabelTarError, err)
		}
	}
	if err := w.Flush(); err != nil {
		return "", scrapeerr.NewNonRecoverable(scrapeerr.LabelTarError, err)
	}
	if err := listFile.Sync(); err != nil {
		return "", scrapeerr.NewNonRecoverable(scrapeerr.LabelTarError, err)
	}

	cmd := exec.Command(p.TarBinary, "cfz", filename, "--null", "--files-from", listFile.Name())
	cmd.Dir = dir
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", scrapeerr.NewNonRecoverable(scrapeerr.LabelTarError,
			fmt.Errorf("tar cfz failed: %v: %s", err, stderr.String()))
	}
	if _, err := os.Stat(tarPath); err != nil {
		return "", scrapeerr.NewNonRecoverable(scrapeerr.LabelNoTarFile, fmt.Errorf("%s was not created", tarPath))
	}
	return tarPath, nil
}
