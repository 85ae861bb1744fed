// Package uploader pushes sealed archives to the object store, retrying
// recoverable failures with bounded exponential backoff and jitter
// (spec.md §4.6) so a flaky endpoint never aborts a cycle outright.
package uploader

import (
	"context"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"log/slog"

	"github.com/m-lab/scraper/internal/config"
	"github.com/m-lab/scraper/internal/objectstore"
	"github.com/m-lab/scraper/internal/scrapeerr"
)

// Backend is the subset of objectstore.Client the uploader depends on,
// narrowed so tests can substitute a fake.
type Backend interface {
	Put(ctx context.Context, in objectstore.PutInput) error
}

// Uploader uploads sealed archive files to a bucket, naming each object
// <experiment>/<YYYY>/<MM>/<DD>/<basename> (spec.md §4.6).
type Uploader struct {
	backend   Backend
	bucket    string
	chunkSize int64
}

// New returns an Uploader targeting bucket via backend.
func New(backend Backend, bucket string) *Uploader {
	return &Uploader{backend: backend, bucket: bucket, chunkSize: config.UploadChunkSize}
}

// Upload pushes the archive at tarPath to the object store under a key
// derived from experiment and the archive's minimum mtime date, retrying
// recoverable errors with exponential-backoff-plus-jitter until one
// succeeds or ctx is cancelled. Non-recoverable errors (per
// objectstore.ClassifyError) surface immediately without further retry.
func (u *Uploader) Upload(ctx context.Context, tarPath, experiment string, archiveDate time.Time) error {
	f, err := os.Open(tarPath)
	if err != nil {
		return scrapeerr.NewNonRecoverable(scrapeerr.LabelObjectStoreOther, fmt.Errorf("open archive: %w", err))
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return scrapeerr.NewNonRecoverable(scrapeerr.LabelObjectStoreOther, fmt.Errorf("stat archive: %w", err))
	}

	key := objectKey(experiment, archiveDate, filepath.Base(tarPath))
	in := objectstore.PutInput{
		Bucket:    u.bucket,
		Key:       key,
		Body:      f,
		Size:      info.Size(),
		ChunkSize: u.chunkSize,
	}

	delay := config.UploadRetryBaseDelay
	for attempt := 1; ; attempt++ {
		err := u.backend.Put(ctx, in)
		if err == nil {
			slog.Info("uploader: put succeeded", "key", key, "size", humanize.Bytes(uint64(info.Size())), "attempt", attempt)
			return nil
		}
		if ctx.Err() != nil {
			return scrapeerr.NewRecoverable(scrapeerr.LabelObjectStoreOther, ctx.Err())
		}
		if !objectstore.ClassifyError(err) {
			return scrapeerr.NewNonRecoverable(scrapeerr.LabelObjectStoreOther, fmt.Errorf("put %s: %w", key, err))
		}

		slog.Warn("uploader: put failed, retrying", "key", key, "attempt", attempt, "delay", delay, "error", err)
		jitter := config.UploadRetryJitterMin +
			time.Duration(rand.Float64()*float64(config.UploadRetryJitterMax-config.UploadRetryJitterMin))
		sleep := delay + jitter
		if sleep > config.UploadRetryMaxDelay {
			sleep = config.UploadRetryMaxDelay
		}

		select {
		case <-ctx.Done():
			return scrapeerr.NewRecoverable(scrapeerr.LabelObjectStore5xx, ctx.Err())
		case <-time.After(sleep):
		}

		delay *= 2
		if delay > config.UploadRetryMaxDelay {
			delay = config.UploadRetryMaxDelay
		}
	}
}

// objectKey derives the <experiment>/<YYYY>/<MM>/<DD>/<basename> object
// name from the archive's date and filename.
func objectKey(experiment string, date time.Time, basename string) string {
	return fmt.Sprintf("%s/%04d/%02d/%02d/%s", experiment, date.Year(), date.Month(), date.Day(), basename)
}
