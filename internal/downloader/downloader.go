// Package downloader chunks a filtered RemoteFile sequence into bounded
// batches and drives them through a rsync.Runner (spec.md §4.3). Batching
// exists because rsync allocates per-file state; an unbounded batch can
// OOM the worker on a large backlog.
package downloader

import (
	"context"

	"github.com/m-lab/scraper/internal/config"
	"github.com/m-lab/scraper/internal/model"
	"github.com/m-lab/scraper/internal/rsync"
)

// Downloader transfers filtered remote files into the local buffer
// directory, chunked to bound memory and rsync's per-file state.
type Downloader struct {
	runner    rsync.Runner
	batchSize int
}

// New returns a Downloader that chunks downloads into batches of
// config.DownloadBatchSize paths per rsync invocation.
func New(runner rsync.Runner) *Downloader {
	return &Downloader{runner: runner, batchSize: config.DownloadBatchSize}
}

// Download transfers files into dest from url, batching at most
// d.batchSize paths per rsync invocation. Empty input is a no-op. The
// first batch to fail aborts the remaining batches and returns the
// runner's error unchanged (rsync.Client labels its errors rsync_download).
func (d *Downloader) Download(ctx context.Context, url string, dest string, files []model.RemoteFile) error {
	if len(files) == 0 {
		return nil
	}
	batchSize := d.batchSize
	if batchSize <= 0 {
		batchSize = config.DownloadBatchSize
	}

	for start := 0; start < len(files); start += batchSize {
		end := min(start+batchSize, len(files))
		paths := make([]string, 0, end-start)
		for _, f := range files[start:end] {
			paths = append(paths, f.Path)
		}
		if err := d.runner.Download(ctx, url, dest, paths); err != nil {
			return err
		}
	}
	return nil
}
