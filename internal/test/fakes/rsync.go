// Package fakes provides in-memory test doubles for the rsync runner, the
// object-store backend, and the sync-record store, so the controller and
// its collaborators can be tested without a real rsync binary, object
// store, or KV backend.
package fakes

import (
	"context"
	"sync"

	"github.com/m-lab/scraper/internal/model"
)

// Rsync is a fake rsync.Runner backed by an in-memory file list and a
// record of every download batch it received.
type Rsync struct {
	mu sync.Mutex

	// Files is returned verbatim by List (in order).
	Files []model.RemoteFile
	// ListErr, if set, is returned by List instead of iterating Files.
	ListErr error
	// DownloadErr, if set, is returned by every call to Download.
	DownloadErr error

	// DownloadBatches records the paths passed to each Download call, in
	// call order, for assertions on batching behavior.
	DownloadBatches [][]string
	// Downloaded accumulates every path ever passed to Download.
	Downloaded map[string]bool
}

// NewRsync returns an empty fake Rsync runner.
func NewRsync() *Rsync {
	return &Rsync{Downloaded: make(map[string]bool)}
}

func (f *Rsync) List(_ context.Context, _ string, yield func(model.RemoteFile) bool) error {
	if f.ListErr != nil {
		return f.ListErr
	}
	for _, rf := range f.Files {
		if !yield(rf) {
			break
		}
	}
	return nil
}

func (f *Rsync) Download(_ context.Context, _ string, _ string, paths []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	batch := append([]string(nil), paths...)
	f.DownloadBatches = append(f.DownloadBatches, batch)
	if f.DownloadErr != nil {
		return f.DownloadErr
	}
	for _, p := range paths {
		f.Downloaded[p] = true
	}
	return nil
}
