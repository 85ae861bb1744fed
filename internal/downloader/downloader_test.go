package downloader

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m-lab/scraper/internal/model"
	"github.com/m-lab/scraper/internal/test/fakes"
)

func filesNamed(n int) []model.RemoteFile {
	out := make([]model.RemoteFile, n)
	for i := range out {
		out[i] = model.RemoteFile{Path: "2016/01/28/f", Mtime: time.Unix(int64(i), 0)}
	}
	return out
}

func TestDownloadEmptyIsNoOp(t *testing.T) {
	r := fakes.NewRsync()
	d := New(r)
	err := d.Download(context.Background(), "rsync://x", "/tmp/dst", nil)
	require.NoError(t, err)
	assert.Empty(t, r.DownloadBatches)
}

func TestDownloadChunksByBatchSize(t *testing.T) {
	r := fakes.NewRsync()
	d := New(r)
	d.batchSize = 10

	files := filesNamed(25)
	err := d.Download(context.Background(), "rsync://x", "/tmp/dst", files)
	require.NoError(t, err)

	require.Len(t, r.DownloadBatches, 3)
	assert.Len(t, r.DownloadBatches[0], 10)
	assert.Len(t, r.DownloadBatches[1], 10)
	assert.Len(t, r.DownloadBatches[2], 5)
}

func TestDownloadStopsOnFirstError(t *testing.T) {
	r := fakes.NewRsync()
	r.DownloadErr = errors.New("boom")
	d := New(r)
	d.batchSize = 10

	err := d.Download(context.Background(), "rsync://x", "/tmp/dst", filesNamed(25))
	require.Error(t, err)
	assert.Len(t, r.DownloadBatches, 1)
}
