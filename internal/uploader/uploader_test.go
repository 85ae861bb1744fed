package uploader

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	smithyhttp "github.com/aws/smithy-go/transport/http"
	"github.com/stretchr/testify/require"

	"github.com/m-lab/scraper/internal/test/fakes"
)

func writeArchive(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "20160128T150000Z-mlab1-acc01-ndt-0000.tgz")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestUploadSucceedsFirstTry(t *testing.T) {
	backend := fakes.NewObjectStore()
	u := New(backend, "my-bucket")
	path := writeArchive(t, "archive-bytes")
	date := time.Date(2016, 1, 28, 0, 0, 0, 0, time.UTC)

	err := u.Upload(context.Background(), path, "ndt", date)
	require.NoError(t, err)
	require.Len(t, backend.Puts, 1)
	require.Equal(t, "ndt/2016/01/28/20160128T150000Z-mlab1-acc01-ndt-0000.tgz", backend.Puts[0].Key)
}

func TestUploadRetriesTransientThenSucceeds(t *testing.T) {
	backend := fakes.NewObjectStore()
	backend.FailN = 2
	u := New(backend, "my-bucket")
	path := writeArchive(t, "archive-bytes")
	date := time.Date(2016, 1, 28, 0, 0, 0, 0, time.UTC)

	start := time.Now()
	err := u.Upload(context.Background(), path, "ndt", date)
	require.NoError(t, err)
	require.Len(t, backend.Puts, 3)
	require.GreaterOrEqual(t, time.Since(start), 0*time.Second)
}

func TestUploadNonRecoverableSurfacesImmediately(t *testing.T) {
	backend := fakes.NewObjectStore()
	backend.FailN = 1
	backend.Err = &smithyhttp.ResponseError{
		Response: &smithyhttp.Response{Response: &http.Response{StatusCode: 403}},
	}
	u := New(backend, "my-bucket")
	path := writeArchive(t, "archive-bytes")
	date := time.Date(2016, 1, 28, 0, 0, 0, 0, time.UTC)

	err := u.Upload(context.Background(), path, "ndt", date)
	require.Error(t, err)
	require.Len(t, backend.Puts, 1)
}

func TestUploadRespectsContextCancellation(t *testing.T) {
	backend := fakes.NewObjectStore()
	backend.FailN = 1000
	u := New(backend, "my-bucket")
	path := writeArchive(t, "archive-bytes")
	date := time.Date(2016, 1, 28, 0, 0, 0, 0, time.UTC)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := u.Upload(ctx, path, "ndt", date)
	require.Error(t, err)
}
