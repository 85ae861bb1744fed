// Package rsync wraps the rsync binary to implement the remote lister and
// downloader contracts (spec.md §4.2, §4.3). Both are modeled purely by
// their observable effects so that a test double can stand in without
// changing the controller (spec.md §9, "Subprocess-as-library").
package rsync

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"regexp"
	"time"

	"github.com/m-lab/scraper/internal/model"
	"github.com/m-lab/scraper/internal/scrapeerr"
)

// Runner executes rsync and is satisfied both by the real subprocess-based
// Client and by fakes in internal/test/fakes.
type Runner interface {
	// List runs rsync in dry-run/listing mode against url and streams
	// parsed RemoteFiles to yield. yield returning false stops iteration
	// early (no error).
	List(ctx context.Context, url string, yield func(model.RemoteFile) bool) error
	// Download transfers the given relative paths from url into dest.
	Download(ctx context.Context, url string, dest string, paths []string) error
}

// Client is the real Runner backed by an rsync binary subprocess.
type Client struct {
	// Binary is the full path to the rsync executable.
	Binary string
}

// NewClient returns a Client that invokes the rsync binary at path.
func NewClient(path string) *Client {
	return &Client{Binary: path}
}

// commonArgs are mandatory on every invocation per spec.md §6.
func commonArgs() []string {
	return []string{
		"-4", "-az",
		"--bwlimit=10000",
		"--timeout=300",
		"--contimeout=300",
		"--chmod=u=rwX",
	}
}

var listingLine = regexp.MustCompile(
	`^(\d{4}/\d\d/\d\d/[^/].*) (\d{4}/\d\d/\d\d-\d\d:\d\d:\d\d)$`)

// List runs `rsync -n -vv --out-format '%n %M'` against url and streams
// parsed (path, mtime) pairs to yield. It consumes stdout incrementally so
// very large listings never have to be buffered in full, and collects
// stderr concurrently into a bounded buffer so a full stderr pipe can't
// deadlock a still-streaming stdout.
func (c *Client) List(ctx context.Context, url string, yield func(model.RemoteFile) bool) error {
	args := append([]string{"-n", "-vv", "--out-format", "%n %M"}, commonArgs()...)
	args = append(args, url)

	cmd := exec.CommandContext(ctx, c.Binary, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return scrapeerr.NewRecoverable(scrapeerr.LabelRsyncListing, fmt.Errorf("stdout pipe: %w", err))
	}
	var stderr stderrBuffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return scrapeerr.NewRecoverable(scrapeerr.LabelRsyncListing, fmt.Errorf("start: %w", err))
	}

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	var scanErr error
	for scanner.Scan() {
		line := scanner.Text()
		rf, ok, parseErr := parseListingLine(line)
		if parseErr != nil {
			continue // unparseable timestamp: ignore the line
		}
		if !ok {
			continue // "is uptodate" or otherwise ignorable line
		}
		if !yield(rf) {
			// Caller stopped early; still must drain and wait to avoid a
			// zombie process, but we can stop scanning further lines.
			break
		}
	}
	if err := scanner.Err(); err != nil {
		scanErr = err
	}

	// Drain any remaining stdout so Wait doesn't block on a full pipe.
	_, _ = io.Copy(io.Discard, stdout)

	waitErr := cmd.Wait()
	if scanErr != nil {
		return scrapeerr.NewRecoverable(scrapeerr.LabelRsyncListing, scanErr)
	}
	if !isSuccessExit(waitErr) {
		return scrapeerr.NewRecoverable(scrapeerr.LabelRsyncListing,
			fmt.Errorf("rsync listing failed: %v: %s", waitErr, stderr.String()))
	}
	return nil
}

// parseListingLine interprets a single line of `--out-format '%n %M'`
// output per the table in spec.md §4.2.
func parseListingLine(line string) (model.RemoteFile, bool, error) {
	if len(line) > len(" is uptodate") && line[len(line)-len(" is uptodate"):] == " is uptodate" {
		return model.RemoteFile{}, false, nil
	}
	m := listingLine.FindStringSubmatch(line)
	if m == nil {
		return model.RemoteFile{}, false, nil
	}
	path, tsStr := m[1], m[2]
	if !model.ValidPathShape(path) {
		return model.RemoteFile{}, false, nil
	}
	ts, err := time.ParseInLocation("2006/01/02-15:04:05", tsStr, time.UTC)
	if err != nil {
		return model.RemoteFile{}, false, err
	}
	return model.RemoteFile{Path: path, Mtime: ts}, true, nil
}

// isSuccessExit reports whether err corresponds to one of rsync's
// success-equivalent exit codes: 0, 23, or 24 (vanished files).
func isSuccessExit(err error) bool {
	if err == nil {
		return true
	}
	var exitErr *exec.ExitError
	if ok := asExitError(err, &exitErr); ok {
		code := exitErr.ExitCode()
		return code == 0 || code == 23 || code == 24
	}
	return false
}

// downloadSuccessExit reports whether err corresponds to one of the
// download path's success-equivalent exit codes: 0 or 24.
func downloadSuccessExit(err error) bool {
	if err == nil {
		return true
	}
	var exitErr *exec.ExitError
	if ok := asExitError(err, &exitErr); ok {
		code := exitErr.ExitCode()
		return code == 0 || code == 24
	}
	return false
}

func asExitError(err error, target **exec.ExitError) bool {
	if ee, ok := err.(*exec.ExitError); ok {
		*target = ee
		return true
	}
	return false
}

// Download transfers paths from url into dest, chunked by the caller into
// batches of at most config.DownloadBatchSize (spec.md §4.3). A single
// call here issues one rsync invocation for the given paths.
func (c *Client) Download(ctx context.Context, url string, dest string, paths []string) error {
	if len(paths) == 0 {
		return nil
	}

	tmp, err := os.CreateTemp("", "scraper-download-*")
	if err != nil {
		return scrapeerr.NewRecoverable(scrapeerr.LabelRsyncDownload, fmt.Errorf("tempfile: %w", err))
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	w := bufio.NewWriter(tmp)
	for _, p := range paths {
		if _, err := w.WriteString(p); err != nil {
			return scrapeerr.NewRecoverable(scrapeerr.LabelRsyncDownload, err)
		}
		if err := w.WriteByte(0); err != nil {
			return scrapeerr.NewRecoverable(scrapeerr.LabelRsyncDownload, err)
		}
	}
	if err := w.Flush(); err != nil {
		return scrapeerr.NewRecoverable(scrapeerr.LabelRsyncDownload, err)
	}
	if err := tmp.Sync(); err != nil {
		return scrapeerr.NewRecoverable(scrapeerr.LabelRsyncDownload, err)
	}

	args := append([]string{"--from0", "--files-from", tmp.Name()}, commonArgs()...)
	args = append(args, url, dest)

	cmd := exec.CommandContext(ctx, c.Binary, args...)
	var stderr stderrBuffer
	cmd.Stderr = &stderr
	cmd.Stdout = io.Discard

	runErr := cmd.Run()
	if !downloadSuccessExit(runErr) {
		return scrapeerr.NewRecoverable(scrapeerr.LabelRsyncDownload,
			fmt.Errorf("rsync download failed: %v: %s", runErr, stderr.String()))
	}
	return nil
}

// stderrBuffer is an io.Writer accumulating stderr for inclusion in error
// messages, bounded so a runaway rsync process can't exhaust memory via
// stderr alone.
type stderrBuffer struct {
	buf   []byte
	limit int
}

const defaultStderrLimit = 64 * 1024

func (s *stderrBuffer) Write(p []byte) (int, error) {
	if s.limit == 0 {
		s.limit = defaultStderrLimit
	}
	remaining := s.limit - len(s.buf)
	if remaining > 0 {
		n := len(p)
		if n > remaining {
			n = remaining
		}
		s.buf = append(s.buf, p[:n]...)
	}
	return len(p), nil
}

func (s *stderrBuffer) String() string {
	return string(s.buf)
}
