// Package model holds the small data types shared across the sync
// pipeline: RemoteFile, LocalFile, Archive, and SyncRecord (spec.md §3).
package model

import (
	"fmt"
	"regexp"
	"time"
)

// pathShape matches the fixed YYYY/MM/DD/<basename> source layout; any
// path failing this is discarded at the lister or the local scanner.
var pathShape = regexp.MustCompile(`^\d{4}/\d\d/\d\d/[^/].*$`)

// ValidPathShape reports whether p matches the YYYY/MM/DD/<basename>
// layout this system requires.
func ValidPathShape(p string) bool {
	return pathShape.MatchString(p)
}

// RemoteFile is a single entry from the remote rsync listing: a relative
// path and its whole-second mtime.
type RemoteFile struct {
	Path  string
	Mtime time.Time
}

// LocalFile is a single entry from the local buffer directory scan.
type LocalFile struct {
	Path  string
	Mtime time.Time
	Size  int64
}

// Archive describes a sealed tarfile batch: its filename, the mtime range
// and count of the files it contains, and the member files themselves so
// the caller can delete them from the local buffer once the archive is
// durably uploaded.
type Archive struct {
	Filename  string
	MinMtime  time.Time
	MaxMtime  time.Time
	FileCount int
	Files     []LocalFile
}

// SyncRecord is the durable per-endpoint sync-status record (spec.md §3,
// §4.7): the resume point for this worker and the signal to downstream
// consumers that it is safe to delete data up to LastArchivedMtime.
type SyncRecord struct {
	// LastArchivedMtime is the high-water mark: the largest mtime for
	// which all files with mtime <= it have been durably uploaded. Zero
	// value means absent (no archive has ever been uploaded).
	LastArchivedMtime time.Time
	// LastArchivedDate is the string form "x%Y-%02m-%02d" matching the
	// legacy spreadsheet cell format.
	LastArchivedDate string
	// LastCollectionAttempt is "x%Y-%m-%d-%H:%M" in UTC.
	LastCollectionAttempt string
	// LastErrorMessage is truncated to MaxErrorMessageBytes; empty once a
	// cycle completes cleanly.
	LastErrorMessage string
}

// MaxErrorMessageBytes is the truncation limit for SyncRecord.LastErrorMessage.
const MaxErrorMessageBytes = 1400

// FormatArchivedDate renders t in the legacy "x%Y-%02m-%02d" cell format,
// e.g. "x2016-01-28".
func FormatArchivedDate(t time.Time) string {
	u := t.UTC()
	return fmt.Sprintf("x%04d-%02d-%02d", u.Year(), int(u.Month()), u.Day())
}

// FormatCollectionAttempt renders t in the legacy "x%Y-%m-%d-%H:%M" cell
// format, e.g. "x2016-01-28-14:05".
func FormatCollectionAttempt(t time.Time) string {
	u := t.UTC()
	return fmt.Sprintf("x%04d-%02d-%02d-%02d:%02d", u.Year(), int(u.Month()), u.Day(), u.Hour(), u.Minute())
}
