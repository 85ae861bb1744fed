// Package scrapeerr models the two-kind error taxonomy the controller
// dispatches on: recoverable conditions a fresh cycle might heal, and
// non-recoverable conditions that still must not crash the worker.
package scrapeerr

import "fmt"

// Kind classifies an Error's disposition.
type Kind int

const (
	// Recoverable errors are retried on the next cycle: rsync listing/
	// download failures, object-store 5xx, sync-store transient errors.
	Recoverable Kind = iota
	// NonRecoverable errors surface the same way to the controller (log,
	// record, sleep, retry next cycle) but never retry within the
	// operation that raised them.
	NonRecoverable
)

func (k Kind) String() string {
	switch k {
	case Recoverable:
		return "recoverable"
	case NonRecoverable:
		return "non-recoverable"
	default:
		return "unknown"
	}
}

// Labels used for metrics dimensioning and log fields. Every Error produced
// by this module's components uses one of these.
const (
	LabelRsyncListing  = "rsync_listing"
	LabelRsyncDownload = "rsync_download"
	LabelTarError      = "tar_error"
	LabelNoTarFile     = "no_tar_file"
	LabelValidation    = "validation"
	LabelObjectStore5xx = "objectstore_5xx"
	LabelObjectStoreOther = "objectstore_other"
	LabelSyncStore     = "syncstore"
)

// Error wraps an underlying error with a stable label and recoverability
// hint, so the controller can decide disposition without inspecting error
// strings.
type Error struct {
	Label string
	Kind  Kind
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s (%s): %v", e.Label, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewRecoverable builds a recoverable Error with the given label.
func NewRecoverable(label string, err error) *Error {
	return &Error{Label: label, Kind: Recoverable, Err: err}
}

// NewNonRecoverable builds a non-recoverable Error with the given label.
func NewNonRecoverable(label string, err error) *Error {
	return &Error{Label: label, Kind: NonRecoverable, Err: err}
}

// IsRecoverable reports whether err is a *Error with Kind == Recoverable.
// A plain error (not wrapped by this package) is treated as recoverable by
// default, since the controller must never crash the worker on anything a
// fresh cycle could conceivably heal.
func IsRecoverable(err error) bool {
	var se *Error
	if ok := asError(err, &se); ok {
		return se.Kind == Recoverable
	}
	return true
}

func asError(err error, target **Error) bool {
	for err != nil {
		if se, ok := err.(*Error); ok {
			*target = se
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
