// Package metrics defines the narrow collaborator interface the controller
// reports outcomes to. Metrics exposition itself (Prometheus handler,
// registry wiring, a metrics HTTP port) is out of scope for this module
// per spec.md §1 — the interface exists so the controller's tests can
// assert on call counts without a metrics backend, and so a real
// implementation can be injected by the command-line entrypoint.
package metrics

import "time"

// Recorder receives per-cycle outcome signals from the controller. All
// methods must be safe for concurrent use, though in practice a single
// endpoint worker calls them from one goroutine at a time.
type Recorder interface {
	// RsyncListDuration records how long a remote listing took.
	RsyncListDuration(d time.Duration)
	// RsyncDownloadDuration records how long a cycle's download took,
	// across all of its batches.
	RsyncDownloadDuration(d time.Duration)
	// UploadDuration records how long a successful upload took, including
	// any internal retries.
	UploadDuration(d time.Duration)
	// SleepDuration records the chosen inter-cycle sleep.
	SleepDuration(d time.Duration)
	// CycleOutcome increments a per-outcome-label counter: "success", or
	// on failure the error's scrapeerr.Error label ("unknown" when it
	// carries none).
	CycleOutcome(label string)
}

// NoOp is a Recorder that discards everything. It is the default used
// wherever a caller doesn't wire a real metrics backend.
type NoOp struct{}

func (NoOp) RsyncListDuration(time.Duration)     {}
func (NoOp) RsyncDownloadDuration(time.Duration) {}
func (NoOp) UploadDuration(time.Duration)        {}
func (NoOp) SleepDuration(time.Duration)         {}
func (NoOp) CycleOutcome(string)                 {}

var _ Recorder = NoOp{}
