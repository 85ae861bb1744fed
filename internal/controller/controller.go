// Package controller implements the per-endpoint cycle (spec.md §4.8):
// list, filter to the quiescent window, download, decide whether to
// upload, and on upload advance the high-water mark and reap local
// files. It is the only component that touches the sync record for its
// endpoint (spec.md §5, "Shared resources").
package controller

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/m-lab/scraper/internal/config"
	"github.com/m-lab/scraper/internal/datadeleter"
	"github.com/m-lab/scraper/internal/localscan"
	"github.com/m-lab/scraper/internal/metrics"
	"github.com/m-lab/scraper/internal/model"
	"github.com/m-lab/scraper/internal/rsync"
	"github.com/m-lab/scraper/internal/scrapeerr"
	"github.com/m-lab/scraper/internal/syncstore"
	"github.com/m-lab/scraper/internal/tarpacker"
)

// Downloader is the subset of internal/downloader's contract the
// controller depends on.
type Downloader interface {
	Download(ctx context.Context, url, dest string, files []model.RemoteFile) error
}

// Packer is the subset of internal/tarpacker's contract the controller
// depends on.
type Packer interface {
	Pack(dir string, early, late time.Time, maxUncompressedSize int64, node, site, experiment string, handler tarpacker.Handler) error
}

// Uploader is the subset of internal/uploader's contract the controller
// depends on.
type Uploader interface {
	Upload(ctx context.Context, tarPath, experiment string, archiveDate time.Time) error
}

// Clock abstracts wall-clock reads so tests can pin "now".
type Clock func() time.Time

// Controller runs the per-cycle state machine for a single endpoint.
type Controller struct {
	cfg        *config.Config
	rsync      rsync.Runner
	downloader Downloader
	packer     Packer
	uploader   Uploader
	record     *syncstore.Record
	metrics    metrics.Recorder
	now        Clock
}

// New builds a Controller for cfg, wiring in the given collaborators.
// metrics may be nil, in which case metrics.NoOp is used.
func New(cfg *config.Config, r rsync.Runner, d Downloader, p Packer, u Uploader, record *syncstore.Record, rec metrics.Recorder) *Controller {
	if rec == nil {
		rec = metrics.NoOp{}
	}
	return &Controller{
		cfg:        cfg,
		rsync:      r,
		downloader: d,
		packer:     p,
		uploader:   u,
		record:     record,
		metrics:    rec,
		now:        time.Now,
	}
}

// RunForever loops RunCycle until ctx is cancelled, sleeping between
// cycles for an exponentially-distributed duration with the configured
// mean, clamped to config.MaxSleep (spec.md §4.8 step 7). Before the
// first cycle it performs a one-time stale-disk drain.
func (c *Controller) RunForever(ctx context.Context) error {
	if err := c.drainStaleDisk(ctx); err != nil {
		c.handleCycleError(ctx, err)
	}

	for {
		if ctx.Err() != nil {
			return nil
		}
		if err := c.RunCycle(ctx); err != nil {
			c.handleCycleError(ctx, err)
		} else {
			c.metrics.CycleOutcome("success")
			if clearErr := c.record.UpdateError(ctx, ""); clearErr != nil {
				slog.Error("controller: failed to clear error field", "error", clearErr)
			}
		}

		sleep := c.exponentialSleep()
		c.metrics.SleepDuration(sleep)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(sleep):
		}
	}
}

// exponentialSleep draws from an exponential distribution with the
// configured mean and clamps the result to config.MaxSleep.
func (c *Controller) exponentialSleep() time.Duration {
	mean := c.cfg.ExpectedSleep
	if mean <= 0 {
		mean = config.DefaultExpectedSleep
	}
	d := time.Duration(rand.ExpFloat64() * float64(mean))
	if d > config.MaxSleep {
		d = config.MaxSleep
	}
	return d
}

// drainStaleDisk applies the upload policy once against whatever is
// already on disk before the first cycle, so a restart with an unflushed
// buffer gets uploaded promptly (spec.md §4.8).
func (c *Controller) drainStaleDisk(ctx context.Context) error {
	now := c.now()
	high, err := c.record.GetLastArchivedMtime(ctx, time.Unix(0, 0))
	if err != nil {
		return scrapeerr.NewRecoverable(scrapeerr.LabelSyncStore, err)
	}
	boundary, shouldUpload := c.decideUploadBoundary(ctx, now, high)
	if !shouldUpload {
		return nil
	}
	return c.packAndUpload(ctx, high, boundary)
}

// RunCycle runs exactly one list → download → decide → pack/upload →
// advance sequence (spec.md §4.8 steps 1-6).
func (c *Controller) RunCycle(ctx context.Context) error {
	now := c.now()
	if err := c.record.UpdateLastCollectionAttempt(ctx, now); err != nil {
		return scrapeerr.NewRecoverable(scrapeerr.LabelSyncStore, err)
	}

	high, err := c.record.GetLastArchivedMtime(ctx, time.Unix(0, 0))
	if err != nil {
		return scrapeerr.NewRecoverable(scrapeerr.LabelSyncStore, err)
	}
	quiescenceBoundary := now.Add(-config.QuiescenceWindow)

	var remote []model.RemoteFile
	listStart := c.now()
	err = c.rsync.List(ctx, c.cfg.RsyncURL(), func(rf model.RemoteFile) bool {
		if rf.Mtime.After(high) && !rf.Mtime.After(quiescenceBoundary) {
			remote = append(remote, rf)
		}
		return true
	})
	c.metrics.RsyncListDuration(c.now().Sub(listStart))
	if err != nil {
		return err
	}

	dlStart := c.now()
	if err := c.downloader.Download(ctx, c.cfg.RsyncURL(), c.cfg.EndpointDataDir(), remote); err != nil {
		return err
	}
	c.metrics.RsyncDownloadDuration(c.now().Sub(dlStart))

	boundary, shouldUpload := c.decideUploadBoundary(ctx, now, high)
	if !shouldUpload {
		return nil
	}
	return c.packAndUpload(ctx, high, boundary)
}

// decideUploadBoundary implements the upload policy from spec.md §4.8:
// an early upload if the aged-but-unarchived backlog exceeds
// BufferThreshold, else the daily boundary if it has newly become
// eligible, else no upload this cycle.
func (c *Controller) decideUploadBoundary(ctx context.Context, now, high time.Time) (time.Time, bool) {
	eligibleBoundary := now.Add(-c.cfg.DataWaitTime)
	if eligibleBoundary.After(high) {
		backlogBytes, err := c.backlogBytes(high, eligibleBoundary)
		if err == nil && backlogBytes > c.cfg.BufferThreshold {
			return eligibleBoundary, true
		}
	}

	daily := dailyBoundary(now)
	if daily.After(high) {
		return daily, true
	}
	return time.Time{}, false
}

// backlogBytes sums the size of local files with mtime in (high, boundary].
func (c *Controller) backlogBytes(high, boundary time.Time) (int64, error) {
	files, err := localscan.Scan(c.cfg.EndpointDataDir(), high, boundary)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, f := range files {
		total += f.Size
	}
	return total, nil
}

// dailyBoundary returns 23:59:59 UTC of the day that is one day behind
// UTC "now" after 08:00 UTC, or two days behind before 08:00 UTC. The
// 08:00 cutoff exists so a worker that hasn't run yet today doesn't
// declare yesterday "final" before upstream data for it has likely
// finished landing.
func dailyBoundary(now time.Time) time.Time {
	now = now.UTC()
	daysBack := 2
	if now.Hour() >= 8 {
		daysBack = 1
	}
	day := now.AddDate(0, 0, -daysBack)
	return time.Date(day.Year(), day.Month(), day.Day(), 23, 59, 59, 0, time.UTC)
}

// packAndUpload packs files in (high, boundary] into archives, uploads
// each, and advances the high-water mark after every successful upload so
// a mid-batch failure never re-uploads already-archived data on retry.
func (c *Controller) packAndUpload(ctx context.Context, high, boundary time.Time) error {
	var packErr error
	err := c.packer.Pack(c.cfg.EndpointDataDir(), high, boundary, c.cfg.MaxUncompressedSize,
		c.cfg.Identity.Node, c.cfg.Identity.Site, c.cfg.RsyncModule,
		func(tarPath string, meta model.Archive) error {
			upStart := c.now()
			if err := c.uploader.Upload(ctx, tarPath, c.cfg.RsyncModule, meta.MinMtime); err != nil {
				packErr = err
				return err
			}
			c.metrics.UploadDuration(c.now().Sub(upStart))

			if err := c.record.UpdateLastArchived(ctx, model.FormatArchivedDate(meta.MaxMtime), meta.MaxMtime); err != nil {
				packErr = scrapeerr.NewRecoverable(scrapeerr.LabelSyncStore, err)
				return packErr
			}
			if err := datadeleter.Delete(c.cfg.EndpointDataDir(), meta.Files); err != nil {
				slog.Warn("controller: failed to delete archived local files", "error", err)
			}
			return nil
		})
	if packErr != nil {
		return packErr
	}
	return err
}

// handleCycleError implements the shared disposition for both kinds of
// error (spec.md §7): log, record, count, and let the sleep phase run.
func (c *Controller) handleCycleError(ctx context.Context, err error) {
	label := "unknown"
	if se, ok := asScrapeErr(err); ok {
		label = se.Label
	}
	slog.Error("controller: cycle failed", "label", label, "recoverable", scrapeerr.IsRecoverable(err), "error", err)
	c.metrics.CycleOutcome(label)
	if updErr := c.record.UpdateError(ctx, err.Error()); updErr != nil {
		slog.Error("controller: failed to record error", "error", updErr)
	}
}

func asScrapeErr(err error) (*scrapeerr.Error, bool) {
	for err != nil {
		if se, ok := err.(*scrapeerr.Error); ok {
			return se, true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return nil, false
		}
		err = u.Unwrap()
	}
	return nil, false
}
