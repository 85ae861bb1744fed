// Package config holds the validated configuration for a single scraper
// endpoint worker. Fixed tunables (chunk sizes, timeouts, retry caps) are
// the constants below; per-endpoint settings are resolved once at startup
// into a Config that Validate completes. The controller receives the
// Config; the other components are built from the individual values they
// need.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/m-lab/scraper/internal/hostname"
)

const (
	// DefaultRsyncPort is the standard rsyncd module port.
	DefaultRsyncPort = 7999
	// DefaultExpectedSleep is the mean inter-cycle sleep, in seconds.
	DefaultExpectedSleep = 1800 * time.Second
	// MaxSleep bounds the exponential inter-cycle sleep so a pathological
	// tail never stalls the worker for more than an hour.
	MaxSleep = 3600 * time.Second
	// DefaultMaxUncompressedSize is the per-archive uncompressed size
	// budget before the tar packer seals a batch.
	DefaultMaxUncompressedSize = 1_000_000_000
	// DefaultDataWaitTime is the minimum file age before early-upload
	// eligibility.
	DefaultDataWaitTime = 1 * time.Hour
	// DefaultBufferThreshold is the aged-but-unarchived byte budget that
	// triggers an early upload.
	DefaultBufferThreshold = 100_000_000
	// QuiescenceWindow is the trailing interval in which files are still
	// considered in-flight and are not eligible for download.
	QuiescenceWindow = 15 * time.Minute
	// UploadChunkSize is the resumable upload part size.
	UploadChunkSize = 10 * 1024 * 1024
	// DownloadBatchSize bounds how many paths are handed to a single
	// rsync download invocation.
	DownloadBatchSize = 1000
	// RsyncTimeout is both the connect and idle timeout passed to rsync.
	RsyncTimeout = 300 * time.Second
	// RsyncBandwidthKbps caps rsync's bandwidth usage.
	RsyncBandwidthKbps = 10000
	// SyncStoreRetries is the number of attempts the sync-record store
	// makes against transient remote errors before surfacing.
	SyncStoreRetries = 5
	// UploadRetryBaseDelay is the base of the exponential backoff used
	// between upload retries.
	UploadRetryBaseDelay = 2 * time.Second
	// UploadRetryMaxDelay caps any single backoff sleep.
	UploadRetryMaxDelay = 300 * time.Second
	// UploadRetryJitterMin/Max bound the uniform jitter added atop each
	// backoff sleep.
	UploadRetryJitterMin = 1 * time.Second
	UploadRetryJitterMax = 5 * time.Second
)

var (
	ErrEmptyModule    = errors.New("config: rsync module must not be empty")
	ErrEmptyBucket    = errors.New("config: object store bucket must not be empty")
	ErrEmptyDataDir   = errors.New("config: data directory must not be empty")
	ErrEmptyNamespace = errors.New("config: sync-record namespace must not be empty")
)

// Config is the complete, validated configuration for one endpoint worker.
type Config struct {
	// Endpoint identity.
	RsyncHost   string
	RsyncPort   int
	RsyncModule string

	// Filesystem.
	DataDir     string
	RsyncBinary string
	TarBinary   string

	// Object store.
	Bucket string

	// Sync-record store.
	Namespace string

	// Policy tunables.
	ExpectedSleep       time.Duration
	MaxUncompressedSize int64
	DataWaitTime        time.Duration
	BufferThreshold      int64

	// Derived at Validate() time.
	Identity hostname.Identity
}

// Default returns a Config populated with the documented defaults; callers
// still must set RsyncHost, RsyncModule, DataDir, and Bucket before calling
// Validate.
func Default() *Config {
	return &Config{
		RsyncPort:           DefaultRsyncPort,
		RsyncBinary:         "/usr/bin/rsync",
		TarBinary:           "/bin/tar",
		Namespace:           "scraper",
		ExpectedSleep:       DefaultExpectedSleep,
		MaxUncompressedSize: DefaultMaxUncompressedSize,
		DataWaitTime:        DefaultDataWaitTime,
		BufferThreshold:     DefaultBufferThreshold,
	}
}

// Validate checks that required fields are present, parses the rsync host
// into its (node, site) identity, and fills in any still-empty optional
// fields with their defaults. It must be called once, at startup, before
// the config is handed to any component constructor.
func (c *Config) Validate() error {
	id, err := hostname.Parse(c.RsyncHost)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	c.Identity = id

	if c.RsyncModule == "" {
		return ErrEmptyModule
	}
	if c.DataDir == "" {
		return ErrEmptyDataDir
	}
	if c.Bucket == "" {
		return ErrEmptyBucket
	}
	if c.Namespace == "" {
		return ErrEmptyNamespace
	}
	if c.RsyncPort == 0 {
		c.RsyncPort = DefaultRsyncPort
	}
	if c.RsyncBinary == "" {
		c.RsyncBinary = "/usr/bin/rsync"
	}
	if c.TarBinary == "" {
		c.TarBinary = "/bin/tar"
	}
	if c.ExpectedSleep == 0 {
		c.ExpectedSleep = DefaultExpectedSleep
	}
	if c.MaxUncompressedSize == 0 {
		c.MaxUncompressedSize = DefaultMaxUncompressedSize
	}
	if c.DataWaitTime == 0 {
		c.DataWaitTime = DefaultDataWaitTime
	}
	if c.BufferThreshold == 0 {
		c.BufferThreshold = DefaultBufferThreshold
	}
	return nil
}

// RsyncURL is the rsync:// endpoint URL, also used as the sync-record key.
func (c *Config) RsyncURL() string {
	return fmt.Sprintf("rsync://%s:%d/%s", c.RsyncHost, c.RsyncPort, c.RsyncModule)
}

// EndpointDataDir is the local buffer directory for this endpoint.
func (c *Config) EndpointDataDir() string {
	return c.DataDir + "/" + c.RsyncHost + "/" + c.RsyncModule
}

// LogValue lets slog print the config as a structured group without
// leaking nothing sensitive (there is no credential material in this
// config; the object-store and sync-store clients carry their own).
func (c Config) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("rsync_url", c.RsyncURL()),
		slog.String("data_dir", c.DataDir),
		slog.String("bucket", c.Bucket),
		slog.String("namespace", c.Namespace),
		slog.Duration("expected_sleep", c.ExpectedSleep),
		slog.Int64("max_uncompressed_size", c.MaxUncompressedSize),
		slog.Duration("data_wait_time", c.DataWaitTime),
		slog.Int64("buffer_threshold", c.BufferThreshold),
	)
}
