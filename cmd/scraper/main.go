// Command scraper runs one endpoint worker: it mirrors a single rsync
// module, archives and uploads newly-quiescent files, and durably
// records its progress (spec.md §6).
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/m-lab/scraper/internal/config"
	"github.com/m-lab/scraper/internal/controller"
	"github.com/m-lab/scraper/internal/downloader"
	"github.com/m-lab/scraper/internal/logging"
	"github.com/m-lab/scraper/internal/objectstore"
	"github.com/m-lab/scraper/internal/rsync"
	"github.com/m-lab/scraper/internal/syncstore"
	"github.com/m-lab/scraper/internal/tarpacker"
	"github.com/m-lab/scraper/internal/uploader"
)

var rootCmd = &cobra.Command{
	Use:   "scraper",
	Short: "Mirror one rsync endpoint into an object store",
	PreRunE: func(cmd *cobra.Command, args []string) error {
		return bindFlags(cmd)
	},
	RunE: run,
}

func init() {
	flags := rootCmd.Flags()
	flags.SortFlags = false
	flags.String("host", "", "rsync endpoint hostname (required)")
	flags.Int("port", config.DefaultRsyncPort, "rsync module port")
	flags.String("module", "", "rsync module name (required)")
	flags.String("data-dir", "/var/spool/scraper", "local buffer directory")
	flags.String("bucket", "", "object-store bucket (required)")
	flags.String("namespace", "scraper", "sync-record namespace")
	flags.String("sync-db", "/var/lib/scraper/sync.db", "sync-record sqlite database path")
	flags.Duration("expected-sleep", config.DefaultExpectedSleep, "mean inter-cycle sleep")
	flags.Int64("max-archive-size", config.DefaultMaxUncompressedSize, "max uncompressed archive size, bytes")
	flags.Duration("data-wait-time", config.DefaultDataWaitTime, "minimum file age before early-upload eligibility")
	flags.Int64("buffer-threshold", config.DefaultBufferThreshold, "aged-but-unarchived byte threshold that triggers early upload")
	flags.String("rsync-binary", "/usr/bin/rsync", "path to the rsync binary")
	flags.String("tar-binary", "/bin/tar", "path to the tar binary")
	flags.String("s3-region", "us-east-1", "object-store region")
	flags.String("s3-endpoint", "", "object-store endpoint override (for non-AWS S3-compatible stores)")
	flags.String("s3-access-key", "", "object-store access key")
	flags.String("s3-secret-key", "", "object-store secret key")
	flags.String("log-level", "info", "log level: debug, info, warn, error")
}

func bindFlags(cmd *cobra.Command) error {
	viper.SetEnvPrefix("SCRAPER")
	viper.AutomaticEnv()
	return viper.BindPFlags(cmd.Flags())
}

func run(cmd *cobra.Command, args []string) error {
	level, err := parseLevel(viper.GetString("log-level"))
	if err != nil {
		return err
	}

	cfg := &config.Config{
		RsyncHost:           viper.GetString("host"),
		RsyncPort:           viper.GetInt("port"),
		RsyncModule:         viper.GetString("module"),
		DataDir:             viper.GetString("data-dir"),
		RsyncBinary:         viper.GetString("rsync-binary"),
		TarBinary:           viper.GetString("tar-binary"),
		Bucket:              viper.GetString("bucket"),
		Namespace:           viper.GetString("namespace"),
		ExpectedSleep:       viper.GetDuration("expected-sleep"),
		MaxUncompressedSize: viper.GetInt64("max-archive-size"),
		DataWaitTime:        viper.GetDuration("data-wait-time"),
		BufferThreshold:     viper.GetInt64("buffer-threshold"),
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := logging.Setup(os.Stdout, level, cfg.RsyncURL())
	logger.Info("scraper starting", "config", cfg)

	cmd.SilenceUsage = true

	store, err := syncstore.Open(viper.GetString("sync-db"))
	if err != nil {
		return fmt.Errorf("open sync store: %w", err)
	}
	defer store.Close()
	record := syncstore.NewRecord(store, cfg.Namespace, cfg.RsyncURL())

	objClient, err := objectstore.NewClient(cmd.Context(), objectstore.BackendConfig{
		Region:    viper.GetString("s3-region"),
		Endpoint:  viper.GetString("s3-endpoint"),
		AccessKey: viper.GetString("s3-access-key"),
		SecretKey: viper.GetString("s3-secret-key"),
	})
	if err != nil {
		return fmt.Errorf("create object store client: %w", err)
	}

	rsyncClient := rsync.NewClient(cfg.RsyncBinary)
	dl := downloader.New(rsyncClient)
	packer := tarpacker.New(cfg.TarBinary)
	up := uploader.New(objClient, cfg.Bucket)

	if err := os.MkdirAll(filepath.Dir(viper.GetString("sync-db")), 0o755); err != nil {
		return fmt.Errorf("create sync-db directory: %w", err)
	}
	if err := os.MkdirAll(cfg.EndpointDataDir(), 0o755); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}

	ctrl := controller.New(cfg, rsyncClient, dl, packer, up, record, nil)
	return ctrl.RunForever(cmd.Context())
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("log-level: %w", err)
	}
	return level, nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rootCmd.SetContext(ctx)
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		slog.Error("scraper exiting", "error", err)
		os.Exit(1)
	}
}
