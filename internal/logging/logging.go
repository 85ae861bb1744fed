// Package logging configures the process-wide slog handler: a colorized,
// human-readable handler on an interactive terminal, and a plain JSON
// handler otherwise (container logs, redirected output).
package logging

import (
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
)

// Setup installs the process-wide default slog logger and returns it. rsyncURL
// is attached to every log record so that, when several endpoint workers
// share a container's stdout, lines can still be attributed to an endpoint.
func Setup(w io.Writer, level slog.Level, rsyncURL string) *slog.Logger {
	var handler slog.Handler
	if f, ok := w.(*os.File); ok && isatty.IsTerminal(f.Fd()) {
		handler = tint.NewHandler(w, &tint.Options{
			Level:      level,
			TimeFormat: time.Kitchen,
		})
	} else {
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	}

	logger := slog.New(handler).With("endpoint", rsyncURL)
	slog.SetDefault(logger)
	return logger
}
