package logging

import (
	"io"
	"log/slog"
	"os"

	"github.com/fieldserve/client-go/internal/config"
)

// New builds the client logger per the logging configuration: JSON records
// to stdout, stderr, or a size-rotated file. The returned closer is non-nil
// only for file output and must be closed when the client shuts down.
func New(cfg config.LoggingConfig) (*slog.Logger, io.Closer, error) {
	var (
		w      io.Writer
		closer io.Closer
	)
	switch cfg.Output {
	case "stdout":
		w = os.Stdout
	case "", "stderr":
		w = os.Stderr
	default:
		rf, err := OpenRotatingFile(cfg.Output, cfg.MaxSizeMB, cfg.MaxBackups, cfg.MaxAgeDays)
		if err != nil {
			return nil, nil, err
		}
		w = rf
		closer = rf
	}

	h := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: parseLevel(cfg.Level)})
	return slog.New(h), closer, nil
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
