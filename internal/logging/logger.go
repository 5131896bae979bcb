package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"

	"counselchat/internal/config"
)

// Setup installs the process-wide slog logger described by cfg.
// The returned closer is non-nil only for file output and must be closed on shutdown.
func Setup(cfg *config.LoggingConfig) io.Closer {
	logger, closer := New(cfg, os.Stdout)
	slog.SetDefault(logger)
	return closer
}

// New builds a logger writing to stdout, or to a rotated file when cfg.File is set
func New(cfg *config.LoggingConfig, stdout io.Writer) (*slog.Logger, io.Closer) {
	w := stdout
	var closer io.Closer

	if cfg.File != "" {
		lj := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		}
		w = lj
		closer = lj
	}

	opts := &slog.HandlerOptions{Level: ParseLevel(cfg.Level)}
	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "text") {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}

	return slog.New(handler).With("service", "counselchat"), closer
}

// ParseLevel maps a config level name to a slog level, defaulting to info
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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
