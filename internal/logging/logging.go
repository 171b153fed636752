// Package logging sets up the process-wide structured logger: stderr plus
// an optional rotated file mirror under a sibling logs/ directory, with a
// session banner written once at startup.
package logging

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures New.
type Options struct {
	Level      string // debug|info|warn|error
	LogDir     string // sibling logs/ directory; empty disables the file mirror
	MappingCount int
}

// New builds the logger and, if opts.LogDir is non-empty, a lumberjack
// mirror rotated at 10MB/5 backups. The returned cleanup must be called
// before process exit to flush and close the rotated file.
func New(opts Options) (logger *slog.Logger, cleanup func()) {
	writers := []io.Writer{os.Stderr}
	cleanup = func() {}

	if opts.LogDir != "" {
		if err := os.MkdirAll(opts.LogDir, 0o755); err == nil {
			lj := &lumberjack.Logger{
				Filename:   filepath.Join(opts.LogDir, "clustermux.log"),
				MaxSize:    10,
				MaxBackups: 5,
				MaxAge:     28,
				Compress:   true,
			}
			writers = append(writers, lj)
			cleanup = func() { _ = lj.Close() }
		}
	}

	handler := slog.NewTextHandler(io.MultiWriter(writers...), &slog.HandlerOptions{
		Level: parseLevel(opts.Level),
	})
	logger = slog.New(handler)

	logger.Info("session_start",
		"pid", os.Getpid(),
		"mapping_count", opts.MappingCount,
		"started_at", time.Now().Format(time.RFC3339),
	)

	return logger, cleanup
}

func parseLevel(level string) slog.Level {
	switch level {
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

// ParseLevelFlagValue validates --log-level's value at config-parse time,
// returning a clear error message rather than silently defaulting.
func ParseLevelFlagValue(level string) (string, error) {
	switch level {
	case "debug", "info", "warn", "error":
		return level, nil
	case "":
		return "info", nil
	default:
		return "", &invalidLevelError{level}
	}
}

type invalidLevelError struct{ got string }

func (e *invalidLevelError) Error() string {
	return "invalid --log-level " + strconv.Quote(e.got) + "; must be one of debug, info, warn, error"
}
