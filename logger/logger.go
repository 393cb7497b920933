// Package logger builds the slog logger used by the binaries.
package logger

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"dcvext/config"
)

// New creates a configured *slog.Logger for the program called name.
// The returned closer function should be deferred to close file handles.
func New(cfg config.LoggerConfig, name string) (*slog.Logger, func() error, error) {
	writer, closer, err := openOutput(expandPath(cfg.Output, name))
	if err != nil {
		return nil, nil, fmt.Errorf("open log output: %w", err)
	}

	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}

	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "json":
		handler = slog.NewJSONHandler(writer, opts)
	default:
		handler = slog.NewTextHandler(writer, opts)
	}

	return slog.New(handler).With("program", name, "pid", os.Getpid()), closer, nil
}

// parseLevel converts a string level to slog.Level.
func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// expandPath substitutes {name} and {pid}, so every run of an extension gets
// its own log file.
func expandPath(output, name string) string {
	r := strings.NewReplacer("{name}", name, "{pid}", strconv.Itoa(os.Getpid()))
	return r.Replace(output)
}

// openOutput returns an io.Writer for the specified output target. stdout is
// refused: it carries the extension protocol.
func openOutput(output string) (io.Writer, func() error, error) {
	noop := func() error { return nil }

	switch strings.ToLower(output) {
	case "stdout":
		return nil, nil, errors.New("stdout is reserved for the extension protocol")
	case "stderr", "":
		return os.Stderr, noop, nil
	default:
		if err := os.MkdirAll(filepath.Dir(output), 0o755); err != nil {
			return nil, nil, err
		}
		f, err := os.OpenFile(output, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
		if err != nil {
			return nil, nil, err
		}
		return f, f.Close, nil
	}
}
