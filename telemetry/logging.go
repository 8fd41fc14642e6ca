package telemetry

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// LogOptions selects the level, format and sinks of the process logger.
type LogOptions struct {
	Level   string // debug | info | warn | error
	Format  string // text | json
	File    string // appended to when set
	Console bool   // write to stdout
}

// NewLogger builds a logger writing to stdout and/or an append-only log file.
// The returned close func releases the file; it is a no-op without one. With
// both sinks disabled output is discarded.
func NewLogger(o LogOptions) (*slog.Logger, func() error, error) {
	closeFn := func() error { return nil }
	var sinks []io.Writer
	if o.Console {
		sinks = append(sinks, os.Stdout)
	}
	if o.File != "" {
		if dir := filepath.Dir(o.File); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, closeFn, fmt.Errorf("create log dir: %w", err)
			}
		}
		f, err := os.OpenFile(o.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, closeFn, fmt.Errorf("open log file: %w", err)
		}
		sinks = append(sinks, f)
		closeFn = f.Close
	}
	w := io.Discard
	if len(sinks) > 0 {
		w = io.MultiWriter(sinks...)
	}

	opts := &slog.HandlerOptions{Level: ParseLevel(o.Level)}
	var h slog.Handler
	if strings.EqualFold(o.Format, "json") {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	return slog.New(h), closeFn, nil
}

// ParseLevel maps a level name to a slog.Level; unknown names mean info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error", "critical":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
