package telemetry

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNewLoggerWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "puck.log")
	logger, closeLog, err := NewLogger(LogOptions{Level: "warn", Format: "json", File: path})
	if err != nil {
		t.Fatalf("NewLogger() error: %v", err)
	}
	logger.Info("dropped below level")
	logger.Warn("kept", slog.String("component", "test"))
	if err := closeLog(); err != nil {
		t.Fatalf("close: %v", err)
	}

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(b)), "\n")
	if len(lines) != 1 {
		t.Fatalf("log lines = %q, want exactly one", lines)
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatalf("log line is not JSON: %v", err)
	}
	if rec["msg"] != "kept" || rec["component"] != "test" {
		t.Errorf("log record = %v", rec)
	}
}

func TestNewLoggerAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "puck.log")
	for _, msg := range []string{"first", "second"} {
		logger, closeLog, err := NewLogger(LogOptions{File: path})
		if err != nil {
			t.Fatalf("NewLogger() error: %v", err)
		}
		logger.Info(msg)
		if err := closeLog(); err != nil {
			t.Fatal(err)
		}
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(b), "msg=first") || !strings.Contains(string(b), "msg=second") {
		t.Errorf("log file = %q, want both runs", b)
	}
}

func TestNewLoggerBadPath(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	if err := os.WriteFile(blocker, nil, 0o600); err != nil {
		t.Fatal(err)
	}
	if _, _, err := NewLogger(LogOptions{File: filepath.Join(blocker, "puck.log")}); err == nil {
		t.Fatal("expected error when the log directory is a file")
	}
}
