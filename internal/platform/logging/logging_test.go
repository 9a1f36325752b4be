package logging

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"cdr.dev/slog/v3"
)

func TestNewTeesToRotatedFile(t *testing.T) {
	t.Parallel()

	var stderr bytes.Buffer
	path := filepath.Join(t.TempDir(), "logs", "dwell.log")
	logger, closeFn, err := New(Options{File: path, Stderr: &stderr})
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	logger.Info(context.Background(), "hello", slog.F("domain", "example.com"))
	logger.Debug(context.Background(), "hidden")
	closeFn()
	closeFn()

	if !strings.Contains(stderr.String(), "hello") {
		t.Fatalf("expected stderr output, got %q", stderr.String())
	}
	if strings.Contains(stderr.String(), "hidden") {
		t.Fatalf("debug must be filtered without verbose")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(raw), "example.com") {
		t.Fatalf("expected file output, got %q", raw)
	}
}

func TestVerboseEnablesDebug(t *testing.T) {
	t.Parallel()

	var stderr bytes.Buffer
	logger, closeFn, err := New(Options{Verbose: true, Stderr: &stderr})
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	defer closeFn()
	logger.Debug(context.Background(), "visible")
	if !strings.Contains(stderr.String(), "visible") {
		t.Fatalf("expected debug output, got %q", stderr.String())
	}
}
