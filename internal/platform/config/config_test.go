package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	apperrors "dwell/internal/platform/errors"
)

func noEnv(string) string { return "" }

func TestLoadDefaultsWithoutFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	cfg, err := LoadWithEnv(dir, noEnv)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DBPath != filepath.Join(dir, "dwell.db") {
		t.Fatalf("unexpected db path %s", cfg.DBPath)
	}
	if cfg.DispatchInterval != 5*time.Minute || cfg.MaxSession != 12*time.Hour || cfg.MinInterval != 2*time.Second {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

func TestLoadFileThenEnv(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	raw := []byte("user_id: alice\ntimezone: America/New_York\noffset_minutes: -300\ndispatch_interval: 1m\ncategories:\n  github.com: work\nledger:\n  tokens:\n    secret: alice\n")
	if err := os.WriteFile(filepath.Join(dir, FileName), raw, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	env := map[string]string{"DWELL_USER_ID": "bob", "DWELL_BATCH_SIZE": "50"}
	cfg, err := LoadWithEnv(dir, func(k string) string { return env[k] })
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.UserID != "bob" || cfg.BatchSize != 50 {
		t.Fatalf("env overrides not applied: %+v", cfg)
	}
	if cfg.DispatchInterval != time.Minute || cfg.Categories["github.com"] != "work" || cfg.Ledger.Tokens["secret"] != "alice" {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	if name, offset := cfg.Zone(time.Now()); name != "America/New_York" || offset != -300 {
		t.Fatalf("explicit offset must win, got %s %d", name, offset)
	}
}

func TestLoadRejectsInvalidOffset(t *testing.T) {
	t.Parallel()

	_, err := LoadWithEnv(t.TempDir(), func(k string) string {
		if k == "DWELL_OFFSET_MINUTES" {
			return "900"
		}
		return ""
	})
	if !errors.Is(err, apperrors.ErrInvalidTimezoneOffset) {
		t.Fatalf("expected invalid offset, got %v", err)
	}
}

func TestZoneDerivesOffsetFromLocation(t *testing.T) {
	t.Parallel()

	cfg := Default(t.TempDir())
	cfg.Timezone = "UTC"
	if name, offset := cfg.Zone(time.Now()); name != "UTC" || offset != 0 {
		t.Fatalf("unexpected zone %s %d", name, offset)
	}
	cfg.Timezone = "Office"
	cfg.OffsetMinutes = 330
	if name, offset := cfg.Zone(time.Now()); name != "Office" || offset != 330 {
		t.Fatalf("unexpected zone %s %d", name, offset)
	}
	cfg.Timezone = "Asia/Kolkata"
	cfg.OffsetMinutes = 0
	if _, err := time.LoadLocation(cfg.Timezone); err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	if _, offset := cfg.Zone(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)); offset != 330 {
		t.Fatalf("expected Kolkata to be 330 minutes east, got %d", offset)
	}
}
