package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Bus.MaxAttempts != 5 || cfg.Bus.ReadBlockMS != 1000 || cfg.LogStore.Backend != "memory" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

func TestLoadFileOverlaysDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "workbus.yaml")
	doc := "log_store:\n  backend: sqlite\n  dsn: /tmp/workbus.db\nbus:\n  max_attempts: 3\n"
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LogStore.Backend != "sqlite" || cfg.LogStore.DSN != "/tmp/workbus.db" {
		t.Fatalf("expected file overrides applied, got %+v", cfg.LogStore)
	}
	if cfg.Bus.MaxAttempts != 3 {
		t.Fatalf("expected max_attempts overridden to 3, got %d", cfg.Bus.MaxAttempts)
	}
	if cfg.Bus.ReadBlockMS != 1000 {
		t.Fatalf("expected unrelated default preserved, got %d", cfg.Bus.ReadBlockMS)
	}
}

func TestEnvOverridesWinOverFileAndDefaults(t *testing.T) {
	t.Setenv("WORKBUS_LOG_STORE_BACKEND", "postgres")
	t.Setenv("WORKBUS_BUS_MAX_ATTEMPTS", "7")

	path := filepath.Join(t.TempDir(), "workbus.yaml")
	doc := "log_store:\n  backend: sqlite\nbus:\n  max_attempts: 3\n"
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LogStore.Backend != "postgres" {
		t.Fatalf("expected env override for backend, got %s", cfg.LogStore.Backend)
	}
	if cfg.Bus.MaxAttempts != 7 {
		t.Fatalf("expected env override for max_attempts, got %d", cfg.Bus.MaxAttempts)
	}
}

func TestLoadMissingFileIsNotAnError(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err != nil {
		t.Fatalf("expected a missing file to fall back to defaults, got %v", err)
	}
	if cfg.LogStore.Backend != "memory" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
}
