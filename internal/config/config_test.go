package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("AUDIT_CONFIG_FILE", "")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.DefaultMaxResults != 100 || cfg.VerifyInterval != 24*time.Hour {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.Location() != time.UTC {
		t.Fatalf("expected UTC report location")
	}
}

func TestLoadFileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audit.yaml")
	body := []byte("http_addr: \":9000\"\ndb_path: /var/lib/audit.db\nverify_interval: 6h\nexport_max_retries: 5\nlog_level: debug\n")
	if err := os.WriteFile(path, body, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("AUDIT_CONFIG_FILE", path)
	t.Setenv("AUDIT_HTTP_ADDR", ":9100")
	t.Setenv("AUDIT_EXPORT_MAX_RETRIES", "not-a-number")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.HTTPAddr != ":9100" {
		t.Fatalf("environment should override file, got %s", cfg.HTTPAddr)
	}
	if cfg.DBPath != "/var/lib/audit.db" || cfg.VerifyInterval != 6*time.Hour {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	if cfg.ExportMaxRetries != 5 {
		t.Fatalf("invalid env value should keep the file value, got %d", cfg.ExportMaxRetries)
	}
	if cfg.SlogLevel() != slog.LevelDebug {
		t.Fatalf("expected debug level")
	}
}

func TestValidate(t *testing.T) {
	cfg := Defaults()
	cfg.SealEvents = true
	if err := cfg.Validate(); err == nil {
		t.Fatalf("sealing without a database should be rejected")
	}
	cfg = Defaults()
	cfg.PDFTimeZone = "Mars/Olympus"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("unknown time zone should be rejected")
	}
}
