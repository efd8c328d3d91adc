package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds file- and environment-driven settings. Values from the YAML
// file named by AUDIT_CONFIG_FILE are applied first; environment variables win.
type Config struct {
	HTTPAddr          string        `yaml:"http_addr"`
	LogLevel          string        `yaml:"log_level"`
	DBPath            string        `yaml:"db_path"`
	SigningSecret     string        `yaml:"signing_secret"`
	SealEvents        bool          `yaml:"seal_events"`
	DefaultMaxResults int           `yaml:"default_max_results"`
	VerifyInterval    time.Duration `yaml:"verify_interval"`

	ExportDir           string        `yaml:"export_dir"`
	ExportBucket        string        `yaml:"export_bucket"`
	ExportRetention     time.Duration `yaml:"export_retention"`
	ExportMaxConcurrent int           `yaml:"export_max_concurrent"`
	ExportMaxQueue      int           `yaml:"export_max_queue"`
	ExportMaxRetries    int           `yaml:"export_max_retries"`
	ExportRetryBase     time.Duration `yaml:"export_retry_base"`
	ExportRatePerMinute int           `yaml:"export_rate_per_minute"`
	QueueRetryAfter     time.Duration `yaml:"queue_retry_after"`
	SignURLTTL          time.Duration `yaml:"sign_url_ttl"`

	PDFEnabled      bool          `yaml:"pdf_enabled"`
	PDFChromiumPath string        `yaml:"pdf_chromium_path"`
	PDFTimeout      time.Duration `yaml:"pdf_timeout"`
	PDFTimeZone     string        `yaml:"pdf_timezone"`
}

func Defaults() Config {
	return Config{
		HTTPAddr:            ":8080",
		LogLevel:            "info",
		DefaultMaxResults:   100,
		VerifyInterval:      24 * time.Hour,
		ExportBucket:        "audit-exports",
		ExportRetention:     24 * time.Hour,
		ExportMaxConcurrent: 2,
		ExportMaxQueue:      20,
		ExportMaxRetries:    3,
		ExportRetryBase:     time.Second,
		ExportRatePerMinute: 10,
		QueueRetryAfter:     30 * time.Second,
		SignURLTTL:          10 * time.Minute,
		PDFEnabled:          false,
		PDFTimeout:          15 * time.Second,
		PDFTimeZone:         "UTC",
	}
}

func Load() (Config, error) {
	cfg := Defaults()
	if path := getenv("AUDIT_CONFIG_FILE", ""); path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}
	applyEnv(&cfg)
	return cfg, cfg.Validate()
}

func loadFile(path string, cfg *Config) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.HTTPAddr = getenv("AUDIT_HTTP_ADDR", cfg.HTTPAddr)
	cfg.LogLevel = getenv("AUDIT_LOG_LEVEL", cfg.LogLevel)
	cfg.DBPath = getenv("AUDIT_DB_PATH", cfg.DBPath)
	cfg.SigningSecret = getenv("AUDIT_SIGNING_SECRET", cfg.SigningSecret)
	cfg.SealEvents = getBool("AUDIT_SEAL_EVENTS", cfg.SealEvents)
	cfg.DefaultMaxResults = getInt("AUDIT_DEFAULT_MAX_RESULTS", cfg.DefaultMaxResults)
	cfg.VerifyInterval = getDuration("AUDIT_VERIFY_INTERVAL", cfg.VerifyInterval)

	cfg.ExportDir = getenv("AUDIT_EXPORT_DIR", cfg.ExportDir)
	cfg.ExportBucket = getenv("AUDIT_EXPORT_BUCKET", cfg.ExportBucket)
	cfg.ExportRetention = getDuration("AUDIT_EXPORT_RETENTION", cfg.ExportRetention)
	cfg.ExportMaxConcurrent = getInt("AUDIT_EXPORT_MAX_CONCURRENT", cfg.ExportMaxConcurrent)
	cfg.ExportMaxQueue = getInt("AUDIT_EXPORT_MAX_QUEUE", cfg.ExportMaxQueue)
	cfg.ExportMaxRetries = getInt("AUDIT_EXPORT_MAX_RETRIES", cfg.ExportMaxRetries)
	cfg.ExportRetryBase = getDuration("AUDIT_EXPORT_RETRY_BASE", cfg.ExportRetryBase)
	cfg.ExportRatePerMinute = getInt("AUDIT_EXPORT_RATE_PER_MIN", cfg.ExportRatePerMinute)
	cfg.QueueRetryAfter = getDuration("AUDIT_QUEUE_RETRY_AFTER", cfg.QueueRetryAfter)
	cfg.SignURLTTL = getDuration("AUDIT_SIGN_URL_TTL", cfg.SignURLTTL)

	cfg.PDFEnabled = getBool("PDF_ENABLED", cfg.PDFEnabled)
	cfg.PDFChromiumPath = getenv("PDF_CHROMIUM_PATH", cfg.PDFChromiumPath)
	cfg.PDFTimeout = getDuration("PDF_TIMEOUT", cfg.PDFTimeout)
	cfg.PDFTimeZone = getenv("PDF_TIMEZONE", cfg.PDFTimeZone)
}

func (c Config) Validate() error {
	if c.ExportMaxConcurrent <= 0 {
		return fmt.Errorf("export_max_concurrent must be positive, got %d", c.ExportMaxConcurrent)
	}
	if c.ExportMaxRetries <= 0 {
		return fmt.Errorf("export_max_retries must be positive, got %d", c.ExportMaxRetries)
	}
	if c.SealEvents && c.DBPath == "" {
		return fmt.Errorf("seal_events requires db_path")
	}
	if _, err := time.LoadLocation(c.PDFTimeZone); err != nil {
		return fmt.Errorf("pdf_timezone: %w", err)
	}
	return nil
}

// Location is the report time zone, UTC when unknown.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.PDFTimeZone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func (c Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

func getenv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getBool(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getDuration(key string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
