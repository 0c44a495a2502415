package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// StorageType controls the telemetry storage backend.
type StorageType string

const (
	StorageSQLite StorageType = "sqlite"
	StorageMemory StorageType = "memory"
	StorageOff    StorageType = "off"
)

// DefaultModel is the Gemini model used for report generation.
const DefaultModel = "gemini-2.5-flash"

// Config contains all runtime configuration for the service.
type Config struct {
	// Core
	ListenAddr string
	LogLevel   string

	// Remote model
	GoogleAPIKey string
	Model        string

	// Telemetry storage (metadata only, never prompt or report text)
	Storage        StorageType
	StoragePath    string
	StorageMaxRows int

	// HTTP
	RequestBodyMaxBytes int64
	CORSAllowOrigin     string
	CORSAllowHeaders    []string // "*" allows any requested header

	// Observability
	EventBuffer         int
	HealthCheckEnabled  bool
	HealthCheckInterval time.Duration
	HealthCheckTimeout  time.Duration
}

// Load parses env vars and returns a validated Config.
//
// A .env file (ENV_FILE, default ".env") is read first when present. Variables
// already set in the process environment take precedence over the file.
func Load() (Config, error) {
	if err := loadEnvFile(getEnvString("ENV_FILE", ".env")); err != nil {
		return Config{}, err
	}

	cfg := Config{
		ListenAddr: getEnvString("LISTEN_ADDR", ":8000"),
		LogLevel:   getEnvString("LOG_LEVEL", "info"),

		GoogleAPIKey: strings.TrimSpace(getEnvString("GOOGLE_API_KEY", "")),
		Model:        getEnvString("GEMINI_MODEL", DefaultModel),

		Storage:        StorageType(getEnvString("STORAGE", string(StorageMemory))),
		StoragePath:    getEnvString("STORAGE_PATH", "/data/greenhouse-report.sqlite"),
		StorageMaxRows: getEnvInt("STORAGE_MAX_ROWS", 3000),

		RequestBodyMaxBytes: getEnvInt64("REQUEST_BODY_MAX_BYTES", 10*1024*1024),
		CORSAllowOrigin:     getEnvString("CORS_ALLOW_ORIGIN", "*"),
		CORSAllowHeaders:    getEnvList("CORS_ALLOW_HEADERS", []string{"*"}),

		EventBuffer:         getEnvInt("EVENT_BUFFER", 256),
		HealthCheckEnabled:  getEnvBool("HEALTH_CHECK_ENABLED", true),
		HealthCheckInterval: getEnvDuration("HEALTH_CHECK_INTERVAL", 60*time.Second),
		HealthCheckTimeout:  getEnvDuration("HEALTH_CHECK_TIMEOUT", 10*time.Second),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks configuration constraints.
func (c Config) Validate() error {
	if c.GoogleAPIKey == "" {
		return fmt.Errorf("GOOGLE_API_KEY is required")
	}
	if strings.TrimSpace(c.Model) == "" {
		return fmt.Errorf("GEMINI_MODEL must not be empty")
	}

	switch c.Storage {
	case StorageSQLite, StorageMemory, StorageOff:
		// ok
	default:
		return fmt.Errorf("invalid STORAGE: %q (must be sqlite|memory|off)", c.Storage)
	}
	if c.Storage == StorageSQLite && c.StoragePath == "" {
		return fmt.Errorf("STORAGE_PATH is required when STORAGE=sqlite")
	}
	if c.StorageMaxRows < 100 {
		return fmt.Errorf("STORAGE_MAX_ROWS must be >= 100")
	}

	if c.RequestBodyMaxBytes <= 0 {
		return fmt.Errorf("REQUEST_BODY_MAX_BYTES must be > 0")
	}
	if c.EventBuffer < 1 {
		return fmt.Errorf("EVENT_BUFFER must be >= 1")
	}

	if c.HealthCheckEnabled {
		if c.HealthCheckInterval <= 0 {
			return fmt.Errorf("HEALTH_CHECK_INTERVAL must be > 0")
		}
		if c.HealthCheckTimeout <= 0 {
			return fmt.Errorf("HEALTH_CHECK_TIMEOUT must be > 0")
		}
	}

	return nil
}

// Redacted returns a copy that is safe to log or expose over the API.
func (c Config) Redacted() Config {
	if c.GoogleAPIKey != "" {
		c.GoogleAPIKey = "***"
	}
	return c
}

func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// Helper functions for parsing environment variables

func getEnvString(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

// getEnvList splits a comma-separated value, dropping empty items.
func getEnvList(key string, def []string) []string {
	v, ok := os.LookupEnv(key)
	if !ok {
		return def
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}

func getEnvInt(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
	}
	return def
}

func getEnvInt64(key string, def int64) int64 {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
			return n
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			return b
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(strings.TrimSpace(v)); err == nil {
			return d
		}
	}
	return def
}
