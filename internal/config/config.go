// Package config loads service configuration from the environment, with
// an optional YAML overlay file.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	// HTTP server
	Port           string `yaml:"port"`
	SaveRatePerMin int    `yaml:"save_rate_per_min"`

	// Acting backend: "http" talks to the expense backend's REST API,
	// "memory" runs against the in-process fake.
	BackendMode    string        `yaml:"backend_mode"`
	BackendBaseURL string        `yaml:"backend_base_url"`
	BackendToken   string        `yaml:"backend_token"`
	BackendTimeout time.Duration `yaml:"backend_timeout"`
	SeedDir        string        `yaml:"seed_dir"`

	// Local database (drafts + audit ledger)
	SQLiteDBPath string `yaml:"sqlite_db_path"`

	// AMQP
	AMQPURL      string `yaml:"amqp_url"`
	AMQPExchange string `yaml:"amqp_exchange"`
	AMQPQueue    string `yaml:"amqp_queue"`

	// Worker mirror
	MirrorEnabled       bool   `yaml:"mirror_enabled"`
	GoogleSpreadsheetID string `yaml:"google_spreadsheet_id"`

	// Reference data cache
	CacheTTL             time.Duration `yaml:"cache_ttl"`
	CacheCleanupInterval time.Duration `yaml:"cache_cleanup_interval"`
}

// Load builds the config from environment variables, applying the YAML
// overlay named by CONFIG_FILE first when present.
func Load() *Config {
	cfg := &Config{
		Port:           getEnv("PORT", "8082"),
		SaveRatePerMin: getEnvInt("SAVE_RATE_PER_MIN", 30),

		BackendMode:    getEnv("BACKEND_MODE", "memory"),
		BackendBaseURL: getEnv("BACKEND_BASE_URL", "http://localhost:8000"),
		BackendToken:   getEnv("BACKEND_TOKEN", ""),
		BackendTimeout: getEnvDuration("BACKEND_TIMEOUT", 30*time.Second),
		SeedDir:        getEnv("SEED_DIR", "./data"),

		SQLiteDBPath: getEnv("SQLITE_DB_PATH", "./data/splitledger.db"),

		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "splitledger"),
		AMQPQueue:    getEnv("AMQP_QUEUE", "purchase_events"),

		MirrorEnabled:       getEnvBool("MIRROR_ENABLED", false),
		GoogleSpreadsheetID: getEnv("GOOGLE_SPREADSHEET_ID", ""),

		CacheTTL:             getEnvDuration("CACHE_TTL", 5*time.Minute),
		CacheCleanupInterval: getEnvDuration("CACHE_CLEANUP_INTERVAL", 5*time.Minute),
	}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.applyOverlay(path); err != nil {
			fmt.Fprintf(os.Stderr, "config overlay %s: %v\n", path, err)
		}
	}

	return cfg
}

// applyOverlay merges values from a YAML file over the env-derived
// config. Environment variables still win for keys they set explicitly.
func (c *Config) applyOverlay(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read overlay: %w", err)
	}
	overlay := *c
	if err := yaml.Unmarshal(raw, &overlay); err != nil {
		return fmt.Errorf("parse overlay: %w", err)
	}
	merged := overlay
	// Re-apply env vars that were set explicitly.
	applyEnvString(&merged.Port, "PORT")
	applyEnvInt(&merged.SaveRatePerMin, "SAVE_RATE_PER_MIN")
	applyEnvString(&merged.BackendMode, "BACKEND_MODE")
	applyEnvString(&merged.BackendBaseURL, "BACKEND_BASE_URL")
	applyEnvString(&merged.BackendToken, "BACKEND_TOKEN")
	applyEnvDuration(&merged.BackendTimeout, "BACKEND_TIMEOUT")
	applyEnvString(&merged.SQLiteDBPath, "SQLITE_DB_PATH")
	applyEnvString(&merged.AMQPURL, "AMQP_URL")
	applyEnvString(&merged.AMQPExchange, "AMQP_EXCHANGE")
	applyEnvString(&merged.AMQPQueue, "AMQP_QUEUE")
	applyEnvBool(&merged.MirrorEnabled, "MIRROR_ENABLED")
	applyEnvString(&merged.GoogleSpreadsheetID, "GOOGLE_SPREADSHEET_ID")
	applyEnvString(&merged.SeedDir, "SEED_DIR")
	applyEnvDuration(&merged.CacheTTL, "CACHE_TTL")
	applyEnvDuration(&merged.CacheCleanupInterval, "CACHE_CLEANUP_INTERVAL")
	*c = merged
	return nil
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	var errors []string

	if port, err := strconv.Atoi(c.Port); err != nil {
		errors = append(errors, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	if c.SaveRatePerMin < 1 {
		errors = append(errors, fmt.Sprintf("invalid save rate %d: must be at least 1 per minute", c.SaveRatePerMin))
	}

	switch c.BackendMode {
	case "http":
		if c.BackendBaseURL == "" {
			errors = append(errors, "backend base URL cannot be empty when using http backend")
		} else if parsed, err := url.Parse(c.BackendBaseURL); err != nil || parsed.Scheme == "" {
			errors = append(errors, fmt.Sprintf("invalid backend base URL '%s'", c.BackendBaseURL))
		}
	case "memory":
	default:
		errors = append(errors, fmt.Sprintf("invalid backend mode '%s': must be one of [http memory]", c.BackendMode))
	}

	if c.SQLiteDBPath == "" {
		errors = append(errors, "SQLite database path cannot be empty")
	} else if dir := filepath.Dir(c.SQLiteDBPath); dir != "." && dir != "" {
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			if err := os.MkdirAll(dir, 0755); err != nil {
				errors = append(errors, fmt.Sprintf("cannot create SQLite database directory '%s': %v", dir, err))
			}
		}
	}

	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPQueue == "" {
			errors = append(errors, "AMQP queue name cannot be empty when AMQP URL is provided")
		}
	}

	if c.MirrorEnabled && c.GoogleSpreadsheetID == "" {
		errors = append(errors, "Google Spreadsheet ID is required when the mirror is enabled")
	}

	if c.CacheTTL < time.Second {
		errors = append(errors, fmt.Sprintf("invalid cache TTL %v: must be at least 1 second", c.CacheTTL))
	}
	if c.CacheCleanupInterval < time.Second {
		errors = append(errors, fmt.Sprintf("invalid cache cleanup interval %v: must be at least 1 second", c.CacheCleanupInterval))
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

func applyEnvString(dst *string, key string) {
	if value := os.Getenv(key); value != "" {
		*dst = value
	}
}

func applyEnvInt(dst *int, key string) {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			*dst = i
		}
	}
}

func applyEnvBool(dst *bool, key string) {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			*dst = b
		}
	}
}

func applyEnvDuration(dst *time.Duration, key string) {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			*dst = d
		}
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
