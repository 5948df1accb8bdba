// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	DataDir  string // Base directory for all databases (always absolute)
	Port     int
	LogLevel string
	DevMode  bool

	// Price source collaborator
	PriceSourceURL     string        // REST quote endpoint base URL
	PriceSourceWSURL   string        // Websocket ticker stream URL (optional)
	PriceSourceTimeout time.Duration // Per-request quote timeout

	// Calibration authority (41-point risk/price matrix per symbol)
	CalibrationURL string

	// Assessment behaviour
	AssessmentCacheTTL time.Duration
	BatchWorkers       int

	// Backup (optional; disabled when bucket is empty)
	Backup *BackupConfig
}

// BackupConfig holds S3 backup configuration
type BackupConfig struct {
	Bucket          string
	Region          string
	Endpoint        string // Optional custom endpoint (S3-compatible stores)
	AccessKeyID     string
	SecretAccessKey string
	Retention       int // Days to keep old backups
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("RISKLINE_DATA_DIR", "")
	if dataDir == "" {
		dataDir = "./data"
	}

	// Always resolve to absolute path
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}

	// Ensure directory exists
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:            absDataDir,
		Port:               getEnvAsInt("RISKLINE_PORT", 8010),
		DevMode:            getEnvAsBool("DEV_MODE", false),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		PriceSourceURL:     getEnv("PRICE_SOURCE_URL", "http://localhost:9010"),
		PriceSourceWSURL:   getEnv("PRICE_SOURCE_WS_URL", ""),
		PriceSourceTimeout: getEnvAsDuration("PRICE_SOURCE_TIMEOUT", 5*time.Second),
		CalibrationURL:     getEnv("CALIBRATION_URL", ""),
		AssessmentCacheTTL: getEnvAsDuration("ASSESSMENT_CACHE_TTL", 5*time.Minute),
		BatchWorkers:       getEnvAsInt("BATCH_WORKERS", 16),
		Backup:             loadBackupConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadBackupConfig reads the optional S3 backup settings. Returns nil when
// no bucket is configured, which disables the backup job entirely.
func loadBackupConfig() *BackupConfig {
	bucket := getEnv("BACKUP_S3_BUCKET", "")
	if bucket == "" {
		return nil
	}
	return &BackupConfig{
		Bucket:          bucket,
		Region:          getEnv("BACKUP_S3_REGION", "auto"),
		Endpoint:        getEnv("BACKUP_S3_ENDPOINT", ""),
		AccessKeyID:     getEnv("BACKUP_S3_ACCESS_KEY_ID", ""),
		SecretAccessKey: getEnv("BACKUP_S3_SECRET_ACCESS_KEY", ""),
		Retention:       getEnvAsInt("BACKUP_RETENTION_DAYS", 7),
	}
}

// Validate checks if required configuration is present
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if c.BatchWorkers <= 0 {
		return fmt.Errorf("batch workers must be positive, got %d", c.BatchWorkers)
	}
	if c.AssessmentCacheTTL < 0 {
		return fmt.Errorf("assessment cache TTL must not be negative")
	}
	return nil
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
