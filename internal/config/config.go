package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the engine
type Config struct {
	// Server configuration
	Port  string
	Debug bool

	// Row store configuration
	StoreURL    string
	StoreAPIKey string
	StoreSchema string

	// Realtime change-feed configuration
	RealtimeURL    string
	EnableRealtime bool

	// Sync configuration
	ProjectID     string
	ItemsPerPage  int
	Timeframe     string // "7d", "30d" or "90d"
	MaxRetries    int
	RetryDelay    time.Duration
	ToggleTimeout time.Duration

	// Reconciliation sweep
	ResyncSchedule string // cron expression for the safety-net resync

	// Snapshot archive configuration
	StorageAccount   string
	StorageContainer string
	ArchiveRetention int // days of daily snapshots kept before pruning

	// Notification configuration
	WebhookURL        string
	NotificationEmail string
	SMTPHost          string
	SMTPPort          int
	SMTPUsername      string
	SMTPPassword      string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Port:  getEnv("PORT", "8080"),
		Debug: getBoolEnv("DEBUG", false),

		StoreURL:    getEnv("STORE_URL", ""),
		StoreAPIKey: getEnv("STORE_API_KEY", ""),
		StoreSchema: getEnv("STORE_SCHEMA", "public"),

		RealtimeURL:    getEnv("REALTIME_URL", ""),
		EnableRealtime: getBoolEnv("ENABLE_REALTIME", true),

		ProjectID:     getEnv("PROJECT_ID", ""),
		ItemsPerPage:  getIntEnv("ITEMS_PER_PAGE", 5),
		Timeframe:     getEnv("TIMEFRAME", "30d"),
		MaxRetries:    getIntEnv("MAX_RETRIES", 3),
		RetryDelay:    getDurationEnv("RETRY_DELAY", time.Second),
		ToggleTimeout: getDurationEnv("TOGGLE_TIMEOUT", 10*time.Second),

		ResyncSchedule: getEnv("RESYNC_SCHEDULE", "0 */10 * * * *"),

		StorageAccount:   getEnv("AZURE_STORAGE_ACCOUNT", ""),
		StorageContainer: getEnv("AZURE_STORAGE_CONTAINER", "snapshots"),
		ArchiveRetention: getIntEnv("ARCHIVE_RETENTION_DAYS", 90),

		WebhookURL:        getEnv("WEBHOOK_URL", ""),
		NotificationEmail: getEnv("NOTIFICATION_EMAIL", ""),
		SMTPHost:          getEnv("SMTP_HOST", ""),
		SMTPPort:          getIntEnv("SMTP_PORT", 587),
		SMTPUsername:      getEnv("SMTP_USERNAME", ""),
		SMTPPassword:      getEnv("SMTP_PASSWORD", ""),
	}

	// Validate required configuration
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.StoreURL == "" {
		return fmt.Errorf("STORE_URL is required")
	}

	if c.ItemsPerPage < 1 {
		return fmt.Errorf("ITEMS_PER_PAGE must be at least 1")
	}

	if c.MaxRetries < 0 {
		return fmt.Errorf("MAX_RETRIES must not be negative")
	}

	switch c.Timeframe {
	case "7d", "30d", "90d":
	default:
		return fmt.Errorf("TIMEFRAME must be one of '7d', '30d' or '90d'")
	}

	if c.ArchiveRetention < 1 {
		return fmt.Errorf("ARCHIVE_RETENTION_DAYS must be at least 1")
	}

	if c.NotificationEmail != "" {
		if c.SMTPHost == "" || c.SMTPUsername == "" || c.SMTPPassword == "" {
			return fmt.Errorf("SMTP configuration is required when NOTIFICATION_EMAIL is set")
		}
	}

	return nil
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
