// ABOUTME: Environment-driven configuration for the sync utility
// ABOUTME: Loads .env via godotenv then populates Config with envconfig
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds every recognized option. Defaults mirror the production
// deployment; only the two API keys are mandatory.
type Config struct {
	SourceAPIKey  string `envconfig:"SOURCE_API_KEY" required:"true"`
	DestAPIKey    string `envconfig:"DEST_API_KEY" required:"true"`
	SourceBaseURL string `envconfig:"SOURCE_BASE_URL" default:"https://api.pipedrive.com/v1"`
	DestBaseURL   string `envconfig:"DEST_BASE_URL" default:"https://support.liveport.com.au/api/v1/accounts/2"`

	BatchSize     int           `envconfig:"BATCH_SIZE" default:"50"`
	RetryAttempts int           `envconfig:"RETRY_ATTEMPTS" default:"3"`
	RetryDelay    time.Duration `envconfig:"RETRY_DELAY" default:"5s"`

	DefaultCountryCode string `envconfig:"DEFAULT_COUNTRY_CODE" default:"AU"`

	MonitorIntervalMinutes int     `envconfig:"MONITOR_INTERVAL_MINUTES" default:"15"`
	AlertErrorThreshold    float64 `envconfig:"ALERT_ERROR_THRESHOLD" default:"10"`
	MaxSyncAgeHours        int     `envconfig:"MAX_SYNC_AGE_HOURS" default:"2"`
	AlertWebhookURL        string  `envconfig:"ALERT_WEBHOOK_URL"`

	DestInboxName string `envconfig:"DEST_INBOX_NAME" default:"Customer Database"`

	IncludeLabels   string `envconfig:"INCLUDE_LABELS" default:"Customer"`
	ExcludeStatuses string `envconfig:"EXCLUDE_STATUSES" default:"Suspended,Cancelled"`

	RateLimitPerMinute int           `envconfig:"RATE_LIMIT_PER_MINUTE" default:"60"`
	RateLimitCooldown  time.Duration `envconfig:"RATE_LIMIT_COOLDOWN" default:"60s"`
	RequestTimeout     time.Duration `envconfig:"REQUEST_TIMEOUT" default:"30s"`

	DBPath   string `envconfig:"DB_PATH"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
}

// Load reads .env (if present) and the process environment.
func Load() (*Config, error) {
	// Missing .env is fine; real deployments set env vars directly.
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if cfg.BatchSize < 1 {
		return nil, fmt.Errorf("BATCH_SIZE must be at least 1, got %d", cfg.BatchSize)
	}
	if cfg.RateLimitPerMinute < 1 {
		return nil, fmt.Errorf("RATE_LIMIT_PER_MINUTE must be at least 1, got %d", cfg.RateLimitPerMinute)
	}

	return &cfg, nil
}

// DatabasePath resolves the SQLite location: explicit flag, then DB_PATH,
// then the XDG data directory.
func (c *Config) DatabasePath(override string) string {
	if override != "" {
		return override
	}
	if c.DBPath != "" {
		return c.DBPath
	}
	return filepath.Join(xdg.DataHome, "crmsync", "sync.db")
}

// MaxSyncAgeDuration returns MAX_SYNC_AGE_HOURS as a duration.
func (c *Config) MaxSyncAgeDuration() time.Duration {
	return time.Duration(c.MaxSyncAgeHours) * time.Hour
}

// IncludeLabelSet returns the inclusion labels as a set.
func (c *Config) IncludeLabelSet() map[string]bool {
	return splitSet(c.IncludeLabels)
}

// ExcludeStatusSet returns the status denylist as a set.
func (c *Config) ExcludeStatusSet() map[string]bool {
	return splitSet(c.ExcludeStatuses)
}

func splitSet(csv string) map[string]bool {
	set := make(map[string]bool)
	for _, part := range strings.Split(csv, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			set[strings.ToLower(part)] = true
		}
	}
	return set
}
