package internal

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Store drivers accepted by STORE_DRIVER.
const (
	StoreDriverPostgres = "postgres"
	StoreDriverSQLite   = "sqlite"
	StoreDriverRedis    = "redis"
	StoreDriverMemory   = "memory"
)

type Config struct {
	Env      string
	Port     int
	LogLevel string

	// Usage store
	StoreDriver    string // "postgres", "sqlite", "redis" or "memory"
	DatabaseUrl    string
	SQLitePath     string
	RedisURL       string
	RedisKeyPrefix string
	StoreTimeout   time.Duration // bound on every individual store call

	// Header the upstream auth proxy puts the user ID in
	UserIDHeader string

	// Optional upstream whose /api/tools/{tool}/ routes are metered
	UpstreamURL string
	// Reserve budget before proxying instead of counting afterwards.
	// Strict metering never overshoots a limit under concurrency.
	StrictMetering bool

	// Notifications
	Notifier     string // "smtp" or "log"
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string
	SMTPFromName string
	UpgradeURL   string // linked from quota notices

	// Stripe Billing Configuration
	// Billing is disabled when STRIPE_SECRET_KEY is empty; the webhook route
	// then acknowledges and ignores events.
	StripeSecretKey     string // Stripe API secret key (sk_test_... or sk_live_...)
	StripeWebhookSecret string // Stripe webhook signing secret (whsec_...)

	// Stripe Price IDs for each paid plan
	StripePremiumMonthlyPriceID string
	StripePremiumYearlyPriceID  string
	StripeProMonthlyPriceID     string
	StripeProYearlyPriceID      string

	// Usage history archive
	ArchiveProvider  string // "local" or "r2"
	LocalArchivePath string

	// R2 Storage (production)
	R2AccountID       string
	R2AccessKeyID     string
	R2SecretAccessKey string
	R2BucketName      string

	// Retention worker
	WorkerEnabled      bool
	UsageRetentionDays int // 0 disables retention
	RetentionInterval  time.Duration

	// Metrics endpoint authentication
	// If both are empty, the /metrics endpoint will be unprotected (not recommended)
	MetricsUsername string
	MetricsPassword string

	// Admin endpoint authentication. Admin routes are not mounted without it.
	AdminUsername string
	AdminPassword string // plain text or a bcrypt hash

	// Per-IP limit on the public API
	RateLimitPerMinute int
}

func NewConfig() (*Config, error) {
	// Load .env file if it exists (ignored in production)
	_ = godotenv.Load()

	cfg := &Config{
		Env:      getEnv("ENV", "development"),
		Port:     getEnvInt("PORT", 8080),
		LogLevel: getEnv("LOG_LEVEL", "debug"),

		StoreDriver:    getEnv("STORE_DRIVER", StoreDriverPostgres),
		DatabaseUrl:    os.Getenv("DATABASE_URL"),
		SQLitePath:     getEnv("SQLITE_PATH", "./tollgate.db"),
		RedisURL:       getEnv("REDIS_URL", "redis://localhost:6379/0"),
		RedisKeyPrefix: getEnv("REDIS_KEY_PREFIX", "tollgate:"),
		StoreTimeout:   getEnvDuration("STORE_TIMEOUT", 2*time.Second),

		UserIDHeader:   getEnv("USER_ID_HEADER", "X-User-ID"),
		UpstreamURL:    getEnv("UPSTREAM_URL", ""),
		StrictMetering: getEnvBool("STRICT_METERING", true),

		// SMTP defaults for Mailhog (development)
		Notifier:     getEnv("NOTIFIER", "smtp"),
		SMTPHost:     getEnv("SMTP_HOST", "localhost"),
		SMTPPort:     getEnvInt("SMTP_PORT", 1025),
		SMTPUsername: getEnv("SMTP_USERNAME", ""),
		SMTPPassword: getEnv("SMTP_PASSWORD", ""),
		SMTPFrom:     getEnv("SMTP_FROM", "noreply@tollgate.dev"),
		SMTPFromName: getEnv("SMTP_FROM_NAME", "Tollgate"),
		UpgradeURL:   getEnv("UPGRADE_URL", ""),

		// Stripe billing (optional)
		StripeSecretKey:     getEnv("STRIPE_SECRET_KEY", ""),
		StripeWebhookSecret: getEnv("STRIPE_WEBHOOK_SECRET", ""),

		StripePremiumMonthlyPriceID: getEnv("STRIPE_PREMIUM_MONTHLY_PRICE_ID", ""),
		StripePremiumYearlyPriceID:  getEnv("STRIPE_PREMIUM_YEARLY_PRICE_ID", ""),
		StripeProMonthlyPriceID:     getEnv("STRIPE_PRO_MONTHLY_PRICE_ID", ""),
		StripeProYearlyPriceID:      getEnv("STRIPE_PRO_YEARLY_PRICE_ID", ""),

		// Archive defaults to local filesystem for development
		ArchiveProvider:  getEnv("ARCHIVE_PROVIDER", "local"),
		LocalArchivePath: getEnv("LOCAL_ARCHIVE_PATH", "./archive"),

		// R2 configuration (production only)
		R2AccountID:       getEnv("R2_ACCOUNT_ID", ""),
		R2AccessKeyID:     getEnv("R2_ACCESS_KEY_ID", ""),
		R2SecretAccessKey: getEnv("R2_SECRET_ACCESS_KEY", ""),
		R2BucketName:      getEnv("R2_BUCKET_NAME", ""),

		WorkerEnabled:      getEnvBool("WORKER_ENABLED", true),
		UsageRetentionDays: getEnvInt("USAGE_RETENTION_DAYS", 90),
		RetentionInterval:  getEnvDuration("RETENTION_INTERVAL", 24*time.Hour),

		// Metrics authentication
		MetricsUsername: getEnv("METRICS_USERNAME", ""),
		MetricsPassword: getEnv("METRICS_PASSWORD", ""),

		AdminUsername: getEnv("ADMIN_USERNAME", ""),
		AdminPassword: getEnv("ADMIN_PASSWORD", ""),

		RateLimitPerMinute: getEnvInt("RATE_LIMIT_PER_MINUTE", 600),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (cfg *Config) validate() error {
	// Validate store configuration
	switch cfg.StoreDriver {
	case StoreDriverPostgres:
		if cfg.DatabaseUrl == "" {
			return fmt.Errorf("DATABASE_URL is required when STORE_DRIVER is 'postgres'")
		}
	case StoreDriverSQLite:
		if cfg.SQLitePath == "" {
			return fmt.Errorf("SQLITE_PATH is required when STORE_DRIVER is 'sqlite'")
		}
	case StoreDriverRedis:
		if _, err := url.Parse(cfg.RedisURL); err != nil || cfg.RedisURL == "" {
			return fmt.Errorf("REDIS_URL must be a valid URL when STORE_DRIVER is 'redis'")
		}
	case StoreDriverMemory:
		if cfg.Env == "production" {
			return fmt.Errorf("STORE_DRIVER 'memory' is not allowed in production")
		}
	default:
		return fmt.Errorf("STORE_DRIVER must be one of 'postgres', 'sqlite', 'redis' or 'memory', got: %s", cfg.StoreDriver)
	}

	if cfg.StoreTimeout <= 0 {
		return fmt.Errorf("STORE_TIMEOUT must be positive")
	}

	if cfg.UpstreamURL != "" {
		u, err := url.Parse(cfg.UpstreamURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("UPSTREAM_URL must be an absolute URL, got: %s", cfg.UpstreamURL)
		}
	}

	if cfg.Notifier != "smtp" && cfg.Notifier != "log" {
		return fmt.Errorf("NOTIFIER must be either 'smtp' or 'log', got: %s", cfg.Notifier)
	}

	if cfg.StripeSecretKey != "" && cfg.StripeWebhookSecret == "" {
		return fmt.Errorf("STRIPE_WEBHOOK_SECRET is required when STRIPE_SECRET_KEY is set")
	}

	// Validate archive configuration
	if cfg.ArchiveProvider == "r2" {
		if cfg.R2AccountID == "" {
			return fmt.Errorf("R2_ACCOUNT_ID is required when ARCHIVE_PROVIDER is 'r2'")
		}
		if cfg.R2AccessKeyID == "" {
			return fmt.Errorf("R2_ACCESS_KEY_ID is required when ARCHIVE_PROVIDER is 'r2'")
		}
		if cfg.R2SecretAccessKey == "" {
			return fmt.Errorf("R2_SECRET_ACCESS_KEY is required when ARCHIVE_PROVIDER is 'r2'")
		}
		if cfg.R2BucketName == "" {
			return fmt.Errorf("R2_BUCKET_NAME is required when ARCHIVE_PROVIDER is 'r2'")
		}
	} else if cfg.ArchiveProvider != "local" {
		return fmt.Errorf("ARCHIVE_PROVIDER must be either 'local' or 'r2', got: %s", cfg.ArchiveProvider)
	}

	if cfg.UsageRetentionDays < 0 {
		return fmt.Errorf("USAGE_RETENTION_DAYS must not be negative")
	}
	if cfg.UsageRetentionDays > 0 && cfg.RetentionInterval <= 0 {
		return fmt.Errorf("RETENTION_INTERVAL must be positive when retention is enabled")
	}

	if (cfg.AdminUsername == "") != (cfg.AdminPassword == "") {
		return fmt.Errorf("ADMIN_USERNAME and ADMIN_PASSWORD must be set together")
	}

	if cfg.RateLimitPerMinute <= 0 {
		return fmt.Errorf("RATE_LIMIT_PER_MINUTE must be positive")
	}

	return nil
}

// BillingEnabled reports whether Stripe is configured.
func (cfg *Config) BillingEnabled() bool {
	return cfg.StripeSecretKey != ""
}

// AdminEnabled reports whether admin routes should be mounted.
func (cfg *Config) AdminEnabled() bool {
	return cfg.AdminUsername != "" && cfg.AdminPassword != ""
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}
