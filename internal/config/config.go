package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Config holds configuration for the gateway.
type Config struct {
	HTTPPort      string
	SessionSecret []byte
	SessionTTL    time.Duration
	BcryptCost    int

	// PlatformOrgID identifies the operator's own organization. Sessions
	// scoped to it may query audit events across all organizations.
	PlatformOrgID uuid.UUID

	Database  DatabaseConfig
	Redis     RedisConfig
	RateLimit RateLimitConfig
	Pricing   PricingConfig
	Audit     AuditConfig
	UsageSink UsageSinkConfig
	Provider  ProviderConfig
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Host     string
	Port     int
	Name     string
	User     string
	Password string
	SSLMode  string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration

	CredentialCacheSize int
	CredentialCacheTTL  time.Duration
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Enabled  bool
	Address  string
	Password string
	DB       int
}

// RateLimitConfig holds rate limiting settings
type RateLimitConfig struct {
	Window time.Duration
}

// PricingConfig holds pricing table settings
type PricingConfig struct {
	FilePath      string  // YAML rate table, empty means built-in defaults
	MarkupPercent float64 // plain percentage applied on top of base rates
}

// AuditConfig holds audit trail settings: the critical-event alert
// webhook and the optional S3 archiver.
type AuditConfig struct {
	WebhookURL      string
	ArchiveEnabled  bool
	ArchiveBucket   string
	ArchiveRegion   string
	ArchivePrefix   string
	ArchiveInterval time.Duration
	NodeName        string
}

// UsageSinkConfig holds settings for the async usage-record writer.
type UsageSinkConfig struct {
	BatchSize    int
	BatchTimeout time.Duration
	MaxRetries   int
	RetryBackoff time.Duration
}

// ProviderConfig holds upstream provider settings
type ProviderConfig struct {
	BaseURL        string
	APIKey         string
	RequestTimeout time.Duration
}

func getEnvInt(key string, defaultValue int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}

	intVal, err := strconv.Atoi(val)
	if err != nil {
		return defaultValue
	}

	return intVal
}

func getEnvFloat(key string, defaultValue float64) float64 {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	floatVal, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return defaultValue
	}
	return floatVal
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}

	duration, err := time.ParseDuration(val)
	if err != nil {
		return defaultValue
	}

	return duration
}

func getEnvString(key string, defaultValue string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	return val
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	sessionSecret := os.Getenv("SESSION_SECRET")
	if sessionSecret == "" {
		return nil, fmt.Errorf("SESSION_SECRET is required")
	}

	var platformOrgID uuid.UUID
	if raw := os.Getenv("PLATFORM_ORG_ID"); raw != "" {
		parsed, err := uuid.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("PLATFORM_ORG_ID must be a valid UUID: %w", err)
		}
		platformOrgID = parsed
	}

	cfg := &Config{
		HTTPPort:      getEnvString("HTTP_PORT", "8080"),
		SessionSecret: []byte(sessionSecret),
		SessionTTL:    getEnvDuration("SESSION_TTL", 1*time.Hour),
		BcryptCost:    getEnvInt("BCRYPT_COST", 0), // 0 means library default
		PlatformOrgID: platformOrgID,
		Database: DatabaseConfig{
			Host:     getEnvString("DB_HOST", "localhost"),
			Port:     getEnvInt("DB_PORT", 5432),
			Name:     getEnvString("DB_NAME", "creditgate"),
			User:     getEnvString("DB_USER", "postgres"),
			Password: getEnvString("DB_PASSWORD", ""),
			SSLMode:  getEnvString("DB_SSL_MODE", "disable"),

			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
			ConnMaxIdleTime: getEnvDuration("DB_CONN_MAX_IDLE_TIME", 1*time.Minute),

			CredentialCacheSize: getEnvInt("CACHE_CREDENTIAL_SIZE", 1000),
			CredentialCacheTTL:  getEnvDuration("CACHE_CREDENTIAL_TTL", 5*time.Minute),
		},
		Redis: RedisConfig{
			Enabled:  getEnvString("REDIS_ENABLED", "false") == "true",
			Address:  getEnvString("REDIS_ADDRESS", "localhost:6379"),
			Password: getEnvString("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		RateLimit: RateLimitConfig{
			Window: getEnvDuration("RATE_LIMIT_WINDOW", 1*time.Minute),
		},
		Pricing: PricingConfig{
			FilePath:      getEnvString("PRICING_FILE", ""),
			MarkupPercent: getEnvFloat("PRICING_MARKUP_PERCENT", 0),
		},
		Audit: AuditConfig{
			WebhookURL:      getEnvString("AUDIT_WEBHOOK_URL", ""),
			ArchiveEnabled:  getEnvString("AUDIT_ARCHIVE_ENABLED", "false") == "true",
			ArchiveBucket:   getEnvString("AUDIT_ARCHIVE_S3_BUCKET", ""),
			ArchiveRegion:   getEnvString("AUDIT_ARCHIVE_S3_REGION", "us-east-1"),
			ArchivePrefix:   getEnvString("AUDIT_ARCHIVE_S3_PREFIX", "audit/"),
			ArchiveInterval: getEnvDuration("AUDIT_ARCHIVE_INTERVAL", 5*time.Minute),
			NodeName:        getEnvString("POD_NAME", "gateway-0"),
		},
		UsageSink: UsageSinkConfig{
			BatchSize:    getEnvInt("USAGE_SINK_BATCH_SIZE", 100),
			BatchTimeout: getEnvDuration("USAGE_SINK_BATCH_TIMEOUT", 5*time.Second),
			MaxRetries:   getEnvInt("USAGE_SINK_MAX_RETRIES", 3),
			RetryBackoff: getEnvDuration("USAGE_SINK_RETRY_BACKOFF", 1*time.Second),
		},
		Provider: ProviderConfig{
			BaseURL:        getEnvString("PROVIDER_BASE_URL", ""),
			APIKey:         getEnvString("PROVIDER_API_KEY", ""),
			RequestTimeout: getEnvDuration("PROVIDER_REQUEST_TIMEOUT", 60*time.Second),
		},
	}

	return cfg, nil
}
