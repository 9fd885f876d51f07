package config

import (
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server struct {
		Port    string
		Env     string
		Timeout time.Duration
		BaseURL string
	}

	// Database configuration
	Database struct {
		Host     string
		Port     string
		User     string
		Password string
		Name     string
		SSLMode  string
		MaxConns int
		Timeout  time.Duration
	}

	// JWT configuration
	JWT struct {
		Secret string
		Expiry time.Duration
	}

	// Security configuration
	Security struct {
		RateLimit      float64
		RateLimitBurst int
		AllowedOrigins []string
		TrustedProxies []string
	}

	// Logging configuration
	Logging struct {
		Level  string
		Format string
	}

	// Quota holds the hardcoded fallback policy used when the persisted
	// QuotaPolicy row cannot be read, plus the reference timezone the
	// daily window is evaluated in.
	Quota struct {
		Enabled            bool
		MaxSessionsPerDay  int
		MaxDurationMinutes int
		CooldownMinutes    int
		ExemptRole         string
		Timezone           string
		PolicyCacheTTL     time.Duration
	}

	// Crisis engine thresholds. Scores in (0, MediumThreshold) classify
	// low, [MediumThreshold, HighThreshold) medium, >= HighThreshold high.
	Crisis struct {
		MediumThreshold int
		HighThreshold   int
		WindowMessages  int
	}

	// Redaction gateway settings
	Redaction struct {
		Model         string
		Timeout       time.Duration
		RetryInterval time.Duration
	}

	// Upstream AI provider settings
	AI struct {
		Model   string
		BaseURL string
		Timeout time.Duration
	}

	// Event bus settings
	Bus struct {
		SubscriberBuffer int
		RedisURL         string
	}

	// Cache settings
	Cache struct {
		TTL         time.Duration
		MaxSize     int
		PurgeWindow time.Duration
	}
}

var (
	instance *Config
	once     sync.Once
)

// New creates a new Config instance with values from environment variables
// Uses singleton pattern to ensure only one instance exists
func New() *Config {
	once.Do(func() {
		// Load .env file if exists
		godotenv.Load()

		instance = &Config{}

		// Server config
		instance.Server.Port = getEnvString("PORT", "8081")
		instance.Server.Env = getEnvString("APP_ENV", "development")
		instance.Server.Timeout = getEnvDuration("SERVER_TIMEOUT", 30*time.Second)
		instance.Server.BaseURL = getEnvString("BASE_URL", "http://localhost:"+instance.Server.Port)

		// Database config
		instance.Database.Host = getEnvString("DB_HOST", "localhost")
		instance.Database.Port = getEnvString("DB_PORT", "5432")
		instance.Database.User = getEnvString("DB_USER", "postgres")
		instance.Database.Password = getEnvString("DB_PASSWORD", "postgres")
		instance.Database.Name = getEnvString("DB_NAME", "companion-care")
		instance.Database.SSLMode = getEnvString("DB_SSL_MODE", "disable")
		instance.Database.MaxConns = getEnvInt("DB_MAX_CONNS", 20)
		instance.Database.Timeout = getEnvDuration("DB_TIMEOUT", 5*time.Second)

		// JWT config
		instance.JWT.Secret = getEnvString("JWT_SECRET", "default-jwt-secret-do-not-use-in-production")
		instance.JWT.Expiry = getEnvDuration("JWT_EXPIRY", 24*time.Hour)

		// Security config
		instance.Security.RateLimit = float64(getEnvInt("RATE_LIMIT", 5))
		instance.Security.RateLimitBurst = getEnvInt("RATE_LIMIT_BURST", 10)
		instance.Security.AllowedOrigins = getEnvStringSlice("ALLOWED_ORIGINS", []string{"*"})
		instance.Security.TrustedProxies = getEnvStringSlice("TRUSTED_PROXIES", []string{"127.0.0.1"})

		// Logging config
		instance.Logging.Level = getEnvString("LOG_LEVEL", "info")
		instance.Logging.Format = getEnvString("LOG_FORMAT", "json")

		// Quota fallback policy
		instance.Quota.Enabled = getEnvBool("QUOTA_ENABLED", true)
		instance.Quota.MaxSessionsPerDay = getEnvInt("QUOTA_MAX_SESSIONS_PER_DAY", 3)
		instance.Quota.MaxDurationMinutes = getEnvInt("QUOTA_MAX_DURATION_MINUTES", 30)
		instance.Quota.CooldownMinutes = getEnvInt("QUOTA_COOLDOWN_MINUTES", 60)
		instance.Quota.ExemptRole = getEnvString("QUOTA_EXEMPT_ROLE", "admin")
		instance.Quota.Timezone = getEnvString("QUOTA_TIMEZONE", "America/New_York")
		instance.Quota.PolicyCacheTTL = getEnvDuration("QUOTA_POLICY_CACHE_TTL", 30*time.Second)

		// Crisis engine thresholds
		instance.Crisis.MediumThreshold = getEnvInt("CRISIS_MEDIUM_THRESHOLD", 31)
		instance.Crisis.HighThreshold = getEnvInt("CRISIS_HIGH_THRESHOLD", 71)
		instance.Crisis.WindowMessages = getEnvInt("CRISIS_WINDOW_MESSAGES", 10)

		// Redaction gateway
		instance.Redaction.Model = getEnvString("REDACTION_MODEL", "gpt-4o-mini")
		instance.Redaction.Timeout = getEnvDuration("REDACTION_TIMEOUT", 15*time.Second)
		instance.Redaction.RetryInterval = getEnvDuration("REDACTION_RETRY_INTERVAL", time.Minute)

		// Upstream AI provider
		instance.AI.Model = getEnvString("AI_MODEL", "gpt-4o")
		instance.AI.BaseURL = getEnvString("AI_BASE_URL", "")
		instance.AI.Timeout = getEnvDuration("AI_TIMEOUT", 30*time.Second)

		// Event bus
		instance.Bus.SubscriberBuffer = getEnvInt("BUS_SUBSCRIBER_BUFFER", 64)
		instance.Bus.RedisURL = getEnvString("BUS_REDIS_URL", "")

		// Cache settings
		instance.Cache.TTL = getEnvDuration("CACHE_TTL", 5*time.Minute)
		instance.Cache.MaxSize = getEnvInt("CACHE_MAX_SIZE", 1000)
		instance.Cache.PurgeWindow = getEnvDuration("CACHE_PURGE_WINDOW", 10*time.Minute)
	})

	return instance
}

// Get returns the singleton Config instance
func Get() *Config {
	if instance == nil {
		return New()
	}
	return instance
}

// Helper functions to read environment variables with default values

func getEnvString(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvStringSlice(key string, defaultValue []string) []string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return strings.Split(value, ",")
	}
	return defaultValue
}
