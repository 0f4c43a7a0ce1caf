package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string

	// PublicBaseURL is the externally reachable origin providers call back to.
	PublicBaseURL string

	OTLPEndpoint string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBDSN             string
	DBAutoMigrate     bool
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	Redis RedisConfig

	// GenerationRateLimit throttles generation requests per owner when redis is configured.
	GenerationRateLimit RateLimitConfig

	BillingWebhookSecret string

	Dispatch DispatchConfig

	// InFlightGuardWindow bounds the duplicate in-flight generation check per subject.
	InFlightGuardWindow time.Duration

	// ProvidersConfigPath overrides the directory searched for providers.yml.
	ProvidersConfigPath string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

func (r RedisConfig) Enabled() bool {
	return strings.TrimSpace(r.Addr) != ""
}

// RateLimitConfig allows Max requests per fixed Window.
type RateLimitConfig struct {
	Max    int
	Window time.Duration
}

func (r RateLimitConfig) Enabled() bool {
	return r.Max > 0 && r.Window > 0
}

type DispatchConfig struct {
	Interval   time.Duration
	RunTimeout time.Duration
	LockTTL    time.Duration
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:       getenv("APP_NAME", "mediaforge"),
		AppVersion:    getenv("APP_VERSION", "0.1.0"),
		Environment:   getenv("ENVIRONMENT", "development"),
		HTTPAddr:      getenv("HTTP_ADDR", ":8080"),
		PublicBaseURL: strings.TrimRight(strings.TrimSpace(getenv("PUBLIC_BASE_URL", "http://localhost:8080")), "/"),
		OTLPEndpoint:  getenv("OTLP_ENDPOINT", "localhost:4317"),

		DBType:            strings.ToLower(getenv("DB_TYPE", "postgres")),
		DBHost:            getenv("DB_HOST", "localhost"),
		DBPort:            getenv("DB_PORT", "5432"),
		DBName:            getenv("DB_NAME", "mediaforge"),
		DBUser:            getenv("DB_USER", "postgres"),
		DBPassword:        getenv("DB_PASSWORD", ""),
		DBSSLMode:         getenv("DB_SSL_MODE", "disable"),
		DBDSN:             strings.TrimSpace(getenv("DB_DSN", "")),
		DBAutoMigrate:     getenvBool("DB_AUTO_MIGRATE", true),
		DBMaxIdleConn:     getenvInt("DB_MAX_IDLE_CONN", 10),
		DBMaxOpenConn:     getenvInt("DB_MAX_OPEN_CONN", 50),
		DBConnMaxLifetime: getenvInt("DB_CONN_MAX_LIFETIME", 1800),
		DBConnMaxIdleTime: getenvInt("DB_CONN_MAX_IDLE_TIME", 300),

		Redis: RedisConfig{
			Addr:     strings.TrimSpace(getenv("REDIS_ADDR", "")),
			Password: getenv("REDIS_PASSWORD", ""),
			DB:       getenvInt("REDIS_DB", 0),
		},

		GenerationRateLimit: RateLimitConfig{
			Max:    getenvInt("GENERATION_RATE_MAX", 0),
			Window: getenvDuration("GENERATION_RATE_WINDOW", time.Minute),
		},

		BillingWebhookSecret: strings.TrimSpace(getenv("BILLING_WEBHOOK_SECRET", "")),

		Dispatch: DispatchConfig{
			Interval:   getenvDuration("DISPATCH_INTERVAL", 5*time.Second),
			RunTimeout: getenvDuration("DISPATCH_RUN_TIMEOUT", 30*time.Second),
			LockTTL:    getenvDuration("DISPATCH_LOCK_TTL", 45*time.Second),
		},

		InFlightGuardWindow: getenvDuration("INFLIGHT_GUARD_WINDOW", 10*time.Minute),
		ProvidersConfigPath: strings.TrimSpace(getenv("PROVIDERS_CONFIG_PATH", "")),
	}

	return cfg
}

func (c Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}
