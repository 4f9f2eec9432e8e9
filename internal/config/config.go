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

	OTLPEndpoint string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int
	DBAutoMigrate     bool

	Redis        RedisConfig
	RateLimit    RateLimitConfig
	Worker       WorkerConfig
	Alert        AlertConfig
	Notification NotificationConfig

	// PricingFile overrides the search path of the pricing catalog.
	PricingFile string
	NodeID      int64
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	LockTTL  time.Duration
}

// Enabled reports whether a redis address was configured.
func (c RedisConfig) Enabled() bool {
	return strings.TrimSpace(c.Addr) != ""
}

type RateLimitConfig struct {
	Enabled          bool
	UsageTenantRate  float64
	UsageTenantBurst int
	UsageConcurrency bool
	UsageLockTTL     time.Duration
}

type WorkerConfig struct {
	Enabled            bool
	MetricsInterval    time.Duration
	BillingInterval    time.Duration
	NotifyInterval     time.Duration
	BackoffInitial     time.Duration
	BackoffMax         time.Duration
	CollectorTimeout   time.Duration
	CollectConcurrency int
	Retention          time.Duration
	NotifyBatchSize    int
}

type AlertConfig struct {
	WarningThreshold  float64
	CriticalThreshold float64
	AutoResolve       bool
	ZeroQuotaPolicy   string
}

type NotificationConfig struct {
	SlackWebhookURL string
	SlackChannel    string
	SMTPHost        string
	SMTPPort        int
	SMTPUsername    string
	SMTPPassword    string
	SMTPFrom        string
	Recipients      []string
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:      getenv("APP_SERVICE", "meterline"),
		AppVersion:   getenv("APP_VERSION", "0.1.0"),
		Environment:  getenv("ENVIRONMENT", "development"),
		HTTPAddr:     getenv("HTTP_ADDR", ":8080"),
		OTLPEndpoint: getenv("OTLP_ENDPOINT", ""),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "meterline"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 10),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 50),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 300),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 60),
		DBAutoMigrate:     getenvBool("DATABASE_AUTO_MIGRATE", true),

		Redis: RedisConfig{
			Addr:     strings.TrimSpace(getenv("REDIS_ADDR", "")),
			Password: strings.TrimSpace(getenv("REDIS_PASSWORD", "")),
			DB:       getenvInt("REDIS_DB", 0),
			LockTTL:  getenvDuration("REDIS_LOCK_TTL", 30*time.Second),
		},
		RateLimit: RateLimitConfig{
			Enabled:          getenvBool("RATE_LIMIT_ENABLED", false),
			UsageTenantRate:  getenvFloat("RATE_LIMIT_USAGE_TENANT_RATE", 50),
			UsageTenantBurst: getenvInt("RATE_LIMIT_USAGE_TENANT_BURST", 100),
			UsageConcurrency: getenvBool("RATE_LIMIT_USAGE_CONCURRENCY", true),
			UsageLockTTL:     getenvDuration("RATE_LIMIT_USAGE_LOCK_TTL", 5*time.Second),
		},
		Worker: WorkerConfig{
			Enabled:            getenvBool("WORKER_ENABLED", true),
			MetricsInterval:    getenvDuration("METRICS_INTERVAL", 5*time.Minute),
			BillingInterval:    getenvDuration("BILLING_INTERVAL", time.Hour),
			NotifyInterval:     getenvDuration("NOTIFY_INTERVAL", 2*time.Minute),
			BackoffInitial:     getenvDuration("WORKER_BACKOFF", time.Minute),
			BackoffMax:         getenvDuration("WORKER_BACKOFF_MAX", 5*time.Minute),
			CollectorTimeout:   getenvDuration("COLLECTOR_TIMEOUT", 5*time.Second),
			CollectConcurrency: getenvInt("COLLECT_CONCURRENCY", 8),
			Retention:          getenvDuration("USAGE_RETENTION", 90*24*time.Hour),
			NotifyBatchSize:    getenvInt("NOTIFY_BATCH_SIZE", 100),
		},
		Alert: AlertConfig{
			WarningThreshold:  getenvFloat("ALERT_WARNING_THRESHOLD", 80),
			CriticalThreshold: getenvFloat("ALERT_CRITICAL_THRESHOLD", 95),
			AutoResolve:       getenvBool("ALERT_AUTO_RESOLVE", false),
			ZeroQuotaPolicy:   strings.ToLower(getenv("ALERT_ZERO_QUOTA_POLICY", "never_alert")),
		},
		Notification: NotificationConfig{
			SlackWebhookURL: strings.TrimSpace(getenv("SLACK_WEBHOOK_URL", "")),
			SlackChannel:    strings.TrimSpace(getenv("SLACK_CHANNEL", "")),
			SMTPHost:        strings.TrimSpace(getenv("SMTP_HOST", "")),
			SMTPPort:        getenvInt("SMTP_PORT", 587),
			SMTPUsername:    strings.TrimSpace(getenv("SMTP_USERNAME", "")),
			SMTPPassword:    getenv("SMTP_PASSWORD", ""),
			SMTPFrom:        strings.TrimSpace(getenv("SMTP_FROM", "alerts@meterline.local")),
			Recipients:      splitList(getenv("ALERT_RECIPIENTS", "")),
		},
		PricingFile: strings.TrimSpace(getenv("PRICING_FILE", "")),
		NodeID:      getenvInt64("NODE_ID", 1),
	}

	return cfg
}

func (c Config) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.Environment), "production")
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

func getenvInt64(key string, def int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}

// getenvDuration accepts Go duration strings ("90s", "5m") or a bare
// number of seconds.
func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	if parsed, err := time.ParseDuration(value); err == nil && parsed > 0 {
		return parsed
	}
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	return def
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
