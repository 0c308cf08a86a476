package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string

	LogLevel  string
	LogFormat string

	// OTLPEndpoint enables span export over OTLP/gRPC when set.
	OTLPEndpoint string

	// SeedDemo loads a small demo marketplace on startup outside production.
	SeedDemo bool

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBPath            string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	Redis          RedisConfig
	RateLimit      RateLimitConfig
	Bus            BusConfig
	Dedup          DedupConfig
	Invoice        InvoiceConfig
	Payment        PaymentConfig
	Reconciliation ReconciliationConfig
	Scheduler      SchedulerConfig

	// Flags seeds the notification feature flags before the optional
	// notifications.yml overlay is read.
	Flags NotificationFlags
}

type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
}

type RateLimitConfig struct {
	PublishRate  float64
	PublishBurst int
}

type BusConfig struct {
	MaxAttempts int
	MinJitter   time.Duration
	MaxJitter   time.Duration
	QueueSize   int
	Workers     int
}

type DedupConfig struct {
	TTL          time.Duration
	RepeatWindow time.Duration
	ScanLimit    int
	LookbackDays int
}

type InvoiceConfig struct {
	RetryAttempts  int
	RetryDelayDays int
}

type PaymentConfig struct {
	Processor string
}

type ReconciliationConfig struct {
	BatchSize    int
	BatchPause   time.Duration
	LookbackDays int
}

type SchedulerConfig struct {
	Enabled                bool
	RunInterval            time.Duration
	AutopayInterval        time.Duration
	ReconciliationInterval time.Duration
	DedupPruneInterval     time.Duration
	EnabledJobs            []string
}

const (
	DBTypePostgres = "postgres"
	DBTypeSQLite   = "sqlite"
	DBTypeMemory   = "memory"
)

var Module = fx.Module("config",
	fx.Provide(Load),
	fx.Provide(NewFlagsHolder),
)

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		AppName:     getenv("APP_SERVICE", "gigledger"),
		AppVersion:  getenv("APP_VERSION", "0.1.0"),
		Environment: getenv("ENVIRONMENT", "development"),
		HTTPAddr:    getenv("HTTP_ADDR", ":8080"),
		LogLevel:    strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogFormat:   strings.ToLower(getenv("LOG_FORMAT", "json")),
		SeedDemo:    getenvBool("SEED_DEMO", false),

		OTLPEndpoint: strings.TrimSpace(getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")),

		DBType:            strings.ToLower(getenv("DATABASE_TYPE", DBTypeSQLite)),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "gigledger"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBPath:            getenv("DATABASE_PATH", "gigledger.db"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 20),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 300),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 60),

		Redis: RedisConfig{
			Enabled:  getenvBool("REDIS_ENABLED", false),
			Addr:     strings.TrimSpace(getenv("REDIS_ADDR", "localhost:6379")),
			Password: strings.TrimSpace(getenv("REDIS_PASSWORD", "")),
			DB:       getenvInt("REDIS_DB", 0),
		},
		RateLimit: RateLimitConfig{
			PublishRate:  getenvFloat("RATE_LIMIT_PUBLISH_RATE", 50),
			PublishBurst: getenvInt("RATE_LIMIT_PUBLISH_BURST", 100),
		},
		Bus: BusConfig{
			MaxAttempts: getenvInt("EVENTBUS_MAX_ATTEMPTS", 3),
			MinJitter:   getenvDuration("EVENTBUS_MIN_JITTER", 500*time.Millisecond),
			MaxJitter:   getenvDuration("EVENTBUS_MAX_JITTER", 1500*time.Millisecond),
			QueueSize:   getenvInt("EVENTBUS_QUEUE_SIZE", 1024),
			Workers:     getenvInt("EVENTBUS_WORKERS", 4),
		},
		Dedup: DedupConfig{
			TTL:          getenvDuration("DEDUP_TTL", 24*time.Hour),
			RepeatWindow: getenvDuration("DEDUP_REPEAT_WINDOW", 5*time.Minute),
			ScanLimit:    getenvInt("DEDUP_SCAN_LIMIT", 1000),
			LookbackDays: getenvInt("DEDUP_LOOKBACK_DAYS", 30),
		},
		Invoice: InvoiceConfig{
			RetryAttempts:  getenvInt("AUTOPAY_RETRY_ATTEMPTS", 3),
			RetryDelayDays: getenvInt("AUTOPAY_RETRY_DELAY_DAYS", 1),
		},
		Payment: PaymentConfig{
			Processor: strings.ToLower(getenv("PAYMENT_PROCESSOR", "wallet")),
		},
		Reconciliation: ReconciliationConfig{
			BatchSize:    getenvInt("RECONCILIATION_BATCH_SIZE", 25),
			BatchPause:   getenvDuration("RECONCILIATION_BATCH_PAUSE", 250*time.Millisecond),
			LookbackDays: getenvInt("RECONCILIATION_LOOKBACK_DAYS", 30),
		},
		Scheduler: SchedulerConfig{
			Enabled:                getenvBool("SCHEDULER_ENABLED", true),
			RunInterval:            getenvDuration("SCHEDULER_RUN_INTERVAL", time.Minute),
			AutopayInterval:        getenvDuration("SCHEDULER_AUTOPAY_INTERVAL", 24*time.Hour),
			ReconciliationInterval: getenvDuration("SCHEDULER_RECONCILIATION_INTERVAL", time.Hour),
			DedupPruneInterval:     getenvDuration("SCHEDULER_DEDUP_PRUNE_INTERVAL", time.Hour),
			EnabledJobs:            parseList(getenv("SCHEDULER_ENABLED_JOBS", "")),
		},
		Flags: NotificationFlags{
			SingleEmitterEnabled:         getenvBool("SINGLE_EMITTER_ENABLED", false),
			DisableLegacyPathForPayments: getenvBool("DISABLE_LEGACY_PATH_FOR_PAYMENTS", false),
			KillSwitch:                   getenvBool("NOTIFICATIONS_KILL_SWITCH", false),
			ShadowMode:                   getenvBool("NOTIFICATIONS_SHADOW_MODE", false),
		},
	}
}

func (c Config) IsProduction() bool {
	return c.Environment == "production"
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
	return parseBool(value, def)
}

func parseBool(value string, def bool) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
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

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed < 0 {
		return def
	}
	return parsed
}

func parseList(raw string) []string {
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
