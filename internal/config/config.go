package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Mode        string
	Environment string

	OTLPEndpoint string

	Cloud CloudConfig

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

	RedisAddr     string
	RedisPassword string

	RateLimit RateLimitConfig
	Postback  PostbackConfig
	Payout    PayoutConfig
	Scheduler SchedulerConfig

	SeedDemoData bool
}

type CloudConfig struct {
	InstanceID   string
	InstanceName string
	Metrics      CloudMetricsConfig
}

type CloudMetricsConfig struct {
	Enabled   bool
	Exporter  string
	Endpoint  string
	AuthToken string
}

// RateLimitConfig tunes the redis token buckets on the tracker ingest
// endpoints. Disabled when no redis address is configured.
type RateLimitConfig struct {
	Enabled            bool
	RedisAddr          string
	ShopRate           float64
	ShopBurst          int
	EndpointRate       float64
	EndpointBurst      int
	LockTTLSeconds     int64
	FailOpenOnRedisErr bool
}

// PostbackConfig bounds outbound postback delivery.
type PostbackConfig struct {
	TimeoutSeconds int64
	MaxAttempts    int
	BatchSize      int
}

// PayoutConfig selects the payout provider used when a run is submitted
// for external payment.
type PayoutConfig struct {
	Provider       string
	Endpoint       string
	APIKey         string
	TimeoutSeconds int64
}

// SchedulerConfig tunes the background job runner.
type SchedulerConfig struct {
	RunIntervalSeconds int64
	BatchSize          int
	RetentionBatchSize int
	EnabledJobs        []string
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	mode := normalizeMode(getenv("APP_MODE", ModeOSS))
	environment := getenv("ENVIRONMENT", "development")
	redisAddr := strings.TrimSpace(getenv("REDIS_ADDR", ""))

	cfg := Config{
		AppName:      getenv("APP_SERVICE", "partnerly"),
		AppVersion:   getenv("APP_VERSION", "0.1.0"),
		Mode:         mode,
		Environment:  environment,
		OTLPEndpoint: getenv("OTLP_ENDPOINT", "localhost:4317"),
		Cloud: CloudConfig{
			InstanceID:   strings.TrimSpace(getenv("CLOUD_INSTANCE_ID", "")),
			InstanceName: getenv("CLOUD_INSTANCE_NAME", ""),
			Metrics: CloudMetricsConfig{
				Enabled:   getenvBool("CLOUD_METRICS_ENABLED", true),
				Exporter:  strings.ToLower(getenv("CLOUD_METRICS_EXPORTER", "")),
				Endpoint:  strings.TrimSpace(getenv("CLOUD_METRICS_ENDPOINT", "")),
				AuthToken: strings.TrimSpace(getenv("CLOUD_METRICS_AUTH_TOKEN", "")),
			},
		},
		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "partnerly"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", "postgres"),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     int(getenvInt64("DATABASE_MAX_IDLE_CONN", 0)),
		DBMaxOpenConn:     int(getenvInt64("DATABASE_MAX_OPEN_CONN", 0)),
		DBConnMaxLifetime: int(getenvInt64("DATABASE_CONN_MAX_LIFETIME", 0)),
		DBConnMaxIdleTime: int(getenvInt64("DATABASE_CONN_MAX_IDLE_TIME", 0)),
		RedisAddr:         redisAddr,
		RedisPassword:     getenv("REDIS_PASSWORD", ""),
		RateLimit: RateLimitConfig{
			Enabled:            getenvBool("RATE_LIMIT_ENABLED", redisAddr != ""),
			RedisAddr:          getenv("RATE_LIMIT_REDIS_ADDR", redisAddr),
			ShopRate:           getenvFloat("RATE_LIMIT_SHOP_RATE", 50),
			ShopBurst:          int(getenvInt64("RATE_LIMIT_SHOP_BURST", 100)),
			EndpointRate:       getenvFloat("RATE_LIMIT_ENDPOINT_RATE", 500),
			EndpointBurst:      int(getenvInt64("RATE_LIMIT_ENDPOINT_BURST", 1000)),
			LockTTLSeconds:     getenvInt64("RATE_LIMIT_LOCK_TTL", 30),
			FailOpenOnRedisErr: getenvBool("RATE_LIMIT_FAIL_OPEN", true),
		},
		Postback: PostbackConfig{
			TimeoutSeconds: getenvInt64("POSTBACK_TIMEOUT", 10),
			MaxAttempts:    int(getenvInt64("POSTBACK_MAX_ATTEMPTS", 5)),
			BatchSize:      int(getenvInt64("POSTBACK_BATCH_SIZE", 100)),
		},
		Payout: PayoutConfig{
			Provider:       strings.ToLower(getenv("PAYOUT_PROVIDER", "manual")),
			Endpoint:       strings.TrimSpace(getenv("PAYOUT_ENDPOINT", "")),
			APIKey:         strings.TrimSpace(getenv("PAYOUT_API_KEY", "")),
			TimeoutSeconds: getenvInt64("PAYOUT_TIMEOUT", 15),
		},
		Scheduler: SchedulerConfig{
			RunIntervalSeconds: getenvInt64("SCHEDULER_RUN_INTERVAL", 0),
			BatchSize:          int(getenvInt64("SCHEDULER_BATCH_SIZE", 0)),
			RetentionBatchSize: int(getenvInt64("SCHEDULER_RETENTION_BATCH_SIZE", 0)),
			EnabledJobs:        getenvList("SCHEDULER_ENABLED_JOBS"),
		},
		SeedDemoData: getenvBool("SEED_DEMO_DATA", false),
	}

	return cfg
}

const (
	ModeOSS        = "oss"
	ModeCloud      = "cloud"
	ModeStandalone = "standalone"
)

func (c Config) IsCloud() bool {
	return c.Mode == ModeCloud
}

func normalizeMode(raw string) string {
	value := strings.ToLower(strings.TrimSpace(raw))
	switch value {
	case ModeCloud:
		return ModeCloud
	case ModeStandalone, ModeOSS:
		return ModeOSS
	default:
		return ModeOSS
	}
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

func getenvList(key string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
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
