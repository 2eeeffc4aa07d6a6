package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string

	LogLevel  string
	LogFormat string

	OtelEnabled          bool
	OtelExporterEndpoint string
	OtelExporterProtocol string

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
	RedisDB       int

	HTTPAddr string

	Provider ProviderConfig

	NotifyWebhookURL string

	SchedulerRunIntervalSec       int
	SchedulerBatchSize            int
	SchedulerLeadTimeMin          int
	SchedulerMaxAttempts          int
	SchedulerRetryBackoffMin      int
	SchedulerGenerationTimeoutSec int
	SchedulerEnabledJobs          string
}

// ProviderConfig configures the external content-generation provider.
type ProviderConfig struct {
	Name        string
	BaseURL     string
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float64
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		AppName:     getenv("APP_SERVICE", "foresight"),
		AppVersion:  getenv("APP_VERSION", "0.1.0"),
		Environment: getenv("ENVIRONMENT", "development"),

		LogLevel:  strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogFormat: strings.ToLower(getenv("LOG_FORMAT", "json")),

		OtelEnabled:          getenvBool("OTEL_ENABLED", false),
		OtelExporterEndpoint: getenv("OTEL_EXPORTER_ENDPOINT", "localhost:4317"),
		OtelExporterProtocol: strings.ToLower(getenv("OTEL_EXPORTER_PROTOCOL", "grpc")),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "foresight"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 20),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME_SECONDS", 1800),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_SECONDS", 300),

		HTTPAddr: getenv("HTTP_ADDR", ":8080"),

		RedisAddr:     strings.TrimSpace(getenv("REDIS_ADDR", "")),
		RedisPassword: strings.TrimSpace(getenv("REDIS_PASSWORD", "")),
		RedisDB:       getenvInt("REDIS_DB", 0),

		Provider: ProviderConfig{
			Name:        strings.ToLower(getenv("PROVIDER_NAME", "openai")),
			BaseURL:     getenv("PROVIDER_BASE_URL", "https://api.openai.com/v1"),
			APIKey:      strings.TrimSpace(getenv("PROVIDER_API_KEY", "")),
			Model:       getenv("PROVIDER_MODEL", "gpt-4o"),
			MaxTokens:   getenvInt("PROVIDER_MAX_TOKENS", 4096),
			Temperature: getenvFloat("PROVIDER_TEMPERATURE", 0.7),
		},

		NotifyWebhookURL: strings.TrimSpace(getenv("NOTIFY_WEBHOOK_URL", "")),

		SchedulerRunIntervalSec:       getenvInt("SCHEDULER_RUN_INTERVAL_SECONDS", 60),
		SchedulerBatchSize:            getenvInt("SCHEDULER_BATCH_SIZE", 50),
		SchedulerLeadTimeMin:          getenvInt("SCHEDULER_LEAD_TIME_MINUTES", 240),
		SchedulerMaxAttempts:          getenvInt("SCHEDULER_MAX_ATTEMPTS", 3),
		SchedulerRetryBackoffMin:      getenvInt("SCHEDULER_RETRY_BACKOFF_MINUTES", 10),
		SchedulerGenerationTimeoutSec: getenvInt("SCHEDULER_GENERATION_TIMEOUT_SECONDS", 300),
		SchedulerEnabledJobs:          strings.TrimSpace(getenv("SCHEDULER_ENABLED_JOBS", "")),
	}
}

var Module = fx.Module("config",
	fx.Provide(Load),
	fx.Provide(NewBudgetPolicyHolder),
)

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
