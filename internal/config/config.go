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
	APIDomain   string
	AdminToken  string

	Telemetry TelemetryConfig

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

	Gateway    GatewayConfig
	Redis      RedisConfig
	Reconcile  ReconcileConfig
	Scheduler  SchedulerConfig
	StatusPoll StatusPollConfig

	PolicyPath string
}

// TelemetryConfig feeds internal/observability. The OTEL_* names follow the
// OpenTelemetry SDK environment conventions.
type TelemetryConfig struct {
	LogLevel      string
	LogFormat     string
	OtelEnabled   bool
	OTLPEndpoint  string
	OTLPProtocol  string
	SamplingRatio float64
}

type GatewayConfig struct {
	Provider      string
	BaseURL       string
	AccessToken   string
	WebhookSecret string
	PayerEmail    string
	Timeout       time.Duration
}

type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
}

type ReconcileConfig struct {
	LockTTL         time.Duration
	LockJanitor     time.Duration
	WebhookDelay    time.Duration
	WebhookDeadline time.Duration
}

type SchedulerConfig struct {
	Enabled       bool
	RunInterval   time.Duration
	BatchSize     int
	SweepLookback time.Duration
	SweepRate     float64
	SweepBurst    int
}

type StatusPollConfig struct {
	Rate  float64
	Burst int
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:      getenv("APP_SERVICE", "captiva"),
		AppVersion:   getenv("APP_VERSION", "0.1.0"),
		Environment:  getenv("ENVIRONMENT", "development"),
		HTTPAddr:     getenv("HTTP_ADDR", ":8080"),
		APIDomain:    strings.TrimRight(strings.TrimSpace(getenv("API_DOMAIN", "http://localhost:8080")), "/"),
		AdminToken:   strings.TrimSpace(getenv("ADMIN_TOKEN", "")),
		Telemetry: TelemetryConfig{
			LogLevel:      strings.ToLower(strings.TrimSpace(getenv("LOG_LEVEL", "info"))),
			LogFormat:     strings.ToLower(strings.TrimSpace(getenv("LOG_FORMAT", "json"))),
			OtelEnabled:   getenvBool("OTEL_ENABLED", true),
			OTLPEndpoint:  strings.TrimSpace(getenv("OTEL_EXPORTER_OTLP_ENDPOINT", getenv("OTLP_ENDPOINT", "localhost:4317"))),
			OTLPProtocol:  strings.ToLower(strings.TrimSpace(getenv("OTEL_EXPORTER_OTLP_PROTOCOL", "grpc"))),
			SamplingRatio: getenvFloat("OTEL_SAMPLING_RATIO", 0.1),
		},

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "captiva"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBPath:            getenv("DATABASE_PATH", "captiva.db"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 20),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 300),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 60),

		Gateway: GatewayConfig{
			Provider:      strings.ToLower(getenv("GATEWAY_PROVIDER", "mercadopago")),
			BaseURL:       strings.TrimRight(getenv("GATEWAY_BASE_URL", "https://api.mercadopago.com"), "/"),
			AccessToken:   strings.TrimSpace(getenv("MERCADO_PAGO_ACCESS_TOKEN", "")),
			WebhookSecret: strings.TrimSpace(getenv("MERCADO_PAGO_WEBHOOK_SECRET", "")),
			PayerEmail:    getenv("GATEWAY_PAYER_EMAIL", "cliente@captiva.local"),
			Timeout:       getenvDuration("GATEWAY_TIMEOUT", 5*time.Second),
		},
		Redis: RedisConfig{
			Enabled:  getenvBool("REDIS_ENABLED", false),
			Addr:     strings.TrimSpace(getenv("REDIS_ADDR", "localhost:6379")),
			Password: strings.TrimSpace(getenv("REDIS_PASSWORD", "")),
			DB:       getenvInt("REDIS_DB", 0),
		},
		Reconcile: ReconcileConfig{
			LockTTL:         getenvDuration("RECONCILE_LOCK_TTL", 30*time.Second),
			LockJanitor:     getenvDuration("RECONCILE_LOCK_JANITOR", time.Minute),
			WebhookDelay:    getenvDuration("RECONCILE_WEBHOOK_DELAY", 2*time.Second),
			WebhookDeadline: getenvDuration("RECONCILE_WEBHOOK_DEADLINE", 30*time.Second),
		},
		Scheduler: SchedulerConfig{
			Enabled:       getenvBool("SCHEDULER_ENABLED", true),
			RunInterval:   getenvDuration("SCHEDULER_INTERVAL", 5*time.Minute),
			BatchSize:     getenvInt("SCHEDULER_BATCH_SIZE", 100),
			SweepLookback: getenvDuration("SCHEDULER_SWEEP_LOOKBACK", 4*time.Hour),
			SweepRate:     getenvFloat("SCHEDULER_SWEEP_RATE", 5),
			SweepBurst:    getenvInt("SCHEDULER_SWEEP_BURST", 1),
		},
		StatusPoll: StatusPollConfig{
			Rate:  getenvFloat("STATUS_POLL_RATE", 0.2),
			Burst: getenvInt("STATUS_POLL_BURST", 2),
		},
		PolicyPath: strings.TrimSpace(getenv("POLICY_PATH", "")),
	}

	return cfg
}

func (c Config) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.Environment), "production")
}

// WebhookURL is the callback address handed to the payment gateway.
func (c Config) WebhookURL() string {
	return c.APIDomain + "/api/webhook/" + c.Gateway.Provider
}

var Module = fx.Module("config",
	fx.Provide(Load),
	fx.Provide(NewPolicyHolder),
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
