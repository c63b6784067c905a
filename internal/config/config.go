package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
)

// Config holds application configuration. It is resolved once at startup.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	NodeID      int64

	OTLPEndpoint string
	OpsAddr      string

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
	DBTxTimeout       time.Duration

	RedisURL string

	Bus         BusConfig
	Outbox      OutboxConfig
	ObjectStore ObjectStoreConfig
	Signing     SigningConfig
	Features    FeatureConfig
	RateLimit   RateLimitConfig
	Expiry      ExpiryConfig

	PolicyPath string
}

type BusConfig struct {
	Driver       string
	KafkaBrokers []string
	KafkaTopic   string
	RedisStream  string
	StreamMaxLen int64
}

type OutboxConfig struct {
	DispatcherEnabled bool
	BatchSize         int
	PollInterval      time.Duration
	LeaseTTL          time.Duration
	MaxAttempts       int
	BackoffBase       time.Duration
	BackoffMax        time.Duration
}

type ObjectStoreConfig struct {
	Bucket        string
	PublicBaseURL string
	URLSecret     string
}

type SigningConfig struct {
	// KeySeeds is a comma separated list of kid=algorithm:base64seed entries.
	KeySeeds         string
	DefaultKeyID     string
	AuthorityTimeout time.Duration
}

type FeatureConfig struct {
	AccessControl bool
	RateLimit     bool
	Tracing       bool
	Metrics       bool
	Logging       bool
}

type RateLimitConfig struct {
	Rate  float64
	Burst int
}

type ExpiryConfig struct {
	Enabled      bool
	BatchSize    int
	PollInterval time.Duration
}

var Module = fx.Module("config",
	fx.Provide(Load),
	fx.Provide(NewPolicyHolder),
)

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:           getenv("APP_SERVICE", "signflow"),
		AppVersion:        getenv("APP_VERSION", "0.1.0"),
		Environment:       getenv("ENVIRONMENT", "development"),
		NodeID:            getenvInt64("NODE_ID", 1),
		OTLPEndpoint:      getenv("OTLP_ENDPOINT", "localhost:4317"),
		OpsAddr:           getenv("OPS_ADDR", ":8081"),
		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "signflow"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBPath:            getenv("DATABASE_PATH", "signflow.db"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 10),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 50),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 300),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 60),
		DBTxTimeout:       getenvDuration("DATABASE_TX_TIMEOUT", 10*time.Second),
		RedisURL:          strings.TrimSpace(getenv("REDIS_URL", "")),
		Bus: BusConfig{
			Driver:       strings.ToLower(getenv("BUS_DRIVER", "log")),
			KafkaBrokers: splitList(getenv("KAFKA_BROKERS", "")),
			KafkaTopic:   getenv("KAFKA_TOPIC", "signflow.events"),
			RedisStream:  getenv("REDIS_STREAM", "signflow:events"),
			StreamMaxLen: getenvInt64("REDIS_STREAM_MAXLEN", 100_000),
		},
		Outbox: OutboxConfig{
			DispatcherEnabled: getenvBool("OUTBOX_DISPATCHER_ENABLED", false),
			BatchSize:         getenvInt("OUTBOX_BATCH_SIZE", 100),
			PollInterval:      getenvDuration("OUTBOX_POLL_INTERVAL", time.Second),
			LeaseTTL:          getenvDuration("OUTBOX_LEASE_TTL", 30*time.Second),
			MaxAttempts:       getenvInt("OUTBOX_MAX_ATTEMPTS", 12),
			BackoffBase:       getenvDuration("OUTBOX_BACKOFF_BASE", 2*time.Second),
			BackoffMax:        getenvDuration("OUTBOX_BACKOFF_MAX", 10*time.Minute),
		},
		ObjectStore: ObjectStoreConfig{
			Bucket:        getenv("OBJECT_STORE_BUCKET", "signflow-documents"),
			PublicBaseURL: strings.TrimRight(getenv("OBJECT_STORE_PUBLIC_URL", "http://localhost:8081/objects"), "/"),
			URLSecret:     strings.TrimSpace(getenv("OBJECT_STORE_URL_SECRET", "")),
		},
		Signing: SigningConfig{
			KeySeeds:         strings.TrimSpace(getenv("SIGNING_KEYS", "")),
			DefaultKeyID:     strings.TrimSpace(getenv("SIGNING_DEFAULT_KEY_ID", "")),
			AuthorityTimeout: getenvDuration("SIGNING_AUTHORITY_TIMEOUT", 10*time.Second),
		},
		Features: FeatureConfig{
			AccessControl: getenvBool("FEATURE_ACCESS_CONTROL", true),
			RateLimit:     getenvBool("FEATURE_RATE_LIMIT", false),
			Tracing:       getenvBool("FEATURE_TRACING", true),
			Metrics:       getenvBool("FEATURE_METRICS", true),
			Logging:       getenvBool("FEATURE_LOGGING", true),
		},
		RateLimit: RateLimitConfig{
			Rate:  getenvFloat("RATE_LIMIT_RATE", 20),
			Burst: getenvInt("RATE_LIMIT_BURST", 40),
		},
		Expiry: ExpiryConfig{
			Enabled:      getenvBool("EXPIRY_SWEEP_ENABLED", true),
			BatchSize:    getenvInt("EXPIRY_SWEEP_BATCH_SIZE", 50),
			PollInterval: getenvDuration("EXPIRY_SWEEP_INTERVAL", time.Minute),
		},
		PolicyPath: strings.TrimSpace(getenv("SIGNING_POLICY_PATH", "")),
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

func getenvInt(key string, def int) int {
	return int(getenvInt64(key, int64(def)))
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
