package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration.
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Cache         CacheConfig
	Queue         QueueConfig
	App           AppConfig
	RateLimit     RateLimitConfig
	Reaper        ReaperConfig
	Aggregator    AggregatorConfig
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// DatabaseConfig holds Postgres connection configuration.
type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// CacheConfig holds the two cache levels: a bounded in-process LRU and a
// shared Redis tier. SharedTTL bounds the staleness window of the whole tier.
type CacheConfig struct {
	Host      string
	Port      string
	User      string
	Password  string
	SharedTTL time.Duration
	LocalTTL  time.Duration
	LocalSize int
}

// QueueConfig holds RabbitMQ configuration for the click-event stream.
type QueueConfig struct {
	Host          string
	Port          string
	User          string
	Password      string
	ClickQueue    string
	PublishBuffer int
}

// AppConfig holds application-specific configuration.
type AppConfig struct {
	BaseURL           string // base URL for generated short links
	NodeID            int64  // snowflake node id, unique per instance
	ShortCodeRetries  int
	MinAliasLen       int
	MaxAliasLen       int
	MaxURLLen         int
	DefaultExpiryDays int // 0 means new mappings never expire
}

// RateLimitConfig configures the two token-bucket classes. Redirect traffic
// runs orders of magnitude hotter than creates, hence separate buckets.
type RateLimitConfig struct {
	CreateRate    float64 // tokens per second
	CreateBurst   int
	RedirectRate  float64
	RedirectBurst int
}

// ReaperConfig configures the expiry sweep.
type ReaperConfig struct {
	SweepInterval time.Duration
	BatchSize     int
}

// AggregatorConfig configures click-event batching.
type AggregatorConfig struct {
	Enabled       bool // run the aggregator inside the gateway process
	MaxBatch      int
	FlushInterval time.Duration
}

// ObservabilityConfig configures logging, tracing and metrics.
type ObservabilityConfig struct {
	ServiceName  string
	Environment  string // "development", "staging", "production"
	OTLPEndpoint string // empty means traces are not exported
}

// Load loads configuration from environment variables, falling back to a
// local .env file when present.
func Load() *Config {
	_ = godotenv.Load()
	return &Config{
		Server: ServerConfig{
			Port:         getEnv("PORT", "8080"),
			ReadTimeout:  getEnvDuration("SERVER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout: getEnvDuration("SERVER_WRITE_TIMEOUT", 10*time.Second),
			IdleTimeout:  getEnvDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "flashlink"),
			Password: getEnv("DB_PASSWORD", "flashlink_secret"),
			DBName:   getEnv("DB_NAME", "shortener"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Cache: CacheConfig{
			Host:      getEnv("RDB_HOST", "localhost"),
			Port:      getEnv("RDB_PORT", "6379"),
			User:      getEnv("RDB_USER", ""),
			Password:  getEnv("RDB_PASSWORD", ""),
			SharedTTL: getEnvDuration("CACHE_SHARED_TTL", 60*time.Second),
			LocalTTL:  getEnvDuration("CACHE_LOCAL_TTL", 30*time.Second),
			LocalSize: getEnvInt("CACHE_LOCAL_SIZE", 10000),
		},
		Queue: QueueConfig{
			Host:          getEnv("MQ_HOST", "localhost"),
			Port:          getEnv("MQ_PORT", "5672"),
			User:          getEnv("MQ_USER", "guest"),
			Password:      getEnv("MQ_PASSWORD", "guest"),
			ClickQueue:    getEnv("MQ_CLICK_QUEUE", "click_events"),
			PublishBuffer: getEnvInt("MQ_PUBLISH_BUFFER", 4096),
		},
		App: AppConfig{
			BaseURL:           getEnv("BASE_URL", "http://localhost:8080"),
			NodeID:            int64(getEnvInt("NODE_ID", 1)),
			ShortCodeRetries:  getEnvInt("SHORT_CODE_MAX_RETRIES", 5),
			MinAliasLen:       getEnvInt("MIN_ALIAS_LENGTH", 3),
			MaxAliasLen:       getEnvInt("MAX_ALIAS_LENGTH", 20),
			MaxURLLen:         getEnvInt("MAX_URL_LENGTH", 2048),
			DefaultExpiryDays: getEnvInt("DEFAULT_EXPIRY_DAYS", 0),
		},
		RateLimit: RateLimitConfig{
			CreateRate:    getEnvFloat("RATE_LIMIT_CREATE_RATE", 1),
			CreateBurst:   getEnvInt("RATE_LIMIT_CREATE_BURST", 10),
			RedirectRate:  getEnvFloat("RATE_LIMIT_REDIRECT_RATE", 50),
			RedirectBurst: getEnvInt("RATE_LIMIT_REDIRECT_BURST", 100),
		},
		Reaper: ReaperConfig{
			SweepInterval: getEnvDuration("REAPER_SWEEP_INTERVAL", 5*time.Minute),
			BatchSize:     getEnvInt("REAPER_BATCH_SIZE", 500),
		},
		Aggregator: AggregatorConfig{
			Enabled:       getEnvBool("AGGREGATOR_ENABLED", true),
			MaxBatch:      getEnvInt("AGGREGATOR_MAX_BATCH", 200),
			FlushInterval: getEnvDuration("AGGREGATOR_FLUSH_INTERVAL", time.Second),
		},
		Observability: ObservabilityConfig{
			ServiceName:  getEnv("SERVICE_NAME", "flashlink-shortener"),
			Environment:  getEnv("ENVIRONMENT", "development"),
			OTLPEndpoint: getEnv("OTLP_ENDPOINT", ""),
		},
	}
}

// ConnectionString returns the Postgres connection string.
func (d *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode)
}

// ConnectionString returns the Redis connection string.
func (c *CacheConfig) ConnectionString() string {
	return fmt.Sprintf("redis://%s:%s@%s:%s/0", c.User, c.Password, c.Host, c.Port)
}

// ConnectionString returns the RabbitMQ connection string.
func (q *QueueConfig) ConnectionString() string {
	return fmt.Sprintf("amqp://%s:%s@%s:%s/", q.User, q.Password, q.Host, q.Port)
}

func getEnv(key, defaultVal string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}
