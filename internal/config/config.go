package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server    ServerConfig
	Fetcher   FetcherConfig
	Pipeline  PipelineConfig
	Jobs      JobsConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	RateLimit RateLimitConfig
	Logging   LoggingConfig
}

type ServerConfig struct {
	Port            int
	Host            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
	AllowedOrigins  []string
	MaxBodyBytes    int64
}

type FetcherConfig struct {
	Timeout          time.Duration
	MaxRedirects     int
	UserAgent        string
	AcceptLanguage   string
	MaxBodyBytes     int64
	CloudflareBypass bool
}

type PipelineConfig struct {
	ConcurrencyLimit int
	ListingThreshold int
	MaxBatchURLs     int
}

type JobsConfig struct {
	Store        string
	FilePath     string
	Workers      int
	QueueMaxSize int
}

type DatabaseConfig struct {
	Host        string
	Port        int
	User        string
	Password    string
	Name        string
	SSLMode     string
	MaxConns    int32
	MinConns    int32
	MaxConnLife time.Duration
	MaxConnIdle time.Duration
}

type RedisConfig struct {
	Enabled      bool
	Addr         string
	Password     string
	DB           int
	Stream       string
	StreamMaxLen int64
	PollInterval time.Duration
	BatchSize    int
}

type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
}

type LoggingConfig struct {
	Level  string
	Format string
}

const (
	StoreFile     = "file"
	StorePostgres = "postgres"
)

func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:            getIntOrDefault("PORT", 10000),
			Host:            getEnvOrDefault("SERVER_HOST", "0.0.0.0"),
			ReadTimeout:     getDurationOrDefault("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getDurationOrDefault("SERVER_WRITE_TIMEOUT", 120*time.Second),
			RequestTimeout:  getDurationOrDefault("SERVER_REQUEST_TIMEOUT", 110*time.Second),
			ShutdownTimeout: getDurationOrDefault("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
			AllowedOrigins: getStringSliceOrDefault("CORS_ALLOWED_ORIGINS", []string{
				"http://localhost:5173",
				"http://localhost:3000",
			}),
			MaxBodyBytes: int64(getIntOrDefault("SERVER_MAX_BODY_BYTES", 2<<20)),
		},
		Fetcher: FetcherConfig{
			Timeout:          getDurationOrDefault("FETCH_TIMEOUT", 20*time.Second),
			MaxRedirects:     getIntOrDefault("FETCH_MAX_REDIRECTS", 5),
			UserAgent:        getEnvOrDefault("FETCH_USER_AGENT", defaultUserAgent),
			AcceptLanguage:   getEnvOrDefault("FETCH_ACCEPT_LANGUAGE", "en,de,zh-CN;q=0.9"),
			MaxBodyBytes:     int64(getIntOrDefault("FETCH_MAX_BODY_BYTES", 10<<20)),
			CloudflareBypass: getBoolOrDefault("FETCH_CLOUDFLARE_BYPASS", true),
		},
		Pipeline: PipelineConfig{
			ConcurrencyLimit: getIntOrDefault("PIPELINE_CONCURRENCY_LIMIT", 8),
			ListingThreshold: getIntOrDefault("PIPELINE_LISTING_THRESHOLD", 2),
			MaxBatchURLs:     getIntOrDefault("PIPELINE_MAX_BATCH_URLS", 200),
		},
		Jobs: JobsConfig{
			Store:        strings.ToLower(getEnvOrDefault("JOBS_STORE", StoreFile)),
			FilePath:     getEnvOrDefault("JOBS_FILE_PATH", "data/jobs.json"),
			Workers:      getIntOrDefault("JOBS_WORKERS", 2),
			QueueMaxSize: getIntOrDefault("JOBS_QUEUE_MAX_SIZE", 1000),
		},
		Database: DatabaseConfig{
			Host:        getEnvOrDefault("DB_HOST", "localhost"),
			Port:        getIntOrDefault("DB_PORT", 5432),
			User:        getEnvOrDefault("DB_USER", "postgres"),
			Password:    getEnvOrDefault("DB_PASSWORD", ""),
			Name:        getEnvOrDefault("DB_NAME", "tablegen"),
			SSLMode:     getEnvOrDefault("DB_SSL_MODE", "disable"),
			MaxConns:    int32(getIntOrDefault("DB_MAX_CONNS", 10)),
			MinConns:    int32(getIntOrDefault("DB_MIN_CONNS", 1)),
			MaxConnLife: getDurationOrDefault("DB_MAX_CONN_LIFE", time.Hour),
			MaxConnIdle: getDurationOrDefault("DB_MAX_CONN_IDLE", 30*time.Minute),
		},
		Redis: RedisConfig{
			Enabled:      getBoolOrDefault("REDIS_ENABLED", false),
			Addr:         getEnvOrDefault("REDIS_ADDR", "localhost:6379"),
			Password:     getEnvOrDefault("REDIS_PASSWORD", ""),
			DB:           getIntOrDefault("REDIS_DB", 0),
			Stream:       getEnvOrDefault("REDIS_STREAM", "stream:tablegen"),
			StreamMaxLen: int64(getIntOrDefault("REDIS_STREAM_MAX_LEN", 10000)),
			PollInterval: getDurationOrDefault("RELAY_POLL_INTERVAL", 5*time.Second),
			BatchSize:    getIntOrDefault("RELAY_BATCH_SIZE", 100),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: getFloatOrDefault("RATE_LIMIT_RPS", 2),
			Burst:             getIntOrDefault("RATE_LIMIT_BURST", 10),
		},
		Logging: LoggingConfig{
			Level:  getEnvOrDefault("LOG_LEVEL", "info"),
			Format: getEnvOrDefault("LOG_FORMAT", "json"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Fetcher.Timeout <= 0 {
		return fmt.Errorf("FETCH_TIMEOUT must be positive")
	}

	if c.Fetcher.MaxRedirects < 0 {
		return fmt.Errorf("FETCH_MAX_REDIRECTS cannot be negative")
	}

	if c.Pipeline.ConcurrencyLimit < 0 {
		return fmt.Errorf("PIPELINE_CONCURRENCY_LIMIT cannot be negative")
	}

	if c.Pipeline.ListingThreshold < 1 {
		return fmt.Errorf("PIPELINE_LISTING_THRESHOLD must be at least 1")
	}

	if c.Pipeline.MaxBatchURLs < 1 {
		return fmt.Errorf("PIPELINE_MAX_BATCH_URLS must be at least 1")
	}

	if c.Jobs.Workers < 1 {
		return fmt.Errorf("JOBS_WORKERS must be at least 1")
	}

	switch c.Jobs.Store {
	case StoreFile:
		if c.Jobs.FilePath == "" {
			return fmt.Errorf("JOBS_FILE_PATH is required for the file store")
		}
	case StorePostgres:
		if c.Database.Host == "" || c.Database.Name == "" {
			return fmt.Errorf("DB_HOST and DB_NAME are required for the postgres store")
		}
	default:
		return fmt.Errorf("unknown JOBS_STORE %q", c.Jobs.Store)
	}

	if c.Redis.Enabled && c.Jobs.Store != StorePostgres {
		return fmt.Errorf("REDIS_ENABLED requires JOBS_STORE=postgres")
	}

	if c.RateLimit.RequestsPerSecond < 0 {
		return fmt.Errorf("RATE_LIMIT_RPS cannot be negative")
	}

	return nil
}

// LoadEnvFiles loads ENV_FILE when set, otherwise .env.local and then .env.
// Variables already in the environment win and missing files are ignored.
func LoadEnvFiles() error {
	if envFile := os.Getenv("ENV_FILE"); envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("load env file %s: %w", envFile, err)
		}
		return nil
	}

	for _, name := range []string{".env.local", ".env"} {
		if err := godotenv.Load(name); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("load %s: %w", name, err)
		}
	}
	return nil
}

// DSN builds the postgres connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode)
}

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getStringSliceOrDefault(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out
	}
	return defaultValue
}
