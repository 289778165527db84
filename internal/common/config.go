package common

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Database  DatabaseConfig
	Server    ServerConfig
	LLM       LLMConfig
	Convert   ConvertConfig
	Scheduler SchedulerConfig
	Cache     CacheConfig
	Session   SessionConfig
	Schemas   SchemasConfig
	LogLevel  string
}

// DatabaseConfig holds database-related configuration
type DatabaseConfig struct {
	Driver           string // sqlite or postgres
	DSN              string
	MaxConns         int32
	MinConns         int32
	MaxConnLifetime  time.Duration
	MaxConnIdleTime  time.Duration
	DialTimeout      time.Duration
	StatementTimeout time.Duration
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	HTTPAddr string
	GRPCAddr string
}

// LLMConfig holds LLM-related configuration
type LLMConfig struct {
	Model           string
	APIKey          string
	BaseURL         string
	GeminiAPIKey    string
	Temperature     float32
	Timeout         time.Duration
	LenientOptional bool
}

// ConvertConfig points at the external conversion service for binary formats.
type ConvertConfig struct {
	ServiceURL string
	Timeout    time.Duration
	Workers    int
}

// SchedulerConfig holds batching and worker pool configuration
type SchedulerConfig struct {
	Workers          int
	QueueSize        int
	MinBatchSize     int
	MaxBatchSize     int
	InitialBatchSize int
	FlushInterval    time.Duration
	FastThreshold    time.Duration
	SlowThreshold    time.Duration
	EWMAAlpha        float64
	MaxRetries       int
	RetryBackoff     time.Duration
	MaxBackoff       time.Duration
	DispatchTimeout  time.Duration
	RateLimit        float64 // dispatches per second, 0 disables
	RateBurst        int
	EventBuffer      int
}

// CacheConfig holds result cache configuration
type CacheConfig struct {
	MaxEntries int
	TTL        time.Duration
	Persist    bool
}

// SessionConfig holds session and version lifecycle configuration
type SessionConfig struct {
	TTL             time.Duration
	MaxVersions     int
	SweepInterval   time.Duration
	AllowModelReuse bool
}

// SchemasConfig locates the extraction schema registry file.
type SchemasConfig struct {
	Path string
}

// LoadConfig loads configuration from environment variables. A .env file in
// the working directory is read first when present.
func LoadConfig() *Config {
	_ = godotenv.Load()

	return &Config{
		Database: DatabaseConfig{
			Driver:           strings.ToLower(getEnv("DB_DRIVER", "sqlite")),
			DSN:              getEnv("DB_URL", "file:docextract.db?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"),
			MaxConns:         getEnvAsInt32("DB_MAX_CONNS", 20),
			MinConns:         getEnvAsInt32("DB_MIN_CONNS", 2),
			MaxConnLifetime:  getEnvAsDuration("DB_MAX_CONN_LIFETIME", 30*time.Minute),
			MaxConnIdleTime:  getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 5*time.Minute),
			DialTimeout:      getEnvAsDuration("DB_DIAL_TIMEOUT", 3*time.Second),
			StatementTimeout: getEnvAsDuration("DB_STATEMENT_TIMEOUT", 0),
		},
		Server: ServerConfig{
			HTTPAddr: getEnv("HTTP_ADDR", ":8081"),
			GRPCAddr: getEnv("GRPC_ADDR", ":8080"),
		},
		LLM: LLMConfig{
			Model:           getEnv("LLM_MODEL", "gpt-4o-mini"),
			APIKey:          getEnv("OPENAI_API_KEY", ""),
			BaseURL:         getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
			GeminiAPIKey:    getEnv("GEMINI_API_KEY", ""),
			Temperature:     getEnvAsFloat32("LLM_TEMPERATURE", 0.0),
			Timeout:         getEnvAsDuration("LLM_TIMEOUT", 60*time.Second),
			LenientOptional: getEnvAsBool("LLM_LENIENT", true),
		},
		Convert: ConvertConfig{
			ServiceURL: getEnv("CONVERT_URL", ""),
			Timeout:    getEnvAsDuration("CONVERT_TIMEOUT", 2*time.Minute),
			Workers:    getEnvAsInt("CONVERT_WORKERS", 4),
		},
		Scheduler: SchedulerConfig{
			Workers:          getEnvAsInt("SCHED_WORKERS", 5),
			QueueSize:        getEnvAsInt("SCHED_QUEUE_SIZE", 1024),
			MinBatchSize:     getEnvAsInt("SCHED_MIN_BATCH", 1),
			MaxBatchSize:     getEnvAsInt("SCHED_MAX_BATCH", 8),
			InitialBatchSize: getEnvAsInt("SCHED_INITIAL_BATCH", 4),
			FlushInterval:    getEnvAsDuration("SCHED_FLUSH_INTERVAL", 200*time.Millisecond),
			FastThreshold:    getEnvAsDuration("SCHED_FAST_THRESHOLD", 2*time.Second),
			SlowThreshold:    getEnvAsDuration("SCHED_SLOW_THRESHOLD", 8*time.Second),
			EWMAAlpha:        getEnvAsFloat64("SCHED_EWMA_ALPHA", 0.3),
			MaxRetries:       getEnvAsInt("SCHED_MAX_RETRIES", 2),
			RetryBackoff:     getEnvAsDuration("SCHED_RETRY_BACKOFF", 500*time.Millisecond),
			MaxBackoff:       getEnvAsDuration("SCHED_MAX_BACKOFF", 5*time.Second),
			DispatchTimeout:  getEnvAsDuration("SCHED_DISPATCH_TIMEOUT", 2*time.Minute),
			RateLimit:        getEnvAsFloat64("SCHED_RATE_LIMIT", 0),
			RateBurst:        getEnvAsInt("SCHED_RATE_BURST", 1),
			EventBuffer:      getEnvAsInt("STREAM_EVENT_BUFFER", 64),
		},
		Cache: CacheConfig{
			MaxEntries: getEnvAsInt("CACHE_MAX_ENTRIES", 4096),
			TTL:        getEnvAsDuration("CACHE_TTL", 24*time.Hour),
			Persist:    getEnvAsBool("CACHE_PERSIST", true),
		},
		Session: SessionConfig{
			TTL:             getEnvAsDuration("SESSION_TTL", 24*time.Hour),
			MaxVersions:     getEnvAsInt("SESSION_MAX_VERSIONS", 4),
			SweepInterval:   getEnvAsDuration("SESSION_SWEEP_INTERVAL", 5*time.Minute),
			AllowModelReuse: getEnvAsBool("SESSION_ALLOW_MODEL_REUSE", false),
		},
		Schemas: SchemasConfig{
			Path: getEnv("SCHEMAS_PATH", ""),
		},
		LogLevel: getEnv("LOG_LEVEL", "info"),
	}
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsInt32(key string, defaultValue int32) int32 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 32); err == nil {
			return int32(intVal)
		}
	}
	return defaultValue
}

func getEnvAsFloat32(key string, defaultValue float32) float32 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 32); err == nil {
			return float32(floatVal)
		}
	}
	return defaultValue
}

func getEnvAsFloat64(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// Validate validates the loaded configuration
func (c *Config) Validate() error {
	if err := c.ValidateOffline(); err != nil {
		return err
	}
	if c.LLM.APIKey == "" && c.LLM.GeminiAPIKey == "" {
		return NewAppError("CONFIG_ERROR", "OPENAI_API_KEY or GEMINI_API_KEY is required", ErrInvalidInput)
	}
	return nil
}

// ValidateOffline checks what commands that never call a provider need.
func (c *Config) ValidateOffline() error {
	if c.Database.DSN == "" {
		return NewAppError("CONFIG_ERROR", "DB_URL is required", ErrInvalidInput)
	}
	if c.Database.Driver != "sqlite" && c.Database.Driver != "postgres" {
		return NewAppError("CONFIG_ERROR", "DB_DRIVER must be sqlite or postgres", ErrInvalidInput)
	}
	if c.Scheduler.Workers <= 0 {
		return NewAppError("CONFIG_ERROR", "SCHED_WORKERS must be positive", ErrInvalidInput)
	}
	if c.Scheduler.MinBatchSize < 1 || c.Scheduler.MaxBatchSize < c.Scheduler.MinBatchSize {
		return NewAppError("CONFIG_ERROR", "SCHED_MIN_BATCH must be >= 1 and <= SCHED_MAX_BATCH", ErrInvalidInput)
	}
	if c.Session.MaxVersions < 1 {
		return NewAppError("CONFIG_ERROR", "SESSION_MAX_VERSIONS must be >= 1", ErrInvalidInput)
	}
	return nil
}
