// Package config loads the service configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Storage backends.
const (
	BackendMongo  = "mongo"
	BackendTables = "tables"
	BackendMemory = "memory"
)

// Retry backoff strategies.
const (
	BackoffConstant    = "constant"
	BackoffExponential = "exponential"
)

const (
	defaultPort       = "3001"
	defaultMongoURI   = "mongodb://127.0.0.1:27017/TodoList"
	defaultCollection = "todos"
)

// Config holds every tunable of the service.
type Config struct {
	Port            string
	StaticDir       string
	CORSOrigins     []string
	LegacyErrors    bool
	Debug           bool
	LogFormat       string
	ShutdownTimeout time.Duration

	Backend string
	Mongo   MongoConfig
	Tables  TablesConfig
	Retry   RetryConfig
	Events  EventsConfig
	Cache   CacheConfig
}

type MongoConfig struct {
	URI                    string
	Collection             string
	ServerSelectionTimeout time.Duration
	SocketTimeout          time.Duration
}

// TablesConfig configures the Azure Tables backend. HealthInterval is the
// period between reachability checks once connected; zero disables them.
type TablesConfig struct {
	ConnectionString string
	Table            string
	HealthInterval   time.Duration
}

type RetryConfig struct {
	Backoff     string
	Delay       time.Duration
	MaxDelay    time.Duration
	MaxAttempts int
}

// EventsConfig configures the task event publisher. Publishing is disabled
// when Queue is empty.
type EventsConfig struct {
	ConnectionString string
	Queue            string
	Workers          int
	Buffer           int
	HandoffTimeout   time.Duration
	Timeout          time.Duration
}

func (e EventsConfig) Enabled() bool { return e.Queue != "" }

// CacheConfig configures the Redis list cache. Caching is disabled when
// Redis is empty.
type CacheConfig struct {
	Redis string
	TTL   time.Duration
}

func (c CacheConfig) Enabled() bool { return c.Redis != "" }

// Load reads a .env file when one exists and then the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	return FromEnv()
}

// FromEnv builds a Config from the process environment only.
func FromEnv() (*Config, error) {
	var (
		cfg  Config
		errs []error
	)
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	cfg.Port = envString("PORT", defaultPort)
	cfg.StaticDir = envString("STATIC_DIR", "public")
	cfg.CORSOrigins = envList("CORS_ALLOW_ORIGINS", []string{"*"})
	cfg.LogFormat = strings.ToLower(envString("LOG_FORMAT", "text"))

	var err error
	cfg.LegacyErrors, err = envBool("LEGACY_ERROR_BODIES", false)
	collect(err)
	cfg.Debug, err = envBool("DEBUG", false)
	collect(err)
	cfg.ShutdownTimeout, err = envDur("SHUTDOWN_TIMEOUT", 30*time.Second)
	collect(err)

	cfg.Backend = strings.ToLower(envString("STORAGE_BACKEND", BackendMongo))

	cfg.Mongo.URI = envString("MONGODB_URI", defaultMongoURI)
	cfg.Mongo.Collection = envString("MONGODB_COLLECTION", defaultCollection)
	cfg.Mongo.ServerSelectionTimeout, err = envDur("DB_SERVER_SELECTION_TIMEOUT", 5*time.Second)
	collect(err)
	cfg.Mongo.SocketTimeout, err = envDur("DB_SOCKET_TIMEOUT", 45*time.Second)
	collect(err)

	connStr := os.Getenv("STORAGE_CONNECTION_STRING")
	cfg.Tables.ConnectionString = connStr
	cfg.Tables.Table = envString("TASKS_TABLE", defaultCollection)
	cfg.Tables.HealthInterval, err = envDur("DB_HEALTH_INTERVAL", 30*time.Second)
	collect(err)

	cfg.Retry.Backoff = strings.ToLower(envString("DB_RETRY_BACKOFF", BackoffConstant))
	cfg.Retry.Delay, err = envDur("DB_RETRY_DELAY", 5*time.Second)
	collect(err)
	cfg.Retry.MaxDelay, err = envDur("DB_RETRY_MAX_DELAY", time.Minute)
	collect(err)
	cfg.Retry.MaxAttempts, err = envInt("DB_RETRY_MAX_ATTEMPTS", 0)
	collect(err)

	cfg.Events.ConnectionString = connStr
	cfg.Events.Queue = envString("TASK_EVENTS_QUEUE", "")
	cfg.Events.Workers, err = envInt("EVENTS_WORKERS", 4)
	collect(err)
	cfg.Events.Buffer, err = envInt("EVENTS_BUFFER", 1024)
	collect(err)
	cfg.Events.HandoffTimeout, err = envDur("EVENTS_HANDOFF_TIMEOUT", 10*time.Millisecond)
	collect(err)
	cfg.Events.Timeout, err = envDur("EVENTS_TIMEOUT", 30*time.Second)
	collect(err)

	cfg.Cache.Redis = envString("REDIS_CONNECTION_STRING", "")
	cfg.Cache.TTL, err = envDur("TASKS_CACHE_TTL", 30*time.Second)
	collect(err)

	collect(cfg.validate())
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	var errs []error
	switch c.Backend {
	case BackendMongo, BackendMemory:
	case BackendTables:
		if c.Tables.ConnectionString == "" {
			errs = append(errs, errors.New("STORAGE_CONNECTION_STRING is required for the tables backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid STORAGE_BACKEND %q", c.Backend))
	}
	switch c.Retry.Backoff {
	case BackoffConstant, BackoffExponential:
	default:
		errs = append(errs, fmt.Errorf("invalid DB_RETRY_BACKOFF %q", c.Retry.Backoff))
	}
	if c.Retry.MaxAttempts < 0 {
		errs = append(errs, errors.New("invalid DB_RETRY_MAX_ATTEMPTS: must not be negative"))
	}
	if c.Events.Enabled() && c.Events.ConnectionString == "" {
		errs = append(errs, errors.New("STORAGE_CONNECTION_STRING is required when TASK_EVENTS_QUEUE is set"))
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		errs = append(errs, fmt.Errorf("invalid LOG_FORMAT %q", c.LogFormat))
	}
	return errors.Join(errs...)
}

// ListenAddr is the address the HTTP server binds to.
func (c *Config) ListenAddr() string {
	return ":" + c.Port
}
