package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// Config holds all configuration for the studio service
type Config struct {
	// Server configuration
	HTTPPort int    `env:"DAGO_STUDIO_HTTP_PORT" envDefault:"8080"`
	GRPCPort int    `env:"DAGO_STUDIO_GRPC_PORT" envDefault:"9090"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// Execution backend channel
	Backend BackendConfig

	// Session and planner settings
	Execution ExecutionConfig

	// Storage and event bus backends
	Storage StorageConfig

	// Redis configuration
	Redis RedisConfig

	// Timeouts
	Timeouts TimeoutConfig
}

// BackendConfig holds the channel policy towards the execution backend
type BackendConfig struct {
	URL         string `env:"DAGO_BACKEND_URL" envDefault:"ws://localhost:8765/ws"`
	ClientID    string `env:"DAGO_CLIENT_ID"`
	AutoConnect bool   `env:"DAGO_BACKEND_AUTO_CONNECT" envDefault:"true"`

	MaxReconnectAttempts int           `env:"DAGO_BACKEND_MAX_RECONNECT_ATTEMPTS" envDefault:"10"`
	BaseReconnectDelay   time.Duration `env:"DAGO_BACKEND_RECONNECT_DELAY" envDefault:"1s"`
	MaxReconnectDelay    time.Duration `env:"DAGO_BACKEND_MAX_RECONNECT_DELAY" envDefault:"30s"`
	DialTimeout          time.Duration `env:"DAGO_BACKEND_DIAL_TIMEOUT" envDefault:"10s"`
	WriteTimeout         time.Duration `env:"DAGO_BACKEND_WRITE_TIMEOUT" envDefault:"10s"`

	// Heartbeat
	PingInterval   time.Duration `env:"DAGO_BACKEND_PING_INTERVAL" envDefault:"30s"`
	PingTimeout    time.Duration `env:"DAGO_BACKEND_PING_TIMEOUT" envDefault:"10s"`
	PongSlack      time.Duration `env:"DAGO_BACKEND_PONG_SLACK" envDefault:"5s"`
	MaxMissedPongs int           `env:"DAGO_BACKEND_MAX_MISSED_PONGS" envDefault:"3"`
}

// ExecutionConfig holds session controller and planner settings
type ExecutionConfig struct {
	// CommandTimeout is how long a command may go unacknowledged before the
	// run is failed. Zero disables acknowledgement tracking.
	CommandTimeout time.Duration `env:"DAGO_COMMAND_TIMEOUT" envDefault:"0s"`
	NodeCost       time.Duration `env:"DAGO_PLANNER_NODE_COST" envDefault:"1s"`
}

// StorageConfig selects the store and event bus implementations
type StorageConfig struct {
	Type        string        `env:"STORAGE_TYPE" envDefault:"memory"`
	EventBus    string        `env:"EVENT_BUS_TYPE" envDefault:"memory"`
	SnapshotTTL time.Duration `env:"STORAGE_SNAPSHOT_TTL" envDefault:"168h"`

	// Redis Streams consumer settings
	ConsumerGroup string `env:"EVENT_BUS_CONSUMER_GROUP" envDefault:"dago-studio"`
	StreamMaxLen  int64  `env:"EVENT_BUS_STREAM_MAX_LEN" envDefault:"10000"`
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	Password string `env:"REDIS_PASS"`
	DB       int    `env:"REDIS_DB" envDefault:"0"`

	// Connection pool settings
	PoolSize     int           `env:"REDIS_POOL_SIZE" envDefault:"10"`
	MinIdleConns int           `env:"REDIS_MIN_IDLE_CONNS" envDefault:"2"`
	MaxRetries   int           `env:"REDIS_MAX_RETRIES" envDefault:"3"`
	DialTimeout  time.Duration `env:"REDIS_DIAL_TIMEOUT" envDefault:"5s"`
	ReadTimeout  time.Duration `env:"REDIS_READ_TIMEOUT" envDefault:"3s"`
	WriteTimeout time.Duration `env:"REDIS_WRITE_TIMEOUT" envDefault:"3s"`
}

// TimeoutConfig holds various timeout configurations
type TimeoutConfig struct {
	ShutdownTimeout time.Duration `env:"TIMEOUT_SHUTDOWN" envDefault:"30s"`
}

// Load reads configuration from environment variables. Variables found in
// envFiles (default ".env") are applied first without overriding the
// environment; missing files are ignored.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", f, err)
		}
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}
	if c.GRPCPort < 1 || c.GRPCPort > 65535 {
		return fmt.Errorf("invalid gRPC port: %d", c.GRPCPort)
	}

	if c.Backend.URL == "" {
		return fmt.Errorf("backend URL is required")
	}
	if c.Backend.MaxReconnectAttempts < 0 {
		return fmt.Errorf("max reconnect attempts must not be negative")
	}
	if c.Backend.BaseReconnectDelay <= 0 {
		return fmt.Errorf("reconnect delay must be positive")
	}
	if c.Backend.MaxReconnectDelay < c.Backend.BaseReconnectDelay {
		return fmt.Errorf("max reconnect delay %s is below the base delay %s",
			c.Backend.MaxReconnectDelay, c.Backend.BaseReconnectDelay)
	}
	if c.Backend.MaxMissedPongs < 1 {
		return fmt.Errorf("max missed pongs must be at least 1")
	}

	validBackends := map[string]bool{"memory": true, "redis": true}
	if !validBackends[c.Storage.Type] {
		return fmt.Errorf("unsupported storage type: %s (must be memory or redis)", c.Storage.Type)
	}
	if !validBackends[c.Storage.EventBus] {
		return fmt.Errorf("unsupported event bus type: %s (must be memory or redis)", c.Storage.EventBus)
	}
	if c.UsesRedis() && c.Redis.Addr == "" {
		return fmt.Errorf("redis address is required")
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.LogLevel)
	}

	return nil
}

// UsesRedis reports whether any backend needs a Redis connection
func (c *Config) UsesRedis() bool {
	return c.Storage.Type == "redis" || c.Storage.EventBus == "redis"
}

// GetHTTPAddr returns the HTTP server address
func (c *Config) GetHTTPAddr() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}

// GetGRPCAddr returns the gRPC server address
func (c *Config) GetGRPCAddr() string {
	return fmt.Sprintf(":%d", c.GRPCPort)
}
