package domain

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds the complete Collector configuration.
type Config struct {
	// Server settings
	Server ServerConfig `yaml:"server"`

	// Component configurations
	Repository RepositoryConfig `yaml:"repository"`
	Cache      CacheConfig      `yaml:"cache"`
	EventBus   EventBusConfig   `yaml:"event_bus"`

	// Assignment rules and background processing
	Rules     RulesConfig     `yaml:"rules"`
	Reconcile ReconcileConfig `yaml:"reconcile"`
	Worker    WorkerConfig    `yaml:"worker"`

	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string        `yaml:"host" env:"SERVER_HOST" env-default:"0.0.0.0"`
	Port            int           `yaml:"port" env:"SERVER_PORT" env-default:"8080"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"SERVER_READ_TIMEOUT" env-default:"30s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"SERVER_WRITE_TIMEOUT" env-default:"30s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SERVER_SHUTDOWN_TIMEOUT" env-default:"10s"`
	AllowedOrigins  []string      `yaml:"allowed_origins" env:"SERVER_ALLOWED_ORIGINS" env-separator:","`
}

// RulesConfig points at the assignment rule file.
type RulesConfig struct {
	Path string `yaml:"path" env:"RULES_PATH" env-default:"./rules/default-rules.json"`
}

// ReconcileConfig controls the scheduled reconciliation sweep.
type ReconcileConfig struct {
	Enabled  bool   `yaml:"enabled" env:"RECONCILE_ENABLED" env-default:"true"`
	Schedule string `yaml:"schedule" env:"RECONCILE_SCHEDULE" env-default:"0 0 * * *"`
}

// WorkerConfig controls the reassessment consumer.
type WorkerConfig struct {
	Enabled     bool `yaml:"enabled" env:"WORKER_ENABLED" env-default:"false"`
	WorkerCount int  `yaml:"worker_count" env:"WORKER_COUNT" env-default:"4"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level" env:"LOG_LEVEL" env-default:"info"`   // debug, info, warn, error
	Format string `yaml:"format" env:"LOG_FORMAT" env-default:"json"` // json, text
}

// DefaultConfig returns the configuration produced by the env-default tags
// alone, ignoring the process environment.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Repository: RepositoryConfig{
			Driver:          "sqlite",
			SQLitePath:      "./collector.db",
			PostgresHost:    "localhost",
			PostgresPort:    5432,
			PostgresDB:      "collector",
			PostgresSSLMode: "disable",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 1000,
			LocalTTL:     30 * time.Second,
			RedisAddr:    "localhost:6379",
			DashboardTTL: 30 * time.Second,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
			NATSMaxReconnects: 10,
			NATSReconnectWait: 5,
		},
		Rules:     RulesConfig{Path: "./rules/default-rules.json"},
		Reconcile: ReconcileConfig{Enabled: true, Schedule: "0 0 * * *"},
		Worker:    WorkerConfig{WorkerCount: 4},
		Logging:   LoggingConfig{Level: "info", Format: "json"},
	}
}

// LoadConfig reads configuration from a YAML file and environment variables.
// Priority: ENV > YAML > defaults (via env-default tags).
// An empty path falls back to CONFIG_PATH, then "./config.yaml". A missing
// file is an error only when the path was given explicitly.
func LoadConfig(path string) (*Config, error) {
	var cfg Config

	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	explicitPath := path != ""
	if !explicitPath {
		path = "./config.yaml"
	}

	if _, err := os.Stat(path); err == nil {
		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	} else if explicitPath {
		return nil, fmt.Errorf("config: file %s: %w", path, err)
	} else {
		if err := cleanenv.ReadEnv(&cfg); err != nil {
			return nil, fmt.Errorf("config: read env: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}
	return &cfg, nil
}

// Validate checks the values cleanenv cannot enforce.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be in 1..65535, got %d", c.Server.Port))
	}

	switch c.Repository.Driver {
	case "sqlite":
		if c.Repository.SQLitePath == "" {
			errs = append(errs, errors.New("repository.sqlite_path is required for sqlite"))
		}
	case "postgres":
		if c.Repository.PostgresHost == "" || c.Repository.PostgresDB == "" {
			errs = append(errs, errors.New("repository.postgres_host and postgres_db are required for postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("repository.driver %q is not supported", c.Repository.Driver))
	}

	switch c.Cache.Type {
	case "memory", "redis":
	default:
		errs = append(errs, fmt.Errorf("cache.type %q is not supported", c.Cache.Type))
	}

	switch c.EventBus.Type {
	case "channel":
	case "nats":
		if c.EventBus.NATSUrl == "" {
			errs = append(errs, errors.New("event_bus.nats_url is required for nats"))
		}
	default:
		errs = append(errs, fmt.Errorf("event_bus.type %q is not supported", c.EventBus.Type))
	}

	if strings.TrimSpace(c.Rules.Path) == "" {
		errs = append(errs, errors.New("rules.path is required"))
	}
	if c.Reconcile.Enabled && strings.TrimSpace(c.Reconcile.Schedule) == "" {
		errs = append(errs, errors.New("reconcile.schedule is required when reconcile is enabled"))
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("logging.level %q is not supported", c.Logging.Level))
	}
	switch strings.ToLower(c.Logging.Format) {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("logging.format %q is not supported", c.Logging.Format))
	}

	return errors.Join(errs...)
}
