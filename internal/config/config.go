package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// EnvProduction is the ENVIRONMENT value the memory driver refuses to run
// under: it serializes every unit of work and loses all data on restart.
const EnvProduction = "production"

type Config struct {
	DBSource         string        `mapstructure:"DB_SOURCE"`
	DBMaxConns       int32         `mapstructure:"DB_MAX_CONNS"`
	Port             string        `mapstructure:"SERVER_PORT"`
	Env              string        `mapstructure:"ENVIRONMENT"`
	LogLevel         string        `mapstructure:"LOG_LEVEL"`
	StoreDriver      string        `mapstructure:"STORE_DRIVER"`
	MemorySeedOwners int           `mapstructure:"MEMORY_SEED_OWNERS"`
	RedisURL         string        `mapstructure:"REDIS_URL"`
	LockKeyPrefix    string        `mapstructure:"LOCK_KEY_PREFIX"`
	LockWaitTimeout  time.Duration `mapstructure:"LOCK_WAIT_TIMEOUT"`
	LockLeaseTTL     time.Duration `mapstructure:"LOCK_LEASE_TTL"`
	RabbitMQURL      string        `mapstructure:"RABBITMQ_URL"`
	EventExchange    string        `mapstructure:"EVENT_EXCHANGE"`
}

var keys = []string{
	"DB_SOURCE", "DB_MAX_CONNS", "SERVER_PORT", "ENVIRONMENT", "LOG_LEVEL",
	"STORE_DRIVER", "MEMORY_SEED_OWNERS", "REDIS_URL", "LOCK_KEY_PREFIX",
	"LOCK_WAIT_TIMEOUT", "LOCK_LEASE_TTL", "RABBITMQ_URL", "EVENT_EXCHANGE",
}

// Load reads configuration from the environment, falling back to an optional
// .env file in path.
func Load(path string) (*Config, error) {
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")
	viper.AutomaticEnv()

	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("ENVIRONMENT", "development")
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("STORE_DRIVER", DriverPostgres)
	viper.SetDefault("MEMORY_SEED_OWNERS", 3)
	viper.SetDefault("DB_MAX_CONNS", 20)
	viper.SetDefault("LOCK_KEY_PREFIX", "ledger:lock:account")
	viper.SetDefault("LOCK_WAIT_TIMEOUT", "1s")
	viper.SetDefault("LOCK_LEASE_TTL", "15s")
	viper.SetDefault("EVENT_EXCHANGE", "ledger_events")

	for _, key := range keys {
		_ = viper.BindEnv(key)
	}

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			slog.Warn("failed to read config file, using environment values", "error", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	cfg.StoreDriver = strings.ToLower(strings.TrimSpace(cfg.StoreDriver))
	cfg.RedisURL = strings.TrimSpace(cfg.RedisURL)
	cfg.RabbitMQURL = strings.TrimSpace(cfg.RabbitMQURL)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.StoreDriver {
	case DriverPostgres:
		if c.DBSource == "" {
			return fmt.Errorf("DB_SOURCE environment variable is required")
		}
	case DriverMemory:
		if strings.EqualFold(c.Env, EnvProduction) {
			return fmt.Errorf("STORE_DRIVER %q is for development and tests, not ENVIRONMENT %q", DriverMemory, c.Env)
		}
	default:
		return fmt.Errorf("STORE_DRIVER must be %q or %q, got %q", DriverPostgres, DriverMemory, c.StoreDriver)
	}
	if c.LockWaitTimeout <= 0 {
		return fmt.Errorf("LOCK_WAIT_TIMEOUT must be positive")
	}
	if c.LockLeaseTTL <= 0 {
		return fmt.Errorf("LOCK_LEASE_TTL must be positive")
	}
	return nil
}

// SlogLevel maps LOG_LEVEL to a slog level, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return level
}
