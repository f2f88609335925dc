// Package config provides configuration loading for the entityversion CLI.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Storage drivers
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// DefaultSQLiteDSN is the database file used when sqlite has no dsn.
const DefaultSQLiteDSN = "entityversion.db"

// ErrInvalidConfig is returned by Validate.
var ErrInvalidConfig = errors.New("config: invalid")

// Config holds runtime settings.
type Config struct {
	Storage     StorageConfig `yaml:"storage"`
	Definitions string        `yaml:"definitions"`
	Log         LogConfig     `yaml:"log"`

	// Observability
	MetricsAddr string `yaml:"metrics_addr"`

	// Identity
	UserCacheSize int `yaml:"user_cache_size"`
}

// StorageConfig selects the entity store backend.
type StorageConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// LogConfig configures the logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// Default returns the settings used when nothing is configured.
func Default() *Config {
	return &Config{
		Storage:       StorageConfig{Driver: DriverSQLite},
		Log:           LogConfig{Level: "info"},
		MetricsAddr:   ":9090",
		UserCacheSize: 1024,
	}
}

// Load reads a YAML file over the defaults. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// ApplyEnv overrides settings from ENTITYVERSION_* environment variables.
func (c *Config) ApplyEnv() {
	c.Storage.Driver = getEnv("ENTITYVERSION_STORAGE_DRIVER", c.Storage.Driver)
	c.Storage.DSN = getEnv("ENTITYVERSION_STORAGE_DSN", c.Storage.DSN)
	c.Definitions = getEnv("ENTITYVERSION_DEFINITIONS", c.Definitions)
	c.Log.Level = getEnv("ENTITYVERSION_LOG_LEVEL", c.Log.Level)
	c.Log.Pretty = getEnvBool("ENTITYVERSION_LOG_PRETTY", c.Log.Pretty)
	c.MetricsAddr = getEnv("ENTITYVERSION_METRICS_ADDR", c.MetricsAddr)
	c.UserCacheSize = getEnvInt("ENTITYVERSION_USER_CACHE_SIZE", c.UserCacheSize)
}

// Validate checks the settings are usable.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case DriverMemory, DriverSQLite:
	case DriverPostgres:
		if c.Storage.DSN == "" {
			return fmt.Errorf("%w: storage driver %s needs a dsn", ErrInvalidConfig, c.Storage.Driver)
		}
	default:
		return fmt.Errorf("%w: unknown storage driver %q", ErrInvalidConfig, c.Storage.Driver)
	}
	if c.UserCacheSize < 0 {
		return fmt.Errorf("%w: user cache size must not be negative", ErrInvalidConfig)
	}
	return nil
}

// StorageDSN returns the configured dsn, falling back to DefaultSQLiteDSN for sqlite.
func (c *Config) StorageDSN() string {
	if c.Storage.DSN == "" && c.Storage.Driver == DriverSQLite {
		return DefaultSQLiteDSN
	}
	return c.Storage.DSN
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
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

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}
