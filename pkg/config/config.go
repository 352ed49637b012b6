package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/Tensibai/si/pkg/funcs"
	"github.com/Tensibai/si/pkg/stores"
	"github.com/Tensibai/si/pkg/telemetry"
)

// Environment variables overriding the config file.
const (
	EnvDatabaseDSN = "SI_DATABASE_DSN"
	EnvBusURL      = "SI_BUS_URL"
)

// Config is the engine configuration file.
type Config struct {
	Database  DatabaseConfig    `yaml:"database" validate:"required"`
	Bus       BusConfig         `yaml:"bus"`
	Funcs     funcs.Config      `yaml:"funcs"`
	Telemetry *telemetry.Config `yaml:"telemetry"`

	// SchemaDir holds the CUE schema definitions imported at startup and watched by
	// "si watch".
	SchemaDir string `yaml:"schema_dir,omitempty"`
}

// DatabaseConfig selects and tunes the store.
type DatabaseConfig struct {
	Driver          string        `yaml:"driver" validate:"required,oneof=sqlite postgres"`
	DSN             string        `yaml:"dsn" validate:"required"`
	MaxOpenConns    int           `yaml:"max_open_conns" validate:"gte=0"`
	MaxIdleConns    int           `yaml:"max_idle_conns" validate:"gte=0"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// BusConfig selects the change notification driver. See bus.Open for the URL forms.
type BusConfig struct {
	URL string `yaml:"url"`
}

// DefaultConfig returns a local configuration: a sqlite file in the working directory,
// an in-memory bus and console logging.
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Driver:          string(stores.DialectSQLite),
			DSN:             "si.db",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Bus: BusConfig{URL: "memory://"},
		Funcs: funcs.Config{
			StarlarkTimeout: 30 * time.Second,
			WasmTimeout:     30 * time.Second,
			WasmMemoryPages: 256,
			RegoRule:        funcs.DefaultRegoRule,
		},
		Telemetry: telemetry.DefaultConfig(),
	}
}

// LoadFile reads a YAML config over the defaults, applies the environment overrides and
// validates the result. An empty path loads the defaults only.
func LoadFile(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}
	cfg.ApplyEnv(os.LookupEnv)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from the environment.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	if dsn, ok := lookup(EnvDatabaseDSN); ok && dsn != "" {
		c.Database.DSN = dsn
		if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
			c.Database.Driver = string(stores.DialectPostgres)
		}
	}
	if u, ok := lookup(EnvBusURL); ok && u != "" {
		c.Bus.URL = u
	}
}

// Validate checks the struct tags and the telemetry section.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Telemetry != nil {
		if err := c.Telemetry.Validate(); err != nil {
			return fmt.Errorf("invalid telemetry config: %w", err)
		}
	}
	return nil
}

// StoreConfig converts the database section for stores.Open.
func (c *Config) StoreConfig() stores.Config {
	return stores.Config{
		Driver:          stores.Dialect(c.Database.Driver),
		DSN:             c.Database.DSN,
		MaxOpenConns:    c.Database.MaxOpenConns,
		MaxIdleConns:    c.Database.MaxIdleConns,
		ConnMaxLifetime: c.Database.ConnMaxLifetime,
	}
}
