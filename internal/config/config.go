// Package config loads configuration from environment variables.
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/ilyakaznacheev/cleanenv"
)

// Store backends.
const (
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

// Config holds all server configuration.
type Config struct {
	// Server
	ListenAddr  string `yaml:"listen_addr" env:"LISTEN_ADDR" env-default:":8080" validate:"required"`
	MetricsAddr string `yaml:"metrics_addr" env:"METRICS_ADDR" env-default:":9090"`

	// Logging
	LogLevel  string `yaml:"log_level" env:"LOG_LEVEL" env-default:"info" validate:"oneof=debug info warn error"`
	LogFormat string `yaml:"log_format" env:"LOG_FORMAT" env-default:"json" validate:"oneof=json console"`

	// Storage
	StoreBackend  string `yaml:"store_backend" env:"STORE_BACKEND" env-default:"postgres" validate:"oneof=postgres memory"`
	DatabaseURL   string `yaml:"database_url" env:"DATABASE_URL" validate:"required_if=StoreBackend postgres"`
	MigrationsDir string `yaml:"migrations_dir" env:"MIGRATIONS_DIR" env-default:"migrations"`

	// Connection pool
	DBMaxOpenConns    int           `yaml:"db_max_open_conns" env:"DB_MAX_OPEN_CONNS" env-default:"25" validate:"gt=0"`
	DBMaxIdleConns    int           `yaml:"db_max_idle_conns" env:"DB_MAX_IDLE_CONNS" env-default:"5" validate:"gte=0"`
	DBConnMaxLifetime time.Duration `yaml:"db_conn_max_lifetime" env:"DB_CONN_MAX_LIFETIME" env-default:"5m"`

	// Auth
	JWTSecret string `yaml:"jwt_secret" env:"JWT_SECRET" validate:"required"`

	// Search
	PageSizeMax int `yaml:"page_size_max" env:"PAGE_SIZE_MAX" env-default:"50" validate:"gt=0,lte=1000"`
}

// Load reads configuration from the environment with defaults.
func Load() (*Config, error) {
	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("read env: %w", err)
	}
	return &cfg, validate(&cfg)
}

// LoadFile reads a YAML file, then lets environment variables override it.
func LoadFile(path string) (*Config, error) {
	var cfg Config
	if err := cleanenv.ReadConfig(path, &cfg); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return &cfg, validate(&cfg)
}

func validate(cfg *Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Usage returns a description of the environment variables.
func Usage() string {
	var cfg Config
	text, err := cleanenv.GetDescription(&cfg, nil)
	if err != nil {
		return ""
	}
	return text
}
