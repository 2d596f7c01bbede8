// Package config loads runtime settings from the environment.
//
// A .env file in the working directory is read first (missing file is not an
// error), then every field of Config is filled by envconfig. Values already
// present in the process environment win over the .env file.
package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

// Config holds every knob the server, CLI and migrator read at startup.
type Config struct {
	DatabaseURL      string        `envconfig:"DATABASE_URL" required:"true"`
	DBMaxConns       int32         `envconfig:"DB_MAX_CONNS" default:"10"`
	ServerPort       string        `envconfig:"SERVER_PORT" default:"8080"`
	AllowedOrigins   string        `envconfig:"ALLOWED_ORIGINS"`
	RequestBodyLimit int64         `envconfig:"REQUEST_BODY_LIMIT" default:"1048576"`
	ShutdownTimeout  time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"15s"`
	AutoMigrate      bool          `envconfig:"AUTO_MIGRATE" default:"false"`

	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"json"`

	RedisURL    string        `envconfig:"REDIS_URL"`
	KPICacheTTL time.Duration `envconfig:"KPI_CACHE_TTL" default:"60s"`

	LowStockThreshold string `envconfig:"LOW_STOCK_THRESHOLD" default:"5"`
	TxMaxRetries      int    `envconfig:"TX_MAX_RETRIES" default:"3"`
}

// Load reads .env (if present) and the process environment into a Config.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return FromEnv()
}

// FromEnv fills a Config from the current process environment only.
func FromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LowStock returns LowStockThreshold as a decimal. validate guarantees it parses.
func (c *Config) LowStock() decimal.Decimal {
	d, _ := decimal.NewFromString(c.LowStockThreshold)
	return d
}

// Addr is the listen address for the HTTP server.
func (c *Config) Addr() string {
	return ":" + c.ServerPort
}

func (c *Config) validate() error {
	d, err := decimal.NewFromString(c.LowStockThreshold)
	if err != nil {
		return fmt.Errorf("LOW_STOCK_THRESHOLD must be a number, got %q", c.LowStockThreshold)
	}
	if d.IsNegative() {
		return fmt.Errorf("LOW_STOCK_THRESHOLD cannot be negative, got %s", d)
	}
	if c.TxMaxRetries < 0 {
		return fmt.Errorf("TX_MAX_RETRIES cannot be negative, got %d", c.TxMaxRetries)
	}
	if c.DBMaxConns <= 0 {
		return fmt.Errorf("DB_MAX_CONNS must be positive, got %d", c.DBMaxConns)
	}
	if c.RequestBodyLimit <= 0 {
		return fmt.Errorf("REQUEST_BODY_LIMIT must be positive, got %d", c.RequestBodyLimit)
	}
	switch c.LogFormat {
	case "json", "text":
	default:
		return fmt.Errorf("LOG_FORMAT must be json or text, got %q", c.LogFormat)
	}
	return nil
}
