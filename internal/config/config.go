package config

import (
	"fmt"
	"strings"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds the service and batch runner configuration. Values come from
// an optional YAML file; environment variables always override it.
type Config struct {
	Port    string `yaml:"port" env:"PORT" env-default:"8080"`
	DataDir string `yaml:"data_dir" env:"DATA_DIR" env-default:"data/results/final"`
	// ParametersFile points at the tariff parameter set (see LoadParameters).
	ParametersFile string `yaml:"parameters_file" env:"PARAMETERS_FILE" env-default:"parameters.yaml"`
	// Region selects the countries processed by a batch run when no explicit
	// country is given.
	Region string `yaml:"region" env:"PLAN_REGION" env-default:"Sub-Saharan Africa"`
	Workers int    `yaml:"workers" env:"WORKERS" env-default:"1"`

	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Log      LogConfig      `yaml:"log"`
	Solver   SolverConfig   `yaml:"solver"`
	Limits   LimitsConfig   `yaml:"limits"`
	Auth     AuthConfig     `yaml:"auth"`
	Webhooks WebhookConfig  `yaml:"webhooks"`
}

// DatabaseConfig selects the plan store. An empty URL keeps plans in memory.
type DatabaseConfig struct {
	URL           string `yaml:"-" env:"DATABASE_URL"` // secret, env only
	Migrate       bool   `yaml:"migrate" env:"DB_MIGRATE" env-default:"true"`
	MigrationsDir string `yaml:"migrations_dir" env:"MIGRATIONS_DIR" env-default:"db/migrations"`
}

// RedisConfig enables the Redis event broker when URL is set.
type RedisConfig struct {
	URL string `yaml:"-" env:"REDIS_URL"`
}

type LogConfig struct {
	Level  string `yaml:"level" env:"LOG_LEVEL" env-default:"info"`
	Format string `yaml:"format" env:"LOG_FORMAT" env-default:"json"` // json or console
}

type SolverConfig struct {
	// MaxNodes bounds the branch-and-bound tree; 0 means unlimited.
	MaxNodes int `yaml:"max_nodes" env:"SOLVER_MAX_NODES" env-default:"0"`
}

// LimitsConfig throttles plan submissions over HTTP.
type LimitsConfig struct {
	PlansPerMinute float64 `yaml:"plans_per_minute" env:"PLAN_RATE_PER_MINUTE" env-default:"30"`
	Burst          int     `yaml:"burst" env:"PLAN_RATE_BURST" env-default:"5"`
}

// AuthConfig guards plan submissions. Mode is off, dev, hmac or jwks.
type AuthConfig struct {
	Mode       string `yaml:"mode" env:"AUTH_MODE" env-default:"off"`
	HMACSecret string `yaml:"-" env:"AUTH_HMAC_SECRET"`
	JWKSURL    string `yaml:"jwks_url" env:"AUTH_JWKS_URL"`
	RoleClaim  string `yaml:"role_claim" env:"AUTH_ROLE_CLAIM" env-default:"role"`
}

// WebhookConfig lists endpoints that receive every plan event.
type WebhookConfig struct {
	URLs        []string `yaml:"urls" env:"WEBHOOK_URLS" env-separator:","`
	Secret      string   `yaml:"-" env:"WEBHOOK_SECRET"`
	MaxAttempts int      `yaml:"max_attempts" env:"WEBHOOK_MAX_ATTEMPTS" env-default:"10"`
}

// Load reads path (when non-empty) with environment overrides, or the
// environment alone otherwise.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if strings.TrimSpace(path) != "" {
		if err := cleanenv.ReadConfig(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
	} else if err := cleanenv.ReadEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Workers < 1 {
		return fmt.Errorf("workers must be >= 1, got %d", c.Workers)
	}
	if c.Solver.MaxNodes < 0 {
		return fmt.Errorf("solver.max_nodes must be >= 0, got %d", c.Solver.MaxNodes)
	}
	if c.Limits.PlansPerMinute < 0 || c.Limits.Burst < 0 {
		return fmt.Errorf("limits must be >= 0")
	}
	return nil
}
