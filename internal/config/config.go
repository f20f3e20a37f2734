// Package config loads server settings from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds everything the server reads from the environment.
type Config struct {
	Port        string `env:"PORT" envDefault:"8080"`
	ContentPath string `env:"CONTENT_PATH"`
	DBPath      string `env:"DB_PATH" envDefault:"portfolio.db"`

	AdminUsername string `env:"ADMIN_USERNAME"`
	AdminPassword string `env:"ADMIN_PASSWORD"`

	// AnalyticsSalt keys session hashing. Empty means a per-process salt.
	AnalyticsSalt string `env:"ANALYTICS_SALT"`
	// AnalyticsRetention bounds how long section views are kept.
	AnalyticsRetention time.Duration `env:"ANALYTICS_RETENTION" envDefault:"8760h"`

	Nav Nav `envPrefix:"NAV_"`
}

// Nav tunes navigation tracking.
type Nav struct {
	DefaultSection string        `env:"DEFAULT_SECTION" envDefault:"home"`
	RootMargin     string        `env:"ROOT_MARGIN" envDefault:"-40% 0px -40% 0px"`
	Thresholds     int           `env:"THRESHOLDS" envDefault:"21"`
	SessionIdle    time.Duration `env:"SESSION_IDLE" envDefault:"30m"`
	SweepInterval  time.Duration `env:"SWEEP_INTERVAL" envDefault:"1m"`
}

// Load parses the environment into a Config.
func Load() (Config, error) {
	var cfg Config
	if err := ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Validate rejects settings the server cannot run with.
func (c Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT is empty")
	}
	if c.Nav.DefaultSection == "" {
		return fmt.Errorf("NAV_DEFAULT_SECTION is empty")
	}
	if c.Nav.Thresholds < 2 {
		return fmt.Errorf("NAV_THRESHOLDS must be at least 2, got %d", c.Nav.Thresholds)
	}
	if c.Nav.SessionIdle <= 0 || c.Nav.SweepInterval <= 0 {
		return fmt.Errorf("NAV_SESSION_IDLE and NAV_SWEEP_INTERVAL must be positive")
	}
	return nil
}
