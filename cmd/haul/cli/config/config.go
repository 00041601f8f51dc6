package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config represents the haul CLI configuration.
// Use mapstructure tags for Viper unmarshaling.
type Config struct {
	Progress string     `mapstructure:"progress"`
	Pull     PullConfig `mapstructure:"pull"`
}

// PullConfig holds defaults for the pull command. Zero values mean
// "not configured" and leave the built-in flag defaults in place.
type PullConfig struct {
	Sort        string        `mapstructure:"sort"`
	Kind        string        `mapstructure:"kind"`
	Concurrency int           `mapstructure:"concurrency"`
	Retries     int           `mapstructure:"retries"`
	RetryDelay  time.Duration `mapstructure:"retry-delay"`
	VerifyWait  time.Duration `mapstructure:"verify-wait"`
	Timeout     time.Duration `mapstructure:"timeout"`
	MinFreeGB   float64       `mapstructure:"min-free"`
	Stream      bool          `mapstructure:"stream"`
}

// Load unmarshals the effective Viper settings into a typed Config.
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return &cfg, nil
}
