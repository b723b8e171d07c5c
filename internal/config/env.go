// Package config defines environment configuration for a scan run.
package config

import (
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds the tunables a run needs beyond the four CLI
// parameters. Defaults match the cadence a public rate-limited RPC
// endpoint tolerates.
type Config struct {
	MaxAttempts    int           `env:"VOTEWATCH_MAX_ATTEMPTS" envDefault:"5"`
	RetryBaseDelay time.Duration `env:"VOTEWATCH_RETRY_BASE_DELAY" envDefault:"3s"`
	RequestTimeout time.Duration `env:"VOTEWATCH_REQUEST_TIMEOUT" envDefault:"20s"`
	JitterMin      time.Duration `env:"VOTEWATCH_JITTER_MIN" envDefault:"3s"`
	JitterMax      time.Duration `env:"VOTEWATCH_JITTER_MAX" envDefault:"6s"`
}

// Load parses the configuration from the environment.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
