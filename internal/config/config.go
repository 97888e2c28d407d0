package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	Port                  int    `env:"PORT" envDefault:"8080"`
	DatabaseURL           string `env:"DATABASE_URL,required"`
	RedisURL              string `env:"REDIS_URL,required"`
	LogLevel              string `env:"LOG_LEVEL" envDefault:"info"`
	QueueTTLSeconds       int    `env:"QUEUE_TTL_SECONDS" envDefault:"3600"`
	SeekerFallbackSeconds int    `env:"SEEKER_FALLBACK_SECONDS" envDefault:"120"`
	RematchIntervalMS     int    `env:"REMATCH_INTERVAL_MS" envDefault:"1000"`
	CandidateLookahead    int    `env:"CANDIDATE_LOOKAHEAD" envDefault:"50"`
}

// QueueTTL is how long an abandoned search entry survives before the
// sweeper purges it.
func (c *Config) QueueTTL() time.Duration {
	return time.Duration(c.QueueTTLSeconds) * time.Second
}

// SeekerFallbackTTL is how long a strict group seeker waits before
// becoming eligible for the random pool.
func (c *Config) SeekerFallbackTTL() time.Duration {
	return time.Duration(c.SeekerFallbackSeconds) * time.Second
}

func (c *Config) RematchInterval() time.Duration {
	return time.Duration(c.RematchIntervalMS) * time.Millisecond
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func (c *Config) Validate() error {
	if c.CandidateLookahead < 1 {
		return fmt.Errorf("CANDIDATE_LOOKAHEAD must be at least 1")
	}
	if c.RematchIntervalMS < 100 {
		return fmt.Errorf("REMATCH_INTERVAL_MS must be at least 100 to avoid hammering the queue")
	}
	if c.SeekerFallbackSeconds < 0 {
		return fmt.Errorf("SEEKER_FALLBACK_SECONDS must not be negative")
	}
	return nil
}

func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
