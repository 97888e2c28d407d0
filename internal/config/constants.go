package config

import "time"

// Database connection pool settings
const (
	DBMaxOpenConns    = 25
	DBMaxIdleConns    = 5
	DBConnMaxLifetime = 5 * time.Minute
)

// HTTP server timeouts
const (
	ServerRequestTimeout  = 60 * time.Second
	ServerReadTimeout     = 15 * time.Second
	ServerIdleTimeout     = 120 * time.Second
	ServerShutdownTimeout = 30 * time.Second
)

// Database ping timeout for health checks
const DBPingTimeout = 5 * time.Second

// Background job intervals
const SweepJobInterval = 5 * time.Minute

// Matchmaking limits
const (
	MaxGroupSize = 3

	// Candidates examined per matching pass before giving up. Keeps a
	// single slow scan from holding a transaction open on a busy queue.
	MaxCandidateBatch = 200
)

// Default rate limiting
const (
	DefaultRateLimitPerMin = 60
	PremiumRateLimitPerMin = 120
)
