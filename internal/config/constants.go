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
	ServerWriteTimeout    = 60 * time.Second
	ServerIdleTimeout     = 120 * time.Second
	ServerShutdownTimeout = 30 * time.Second
)

// Database ping timeout for health checks
const DBPingTimeout = 5 * time.Second

// Reconciliation job: how often to scan, and how long an attempt may sit in
// funding_source_created before it counts as an orphaned funding source.
const (
	ReconcileJobInterval  = 5 * time.Minute
	ReconcileStalledAfter = 10 * time.Minute
)

// Completion lock lease held per user while a linking chain runs
const LinkLockTTL = 2 * time.Minute
