package storage

import (
	"context"
	"time"
)

// Storage abstracts persistence for rate table snapshots, runtime settings,
// API tokens and scheduled job bookkeeping.
type Storage interface {
	// GetRatesSnapshot returns the newest snapshot for source, or nil when
	// none has been stored.
	GetRatesSnapshot(ctx context.Context, source string) (*RatesSnapshot, error)
	SaveRatesSnapshot(ctx context.Context, snap RatesSnapshot) error
	// ListRatesSnapshots returns up to limit snapshots, newest first.
	ListRatesSnapshots(ctx context.Context, source string, limit int) ([]RatesSnapshot, error)

	// GetSetting returns "" for unknown keys.
	GetSetting(ctx context.Context, key string) (string, error)
	SetSetting(ctx context.Context, key, value string) error

	UpdateScheduledJob(ctx context.Context, name string, started time.Time, dur time.Duration, success bool, errMsg string) error
	GetScheduledJob(ctx context.Context, name string) (*ScheduledJob, error)

	CreateAPIToken(ctx context.Context, tok APIToken) error
	// GetAPITokenByHash returns nil when no token has the hash.
	GetAPITokenByHash(ctx context.Context, hash string) (*APIToken, error)
	ListAPITokens(ctx context.Context) ([]APIToken, error)
	DeleteAPIToken(ctx context.Context, id string) error
	TouchAPIToken(ctx context.Context, id string, at time.Time) error

	Ping(ctx context.Context) error
	// Close releases any resources (no-op for in-memory).
	Close() error
}

// Locker is implemented by backends that can coordinate work across
// replicas.
type Locker interface {
	AcquireAdvisoryLock(ctx context.Context, key int64) (bool, error)
	ReleaseAdvisoryLock(ctx context.Context, key int64) (bool, error)
}

// PoolReporter is implemented by backends with a connection pool worth
// exporting as metrics.
type PoolReporter interface {
	ReportPoolStats()
}
