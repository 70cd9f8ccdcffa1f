package cache

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/ntentasd/acuamon-api/pkg/types"
)

var ErrCacheMiss = errors.New("cache miss")

// Cache defines the general caching for the api.
// It abstracts the latest readings of a unit (sorted) and key-values.
type Cache interface {
	// StoreReading pushes a reading into its unit's latest-readings list
	StoreReading(ctx context.Context, r types.Reading) error

	// FetchLast retrieves the N most recent readings of a unit, newest first
	FetchLast(ctx context.Context, unitID uuid.UUID, n int) ([]types.Reading, error)

	// StoreAggregate caches a computed aggregate with a TTL
	StoreAggregate(ctx context.Context, key string, data any, ttl time.Duration) error

	// FetchAggregate retrieves an aggregate from cache, ErrCacheMiss when absent
	FetchAggregate(ctx context.Context, key string) ([]byte, error)

	// DeleteAggregates drops cached aggregates; absent keys are not an error
	DeleteAggregates(ctx context.Context, keys ...string) error

	// Ping checks cache connection
	Ping(ctx context.Context) error

	// Close gracefully closes any connections
	Close()
}

const (
	// MaxLatest bounds the per-unit latest-readings list.
	MaxLatest = 500

	latestTTL = 24 * time.Hour
)
