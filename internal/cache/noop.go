package cache

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/ntentasd/acuamon-api/pkg/types"
)

var _ Cache = Noop{}

// Noop is the cache used when CACHE_DRIVER=none: writes are dropped and
// every read misses.
type Noop struct{}

func (Noop) StoreReading(context.Context, types.Reading) error { return nil }

func (Noop) FetchLast(context.Context, uuid.UUID, int) ([]types.Reading, error) {
	return nil, ErrCacheMiss
}

func (Noop) StoreAggregate(context.Context, string, any, time.Duration) error { return nil }

func (Noop) FetchAggregate(context.Context, string) ([]byte, error) { return nil, ErrCacheMiss }

func (Noop) DeleteAggregates(context.Context, ...string) error { return nil }

func (Noop) Ping(context.Context) error { return nil }

func (Noop) Close() {}
