package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
	"github.com/google/uuid"
	"github.com/ntentasd/acuamon-api/internal/metrics"
	"github.com/ntentasd/acuamon-api/pkg/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var _ Cache = (*Memcached)(nil)

const casRetries = 3

type Memcached struct {
	client *memcache.Client
	rec    recorder
}

func NewMemcached(addr string) *Memcached {
	client := memcache.New(addr)
	client.Timeout = 100 * time.Millisecond
	return &Memcached{client: client, rec: recorder(metrics.MemcachedCache)}
}

// run executes fn off the caller's goroutine so ctx can cut it short.
func run(ctx context.Context, fn func() error) error {
	done := make(chan error, 1)
	go func() {
		done <- fn()
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// StoreReading keeps the latest readings of a unit as a JSON list updated
// with compare-and-swap.
func (m *Memcached) StoreReading(ctx context.Context, r types.Reading) error {
	if r.UnitID == nil {
		return fmt.Errorf("reading %s has no unit", r.ReadingID)
	}
	ctx, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
	defer cancel()

	key := ReadingsKey(*r.UnitID)
	start := time.Now()
	for attempt := 0; attempt < casRetries; attempt++ {
		err := run(ctx, func() error {
			item, err := m.client.Get(key)
			if errors.Is(err, memcache.ErrCacheMiss) {
				b, err := json.Marshal([]types.Reading{r})
				if err != nil {
					return err
				}
				return m.client.Add(&memcache.Item{Key: key, Value: b, Expiration: int32(latestTTL.Seconds())})
			}
			if err != nil {
				return err
			}
			var list []types.Reading
			if err := json.Unmarshal(item.Value, &list); err != nil {
				// Corrupt entry, start over.
				list = nil
			}
			item.Value, err = json.Marshal(pushLatest(list, r, MaxLatest))
			if err != nil {
				return err
			}
			item.Expiration = int32(latestTTL.Seconds())
			return m.client.CompareAndSwap(item)
		})
		switch {
		case err == nil:
			m.rec.stored(start)
			return nil
		case errors.Is(err, memcache.ErrCASConflict), errors.Is(err, memcache.ErrNotStored):
			continue
		default:
			return fmt.Errorf("failed to store reading: %w", err)
		}
	}
	return fmt.Errorf("failed to store reading: %w", memcache.ErrCASConflict)
}

// pushLatest inserts r keeping list newest first and at most max long.
func pushLatest(list []types.Reading, r types.Reading, max int) []types.Reading {
	list = append(list, r)
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].Timestamp.After(list[j].Timestamp)
	})
	if len(list) > max {
		list = list[:max]
	}
	return list
}

func (m *Memcached) FetchLast(ctx context.Context, unitID uuid.UUID, n int) ([]types.Reading, error) {
	if n <= 0 {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	var item *memcache.Item
	err := run(ctx, func() error {
		var err error
		item, err = m.client.Get(ReadingsKey(unitID))
		return err
	})
	switch {
	case errors.Is(err, memcache.ErrCacheMiss):
		m.rec.lookup(start, false)
		return nil, ErrCacheMiss
	case err != nil:
		return nil, fmt.Errorf("cache fetch: %w", err)
	}
	m.rec.lookup(start, true)

	var list []types.Reading
	if err := json.Unmarshal(item.Value, &list); err != nil {
		return nil, fmt.Errorf("failed to decode cached readings: %w", err)
	}
	if len(list) > n {
		list = list[:n]
	}
	return list, nil
}

func (m *Memcached) StoreAggregate(ctx context.Context, key string, data any, ttl time.Duration) error {
	ctx, span := otel.Tracer("acuamon-cache").Start(ctx, "cache.StoreAggregate")
	defer span.End()

	span.SetAttributes(
		attribute.String("cache.driver", "memcached"),
		attribute.String("cache.key", key),
		attribute.Int64("cache.ttl", int64(ttl.Seconds())),
	)

	b, err := json.Marshal(data)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to marshal aggregate: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	err = run(ctx, func() error {
		return m.client.Set(&memcache.Item{Key: key, Value: b, Expiration: int32(ttl.Seconds())})
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to store aggregate: %w", err)
	}
	m.rec.stored(start)
	span.SetStatus(codes.Ok, "")

	return nil
}

func (m *Memcached) FetchAggregate(ctx context.Context, key string) ([]byte, error) {
	ctx, span := otel.Tracer("acuamon-cache").Start(ctx, "cache.FetchAggregate")
	defer span.End()

	span.SetAttributes(
		attribute.String("cache.driver", "memcached"),
		attribute.String("cache.key", key),
	)

	ctx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	var val *memcache.Item
	err := run(ctx, func() error {
		var err error
		val, err = m.client.Get(key)
		return err
	})
	switch {
	case errors.Is(err, memcache.ErrCacheMiss):
		m.rec.lookup(start, false)
		span.SetAttributes(attribute.String("cache.result", "miss"))
		span.SetStatus(codes.Ok, "")
		return nil, ErrCacheMiss
	case err != nil:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("cache fetch: %w", err)
	default:
		m.rec.lookup(start, true)
		span.SetAttributes(attribute.String("cache.result", "hit"))
		span.SetStatus(codes.Ok, "")
		return val.Value, nil
	}
}

func (m *Memcached) DeleteAggregates(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	ctx, span := otel.Tracer("acuamon-cache").Start(ctx, "cache.DeleteAggregates")
	defer span.End()

	span.SetAttributes(
		attribute.String("cache.driver", "memcached"),
		attribute.StringSlice("cache.keys", keys),
	)

	ctx, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
	defer cancel()

	err := run(ctx, func() error {
		for _, k := range keys {
			if err := m.client.Delete(k); err != nil && !errors.Is(err, memcache.ErrCacheMiss) {
				return err
			}
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to delete aggregates: %w", err)
	}
	span.SetStatus(codes.Ok, "")
	return nil
}

func (m *Memcached) Ping(ctx context.Context) error {
	return run(ctx, m.client.Ping)
}

func (m *Memcached) Close() {
	m.client.Close()
}
