package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ntentasd/acuamon-api/internal/metrics"
	"github.com/ntentasd/acuamon-api/pkg/types"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var _ Cache = (*Valkey)(nil)

type Valkey struct {
	client *redis.ClusterClient
	rec    recorder
}

func NewValkey(addrs []string) *Valkey {
	opts := &redis.ClusterOptions{
		Addrs:       addrs,
		DialTimeout: 2 * time.Second,
	}
	client := redis.NewClusterClient(opts)
	return &Valkey{client: client, rec: recorder(metrics.ValkeyCache)}
}

func (v *Valkey) StoreReading(ctx context.Context, r types.Reading) error {
	if r.UnitID == nil {
		return fmt.Errorf("reading %s has no unit", r.ReadingID)
	}
	ctx, cancel := context.WithTimeout(
		ctx,
		time.Millisecond*200,
	)
	defer cancel()

	b, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to marshal reading: %w", err)
	}

	key := ReadingsKey(*r.UnitID)
	start := time.Now()
	_, err = v.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		p.ZAdd(ctx, key, redis.Z{
			Score:  float64(r.Timestamp.UnixMilli()),
			Member: b,
		})
		p.ZRemRangeByRank(ctx, key, 0, -(MaxLatest + 1))
		p.Expire(ctx, key, latestTTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to store reading: %w", err)
	}
	v.rec.stored(start)

	return nil
}

func (v *Valkey) FetchLast(ctx context.Context, unitID uuid.UUID, n int) ([]types.Reading, error) {
	if n <= 0 {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(
		ctx,
		time.Millisecond*100,
	)
	defer cancel()

	start := time.Now()
	members, err := v.client.ZRevRange(ctx, ReadingsKey(unitID), 0, int64(n-1)).Result()
	if err != nil {
		return nil, err
	}
	if len(members) == 0 {
		v.rec.lookup(start, false)
		return nil, ErrCacheMiss
	}
	v.rec.lookup(start, true)

	return decodeReadings(members)
}

func decodeReadings(members []string) ([]types.Reading, error) {
	ret := make([]types.Reading, 0, len(members))
	for _, m := range members {
		var r types.Reading
		if err := json.Unmarshal([]byte(m), &r); err != nil {
			return nil, fmt.Errorf("failed to decode cached reading: %w", err)
		}
		ret = append(ret, r)
	}
	return ret, nil
}

func (v *Valkey) StoreAggregate(ctx context.Context, key string, data any, ttl time.Duration) error {
	ctx, span := otel.Tracer("acuamon-cache").Start(ctx, "cache.StoreAggregate")
	defer span.End()

	span.SetAttributes(
		attribute.String("cache.driver", "valkey"),
		attribute.String("cache.key", key),
		attribute.Int64("cache.ttl", int64(ttl.Seconds())),
	)

	ctx, cancel := context.WithTimeout(
		ctx,
		time.Millisecond*200,
	)
	defer cancel()

	b, err := json.Marshal(data)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to marshal aggregate: %w", err)
	}

	start := time.Now()
	if err := v.client.Set(ctx, key, b, ttl).Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to store aggregate: %w", err)
	}
	v.rec.stored(start)
	span.SetStatus(codes.Ok, "")

	return nil
}

func (v *Valkey) FetchAggregate(ctx context.Context, key string) ([]byte, error) {
	ctx, span := otel.Tracer("acuamon-cache").Start(ctx, "cache.FetchAggregate")
	defer span.End()

	span.SetAttributes(
		attribute.String("cache.driver", "valkey"),
		attribute.String("cache.key", key),
	)

	ctx, cancel := context.WithTimeout(
		ctx,
		time.Millisecond*100,
	)
	defer cancel()

	start := time.Now()
	val, err := v.client.Get(ctx, key).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		v.rec.lookup(start, false)
		span.SetAttributes(attribute.String("cache.result", "miss"))
		span.SetStatus(codes.Ok, "")
		return nil, ErrCacheMiss
	case err != nil:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("cache fetch: %w", err)
	default:
		v.rec.lookup(start, true)
		span.SetAttributes(attribute.String("cache.result", "hit"))
		span.SetStatus(codes.Ok, "")
		return val, nil
	}
}

func (v *Valkey) DeleteAggregates(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	ctx, span := otel.Tracer("acuamon-cache").Start(ctx, "cache.DeleteAggregates")
	defer span.End()

	span.SetAttributes(
		attribute.String("cache.driver", "valkey"),
		attribute.StringSlice("cache.keys", keys),
	)

	ctx, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
	defer cancel()

	// One DEL per key: report keys hash to different slots.
	_, err := v.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		for _, k := range keys {
			p.Del(ctx, k)
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

func (v *Valkey) Ping(ctx context.Context) error {
	return v.client.Ping(ctx).Err()
}

func (v *Valkey) Close() {
	v.client.Close()
}
