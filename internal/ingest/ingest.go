// Package ingest validates incoming readings and stores them, whatever
// transport they arrive on.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ntentasd/acuamon-api/internal/cache"
	"github.com/ntentasd/acuamon-api/internal/db"
	"github.com/ntentasd/acuamon-api/internal/metrics"
	"github.com/ntentasd/acuamon-api/internal/period"
	"github.com/ntentasd/acuamon-api/pkg/types"
	"github.com/rs/zerolog"
)

const (
	SourceHTTP  = "http"
	SourceMQTT  = "mqtt"
	SourceKafka = "kafka"
)

// maxClockSkew is how far in the future a reading timestamp may be.
const maxClockSkew = 5 * time.Minute

var ErrUnknownUnit = errors.New("unknown unit")

// ValidationError lists every rejected field of a payload.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "invalid reading: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Is(target error) bool {
	_, ok := target.(*ValidationError)
	return ok
}

// Payload is the wire shape of a reading on every transport. Unit is an id
// or a unit name.
type Payload struct {
	Unit      string     `json:"estanque"`
	UnitID    string     `json:"estanque_id,omitempty"`
	Timestamp *time.Time `json:"timestamp"`
	types.Values
}

type bound struct {
	min, max float64
}

var bounds = map[types.Quantity]bound{
	types.QuantityPH:       {0, 14},
	types.QuantityHumidity: {0, 100},
}

// Validate checks p without touching any store.
func (p Payload) Validate(now time.Time) error {
	fields := map[string]string{}
	if strings.TrimSpace(p.Unit) == "" && strings.TrimSpace(p.UnitID) == "" {
		fields["estanque"] = "requerido"
	}
	switch {
	case p.Timestamp == nil || p.Timestamp.IsZero():
		fields["timestamp"] = "requerido"
	case p.Timestamp.After(now.Add(maxClockSkew)):
		fields["timestamp"] = "en el futuro"
	}
	if p.Values.Empty() {
		fields["valores"] = "se requiere al menos una magnitud"
	}
	for _, q := range types.Quantities {
		v := p.Values.Get(q)
		if v == nil {
			continue
		}
		if math.IsNaN(*v) || math.IsInf(*v, 0) {
			fields[q.String()] = "no es un número finito"
			continue
		}
		if b, ok := bounds[q]; ok && (*v < b.min || *v > b.max) {
			fields[q.String()] = fmt.Sprintf("fuera de rango [%g, %g]", b.min, b.max)
		}
	}
	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

type UnitStore interface {
	GetUnitByID(ctx context.Context, unitID uuid.UUID) (*types.Unit, error)
	GetUnitByName(ctx context.Context, name string) (*types.Unit, error)
}

type ReadingStore interface {
	InsertReading(ctx context.Context, r types.Reading) error
}

type Store interface {
	UnitStore
	ReadingStore
}

type Service struct {
	store    Store
	cache    cache.Cache
	resolver *period.Resolver
	logger   zerolog.Logger
	now      func() time.Time
}

// NewService builds the ingest service. With a nil resolver cached reports
// are left alone when late readings arrive.
func NewService(store Store, c cache.Cache, resolver *period.Resolver, logger zerolog.Logger) *Service {
	if c == nil {
		c = cache.Noop{}
	}
	return &Service{
		store:    store,
		cache:    c,
		resolver: resolver,
		logger:   logger.With().Str("component", "ingest").Logger(),
		now:      time.Now,
	}
}

// resolveUnit accepts a unit id or a unique unit name.
func (s *Service) resolveUnit(ctx context.Context, p Payload) (*types.Unit, error) {
	ref := strings.TrimSpace(p.UnitID)
	if ref == "" {
		ref = strings.TrimSpace(p.Unit)
	}
	var (
		unit *types.Unit
		err  error
	)
	if id, perr := uuid.Parse(ref); perr == nil {
		unit, err = s.store.GetUnitByID(ctx, id)
	} else {
		unit, err = s.store.GetUnitByName(ctx, ref)
	}
	switch {
	case errors.Is(err, db.ErrUnitNotFound):
		return nil, fmt.Errorf("%w %q", ErrUnknownUnit, ref)
	case err != nil:
		return nil, fmt.Errorf("resolve unit %q: %w", ref, err)
	}
	return unit, nil
}

// Permanent reports whether err rejects the reading itself, so retrying the
// same payload cannot succeed.
func Permanent(err error) bool {
	return errors.Is(err, &ValidationError{}) || errors.Is(err, ErrUnknownUnit)
}

// Ingest validates, stores and caches one reading.
func (s *Service) Ingest(ctx context.Context, source string, p Payload) (types.Reading, error) {
	r, err := s.ingest(ctx, p)
	result := "ok"
	if err != nil {
		result = "failed"
		if Permanent(err) {
			result = "rejected"
		}
		s.logger.Warn().Err(err).Str("source", source).Msg("reading not ingested")
	}
	metrics.ReadingsIngestedTotal.WithLabelValues(source, result).Inc()
	return r, err
}

func (s *Service) ingest(ctx context.Context, p Payload) (types.Reading, error) {
	now := s.now()
	if err := p.Validate(now); err != nil {
		return types.Reading{}, err
	}
	unit, err := s.resolveUnit(ctx, p)
	if err != nil {
		return types.Reading{}, err
	}

	unitID := unit.UnitID
	r := types.WithUpdatedTimestamp(types.Reading{
		ReadingID: uuid.New(),
		UnitID:    &unitID,
		UnitName:  unit.Name,
		Timestamp: p.Timestamp.UTC(),
		Values:    p.Values,
	}, now)

	if err := s.store.InsertReading(ctx, r); err != nil {
		return types.Reading{}, fmt.Errorf("store reading: %w", err)
	}
	if err := s.cache.StoreReading(ctx, r); err != nil {
		// The store already has it; the latest view falls back to the db.
		s.logger.Warn().Err(err).Str("reading_id", r.ReadingID.String()).Msg("cache write failed")
	}
	if keys := s.staleReports(unitID, r.Timestamp, now); len(keys) > 0 {
		if err := s.cache.DeleteAggregates(ctx, keys...); err != nil {
			s.logger.Warn().Err(err).Strs("keys", keys).Msg("cached reports not invalidated")
		}
	}
	return r, nil
}

// staleReports lists the cached report keys a reading at ts changes: every
// already closed period containing it, for its unit and for all units.
func (s *Service) staleReports(unitID uuid.UUID, ts, now time.Time) []string {
	if s.resolver == nil {
		return nil
	}
	var keys []string
	for _, kind := range period.Kinds {
		rng := s.resolver.Containing(kind, ts)
		if !rng.End.Before(now) {
			continue
		}
		date := s.resolver.Format(kind, rng.Start)
		keys = append(keys, cache.ReportKey(kind, date, &unitID), cache.ReportKey(kind, date, nil))
	}
	return keys
}
