// Package rollup computes and persists per-unit means over the last complete
// period of each kind.
package rollup

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/ntentasd/acuamon-api/internal/aggregate"
	"github.com/ntentasd/acuamon-api/internal/metrics"
	"github.com/ntentasd/acuamon-api/internal/period"
	"github.com/ntentasd/acuamon-api/pkg/types"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// RunContext carries everything specific to one firing of the job.
type RunContext struct {
	Kind        period.Kind
	TriggeredAt time.Time
	RunID       uuid.UUID
}

func NewRunContext(kind period.Kind, triggeredAt time.Time) RunContext {
	return RunContext{Kind: kind, TriggeredAt: triggeredAt, RunID: uuid.New()}
}

type Store interface {
	UnitsByID(ctx context.Context) (map[uuid.UUID]types.Unit, error)
	GetReadings(ctx context.Context, rng period.Range, unitID *uuid.UUID) ([]types.Reading, error)
	InsertAggregate(ctx context.Context, a types.Aggregate) (bool, error)
}

// Publisher announces freshly created aggregates.
type Publisher interface {
	PublishAggregate(ctx context.Context, a types.Aggregate) error
}

// Result summarises a run.
type Result struct {
	RunID    uuid.UUID    `json:"ejecucion_id"`
	Kind     string       `json:"periodo"`
	Window   period.Range `json:"ventana"`
	Created  int          `json:"creados"`
	Existing int          `json:"existentes"`
	Skipped  int          `json:"sin_datos"`
	Failed   int          `json:"fallidos"`
}

type Job struct {
	store     Store
	publisher Publisher
	resolver  *period.Resolver
	logger    zerolog.Logger
	now       func() time.Time
}

func NewJob(store Store, publisher Publisher, resolver *period.Resolver, logger zerolog.Logger) *Job {
	return &Job{
		store:     store,
		publisher: publisher,
		resolver:  resolver,
		logger:    logger.With().Str("component", "rollup").Logger(),
		now:       time.Now,
	}
}

// Run aggregates the period preceding rc.TriggeredAt. It fails only when the
// units or readings cannot be fetched; a failing unit is logged and counted
// without stopping the others.
func (j *Job) Run(ctx context.Context, rc RunContext) (Result, error) {
	ctx, span := otel.Tracer("acuamon-rollup").Start(ctx, "rollup.Run")
	defer span.End()

	window := j.resolver.Previous(rc.Kind, rc.TriggeredAt)
	log := j.logger.With().
		Str("run_id", rc.RunID.String()).
		Str("kind", rc.Kind.String()).
		Time("window_start", window.Start).
		Time("window_end", window.End).
		Logger()
	span.SetAttributes(
		attribute.String("rollup.run_id", rc.RunID.String()),
		attribute.String("rollup.kind", rc.Kind.String()),
	)

	res := Result{RunID: rc.RunID, Kind: rc.Kind.String(), Window: window}

	units, err := j.store.UnitsByID(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return res, fmt.Errorf("list units: %w", err)
	}
	readings, err := j.store.GetReadings(ctx, window, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return res, fmt.Errorf("fetch readings: %w", err)
	}

	byUnit := make(map[uuid.UUID][]types.Reading, len(units))
	for _, r := range readings {
		if r.UnitID == nil {
			log.Warn().Str("reading_id", r.ReadingID.String()).Msg("reading without unit, skipping")
			continue
		}
		if _, ok := units[*r.UnitID]; !ok {
			log.Warn().Str("reading_id", r.ReadingID.String()).Str("unit_id", r.UnitID.String()).Msg("reading references unknown unit, skipping")
			continue
		}
		byUnit[*r.UnitID] = append(byUnit[*r.UnitID], r)
	}

	ordered := make([]types.Unit, 0, len(units))
	for _, u := range units {
		ordered = append(ordered, u)
	}
	sort.Slice(ordered, func(a, b int) bool {
		return aggregate.LessUnitName(ordered[a].Name, ordered[b].Name)
	})

	for _, unit := range ordered {
		unitReadings := byUnit[unit.UnitID]
		if len(unitReadings) == 0 {
			res.Skipped++
			continue
		}
		created, err := j.processUnit(ctx, rc, window, unit, unitReadings)
		switch {
		case err != nil:
			res.Failed++
			metrics.AggregatesTotal.WithLabelValues(res.Kind, "failed").Inc()
			log.Error().Err(err).Str("unit_id", unit.UnitID.String()).Str("unit", unit.Name).Msg("unit rollup failed")
		case created:
			res.Created++
			metrics.AggregatesTotal.WithLabelValues(res.Kind, "created").Inc()
		default:
			res.Existing++
			metrics.AggregatesTotal.WithLabelValues(res.Kind, "exists").Inc()
			log.Debug().Str("unit", unit.Name).Msg("aggregate already present, skipping")
		}
	}

	span.SetAttributes(
		attribute.Int("rollup.created", res.Created),
		attribute.Int("rollup.failed", res.Failed),
	)
	span.SetStatus(codes.Ok, "")
	log.Info().
		Int("readings", len(readings)).
		Int("created", res.Created).
		Int("existing", res.Existing).
		Int("skipped", res.Skipped).
		Int("failed", res.Failed).
		Msg("rollup finished")
	return res, nil
}

// processUnit computes and stores one unit's aggregate. A panic is turned
// into an error so the remaining units still run.
func (j *Job) processUnit(ctx context.Context, rc RunContext, window period.Range, unit types.Unit, readings []types.Reading) (created bool, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()

	if err := ctx.Err(); err != nil {
		return false, err
	}

	means, samples := aggregate.Mean(readings)
	agg := types.Aggregate{
		UnitID:      unit.UnitID,
		UnitName:    unit.Name,
		Kind:        rc.Kind.String(),
		PeriodStart: window.Start,
		PeriodEnd:   window.End,
		Means:       means,
		Samples:     samples,
		RunID:       rc.RunID,
		CreatedAt:   j.now().UTC(),
	}

	created, err = j.store.InsertAggregate(ctx, agg)
	if err != nil {
		return false, fmt.Errorf("insert aggregate: %w", err)
	}
	if created && j.publisher != nil {
		if err := j.publisher.PublishAggregate(ctx, agg); err != nil {
			j.logger.Warn().Err(err).Str("run_id", rc.RunID.String()).Str("unit", unit.Name).Msg("aggregate event not published")
		}
	}
	return created, nil
}
