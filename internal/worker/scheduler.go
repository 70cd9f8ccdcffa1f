package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ntentasd/acuamon-api/internal/metrics"
	"github.com/ntentasd/acuamon-api/internal/period"
	"github.com/ntentasd/acuamon-api/internal/rollup"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

var ErrRunInProgress = errors.New("a rollup of this kind is already running")

// Schedules fire at local midnight at the start of each period.
var Schedules = map[period.Kind]string{
	period.Daily:   "0 0 * * *",
	period.Weekly:  "0 0 * * 1",
	period.Monthly: "0 0 1 * *",
	period.Yearly:  "0 0 1 1 *",
}

type Runner interface {
	Run(ctx context.Context, rc rollup.RunContext) (rollup.Result, error)
}

// Scheduler fires the rollup runner on the four period schedules in a fixed
// zone and keeps runs of the same kind from overlapping.
type Scheduler struct {
	runner Runner
	loc    *time.Location
	logger zerolog.Logger
	cron   *cron.Cron

	locks map[period.Kind]*sync.Mutex

	ctx       context.Context
	cancelCtx context.CancelFunc
	wg        sync.WaitGroup
}

func NewScheduler(runner Runner, loc *time.Location, logger zerolog.Logger) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	locks := make(map[period.Kind]*sync.Mutex, len(period.Kinds))
	for _, k := range period.Kinds {
		locks[k] = &sync.Mutex{}
	}
	return &Scheduler{
		runner: runner,
		loc:    loc,
		logger: logger.With().Str("component", "scheduler").Logger(),
		locks:  locks,
		ctx:    context.Background(),
	}
}

func (s *Scheduler) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	s.ctx = ctx
	s.cancelCtx = cancel

	s.cron = cron.New(cron.WithLocation(s.loc))
	for _, kind := range period.Kinds {
		if _, err := s.cron.AddFunc(Schedules[kind], func() {
			s.fire(kind, time.Now().In(s.loc))
		}); err != nil {
			cancel()
			return fmt.Errorf("schedule %s: %w", kind, err)
		}
	}
	s.cron.Start()

	s.logger.Info().Str("zone", s.loc.String()).Msg("rollup scheduler started")
	return nil
}

func (s *Scheduler) fire(kind period.Kind, at time.Time) {
	s.wg.Add(1)
	defer s.wg.Done()
	if _, err := s.Trigger(s.ctx, kind, at); err != nil {
		s.logger.Error().Err(err).Str("kind", kind.String()).Msg("scheduled rollup failed")
	}
}

// Trigger runs the rollup of kind for the period preceding at, unless one is
// already running.
func (s *Scheduler) Trigger(ctx context.Context, kind period.Kind, at time.Time) (rollup.Result, error) {
	mu, ok := s.locks[kind]
	if !ok {
		return rollup.Result{}, period.ErrInvalidKind
	}
	if !mu.TryLock() {
		metrics.RollupRunsTotal.WithLabelValues(kind.String(), "skipped").Inc()
		s.logger.Warn().Str("kind", kind.String()).Msg("previous run still in progress, skipping")
		return rollup.Result{}, ErrRunInProgress
	}
	defer mu.Unlock()

	rc := rollup.NewRunContext(kind, at)
	start := time.Now()
	res, err := s.runner.Run(ctx, rc)
	metrics.RollupDurationSeconds.WithLabelValues(kind.String()).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.RollupRunsTotal.WithLabelValues(kind.String(), "failed").Inc()
		return res, err
	}
	metrics.RollupRunsTotal.WithLabelValues(kind.String(), "ok").Inc()
	return res, nil
}

// Stop halts the schedules, cancels running jobs and waits for them.
func (s *Scheduler) Stop() {
	if s.cancelCtx != nil {
		s.cancelCtx()
	}
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
	s.wg.Wait()
	s.logger.Info().Msg("rollup scheduler stopped")
}
