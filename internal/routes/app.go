package routes

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/ntentasd/acuamon-api/internal/aggregate"
	"github.com/ntentasd/acuamon-api/internal/auth"
	"github.com/ntentasd/acuamon-api/internal/cache"
	"github.com/ntentasd/acuamon-api/internal/ingest"
	"github.com/ntentasd/acuamon-api/internal/period"
	"github.com/ntentasd/acuamon-api/internal/report"
	"github.com/ntentasd/acuamon-api/internal/rollup"
	"github.com/ntentasd/acuamon-api/pkg/types"
	"github.com/rs/zerolog"
)

type UnitStore interface {
	ListUnits(ctx context.Context) ([]types.Unit, error)
	UnitsByID(ctx context.Context) (map[uuid.UUID]types.Unit, error)
	GetUnitByID(ctx context.Context, unitID uuid.UUID) (*types.Unit, error)
	GetUnitByName(ctx context.Context, name string) (*types.Unit, error)
	CreateUnit(ctx context.Context, name, description string) (*types.Unit, error)
	UpdateUnit(ctx context.Context, unitID uuid.UUID, name, description string) (*types.Unit, error)
	DeleteUnit(ctx context.Context, unitID uuid.UUID) error
}

type SensorStore interface {
	GetSensorsByUnitID(ctx context.Context, unitID uuid.UUID) ([]types.Sensor, error)
	RegisterSensor(ctx context.Context, unitID uuid.UUID, name string, sensorType types.SensorType) (*types.Sensor, error)
	StoreSensorCredentials(ctx context.Context, creds types.SensorCredentials) error
	GetSensorCredentials(ctx context.Context, sensorID uuid.UUID) (*types.SensorCredentials, error)
}

type ReadingStore interface {
	GetReadings(ctx context.Context, rng period.Range, unitID *uuid.UUID) ([]types.Reading, error)
	LatestReadings(ctx context.Context, unitID uuid.UUID, n int) ([]types.Reading, error)
	ListAggregates(ctx context.Context, unitID uuid.UUID, kind string, limit int) ([]types.Aggregate, error)
}

type UserStore interface {
	GetUserByUsername(ctx context.Context, username string) (*types.User, error)
	ListUsers(ctx context.Context) ([]types.User, error)
	CreateUser(ctx context.Context, username, passwordHash string, role types.Role) (*types.User, error)
}

type Store interface {
	UnitStore
	SensorStore
	ReadingStore
	UserStore
	Ping(ctx context.Context) error
}

type Ingester interface {
	Ingest(ctx context.Context, source string, p ingest.Payload) (types.Reading, error)
}

// RollupTrigger runs the rollup of a kind for the period preceding at.
type RollupTrigger interface {
	Trigger(ctx context.Context, kind period.Kind, at time.Time) (rollup.Result, error)
}

// Provisioner registers sensor logins with the MQTT broker.
type Provisioner interface {
	ProvisionSensor(ctx context.Context, creds types.SensorCredentials) error
}

type Deps struct {
	Store       Store
	Cache       cache.Cache
	Ingester    Ingester
	Resolver    *period.Resolver
	Aggregator  *aggregate.Aggregator
	Renderer    *report.Renderer
	Rollup      RollupTrigger
	Provisioner Provisioner
	Issuer      *auth.Issuer
	ReportTTL   time.Duration
	Logger      zerolog.Logger
}

type App struct {
	store       Store
	cache       cache.Cache
	ingest      Ingester
	resolver    *period.Resolver
	agg         *aggregate.Aggregator
	renderer    *report.Renderer
	rollup      RollupTrigger
	provisioner Provisioner
	issuer      *auth.Issuer
	reportTTL   time.Duration
	logger      zerolog.Logger
	now         func() time.Time
}

func New(d Deps) *App {
	if d.Cache == nil {
		d.Cache = cache.Noop{}
	}
	if d.Resolver == nil {
		d.Resolver = period.NewResolver(time.UTC)
	}
	if d.Aggregator == nil {
		d.Aggregator = aggregate.New(d.Resolver.Location(), d.Logger)
	}
	if d.Renderer == nil {
		d.Renderer = report.NewRenderer(report.DefaultChunkSize, d.Logger)
	}
	return &App{
		store:       d.Store,
		cache:       d.Cache,
		ingest:      d.Ingester,
		resolver:    d.Resolver,
		agg:         d.Aggregator,
		renderer:    d.Renderer,
		rollup:      d.Rollup,
		provisioner: d.Provisioner,
		issuer:      d.Issuer,
		reportTTL:   d.ReportTTL,
		logger:      d.Logger.With().Str("component", "http").Logger(),
		now:         time.Now,
	}
}
