package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/ntentasd/acuamon-api/internal/aggregate"
	"github.com/ntentasd/acuamon-api/internal/auth"
	"github.com/ntentasd/acuamon-api/internal/cache"
	"github.com/ntentasd/acuamon-api/internal/config"
	"github.com/ntentasd/acuamon-api/internal/db"
	"github.com/ntentasd/acuamon-api/internal/emqx"
	"github.com/ntentasd/acuamon-api/internal/ingest"
	"github.com/ntentasd/acuamon-api/internal/kafka"
	"github.com/ntentasd/acuamon-api/internal/logging"
	"github.com/ntentasd/acuamon-api/internal/mqtt"
	"github.com/ntentasd/acuamon-api/internal/period"
	"github.com/ntentasd/acuamon-api/internal/report"
	"github.com/ntentasd/acuamon-api/internal/rollup"
	routes "github.com/ntentasd/acuamon-api/internal/routes"
	"github.com/ntentasd/acuamon-api/internal/tracing"
	"github.com/ntentasd/acuamon-api/internal/worker"
	"github.com/ntentasd/acuamon-api/pkg/types"
	"github.com/rs/zerolog"
)

func main() {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		boot := logging.New(zerolog.InfoLevel, true)
		boot.Fatal().Err(err).Msg("invalid configuration")
	}
	root := logging.New(cfg.LogLevel, cfg.Dev())
	logger := logging.Component(root, "main")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := tracing.InitTracer(ctx, cfg.TempoEndpoint)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to init tracer")
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracer(sctx)
	}()

	store := openStore(ctx, cfg, logger)
	defer store.Close()

	c := openCache(cfg, logger)
	defer c.Close()

	resolver := period.NewResolver(cfg.Location)
	ingester := ingest.NewService(store, c, resolver, root)

	var (
		publisher rollup.Publisher
		consumer  *kafka.Consumer
	)
	if len(cfg.KafkaBrokers) > 0 {
		producer, err := kafka.NewProducer(cfg.KafkaBrokers, cfg.KafkaAggregatesTopic)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to create kafka producer")
		}
		defer producer.Close()
		publisher = producer

		consumer, err = kafka.NewConsumer(cfg.KafkaBrokers, cfg.KafkaGroupID, cfg.KafkaReadingsTopic, ingester, root)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to create kafka consumer")
		}
		defer consumer.Close()
	} else {
		logger.Warn().Msg("KAFKA_BROKERS not set, kafka ingestion and aggregate events disabled")
	}

	job := rollup.NewJob(store, publisher, resolver, root)
	scheduler := worker.NewScheduler(job, cfg.Location, root)
	if cfg.RollupEnabled {
		if err := scheduler.Start(ctx); err != nil {
			logger.Fatal().Err(err).Msg("failed to start rollup scheduler")
		}
	}
	defer scheduler.Stop()

	var wg sync.WaitGroup
	if consumer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			consumer.Run(ctx)
		}()
	}

	if cfg.MQTTBroker != "" {
		sub := mqtt.NewSubscriber(mqtt.Options{
			Broker:   cfg.MQTTBroker,
			Topic:    cfg.MQTTTopic,
			ClientID: cfg.MQTTClientID,
			Username: cfg.MQTTUsername,
			Password: cfg.MQTTPassword,
		}, ingester, root)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := sub.Connect(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error().Err(err).Msg("mqtt connect failed")
			}
		}()
		defer sub.Disconnect()
	} else {
		logger.Warn().Msg("MQTT_BROKER not set, mqtt ingestion disabled")
	}

	var provisioner routes.Provisioner
	if ec := emqx.New(cfg.EmqxURL, cfg.EmqxAPIKey, cfg.EmqxAPISecret); ec != nil {
		provisioner = ec
	}

	secret := cfg.JWTSecret
	if secret == "" {
		secret = strings.ReplaceAll(uuid.NewString()+uuid.NewString(), "-", "")
		logger.Warn().Msg("JWT_SECRET not set, using an ephemeral secret")
	}
	issuer := auth.NewIssuer(secret, cfg.JWTTTL)

	if cfg.AdminUsername != "" {
		bootstrapAdmin(ctx, store, cfg.AdminUsername, cfg.AdminPassword, logger)
	}

	app := routes.New(routes.Deps{
		Store:       store,
		Cache:       c,
		Ingester:    ingester,
		Resolver:    resolver,
		Aggregator:  aggregate.New(cfg.Location, root),
		Renderer:    report.NewRenderer(report.DefaultChunkSize, root),
		Rollup:      scheduler,
		Provisioner: provisioner,
		Issuer:      issuer,
		ReportTTL:   cfg.ReportCacheTTL,
		Logger:      root,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           routes.NewMux(app),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      2 * time.Minute,
	}

	go func() {
		logger.Info().Str("addr", cfg.HTTPAddr).Str("zone", cfg.Location.String()).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down")

	sctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		logger.Error().Err(err).Msg("http shutdown")
	}
	wg.Wait()
}

func openStore(ctx context.Context, cfg config.Config, logger zerolog.Logger) *db.DB {
	bootstrap, err := db.NewCluster(cfg.ScyllaNodes, "").CreateSession()
	if err != nil {
		logger.Fatal().Err(err).Msg("unable to connect to scylla")
	}
	err = db.EnsureSchema(ctx, bootstrap, cfg.ScyllaMetaKeyspace, cfg.ScyllaDataKeyspace, cfg.ScyllaReplication)
	bootstrap.Close()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to ensure schema")
	}

	metaSess, err := db.NewCluster(cfg.ScyllaNodes, cfg.ScyllaMetaKeyspace).CreateSession()
	if err != nil {
		logger.Fatal().Err(err).Str("keyspace", cfg.ScyllaMetaKeyspace).Msg("unable to connect")
	}
	dataSess, err := db.NewCluster(cfg.ScyllaNodes, cfg.ScyllaDataKeyspace).CreateSession()
	if err != nil {
		logger.Fatal().Err(err).Str("keyspace", cfg.ScyllaDataKeyspace).Msg("unable to connect")
	}
	return db.New(metaSess, dataSess, cfg.Location)
}

func openCache(cfg config.Config, logger zerolog.Logger) cache.Cache {
	switch cfg.CacheDriver {
	case config.CacheValkey:
		addrs, err := cache.ResolveValkeyAddrs(cfg.ValkeyNodes, cfg.ValkeyService)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to resolve valkey nodes")
		}
		logger.Info().Strs("nodes", addrs).Msg("using valkey cache")
		return cache.NewValkey(addrs)
	case config.CacheMemcached:
		logger.Info().Str("addr", cfg.MemcachedAddr).Msg("using memcached cache")
		return cache.NewMemcached(cfg.MemcachedAddr)
	default:
		logger.Warn().Msg("cache disabled")
		return cache.Noop{}
	}
}

func bootstrapAdmin(ctx context.Context, store *db.DB, username, password string, logger zerolog.Logger) {
	hash, err := auth.HashPassword(password)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to hash admin password")
	}
	_, err = store.CreateUser(ctx, username, hash, types.RoleAdmin)
	switch {
	case err == nil:
		logger.Info().Str("username", username).Msg("admin user created")
	case errors.Is(err, &db.UserAlreadyExistsError{}):
		logger.Debug().Str("username", username).Msg("admin user already exists")
	default:
		logger.Fatal().Err(err).Msg("failed to create admin user")
	}
}
