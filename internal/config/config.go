// Package config loads the service configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/rs/zerolog"
)

const (
	CacheValkey    = "valkey"
	CacheMemcached = "memcached"
	CacheNone      = "none"
)

type Config struct {
	AppEnv   string
	LogLevel zerolog.Level
	HTTPAddr string

	// Location is the fixed zone every period and bucket is computed in.
	Location *time.Location

	ScyllaNodes        []string
	ScyllaMetaKeyspace string
	ScyllaDataKeyspace string
	ScyllaReplication  int

	CacheDriver   string
	ValkeyNodes   []string
	ValkeyService string
	MemcachedAddr string

	KafkaBrokers         []string
	KafkaReadingsTopic   string
	KafkaAggregatesTopic string
	KafkaGroupID         string

	MQTTBroker   string
	MQTTTopic    string
	MQTTClientID string
	MQTTUsername string
	MQTTPassword string

	EmqxURL       string
	EmqxAPIKey    string
	EmqxAPISecret string

	JWTSecret     string
	JWTTTL        time.Duration
	AdminUsername string
	AdminPassword string

	TempoEndpoint  string
	ReportCacheTTL time.Duration
	RollupEnabled  bool
}

func env(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func list(key string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return nil
	}
	var out []string
	for _, s := range strings.Split(raw, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func duration(key, def string) (time.Duration, error) {
	raw := env(key, def)
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("invalid %s %q: must not be negative", key, raw)
	}
	return d, nil
}

func LoadFromEnv() (Config, error) {
	appEnv := env("APP_ENV", "dev")
	switch appEnv {
	case "dev", "prod":
	default:
		return Config{}, fmt.Errorf("invalid APP_ENV %q (allowed: dev, prod)", appEnv)
	}

	level, err := parseLogLevel(env("LOG_LEVEL", "info"))
	if err != nil {
		return Config{}, err
	}

	tz := env("TIMEZONE", "America/Mexico_City")
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return Config{}, fmt.Errorf("invalid TIMEZONE %q: %w", tz, err)
	}

	cacheDriver := strings.ToLower(env("CACHE_DRIVER", CacheValkey))
	switch cacheDriver {
	case CacheValkey, CacheMemcached, CacheNone:
	default:
		return Config{}, fmt.Errorf("invalid CACHE_DRIVER %q (allowed: valkey, memcached, none)", cacheDriver)
	}

	jwtTTL, err := duration("JWT_TTL", "12h")
	if err != nil {
		return Config{}, err
	}
	if jwtTTL == 0 {
		return Config{}, fmt.Errorf("invalid JWT_TTL: must be positive")
	}
	reportTTL, err := duration("REPORT_CACHE_TTL", "10m")
	if err != nil {
		return Config{}, err
	}

	replication, err := strconv.Atoi(env("SCYLLA_REPLICATION", "1"))
	if err != nil || replication < 1 {
		return Config{}, fmt.Errorf("invalid SCYLLA_REPLICATION %q: must be a positive integer", env("SCYLLA_REPLICATION", ""))
	}

	rollupEnabled := true
	if raw := env("ROLLUP_ENABLED", ""); raw != "" {
		rollupEnabled, err = strconv.ParseBool(raw)
		if err != nil {
			return Config{}, fmt.Errorf("invalid ROLLUP_ENABLED %q: %w", raw, err)
		}
	}

	cfg := Config{
		AppEnv:   appEnv,
		LogLevel: level,
		HTTPAddr: env("HTTP_ADDR", ":8080"),
		Location: loc,

		ScyllaNodes:        list("SCYLLA_NODES"),
		ScyllaMetaKeyspace: env("SCYLLA_META_KEYSPACE", "acuamon_meta"),
		ScyllaDataKeyspace: env("SCYLLA_DATA_KEYSPACE", "acuamon_data"),
		ScyllaReplication:  replication,

		CacheDriver:   cacheDriver,
		ValkeyNodes:   list("VALKEY_NODES"),
		ValkeyService: env("VALKEY_SERVICE", ""),
		MemcachedAddr: env("MEMCACHED_ADDR", ""),

		KafkaBrokers:         list("KAFKA_BROKERS"),
		KafkaReadingsTopic:   env("KAFKA_READINGS_TOPIC", "lecturas"),
		KafkaAggregatesTopic: env("KAFKA_AGGREGATES_TOPIC", "promedios"),
		KafkaGroupID:         env("KAFKA_GROUP_ID", "acuamon-api"),

		MQTTBroker:   env("MQTT_BROKER", ""),
		MQTTTopic:    env("MQTT_TOPIC", "estanques/+/lecturas"),
		MQTTClientID: env("MQTT_CLIENT_ID", "acuamon-api"),
		MQTTUsername: env("MQTT_USERNAME", ""),
		MQTTPassword: env("MQTT_PASSWORD", ""),

		EmqxURL:       env("EMQX_URL", ""),
		EmqxAPIKey:    env("EMQX_API_KEY", ""),
		EmqxAPISecret: env("EMQX_API_SECRET", ""),

		JWTSecret:     env("JWT_SECRET", ""),
		JWTTTL:        jwtTTL,
		AdminUsername: env("ADMIN_USERNAME", ""),
		AdminPassword: env("ADMIN_PASSWORD", ""),

		TempoEndpoint:  env("TEMPO_ENDPOINT", ""),
		ReportCacheTTL: reportTTL,
		RollupEnabled:  rollupEnabled,
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if len(c.ScyllaNodes) == 0 {
		return fmt.Errorf("SCYLLA_NODES is required")
	}
	if c.JWTSecret == "" {
		if c.AppEnv == "prod" {
			return fmt.Errorf("JWT_SECRET is required when APP_ENV=prod")
		}
	} else if len(c.JWTSecret) < 16 {
		return fmt.Errorf("JWT_SECRET must be at least 16 bytes")
	}
	switch c.CacheDriver {
	case CacheValkey:
		if len(c.ValkeyNodes) == 0 && c.ValkeyService == "" {
			return fmt.Errorf("CACHE_DRIVER=valkey requires VALKEY_NODES or VALKEY_SERVICE")
		}
	case CacheMemcached:
		if c.MemcachedAddr == "" {
			return fmt.Errorf("CACHE_DRIVER=memcached requires MEMCACHED_ADDR")
		}
	}
	if (c.AdminUsername == "") != (c.AdminPassword == "") {
		return fmt.Errorf("ADMIN_USERNAME and ADMIN_PASSWORD must be set together")
	}
	return nil
}

// Dev reports whether the service runs in development mode.
func (c Config) Dev() bool {
	return c.AppEnv == "dev"
}

func parseLogLevel(s string) (zerolog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zerolog.DebugLevel, nil
	case "info":
		return zerolog.InfoLevel, nil
	case "warn", "warning":
		return zerolog.WarnLevel, nil
	case "error":
		return zerolog.ErrorLevel, nil
	default:
		return zerolog.InfoLevel, fmt.Errorf("invalid LOG_LEVEL %q (allowed: debug, info, warn, error)", s)
	}
}
