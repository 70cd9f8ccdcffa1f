// Package db is the ScyllaDB store: metadata (units, sensors, users) in one
// keyspace, time series (readings, aggregates) in another.
package db

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"
	"github.com/ntentasd/acuamon-api/internal/metrics"
	"gopkg.in/inf.v0"
)

var (
	ErrUnitNotFound   = errors.New("unit not found")
	ErrSensorNotFound = errors.New("sensor not found")
	ErrUserNotFound   = errors.New("user not found")
)

type DB struct {
	Meta *gocql.Session // acuamon_meta
	Data *gocql.Session // acuamon_data

	// loc decides the local calendar day a reading is partitioned under.
	loc *time.Location
	now func() time.Time
}

func New(metaSess, dataSess *gocql.Session, loc *time.Location) *DB {
	if loc == nil {
		loc = time.UTC
	}
	return &DB{
		Meta: metaSess,
		Data: dataSess,
		loc:  loc,
		now:  time.Now,
	}
}

// NewCluster returns the cluster config shared by both sessions.
func NewCluster(nodes []string, keyspace string) *gocql.ClusterConfig {
	cluster := gocql.NewCluster(nodes...)
	cluster.Keyspace = keyspace
	cluster.Consistency = gocql.Quorum
	cluster.SerialConsistency = gocql.LocalSerial
	cluster.Timeout = 2 * time.Second
	// Single-node dev clusters advertise addresses unreachable from the host.
	cluster.DisableInitialHostLookup = true
	cluster.DisableShardAwarePort = true
	return cluster
}

// Ping checks both sessions can reach the cluster.
func (db *DB) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	for _, sess := range []*gocql.Session{db.Meta, db.Data} {
		if err := sess.Query(`SELECT now() FROM system.local`).WithContext(ctx).Exec(); err != nil {
			return err
		}
	}
	return nil
}

func (db *DB) Close() {
	if db.Meta != nil {
		db.Meta.Close()
	}
	if db.Data != nil {
		db.Data.Close()
	}
}

func observeRead(query string, start time.Time) {
	metrics.DbQueryLatencySeconds.WithLabelValues(metrics.OpRead, query).Observe(time.Since(start).Seconds())
}

func observeWrite(query string, start time.Time) {
	metrics.DbQueryLatencySeconds.WithLabelValues(metrics.OpWrite, query).Observe(time.Since(start).Seconds())
}

func toCQL(id uuid.UUID) gocql.UUID {
	return gocql.UUID(id)
}

// nullableUUID marshals nil as a CQL null.
func nullableUUID(id *uuid.UUID) any {
	if id == nil {
		return nil
	}
	return gocql.UUID(*id)
}

// fromNullable maps the zero UUID gocql scans for a null column back to nil.
func fromNullable(id gocql.UUID) *uuid.UUID {
	if id == (gocql.UUID{}) {
		return nil
	}
	u := uuid.UUID(id)
	return &u
}

func decFromFloat(f *float64) *inf.Dec {
	if f == nil {
		return nil
	}
	d, ok := new(inf.Dec).SetString(strconv.FormatFloat(*f, 'f', -1, 64))
	if !ok {
		return nil
	}
	return d
}

func floatFromDec(d *inf.Dec) *float64 {
	if d == nil {
		return nil
	}
	f, err := strconv.ParseFloat(d.String(), 64)
	if err != nil {
		return nil
	}
	return &f
}
