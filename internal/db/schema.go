package db

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"
)

func metaSchema(ks string) []string {
	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.units (
	unit_id uuid PRIMARY KEY,
	name text,
	description text,
	created_at timestamp,
	updated_at timestamp
)`, ks),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.units_by_name (
	name text PRIMARY KEY,
	unit_id uuid
)`, ks),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.sensors (
	sensor_id uuid PRIMARY KEY,
	unit_id uuid,
	sensor_name text,
	sensor_type int,
	created_at timestamp,
	updated_at timestamp
)`, ks),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS sensors_unit_idx ON %s.sensors (unit_id)`, ks),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.sensor_credentials (
	sensor_id uuid PRIMARY KEY,
	username text,
	password text
)`, ks),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.users (
	username text PRIMARY KEY,
	user_id uuid,
	password_hash text,
	role text,
	created_at timestamp,
	updated_at timestamp
)`, ks),
	}
}

func dataSchema(ks string) []string {
	quantities := `
	ph decimal,
	temperatura_agua decimal,
	temperatura_ambiente decimal,
	humedad decimal,
	luz decimal,
	conductividad decimal,
	co2 decimal,`
	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.readings (
	bucket_date date,
	timestamp timestamp,
	reading_id uuid,
	unit_id uuid,%s
	updated_at timestamp,
	PRIMARY KEY ((bucket_date), timestamp, reading_id)
) WITH CLUSTERING ORDER BY (timestamp ASC, reading_id ASC)`, ks, quantities),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.readings_by_unit (
	unit_id uuid,
	timestamp timestamp,
	reading_id uuid,%s
	updated_at timestamp,
	PRIMARY KEY ((unit_id), timestamp, reading_id)
) WITH CLUSTERING ORDER BY (timestamp DESC, reading_id ASC)`, ks, quantities),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.aggregates (
	unit_id uuid,
	kind text,
	period_start timestamp,
	period_end timestamp,
	unit_name text,%s
	samples int,
	run_id uuid,
	created_at timestamp,
	PRIMARY KEY ((unit_id, kind), period_start, period_end)
) WITH CLUSTERING ORDER BY (period_start DESC, period_end DESC)`, ks, quantities),
	}
}

// keyspaceDDL creates ks with replication copies in every datacenter.
func keyspaceDDL(ks string, replication int) string {
	return fmt.Sprintf(
		`CREATE KEYSPACE IF NOT EXISTS %s WITH replication = {'class': 'NetworkTopologyStrategy', 'replication_factor': %d}`,
		ks, replication,
	)
}

// EnsureSchema creates both keyspaces and their tables when missing. sess
// may be bound to any keyspace; every statement is fully qualified.
func EnsureSchema(ctx context.Context, sess *gocql.Session, metaKS, dataKS string, replication int) error {
	ctx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	stmts := []string{keyspaceDDL(metaKS, replication), keyspaceDDL(dataKS, replication)}
	stmts = append(stmts, metaSchema(metaKS)...)
	stmts = append(stmts, dataSchema(dataKS)...)

	for _, stmt := range stmts {
		if err := sess.Query(stmt).WithContext(ctx).Exec(); err != nil {
			return fmt.Errorf("schema: %w", err)
		}
	}
	return nil
}
