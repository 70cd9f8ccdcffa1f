package db

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"
	"github.com/ntentasd/acuamon-api/internal/period"
	"github.com/ntentasd/acuamon-api/pkg/types"
	"gopkg.in/inf.v0"
)

// quantityColumns lists the decimal columns in types.Quantities order.
var quantityColumns = func() string {
	cols := make([]string, 0, len(types.Quantities))
	for _, q := range types.Quantities {
		cols = append(cols, q.String())
	}
	return strings.Join(cols, ", ")
}()

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func valueArgs(v types.Values) []any {
	args := make([]any, 0, len(types.Quantities))
	for _, q := range types.Quantities {
		args = append(args, decFromFloat(v.Get(q)))
	}
	return args
}

// valueDests returns scan destinations for the quantity columns and a func
// that copies them into a Values.
func valueDests() ([]any, func() types.Values) {
	decs := make([]*inf.Dec, len(types.Quantities))
	dests := make([]any, len(decs))
	for i := range decs {
		dests[i] = &decs[i]
	}
	return dests, func() types.Values {
		var v types.Values
		for i, q := range types.Quantities {
			v.Set(q, floatFromDec(decs[i]))
			decs[i] = nil
		}
		return v
	}
}

// bucketDate is the CQL date of the local civil day t falls on.
func (db *DB) bucketDate(t time.Time) time.Time {
	y, m, d := t.In(db.loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// InsertReading writes a reading to the day partition and to its unit's
// latest-first table.
func (db *DB) InsertReading(ctx context.Context, r types.Reading) error {
	if r.UnitID == nil {
		return fmt.Errorf("reading %s has no unit", r.ReadingID)
	}
	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()

	start := time.Now()
	defer observeWrite("insert_reading", start)

	vals := valueArgs(r.Values)
	n := len(vals)

	byDay := append([]any{db.bucketDate(r.Timestamp), r.Timestamp, toCQL(r.ReadingID), toCQL(*r.UnitID)}, vals...)
	byDay = append(byDay, r.UpdatedAt)

	byUnit := append([]any{toCQL(*r.UnitID), r.Timestamp, toCQL(r.ReadingID)}, vals...)
	byUnit = append(byUnit, r.UpdatedAt)

	b := db.Data.NewBatch(gocql.LoggedBatch).WithContext(ctx)
	b.Query(fmt.Sprintf(`
INSERT INTO readings (bucket_date, timestamp, reading_id, unit_id, %s, updated_at)
VALUES (?, ?, ?, ?, %s, ?)
`, quantityColumns, placeholders(n)), byDay...)
	b.Query(fmt.Sprintf(`
INSERT INTO readings_by_unit (unit_id, timestamp, reading_id, %s, updated_at)
VALUES (?, ?, ?, %s, ?)
`, quantityColumns, placeholders(n)), byUnit...)

	return db.Data.ExecuteBatch(b)
}

// GetReadings returns the readings inside rng in ascending timestamp order,
// optionally restricted to one unit. Each local day is its own partition.
func (db *DB) GetReadings(ctx context.Context, rng period.Range, unitID *uuid.UUID) ([]types.Reading, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	start := time.Now()
	defer observeRead("readings_range", start)

	query := fmt.Sprintf(`
SELECT timestamp, reading_id, unit_id, %s, updated_at
FROM readings
WHERE bucket_date = ? AND timestamp >= ? AND timestamp <= ?
`, quantityColumns)

	readings := make([]types.Reading, 0, 256)
	first, last := db.bucketDate(rng.Start), db.bucketDate(rng.End)
	for day := first; !day.After(last); day = day.AddDate(0, 0, 1) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		iter := db.Data.Query(query, day, rng.Start, rng.End).WithContext(ctx).PageSize(1000).Iter()

		var (
			ts, updatedAt time.Time
			readingID     gocql.UUID
			uid           gocql.UUID
		)
		quantities, values := valueDests()
		dests := append([]any{&ts, &readingID, &uid}, quantities...)
		dests = append(dests, &updatedAt)

		for iter.Scan(dests...) {
			r := types.Reading{
				ReadingID: uuid.UUID(readingID),
				UnitID:    fromNullable(uid),
				Timestamp: ts,
				Values:    values(),
				UpdatedAt: updatedAt,
			}
			if unitID != nil && (r.UnitID == nil || *r.UnitID != *unitID) {
				continue
			}
			readings = append(readings, r)
		}
		if err := iter.Close(); err != nil {
			return nil, fmt.Errorf("failed to query bucket %s: %w", day.Format("2006-01-02"), err)
		}
	}

	return readings, nil
}

// LatestReadings returns the n newest readings of a unit, newest first.
func (db *DB) LatestReadings(ctx context.Context, unitID uuid.UUID, n int) ([]types.Reading, error) {
	ctx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()

	start := time.Now()
	defer observeRead("latest_readings", start)

	iter := db.Data.Query(fmt.Sprintf(`
SELECT timestamp, reading_id, %s, updated_at
FROM readings_by_unit
WHERE unit_id = ?
LIMIT ?
`, quantityColumns), toCQL(unitID), n).WithContext(ctx).Iter()

	var (
		ts, updatedAt time.Time
		readingID     gocql.UUID
	)
	quantities, values := valueDests()
	dests := append([]any{&ts, &readingID}, quantities...)
	dests = append(dests, &updatedAt)

	var results []types.Reading
	for iter.Scan(dests...) {
		uid := unitID
		results = append(results, types.Reading{
			ReadingID: uuid.UUID(readingID),
			UnitID:    &uid,
			Timestamp: ts,
			Values:    values(),
			UpdatedAt: updatedAt,
		})
	}
	if err := iter.Close(); err != nil {
		return nil, err
	}

	return results, nil
}
