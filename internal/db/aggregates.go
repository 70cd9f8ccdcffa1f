package db

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"
	"github.com/ntentasd/acuamon-api/pkg/types"
)

// InsertAggregate stores an aggregate unless one already exists for the same
// (unit, kind, start, end). created is false when the row was already there.
func (db *DB) InsertAggregate(ctx context.Context, a types.Aggregate) (created bool, err error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	start := time.Now()
	defer observeWrite("insert_aggregate", start)

	vals := valueArgs(a.Means)
	args := append([]any{toCQL(a.UnitID), a.Kind, a.PeriodStart, a.PeriodEnd, a.UnitName}, vals...)
	args = append(args, a.Samples, toCQL(a.RunID), a.CreatedAt)

	existing := map[string]any{}
	applied, err := db.Data.Query(fmt.Sprintf(`
INSERT INTO aggregates (unit_id, kind, period_start, period_end, unit_name, %s, samples, run_id, created_at)
VALUES (?, ?, ?, ?, ?, %s, ?, ?, ?)
IF NOT EXISTS
`, quantityColumns, placeholders(len(vals))), args...).WithContext(ctx).MapScanCAS(existing)
	if err != nil {
		return false, err
	}

	return applied, nil
}

// ListAggregates returns the aggregates of a unit and kind, newest period
// first. limit <= 0 means no limit.
func (db *DB) ListAggregates(ctx context.Context, unitID uuid.UUID, kind string, limit int) ([]types.Aggregate, error) {
	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()

	start := time.Now()
	defer observeRead("list_aggregates", start)

	stmt := fmt.Sprintf(`
SELECT period_start, period_end, unit_name, %s, samples, run_id, created_at
FROM aggregates
WHERE unit_id = ? AND kind = ?
`, quantityColumns)
	args := []any{toCQL(unitID), kind}
	if limit > 0 {
		stmt += "LIMIT ?\n"
		args = append(args, limit)
	}

	var (
		periodStart, periodEnd, createdAt time.Time
		unitName                          string
		samples                           int
		runID                             gocql.UUID
	)
	quantities, values := valueDests()
	dests := append([]any{&periodStart, &periodEnd, &unitName}, quantities...)
	dests = append(dests, &samples, &runID, &createdAt)

	iter := db.Data.Query(stmt, args...).WithContext(ctx).Iter()
	var results []types.Aggregate
	for iter.Scan(dests...) {
		results = append(results, types.Aggregate{
			UnitID:      unitID,
			UnitName:    unitName,
			Kind:        kind,
			PeriodStart: periodStart,
			PeriodEnd:   periodEnd,
			Means:       values(),
			Samples:     samples,
			RunID:       uuid.UUID(runID),
			CreatedAt:   createdAt,
		})
	}
	if err := iter.Close(); err != nil {
		return nil, err
	}

	return results, nil
}
