package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"
	"github.com/ntentasd/acuamon-api/pkg/types"
)

type UnitAlreadyExistsError struct {
	Name string
}

func (e *UnitAlreadyExistsError) Error() string {
	return fmt.Sprintf("unit '%s' already exists", e.Name)
}

func (e *UnitAlreadyExistsError) Is(target error) bool {
	_, ok := target.(*UnitAlreadyExistsError)
	return ok
}

// nameKey normalises a unit name for the uniqueness index.
func nameKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func (db *DB) ListUnits(ctx context.Context) ([]types.Unit, error) {
	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()

	start := time.Now()
	defer observeRead("list_units", start)

	iter := db.Meta.Query(`
SELECT unit_id, name, description, created_at, updated_at
FROM units
`).WithContext(ctx).Iter()

	var results []types.Unit
	var (
		unitID               gocql.UUID
		name, description    string
		createdAt, updatedAt time.Time
	)
	for iter.Scan(&unitID, &name, &description, &createdAt, &updatedAt) {
		results = append(results, types.Unit{
			UnitID:      uuid.UUID(unitID),
			Name:        name,
			Description: description,
			CreatedAt:   createdAt,
			UpdatedAt:   updatedAt,
		})
	}
	if err := iter.Close(); err != nil {
		return nil, err
	}

	return results, nil
}

// UnitsByID indexes every unit by id.
func (db *DB) UnitsByID(ctx context.Context) (map[uuid.UUID]types.Unit, error) {
	units, err := db.ListUnits(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[uuid.UUID]types.Unit, len(units))
	for _, u := range units {
		out[u.UnitID] = u
	}
	return out, nil
}

func (db *DB) GetUnitByID(ctx context.Context, unitID uuid.UUID) (*types.Unit, error) {
	ctx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()

	start := time.Now()
	defer observeRead("get_unit", start)

	var (
		name, description    string
		createdAt, updatedAt time.Time
	)
	err := db.Meta.Query(`
SELECT name, description, created_at, updated_at
FROM units
WHERE unit_id = ?
`, toCQL(unitID)).WithContext(ctx).Scan(&name, &description, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, gocql.ErrNotFound) {
			return nil, ErrUnitNotFound
		}
		return nil, err
	}

	return &types.Unit{
		UnitID:      unitID,
		Name:        name,
		Description: description,
		CreatedAt:   createdAt,
		UpdatedAt:   updatedAt,
	}, nil
}

func (db *DB) GetUnitByName(ctx context.Context, name string) (*types.Unit, error) {
	ctx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()

	var unitID gocql.UUID
	err := db.Meta.Query(`
SELECT unit_id FROM units_by_name
WHERE name = ?
`, nameKey(name)).WithContext(ctx).Scan(&unitID)
	if err != nil {
		if errors.Is(err, gocql.ErrNotFound) {
			return nil, ErrUnitNotFound
		}
		return nil, err
	}

	return db.GetUnitByID(ctx, uuid.UUID(unitID))
}

// claimName reserves name for unitID, failing when another unit holds it.
func (db *DB) claimName(ctx context.Context, name string, unitID uuid.UUID) error {
	existing := map[string]any{}
	applied, err := db.Meta.Query(`
INSERT INTO units_by_name (name, unit_id)
VALUES (?, ?)
IF NOT EXISTS
`, nameKey(name), toCQL(unitID)).WithContext(ctx).MapScanCAS(existing)
	if err != nil {
		return err
	}
	if !applied {
		return &UnitAlreadyExistsError{Name: name}
	}
	return nil
}

func (db *DB) releaseName(ctx context.Context, name string) error {
	return db.Meta.Query(`
DELETE FROM units_by_name WHERE name = ?
`, nameKey(name)).WithContext(ctx).Exec()
}

func (db *DB) CreateUnit(ctx context.Context, name, description string) (*types.Unit, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	start := time.Now()
	defer observeWrite("create_unit", start)

	now := db.now().UTC()
	unit := types.WithUpdatedTimestamp(types.Unit{
		UnitID:      uuid.New(),
		Name:        strings.TrimSpace(name),
		Description: description,
		CreatedAt:   now,
	}, now)

	if err := db.claimName(ctx, unit.Name, unit.UnitID); err != nil {
		return nil, err
	}

	err := db.Meta.Query(`
INSERT INTO units (unit_id, name, description, created_at, updated_at)
VALUES (?, ?, ?, ?, ?)
`, toCQL(unit.UnitID), unit.Name, unit.Description, unit.CreatedAt, unit.UpdatedAt).WithContext(ctx).Exec()
	if err != nil {
		_ = db.releaseName(ctx, unit.Name)
		return nil, err
	}

	return &unit, nil
}

func (db *DB) UpdateUnit(ctx context.Context, unitID uuid.UUID, name, description string) (*types.Unit, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	start := time.Now()
	defer observeWrite("update_unit", start)

	current, err := db.GetUnitByID(ctx, unitID)
	if err != nil {
		return nil, err
	}

	name = strings.TrimSpace(name)
	renamed := nameKey(name) != nameKey(current.Name)
	if renamed {
		if err := db.claimName(ctx, name, unitID); err != nil {
			return nil, err
		}
	}

	updated := *current
	updated.Name = name
	updated.Description = description
	updated = types.WithUpdatedTimestamp(updated, db.now())

	err = db.Meta.Query(`
UPDATE units SET name = ?, description = ?, updated_at = ?
WHERE unit_id = ?
`, updated.Name, updated.Description, updated.UpdatedAt, toCQL(unitID)).WithContext(ctx).Exec()
	if err != nil {
		if renamed {
			_ = db.releaseName(ctx, name)
		}
		return nil, err
	}
	if renamed {
		if err := db.releaseName(ctx, current.Name); err != nil {
			return nil, fmt.Errorf("release old name: %w", err)
		}
	}

	return &updated, nil
}

// DeleteUnit removes a unit. Its readings stay and become dangling.
func (db *DB) DeleteUnit(ctx context.Context, unitID uuid.UUID) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	start := time.Now()
	defer observeWrite("delete_unit", start)

	unit, err := db.GetUnitByID(ctx, unitID)
	if err != nil {
		return err
	}
	if err := db.Meta.Query(`
DELETE FROM units WHERE unit_id = ?
`, toCQL(unitID)).WithContext(ctx).Exec(); err != nil {
		return err
	}
	return db.releaseName(ctx, unit.Name)
}
