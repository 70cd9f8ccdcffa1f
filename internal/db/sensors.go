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

type SensorAlreadyExistsError struct {
	SensorName string
}

func (e *SensorAlreadyExistsError) Error() string {
	return fmt.Sprintf("sensor '%s' already exists in this unit", e.SensorName)
}

func (e *SensorAlreadyExistsError) Is(target error) bool {
	_, ok := target.(*SensorAlreadyExistsError)
	return ok
}

func (db *DB) GetSensorsByUnitID(ctx context.Context, unitID uuid.UUID) ([]types.Sensor, error) {
	ctx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()

	start := time.Now()
	defer observeRead("sensors_by_unit", start)

	iter := db.Meta.Query(`
SELECT sensor_id, sensor_name, sensor_type, created_at, updated_at
FROM sensors
WHERE unit_id = ?
`, toCQL(unitID)).WithContext(ctx).Iter()

	var results []types.Sensor
	var (
		sensorID             gocql.UUID
		sensorName           string
		sensorType           int
		createdAt, updatedAt time.Time
	)
	for iter.Scan(&sensorID, &sensorName, &sensorType, &createdAt, &updatedAt) {
		uid := unitID
		results = append(results, types.Sensor{
			SensorID:   uuid.UUID(sensorID),
			SensorName: sensorName,
			SensorType: types.SensorType(sensorType),
			UnitID:     &uid,
			CreatedAt:  createdAt,
			UpdatedAt:  updatedAt,
		})
	}
	if err := iter.Close(); err != nil {
		return nil, err
	}

	return results, nil
}

func (db *DB) GetSensorByID(ctx context.Context, sensorID uuid.UUID) (*types.Sensor, error) {
	ctx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()

	var (
		unitID               gocql.UUID
		sensorName           string
		sensorType           int
		createdAt, updatedAt time.Time
	)
	err := db.Meta.Query(`
SELECT unit_id, sensor_name, sensor_type, created_at, updated_at
FROM sensors
WHERE sensor_id = ?
`, toCQL(sensorID)).WithContext(ctx).Scan(&unitID, &sensorName, &sensorType, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, gocql.ErrNotFound) {
			return nil, ErrSensorNotFound
		}
		return nil, err
	}

	return &types.Sensor{
		SensorID:   sensorID,
		SensorName: sensorName,
		SensorType: types.SensorType(sensorType),
		UnitID:     fromNullable(unitID),
		CreatedAt:  createdAt,
		UpdatedAt:  updatedAt,
	}, nil
}

func (db *DB) RegisterSensor(ctx context.Context, unitID uuid.UUID, sensorName string, sensorType types.SensorType) (*types.Sensor, error) {
	if !sensorType.Valid() {
		return nil, types.ErrInvalidSensorType
	}
	if _, err := db.GetUnitByID(ctx, unitID); err != nil {
		return nil, err
	}

	existing, err := db.GetSensorsByUnitID(ctx, unitID)
	if err != nil {
		return nil, err
	}
	sensorName = strings.TrimSpace(sensorName)
	for _, s := range existing {
		if strings.EqualFold(s.SensorName, sensorName) {
			return nil, &SensorAlreadyExistsError{SensorName: sensorName}
		}
	}

	ctx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()

	start := time.Now()
	defer observeWrite("register_sensor", start)

	now := db.now().UTC()
	uid := unitID
	sensor := types.WithUpdatedTimestamp(types.Sensor{
		SensorID:   uuid.New(),
		SensorName: sensorName,
		SensorType: sensorType,
		UnitID:     &uid,
		CreatedAt:  now,
	}, now)

	err = db.Meta.Query(`
INSERT INTO sensors (sensor_id, unit_id, sensor_name, sensor_type, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?)
`, toCQL(sensor.SensorID), toCQL(unitID), sensor.SensorName, int(sensor.SensorType), sensor.CreatedAt, sensor.UpdatedAt).
		WithContext(ctx).Exec()
	if err != nil {
		return nil, err
	}

	return &sensor, nil
}

func (db *DB) StoreSensorCredentials(ctx context.Context, creds types.SensorCredentials) error {
	ctx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()

	return db.Meta.Query(`
INSERT INTO sensor_credentials (sensor_id, username, password)
VALUES (?, ?, ?)
`, toCQL(creds.SensorID), creds.Username, creds.Password).WithContext(ctx).Exec()
}

func (db *DB) GetSensorCredentials(ctx context.Context, sensorID uuid.UUID) (*types.SensorCredentials, error) {
	ctx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()

	var username, password string
	err := db.Meta.Query(`
SELECT username, password FROM sensor_credentials
WHERE sensor_id = ?
`, toCQL(sensorID)).WithContext(ctx).Scan(&username, &password)
	if err != nil {
		if errors.Is(err, gocql.ErrNotFound) {
			return nil, ErrSensorNotFound
		}
		return nil, err
	}

	return &types.SensorCredentials{
		SensorID: sensorID,
		Username: username,
		Password: password,
	}, nil
}
