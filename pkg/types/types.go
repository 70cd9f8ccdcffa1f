// Package types
package types

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Unit struct {
	UnitID      uuid.UUID `json:"estanque_id"`
	Name        string    `json:"nombre"`
	Description string    `json:"descripcion,omitempty"`
	CreatedAt   time.Time `json:"creado"`
	UpdatedAt   time.Time `json:"modificado"`
}

func (u Unit) WithUpdatedAt(t time.Time) Unit {
	u.UpdatedAt = t
	return u
}

type SensorType int

const (
	SensorTypePH SensorType = iota
	SensorTypeWaterTemperature
	SensorTypeAmbientTemperature
	SensorTypeHumidity
	SensorTypeLight
	SensorTypeConductivity
	SensorTypeCO2
)

var ErrInvalidSensorType = fmt.Errorf("invalid sensor type")

var sensorTypeNames = map[SensorType]string{
	SensorTypePH:                 "ph",
	SensorTypeWaterTemperature:   "water_temperature",
	SensorTypeAmbientTemperature: "ambient_temperature",
	SensorTypeHumidity:           "humidity",
	SensorTypeLight:              "light",
	SensorTypeConductivity:       "conductivity",
	SensorTypeCO2:                "co2",
}

func (s SensorType) String() string {
	if name, ok := sensorTypeNames[s]; ok {
		return name
	}
	return "unknown"
}

func (s SensorType) Valid() bool {
	_, ok := sensorTypeNames[s]
	return ok
}

func ToSensorType(sensorType string) (SensorType, error) {
	for t, name := range sensorTypeNames {
		if name == sensorType {
			return t, nil
		}
	}
	return -1, ErrInvalidSensorType
}

type Sensor struct {
	SensorID   uuid.UUID  `json:"sensor_id"`
	SensorName string     `json:"sensor_name"`
	SensorType SensorType `json:"sensor_type"`
	UnitID     *uuid.UUID `json:"estanque_id,omitempty"`
	UnitName   string     `json:"estanque,omitempty"`
	CreatedAt  time.Time  `json:"creado"`
	UpdatedAt  time.Time  `json:"modificado"`
}

func (s Sensor) WithUpdatedAt(t time.Time) Sensor {
	s.UpdatedAt = t
	return s
}

type SensorCredentials struct {
	SensorID uuid.UUID `json:"sensor_id"`
	Username string    `json:"mqtt_user"`
	Password string    `json:"mqtt_pass"`
}

// Reading is one timestamped set of measurements. UnitID is nil when the
// reading references no unit or a unit that no longer exists.
type Reading struct {
	ReadingID uuid.UUID  `json:"lectura_id"`
	UnitID    *uuid.UUID `json:"estanque_id,omitempty"`
	UnitName  string     `json:"estanque,omitempty"`
	Timestamp time.Time  `json:"fecha"`
	Values
	UpdatedAt time.Time `json:"modificado"`
}

func (r Reading) WithUpdatedAt(t time.Time) Reading {
	r.UpdatedAt = t
	return r
}

// Aggregate is a rollup summary for one unit over a canonical period window.
type Aggregate struct {
	UnitID      uuid.UUID `json:"estanque_id"`
	UnitName    string    `json:"estanque"`
	Kind        string    `json:"periodo"`
	PeriodStart time.Time `json:"inicio"`
	PeriodEnd   time.Time `json:"fin"`
	Means       Values    `json:"promedios"`
	Samples     int       `json:"muestras"`
	RunID       uuid.UUID `json:"ejecucion_id"`
	CreatedAt   time.Time `json:"creado"`
}

type Role string

const (
	RoleAdmin    Role = "admin"
	RoleOperator Role = "operador"
)

func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleOperator
}

type User struct {
	UserID       uuid.UUID `json:"usuario_id"`
	Username     string    `json:"usuario"`
	PasswordHash string    `json:"-"`
	Role         Role      `json:"rol"`
	CreatedAt    time.Time `json:"creado"`
	UpdatedAt    time.Time `json:"modificado"`
}

func (u User) WithUpdatedAt(t time.Time) User {
	u.UpdatedAt = t
	return u
}

// Timestamped is implemented by entities carrying a server-set modification stamp.
type Timestamped[T any] interface {
	WithUpdatedAt(t time.Time) T
}

// WithUpdatedTimestamp returns a copy of e with its modification stamp set to now.
func WithUpdatedTimestamp[T Timestamped[T]](e T, now time.Time) T {
	return e.WithUpdatedAt(now.UTC())
}
