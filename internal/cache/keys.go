package cache

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/ntentasd/acuamon-api/internal/period"
)

const keyPrefix = "acuamon"

// ReadingsKey is the latest-readings key of a unit.
func ReadingsKey(unitID uuid.UUID) string {
	return fmt.Sprintf("%s:estanque:%s:lecturas", keyPrefix, unitID)
}

// ReportKey identifies the bucketed series of a report request. A nil unit
// means every unit.
func ReportKey(kind period.Kind, date string, unitID *uuid.UUID) string {
	scope := "todos"
	if unitID != nil {
		scope = unitID.String()
	}
	return fmt.Sprintf("%s:reporte:%s:%s:%s", keyPrefix, kind, date, scope)
}
