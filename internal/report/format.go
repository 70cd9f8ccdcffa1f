package report

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/ntentasd/acuamon-api/internal/period"
)

// NotAvailable marks a quantity with no data in a bucket.
const NotAvailable = "N/D"

// FormatValue renders a mean with two decimals, or NotAvailable.
func FormatValue(v *float64) string {
	if v == nil {
		return NotAvailable
	}
	return strconv.FormatFloat(*v, 'f', 2, 64)
}

// BucketLayout is the date column layout of a report of the given kind.
func BucketLayout(kind period.Kind) string {
	switch kind {
	case period.Daily:
		return "15:04"
	case period.Yearly:
		return "01/2006"
	default:
		return "02/01/2006"
	}
}

func FormatBucket(kind period.Kind, t time.Time, loc *time.Location) string {
	return t.In(loc).Format(BucketLayout(kind))
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9-]+`)

func sanitize(s string) string {
	return strings.Trim(unsafeChars.ReplaceAllString(strings.TrimSpace(s), "_"), "_")
}

// Filename is reporte_<estanque>_<periodo>_<fecha>.pdf, the unit part
// omitted when the report covers every unit.
func Filename(kind period.Kind, date, unitName string) string {
	parts := []string{"reporte"}
	if u := sanitize(unitName); u != "" {
		parts = append(parts, u)
	}
	parts = append(parts, kind.String(), sanitize(date))
	return strings.Join(parts, "_") + ".pdf"
}
