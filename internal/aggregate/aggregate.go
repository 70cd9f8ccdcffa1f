// Package aggregate groups readings into per-unit display buckets and
// computes per-quantity means.
package aggregate

import (
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/ntentasd/acuamon-api/internal/period"
	"github.com/ntentasd/acuamon-api/pkg/types"
	"github.com/rs/zerolog"
)

var ErrNoData = errors.New("no readings for the selected period")

// Granularity is the width of a display bucket.
type Granularity int

const (
	Hour Granularity = iota
	Day
	Month
)

func (g Granularity) String() string {
	switch g {
	case Hour:
		return "hour"
	case Day:
		return "day"
	case Month:
		return "month"
	}
	return "unknown"
}

// GranularityFor maps a report's period kind to its display bucket: daily
// reports show hours, weekly and monthly show days, yearly shows months.
func GranularityFor(kind period.Kind) Granularity {
	switch kind {
	case period.Daily:
		return Hour
	case period.Yearly:
		return Month
	default:
		return Day
	}
}

// Truncate returns the start of the bucket containing t, in loc.
func (g Granularity) Truncate(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	y, m, d := t.Date()
	switch g {
	case Hour:
		return time.Date(y, m, d, t.Hour(), 0, 0, 0, loc)
	case Month:
		return time.Date(y, m, 1, 0, 0, 0, 0, loc)
	default:
		return time.Date(y, m, d, 0, 0, 0, 0, loc)
	}
}

// Row is one display bucket of a unit.
type Row struct {
	Start   time.Time    `json:"inicio"`
	Samples int          `json:"muestras"`
	Means   types.Values `json:"promedios"`
}

// UnitSeries is the chronological list of buckets of one unit.
type UnitSeries struct {
	UnitID   uuid.UUID `json:"estanque_id"`
	UnitName string    `json:"estanque"`
	Rows     []Row     `json:"filas"`
}

type bucketKey struct {
	unit  uuid.UUID
	start int64 // unix nanos of the bucket start
}

// Accumulator sums each quantity over the readings that define it.
type Accumulator struct {
	sums    [types.NumQuantities]float64
	counts  [types.NumQuantities]int
	samples int
}

func (a *Accumulator) Add(v types.Values) {
	a.samples++
	for _, q := range types.Quantities {
		if p := v.Get(q); p != nil {
			a.sums[q] += *p
			a.counts[q]++
		}
	}
}

// Samples is the number of readings added, defined quantities or not.
func (a *Accumulator) Samples() int {
	return a.samples
}

// Means returns the arithmetic mean of every quantity. A quantity no reading
// defined stays nil.
func (a *Accumulator) Means() types.Values {
	var out types.Values
	for _, q := range types.Quantities {
		if a.counts[q] == 0 {
			continue
		}
		m := a.sums[q] / float64(a.counts[q])
		out.Set(q, &m)
	}
	return out
}

// Mean averages readings into a single Values.
func Mean(readings []types.Reading) (types.Values, int) {
	var acc Accumulator
	for _, r := range readings {
		acc.Add(r.Values)
	}
	return acc.Means(), acc.Samples()
}

type Aggregator struct {
	loc    *time.Location
	logger zerolog.Logger
}

func New(loc *time.Location, logger zerolog.Logger) *Aggregator {
	if loc == nil {
		loc = time.UTC
	}
	return &Aggregator{
		loc:    loc,
		logger: logger.With().Str("component", "aggregate").Logger(),
	}
}

// Bucket partitions readings by unit and then by the display bucket of kind,
// averaging every bucket. units resolves unit ids to names; readings whose
// unit is nil or unknown are skipped. Returns ErrNoData when no reading
// survives.
func (a *Aggregator) Bucket(readings []types.Reading, units map[uuid.UUID]types.Unit, kind period.Kind) ([]UnitSeries, error) {
	if len(readings) == 0 {
		return nil, ErrNoData
	}
	g := GranularityFor(kind)

	accs := make(map[bucketKey]*Accumulator)
	bucketStarts := make(map[bucketKey]time.Time)
	perUnit := make(map[uuid.UUID][]bucketKey)

	skipped := 0
	for _, r := range readings {
		if r.UnitID == nil {
			skipped++
			a.logger.Warn().Str("reading_id", r.ReadingID.String()).Msg("reading without unit, skipping")
			continue
		}
		if _, ok := units[*r.UnitID]; !ok {
			skipped++
			a.logger.Warn().
				Str("reading_id", r.ReadingID.String()).
				Str("unit_id", r.UnitID.String()).
				Msg("reading references unknown unit, skipping")
			continue
		}
		start := g.Truncate(r.Timestamp, a.loc)
		key := bucketKey{unit: *r.UnitID, start: start.UnixNano()}
		acc, ok := accs[key]
		if !ok {
			acc = &Accumulator{}
			accs[key] = acc
			bucketStarts[key] = start
			perUnit[key.unit] = append(perUnit[key.unit], key)
		}
		acc.Add(r.Values)
	}

	if len(accs) == 0 {
		a.logger.Warn().Int("skipped", skipped).Msg("no reading could be attributed to a unit")
		return nil, ErrNoData
	}

	out := make([]UnitSeries, 0, len(perUnit))
	for unitID, keys := range perUnit {
		sort.Slice(keys, func(i, j int) bool { return keys[i].start < keys[j].start })
		rows := make([]Row, 0, len(keys))
		for _, k := range keys {
			acc := accs[k]
			rows = append(rows, Row{
				Start:   bucketStarts[k],
				Samples: acc.Samples(),
				Means:   acc.Means(),
			})
		}
		out = append(out, UnitSeries{
			UnitID:   unitID,
			UnitName: units[unitID].Name,
			Rows:     rows,
		})
	}
	SortSeries(out)

	return out, nil
}
