// Package period resolves report periods into canonical instant ranges in a
// fixed timezone.
package period

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
	_ "time/tzdata"
)

type Kind int

const (
	Daily Kind = iota
	Weekly
	Monthly
	Yearly
)

// Kinds lists every period kind, finest first.
var Kinds = []Kind{Daily, Weekly, Monthly, Yearly}

var (
	ErrInvalidKind   = errors.New("invalid period kind")
	ErrInvalidFormat = errors.New("invalid date format for period")
)

// NotMondayError is returned when a weekly period is anchored on any day
// other than Monday.
type NotMondayError struct {
	Date    string
	Weekday time.Weekday
}

func (e *NotMondayError) Error() string {
	return fmt.Sprintf("weekly period must start on a Monday: %s is a %s", e.Date, e.Weekday)
}

func (e *NotMondayError) Is(target error) bool {
	_, ok := target.(*NotMondayError)
	return ok
}

var ErrNotMonday = &NotMondayError{}

type kindRule struct {
	name    string
	aliases []string
	layout  string
	pattern *regexp.Regexp
	example string
}

var kindRules = map[Kind]kindRule{
	Daily: {
		name:    "diario",
		aliases: []string{"daily", "dia"},
		layout:  "2006-01-02",
		pattern: regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`),
		example: "2025-01-15",
	},
	Weekly: {
		name:    "semanal",
		aliases: []string{"weekly", "semana"},
		layout:  "2006-01-02",
		pattern: regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`),
		example: "2025-01-06",
	},
	Monthly: {
		name:    "mensual",
		aliases: []string{"monthly", "mes"},
		layout:  "2006-01",
		pattern: regexp.MustCompile(`^\d{4}-\d{2}$`),
		example: "2025-01",
	},
	Yearly: {
		name:    "anual",
		aliases: []string{"yearly", "año", "anio"},
		layout:  "2006",
		pattern: regexp.MustCompile(`^\d{4}$`),
		example: "2025",
	},
}

// ParseKind accepts the wire names (diario, semanal, mensual, anual) and
// their English equivalents.
func ParseKind(s string) (Kind, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for k, sp := range kindRules {
		if s == sp.name {
			return k, nil
		}
		for _, a := range sp.aliases {
			if s == a {
				return k, nil
			}
		}
	}
	return -1, fmt.Errorf("%w: %q", ErrInvalidKind, s)
}

func (k Kind) String() string {
	if sp, ok := kindRules[k]; ok {
		return sp.name
	}
	return "unknown"
}

// Layout is the date layout a period of this kind is requested with.
func (k Kind) Layout() string {
	return kindRules[k].layout
}

// Example is a valid date string for the kind, used in error details.
func (k Kind) Example() string {
	return kindRules[k].example
}

// Range is an inclusive instant range: Start is the first instant of the
// period and End its last millisecond.
type Range struct {
	Start time.Time `json:"inicio"`
	End   time.Time `json:"fin"`
}

// Contains reports whether t falls inside the range, bounds included.
func (r Range) Contains(t time.Time) bool {
	return !t.Before(r.Start) && !t.After(r.End)
}

// Resolver resolves periods in a single fixed location.
type Resolver struct {
	loc *time.Location
}

func NewResolver(loc *time.Location) *Resolver {
	if loc == nil {
		loc = time.UTC
	}
	return &Resolver{loc: loc}
}

func (r *Resolver) Location() *time.Location {
	return r.loc
}

// Resolve validates date against the kind's format and returns the canonical
// range of the period it names. Validation happens before any computation.
func (r *Resolver) Resolve(kind Kind, date string) (Range, error) {
	sp, ok := kindRules[kind]
	if !ok {
		return Range{}, ErrInvalidKind
	}
	if !sp.pattern.MatchString(date) {
		return Range{}, fmt.Errorf("%w %s: %q (expected %s)", ErrInvalidFormat, sp.name, date, sp.example)
	}
	t, err := time.ParseInLocation(sp.layout, date, r.loc)
	if err != nil {
		return Range{}, fmt.Errorf("%w %s: %q (expected %s)", ErrInvalidFormat, sp.name, date, sp.example)
	}
	if kind == Weekly && t.Weekday() != time.Monday {
		return Range{}, &NotMondayError{Date: date, Weekday: t.Weekday()}
	}
	return r.rangeFrom(kind, r.StartOf(kind, t)), nil
}

// StartOf returns the first instant of the kind's period containing t.
// Weeks start on Monday.
func (r *Resolver) StartOf(kind Kind, t time.Time) time.Time {
	t = t.In(r.loc)
	y, m, d := t.Date()
	switch kind {
	case Weekly:
		offset := (int(t.Weekday()) + 6) % 7
		return time.Date(y, m, d-offset, 0, 0, 0, 0, r.loc)
	case Monthly:
		return time.Date(y, m, 1, 0, 0, 0, 0, r.loc)
	case Yearly:
		return time.Date(y, time.January, 1, 0, 0, 0, 0, r.loc)
	default:
		return time.Date(y, m, d, 0, 0, 0, 0, r.loc)
	}
}

// Containing returns the kind's period that t falls in.
func (r *Resolver) Containing(kind Kind, t time.Time) Range {
	return r.rangeFrom(kind, r.StartOf(kind, t))
}

// Previous returns the last complete period of the kind before the one
// containing t: the daily job firing at midnight gets yesterday.
func (r *Resolver) Previous(kind Kind, t time.Time) Range {
	return r.rangeFrom(kind, step(kind, r.StartOf(kind, t), -1))
}

// Format renders the canonical request date string for the period starting at start.
func (r *Resolver) Format(kind Kind, start time.Time) string {
	return start.In(r.loc).Format(kindRules[kind].layout)
}

func (r *Resolver) rangeFrom(kind Kind, start time.Time) Range {
	next := step(kind, start, 1)
	return Range{Start: start, End: next.Add(-time.Millisecond)}
}

// step moves a period start by n periods. Boundaries stay on local midnight
// across DST changes.
func step(kind Kind, start time.Time, n int) time.Time {
	switch kind {
	case Weekly:
		return start.AddDate(0, 0, 7*n)
	case Monthly:
		return start.AddDate(0, n, 0)
	case Yearly:
		return start.AddDate(n, 0, 0)
	default:
		return start.AddDate(0, 0, n)
	}
}
