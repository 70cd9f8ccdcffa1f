package aggregate

import (
	"regexp"
	"sort"
	"strconv"
)

var trailingNumber = regexp.MustCompile(`(\d+)\s*$`)

// nameSuffix extracts the trailing number of a unit name ("Estanque 12" -> 12).
func nameSuffix(name string) (int, bool) {
	m := trailingNumber.FindStringSubmatch(name)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return n, true
}

// LessUnitName orders names by numeric suffix when both have one, numbered
// names before unnumbered ones, and lexicographically otherwise.
func LessUnitName(a, b string) bool {
	na, okA := nameSuffix(a)
	nb, okB := nameSuffix(b)
	switch {
	case okA && okB:
		if na != nb {
			return na < nb
		}
		return a < b
	case okA:
		return true
	case okB:
		return false
	default:
		return a < b
	}
}

// SortSeries orders series by unit name, ties broken by unit id.
func SortSeries(series []UnitSeries) {
	sort.SliceStable(series, func(i, j int) bool {
		a, b := series[i], series[j]
		if a.UnitName == b.UnitName {
			return a.UnitID.String() < b.UnitID.String()
		}
		return LessUnitName(a.UnitName, b.UnitName)
	})
}
