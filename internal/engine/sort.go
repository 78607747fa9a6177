package engine

import "sort"

type SortDirection string

const (
	Ascending  SortDirection = "ascending"
	Descending SortDirection = "descending"
)

// sortSelection stably orders selected row indices by field. Nulls go last in
// both directions.
func sortSelection(rows []Row, sel []int, field string, dir SortDirection) {
	desc := dir == Descending
	sort.SliceStable(sel, func(i, j int) bool {
		a, b := rows[sel[i]][field], rows[sel[j]][field]
		an, bn := isNull(a), isNull(b)
		switch {
		case an:
			return false
		case bn:
			return true
		}
		cmp := compareValues(a, b)
		if desc {
			return cmp > 0
		}
		return cmp < 0
	})
}
