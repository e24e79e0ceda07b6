// Package paginate sorts entity listings and cuts them into pages.
package paginate

import (
	"cmp"
	"slices"

	"github.com/The-Academic-Observatory/coki-oa-web-sub000/pkg/core"
	"github.com/The-Academic-Observatory/coki-oa-web-sub000/pkg/query"
)

// Compare orders a and b by field in ascending order. The name field
// compares as a case-sensitive string, every other field numerically.
func Compare(a, b *core.Entity, field query.Field) int {
	if !field.Numeric() {
		return cmp.Compare(a.Name, b.Name)
	}
	x, _ := a.Number(field.Path())
	y, _ := b.Number(field.Path())
	return cmp.Compare(x, y)
}

// Sort sorts items in place. The sort is stable in both directions: items
// with equal keys keep their relative order.
func Sort(items []core.Entity, field query.Field, dir query.Direction) {
	sign := 1
	if dir == query.Dsc {
		sign = -1
	}
	slices.SortStableFunc(items, func(a, b core.Entity) int {
		return sign * Compare(&a, &b, field)
	})
}

// Slice returns the half-open page [page*limit, page*limit+limit) of items.
// Pages past the end are empty.
func Slice[T any](items []T, page, limit int) []T {
	if page < 0 || limit <= 0 {
		return nil
	}
	if page > len(items)/limit {
		return nil
	}
	start := page * limit
	if start >= len(items) {
		return nil
	}
	end := min(start+limit, len(items))
	return items[start:end]
}

// Paginate sorts a copy of items and returns the requested page. The input
// slice is never reordered.
func Paginate(items []core.Entity, ps query.PageSettings) []core.Entity {
	sorted := slices.Clone(items)
	Sort(sorted, ps.OrderBy, ps.OrderDir)
	return Slice(sorted, ps.Page, ps.Limit)
}
