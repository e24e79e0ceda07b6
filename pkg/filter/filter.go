// Package filter evaluates queries against in-memory collections.
package filter

import (
	"github.com/The-Academic-Observatory/coki-oa-web-sub000/pkg/core"
	"github.com/The-Academic-Observatory/coki-oa-web-sub000/pkg/query"
)

// Result holds the matched entities in collection order together with the
// observed bounds of the matched subset. Min and Max are nil when nothing
// matched.
type Result struct {
	Items []core.Entity
	Min   *core.Bounds
	Max   *core.Bounds
}

// Filter scans c once and returns every entity matching q.
func Filter(c *core.Collection, q query.Query) Result {
	clauses := q.Clauses(c.Type())

	var res Result
	for _, e := range c.All() {
		if !Match(&e, clauses) {
			continue
		}
		res.Items = append(res.Items, e)

		b := core.BoundsOf(e.Stats)
		if res.Min == nil {
			lo, hi := b, b
			res.Min, res.Max = &lo, &hi
			continue
		}
		res.Min.Lower(b)
		res.Max.Raise(b)
	}
	return res
}

// Match reports whether e satisfies every clause.
func Match(e *core.Entity, clauses []query.Clause) bool {
	for _, c := range clauses {
		if !matchClause(e, c) {
			return false
		}
	}
	return true
}

func matchClause(e *core.Entity, c query.Clause) bool {
	switch c.Op {
	case query.OpIn:
		v, ok := e.Text(string(c.Attr))
		return ok && c.Values.Contains(v)
	case query.OpAnyIn:
		if c.Attr != query.AttrInstitutionTypes {
			return false
		}
		return c.Values.Intersects(e.InstitutionTypes)
	case query.OpBetween:
		v, ok := e.Number(string(c.Attr))
		return ok && c.Range.Contains(v)
	}
	return false
}
