package query

import "github.com/The-Academic-Observatory/coki-oa-web-sub000/pkg/core"

// Op is the comparison performed by a clause.
type Op int

const (
	// OpIn matches when a scalar attribute is a member of Values.
	OpIn Op = iota
	// OpAnyIn matches when a multi-valued attribute shares a member with Values.
	OpAnyIn
	// OpBetween matches when a numeric attribute lies within Range.
	OpBetween
)

func (o Op) String() string {
	switch o {
	case OpIn:
		return "in"
	case OpAnyIn:
		return "any-in"
	case OpBetween:
		return "between"
	}
	return "unknown"
}

// Attr names the entity attribute a clause tests.
type Attr string

const (
	AttrID               Attr = "id"
	AttrRegion           Attr = "region"
	AttrSubregion        Attr = "subregion"
	AttrCountryCode      Attr = "country_code"
	AttrInstitutionTypes Attr = "institution_types"
	AttrNOutputs         Attr = "n_outputs"
	AttrNOutputsOpen     Attr = "n_outputs_open"
	AttrPOutputsOpen     Attr = "p_outputs_open"
)

// Clause is one predicate of a filter. Clauses of a query are ANDed.
type Clause struct {
	Op     Op
	Attr   Attr
	Values Set
	Range  Range
}

// Clauses lowers q into the clause list evaluated against a collection of
// the given kind. Filter backends render this list; they never interpret
// Query fields directly.
//
// A non-empty IDs set switches to lookup mode and yields a single clause.
// Empty sets yield no clause. Country and institution type clauses only
// apply to institutions. The three range clauses are always present.
func (q Query) Clauses(kind core.EntityType) []Clause {
	if !q.IDs.Empty() {
		return []Clause{{Op: OpIn, Attr: AttrID, Values: q.IDs}}
	}

	var out []Clause
	in := func(attr Attr, s Set) {
		if !s.Empty() {
			out = append(out, Clause{Op: OpIn, Attr: attr, Values: s})
		}
	}
	in(AttrRegion, q.Regions)
	in(AttrSubregion, q.Subregions)
	if kind == core.Institution {
		in(AttrCountryCode, q.Countries)
		if !q.InstitutionTypes.Empty() {
			out = append(out, Clause{Op: OpAnyIn, Attr: AttrInstitutionTypes, Values: q.InstitutionTypes})
		}
	}
	return append(out,
		Clause{Op: OpBetween, Attr: AttrNOutputs, Range: q.NOutputs},
		Clause{Op: OpBetween, Attr: AttrNOutputsOpen, Range: q.NOutputsOpen},
		Clause{Op: OpBetween, Attr: AttrPOutputsOpen, Range: q.POutputsOpen},
	)
}
