package query

import (
	"errors"
	"fmt"
	"math"
	"net/url"
	"slices"
	"strconv"
	"strings"

	"github.com/The-Academic-Observatory/coki-oa-web-sub000/pkg/core"
)

// Request parameter names.
const (
	ParamIDs              = "ids"
	ParamRegions          = "regions"
	ParamSubregions       = "subregions"
	ParamCountries        = "countries"
	ParamInstitutionTypes = "institutionTypes"
	ParamMinNOutputs      = "minNOutputs"
	ParamMaxNOutputs      = "maxNOutputs"
	ParamMinNOutputsOpen  = "minNOutputsOpen"
	ParamMaxNOutputsOpen  = "maxNOutputsOpen"
	ParamMinPOutputsOpen  = "minPOutputsOpen"
	ParamMaxPOutputsOpen  = "maxPOutputsOpen"
)

// ValidationError reports a request parameter that cannot be clamped into
// a legal value and must be rejected.
type ValidationError struct {
	Param  string
	Value  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s %q: %s", e.Param, e.Value, e.Reason)
}

// IsValidation reports whether err is (or wraps) a *ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// ParseEntityType accepts exactly "country" or "institution".
func ParseEntityType(s string) (core.EntityType, error) {
	t := core.EntityType(s)
	if !t.Valid() {
		return "", &ValidationError{Param: "entity_type", Value: s, Reason: "must be country or institution"}
	}
	return t, nil
}

// Limits holds the engine-configured domains used when clamping ranges.
type Limits struct {
	// MinNOutputs is the floor of the count domains.
	MinNOutputs int64
}

// Set is a sorted set of strings. The zero value is the empty set, which
// places no restriction on a clause.
type Set []string

// NewSet builds a set from values, dropping blanks and duplicates.
func NewSet(values ...string) Set {
	var s Set
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v != "" {
			s = append(s, v)
		}
	}
	if len(s) == 0 {
		return nil
	}
	slices.Sort(s)
	return slices.Compact(s)
}

func (s Set) Empty() bool { return len(s) == 0 }

func (s Set) Contains(v string) bool {
	_, found := slices.BinarySearch(s, v)
	return found
}

// Intersects reports whether any of values is in s.
func (s Set) Intersects(values []string) bool {
	for _, v := range values {
		if s.Contains(v) {
			return true
		}
	}
	return false
}

// Range is an inclusive numeric bound. Min may exceed Max, in which case
// nothing matches.
type Range struct {
	Min int64
	Max int64
}

func (r Range) Contains(v float64) bool {
	return float64(r.Min) <= v && v <= float64(r.Max)
}

// Query is the normalised form of a filter request.
type Query struct {
	IDs              Set
	Regions          Set
	Subregions       Set
	Countries        Set
	InstitutionTypes Set
	NOutputs         Range
	NOutputsOpen     Range
	POutputsOpen     Range
}

// The legal values of each range. MinNOutputs only raises the floor of
// n_outputs; open output counts always start at zero.
func (l Limits) countDomain() Range   { return Range{Min: max(l.MinNOutputs, 0), Max: math.MaxInt64} }
func (l Limits) openDomain() Range    { return Range{Min: 0, Max: math.MaxInt64} }
func (l Limits) percentDomain() Range { return Range{Min: 0, Max: 100} }

// All returns a query that matches every entity.
func All(l Limits) Query {
	return Query{
		NOutputs:     l.countDomain(),
		NOutputsOpen: l.openDomain(),
		POutputsOpen: l.percentDomain(),
	}
}

// ParseQuery normalises raw request parameters. It never fails: sets are
// split on commas, unparsable numbers are treated as absent and every
// bound is clamped into its domain.
func ParseQuery(v url.Values, l Limits) Query {
	return Query{
		IDs:              parseSet(v, ParamIDs),
		Regions:          parseSet(v, ParamRegions),
		Subregions:       parseSet(v, ParamSubregions),
		Countries:        parseSet(v, ParamCountries),
		InstitutionTypes: parseSet(v, ParamInstitutionTypes),
		NOutputs:         parseRange(v, ParamMinNOutputs, ParamMaxNOutputs, l.countDomain()),
		NOutputsOpen:     parseRange(v, ParamMinNOutputsOpen, ParamMaxNOutputsOpen, l.openDomain()),
		POutputsOpen:     parseRange(v, ParamMinPOutputsOpen, ParamMaxPOutputsOpen, l.percentDomain()),
	}
}

func parseSet(v url.Values, key string) Set {
	var parts []string
	for _, raw := range v[key] {
		parts = append(parts, strings.Split(raw, ",")...)
	}
	return NewSet(parts...)
}

func parseRange(v url.Values, minKey, maxKey string, domain Range) Range {
	r := domain
	if n, ok := parseInt(v.Get(minKey)); ok {
		r.Min = max(n, domain.Min)
	}
	if n, ok := parseInt(v.Get(maxKey)); ok {
		r.Max = min(n, domain.Max)
	}
	return r
}

// parseInt parses s as a base 10 integer. Out of range values saturate.
func parseInt(s string) (int64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		var ne *strconv.NumError
		if errors.As(err, &ne) && errors.Is(ne.Err, strconv.ErrRange) {
			return n, true
		}
		return 0, false
	}
	return n, true
}

// Values serialises q back into request parameters. Bounds equal to their
// domain limit are omitted, so ParseQuery(q.Values(l), l) == q for any
// query produced by ParseQuery.
func (q Query) Values(l Limits) url.Values {
	v := url.Values{}
	setValue(v, ParamIDs, q.IDs)
	setValue(v, ParamRegions, q.Regions)
	setValue(v, ParamSubregions, q.Subregions)
	setValue(v, ParamCountries, q.Countries)
	setValue(v, ParamInstitutionTypes, q.InstitutionTypes)
	rangeValue(v, ParamMinNOutputs, ParamMaxNOutputs, q.NOutputs, l.countDomain())
	rangeValue(v, ParamMinNOutputsOpen, ParamMaxNOutputsOpen, q.NOutputsOpen, l.openDomain())
	rangeValue(v, ParamMinPOutputsOpen, ParamMaxPOutputsOpen, q.POutputsOpen, l.percentDomain())
	return v
}

func setValue(v url.Values, key string, s Set) {
	if !s.Empty() {
		v.Set(key, strings.Join(s, ","))
	}
}

func rangeValue(v url.Values, minKey, maxKey string, r, domain Range) {
	if r.Min != domain.Min {
		v.Set(minKey, strconv.FormatInt(r.Min, 10))
	}
	if r.Max != domain.Max {
		v.Set(maxKey, strconv.FormatInt(r.Max, 10))
	}
}
