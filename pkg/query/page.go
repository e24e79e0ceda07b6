package query

import (
	"net/url"
	"strconv"
	"strings"
)

const (
	ParamPage     = "page"
	ParamLimit    = "limit"
	ParamOrderBy  = "orderBy"
	ParamOrderDir = "orderDir"
)

// Field is a sortable entity attribute. Values are the bare attribute
// names; Path returns the dotted form used to address nested stats.
type Field string

const (
	FieldName                      Field = "name"
	FieldNOutputs                  Field = "n_outputs"
	FieldNOutputsOpen              Field = "n_outputs_open"
	FieldPOutputsOpen              Field = "p_outputs_open"
	FieldNOutputsPublisherOpen     Field = "n_outputs_publisher_open"
	FieldNOutputsOtherPlatformOpen Field = "n_outputs_other_platform_open"
	FieldNOutputsClosed            Field = "n_outputs_closed"
	FieldPOutputsPublisherOpen     Field = "p_outputs_publisher_open"
	FieldPOutputsOtherPlatformOpen Field = "p_outputs_other_platform_open"
	FieldPOutputsClosed            Field = "p_outputs_closed"
)

// Fields is the orderBy allow-list.
var Fields = []Field{
	FieldName,
	FieldNOutputs,
	FieldNOutputsOpen,
	FieldPOutputsOpen,
	FieldNOutputsPublisherOpen,
	FieldNOutputsOtherPlatformOpen,
	FieldNOutputsClosed,
	FieldPOutputsPublisherOpen,
	FieldPOutputsOtherPlatformOpen,
	FieldPOutputsClosed,
}

// ParseField resolves s against the allow-list. Stats fields may be given
// with or without the "stats." prefix.
func ParseField(s string) (Field, error) {
	name := strings.TrimPrefix(s, "stats.")
	if name == string(FieldName) && s != name {
		return "", &ValidationError{Param: ParamOrderBy, Value: s, Reason: "unknown field"}
	}
	for _, f := range Fields {
		if string(f) == name {
			return f, nil
		}
	}
	return "", &ValidationError{Param: ParamOrderBy, Value: s, Reason: "unknown field"}
}

// Path returns the dotted path of the field within an entity.
func (f Field) Path() string {
	if f == FieldName {
		return string(f)
	}
	return "stats." + string(f)
}

// Numeric reports whether the field compares numerically.
func (f Field) Numeric() bool { return f != FieldName }

// Direction is a sort direction.
type Direction string

const (
	Asc Direction = "asc"
	Dsc Direction = "dsc"
)

// ParseDirection maps an absent value and "dsc" to Dsc. Every other value
// sorts ascending.
func ParseDirection(s string) Direction {
	if s == "" || s == string(Dsc) {
		return Dsc
	}
	return Asc
}

// PageLimits are the engine-configured bounds for one kind of listing.
type PageLimits struct {
	MinLimit       int
	MaxLimit       int
	DefaultLimit   int
	DefaultOrderBy Field
}

// TablePageLimits are the defaults for country and institution tables.
var TablePageLimits = PageLimits{
	MinLimit:       1,
	MaxLimit:       18,
	DefaultLimit:   18,
	DefaultOrderBy: FieldPOutputsOpen,
}

// SearchPageLimits are the defaults for search results.
var SearchPageLimits = PageLimits{
	MinLimit:       1,
	MaxLimit:       20,
	DefaultLimit:   10,
	DefaultOrderBy: FieldPOutputsOpen,
}

// ClampLimit clamps limit into [MinLimit, MaxLimit].
func (l PageLimits) ClampLimit(limit int) int {
	return max(l.MinLimit, min(limit, l.MaxLimit))
}

// PageSettings selects one page of a sorted listing.
type PageSettings struct {
	Page     int
	Limit    int
	OrderBy  Field
	OrderDir Direction
}

// ParsePageSettings normalises the paging parameters. Only an unknown
// orderBy is rejected; everything else is clamped.
func ParsePageSettings(v url.Values, l PageLimits) (PageSettings, error) {
	ps := PageSettings{
		Page:     0,
		Limit:    l.DefaultLimit,
		OrderBy:  l.DefaultOrderBy,
		OrderDir: ParseDirection(v.Get(ParamOrderDir)),
	}
	if ps.OrderBy == "" {
		ps.OrderBy = FieldPOutputsOpen
	}

	if n, ok := parseInt(v.Get(ParamPage)); ok {
		ps.Page = clampInt(n, 0)
	}
	if n, ok := parseInt(v.Get(ParamLimit)); ok {
		ps.Limit = clampInt(n, l.MinLimit)
	}
	ps.Limit = l.ClampLimit(ps.Limit)

	if raw := v.Get(ParamOrderBy); raw != "" {
		f, err := ParseField(raw)
		if err != nil {
			return PageSettings{}, err
		}
		ps.OrderBy = f
	}
	return ps, nil
}

// clampInt converts n to int, raising it to at least floor.
func clampInt(n int64, floor int) int {
	if n < int64(floor) {
		return floor
	}
	if n > int64(maxInt) {
		return maxInt
	}
	return int(n)
}

const maxInt = int(^uint(0) >> 1)

// Values serialises the settings back into request parameters.
func (ps PageSettings) Values() url.Values {
	v := url.Values{}
	v.Set(ParamPage, strconv.Itoa(ps.Page))
	v.Set(ParamLimit, strconv.Itoa(ps.Limit))
	v.Set(ParamOrderBy, string(ps.OrderBy))
	v.Set(ParamOrderDir, string(ps.OrderDir))
	return v
}
