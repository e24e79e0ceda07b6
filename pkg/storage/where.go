package storage

import (
	"fmt"
	"strings"

	"github.com/The-Academic-Observatory/coki-oa-web-sub000/pkg/core"
	"github.com/The-Academic-Observatory/coki-oa-web-sub000/pkg/query"
)

// Identifiers are only ever taken from these maps, keyed by validated
// enum values. Request strings never reach identifier position.
var (
	tables = map[core.EntityType]string{
		core.Country:     "country",
		core.Institution: "institution",
	}

	attrColumns = map[query.Attr]string{
		query.AttrID:           "id",
		query.AttrRegion:       "region",
		query.AttrSubregion:    "subregion",
		query.AttrCountryCode:  "country_code",
		query.AttrNOutputs:     "n_outputs",
		query.AttrNOutputsOpen: "n_outputs_open",
		query.AttrPOutputsOpen: "p_outputs_open",
	}

	orderColumns = map[query.Field]string{
		query.FieldName:                      "name",
		query.FieldNOutputs:                  "n_outputs",
		query.FieldNOutputsOpen:              "n_outputs_open",
		query.FieldPOutputsOpen:              "p_outputs_open",
		query.FieldNOutputsPublisherOpen:     "n_outputs_publisher_open",
		query.FieldNOutputsOtherPlatformOpen: "n_outputs_other_platform_open",
		query.FieldNOutputsClosed:            "n_outputs_closed",
		query.FieldPOutputsPublisherOpen:     "p_outputs_publisher_open",
		query.FieldPOutputsOtherPlatformOpen: "p_outputs_other_platform_open",
		query.FieldPOutputsClosed:            "p_outputs_closed",
	}

	directions = map[query.Direction]string{
		query.Asc: "ASC",
		query.Dsc: "DESC",
	}
)

// Where renders clauses as a SQL boolean expression over table with
// positional parameters. It is the relational counterpart of filter.Match.
func Where(table string, clauses []query.Clause) (string, []any, error) {
	if len(clauses) == 0 {
		return "1=1", nil, nil
	}

	var sb strings.Builder
	var args []any
	for i, c := range clauses {
		if i > 0 {
			sb.WriteString(" AND ")
		}
		switch c.Op {
		case query.OpIn:
			col, ok := attrColumns[c.Attr]
			if !ok {
				return "", nil, fmt.Errorf("no column for attribute %q", c.Attr)
			}
			sb.WriteString(col)
			sb.WriteString(" IN (")
			args = appendPlaceholders(&sb, args, c.Values)
			sb.WriteString(")")
		case query.OpAnyIn:
			if c.Attr != query.AttrInstitutionTypes {
				return "", nil, fmt.Errorf("attribute %q is not multi-valued", c.Attr)
			}
			sb.WriteString("EXISTS (SELECT 1 FROM institution_type it WHERE it.institution_id = ")
			sb.WriteString(table)
			sb.WriteString(".id AND it.type IN (")
			args = appendPlaceholders(&sb, args, c.Values)
			sb.WriteString("))")
		case query.OpBetween:
			col, ok := attrColumns[c.Attr]
			if !ok {
				return "", nil, fmt.Errorf("no column for attribute %q", c.Attr)
			}
			sb.WriteString(col)
			sb.WriteString(" BETWEEN ? AND ?")
			args = append(args, c.Range.Min, c.Range.Max)
		default:
			return "", nil, fmt.Errorf("unsupported operator %v", c.Op)
		}
	}
	return sb.String(), args, nil
}

func appendPlaceholders(sb *strings.Builder, args []any, values query.Set) []any {
	for i, v := range values {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("?")
		args = append(args, v)
	}
	return args
}

// orderBy renders the ORDER BY expression. Position breaks ties so that
// equal keys keep collection order in both directions.
func orderBy(ps query.PageSettings) (string, error) {
	col, ok := orderColumns[ps.OrderBy]
	if !ok {
		return "", fmt.Errorf("no column for order field %q", ps.OrderBy)
	}
	dir, ok := directions[ps.OrderDir]
	if !ok {
		dir = directions[query.Asc]
	}
	return col + " " + dir + ", position ASC", nil
}
