package query

import (
	"math"
	"net/url"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/The-Academic-Observatory/coki-oa-web-sub000/pkg/core"
)

func TestParseQuery(t *testing.T) {
	limits := Limits{MinNOutputs: 0}

	tests := []struct {
		name string
		raw  string
		want Query
	}{
		{
			name: "empty",
			raw:  "",
			want: All(limits),
		},
		{
			name: "sets are split trimmed and deduplicated",
			raw:  "regions=Europe,%20Asia,,Europe&subregions=Western%20Asia",
			want: func() Query {
				q := All(limits)
				q.Regions = Set{"Asia", "Europe"}
				q.Subregions = Set{"Western Asia"}
				return q
			}(),
		},
		{
			name: "repeated parameters are merged",
			raw:  "countries=AUS&countries=NZL,AUS",
			want: func() Query {
				q := All(limits)
				q.Countries = Set{"AUS", "NZL"}
				return q
			}(),
		},
		{
			name: "numeric bounds",
			raw:  "minNOutputs=1705&maxNOutputs=3252&minPOutputsOpen=10&maxPOutputsOpen=90",
			want: func() Query {
				q := All(limits)
				q.NOutputs = Range{Min: 1705, Max: 3252}
				q.POutputsOpen = Range{Min: 10, Max: 90}
				return q
			}(),
		},
		{
			name: "bounds are clamped into the domain",
			raw:  "minNOutputs=-5&minPOutputsOpen=-1&maxPOutputsOpen=250",
			want: All(limits),
		},
		{
			name: "unparsable numbers are ignored",
			raw:  "minNOutputs=abc&maxNOutputsOpen=1.5",
			want: All(limits),
		},
		{
			name: "overflow saturates",
			raw:  "maxNOutputs=99999999999999999999&minNOutputsOpen=-99999999999999999999",
			want: All(limits),
		},
		{
			name: "min above max is kept",
			raw:  "minNOutputs=500&maxNOutputs=100",
			want: func() Query {
				q := All(limits)
				q.NOutputs = Range{Min: 500, Max: 100}
				return q
			}(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := url.ParseQuery(tt.raw)
			if err != nil {
				t.Fatal(err)
			}
			got := ParseQuery(v, limits)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("ParseQuery() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParseQueryFloor(t *testing.T) {
	limits := Limits{MinNOutputs: 1000}
	q := ParseQuery(url.Values{"minNOutputs": {"10"}}, limits)
	if q.NOutputs.Min != 1000 {
		t.Errorf("NOutputs.Min = %d, want 1000", q.NOutputs.Min)
	}
	if q.NOutputs.Max != math.MaxInt64 {
		t.Errorf("NOutputs.Max = %d, want MaxInt64", q.NOutputs.Max)
	}
}

func TestQueryRoundTrip(t *testing.T) {
	limits := Limits{MinNOutputs: 100}
	inputs := []string{
		"",
		"ids=AUS,BGR",
		"regions=Europe&subregions=Northern%20Europe,Western%20Europe&countries=GBR",
		"institutionTypes=Education,Facility&minNOutputs=1705&maxNOutputs=3252",
		"minNOutputsOpen=5&maxNOutputsOpen=10&minPOutputsOpen=0&maxPOutputsOpen=100",
		"minPOutputsOpen=80&maxPOutputsOpen=20",
		"minNOutputs=1&maxNOutputs=-4",
	}
	for _, raw := range inputs {
		t.Run(raw, func(t *testing.T) {
			v, _ := url.ParseQuery(raw)
			q := ParseQuery(v, limits)
			again := ParseQuery(q.Values(limits), limits)
			if diff := cmp.Diff(q, again); diff != "" {
				t.Errorf("round trip mismatch (-first +second):\n%s", diff)
			}
		})
	}
}

func TestParsePageSettings(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    PageSettings
		wantErr bool
	}{
		{
			name: "defaults",
			raw:  "",
			want: PageSettings{Page: 0, Limit: 18, OrderBy: FieldPOutputsOpen, OrderDir: Dsc},
		},
		{
			name: "explicit values",
			raw:  "page=2&limit=5&orderBy=name&orderDir=asc",
			want: PageSettings{Page: 2, Limit: 5, OrderBy: FieldName, OrderDir: Asc},
		},
		{
			name: "dotted order field",
			raw:  "orderBy=stats.n_outputs&orderDir=dsc",
			want: PageSettings{Page: 0, Limit: 18, OrderBy: FieldNOutputs, OrderDir: Dsc},
		},
		{
			name: "unknown direction sorts ascending",
			raw:  "orderDir=down",
			want: PageSettings{Page: 0, Limit: 18, OrderBy: FieldPOutputsOpen, OrderDir: Asc},
		},
		{
			name: "clamped page and limit",
			raw:  "page=-3&limit=500",
			want: PageSettings{Page: 0, Limit: 18, OrderBy: FieldPOutputsOpen, OrderDir: Dsc},
		},
		{
			name: "limit below minimum",
			raw:  "limit=0",
			want: PageSettings{Page: 0, Limit: 1, OrderBy: FieldPOutputsOpen, OrderDir: Dsc},
		},
		{
			name:    "unknown order field",
			raw:     "orderBy=id%3BDROP%20TABLE%20country",
			wantErr: true,
		},
		{
			name:    "name is not a stats field",
			raw:     "orderBy=stats.name",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, _ := url.ParseQuery(tt.raw)
			got, err := ParsePageSettings(v, TablePageLimits)
			if tt.wantErr {
				if !IsValidation(err) {
					t.Fatalf("error = %v, want *ValidationError", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("ParsePageSettings() = %+v, want %+v", got, tt.want)
			}
			again, err := ParsePageSettings(got.Values(), TablePageLimits)
			if err != nil || again != got {
				t.Errorf("round trip = %+v, %v", again, err)
			}
		})
	}
}

func TestParseEntityType(t *testing.T) {
	for _, s := range []string{"country", "institution"} {
		if _, err := ParseEntityType(s); err != nil {
			t.Errorf("ParseEntityType(%q) error = %v", s, err)
		}
	}
	for _, s := range []string{"", "Country", "countries", "region"} {
		if _, err := ParseEntityType(s); !IsValidation(err) {
			t.Errorf("ParseEntityType(%q) error = %v, want validation error", s, err)
		}
	}
}

func TestClauses(t *testing.T) {
	limits := Limits{}
	q := ParseQuery(url.Values{
		"regions":          {"Africa"},
		"countries":        {"KEN"},
		"institutionTypes": {"Government"},
	}, limits)

	countryClauses := q.Clauses(core.Country)
	if len(countryClauses) != 4 {
		t.Fatalf("country clauses = %d, want 4 (region + 3 ranges)", len(countryClauses))
	}
	for _, c := range countryClauses {
		if c.Attr == AttrCountryCode || c.Attr == AttrInstitutionTypes {
			t.Errorf("institution clause %s applied to countries", c.Attr)
		}
	}

	instClauses := q.Clauses(core.Institution)
	if len(instClauses) != 6 {
		t.Fatalf("institution clauses = %d, want 6", len(instClauses))
	}
	if instClauses[1].Attr != AttrCountryCode || instClauses[1].Op != OpIn {
		t.Errorf("clause 1 = %s %v, want country_code in", instClauses[1].Attr, instClauses[1].Op)
	}
	if instClauses[2].Attr != AttrInstitutionTypes || instClauses[2].Op != OpAnyIn {
		t.Errorf("clause 2 = %s %v, want institution_types any-in", instClauses[2].Attr, instClauses[2].Op)
	}

	q.IDs = NewSet("AUS")
	ids := q.Clauses(core.Country)
	want := []Clause{{Op: OpIn, Attr: AttrID, Values: Set{"AUS"}}}
	if diff := cmp.Diff(want, ids); diff != "" {
		t.Errorf("ids clauses mismatch (-want +got):\n%s", diff)
	}
}

func TestMinNOutputsOnlyBoundsOutputs(t *testing.T) {
	l := Limits{MinNOutputs: 1000}

	q := ParseQuery(url.Values{}, l)
	if want := (Range{Min: 1000, Max: math.MaxInt64}); q.NOutputs != want {
		t.Errorf("NOutputs = %+v, want %+v", q.NOutputs, want)
	}
	if want := (Range{Min: 0, Max: math.MaxInt64}); q.NOutputsOpen != want {
		t.Errorf("NOutputsOpen = %+v, want %+v", q.NOutputsOpen, want)
	}
	if !q.NOutputsOpen.Contains(500) {
		t.Error("open output count below MinNOutputs excluded")
	}

	q = ParseQuery(url.Values{"minNOutputsOpen": {"-3"}, "minNOutputs": {"10"}}, l)
	if q.NOutputsOpen.Min != 0 || q.NOutputs.Min != 1000 {
		t.Errorf("clamped minimums = %d, %d", q.NOutputsOpen.Min, q.NOutputs.Min)
	}
	if diff := cmp.Diff(q, ParseQuery(q.Values(l), l)); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}
