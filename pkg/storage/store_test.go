package storage

import (
	"context"
	"errors"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/The-Academic-Observatory/coki-oa-web-sub000/internal/fixture"
	"github.com/The-Academic-Observatory/coki-oa-web-sub000/pkg/core"
	"github.com/The-Academic-Observatory/coki-oa-web-sub000/pkg/query"
	"github.com/The-Academic-Observatory/coki-oa-web-sub000/pkg/search"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()
	s, err := Open(ctx, filepath.Join(t.TempDir(), "oaweb.db"), 0)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("Close() error = %v", err)
		}
	})
	if err := s.Import(ctx, fixture.Dataset(t), "fixture"); err != nil {
		t.Fatalf("Import() error = %v", err)
	}
	return s
}

func TestImportCounts(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	for kind, want := range map[core.EntityType]int{core.Country: 19, core.Institution: len(fixture.Institutions())} {
		n, err := s.Count(ctx, kind)
		if err != nil {
			t.Fatal(err)
		}
		if n != want {
			t.Errorf("%s count = %d, want %d", kind, n, want)
		}
	}

	// Importing again replaces the previous rows.
	if err := s.Import(ctx, fixture.Dataset(t), "fixture"); err != nil {
		t.Fatalf("second Import() error = %v", err)
	}
	if n, _ := s.Count(ctx, core.Country); n != 19 {
		t.Errorf("country count after re-import = %d", n)
	}
}

func TestLastImport(t *testing.T) {
	ctx := context.Background()
	empty, err := Open(ctx, filepath.Join(t.TempDir(), "empty.db"), 0)
	if err != nil {
		t.Fatal(err)
	}
	defer empty.Close()
	if info, err := empty.LastImport(ctx); err != nil || info != nil {
		t.Errorf("LastImport() on empty database = %v, %v", info, err)
	}

	s := openStore(t)
	info, err := s.LastImport(ctx)
	if err != nil {
		t.Fatalf("LastImport() error = %v", err)
	}
	if info == nil || info.Countries != 19 || info.Institutions != 12 || info.Source != "fixture" {
		t.Fatalf("LastImport() = %+v", info)
	}
	if time.Since(info.ImportedAt) > time.Minute {
		t.Errorf("imported_at = %v", info.ImportedAt)
	}
}

// The SQL renderer must produce exactly the pages of the in-memory backend.
func TestFilterMatchesMemoryBackend(t *testing.T) {
	s := openStore(t)
	mem := search.NewMemoryBackend(fixture.Dataset(t))
	ctx := context.Background()

	requests := []struct {
		kind core.EntityType
		raw  string
	}{
		{core.Country, ""},
		{core.Country, "subregions=Western%20Asia"},
		{core.Country, "minNOutputs=1705&maxNOutputs=3252&orderBy=name&orderDir=asc"},
		{core.Country, "ids=AUS,BGR"},
		{core.Country, "regions=Europe,Africa&orderBy=n_outputs_closed&limit=3&page=1"},
		{core.Country, "minPOutputsOpen=50&maxPOutputsOpen=50&orderDir=asc"},
		{core.Country, "minNOutputs=5000&maxNOutputs=100"},
		{core.Country, "page=7"},
		{core.Institution, "institutionTypes=Education,Facility&orderBy=name"},
		{core.Institution, "countries=AUS,KEN&orderBy=p_outputs_open&orderDir=asc"},
		{core.Institution, "regions=Africa&institutionTypes=Government&limit=1"},
		{core.Institution, "countries=AUS&orderBy=stats.n_outputs_open&page=1&limit=2"},
	}

	for _, r := range requests {
		t.Run(string(r.kind)+"?"+r.raw, func(t *testing.T) {
			v, _ := url.ParseQuery(r.raw)
			q := query.ParseQuery(v, query.Limits{})
			ps, err := query.ParsePageSettings(v, query.TablePageLimits)
			if err != nil {
				t.Fatal(err)
			}

			want, err := mem.Filter(ctx, r.kind, q, ps)
			if err != nil {
				t.Fatal(err)
			}
			got, err := s.Filter(ctx, r.kind, q, ps)
			if err != nil {
				t.Fatalf("Filter() error = %v", err)
			}
			if len(want.Items) == 0 {
				want.Items = []core.Entity{}
			}
			if diff := cmp.Diff(want, got); diff != "" {
				t.Errorf("page mismatch (-memory +sqlite):\n%s", diff)
			}
		})
	}
}

func TestWhere(t *testing.T) {
	v, _ := url.ParseQuery("regions=Africa&countries=KEN&institutionTypes=Government,Healthcare")
	q := query.ParseQuery(v, query.Limits{})

	sql, args, err := Where("institution", q.Clauses(core.Institution))
	if err != nil {
		t.Fatal(err)
	}
	want := "region IN (?) AND country_code IN (?) AND " +
		"EXISTS (SELECT 1 FROM institution_type it WHERE it.institution_id = institution.id AND it.type IN (?, ?)) AND " +
		"n_outputs BETWEEN ? AND ? AND n_outputs_open BETWEEN ? AND ? AND p_outputs_open BETWEEN ? AND ?"
	if sql != want {
		t.Errorf("Where() =\n%s\nwant\n%s", sql, want)
	}
	if len(args) != 10 {
		t.Errorf("args = %v, want 10 values", args)
	}

	empty, args, err := Where("country", nil)
	if err != nil || empty != "1=1" || args != nil {
		t.Errorf("Where(nil) = %q, %v, %v", empty, args, err)
	}
}

func TestWhereKeepsValuesOutOfSQL(t *testing.T) {
	hostile := "x') OR 1=1; DROP TABLE country; --"
	q := query.All(query.Limits{})
	q.Regions = query.NewSet(hostile)

	sql, args, err := Where("country", q.Clauses(core.Country))
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(sql, "DROP") {
		t.Errorf("request value reached SQL text: %s", sql)
	}
	if args[0] != hostile {
		t.Errorf("first arg = %v", args[0])
	}

	s := openStore(t)
	ps := query.PageSettings{Limit: 18, OrderBy: query.FieldName, OrderDir: query.Asc}
	page, err := s.Filter(context.Background(), core.Country, q, ps)
	if err != nil {
		t.Fatal(err)
	}
	if page.Total != 0 {
		t.Errorf("hostile region matched %d rows", page.Total)
	}
	if n, err := s.Count(context.Background(), core.Country); err != nil || n != 19 {
		t.Errorf("country table damaged: %d, %v", n, err)
	}
}

func TestOrderByRejectsUnknownField(t *testing.T) {
	_, err := orderBy(query.PageSettings{OrderBy: query.Field("name; DROP TABLE country")})
	if err == nil {
		t.Fatal("expected error for field outside the allow-list")
	}
}

func TestFilterTransientError(t *testing.T) {
	s := openStore(t)
	if err := s.db.Close(); err != nil {
		t.Fatal(err)
	}

	ps := query.PageSettings{Limit: 18, OrderBy: query.FieldName, OrderDir: query.Asc}
	_, err := s.Filter(context.Background(), core.Country, query.All(query.Limits{}), ps)
	if !errors.Is(err, search.ErrTransient) {
		t.Errorf("error = %v, want ErrTransient", err)
	}
}
