package integration_tests

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/The-Academic-Observatory/coki-oa-web-sub000/internal/fixture"
	"github.com/The-Academic-Observatory/coki-oa-web-sub000/pkg/api"
	"github.com/The-Academic-Observatory/coki-oa-web-sub000/pkg/search"
	"github.com/The-Academic-Observatory/coki-oa-web-sub000/pkg/storage"
)

// testBackends names the filter backends every scenario runs against.
var testBackends = []string{"memory", "sqlite"}

// newTestServer starts an API server over the fixture dataset using the
// named backend. The SQLite store is populated from the same fixture.
func newTestServer(t *testing.T, backend string) (*httptest.Server, *storage.Store) {
	t.Helper()
	ds := fixture.Dataset(t)

	var (
		b     search.Backend
		store *storage.Store
	)
	if backend == "sqlite" {
		var err error
		store, err = storage.Open(context.Background(), filepath.Join(t.TempDir(), "oaweb.db"), 0)
		if err != nil {
			t.Fatalf("opening store: %v", err)
		}
		t.Cleanup(func() {
			if err := store.Close(); err != nil {
				t.Logf("Warning: failed to close store: %v", err)
			}
		})
		if err := store.Import(context.Background(), ds, "fixture"); err != nil {
			t.Fatalf("importing fixture: %v", err)
		}
		b = store
	}

	svc := search.NewService(ds, nil, search.Options{Backend: b})
	srv := httptest.NewServer(api.NewServer(api.Static(svc), api.Options{}).Handler())
	t.Cleanup(srv.Close)
	return srv, store
}

func getBody(t *testing.T, srv *httptest.Server, target string) (int, []byte) {
	t.Helper()
	resp, err := http.Get(srv.URL + target)
	if err != nil {
		t.Fatalf("GET %s: %v", target, err)
	}
	defer resp.Body.Close()

	buf, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("reading %s: %v", target, err)
	}
	return resp.StatusCode, buf
}
