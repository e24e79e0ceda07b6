package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/klauspost/compress/gzip"

	"github.com/The-Academic-Observatory/coki-oa-web-sub000/internal/fixture"
	"github.com/The-Academic-Observatory/coki-oa-web-sub000/pkg/cache"
	"github.com/The-Academic-Observatory/coki-oa-web-sub000/pkg/core"
	"github.com/The-Academic-Observatory/coki-oa-web-sub000/pkg/query"
	"github.com/The-Academic-Observatory/coki-oa-web-sub000/pkg/search"
)

func setupTestAPIServer(t *testing.T, opts Options, svcOpts search.Options) (*Server, http.Handler) {
	t.Helper()
	svc := search.NewService(fixture.Dataset(t), nil, svcOpts)
	srv := NewServer(Static(svc), opts)
	return srv, srv.Handler()
}

func get(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decoding %q: %v", w.Body.String(), err)
	}
	return v
}

func ids[T any](items []T, id func(T) string) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = id(it)
	}
	return out
}

func TestHandleFilter(t *testing.T) {
	_, h := setupTestAPIServer(t, Options{CacheTTL: 7 * 24 * time.Hour}, search.Options{})

	tests := []struct {
		name      string
		target    string
		wantIDs   []string
		wantTotal int
	}{
		{
			name:      "countries by subregion",
			target:    "/api/countries?subregions=Western%20Asia",
			wantIDs:   []string{"ARE", "JOR", "IRQ"},
			wantTotal: 3,
		},
		{
			name:      "countries by id",
			target:    "/api/countries?ids=AUS,BGR&orderBy=name&orderDir=asc",
			wantIDs:   []string{"AUS", "BGR"},
			wantTotal: 2,
		},
		{
			name:      "institutions in australia",
			target:    "/api/institutions?countries=AUS&orderBy=name&orderDir=asc",
			wantIDs:   []string{"019wvm592", "001xkv632", "01p93h210"},
			wantTotal: 3,
		},
		{
			name:      "page past the end",
			target:    "/api/countries?page=40",
			wantIDs:   []string{},
			wantTotal: 19,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := get(t, h, tt.target)
			if w.Code != http.StatusOK {
				t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
			}
			if got := w.Header().Get("Content-Type"); got != "application/json" {
				t.Errorf("Content-Type = %q", got)
			}
			if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
				t.Errorf("Access-Control-Allow-Origin = %q", got)
			}
			if got := w.Header().Get("Cache-Control"); got != "public, max-age=604800" {
				t.Errorf("Cache-Control = %q", got)
			}

			env := decode[search.Envelope[core.Entity]](t, w)
			got := ids(env.Items, func(e core.Entity) string { return e.ID })
			if diff := cmp.Diff(tt.wantIDs, got); diff != "" {
				t.Errorf("ids mismatch (-want +got):\n%s", diff)
			}
			if env.NItems != tt.wantTotal {
				t.Errorf("nItems = %d, want %d", env.NItems, tt.wantTotal)
			}
		})
	}
}

func TestHandleFilterEchoesSettings(t *testing.T) {
	_, h := setupTestAPIServer(t, Options{}, search.Options{})

	w := get(t, h, "/api/countries?limit=500&page=-3")
	env := decode[search.Envelope[core.Entity]](t, w)
	if env.Limit != 18 || env.Page != 0 {
		t.Errorf("page settings = %d/%d, want 0/18", env.Page, env.Limit)
	}
	if env.OrderBy != query.FieldPOutputsOpen || env.OrderDir != query.Dsc {
		t.Errorf("order = %s %s", env.OrderBy, env.OrderDir)
	}
	if env.Min == nil || env.Max == nil {
		t.Fatal("bounds missing")
	}
	if env.Min.POutputsOpen != 20 || env.Max.POutputsOpen != 75 {
		t.Errorf("p_outputs_open bounds = %v..%v, want 20..75", env.Min.POutputsOpen, env.Max.POutputsOpen)
	}
}

func TestHandleFilterValidation(t *testing.T) {
	_, h := setupTestAPIServer(t, Options{CacheTTL: time.Hour}, search.Options{})

	w := get(t, h, "/api/institutions?orderBy=id%3BDROP%20TABLE%20institution")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	resp := decode[ErrorResponse](t, w)
	if resp.Error == "" || !strings.Contains(resp.Message, "orderBy") {
		t.Errorf("error response = %+v", resp)
	}
	if w.Header().Get("Cache-Control") != "" {
		t.Errorf("error response advertised as cacheable")
	}
}

type failingBackend struct {
	err error
}

func (b failingBackend) Filter(context.Context, core.EntityType, query.Query, query.PageSettings) (*search.Page, error) {
	return nil, b.err
}

func TestHandleFilterBackendErrors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"transient", fmt.Errorf("%w: database is locked", search.ErrTransient), http.StatusServiceUnavailable},
		{"deadline", context.DeadlineExceeded, http.StatusServiceUnavailable},
		{"other", fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, h := setupTestAPIServer(t, Options{CacheTTL: time.Hour}, search.Options{Backend: failingBackend{err: tt.err}})

			w := get(t, h, "/api/countries")
			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if tt.wantStatus == http.StatusServiceUnavailable && w.Header().Get("Retry-After") == "" {
				t.Error("Retry-After missing")
			}
			srv.Cache().Wait()
			if srv.Cache().Len() != 0 {
				t.Error("error response was cached")
			}
		})
	}
}

func TestHandleSearch(t *testing.T) {
	_, h := setupTestAPIServer(t, Options{}, search.Options{})

	tests := []struct {
		name    string
		target  string
		wantLen int
		first   string
	}{
		{"single result", "/api/search/south?limit=1", 1, "SSD"},
		// Six entities match "south", below the default limit of 10.
		{"default limit", "/api/search/south", 6, "SSD"},
		{"limit five", "/api/search/south?limit=5", 5, "SSD"},
		{"accent folded", "/api/search/universite", 1, "03haqmz43"},
		{"no match", "/api/search/zzzz", 0, ""},
		{"blank text", "/api/search/%20%20", 0, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := get(t, h, tt.target)
			if w.Code != http.StatusOK {
				t.Fatalf("status = %d", w.Code)
			}
			items := decode[[]search.Projection](t, w)
			if len(items) != tt.wantLen {
				t.Errorf("got %d results, want %d", len(items), tt.wantLen)
			}
			if tt.first != "" && (len(items) == 0 || items[0].ID != tt.first) {
				t.Errorf("first result = %v, want %s", ids(items, func(p search.Projection) string { return p.ID }), tt.first)
			}
			if items == nil {
				t.Error("results must encode as an array")
			}
		})
	}
}

func TestNotFound(t *testing.T) {
	_, h := setupTestAPIServer(t, Options{CacheTTL: time.Hour}, search.Options{})

	for _, target := range []string{"/api/search/", "/nope", "/api/regions"} {
		t.Run(target, func(t *testing.T) {
			w := get(t, h, target)
			if w.Code != http.StatusNotFound {
				t.Fatalf("status = %d, want 404", w.Code)
			}
			if got := decode[string](t, w); got != "Not found" {
				t.Errorf("body = %q", got)
			}
			if w.Header().Get("Access-Control-Allow-Origin") != "*" {
				t.Error("CORS header missing on 404")
			}
		})
	}
}

func TestHandleHealth(t *testing.T) {
	srv, h := setupTestAPIServer(t, Options{CacheTTL: time.Hour}, search.Options{})

	w := get(t, h, "/health")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	health := decode[HealthResponse](t, w)
	if health.Status != "ok" || health.Countries != 19 || health.Institutions != 12 {
		t.Errorf("health = %+v", health)
	}
	srv.Cache().Wait()
	if srv.Cache().Len() != 0 {
		t.Error("health response was cached")
	}
}

func TestResultCache(t *testing.T) {
	srv, h := setupTestAPIServer(t, Options{CacheTTL: time.Hour, CacheSize: 8}, search.Options{})

	first := get(t, h, "/api/countries?regions=Africa")
	if first.Header().Get(cache.HeaderCache) != "MISS" {
		t.Errorf("first X-Cache = %q", first.Header().Get(cache.HeaderCache))
	}
	srv.Cache().Wait()

	second := get(t, h, "/api/countries?regions=Africa")
	if second.Header().Get(cache.HeaderCache) != "HIT" {
		t.Errorf("second X-Cache = %q", second.Header().Get(cache.HeaderCache))
	}
	if second.Body.String() != first.Body.String() {
		t.Error("cached body differs")
	}
	if first.Header().Get(HeaderRequestID) == second.Header().Get(HeaderRequestID) {
		t.Error("request id replayed from cache")
	}

	srv.Cache().Purge()
	third := get(t, h, "/api/countries?regions=Africa")
	if third.Header().Get(cache.HeaderCache) != "MISS" {
		t.Errorf("after purge X-Cache = %q", third.Header().Get(cache.HeaderCache))
	}
}

// swapProvider serves whichever service was stored last.
type swapProvider struct {
	current atomic.Pointer[search.Service]
}

func (p *swapProvider) Service() *search.Service { return p.current.Load() }

// blockingBackend answers every filter with a fixed total once released.
type blockingBackend struct {
	started chan struct{}
	release chan struct{}
	total   int
}

func (b *blockingBackend) Filter(context.Context, core.EntityType, query.Query, query.PageSettings) (*search.Page, error) {
	close(b.started)
	<-b.release
	return &search.Page{Items: []core.Entity{}, Total: b.total}, nil
}

func TestResultCacheDropsResponsesFromBeforeReload(t *testing.T) {
	ds := fixture.Dataset(t)
	old := &blockingBackend{started: make(chan struct{}), release: make(chan struct{}), total: 999}

	provider := &swapProvider{}
	provider.current.Store(search.NewService(ds, nil, search.Options{Backend: old}))
	srv := NewServer(provider, Options{CacheTTL: time.Hour, CacheSize: 8})
	h := srv.Handler()

	done := make(chan *httptest.ResponseRecorder, 1)
	go func() { done <- get(t, h, "/api/countries") }()
	<-old.started

	// Reload while the request is still running on the old dataset.
	provider.current.Store(search.NewService(ds, nil, search.Options{}))
	srv.Cache().Purge()
	close(old.release)

	if w := <-done; decode[search.Envelope[core.Entity]](t, w).NItems != 999 {
		t.Fatalf("in-flight request body = %s", w.Body.String())
	}
	srv.Cache().Wait()

	w := get(t, h, "/api/countries")
	if got := w.Header().Get(cache.HeaderCache); got != "MISS" {
		t.Errorf("X-Cache = %q, want MISS", got)
	}
	if env := decode[search.Envelope[core.Entity]](t, w); env.NItems != 19 {
		t.Errorf("nItems = %d, want 19 from the reloaded dataset", env.NItems)
	}
}

func TestCompression(t *testing.T) {
	srv, h := setupTestAPIServer(t, Options{CacheTTL: time.Hour, Compress: true}, search.Options{})

	for i, want := range []string{"MISS", "HIT"} {
		req := httptest.NewRequest(http.MethodGet, "/api/countries", nil)
		req.Header.Set("Accept-Encoding", "gzip")
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		srv.Cache().Wait()

		if w.Header().Get("Content-Encoding") != "gzip" {
			t.Fatalf("request %d: Content-Encoding = %q", i, w.Header().Get("Content-Encoding"))
		}
		if w.Header().Get(cache.HeaderCache) != want {
			t.Errorf("request %d: X-Cache = %q, want %s", i, w.Header().Get(cache.HeaderCache), want)
		}
		zr, err := gzip.NewReader(w.Body)
		if err != nil {
			t.Fatal(err)
		}
		body, err := io.ReadAll(zr)
		if err != nil {
			t.Fatal(err)
		}
		var env search.Envelope[core.Entity]
		if err := json.Unmarshal(body, &env); err != nil {
			t.Fatalf("request %d: decoding: %v", i, err)
		}
		if env.NItems != 19 {
			t.Errorf("request %d: nItems = %d", i, env.NItems)
		}
	}
}

func TestRateLimit(t *testing.T) {
	_, h := setupTestAPIServer(t, Options{RateLimit: 0.001, RateBurst: 1}, search.Options{})

	if w := get(t, h, "/health"); w.Code != http.StatusOK {
		t.Fatalf("first status = %d", w.Code)
	}
	w := get(t, h, "/health")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("second status = %d, want 429", w.Code)
	}
	if w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("CORS header missing on 429")
	}

	other := httptest.NewRequest(http.MethodGet, "/health", nil)
	other.RemoteAddr = "198.51.100.7:4000"
	ow := httptest.NewRecorder()
	h.ServeHTTP(ow, other)
	if ow.Code != http.StatusOK {
		t.Errorf("other client status = %d, want 200", ow.Code)
	}
}

func TestCorsPreflight(t *testing.T) {
	_, h := setupTestAPIServer(t, Options{}, search.Options{})

	req := httptest.NewRequest(http.MethodOptions, "/api/countries", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusOK || w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Errorf("preflight = %d %v", w.Code, w.Header())
	}
}
