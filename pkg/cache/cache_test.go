package cache

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func countingHandler(calls *atomic.Int32, status int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-type", "application/json")
		w.WriteHeader(status)
		w.Write([]byte(`{"path":"` + r.URL.Path + `"}`))
	})
}

func TestMiddlewareCachesOK(t *testing.T) {
	var calls atomic.Int32
	c := New(16, time.Hour)
	h := c.Middleware(countingHandler(&calls, http.StatusOK))

	first := httptest.NewRecorder()
	h.ServeHTTP(first, httptest.NewRequest(http.MethodGet, "/api/countries?page=1", nil))
	if got := first.Header().Get(HeaderCache); got != "MISS" {
		t.Errorf("first X-Cache = %q, want MISS", got)
	}
	c.Wait()

	second := httptest.NewRecorder()
	h.ServeHTTP(second, httptest.NewRequest(http.MethodGet, "/api/countries?page=1", nil))
	if got := second.Header().Get(HeaderCache); got != "HIT" {
		t.Errorf("second X-Cache = %q, want HIT", got)
	}
	if second.Body.String() != first.Body.String() {
		t.Errorf("cached body = %q, want %q", second.Body.String(), first.Body.String())
	}
	if second.Header().Get("Content-type") != "application/json" {
		t.Errorf("cached headers lost: %v", second.Header())
	}
	if calls.Load() != 1 {
		t.Errorf("handler called %d times, want 1", calls.Load())
	}
}

func TestMiddlewareKeyIncludesQuery(t *testing.T) {
	var calls atomic.Int32
	c := New(16, time.Hour)
	h := c.Middleware(countingHandler(&calls, http.StatusOK))

	for _, target := range []string{"/api/countries?page=1", "/api/countries?page=2", "/api/countries"} {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, target, nil))
		c.Wait()
	}
	if calls.Load() != 3 {
		t.Errorf("handler called %d times, want 3", calls.Load())
	}
	if c.Len() != 3 {
		t.Errorf("Len() = %d, want 3", c.Len())
	}
}

func TestMiddlewareSkipsErrors(t *testing.T) {
	var calls atomic.Int32
	c := New(16, time.Hour)
	h := c.Middleware(countingHandler(&calls, http.StatusBadRequest))

	for range 2 {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/countries?orderBy=x", nil))
		c.Wait()
	}
	if calls.Load() != 2 {
		t.Errorf("error responses were cached")
	}
}

func TestPurgeAndExpiry(t *testing.T) {
	var calls atomic.Int32
	c := New(16, 50*time.Millisecond)
	h := c.Middleware(countingHandler(&calls, http.StatusOK))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))
	c.Wait()
	c.Purge()
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))
	c.Wait()
	if calls.Load() != 2 {
		t.Errorf("purged entry still served")
	}

	time.Sleep(120 * time.Millisecond)
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))
	if calls.Load() != 3 {
		t.Errorf("expired entry still served")
	}
}

func TestMiddlewareHonoursNoStore(t *testing.T) {
	var calls atomic.Int32
	c := New(16, time.Hour)
	h := c.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Cache-Control", "no-store")
		w.Write([]byte("ok"))
	}))

	for range 2 {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))
		c.Wait()
	}
	if calls.Load() != 2 || c.Len() != 0 {
		t.Errorf("no-store response cached: calls=%d len=%d", calls.Load(), c.Len())
	}
}

func TestMiddlewareDropsOuterHeaders(t *testing.T) {
	c := New(16, time.Hour)
	h := c.Middleware(countingHandler(new(atomic.Int32), http.StatusOK))

	first := httptest.NewRecorder()
	first.Header().Set("X-Request-Id", "first")
	h.ServeHTTP(first, httptest.NewRequest(http.MethodGet, "/api/countries", nil))
	c.Wait()

	second := httptest.NewRecorder()
	second.Header().Set("X-Request-Id", "second")
	h.ServeHTTP(second, httptest.NewRequest(http.MethodGet, "/api/countries", nil))
	if got := second.Header().Get("X-Request-Id"); got != "second" {
		t.Errorf("X-Request-Id = %q, want the replaying request's id", got)
	}
}

func TestPurgeDiscardsInFlightResponse(t *testing.T) {
	c := New(16, time.Hour)
	started := make(chan struct{})
	release := make(chan struct{})
	h := c.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(started)
		<-release
		w.Write([]byte("stale"))
	}))

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/countries", nil))
	}()
	<-started
	c.Purge()
	close(release)
	<-done
	c.Wait()

	if c.Len() != 0 {
		t.Errorf("Len() = %d, want 0: response produced before Purge was stored", c.Len())
	}
}
