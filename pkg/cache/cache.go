// Package cache keeps successful API responses keyed by full request URL.
//
// The cache is an optimisation only. A miss always falls through to the
// wrapped handler, and entries are stored after the response has been
// written to the client.
package cache

import (
	"bytes"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/The-Academic-Observatory/coki-oa-web-sub000/pkg/log"
)

var logger = log.ForService("cache")

// Header names set on cached responses.
const HeaderCache = "X-Cache"

// storedHeaders are replayed on a hit. Headers owned by outer middleware
// (request ids, content encoding) are left to that middleware.
var storedHeaders = []string{"Content-Type", "Cache-Control"}

type entry struct {
	header http.Header
	body   []byte
}

// Cache is a bounded, TTL based response cache safe for concurrent use.
//
// Every Purge starts a new generation. A response is only stored if no
// purge happened while it was being produced.
type Cache struct {
	lru *expirable.LRU[string, entry]
	ttl time.Duration
	wg  sync.WaitGroup

	mu  sync.Mutex
	gen uint64
}

// New returns a cache holding at most size responses for ttl each.
func New(size int, ttl time.Duration) *Cache {
	if size <= 0 {
		size = 1024
	}
	return &Cache{
		lru: expirable.NewLRU[string, entry](size, nil, ttl),
		ttl: ttl,
	}
}

// TTL returns the configured entry lifetime.
func (c *Cache) TTL() time.Duration { return c.ttl }

// Len returns the number of live entries.
func (c *Cache) Len() int { return c.lru.Len() }

// Purge drops every entry and discards responses still in flight. It is
// called after a dataset reload.
func (c *Cache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	c.lru.Purge()
}

func (c *Cache) generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen
}

// store adds e under key unless the cache was purged after gen was read.
func (c *Cache) store(key string, e entry, gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen {
		return false
	}
	c.lru.Add(key, e)
	return true
}

// Wait blocks until pending background stores have finished.
func (c *Cache) Wait() {
	c.wg.Wait()
}

// Key builds the cache key of r from the host and the raw request URI,
// query string included.
func Key(r *http.Request) string {
	return r.Host + r.URL.RequestURI()
}

// Middleware serves GET requests from the cache and records 200 responses
// produced by next, unless they are marked no-store.
func (c *Cache) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			next.ServeHTTP(w, r)
			return
		}

		key := Key(r)
		if e, ok := c.lru.Get(key); ok {
			for k, v := range e.header {
				w.Header()[k] = slices.Clone(v)
			}
			w.Header().Set(HeaderCache, "HIT")
			w.WriteHeader(http.StatusOK)
			if _, err := w.Write(e.body); err != nil {
				logger.Debugf("writing cached response: %v", err)
			}
			return
		}

		gen := c.generation()
		rec := &recorder{ResponseWriter: w, status: http.StatusOK}
		w.Header().Set(HeaderCache, "MISS")
		next.ServeHTTP(rec, r)

		if rec.status != http.StatusOK || rec.header == nil {
			return
		}
		if strings.Contains(rec.header.Get("Cache-Control"), "no-store") {
			return
		}
		header, body := rec.header, rec.buf.Bytes()

		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			if !c.store(key, entry{header: header, body: body}, gen) {
				logger.Debugf("dropped %s: cache purged while it was produced", key)
				return
			}
			logger.Debugf("stored %s (%d bytes)", key, len(body))
		}()
	})
}

// recorder copies the response body while passing it through.
type recorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
	header      http.Header
	buf         bytes.Buffer
}

// WriteHeader snapshots the replayable headers before passing the status
// on, so wrappers further out cannot leak into the stored entry.
func (r *recorder) WriteHeader(status int) {
	if !r.wroteHeader {
		r.status = status
		r.wroteHeader = true
		r.header = make(http.Header, len(storedHeaders))
		for _, k := range storedHeaders {
			if v := r.ResponseWriter.Header().Values(k); len(v) > 0 {
				r.header[k] = slices.Clone(v)
			}
		}
	}
	r.ResponseWriter.WriteHeader(status)
}

func (r *recorder) Write(p []byte) (int, error) {
	if !r.wroteHeader {
		r.WriteHeader(http.StatusOK)
	}
	r.buf.Write(p)
	return r.ResponseWriter.Write(p)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (r *recorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}
