package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/klauspost/compress/gzhttp"

	"github.com/The-Academic-Observatory/coki-oa-web-sub000/pkg/cache"
	"github.com/The-Academic-Observatory/coki-oa-web-sub000/pkg/log"
	"github.com/The-Academic-Observatory/coki-oa-web-sub000/pkg/search"
)

var logger = log.ForService("api")

// Provider hands out the service snapshot a request should run against.
// The serve command swaps snapshots on reload; tests use a fixed one.
type Provider interface {
	Service() *search.Service
}

type staticProvider struct {
	svc *search.Service
}

func (p staticProvider) Service() *search.Service { return p.svc }

// Static returns a Provider that always returns svc.
func Static(svc *search.Service) Provider {
	return staticProvider{svc: svc}
}

type Options struct {
	// CacheTTL is advertised in Cache-Control and bounds result cache
	// entries. Zero disables both.
	CacheTTL  time.Duration
	CacheSize int

	// QueryTimeout bounds each filter request. Zero means no deadline.
	QueryTimeout time.Duration

	// RateLimit is requests per second per client address, zero disables.
	RateLimit float64
	RateBurst int

	Compress bool
}

type Server struct {
	provider Provider
	opts     Options
	cache    *cache.Cache
}

func NewServer(provider Provider, opts Options) *Server {
	s := &Server{provider: provider, opts: opts}
	if opts.CacheTTL > 0 {
		s.cache = cache.New(opts.CacheSize, opts.CacheTTL)
	}
	return s
}

// Cache returns the result cache, nil when caching is disabled.
func (s *Server) Cache() *cache.Cache {
	return s.cache
}

// Handler returns the complete HTTP handler: routes wrapped by CORS,
// request logging, rate limiting, compression and the result cache, in
// that order from the outside in.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)

	var h http.Handler = mux
	if s.cache != nil {
		h = s.cache.Middleware(h)
	}
	if s.opts.Compress {
		h = gzhttp.GzipHandler(h)
	}
	if s.opts.RateLimit > 0 {
		h = newRateLimiter(s.opts.RateLimit, s.opts.RateBurst).Middleware(h)
	}
	h = RequestLogMiddleware(h)
	return CorsMiddleware(h)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-type", "application/json")
	if status == http.StatusOK && s.opts.CacheTTL > 0 {
		w.Header().Set("Cache-Control", fmt.Sprintf("public, max-age=%d", int64(s.opts.CacheTTL.Seconds())))
	}
	w.WriteHeader(status)
	s.encode(w, data)
}

func (s *Server) encode(w http.ResponseWriter, data any) {
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Warnf("Error encoding JSON response: %v", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, error, message string) {
	response := ErrorResponse{
		Error:   error,
		Message: message,
	}
	s.writeJSON(w, status, response)
}

func CorsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
