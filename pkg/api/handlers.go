package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/The-Academic-Observatory/coki-oa-web-sub000/pkg/core"
	"github.com/The-Academic-Observatory/coki-oa-web-sub000/pkg/query"
	"github.com/The-Academic-Observatory/coki-oa-web-sub000/pkg/search"
	"github.com/The-Academic-Observatory/coki-oa-web-sub000/pkg/version"
)

// retryAfter is sent with 503 responses, in seconds.
const retryAfter = "5"

func (s *Server) HandleSearch(w http.ResponseWriter, r *http.Request) {
	// Blank text is a valid search with no results; only a missing
	// segment is routed to HandleNotFound.
	text := r.PathValue("text")

	svc := s.provider.Service()
	params := r.URL.Query()
	limit := intParam(params.Get("limit"), svc.SearchLimits().DefaultLimit)
	page := intParam(params.Get("page"), 0)

	env, err := svc.SearchEntities(r.Context(), text, page, limit)
	if err != nil {
		s.handleError(w, err)
		return
	}

	// The search route answers with the bare result array.
	s.writeJSON(w, http.StatusOK, env.Items)
}

// HandleFilter returns the handler listing the collection of kind.
func (s *Server) HandleFilter(kind core.EntityType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if s.opts.QueryTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, s.opts.QueryTimeout)
			defer cancel()
		}

		env, err := s.provider.Service().FilterEntities(ctx, string(kind), r.URL.Query())
		if err != nil {
			s.handleError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, env)
	}
}

func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	svc := s.provider.Service()
	ds := svc.Dataset()
	health := HealthResponse{
		Status:       "ok",
		Timestamp:    time.Now().UTC(),
		Version:      version.APIVersion(),
		Countries:    ds.Countries.Len(),
		Institutions: ds.Institutions.Len(),
		IndexTokens:  svc.Index().Tokens(),
	}

	// Health must reflect the live snapshot, never a cached copy.
	w.Header().Set("Content-type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	s.encode(w, health)
}

func (s *Server) HandleNotFound(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-type", "application/json")
	w.WriteHeader(http.StatusNotFound)
	s.encode(w, "Not found")
}

func (s *Server) handleError(w http.ResponseWriter, err error) {
	var verr *query.ValidationError
	switch {
	case errors.As(err, &verr):
		s.writeError(w, http.StatusBadRequest, "Invalid request", verr.Error())
	case errors.Is(err, search.ErrTransient), errors.Is(err, context.DeadlineExceeded):
		logger.Warnf("backend unavailable: %v", err)
		w.Header().Set("Retry-After", retryAfter)
		s.writeError(w, http.StatusServiceUnavailable, "Service unavailable", "The query backend is temporarily unavailable")
	case errors.Is(err, context.Canceled):
		logger.Debugf("request canceled: %v", err)
	default:
		logger.Errorf("request failed: %v", err)
		s.writeError(w, http.StatusInternalServerError, "Internal error", "The request could not be completed")
	}
}

// intParam parses a query integer, falling back to def when it is absent
// or malformed.
func intParam(raw string, def int) int {
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}
