package api

import (
	"net/http"

	"github.com/The-Academic-Observatory/coki-oa-web-sub000/pkg/core"
)

func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/search/{text}", s.HandleSearch)
	mux.HandleFunc("GET /api/countries", s.HandleFilter(core.Country))
	mux.HandleFunc("GET /api/institutions", s.HandleFilter(core.Institution))
	mux.HandleFunc("GET /health", s.HandleHealth)
	// Everything else, including /api/search/ without text.
	mux.HandleFunc("/", s.HandleNotFound)
}
