package catalog

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"sonicvision/internal/apperr"
)

// Lookup is the read surface the handlers need; *Client implements it.
type Lookup interface {
	Search(ctx context.Context, query, typ string, limit int) ([]Item, error)
	GetByID(ctx context.Context, id string) (*Item, error)
	ListCurated(ctx context.Context, limit int) ([]Item, error)
}

// Server exposes one Lookup per provider under /catalog/{provider}.
type Server struct {
	catalogs map[string]Lookup
	log      *zap.Logger
}

func NewServer(catalogs map[string]Lookup, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{catalogs: catalogs, log: log}
}

func (s *Server) Mount(r chi.Router) {
	r.Get("/catalog/providers", s.HandleProviders)
	r.Route("/catalog/{provider}", func(r chi.Router) {
		r.Get("/search", s.HandleSearch)
		r.Get("/items/{id}", s.HandleGetItem)
		r.Get("/curated", s.HandleCurated)
	})
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (Lookup, bool) {
	name := strings.ToLower(chi.URLParam(r, "provider"))
	l, ok := s.catalogs[name]
	if !ok {
		writeError(w, http.StatusNotFound, "unknown catalog provider")
		return nil, false
	}
	return l, true
}

func (s *Server) HandleProviders(w http.ResponseWriter, r *http.Request) {
	names := make([]string, 0, len(s.catalogs))
	for name := range s.catalogs {
		names = append(names, name)
	}
	sort.Strings(names)
	writeJSON(w, http.StatusOK, map[string][]string{"providers": names})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) writeCatalogError(w http.ResponseWriter, op string, err error) {
	status := apperr.HTTPStatus(err)
	if status == http.StatusInternalServerError {
		s.log.Error(op, zap.Error(err))
		writeError(w, status, "failed to query provider")
		return
	}
	writeError(w, status, apperr.Message(err))
}

func parseLimit(r *http.Request) int {
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 && v <= maxLimit {
		return v
	}
	return defaultLimit
}

func (s *Server) HandleSearch(w http.ResponseWriter, r *http.Request) {
	catalog, ok := s.lookup(w, r)
	if !ok {
		return
	}
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		q = strings.TrimSpace(r.URL.Query().Get("query"))
	}
	if q == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}
	if len(q) > maxQueryLength {
		writeError(w, http.StatusBadRequest, "query is too long")
		return
	}

	items, err := catalog.Search(r.Context(), q, r.URL.Query().Get("type"), parseLimit(r))
	if err != nil {
		s.writeCatalogError(w, "catalog search", err)
		return
	}
	writeJSON(w, http.StatusOK, SearchResponse{Items: items, Total: len(items)})
}

func (s *Server) HandleGetItem(w http.ResponseWriter, r *http.Request) {
	catalog, ok := s.lookup(w, r)
	if !ok {
		return
	}
	it, err := catalog.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeCatalogError(w, "catalog get item", err)
		return
	}
	writeJSON(w, http.StatusOK, it)
}

func (s *Server) HandleCurated(w http.ResponseWriter, r *http.Request) {
	catalog, ok := s.lookup(w, r)
	if !ok {
		return
	}
	items, err := catalog.ListCurated(r.Context(), parseLimit(r))
	if err != nil {
		s.writeCatalogError(w, "catalog curated", err)
		return
	}
	writeJSON(w, http.StatusOK, SearchResponse{Items: items, Total: len(items)})
}
