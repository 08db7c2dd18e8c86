package collection

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"sonicvision/internal/auth"
)

func (s *Server) handleListCollections(w http.ResponseWriter, r *http.Request) {
	p := auth.FromContext(r.Context())
	collections, err := s.svc.ListVisible(r.Context(), p)
	if err != nil {
		s.writeServiceError(w, r, "list collections", err)
		return
	}
	writeJSON(w, http.StatusOK, collections)
}

// handleCreateCollection creates a collection owned by the caller.
func (s *Server) handleCreateCollection(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	p := auth.FromContext(ctx)

	var body struct {
		Kind        string `json:"kind"`
		Name        string `json:"name"`
		Description string `json:"description"`
		IsPublic    *bool  `json:"isPublic"` // optional, default true
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if body.Kind == "" {
		body.Kind = string(KindPlaylist)
	}
	isPublic := true
	if body.IsPublic != nil {
		isPublic = *body.IsPublic
	}

	c, err := s.svc.CreateCollection(ctx, p, Kind(body.Kind), body.Name, body.Description, isPublic)
	if err != nil {
		s.writeServiceError(w, r, "create collection", err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (s *Server) handleGetCollection(w http.ResponseWriter, r *http.Request) {
	p := auth.FromContext(r.Context())
	d, err := s.svc.GetCollection(r.Context(), p, chi.URLParam(r, "id"))
	if err != nil {
		s.writeServiceError(w, r, "get collection", err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handlePatchCollection(w http.ResponseWriter, r *http.Request) {
	p := auth.FromContext(r.Context())

	var patch Patch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	c, err := s.svc.UpdateCollection(r.Context(), p, chi.URLParam(r, "id"), patch)
	if err != nil {
		s.writeServiceError(w, r, "update collection", err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleDeleteCollection(w http.ResponseWriter, r *http.Request) {
	p := auth.FromContext(r.Context())
	id := chi.URLParam(r, "id")
	if err := s.svc.DeleteCollection(r.Context(), p, id); err != nil {
		s.writeServiceError(w, r, "delete collection", err)
		return
	}
	s.log.Debug("collection removed over http", zap.String("collection_id", id))
	w.WriteHeader(http.StatusNoContent)
}
