package collection

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"sonicvision/internal/auth"
)

// handleAddItem appends an item, or inserts it when position is given.
func (s *Server) handleAddItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	p := auth.FromContext(ctx)
	id := chi.URLParam(r, "id")

	var body struct {
		ExternalRef string `json:"externalRef"`
		Position    *int   `json:"position"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	var (
		it  *Item
		err error
	)
	if body.Position != nil {
		it, err = s.svc.InsertItem(ctx, p, id, body.ExternalRef, *body.Position)
	} else {
		it, err = s.svc.AddItem(ctx, p, id, body.ExternalRef)
	}
	if err != nil {
		s.writeServiceError(w, r, "add item", err)
		return
	}
	writeJSON(w, http.StatusCreated, it)
}

func (s *Server) handleMoveItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	p := auth.FromContext(ctx)
	ref := chi.URLParam(r, "ref")

	var body struct {
		Position *int `json:"position"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if body.Position == nil {
		writeError(w, http.StatusBadRequest, "position is required")
		return
	}

	from, to, err := s.svc.MoveItem(ctx, p, chi.URLParam(r, "id"), ref, *body.Position)
	if err != nil {
		s.writeServiceError(w, r, "move item", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"externalRef": ref,
		"from":        from,
		"to":          to,
	})
}

func (s *Server) handleRemoveItem(w http.ResponseWriter, r *http.Request) {
	p := auth.FromContext(r.Context())
	if err := s.svc.RemoveItem(r.Context(), p, chi.URLParam(r, "id"), chi.URLParam(r, "ref")); err != nil {
		s.writeServiceError(w, r, "remove item", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleReorderItems(w http.ResponseWriter, r *http.Request) {
	p := auth.FromContext(r.Context())

	var body struct {
		Order []string `json:"order"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	items, err := s.svc.ReorderItems(r.Context(), p, chi.URLParam(r, "id"), body.Order)
	if err != nil {
		s.writeServiceError(w, r, "reorder items", err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}
