package collection

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"sonicvision/internal/auth"
)

func (s *Server) handleListCollaborators(w http.ResponseWriter, r *http.Request) {
	p := auth.FromContext(r.Context())
	collabs, err := s.svc.ListCollaborators(r.Context(), p, chi.URLParam(r, "id"))
	if err != nil {
		s.writeServiceError(w, r, "list collaborators", err)
		return
	}
	writeJSON(w, http.StatusOK, collabs)
}

func (s *Server) handlePutCollaborator(w http.ResponseWriter, r *http.Request) {
	p := auth.FromContext(r.Context())

	var body struct {
		CanEdit bool `json:"canEdit"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
	}

	collab, err := s.svc.AddCollaborator(r.Context(), p, chi.URLParam(r, "id"), chi.URLParam(r, "userId"), body.CanEdit)
	if err != nil {
		s.writeServiceError(w, r, "add collaborator", err)
		return
	}
	writeJSON(w, http.StatusOK, collab)
}

func (s *Server) handleDeleteCollaborator(w http.ResponseWriter, r *http.Request) {
	p := auth.FromContext(r.Context())
	if err := s.svc.RemoveCollaborator(r.Context(), p, chi.URLParam(r, "id"), chi.URLParam(r, "userId")); err != nil {
		s.writeServiceError(w, r, "remove collaborator", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCreateShare(w http.ResponseWriter, r *http.Request) {
	p := auth.FromContext(r.Context())
	link, err := s.svc.CreateShareLink(r.Context(), p, chi.URLParam(r, "id"))
	if err != nil {
		s.writeServiceError(w, r, "create share link", err)
		return
	}
	writeJSON(w, http.StatusCreated, link)
}

func (s *Server) handleRevokeShare(w http.ResponseWriter, r *http.Request) {
	p := auth.FromContext(r.Context())
	if err := s.svc.RevokeShareLink(r.Context(), p, chi.URLParam(r, "id")); err != nil {
		s.writeServiceError(w, r, "revoke share link", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleResolveShare(w http.ResponseWriter, r *http.Request) {
	p := auth.FromContext(r.Context())
	d, err := s.svc.ResolveShareLink(r.Context(), p, chi.URLParam(r, "code"))
	if err != nil {
		s.writeServiceError(w, r, "resolve share link", err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// handleUploadCover expects a multipart form with the image in "file".
func (s *Server) handleUploadCover(w http.ResponseWriter, r *http.Request) {
	limit := int64(s.svc.opts.MaxCoverBytes)
	r.Body = http.MaxBytesReader(w, r.Body, limit+1<<20)

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing cover file")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, limit+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "could not read cover file")
		return
	}

	p := auth.FromContext(r.Context())
	c, err := s.svc.UploadCover(r.Context(), p, chi.URLParam(r, "id"), data, header.Header.Get("Content-Type"))
	if err != nil {
		s.writeServiceError(w, r, "upload cover", err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}
