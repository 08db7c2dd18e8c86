package collection

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) error

type Server struct {
	svc    *Service
	log    *zap.Logger
	checks map[string]HealthCheck
}

func NewServer(svc *Service, log *zap.Logger, checks map[string]HealthCheck) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{
		svc:    svc,
		log:    log,
		checks: checks,
	}
}

// Mount registers the collection routes on r.
func (s *Server) Mount(r chi.Router) {
	r.Get("/health", s.handleHealth)

	r.Get("/collections", s.handleListCollections)
	r.Post("/collections", s.handleCreateCollection)
	r.Get("/collections/{id}", s.handleGetCollection)
	r.Patch("/collections/{id}", s.handlePatchCollection)
	r.Delete("/collections/{id}", s.handleDeleteCollection)

	r.Post("/collections/{id}/items", s.handleAddItem)
	r.Put("/collections/{id}/items/order", s.handleReorderItems)
	r.Patch("/collections/{id}/items/{ref}", s.handleMoveItem)
	r.Delete("/collections/{id}/items/{ref}", s.handleRemoveItem)

	r.Get("/collections/{id}/collaborators", s.handleListCollaborators)
	r.Put("/collections/{id}/collaborators/{userId}", s.handlePutCollaborator)
	r.Delete("/collections/{id}/collaborators/{userId}", s.handleDeleteCollaborator)

	r.Post("/collections/{id}/share", s.handleCreateShare)
	r.Delete("/collections/{id}/share", s.handleRevokeShare)
	r.Get("/shared/{code}", s.handleResolveShare)

	r.Put("/collections/{id}/cover", s.handleUploadCover)
}

func (s *Server) Router(middlewares ...func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	for _, mw := range middlewares {
		r.Use(mw)
	}
	s.Mount(r)
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	deps := map[string]string{}
	for name, check := range s.checks {
		if err := check(r.Context()); err != nil {
			s.log.Warn("health check failed", zap.String("dependency", name), zap.Error(err))
			deps[name] = "down"
			status = http.StatusServiceUnavailable
			continue
		}
		deps[name] = "ok"
	}
	state := "ok"
	if status != http.StatusOK {
		state = "degraded"
	}
	writeJSON(w, status, map[string]any{
		"status":       state,
		"service":      "sonicvision",
		"dependencies": deps,
	})
}
