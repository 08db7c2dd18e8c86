package collection

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"sonicvision/internal/apperr"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeServiceError maps err to its HTTP status. Unclassified errors are
// logged and reported as a database error.
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, op string, err error) {
	status := apperr.HTTPStatus(err)
	if status == http.StatusInternalServerError {
		s.log.Error(op,
			zap.Error(err),
			zap.String("path", r.URL.Path),
		)
		writeError(w, status, "database error")
		return
	}
	writeError(w, status, apperr.Message(err))
}
