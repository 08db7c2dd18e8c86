// Package apperr defines the error kinds shared by the collection service,
// the catalog client and their HTTP handlers.
package apperr

import (
	"errors"
	"net/http"
	"strings"
)

var (
	ErrUnauthenticated    = errors.New("unauthenticated")
	ErrForbidden          = errors.New("forbidden")
	ErrNotFound           = errors.New("not found")
	ErrConflict           = errors.New("conflict")
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrServiceUnavailable = errors.New("service unavailable")
)

var kinds = []struct {
	err    error
	status int
}{
	{ErrUnauthenticated, http.StatusUnauthorized},
	{ErrForbidden, http.StatusForbidden},
	{ErrNotFound, http.StatusNotFound},
	{ErrConflict, http.StatusConflict},
	{ErrInvalidArgument, http.StatusBadRequest},
	{ErrServiceUnavailable, http.StatusServiceUnavailable},
}

// Kind returns the sentinel err wraps, or nil when err is not one of ours.
func Kind(err error) error {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.err
		}
	}
	return nil
}

// HTTPStatus maps err to a response status. Unknown errors are 500.
func HTTPStatus(err error) int {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.status
		}
	}
	return http.StatusInternalServerError
}

// Message returns the text that is safe to show a client. For wrapped kinds
// ("not found: collection") the detail after the kind is kept.
func Message(err error) string {
	if Kind(err) == nil {
		return "internal error"
	}
	return strings.TrimSpace(err.Error())
}
