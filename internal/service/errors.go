package service

import (
	"net/http"

	"github.com/nebari-dev/canvas-templates/internal/store"
)

// ErrNotFound indicates the requested template was not found.
var ErrNotFound = store.ErrNotFound

// ValidationError represents a bad-request condition (HTTP 400).
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// StatusCode reports the HTTP status for the error.
func (e *ValidationError) StatusCode() int { return http.StatusBadRequest }
