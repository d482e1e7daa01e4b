package services

import (
	"sort"
	"strings"

	"example.com/backstage/contacts/internal/repositories"
)

var (
	// ErrNotFound is returned when a contact does not exist
	ErrNotFound = repositories.ErrNotFound
	// ErrInvalidState is returned when a contact cannot move to the requested status
	ErrInvalidState = repositories.ErrInvalidState
)

// ValidationError carries per-field messages for a rejected request
type ValidationError struct {
	Fields map[string]string
}

// NewValidationError creates a validation error for a single field
func NewValidationError(field, msg string) *ValidationError {
	return &ValidationError{Fields: map[string]string{field: msg}}
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "validation failed: " + strings.Join(parts, ", ")
}
