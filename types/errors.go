package types

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Sentinel errors classifying engine failures. Infrastructure clients return
// these wrapped with call-site context; callers test with [errors.Is].
//
//   - ErrNotFound: provider, SSN mapping or permission record does not exist.
//   - ErrInvalidRequest: schema or validation failure on caller input.
//   - ErrUnauthorized: caller lacks the scope required for the operation.
//   - ErrConflict: a uniqueness condition failed concurrently; recoverable
//     by re-reading, never a crash.
//   - ErrInternal: storage, queue or bus failure after local recovery
//     attempts (such as compensating deletes) are exhausted.
var (
	ErrNotFound       = errors.New("not found")
	ErrInvalidRequest = errors.New("invalid request")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrConflict       = errors.New("conflict")
	ErrInternal       = errors.New("internal service error")
)

// ValidationError reports one or more field-level validation failures. It
// unwraps to [ErrInvalidRequest] so callers can classify it without caring
// about individual fields.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%s: %s", name, e.Fields[name]))
	}

	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidRequest
}

// newValidationError returns nil when fields is empty, so Validate methods
// can collect into a map and return the result unconditionally.
func newValidationError(fields map[string]string) error {
	if len(fields) == 0 {
		return nil
	}
	return &ValidationError{Fields: fields}
}
