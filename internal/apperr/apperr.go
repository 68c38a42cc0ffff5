// Package apperr holds the error classes shared by every layer. Domain packages wrap
// these sentinels so handlers can map any error to a status code with errors.Is.
package apperr

import (
	"errors"
	"fmt"
)

var (
	ErrValidation   = errors.New("validation failed")
	ErrNotFound     = errors.New("not found")
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrConflict     = errors.New("conflict")
	ErrUpstream     = errors.New("upstream failure")
)

// UpstreamError carries the provider name and the original failure.
type UpstreamError struct {
	Provider string
	Err      error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s: %v", e.Provider, e.Err)
}

func (e *UpstreamError) Unwrap() []error {
	return []error{ErrUpstream, e.Err}
}

// Upstream wraps err as a failure of the named provider.
func Upstream(provider string, err error) error {
	if err == nil {
		return nil
	}
	return &UpstreamError{Provider: provider, Err: err}
}

// Validation returns an ErrValidation carrying msg.
func Validation(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrValidation)
}
