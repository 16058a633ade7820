// Package apperr defines the error kinds every service boundary reports.
package apperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/scoreforge/scoreforge/internal/store"
)

var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrAuthFailure     = errors.New("authentication failed")
	ErrForbidden       = errors.New("forbidden")
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("conflict")
	ErrTimeout         = errors.New("timeout")
	ErrInternal        = errors.New("internal error")
)

var kinds = []error{
	ErrInvalidArgument,
	ErrAuthFailure,
	ErrForbidden,
	ErrNotFound,
	ErrConflict,
	ErrTimeout,
	ErrInternal,
}

// Kind returns the sentinel err is classified under, or nil if it carries none.
func Kind(err error) error {
	for _, k := range kinds {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}

// Translate classifies a store or context error. Errors that already carry a
// kind pass through untouched. The original error stays in the chain so it
// can be logged, but callers outside the service only ever see the kind.
func Translate(err error) error {
	if err == nil {
		return nil
	}
	if Kind(err) != nil {
		return err
	}
	switch {
	case errors.Is(err, store.ErrNotFound):
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	case errors.Is(err, store.ErrDuplicateKey):
		return fmt.Errorf("%w: %w", ErrConflict, err)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	default:
		return fmt.Errorf("%w: %w", ErrInternal, err)
	}
}

// Message is the detail shown to clients. Internal and timeout errors get a
// fixed text so nothing about the backing store leaks.
func Message(err error) string {
	switch Kind(err) {
	case nil, ErrInternal:
		return "internal server error"
	case ErrTimeout:
		return "request timed out"
	default:
		return err.Error()
	}
}

// HTTPStatus maps an error to the status code reported to clients.
func HTTPStatus(err error) int {
	switch Kind(err) {
	case ErrInvalidArgument:
		return http.StatusBadRequest
	case ErrAuthFailure:
		return http.StatusUnauthorized
	case ErrForbidden:
		return http.StatusForbidden
	case ErrNotFound:
		return http.StatusNotFound
	case ErrConflict:
		return http.StatusConflict
	case ErrTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// Code maps an error to the machine-readable code in error bodies.
func Code(err error) string {
	switch Kind(err) {
	case ErrInvalidArgument:
		return "INVALID_ARGUMENT"
	case ErrAuthFailure:
		return "AUTH_FAILURE"
	case ErrForbidden:
		return "FORBIDDEN"
	case ErrNotFound:
		return "NOT_FOUND"
	case ErrConflict:
		return "CONFLICT"
	case ErrTimeout:
		return "TIMEOUT"
	default:
		return "INTERNAL_ERROR"
	}
}
