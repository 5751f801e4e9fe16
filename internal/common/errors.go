// Package common defines shared constants and sentinel errors used across
// client and server layers of ZKDrop. Callers should use errors.Is to
// match these values.
package common

import (
	"errors"
	"fmt"
)

var (
	// Repository-level errors.
	ErrorNotFound      = errors.New("not found")
	ErrDuplicateID     = errors.New("duplicate id")
	ErrVersionConflict = errors.New("version conflict")

	// Service-level errors (generic/internal flow control).
	ErrorInternal     = errors.New("internal error")
	ErrorUnauthorized = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrRateLimited    = errors.New("rate limited")

	// Validation errors, rejected before any storage I/O.
	ErrorIncorrectMetadata = errors.New("incorrect metadata")
	ErrInvalidTTL          = errors.New("invalid ttl class")
	ErrPayloadTooLarge     = errors.New("payload too large")

	// Lifecycle errors on the download path.
	ErrExpired            = errors.New("file expired")
	ErrDownloadsExhausted = errors.New("download limit reached")
	ErrPasswordRequired   = errors.New("access password required")
	ErrPasswordInvalid    = errors.New("access password invalid")

	// Auth errors (invalid or malformed token).
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
)

// ValidationError names the offending field of a rejected request.
// It matches ErrorIncorrectMetadata through errors.Is.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%v: %s: %s", ErrorIncorrectMetadata, e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrorIncorrectMetadata
}

// NewValidationError is a shorthand for &ValidationError{...}.
func NewValidationError(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}
