package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors shared by the engines.
var (
	ErrIndexUnavailable    = errors.New("similarity index unavailable")
	ErrEmptyNeighbors      = errors.New("no neighbors returned")
	ErrEncoding            = errors.New("encoder failure")
	ErrInvalidModification = errors.New("invalid modification")
	ErrTwinNotFound        = errors.New("no success twin above similarity floor")
	ErrClientNotFound      = errors.New("client not found")
	ErrCheckpointOrder     = errors.New("checkpoint out of order")

	ErrNotFinite         = errors.New("value must be a finite number")
	ErrNegativeAmount    = errors.New("amount must not be negative")
	ErrRatioOutOfRange   = errors.New("ratio must be within [0,1]")
	ErrUnknownEmployment = errors.New("unknown employment type")
)

// ValidationError wraps a sentinel with context.
type ValidationError struct {
	Field   string
	Value   string
	Wrapped error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s (value=%q)", e.Wrapped, e.Field, e.Value)
}

func (e *ValidationError) Unwrap() error { return e.Wrapped }

// NewValidationError creates a ValidationError.
func NewValidationError(field, value string, wrapped error) *ValidationError {
	return &ValidationError{Field: field, Value: value, Wrapped: wrapped}
}
