package domain

import "errors"

// Sentinel errors shared across packages. Wrap with fmt.Errorf("...: %w").
var (
	// ErrNotFound is returned when a stored record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput is returned when a stored record fails validation.
	ErrInvalidInput = errors.New("invalid input")

	// ErrValidation is returned when raw input cannot be turned into features
	// or domain records (negative income, unparsable dates).
	ErrValidation = errors.New("validation failed")

	// ErrServiceUnavailable is returned when a dependency the engine needs,
	// such as the labeled training dataset, cannot be used.
	ErrServiceUnavailable = errors.New("service unavailable")

	// ErrSchemaMismatch is returned when a model artifact was trained on a
	// different feature schema than the one currently produced.
	ErrSchemaMismatch = errors.New("feature schema mismatch")
)
