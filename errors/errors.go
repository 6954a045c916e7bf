package errors

import "errors"

// Sentinel errors for common error conditions
var (
	// ErrNotFound indicates that a requested resource was not found
	ErrNotFound = errors.New("resource not found")

	// ErrAlreadyExists indicates that a resource already exists
	ErrAlreadyExists = errors.New("resource already exists")

	// ErrInvalidInput indicates that input validation failed
	ErrInvalidInput = errors.New("invalid input")

	// ErrDimensionMismatch indicates that an embedding does not match the
	// configured dimension
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrThrottled indicates that an operation was skipped by a failure throttle
	ErrThrottled = errors.New("operation throttled")

	// ErrInternal indicates an internal error
	ErrInternal = errors.New("internal error")
)
