package util

import "errors"

// Sentinel errors for common failure modes
var (
	// ErrNotFound indicates a required row or resource was not found
	ErrNotFound = errors.New("not found")

	// ErrInvalidConfig indicates invalid configuration
	ErrInvalidConfig = errors.New("invalid configuration")
)
