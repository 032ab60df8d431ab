package storage

import (
	"context"
	"errors"
)

// Storage errors shared by every backend.
var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateKey is returned when a record with the same natural key
	// (mint, recorded_at) was already written. Callers retrying a write treat
	// it as success.
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrInvalidInput is returned when input validation fails.
	ErrInvalidInput = errors.New("invalid input")

	// ErrUnavailable is returned when the backing store cannot be reached.
	// A batch writer stops on it and requeues what is left.
	ErrUnavailable = errors.New("store unavailable")
)

// IsRetryable reports whether err means the whole store is failing rather
// than a single record being rejected.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrUnavailable) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}
