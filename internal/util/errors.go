package util

import (
	"errors"
	"fmt"
)

// Sentinel errors for common failure modes
var (
	// ErrInvalidArgument indicates malformed or missing caller input
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrInvalidRange indicates a date window whose start is after its end
	ErrInvalidRange = fmt.Errorf("%w: invalid date range", ErrInvalidArgument)

	// ErrNotFound indicates a detail lookup matched zero listens
	ErrNotFound = errors.New("not found")

	// ErrStorageUnavailable indicates the persistence layer failed or timed out
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrInvalidConfig indicates invalid configuration
	ErrInvalidConfig = errors.New("invalid configuration")
)

// InvalidArgumentf returns an error wrapping ErrInvalidArgument
func InvalidArgumentf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}
