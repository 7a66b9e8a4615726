package persistence

import (
	"errors"
	"fmt"
)

var (
	// ErrPersistence classifies every failure reported by a persistence backend.
	// Missing keys, closed adapters and transport errors all share this kind.
	ErrPersistence = errors.New("persistence error")
	// ErrNotOpen is returned by record operations issued outside Open/Close.
	ErrNotOpen = Error("persistence is not open")
)

// Error returns an ErrPersistence carrying message.
func Error(message string) error {
	if message == "" {
		return ErrPersistence
	}
	return fmt.Errorf("%w: %s", ErrPersistence, message)
}

// Wrap returns an ErrPersistence carrying message and joined with cause.
// A nil cause yields the same result as Error.
func Wrap(message string, cause error) error {
	if cause == nil {
		return Error(message)
	}
	return errors.Join(Error(message), cause)
}
