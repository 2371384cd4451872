package domain

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrUnknownEventType rejects events whose type has no registered
	// payload decoding or strategy mapping.
	ErrUnknownEventType = errors.New("unknown event type")

	// ErrMalformedPayload rejects payloads that fail structural validation.
	// Payloads are never silently coerced.
	ErrMalformedPayload = errors.New("malformed payload")

	// ErrStorageTimeout marks a transient failure; the event is safe to
	// retry in a later batch.
	ErrStorageTimeout = errors.New("storage timeout")

	// ErrStorageUnavailable marks a transient storage failure.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrConflictAlreadyResolved is returned when a second resolution is
	// attempted on a conflict that is no longer pending.
	ErrConflictAlreadyResolved = errors.New("conflict already resolved")

	ErrConflictNotFound = errors.New("conflict not found")
)

// ClassifyStorageErr maps low-level storage failures onto the transient
// error taxonomy so callers can report retry-safe outcomes.
func ClassifyStorageErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrStorageTimeout, err)
	}
	return err
}
