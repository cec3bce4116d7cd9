package domain

import (
	"errors"
	"fmt"
)

// Typed error surface consumed by the presentation layer. Each error type
// carries structured fields and has an errors.As helper, so callers branch
// on category without string matching.

// OfflineStorageError means the local durable store itself failed. Fatal:
// the optimistic write is rolled back and the error propagates.
type OfflineStorageError struct {
	Op  string // store operation that failed
	Err error
}

func (e *OfflineStorageError) Error() string {
	return fmt.Sprintf("offline storage unavailable during %s: %v", e.Op, e.Err)
}

func (e *OfflineStorageError) Unwrap() error { return e.Err }

// OfflineQueueUnavailableError means the durable operation queue could not
// accept an entry. The optimistic local write is rolled back before this is
// returned.
type OfflineQueueUnavailableError struct {
	EntityID string
	Err      error
}

func (e *OfflineQueueUnavailableError) Error() string {
	return fmt.Sprintf("offline queue unavailable for %s: %v", e.EntityID, e.Err)
}

func (e *OfflineQueueUnavailableError) Unwrap() error { return e.Err }

// MissingOfflinePrerequisiteError rejects a command that references a
// category or tax preset not cached offline. Nothing is written or queued:
// the command cannot be validated without the referenced row.
type MissingOfflinePrerequisiteError struct {
	EntityType EntityType
	EntityID   string
}

func (e *MissingOfflinePrerequisiteError) Error() string {
	return fmt.Sprintf("%s %q is not available offline", e.EntityType, e.EntityID)
}

// NetworkTimeoutError wraps a remote call that exceeded the fixed network
// timeout. The engine recovers by falling back to the operation queue.
type NetworkTimeoutError struct {
	Call string
	Err  error
}

func (e *NetworkTimeoutError) Error() string {
	return fmt.Sprintf("network timeout during %s: %v", e.Call, e.Err)
}

func (e *NetworkTimeoutError) Unwrap() error { return e.Err }

// IsOfflineStorage reports whether err is (or wraps) an OfflineStorageError.
func IsOfflineStorage(err error) bool {
	var t *OfflineStorageError
	return errors.As(err, &t)
}

// IsQueueUnavailable reports whether err is an OfflineQueueUnavailableError.
func IsQueueUnavailable(err error) bool {
	var t *OfflineQueueUnavailableError
	return errors.As(err, &t)
}

// IsMissingPrerequisite reports whether err is a
// MissingOfflinePrerequisiteError.
func IsMissingPrerequisite(err error) bool {
	var t *MissingOfflinePrerequisiteError
	return errors.As(err, &t)
}

// IsNetworkTimeout reports whether err is a NetworkTimeoutError.
func IsNetworkTimeout(err error) bool {
	var t *NetworkTimeoutError
	return errors.As(err, &t)
}
