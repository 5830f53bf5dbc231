package pairsync

import (
	"errors"
	"fmt"
)

// Common sentinel errors for the pairsync package.
var (
	// ErrMissionLocked is returned synchronously when a mutation targets a
	// mission other than the pair's current lock holder. It is a normal,
	// expected outcome, not a fault.
	ErrMissionLocked = errors.New("another mission is already in progress")

	// ErrSessionClosed is returned when operations are attempted on a
	// session that was never initialized or has been torn down.
	ErrSessionClosed = errors.New("session is closed")

	// ErrMissionNotFound is returned when a mutation references a mission
	// with no local progress record.
	ErrMissionNotFound = errors.New("mission progress not found")

	// ErrQueueExhausted is returned when the offline queue cannot accept
	// another operation. Fatal for that enqueue: proceeding would silently
	// drop user input.
	ErrQueueExhausted = errors.New("offline operation queue exhausted")

	// ErrDuplicateOperation signals that the remote store has already
	// applied an operation with the same id. Callers treat it as success.
	ErrDuplicateOperation = errors.New("operation already applied")
)

// StoreErrorType categorizes local store errors.
type StoreErrorType int

const (
	// StoreErrorTypeUnknown is an unclassified store error.
	StoreErrorTypeUnknown StoreErrorType = iota
	// StoreErrorTypeRead indicates a read failure.
	StoreErrorTypeRead
	// StoreErrorTypeWrite indicates a write failure.
	StoreErrorTypeWrite
	// StoreErrorTypeExhausted indicates local storage is full.
	StoreErrorTypeExhausted
)

// StoreError provides detailed information about local store failures.
type StoreError struct {
	Type    StoreErrorType
	Message string
	Path    string
	Cause   error
}

func (e *StoreError) Error() string {
	if e.Path != "" {
		if e.Cause != nil {
			return fmt.Sprintf("%s [%s]: %v", e.Message, e.Path, e.Cause)
		}
		return fmt.Sprintf("%s [%s]", e.Message, e.Path)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *StoreError) Unwrap() error {
	return e.Cause
}

// Is implements error matching for StoreError.
func (e *StoreError) Is(target error) bool {
	return e.Type == StoreErrorTypeExhausted && target == ErrQueueExhausted
}

// newStoreError creates a new StoreError.
func newStoreError(errType StoreErrorType, message, path string, cause error) *StoreError {
	return &StoreError{
		Type:    errType,
		Message: message,
		Path:    path,
		Cause:   cause,
	}
}

// RemoteError carries the status of a failed remote store call. Transient
// errors are queued for replay rather than surfaced to mutation callers.
type RemoteError struct {
	StatusCode int
	Message    string
	Cause      error
}

func (e *RemoteError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("remote store: %s (status %d)", e.Message, e.StatusCode)
	}
	if e.Cause != nil {
		return fmt.Sprintf("remote store: %s: %v", e.Message, e.Cause)
	}
	return "remote store: " + e.Message
}

func (e *RemoteError) Unwrap() error {
	return e.Cause
}

// Transient reports whether the failure is worth retrying on a later drain.
// Client-side rejections (4xx other than timeouts/rate limits) are not.
func (e *RemoteError) Transient() bool {
	switch {
	case e.StatusCode == 0:
		return true // transport-level failure
	case e.StatusCode == 408 || e.StatusCode == 429:
		return true
	case e.StatusCode >= 500:
		return true
	default:
		return false
	}
}
