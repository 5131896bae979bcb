package coordinator

import (
	"errors"
	"fmt"
)

// Failure classes. Handlers wrap the underlying cause in one of these.
var (
	// ErrInputRejected means the caller sent something invalid; it gets a local reply
	ErrInputRejected = errors.New("input rejected")
	// ErrProtocolViolation means the event is not allowed in the caller's state; it is dropped
	ErrProtocolViolation = errors.New("protocol violation")
	// ErrStorageConflict means a uniqueness race could not be resolved
	ErrStorageConflict = errors.New("storage conflict")
	// ErrStorageUnavailable means the storage collaborator failed
	ErrStorageUnavailable = errors.New("storage unavailable")
)

var (
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
	ErrNoTargetRoom      = errors.New("no target room selected")
	ErrMalformedPayload  = errors.New("malformed event payload")
	ErrUnknownEvent      = errors.New("unknown event")
	ErrNotAuthenticated  = errors.New("connection is not logged in")
	ErrAlreadyLoggedIn   = errors.New("connection is already logged in")
	ErrCounselorOnly     = errors.New("event is reserved for the counselor")
)

func rejected(err error) error {
	return fmt.Errorf("%w: %w", ErrInputRejected, err)
}

func violation(err error) error {
	return fmt.Errorf("%w: %w", ErrProtocolViolation, err)
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
}

// Outcome labels a handler result for metrics and logs
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrInputRejected):
		return "rejected"
	case errors.Is(err, ErrProtocolViolation):
		return "ignored"
	case errors.Is(err, ErrStorageConflict):
		return "conflict"
	case errors.Is(err, ErrStorageUnavailable):
		return "storage_error"
	default:
		return "error"
	}
}
