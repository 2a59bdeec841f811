package provider

import (
	"errors"
	"fmt"
)

// Kind classifies a provider failure so callers can decide between
// retry, fall-through, and hard failure without inspecting backend
// status codes.
type Kind int

const (
	// KindRemote is an unclassified remote failure.
	KindRemote Kind = iota

	// KindAuthRequired means the account has no usable credential at all.
	KindAuthRequired

	// KindAuthExpired means the stored credential was rejected and a
	// refresh is needed.
	KindAuthExpired

	// KindPermissionDenied means the credential is valid but lacks
	// access to the target resource.
	KindPermissionDenied

	// KindNotFound means the target calendar or event does not exist.
	// Push falls through to create; pull ignores.
	KindNotFound

	// KindRateLimited means the remote service is throttling. The
	// scheduler retries on its own next tick, never immediately.
	KindRateLimited

	// KindInvalidState means the local record cannot be synced as-is,
	// e.g. a task with no schedulable date. Rejected before any remote
	// call.
	KindInvalidState
)

func (k Kind) String() string {
	switch k {
	case KindAuthRequired:
		return "auth_required"
	case KindAuthExpired:
		return "auth_expired"
	case KindPermissionDenied:
		return "permission_denied"
	case KindNotFound:
		return "not_found"
	case KindRateLimited:
		return "rate_limited"
	case KindInvalidState:
		return "invalid_state"
	default:
		return "remote_error"
	}
}

// Error is a classified provider failure wrapping the original cause.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError builds a classified error for the given operation.
func NewError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf extracts the Kind from err, or KindRemote if err carries no
// classification.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindRemote
}

// IsNotFound reports whether err is a classified not-found failure.
func IsNotFound(err error) bool {
	var pe *Error
	return errors.As(err, &pe) && pe.Kind == KindNotFound
}

// IsAuthError reports whether err is a credential problem (missing or
// expired).
func IsAuthError(err error) bool {
	var pe *Error
	if !errors.As(err, &pe) {
		return false
	}
	return pe.Kind == KindAuthRequired || pe.Kind == KindAuthExpired
}
