package session

import (
	"context"

	"github.com/goliatone/go-errors"
)

const (
	TextCodeCancelled          = "session_operation_cancelled"
	TextCodeTimeout            = "session_network_timeout"
	TextCodeBackendRejected    = "session_backend_rejected"
	TextCodeProfileUnavailable = "session_profile_unavailable"
	TextCodeNoSession          = "session_not_found"
)

// ErrCancelled marks an operation abandoned by its caller. It is always
// swallowed: it never surfaces to users and never transitions state.
var ErrCancelled = errors.New("operation cancelled by caller", errors.CategoryOperation).
	WithTextCode(TextCodeCancelled)

// ErrTimeout marks a validation call that exceeded its budget after all
// refresh attempts were exhausted.
var ErrTimeout = errors.New("identity backend call timed out", errors.CategoryOperation).
	WithTextCode(TextCodeTimeout)

// ErrBackendRejected marks a structured rejection from the identity backend
// (invalid or expired session, bad credentials).
var ErrBackendRejected = errors.New("identity backend rejected the request", errors.CategoryAuth).
	WithTextCode(TextCodeBackendRejected).
	WithCode(errors.CodeUnauthorized)

// ErrProfileUnavailable marks a failed or empty profile fetch. Never fatal:
// sign-in flows fall back to a synthetic profile, everything else keeps the
// prior state.
var ErrProfileUnavailable = errors.New("profile not available", errors.CategoryNotFound).
	WithTextCode(TextCodeProfileUnavailable).
	WithCode(errors.CodeNotFound)

// ErrNoSession is the provider-level sentinel for a backend that confidently
// reports no session. Not an error condition for callers; the validator maps
// it to a nil handle.
var ErrNoSession = errors.New("no active session", errors.CategoryNotFound).
	WithTextCode(TextCodeNoSession).
	WithCode(errors.CodeNotFound)

func hasTextCode(err error, code string) bool {
	if err == nil {
		return false
	}
	var richErr *errors.Error
	if errors.As(err, &richErr) {
		return richErr.TextCode == code
	}
	return false
}

// IsCancelled reports whether err means the calling scope gave up. Context
// cancellation is folded in so transport adapters do not have to translate it.
func IsCancelled(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return true
	}
	return hasTextCode(err, TextCodeCancelled)
}

// IsTimeout reports whether err is a budget overrun rather than a rejection.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return hasTextCode(err, TextCodeTimeout)
}

// IsBackendRejection reports whether the identity backend returned a
// structured error.
func IsBackendRejection(err error) bool {
	return hasTextCode(err, TextCodeBackendRejected)
}

// IsNoSession reports the provider sentinel for "confidently signed out".
func IsNoSession(err error) bool {
	return hasTextCode(err, TextCodeNoSession)
}

// ClassifyTransportError tags a raw transport failure at the adapter
// boundary. Cancellation and deadline errors are distinguished by origin,
// everything else reads as a backend rejection.
func ClassifyTransportError(err error, message string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.Canceled):
		return ErrCancelled
	case errors.Is(err, context.DeadlineExceeded):
		return errors.Wrap(err, errors.CategoryOperation, message).
			WithTextCode(TextCodeTimeout)
	default:
		return errors.Wrap(err, errors.CategoryAuth, message).
			WithTextCode(TextCodeBackendRejected).
			WithCode(errors.CodeUnauthorized)
	}
}
