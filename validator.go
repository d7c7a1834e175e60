package session

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

const (
	// DefaultCallTimeout bounds each individual backend call.
	DefaultCallTimeout = 10 * time.Second
	// DefaultOverallTimeout bounds the whole validation, refreshes included.
	DefaultOverallTimeout = 20 * time.Second
)

// SessionValidator performs the time-bounded interaction with the identity
// backend. A naive check either blocks bootstrap on one slow call or gives
// up and forces re-login on a merely slow network; the two-tier budget with
// a refresh attempt at each tier balances both.
type SessionValidator struct {
	client  IdentityClient
	call    time.Duration
	overall time.Duration
	logger  Logger
}

// SessionValidatorOption customizes validator construction.
type SessionValidatorOption func(*SessionValidator)

// WithValidatorTimeouts overrides the per-call and overall budgets.
func WithValidatorTimeouts(call, overall time.Duration) SessionValidatorOption {
	return func(v *SessionValidator) {
		if call > 0 {
			v.call = call
		}
		if overall > 0 {
			v.overall = overall
		}
	}
}

// WithValidatorLogger overrides the validator logger.
func WithValidatorLogger(logger Logger) SessionValidatorOption {
	return func(v *SessionValidator) {
		if logger != nil {
			v.logger = logger
		}
	}
}

// NewSessionValidator returns a validator talking to the given backend.
func NewSessionValidator(client IdentityClient, opts ...SessionValidatorOption) *SessionValidator {
	v := &SessionValidator{
		client:  client,
		call:    DefaultCallTimeout,
		overall: DefaultOverallTimeout,
		logger:  defLogger{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(v)
		}
	}
	return v
}

type callOutcome struct {
	handle *SessionHandle
	err    error
}

// Validate resolves the current session within the overall budget.
//
// Resolution order: session check raced against the call budget; a live
// session returns immediately; on timeout or rejection exactly one refresh
// is attempted, whose failure means confidently unauthenticated (nil, nil).
// If the overall budget fires first, one last-chance refresh runs on a
// fresh budget; only its failure escalates to an error, because at that
// point the true state is unknown, not negative. Caller cancellation is
// swallowed into ErrCancelled and must never drive a state transition.
func (v *SessionValidator) Validate(ctx context.Context) (*SessionHandle, error) {
	overallCtx, cancel := context.WithTimeout(ctx, v.overall)
	defer cancel()

	done := make(chan callOutcome, 1)
	go func() {
		handle, err := v.checkAndRecover(overallCtx)
		done <- callOutcome{handle: handle, err: err}
	}()

	select {
	case out := <-done:
		return out.handle, out.err
	case <-overallCtx.Done():
		if ctx.Err() != nil {
			return nil, ErrCancelled
		}
		v.logger.Warn("session validation exceeded overall budget, attempting last-chance refresh")
		return v.lastChanceRefresh(ctx)
	}
}

func (v *SessionValidator) checkAndRecover(ctx context.Context) (*SessionHandle, error) {
	handle, err := v.boundedCall(ctx, "session check", v.client.GetSession)
	if err == nil {
		// a clean nil handle means the backend confidently reports no session
		return handle, nil
	}
	if IsCancelled(err) {
		return nil, ErrCancelled
	}

	v.logger.Warn("session check failed, attempting refresh", "error", err)

	refreshed, rerr := v.boundedCall(ctx, "session refresh", v.client.RefreshSession)
	if rerr != nil {
		if IsCancelled(rerr) {
			return nil, ErrCancelled
		}
		// recovery exhausted at this tier: confidently unauthenticated
		v.logger.Debug("session refresh failed", "error", rerr)
		return nil, nil
	}
	return refreshed, nil
}

// lastChanceRefresh runs after the overall budget already fired. It gets a
// fresh per-call budget derived from the caller's context, not the spent
// overall one.
func (v *SessionValidator) lastChanceRefresh(ctx context.Context) (*SessionHandle, error) {
	handle, err := v.boundedCall(ctx, "last-chance refresh", v.client.RefreshSession)
	if err != nil {
		if IsCancelled(err) {
			return nil, ErrCancelled
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryOperation,
			"session validation timed out and recovery refresh failed").
			WithTextCode(TextCodeTimeout)
	}
	return handle, nil
}

// boundedCall races fn against the per-call budget. The race matters even
// for cooperative clients: a hung call must not hold the validator past its
// budget.
func (v *SessionValidator) boundedCall(ctx context.Context, op string, fn func(context.Context) (*SessionHandle, error)) (*SessionHandle, error) {
	callCtx, cancel := context.WithTimeout(ctx, v.call)
	defer cancel()

	done := make(chan callOutcome, 1)
	go func() {
		handle, err := fn(callCtx)
		done <- callOutcome{handle: handle, err: err}
	}()

	select {
	case out := <-done:
		return out.handle, v.classify(ctx, op, out.err)
	case <-callCtx.Done():
		if ctx.Err() == context.Canceled {
			return nil, ErrCancelled
		}
		return nil, goerrors.Wrap(callCtx.Err(), goerrors.CategoryOperation, op+" exceeded call budget").
			WithTextCode(TextCodeTimeout)
	}
}

func (v *SessionValidator) classify(ctx context.Context, op string, err error) error {
	switch {
	case err == nil:
		return nil
	case ctx.Err() == context.Canceled, IsCancelled(err):
		return ErrCancelled
	case IsNoSession(err):
		// provider sentinel, not a failure
		return nil
	case IsTimeout(err):
		return err
	case IsBackendRejection(err):
		return err
	default:
		return goerrors.Wrap(err, goerrors.CategoryAuth, op+" rejected by identity backend").
			WithTextCode(TextCodeBackendRejected)
	}
}
