package session

import (
	"context"
	"sync/atomic"
)

// EventCoalescer reconciles server-pushed auth events against state the
// machine is already producing, suppressing duplicates and transient noise.
// Bootstrap owns the first state determination; the coalescer only folds in
// changes that happen afterwards.
type EventCoalescer struct {
	machine *SessionStateMachine
	client  IdentityClient
	logger  Logger
}

// CoalescerOption customizes coalescer construction.
type CoalescerOption func(*EventCoalescer)

// WithCoalescerLogger overrides the coalescer logger.
func WithCoalescerLogger(logger Logger) CoalescerOption {
	return func(c *EventCoalescer) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewEventCoalescer returns a coalescer feeding the given machine.
func NewEventCoalescer(machine *SessionStateMachine, client IdentityClient, opts ...CoalescerOption) *EventCoalescer {
	c := &EventCoalescer{
		machine: machine,
		client:  client,
		logger:  defLogger{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Subscribe wires the backend's change stream and returns the release
// function the owning scope must invoke on teardown. Events arriving after
// release, or after ctx is done, are no-ops.
func (c *EventCoalescer) Subscribe(ctx context.Context) func() {
	var released atomic.Bool

	unsubscribe := c.client.OnAuthStateChange(func(event AuthEvent) {
		if released.Load() || ctx.Err() != nil {
			return
		}
		c.handle(ctx, event)
	})

	return func() {
		if released.CompareAndSwap(false, true) {
			unsubscribe()
		}
	}
}

func (c *EventCoalescer) handle(ctx context.Context, event AuthEvent) {
	switch event.Type {
	case EventInitialSession:
		// bootstrap already owns the initial determination; acting here
		// would race two profile fetches against each other
		return
	case EventSignedOut:
		c.machine.applyRemoteSignOut(ctx)
	case EventSignedIn:
		if c.machine.SigningIn() {
			c.logger.Debug("suppressing signed-in echo, explicit sign in already in flight")
			return
		}
		c.applySession(ctx, event)
	case EventTokenRefreshed:
		c.applySession(ctx, event)
	default:
		c.logger.Debug("ignoring unknown auth event", "type", event.Type)
	}
}

func (c *EventCoalescer) applySession(ctx context.Context, event AuthEvent) {
	if event.Session == nil {
		return
	}
	if err := c.machine.applyRemoteSession(ctx, event.Session); err != nil {
		if IsCancelled(err) {
			return
		}
		// the pushed event already proved a session exists; keep prior state
		c.logger.Warn("dropping pushed session event, profile fetch failed",
			"type", event.Type, "user_id", event.Session.UserID, "error", err)
	}
}
