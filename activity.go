package session

import (
	"context"
	"time"
)

// ActivityEventType enumerates supported activity categories.
type ActivityEventType string

const (
	ActivityEventBootstrapCompleted ActivityEventType = "session.bootstrap.completed"
	ActivityEventBootstrapFailed    ActivityEventType = "session.bootstrap.failed"
	ActivityEventSignInSuccess      ActivityEventType = "session.sign_in.success"
	ActivityEventSignInFailure      ActivityEventType = "session.sign_in.failure"
	ActivityEventSignUpSuccess      ActivityEventType = "session.sign_up.success"
	ActivityEventSignOut            ActivityEventType = "session.sign_out"
	ActivityEventRemoteSignOut      ActivityEventType = "session.sign_out.remote"
	ActivityEventSessionRefreshed   ActivityEventType = "session.refreshed"
	ActivityEventCacheCleared       ActivityEventType = "session.cache.cleared"
)

// ActivityEvent captures audit-friendly information about an action.
type ActivityEvent struct {
	ID         string
	EventType  ActivityEventType
	UserID     string
	FromStatus Status
	ToStatus   Status
	Metadata   map[string]any
	OccurredAt time.Time
}

// ActivitySink consumes activity events for auditing/telemetry purposes.
type ActivitySink interface {
	Record(ctx context.Context, event ActivityEvent) error
}

// ActivitySinkFunc adapts a function to the ActivitySink interface.
type ActivitySinkFunc func(ctx context.Context, event ActivityEvent) error

// Record implements ActivitySink.
func (f ActivitySinkFunc) Record(ctx context.Context, event ActivityEvent) error {
	if f == nil {
		return nil
	}
	return f(ctx, event)
}

type noopActivitySink struct{}

func (noopActivitySink) Record(context.Context, ActivityEvent) error {
	return nil
}

func normalizeActivitySink(s ActivitySink) ActivitySink {
	if s == nil {
		return noopActivitySink{}
	}
	return s
}
