package session

import (
	"context"
	"fmt"
)

type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

// TokenStore is read-only key-value access to the persisted auth storage.
// The identity backend's client SDK owns the writes; this core only reads.
type TokenStore interface {
	Keys() []string
	Get(key string) ([]byte, bool)
}

// TokenRemover is implemented by stores that also support removal.
// ClearAllCache type-asserts for it; everything else treats the store
// as read-only.
type TokenRemover interface {
	Remove(key string) error
}

// SignOutScope controls how far a remote sign out reaches.
type SignOutScope string

const (
	SignOutLocal  SignOutScope = "local"
	SignOutGlobal SignOutScope = "global"
)

// IdentityClient is the black-box identity backend. Implementations must
// honor context cancellation and surface errors through the tagged taxonomy
// in errors.go; core logic never inspects free-text messages.
type IdentityClient interface {
	// GetSession returns the current session, or (nil, nil) when the backend
	// confidently reports no session.
	GetSession(ctx context.Context) (*SessionHandle, error)
	// RefreshSession exchanges the persisted refresh token for a new session.
	RefreshSession(ctx context.Context) (*SessionHandle, error)
	SignInWithPassword(ctx context.Context, creds Credentials) (*SessionHandle, error)
	SignUp(ctx context.Context, req SignUpRequest) (*SessionHandle, error)
	SignOut(ctx context.Context, scope SignOutScope) error
	// OnAuthStateChange registers a handler for server-pushed auth events and
	// returns the function that releases the registration.
	OnAuthStateChange(handler func(AuthEvent)) (unsubscribe func())
}

// ProfileRepository resolves the full profile for a user id. Treated as
// best-effort: absence must never block authentication.
type ProfileRepository interface {
	FindByID(ctx context.Context, userID string) (*UserProfile, error)
}

// DefaultLogger returns the stdout logger used when none is injected.
func DefaultLogger() Logger {
	return defLogger{}
}

type defLogger struct{}

func (d defLogger) Error(format string, args ...any) {
	fmt.Printf("[ERR] SESSION "+newline(format), args...)
}

func (d defLogger) Warn(format string, args ...any) {
	fmt.Printf("[WRN] SESSION "+newline(format), args...)
}

func (d defLogger) Info(format string, args ...any) {
	fmt.Printf("[INF] SESSION "+newline(format), args...)
}

func (d defLogger) Debug(format string, args ...any) {
	fmt.Printf("[DBG] SESSION "+newline(format), args...)
}

func newline(s string) string {
	if len(s) > 0 && s[len(s)-1] != '\n' {
		s += "\n"
	}
	return s
}
