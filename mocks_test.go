package session_test

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/goliatone/go-session"
)

func fmtTokenBlob(accessToken, refreshToken string, expiresAt int64) string {
	return fmt.Sprintf(`{"access_token":%q,"refresh_token":%q,"expires_at":%d}`,
		accessToken, refreshToken, expiresAt)
}

// fakeIdentityClient is a programmable IdentityClient that counts calls and
// lets tests push auth events through the registered handler.
type fakeIdentityClient struct {
	mu sync.Mutex

	getSessionFn func(ctx context.Context) (*session.SessionHandle, error)
	refreshFn    func(ctx context.Context) (*session.SessionHandle, error)
	signInFn     func(ctx context.Context, creds session.Credentials) (*session.SessionHandle, error)
	signUpFn     func(ctx context.Context, req session.SignUpRequest) (*session.SessionHandle, error)
	signOutFn    func(ctx context.Context, scope session.SignOutScope) error

	getSessionCalls int
	refreshCalls    int
	signInCalls     int
	signUpCalls     int
	signOutCalls    int

	handler      func(session.AuthEvent)
	unsubscribed bool
}

func (f *fakeIdentityClient) GetSession(ctx context.Context) (*session.SessionHandle, error) {
	f.mu.Lock()
	f.getSessionCalls++
	fn := f.getSessionFn
	f.mu.Unlock()
	if fn == nil {
		return nil, nil
	}
	return fn(ctx)
}

func (f *fakeIdentityClient) RefreshSession(ctx context.Context) (*session.SessionHandle, error) {
	f.mu.Lock()
	f.refreshCalls++
	fn := f.refreshFn
	f.mu.Unlock()
	if fn == nil {
		return nil, nil
	}
	return fn(ctx)
}

func (f *fakeIdentityClient) SignInWithPassword(ctx context.Context, creds session.Credentials) (*session.SessionHandle, error) {
	f.mu.Lock()
	f.signInCalls++
	fn := f.signInFn
	f.mu.Unlock()
	if fn == nil {
		return nil, session.ErrBackendRejected
	}
	return fn(ctx, creds)
}

func (f *fakeIdentityClient) SignUp(ctx context.Context, req session.SignUpRequest) (*session.SessionHandle, error) {
	f.mu.Lock()
	f.signUpCalls++
	fn := f.signUpFn
	f.mu.Unlock()
	if fn == nil {
		return nil, session.ErrBackendRejected
	}
	return fn(ctx, req)
}

func (f *fakeIdentityClient) SignOut(ctx context.Context, scope session.SignOutScope) error {
	f.mu.Lock()
	f.signOutCalls++
	fn := f.signOutFn
	f.mu.Unlock()
	if fn == nil {
		return nil
	}
	return fn(ctx, scope)
}

func (f *fakeIdentityClient) OnAuthStateChange(handler func(session.AuthEvent)) func() {
	f.mu.Lock()
	f.handler = handler
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		f.handler = nil
		f.unsubscribed = true
		f.mu.Unlock()
	}
}

func (f *fakeIdentityClient) push(event session.AuthEvent) {
	f.mu.Lock()
	handler := f.handler
	f.mu.Unlock()
	if handler != nil {
		handler(event)
	}
}

func (f *fakeIdentityClient) counts() (getSession, refresh, signIn, signOut int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.getSessionCalls, f.refreshCalls, f.signInCalls, f.signOutCalls
}

// fakeProfileRepo serves profiles from a map and counts fetches.
type fakeProfileRepo struct {
	mu       sync.Mutex
	profiles map[string]*session.UserProfile
	err      error
	calls    int
}

func newFakeProfileRepo(profiles ...*session.UserProfile) *fakeProfileRepo {
	repo := &fakeProfileRepo{profiles: map[string]*session.UserProfile{}}
	for _, profile := range profiles {
		repo.profiles[profile.ID] = profile
	}
	return repo
}

func (r *fakeProfileRepo) FindByID(_ context.Context, userID string) (*session.UserProfile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.err != nil {
		return nil, r.err
	}
	return r.profiles[userID], nil
}

func (r *fakeProfileRepo) fetchCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

// fakeClock is a settable clock for deterministic TTL and expiry tests.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock(t time.Time) *fakeClock {
	return &fakeClock{t: t}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func (c *fakeClock) SetTo(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

// silentLogger keeps test output clean.
type silentLogger struct{}

func (silentLogger) Debug(string, ...any) {}
func (silentLogger) Info(string, ...any)  {}
func (silentLogger) Warn(string, ...any)  {}
func (silentLogger) Error(string, ...any) {}
