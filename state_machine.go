package session

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

// DefaultSignInGuardWindow is how long the signing-in guard is held after an
// explicit sign in settles, so the backend's SIGNED_IN echo is still
// suppressed by the event coalescer.
const DefaultSignInGuardWindow = 100 * time.Millisecond

// SessionStateMachine owns the externally observable AuthState and
// sequences TokenProbe, SessionValidator, and ProfileCache into state
// transitions. It is long-lived and always accepts new transitions.
//
// Every operation takes a context; when that context is cancelled the
// machine treats the owning scope as torn down and discards whatever the
// in-flight operation eventually produces, silently and without mutating
// state.
type SessionStateMachine struct {
	client    IdentityClient
	store     TokenStore
	profiles  ProfileRepository
	probe     *TokenProbe
	cache     *ProfileCache
	validator *SessionValidator
	logger    Logger
	activity  ActivitySink
	now       func() time.Time
	guard     time.Duration

	signingIn   atomic.Bool
	signInEpoch atomic.Int64

	mu           sync.Mutex
	state        AuthState
	bootstrapped bool
	listeners    map[int]func(AuthState)
	nextListener int
}

// StateMachineOption customizes state machine construction.
type StateMachineOption func(*SessionStateMachine)

// WithStateMachineClock injects a custom clock shared with the probe and
// the cache (useful for tests).
func WithStateMachineClock(clock func() time.Time) StateMachineOption {
	return func(sm *SessionStateMachine) {
		if clock != nil {
			sm.now = clock
		}
	}
}

// WithStateMachineLogger overrides the logger.
func WithStateMachineLogger(logger Logger) StateMachineOption {
	return func(sm *SessionStateMachine) {
		if logger != nil {
			sm.logger = logger
		}
	}
}

// WithStateMachineActivitySink sets the ActivitySink used to publish
// lifecycle events.
func WithStateMachineActivitySink(sink ActivitySink) StateMachineOption {
	return func(sm *SessionStateMachine) {
		sm.activity = normalizeActivitySink(sink)
	}
}

// WithProfileCache replaces the default cache.
func WithProfileCache(cache *ProfileCache) StateMachineOption {
	return func(sm *SessionStateMachine) {
		if cache != nil {
			sm.cache = cache
		}
	}
}

// WithSessionValidator replaces the default validator, typically to shrink
// its budgets.
func WithSessionValidator(validator *SessionValidator) StateMachineOption {
	return func(sm *SessionStateMachine) {
		if validator != nil {
			sm.validator = validator
		}
	}
}

// WithSignInGuardWindow overrides the settle window for the signing-in
// guard.
func WithSignInGuardWindow(window time.Duration) StateMachineOption {
	return func(sm *SessionStateMachine) {
		if window > 0 {
			sm.guard = window
		}
	}
}

// NewStateMachine returns a machine in the Bootstrapping state.
func NewStateMachine(client IdentityClient, store TokenStore, profiles ProfileRepository, opts ...StateMachineOption) *SessionStateMachine {
	sm := &SessionStateMachine{
		client:    client,
		store:     store,
		profiles:  profiles,
		logger:    defLogger{},
		activity:  noopActivitySink{},
		now:       time.Now,
		guard:     DefaultSignInGuardWindow,
		state:     AuthState{Status: StatusBootstrapping},
		listeners: map[int]func(AuthState){},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(sm)
		}
	}
	if sm.probe == nil {
		sm.probe = NewTokenProbe(store, WithProbeClock(sm.now), WithProbeLogger(sm.logger))
	}
	if sm.cache == nil {
		sm.cache = NewProfileCache(WithCacheClock(sm.now))
	}
	if sm.validator == nil {
		sm.validator = NewSessionValidator(client, WithValidatorLogger(sm.logger))
	}
	return sm
}

// State returns the current snapshot.
func (sm *SessionStateMachine) State() AuthState {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.state
}

// OnChange registers an observer and returns the function that removes it.
// Observers run synchronously on the mutating goroutine.
func (sm *SessionStateMachine) OnChange(fn func(AuthState)) func() {
	if fn == nil {
		return func() {}
	}
	sm.mu.Lock()
	id := sm.nextListener
	sm.nextListener++
	sm.listeners[id] = fn
	sm.mu.Unlock()

	return func() {
		sm.mu.Lock()
		delete(sm.listeners, id)
		sm.mu.Unlock()
	}
}

// SigningIn reports whether an explicit sign in is currently driving a
// transition. The event coalescer uses it to suppress the SIGNED_IN echo.
func (sm *SessionStateMachine) SigningIn() bool {
	return sm.signingIn.Load()
}

// Bootstrap determines the initial authentication state. It runs once per
// machine: a second call is a no-op while the first is in flight or after
// it has completed.
func (sm *SessionStateMachine) Bootstrap(ctx context.Context) error {
	sm.mu.Lock()
	if sm.bootstrapped {
		sm.mu.Unlock()
		return nil
	}
	sm.bootstrapped = true
	sm.mu.Unlock()

	probe := sm.probe.Probe()
	if !probe.Usable() {
		// provably nothing to recover: resolve without a network call
		sm.cache.Clear()
		sm.setState(ctx, AuthState{Status: StatusUnauthenticated})
		return nil
	}

	handle, err := sm.validator.Validate(ctx)
	if err != nil {
		if IsCancelled(err) {
			return nil
		}
		sm.setState(ctx, AuthState{Status: StatusErrored, Err: err.Error()})
		sm.recordActivity(ctx, ActivityEvent{
			EventType: ActivityEventBootstrapFailed,
			Metadata:  map[string]any{"error": err.Error()},
		})
		return err
	}
	if handle == nil {
		sm.cache.Clear()
		sm.setState(ctx, AuthState{Status: StatusUnauthenticated})
		return nil
	}

	profile := sm.resolveProfile(ctx, handle, false)
	if !sm.setState(ctx, AuthState{Status: StatusAuthenticated, User: profile}) {
		return nil
	}
	sm.recordActivity(ctx, ActivityEvent{
		EventType: ActivityEventBootstrapCompleted,
		UserID:    handle.UserID,
	})
	return nil
}

// SignIn authenticates with the provided credentials. The probe is bypassed
// on purpose: the user is actively providing credentials, local evidence is
// irrelevant. On backend failure the error is returned and state is left
// unchanged, since the previous session may still be valid.
func (sm *SessionStateMachine) SignIn(ctx context.Context, creds Credentials) error {
	if err := creds.Validate(); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryValidation, "invalid sign in payload")
	}

	epoch := sm.beginSignInGuard()
	defer sm.releaseSignInGuard(epoch)

	handle, err := sm.client.SignInWithPassword(ctx, creds)
	if err != nil {
		sm.recordActivity(ctx, ActivityEvent{
			EventType: ActivityEventSignInFailure,
			Metadata:  map[string]any{"email": creds.Email, "error": err.Error()},
		})
		return err
	}
	if handle == nil {
		return ErrBackendRejected
	}

	sm.completeAuthentication(ctx, handle, ActivityEventSignInSuccess)
	return nil
}

// SignUp delegates account creation to the backend, then performs the same
// post-authentication sequence as SignIn. Backends that require email
// confirmation return no session yet; state is left unchanged in that case.
func (sm *SessionStateMachine) SignUp(ctx context.Context, req SignUpRequest) error {
	if err := req.Validate(); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryValidation, "invalid sign up payload")
	}

	epoch := sm.beginSignInGuard()
	defer sm.releaseSignInGuard(epoch)

	handle, err := sm.client.SignUp(ctx, req)
	if err != nil {
		return err
	}
	if handle == nil {
		sm.logger.Info("sign up accepted without a session, confirmation pending", "email", req.Email)
		return nil
	}

	sm.completeAuthentication(ctx, handle, ActivityEventSignUpSuccess)
	return nil
}

// SignOut clears local state first and only then asks the backend to
// invalidate the remote session. The user's intent to leave is never
// blocked by a flaky network: a remote failure does not reverse the local
// transition.
func (sm *SessionStateMachine) SignOut(ctx context.Context) error {
	sm.cache.Clear()
	sm.setState(nil, AuthState{Status: StatusUnauthenticated})

	if err := sm.client.SignOut(ctx, SignOutGlobal); err != nil && !IsCancelled(err) {
		sm.logger.Warn("remote sign out failed, local state already cleared", "error", err)
	}

	sm.recordActivity(ctx, ActivityEvent{EventType: ActivityEventSignOut})
	return nil
}

// RefreshUser repopulates the profile for the current user, bypassing the
// cache. Failures are logged and swallowed: a stale profile on screen beats
// dropping a valid session over a pure refresh failure.
func (sm *SessionStateMachine) RefreshUser(ctx context.Context) error {
	current := sm.State()
	if current.User == nil {
		return nil
	}

	handle := &SessionHandle{UserID: current.User.ID, Email: current.User.Email}
	profile, err := sm.fetchProfile(ctx, handle, true)
	if err != nil {
		if !IsCancelled(err) {
			sm.logger.Warn("profile refresh failed, keeping current profile", "user_id", handle.UserID, "error", err)
		}
		return nil
	}

	sm.setState(ctx, AuthState{Status: StatusAuthenticated, User: profile})
	return nil
}

// ClearAllCache revokes the remote session, clears the profile cache, drops
// this domain's persisted token entries, and resets state. Idempotent. It
// takes no navigation decisions; that belongs to the caller.
func (sm *SessionStateMachine) ClearAllCache(ctx context.Context) error {
	if err := sm.client.SignOut(ctx, SignOutGlobal); err != nil && !IsCancelled(err) {
		sm.logger.Warn("remote session revoke failed during cache clear", "error", err)
	}

	sm.cache.Clear()
	sm.clearPersistedTokens()
	sm.setState(nil, AuthState{Status: StatusUnauthenticated})

	sm.recordActivity(ctx, ActivityEvent{EventType: ActivityEventCacheCleared})
	return nil
}

// AccessToken returns the persisted access token when one exists and is not
// expired. The handle from validation is never retained here. Expiry follows
// the probe's rules: the blob's expires_at, then the JWT exp claim, and no
// readable expiry reads as expired.
func (sm *SessionStateMachine) AccessToken() (string, bool) {
	token, ok := sm.probe.Current()
	if !ok {
		return "", false
	}
	expiresAt := token.ExpiresAt
	if expiresAt == 0 {
		expiresAt = jwtExpiry(token.AccessToken)
	}
	if expiresAt == 0 || sm.now().Unix() >= expiresAt {
		return "", false
	}
	return token.AccessToken, true
}

// ResetError clears a surfaced error. An Errored status falls back to the
// safe default, Unauthenticated.
func (sm *SessionStateMachine) ResetError() {
	sm.mu.Lock()
	next := sm.state
	next.Err = ""
	if next.Status == StatusErrored {
		next.Status = StatusUnauthenticated
		next.User = nil
	}
	sm.state = next
	listeners := sm.snapshotListeners()
	sm.mu.Unlock()

	for _, fn := range listeners {
		fn(next)
	}
}

// applyRemoteSignOut handles a pushed SIGNED_OUT. Sign out is the highest
// priority event and is never suppressed.
func (sm *SessionStateMachine) applyRemoteSignOut(ctx context.Context) {
	sm.cache.Clear()
	if sm.setState(ctx, AuthState{Status: StatusUnauthenticated}) {
		sm.recordActivity(ctx, ActivityEvent{EventType: ActivityEventRemoteSignOut})
	}
}

// applyRemoteSession handles a pushed SIGNED_IN or TOKEN_REFRESHED. The
// transition happens only if the profile resolves; the pushed event already
// proved a session exists, so a fetch failure keeps the previous state.
func (sm *SessionStateMachine) applyRemoteSession(ctx context.Context, handle *SessionHandle) error {
	profile, err := sm.fetchProfile(ctx, handle, false)
	if err != nil {
		return err
	}
	if sm.setState(ctx, AuthState{Status: StatusAuthenticated, User: profile}) {
		sm.recordActivity(ctx, ActivityEvent{
			EventType: ActivityEventSessionRefreshed,
			UserID:    handle.UserID,
		})
	}
	return nil
}

func (sm *SessionStateMachine) completeAuthentication(ctx context.Context, handle *SessionHandle, event ActivityEventType) {
	profile := sm.resolveProfile(ctx, handle, true)
	if !sm.setState(ctx, AuthState{Status: StatusAuthenticated, User: profile}) {
		return
	}
	sm.recordActivity(ctx, ActivityEvent{
		EventType: event,
		UserID:    handle.UserID,
	})
}

// resolveProfile always produces a profile: repository miss or failure
// falls back to the synthetic minimal profile.
func (sm *SessionStateMachine) resolveProfile(ctx context.Context, handle *SessionHandle, bust bool) *UserProfile {
	profile, err := sm.fetchProfile(ctx, handle, bust)
	if err != nil {
		if !IsCancelled(err) {
			sm.logger.Warn("profile fetch failed, using synthetic profile", "user_id", handle.UserID, "error", err)
		}
		return SyntheticProfile(handle)
	}
	return profile
}

// fetchProfile consults the cache unless bust is set, and populates it on a
// successful fetch.
func (sm *SessionStateMachine) fetchProfile(ctx context.Context, handle *SessionHandle, bust bool) (*UserProfile, error) {
	if !bust {
		if cached := sm.cache.Get(handle.UserID); cached != nil {
			return cached, nil
		}
	}

	profile, err := sm.profiles.FindByID(ctx, handle.UserID)
	if err != nil {
		if goerrors.Is(err, context.Canceled) {
			return nil, ErrCancelled
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryNotFound, "profile lookup failed").
			WithTextCode(TextCodeProfileUnavailable)
	}
	if profile == nil {
		return nil, ErrProfileUnavailable
	}

	sm.cache.Set(handle.UserID, profile)
	return profile, nil
}

// setState folds the next state in unless the owning scope is already gone.
// A nil ctx is an unconditional local transition (sign out must win even
// when its scope is tearing down).
func (sm *SessionStateMachine) setState(ctx context.Context, next AuthState) bool {
	if ctx != nil && ctx.Err() != nil {
		return false
	}

	sm.mu.Lock()
	sm.state = next
	listeners := sm.snapshotListeners()
	sm.mu.Unlock()

	for _, fn := range listeners {
		fn(next)
	}
	return true
}

func (sm *SessionStateMachine) snapshotListeners() []func(AuthState) {
	listeners := make([]func(AuthState), 0, len(sm.listeners))
	for _, fn := range sm.listeners {
		listeners = append(listeners, fn)
	}
	return listeners
}

// beginSignInGuard raises the guard and returns the epoch the matching
// release must present. The epoch keeps an earlier sign in's settle timer
// from releasing the guard while a later sign in is still in flight.
func (sm *SessionStateMachine) beginSignInGuard() int64 {
	sm.signingIn.Store(true)
	return sm.signInEpoch.Add(1)
}

func (sm *SessionStateMachine) releaseSignInGuard(epoch int64) {
	// held briefly past settlement so the pushed echo is still suppressed
	time.AfterFunc(sm.guard, func() {
		if sm.signInEpoch.Load() == epoch {
			sm.signingIn.Store(false)
		}
	})
}

func (sm *SessionStateMachine) clearPersistedTokens() {
	remover, ok := sm.store.(TokenRemover)
	if !ok {
		return
	}
	for _, key := range sm.store.Keys() {
		if !strings.HasSuffix(key, TokenKeySuffix) {
			continue
		}
		if err := remover.Remove(key); err != nil {
			sm.logger.Warn("failed to remove persisted token", "key", key, "error", err)
		}
	}
}

func (sm *SessionStateMachine) recordActivity(ctx context.Context, event ActivityEvent) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = sm.now()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	sink := normalizeActivitySink(sm.activity)
	if err := sink.Record(ctx, event); err != nil {
		sm.logger.Warn("activity sink record error", "error", err)
	}
}
