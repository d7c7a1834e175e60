// Package gotrue implements session.IdentityClient against a GoTrue-style
// REST identity backend (the auth surface Supabase exposes). The client
// plays the SDK role the session core treats as a black box: it owns the
// persisted token blob and pushes auth change events to subscribers.
package gotrue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-session"
)

// TokenWriter is the store surface the client needs: the read-only core
// contract plus writes for the blob this client owns.
type TokenWriter interface {
	session.TokenStore
	Set(key string, value []byte)
	Remove(key string) error
}

// Client talks to a GoTrue-style backend over HTTP.
type Client struct {
	cfg        Config
	httpClient *http.Client
	store      TokenWriter
	storageKey string
	now        func() time.Time
	logger     session.Logger

	mu          sync.Mutex
	handlers    map[int]func(session.AuthEvent)
	nextHandler int
}

// Option customizes client construction.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

// WithLogger overrides the client logger.
func WithLogger(logger session.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithClock injects a custom clock (useful for tests).
func WithClock(clock func() time.Time) Option {
	return func(c *Client) {
		if clock != nil {
			c.now = clock
		}
	}
}

// New returns a client persisting sessions into store.
func New(cfg Config, store TokenWriter, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryValidation, "invalid gotrue config")
	}
	if store == nil {
		return nil, goerrors.New("token store is required", goerrors.CategoryBadInput)
	}

	c := &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
		store:      store,
		storageKey: cfg.StorageKeyPrefix + session.TokenKeySuffix,
		now:        time.Now,
		logger:     session.DefaultLogger(),
		handlers:   map[int]func(session.AuthEvent){},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

// tokenResponse is the wire shape of GoTrue token grants.
type tokenResponse struct {
	AccessToken  string   `json:"access_token"`
	RefreshToken string   `json:"refresh_token"`
	ExpiresIn    int64    `json:"expires_in"`
	ExpiresAt    int64    `json:"expires_at"`
	User         wireUser `json:"user"`
}

type wireUser struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// persistedSession is the blob written into the token store. The session
// core reads only the token fields; the user is kept so GetSession can
// rebuild a handle without a network call.
type persistedSession struct {
	AccessToken  string   `json:"access_token"`
	RefreshToken string   `json:"refresh_token,omitempty"`
	ExpiresAt    int64    `json:"expires_at"`
	User         wireUser `json:"user"`
}

type apiError struct {
	Message     string `json:"msg"`
	Error       string `json:"error"`
	Description string `json:"error_description"`
}

func (e apiError) text() string {
	switch {
	case e.Message != "":
		return e.Message
	case e.Description != "":
		return e.Description
	case e.Error != "":
		return e.Error
	default:
		return "request rejected"
	}
}

// GetSession returns the locally known session, refreshing it when the
// persisted token already expired. A clean (nil, nil) means the backend
// confidently has no session for this client.
func (c *Client) GetSession(ctx context.Context) (*session.SessionHandle, error) {
	stored, ok := c.readPersisted()
	if !ok {
		return nil, nil
	}
	if stored.ExpiresAt > 0 && c.now().Unix() >= stored.ExpiresAt {
		if stored.RefreshToken == "" {
			c.store.Remove(c.storageKey)
			return nil, nil
		}
		return c.refresh(ctx, stored.RefreshToken)
	}
	return &session.SessionHandle{
		UserID:      stored.User.ID,
		Email:       stored.User.Email,
		AccessToken: stored.AccessToken,
	}, nil
}

// RefreshSession exchanges the persisted refresh token for a new session.
func (c *Client) RefreshSession(ctx context.Context) (*session.SessionHandle, error) {
	stored, ok := c.readPersisted()
	if !ok || stored.RefreshToken == "" {
		return nil, session.ErrNoSession
	}
	return c.refresh(ctx, stored.RefreshToken)
}

// SignInWithPassword performs the password grant.
func (c *Client) SignInWithPassword(ctx context.Context, creds session.Credentials) (*session.SessionHandle, error) {
	var resp tokenResponse
	err := c.post(ctx, "/token?grant_type=password", map[string]string{
		"email":    creds.Email,
		"password": creds.Password,
	}, "", &resp)
	if err != nil {
		return nil, err
	}

	handle := c.persist(resp)
	c.emit(session.AuthEvent{Type: session.EventSignedIn, Session: handle})
	return handle, nil
}

// SignUp registers a new account. Backends with email confirmation enabled
// return no session yet; the handle is nil in that case.
func (c *Client) SignUp(ctx context.Context, req session.SignUpRequest) (*session.SessionHandle, error) {
	payload := map[string]any{
		"email":    req.Email,
		"password": req.Password,
		"data": map[string]string{
			"username":     req.Username,
			"display_name": displayNameOrUsername(req),
		},
	}

	var resp tokenResponse
	if err := c.post(ctx, "/signup", payload, "", &resp); err != nil {
		return nil, err
	}
	if resp.AccessToken == "" {
		return nil, nil
	}

	handle := c.persist(resp)
	c.emit(session.AuthEvent{Type: session.EventSignedIn, Session: handle})
	return handle, nil
}

// SignOut invalidates the remote session and always drops the local blob,
// even when the remote call fails.
func (c *Client) SignOut(ctx context.Context, scope session.SignOutScope) error {
	stored, ok := c.readPersisted()

	c.store.Remove(c.storageKey)
	defer c.emit(session.AuthEvent{Type: session.EventSignedOut})

	if !ok || scope == session.SignOutLocal {
		return nil
	}
	return c.post(ctx, "/logout", nil, stored.AccessToken, nil)
}

// OnAuthStateChange registers a handler for auth events. Handlers run
// synchronously on the goroutine that produced the event.
func (c *Client) OnAuthStateChange(handler func(session.AuthEvent)) func() {
	if handler == nil {
		return func() {}
	}

	c.mu.Lock()
	id := c.nextHandler
	c.nextHandler++
	c.handlers[id] = handler
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.handlers, id)
		c.mu.Unlock()
	}
}

func (c *Client) refresh(ctx context.Context, refreshToken string) (*session.SessionHandle, error) {
	var resp tokenResponse
	err := c.post(ctx, "/token?grant_type=refresh_token", map[string]string{
		"refresh_token": refreshToken,
	}, "", &resp)
	if err != nil {
		if session.IsBackendRejection(err) {
			// the refresh token is burned; keeping the blob would make every
			// later bootstrap repeat this failure
			c.store.Remove(c.storageKey)
		}
		return nil, err
	}

	handle := c.persist(resp)
	c.emit(session.AuthEvent{Type: session.EventTokenRefreshed, Session: handle})
	return handle, nil
}

func (c *Client) persist(resp tokenResponse) *session.SessionHandle {
	expiresAt := resp.ExpiresAt
	if expiresAt == 0 && resp.ExpiresIn > 0 {
		expiresAt = c.now().Unix() + resp.ExpiresIn
	}

	blob, err := json.Marshal(persistedSession{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		ExpiresAt:    expiresAt,
		User:         resp.User,
	})
	if err == nil {
		c.store.Set(c.storageKey, blob)
	} else {
		c.logger.Warn("failed to persist session blob", "error", err)
	}

	return &session.SessionHandle{
		UserID:      resp.User.ID,
		Email:       resp.User.Email,
		AccessToken: resp.AccessToken,
	}
}

func (c *Client) readPersisted() (persistedSession, bool) {
	raw, ok := c.store.Get(c.storageKey)
	if !ok {
		return persistedSession{}, false
	}
	var stored persistedSession
	if err := json.Unmarshal(raw, &stored); err != nil {
		c.logger.Warn("dropping unparseable session blob", "error", err)
		c.store.Remove(c.storageKey)
		return persistedSession{}, false
	}
	if stored.AccessToken == "" {
		return persistedSession{}, false
	}
	return stored, true
}

func (c *Client) emit(event session.AuthEvent) {
	c.mu.Lock()
	handlers := make([]func(session.AuthEvent), 0, len(c.handlers))
	for _, handler := range c.handlers {
		handlers = append(handlers, handler)
	}
	c.mu.Unlock()

	for _, handler := range handlers {
		handler(event)
	}
}

// post sends a JSON request and decodes the response into out. All
// transport and API errors are classified into the session error taxonomy
// here, at the adapter boundary, so core logic never inspects messages.
func (c *Client) post(ctx context.Context, path string, payload any, bearer string, out any) error {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to encode request")
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL+path, body)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to build request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", c.cfg.AnonKey)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	} else {
		req.Header.Set("Authorization", "Bearer "+c.cfg.AnonKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return session.ClassifyTransportError(err, "gotrue request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr apiError
		if decodeErr := json.NewDecoder(resp.Body).Decode(&apiErr); decodeErr != nil {
			apiErr = apiError{Message: resp.Status}
		}
		return goerrors.New(fmt.Sprintf("gotrue: %s", apiErr.text()), goerrors.CategoryAuth).
			WithTextCode(session.TextCodeBackendRejected).
			WithCode(goerrors.CodeUnauthorized).
			WithMetadata(map[string]any{"status": resp.StatusCode})
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to decode gotrue response")
	}
	return nil
}

func displayNameOrUsername(req session.SignUpRequest) string {
	if req.DisplayName != "" {
		return req.DisplayName
	}
	return req.Username
}
