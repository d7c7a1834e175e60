package session

import (
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
)

// Status is the externally observable authentication status.
type Status string

const (
	StatusBootstrapping   Status = "bootstrapping"
	StatusUnauthenticated Status = "unauthenticated"
	StatusAuthenticated   Status = "authenticated"
	StatusErrored         Status = "errored"
)

// AuthState is the snapshot the state machine exposes to observers.
type AuthState struct {
	Status Status
	User   *UserProfile
	Err    string
}

// Authenticated reports whether the state carries a confirmed user.
func (s AuthState) Authenticated() bool {
	return s.Status == StatusAuthenticated && s.User != nil
}

// UserProfile is the profile row the application displays for the actor.
type UserProfile struct {
	ID               string `json:"id"`
	Email            string `json:"email"`
	Username         string `json:"username"`
	DisplayName      string `json:"display_name"`
	AvatarURL        string `json:"avatar_url,omitempty"`
	ReliabilityScore int    `json:"reliability_score,omitempty"`
	XPPoints         int    `json:"xp_points,omitempty"`
	Level            int    `json:"level,omitempty"`
	Premium          bool   `json:"is_premium,omitempty"`
}

// SessionHandle is a server-confirmed proof of authentication. It is
// consumed immediately to drive a profile fetch and never persisted here;
// persistence belongs to the identity backend's client.
type SessionHandle struct {
	UserID      string
	Email       string
	AccessToken string
}

// PersistedToken is the parsed shape of the token blob the identity
// backend's client writes into the persisted store.
type PersistedToken struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	ExpiresAt    int64  `json:"expires_at"`
}

// Credentials is the payload for password sign in.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (c Credentials) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Email, validation.Required, validation.Length(6, 100), is.Email),
		validation.Field(&c.Password, validation.Required, validation.Length(6, 100)),
	)
}

// SignUpRequest is the payload for account creation.
type SignUpRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name,omitempty"`
}

func (r SignUpRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, validation.Length(6, 100), is.Email),
		validation.Field(&r.Password, validation.Required, validation.Length(6, 100)),
		validation.Field(&r.Username, validation.Required, validation.Length(2, 50)),
		validation.Field(&r.DisplayName, validation.Length(0, 200)),
	)
}

// AuthEventType enumerates the server-pushed auth change events.
type AuthEventType string

const (
	EventInitialSession AuthEventType = "INITIAL_SESSION"
	EventSignedIn       AuthEventType = "SIGNED_IN"
	EventSignedOut      AuthEventType = "SIGNED_OUT"
	EventTokenRefreshed AuthEventType = "TOKEN_REFRESHED"
)

// AuthEvent is one discrete change pushed by the identity backend.
type AuthEvent struct {
	Type    AuthEventType
	Session *SessionHandle
}

// SyntheticProfile builds the minimal profile used when the repository has
// no row for a confirmed session. Authentication is never blocked on the
// profile fetch.
func SyntheticProfile(handle *SessionHandle) *UserProfile {
	if handle == nil {
		return nil
	}
	username := deriveUsername(handle.Email, handle.UserID)
	return &UserProfile{
		ID:          handle.UserID,
		Email:       handle.Email,
		Username:    username,
		DisplayName: username,
	}
}

func deriveUsername(email, fallback string) string {
	if strings.Contains(email, "@") {
		if name := strings.SplitN(email, "@", 2)[0]; name != "" {
			return name
		}
	}
	if fallback == "" {
		return "user"
	}
	cleaned := strings.NewReplacer("|", "_", ":", "_", " ", "_").Replace(fallback)
	if cleaned == "" {
		return "user"
	}
	return cleaned
}
