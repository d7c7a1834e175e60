package session

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenKeySuffix is the identity backend's token-naming convention for
// entries in the persisted store.
const TokenKeySuffix = "-auth-token"

// ProbeResult is the outcome of a local token inspection.
type ProbeResult struct {
	HasToken bool
	Expired  bool
}

// Usable reports whether a network round-trip is worth attempting.
func (r ProbeResult) Usable() bool {
	return r.HasToken && !r.Expired
}

// TokenProbe synchronously inspects the persisted token blob. It never
// returns errors and never touches the network: it exists purely so
// bootstrap can short-circuit to unauthenticated when there is provably no
// session to recover.
type TokenProbe struct {
	store  TokenStore
	now    func() time.Time
	logger Logger
}

// TokenProbeOption customizes probe construction.
type TokenProbeOption func(*TokenProbe)

// WithProbeClock injects a custom clock (useful for tests).
func WithProbeClock(clock func() time.Time) TokenProbeOption {
	return func(p *TokenProbe) {
		if clock != nil {
			p.now = clock
		}
	}
}

// WithProbeLogger overrides the probe logger.
func WithProbeLogger(logger Logger) TokenProbeOption {
	return func(p *TokenProbe) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// NewTokenProbe returns a probe reading from the given store.
func NewTokenProbe(store TokenStore, opts ...TokenProbeOption) *TokenProbe {
	p := &TokenProbe{
		store:  store,
		now:    time.Now,
		logger: defLogger{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// Probe scans the store for a token entry and classifies it. Corrupt or
// unreadable data fails closed: it reads as an expired non-token, never as
// authenticated.
func (p *TokenProbe) Probe() ProbeResult {
	raw, found := p.rawBlob()
	if !found {
		return ProbeResult{}
	}

	token, ok := parseTokenBlob(raw)
	if !ok {
		p.logger.Debug("token probe ignoring unparseable blob")
		return ProbeResult{HasToken: false, Expired: true}
	}

	expiresAt := token.ExpiresAt
	if expiresAt == 0 {
		expiresAt = jwtExpiry(token.AccessToken)
	}
	if expiresAt == 0 {
		// no expiry we can read: fail closed rather than trusting it
		return ProbeResult{HasToken: false, Expired: true}
	}

	return ProbeResult{
		HasToken: true,
		Expired:  p.now().Unix() >= expiresAt,
	}
}

// Current returns the parsed persisted token, if one exists and parses.
func (p *TokenProbe) Current() (PersistedToken, bool) {
	raw, found := p.rawBlob()
	if !found {
		return PersistedToken{}, false
	}
	return parseTokenBlob(raw)
}

func (p *TokenProbe) rawBlob() ([]byte, bool) {
	if p.store == nil {
		return nil, false
	}
	for _, key := range p.store.Keys() {
		if strings.HasSuffix(key, TokenKeySuffix) {
			return p.store.Get(key)
		}
	}
	return nil, false
}

func parseTokenBlob(raw []byte) (PersistedToken, bool) {
	var token PersistedToken
	if err := json.Unmarshal(raw, &token); err != nil {
		return PersistedToken{}, false
	}
	if token.AccessToken == "" {
		return PersistedToken{}, false
	}
	return token, true
}

// jwtExpiry reads the exp claim without verifying the signature. This core
// never performs cryptographic validation; it only needs the timestamp.
func jwtExpiry(raw string) int64 {
	if raw == "" {
		return 0
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return 0
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return 0
	}
	return exp.Unix()
}
