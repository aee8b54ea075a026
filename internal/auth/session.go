// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ThinkGreen Contributors

package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/samber/oops"
)

// Session token configuration.
const (
	SessionTTL          = 7 * 24 * time.Hour
	MinSessionKeyLength = 32
	sessionIssuer       = "thinkgreen"
)

// SessionClaims is the identity carried by a session token.
type SessionClaims struct {
	UserID      string `json:"userId"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
}

// sessionToken is the JWT body.
type sessionToken struct {
	SessionClaims
	jwt.RegisteredClaims
}

// SessionSigner issues and verifies HS256 session tokens. Tokens are
// stateless; there is no server-side revocation.
type SessionSigner struct {
	key    []byte
	ttl    time.Duration
	now    func() time.Time
	parser *jwt.Parser
}

// SessionSignerOption configures a SessionSigner during construction.
type SessionSignerOption func(*SessionSigner)

// WithSessionTTL overrides SessionTTL.
func WithSessionTTL(ttl time.Duration) SessionSignerOption {
	return func(s *SessionSigner) {
		s.ttl = ttl
	}
}

// WithSessionClock sets the time source used for issuing and validating.
func WithSessionClock(now func() time.Time) SessionSignerOption {
	return func(s *SessionSigner) {
		s.now = now
	}
}

// NewSessionSigner creates a signer. The key is fixed for the life of the
// process and must be at least MinSessionKeyLength bytes.
func NewSessionSigner(key []byte, opts ...SessionSignerOption) (*SessionSigner, error) {
	if len(key) < MinSessionKeyLength {
		return nil, oops.Code("SESSION_KEY_INVALID").
			With("min_length", MinSessionKeyLength).
			Errorf("session signing key must be at least %d bytes", MinSessionKeyLength)
	}
	s := &SessionSigner{
		key: append([]byte(nil), key...),
		ttl: SessionTTL,
		now: time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.ttl <= 0 {
		return nil, oops.Code("SESSION_TTL_INVALID").Errorf("session ttl must be positive, got %s", s.ttl)
	}
	s.parser = jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(sessionIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return s.now() }),
	)
	return s, nil
}

// TTL returns the lifetime of issued tokens.
func (s *SessionSigner) TTL() time.Duration {
	return s.ttl
}

// Issue signs claims into a token and returns it with its expiry.
func (s *SessionSigner) Issue(claims SessionClaims) (string, time.Time, error) {
	if claims.UserID == "" {
		return "", time.Time{}, oops.Code("SESSION_CLAIMS_INVALID").Errorf("user id is required")
	}
	now := s.now()
	expiresAt := now.Add(s.ttl)
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, sessionToken{
		SessionClaims: claims,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    sessionIssuer,
			Subject:   claims.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	})
	signed, err := tok.SignedString(s.key)
	if err != nil {
		return "", time.Time{}, oops.Code("SESSION_SIGN_FAILED").Wrap(err)
	}
	return signed, expiresAt, nil
}

// Verify returns the claims of a valid token. Malformed, tampered and
// expired tokens yield (nil, false).
func (s *SessionSigner) Verify(token string) (*SessionClaims, bool) {
	if token == "" {
		return nil, false
	}
	var body sessionToken
	parsed, err := s.parser.ParseWithClaims(token, &body, func(*jwt.Token) (any, error) {
		return s.key, nil
	})
	if err != nil || !parsed.Valid {
		return nil, false
	}
	if body.UserID == "" || body.Subject != body.UserID {
		return nil, false
	}
	claims := body.SessionClaims
	return &claims, true
}
