// Package auth provides the bearer credential the transport attaches to every
// dial and bootstrap call. The engine never verifies tokens (the backend
// does); it only needs to know the token's expiry so an expired credential is
// reported as a session-expired condition instead of being retried as a
// connection failure.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
)

// ErrTokenExpired is returned when the configured credential has expired or
// is missing. Callers treat it as fatal: no reconnection is scheduled.
var ErrTokenExpired = errors.New("auth: token missing or expired")

// TokenSource yields the current bearer token.
type TokenSource interface {
	Token() (*oauth2.Token, error)
}

// StaticSource wraps a single configured bearer token. When the token is a
// JWT its exp claim is decoded (unverified) so expiry is detected locally
// before a doomed dial; opaque tokens are passed through untouched.
type StaticSource struct {
	token *oauth2.Token
	now   func() time.Time
}

// NewStaticSource builds a source from a raw bearer token string.
func NewStaticSource(raw string) (*StaticSource, error) {
	if raw == "" {
		return nil, fmt.Errorf("auth.NewStaticSource: %w", ErrTokenExpired)
	}

	tok := &oauth2.Token{AccessToken: raw, TokenType: "Bearer"}

	if exp, ok := jwtExpiry(raw); ok {
		tok.Expiry = exp
	}

	return &StaticSource{token: tok, now: time.Now}, nil
}

// Token returns the configured token, or ErrTokenExpired once its recorded
// expiry has passed.
func (s *StaticSource) Token() (*oauth2.Token, error) {
	if !s.token.Expiry.IsZero() && !s.now().Before(s.token.Expiry) {
		return nil, ErrTokenExpired
	}
	return s.token, nil
}

// jwtExpiry extracts the exp claim from a JWT without verifying the
// signature. Returns ok=false for non-JWT tokens or tokens without exp.
func jwtExpiry(raw string) (time.Time, bool) {
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(raw, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}
