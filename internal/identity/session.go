// Package identity supplies the stable identity of the signed-in user. The
// identity is used as the profile record ID.
package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// ErrNoSession is returned when no session is available.
var ErrNoSession = errors.New("no active session")

// Provider supplies the current user's identity.
type Provider interface {
	CurrentIdentity(ctx context.Context) (string, error)
}

// Static is a Provider for a fixed identity, used in development and tests.
type Static string

// CurrentIdentity returns the fixed identity.
func (s Static) CurrentIdentity(ctx context.Context) (string, error) {
	if s == "" {
		return "", ErrNoSession
	}
	return string(s), nil
}

// Verifier validates a session token and returns its claims.
type Verifier interface {
	ValidateJWT(ctx context.Context, tokenString string, expectedIssuer, expectedAudience string) (jwt.MapClaims, error)
}

// SessionProvider derives the identity from the subject of a signed session token.
type SessionProvider struct {
	token    string
	issuer   string
	audience string
	verifier Verifier
}

// NewSessionProvider creates a provider for token, verified by verifier.
func NewSessionProvider(token, issuer, audience string, verifier Verifier) *SessionProvider {
	return &SessionProvider{
		token:    token,
		issuer:   issuer,
		audience: audience,
		verifier: verifier,
	}
}

// CurrentIdentity verifies the session token and returns its subject.
func (p *SessionProvider) CurrentIdentity(ctx context.Context) (string, error) {
	if p.token == "" {
		return "", ErrNoSession
	}

	claims, err := p.verifier.ValidateJWT(ctx, p.token, p.issuer, p.audience)
	if err != nil {
		return "", fmt.Errorf("invalid session: %w", err)
	}

	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return "", fmt.Errorf("invalid session: missing subject")
	}
	return sub, nil
}
