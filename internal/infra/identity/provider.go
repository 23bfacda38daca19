// Package identity talks to the external identity service: it mints
// session credentials from ID tokens, verifies them, and pushes custom
// claims onto user accounts.
package identity

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrInvalidCredential covers malformed, expired and badly signed tokens.
	ErrInvalidCredential = errors.New("invalid session credential")
	ErrRevoked           = errors.New("session credential revoked")
	ErrUserDisabled      = errors.New("user account disabled")
	ErrUnavailable       = errors.New("identity service unavailable")
	ErrRejected          = errors.New("identity service rejected the request")
)

// Token is a verified session credential.
type Token struct {
	UID       string
	Email     string
	Role      string
	IssuedAt  time.Time
	ExpiresAt time.Time
	AuthTime  time.Time
	// Claims holds every claim in the credential, custom claims included.
	Claims map[string]any
}

type Provider interface {
	CreateSessionCookie(ctx context.Context, idToken string, expiresIn time.Duration) (string, error)
	VerifySessionCookie(ctx context.Context, credential string, checkRevoked bool) (*Token, error)
	SetCustomUserClaims(ctx context.Context, uid string, claims map[string]any) error
}
