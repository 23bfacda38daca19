// Package session verifies session credentials and mints new ones from ID
// tokens.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cenie/accessd/internal/domain/access"
	"github.com/cenie/accessd/internal/infra/identity"
	"github.com/cenie/accessd/pkg/logger"
)

const (
	// MaxDuration is the identity provider's hard limit on session lifetime.
	MaxDuration = 14 * 24 * time.Hour
	// DefaultRole stands in until a role is resolved for a specific app.
	DefaultRole = "viewer"
)

var (
	ErrUnauthenticated = errors.New("authentication required")
	ErrMissingIDToken  = errors.New("id token is required")
	ErrSessionCreation = errors.New("failed to create session")
)

// Claim is the decoded proof of identity for one request.
type Claim = identity.Token

type AuthenticatedUser struct {
	UID   string
	Email string
	// Role is DefaultRole until an app-specific check resolves it.
	Role    string
	Session *Claim
}

// WithRole returns a copy carrying the resolved role.
func (u *AuthenticatedUser) WithRole(role string) *AuthenticatedUser {
	cp := *u
	cp.Role = role
	return &cp
}

type Service struct {
	provider     identity.Provider
	checkRevoked bool
}

type Option func(*Service)

// WithRevocationCheck controls whether every verification also asks the
// identity service if the credential was revoked. On by default.
func WithRevocationCheck(enabled bool) Option {
	return func(s *Service) {
		s.checkRevoked = enabled
	}
}

func NewService(provider identity.Provider, opts ...Option) *Service {
	s := &Service{
		provider:     provider,
		checkRevoked: true,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Verify never calls the identity service for an empty credential. Any
// rejection is reported as ErrUnauthenticated.
func (s *Service) Verify(ctx context.Context, credential string) (*Claim, error) {
	if strings.TrimSpace(credential) == "" {
		return nil, ErrUnauthenticated
	}

	claim, err := s.provider.VerifySessionCookie(ctx, credential, s.checkRevoked)
	if err != nil {
		logger.DebugContext(ctx, "session verification failed",
			slog.String("error", err.Error()),
		)
		return nil, ErrUnauthenticated
	}
	return claim, nil
}

func (s *Service) Authenticate(ctx context.Context, credential string) (*AuthenticatedUser, error) {
	claim, err := s.Verify(ctx, credential)
	if err != nil {
		return nil, err
	}
	return &AuthenticatedUser{
		UID:     claim.UID,
		Email:   claim.Email,
		Role:    DefaultRole,
		Session: claim,
	}, nil
}

// Create mints a session credential. A zero expiresIn means MaxDuration;
// anything longer is capped to it. The effective lifetime is returned for
// the cookie's max-age.
func (s *Service) Create(
	ctx context.Context,
	idToken string,
	app access.AppName,
	expiresIn time.Duration,
) (string, time.Duration, error) {
	if strings.TrimSpace(idToken) == "" {
		return "", 0, ErrMissingIDToken
	}
	if !app.Valid() {
		return "", 0, fmt.Errorf("%w: %q", access.ErrUnknownApplication, app)
	}

	if expiresIn <= 0 {
		expiresIn = MaxDuration
	}
	if expiresIn > MaxDuration {
		logger.WarnContext(ctx, "session expiration exceeds identity provider limit, capping at 14 days",
			slog.Duration("requested", expiresIn),
			slog.Duration("capped", MaxDuration),
			slog.String("app", string(app)),
		)
		expiresIn = MaxDuration
	}

	credential, err := s.provider.CreateSessionCookie(ctx, idToken, expiresIn)
	if err != nil {
		logger.ErrorContext(ctx, "session creation failed",
			slog.String("app", string(app)),
			slog.Duration("expires_in", expiresIn),
			slog.String("error", err.Error()),
		)
		return "", 0, fmt.Errorf("%w: %w", ErrSessionCreation, err)
	}

	logger.InfoContext(ctx, "session created",
		slog.String("app", string(app)),
		slog.Duration("expires_in", expiresIn),
	)
	return credential, expiresIn, nil
}
