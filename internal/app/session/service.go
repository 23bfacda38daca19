package session

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"

	accessdomain "github.com/cenie/accessd/internal/domain/access"
	sessiondomain "github.com/cenie/accessd/internal/domain/session"
	"github.com/cenie/accessd/pkg/tracer"
)

type Service struct {
	domainService *sessiondomain.Service
}

func NewService(domainService *sessiondomain.Service) *Service {
	return &Service{
		domainService: domainService,
	}
}

func (s *Service) Authenticate(ctx context.Context, credential string) (*sessiondomain.AuthenticatedUser, error) {
	ctx, span := tracer.Start(ctx, "app.session.Authenticate")
	defer span.End()

	span.SetAttributes(attribute.String("session.prefix", credentialPrefix(credential)))

	user, err := s.domainService.Authenticate(ctx, credential)
	if err != nil {
		span.SetAttributes(attribute.Bool("session.authenticated", false))
		return nil, err
	}

	span.SetAttributes(
		attribute.Bool("session.authenticated", true),
		attribute.String("session.user_id", user.UID),
	)
	return user, nil
}

func (s *Service) Create(
	ctx context.Context,
	idToken string,
	app accessdomain.AppName,
	expiresIn time.Duration,
) (string, time.Duration, error) {
	ctx, span := tracer.Start(ctx, "app.session.Create")
	defer span.End()

	span.SetAttributes(
		attribute.String("session.app", string(app)),
		attribute.Int64("session.requested_ms", expiresIn.Milliseconds()),
	)

	credential, effective, err := s.domainService.Create(ctx, idToken, app, expiresIn)
	if err != nil {
		span.RecordError(err)
		return "", 0, err
	}

	span.SetAttributes(attribute.Int64("session.expires_in_ms", effective.Milliseconds()))
	return credential, effective, nil
}

const credentialPrefixLength = 8

func credentialPrefix(credential string) string {
	if len(credential) > credentialPrefixLength {
		return credential[:credentialPrefixLength] + "..."
	}
	return "***"
}
