package access

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"

	accessdomain "github.com/cenie/accessd/internal/domain/access"
	"github.com/cenie/accessd/pkg/tracer"
)

type QueryService struct {
	domainService accessdomain.Service
}

func NewQueryService(domainService accessdomain.Service) *QueryService {
	return &QueryService{
		domainService: domainService,
	}
}

func (s *QueryService) CheckAccess(
	ctx context.Context,
	userID string,
	app accessdomain.AppName,
) (accessdomain.AccessData, error) {
	ctx, span := tracer.Start(ctx, "app.access.CheckAccess")
	defer span.End()

	span.SetAttributes(
		attribute.String("access.user_id", userID),
		attribute.String("access.app", string(app)),
	)

	data, err := s.domainService.CheckAccess(ctx, userID, app)
	if err != nil {
		span.RecordError(err)
		return data, err
	}

	span.SetAttributes(attribute.Bool("access.has_access", data.HasAccess))
	if data.HasAccess {
		span.SetAttributes(attribute.String("access.role", data.Role))
	}
	return data, nil
}

// AppAccess is a subject's standing in one app as shown to that subject.
type AppAccess struct {
	HasAccess bool
	Role      string
	GrantedAt *time.Time
}

func (s *QueryService) AppAccess(ctx context.Context, userID string, app accessdomain.AppName) (AppAccess, error) {
	ctx, span := tracer.Start(ctx, "app.access.AppAccess")
	defer span.End()

	span.SetAttributes(
		attribute.String("access.user_id", userID),
		attribute.String("access.app", string(app)),
	)

	grant, err := s.domainService.ActiveGrant(ctx, userID, app)
	if errors.Is(err, accessdomain.ErrGrantNotFound) {
		return AppAccess{}, nil
	}
	if err != nil {
		span.RecordError(err)
		return AppAccess{}, err
	}

	grantedAt := grant.GrantedAt
	return AppAccess{
		HasAccess: true,
		Role:      grant.Role,
		GrantedAt: &grantedAt,
	}, nil
}

// ListGrants returns the subject's grants newest first. With activeOnly
// false it includes revoked records.
func (s *QueryService) ListGrants(ctx context.Context, userID string, activeOnly bool) ([]*accessdomain.Grant, error) {
	ctx, span := tracer.Start(ctx, "app.access.ListGrants")
	defer span.End()

	span.SetAttributes(
		attribute.String("access.user_id", userID),
		attribute.Bool("access.active_only", activeOnly),
	)

	grants, err := s.domainService.ListGrants(ctx, userID, activeOnly)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	span.SetAttributes(attribute.Int("access.grant_count", len(grants)))
	return grants, nil
}
