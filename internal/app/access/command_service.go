package access

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"

	accessdomain "github.com/cenie/accessd/internal/domain/access"
	"github.com/cenie/accessd/pkg/logger"
	"github.com/cenie/accessd/pkg/tracer"
)

type CommandService struct {
	domainService accessdomain.Service
}

func NewCommandService(domainService accessdomain.Service) *CommandService {
	return &CommandService{
		domainService: domainService,
	}
}

func (s *CommandService) GrantAccess(
	ctx context.Context,
	userID string,
	app accessdomain.AppName,
	role, grantedBy string,
) (*accessdomain.Grant, error) {
	ctx, span := tracer.Start(ctx, "app.access.GrantAccess")
	defer span.End()

	span.SetAttributes(
		attribute.String("access.user_id", userID),
		attribute.String("access.app", string(app)),
		attribute.String("access.role", role),
		attribute.String("access.granted_by", grantedBy),
	)

	grant, err := s.domainService.GrantAccess(ctx, userID, app, role, grantedBy)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	span.SetAttributes(attribute.String("access.grant_id", grant.ID))
	return grant, nil
}

// BulkResult is the outcome for one subject of a bulk grant.
type BulkResult struct {
	UserID string
	Grant  *accessdomain.Grant
	Err    error
}

// BulkGrantAccess grants the same role to every subject. A failure for one
// subject does not stop the rest.
func (s *CommandService) BulkGrantAccess(
	ctx context.Context,
	userIDs []string,
	app accessdomain.AppName,
	role, grantedBy string,
) []BulkResult {
	ctx, span := tracer.Start(ctx, "app.access.BulkGrantAccess")
	defer span.End()

	span.SetAttributes(
		attribute.String("access.app", string(app)),
		attribute.String("access.role", role),
		attribute.Int("access.user_count", len(userIDs)),
	)

	results := make([]BulkResult, 0, len(userIDs))
	failed := 0
	for _, userID := range userIDs {
		grant, err := s.domainService.GrantAccess(ctx, userID, app, role, grantedBy)
		if err != nil {
			failed++
		}
		results = append(results, BulkResult{UserID: userID, Grant: grant, Err: err})
	}

	span.SetAttributes(attribute.Int("access.failed_count", failed))
	logger.InfoContext(ctx, "bulk grant finished",
		slog.String("app", string(app)),
		slog.String("role", role),
		slog.Int("requested", len(userIDs)),
		slog.Int("failed", failed),
	)
	return results
}

func (s *CommandService) RevokeAccess(ctx context.Context, userID string, app accessdomain.AppName) error {
	ctx, span := tracer.Start(ctx, "app.access.RevokeAccess")
	defer span.End()

	span.SetAttributes(
		attribute.String("access.user_id", userID),
		attribute.String("access.app", string(app)),
	)

	if err := s.domainService.RevokeAccess(ctx, userID, app); err != nil {
		span.RecordError(err)
		return err
	}
	return nil
}
