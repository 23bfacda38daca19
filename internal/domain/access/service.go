package access

import (
	"context"
)

type Service interface {
	// CheckAccess never reports "no access" as an error. Errors are only
	// returned for invalid arguments; store failures resolve to NoAccess.
	CheckAccess(ctx context.Context, userID string, app AppName) (AccessData, error)

	GrantAccess(ctx context.Context, userID string, app AppName, role, grantedBy string) (*Grant, error)

	RevokeAccess(ctx context.Context, userID string, app AppName) error

	// ActiveGrant bypasses the cache; it backs display endpoints that need
	// grant metadata rather than a decision.
	ActiveGrant(ctx context.Context, userID string, app AppName) (*Grant, error)

	ListGrants(ctx context.Context, userID string, activeOnly bool) ([]*Grant, error)
}
