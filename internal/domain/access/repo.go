package access

import (
	"context"
)

// Store is the record-store port for access grants. Implementations own the
// user_app_access collection exclusively.
type Store interface {
	// FindActive returns the active grant for the pair or ErrGrantNotFound.
	FindActive(ctx context.Context, userID string, app AppName) (*Grant, error)
	// Upsert creates or reactivates the single record for the pair in one
	// atomic operation.
	Upsert(ctx context.Context, userID string, app AppName, role, grantedBy string) (*Grant, error)
	// Deactivate flips the record to inactive. It returns false when no
	// record exists.
	Deactivate(ctx context.Context, userID string, app AppName) (bool, error)
	// ListByUser returns the user's grants, newest first.
	ListByUser(ctx context.Context, userID string, activeOnly bool) ([]*Grant, error)
}

// ChangeNotifier is told when a user's grants changed so the claims embedded
// in future session tokens can be recomputed. It must not block the caller.
type ChangeNotifier interface {
	NotifyChanged(ctx context.Context, userID string)
}
