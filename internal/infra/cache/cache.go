package cache

import (
	"context"
	"errors"
	"time"
)

const (
	DefaultTTL           = 5 * time.Minute
	DefaultSweepInterval = time.Minute
)

var ErrCacheMiss = errors.New("cache miss")

// CachedAccess is the cached effect of one (user, app) grant lookup.
// A negative lookup is cached too.
type CachedAccess struct {
	HasAccess bool   `json:"has_access"`
	Role      string `json:"role,omitempty"`
	IsActive  bool   `json:"is_active"`
}

// AccessCache sits in front of the grant store. Get returns ErrCacheMiss for
// absent and expired entries alike.
type AccessCache interface {
	Get(ctx context.Context, userID, app string) (*CachedAccess, error)
	Set(ctx context.Context, userID, app string, value *CachedAccess, ttl time.Duration) error
	Invalidate(ctx context.Context, userID, app string) error
	InvalidateSubject(ctx context.Context, userID string) error
	InvalidateAll(ctx context.Context) error
}
