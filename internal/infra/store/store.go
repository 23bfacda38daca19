// Package store implements access.Store over the record stores the service
// can run against. Every implementation keys records by the natural
// (user, app) pair, so an upsert can never produce a second record.
package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/cenie/accessd/internal/domain/access"
)

const (
	DefaultCollection = "user_app_access"

	maxTxAttempts          = 20
	conflictInitialBackoff = 2 * time.Millisecond
	conflictMaxBackoff     = 50 * time.Millisecond
)

var ErrTxConflict = errors.New("grant write conflicted too many times")

// retryOnConflict reruns op while it fails with conflict, sleeping a jittered
// exponential backoff between attempts. Other errors and ctx cancellation
// stop it at once.
func retryOnConflict(ctx context.Context, conflict error, op func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = conflictInitialBackoff
	b.MaxInterval = conflictMaxBackoff
	b.RandomizationFactor = 0.5

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := op()
		switch {
		case err == nil:
			return struct{}{}, nil
		case errors.Is(err, conflict):
			return struct{}{}, err
		default:
			return struct{}{}, backoff.Permanent(err)
		}
	}, backoff.WithBackOff(b), backoff.WithMaxTries(maxTxAttempts))

	if errors.Is(err, conflict) {
		return fmt.Errorf("%w: %w", ErrTxConflict, err)
	}
	return err
}

// upsertGrant applies a grant to the existing record, or builds a new one.
func upsertGrant(existing *access.Grant, userID string, app access.AppName, role, grantedBy string, now time.Time, newID func() string) *access.Grant {
	g := &access.Grant{}
	if existing != nil {
		*g = *existing
	} else {
		g.ID = newID()
		g.UserID = userID
		g.AppName = app
	}
	g.Role = role
	g.IsActive = true
	g.GrantedAt = now
	g.GrantedBy = grantedBy
	g.UpdatedAt = now
	return g
}

func filterAndSort(grants []*access.Grant, userID string, activeOnly bool) []*access.Grant {
	out := make([]*access.Grant, 0, len(grants))
	for _, g := range grants {
		if g.UserID != userID {
			continue
		}
		if activeOnly && !g.IsActive {
			continue
		}
		out = append(out, g)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].GrantedAt.After(out[j].GrantedAt)
	})
	return out
}
