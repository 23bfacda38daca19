package claims

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/cenie/accessd/internal/domain/access"
	"github.com/cenie/accessd/internal/metrics"
	"github.com/cenie/accessd/pkg/logger"
)

const DefaultSyncTimeout = 10 * time.Second

type GrantLister interface {
	ListGrants(ctx context.Context, userID string, activeOnly bool) ([]*access.Grant, error)
}

type Pusher interface {
	SetCustomUserClaims(ctx context.Context, uid string, claims map[string]any) error
}

type Synchronizer struct {
	grants   GrantLister
	pusher   Pusher
	maxBytes int
}

func NewSynchronizer(grants GrantLister, pusher Pusher, maxBytes int) *Synchronizer {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &Synchronizer{
		grants:   grants,
		pusher:   pusher,
		maxBytes: maxBytes,
	}
}

// Sync recomputes the subject's summary from every active grant and pushes
// it. An oversized summary is rejected, never truncated; the previously
// pushed claims stay in place.
func (s *Synchronizer) Sync(ctx context.Context, userID string) error {
	grants, err := s.grants.ListGrants(ctx, userID, true)
	if err != nil {
		metrics.ClaimsSyncs.WithLabelValues("error").Inc()
		return fmt.Errorf("%w: list grants: %w", ErrSyncFailed, err)
	}

	summary := Build(grants)
	payload, err := json.Marshal(summary)
	if err != nil {
		metrics.ClaimsSyncs.WithLabelValues("error").Inc()
		return fmt.Errorf("%w: marshal summary: %w", ErrSyncFailed, err)
	}

	if len(payload) > s.maxBytes {
		metrics.ClaimsSyncs.WithLabelValues("too_large").Inc()
		logger.ErrorContext(ctx, "custom claims too large",
			slog.String("user_id", userID),
			slog.Int("size", len(payload)),
			slog.Int("limit", s.maxBytes),
		)
		return &SizeError{UserID: userID, Size: len(payload), Limit: s.maxBytes}
	}

	if err := s.pusher.SetCustomUserClaims(ctx, userID, summary.Map()); err != nil {
		metrics.ClaimsSyncs.WithLabelValues("error").Inc()
		return fmt.Errorf("%w: %w", ErrSyncFailed, err)
	}

	metrics.ClaimsSyncs.WithLabelValues("ok").Inc()
	logger.InfoContext(ctx, "custom claims synced",
		slog.String("user_id", userID),
		slog.Any("apps", summary.Apps),
	)
	return nil
}

// AsyncNotifier runs Sync in the background for each change. It is the
// notifier used when no event bus is configured.
type AsyncNotifier struct {
	syncer  *Synchronizer
	timeout time.Duration
	wg      sync.WaitGroup
}

func NewAsyncNotifier(s *Synchronizer, timeout time.Duration) *AsyncNotifier {
	if timeout <= 0 {
		timeout = DefaultSyncTimeout
	}
	return &AsyncNotifier{syncer: s, timeout: timeout}
}

func (n *AsyncNotifier) NotifyChanged(ctx context.Context, userID string) {
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()

		syncCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), n.timeout)
		defer cancel()

		if err := n.syncer.Sync(syncCtx, userID); err != nil {
			logger.ErrorContext(syncCtx, "error syncing custom claims",
				slog.String("user_id", userID),
				slog.String("error", err.Error()),
			)
		}
	}()
}

// Wait blocks until every in-flight sync has finished.
func (n *AsyncNotifier) Wait() {
	n.wg.Wait()
}
