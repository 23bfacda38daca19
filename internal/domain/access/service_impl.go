package access

import (
	"context"
	"errors"
	"hash/maphash"
	"log/slog"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/cenie/accessd/internal/infra/cache"
	"github.com/cenie/accessd/internal/metrics"
	"github.com/cenie/accessd/pkg/logger"
)

const (
	DefaultStoreTimeout = 3 * time.Second

	generationStripes = 1024
)

type service struct {
	store        Store
	cache        cache.AccessCache
	notifier     ChangeNotifier
	cacheTTL     time.Duration
	storeTimeout time.Duration

	flights singleflight.Group

	// generations guards against a lookup that started before a grant or
	// revoke filling the cache after the invalidation. Keys hash onto a
	// fixed set of counters; a collision only costs a skipped cache fill.
	genSeed     maphash.Seed
	generations [generationStripes]atomic.Uint64
}

type Option func(*service)

func WithNotifier(n ChangeNotifier) Option {
	return func(s *service) {
		s.notifier = n
	}
}

func WithCacheTTL(ttl time.Duration) Option {
	return func(s *service) {
		s.cacheTTL = ttl
	}
}

func WithStoreTimeout(timeout time.Duration) Option {
	return func(s *service) {
		if timeout > 0 {
			s.storeTimeout = timeout
		}
	}
}

func NewService(store Store, accessCache cache.AccessCache, opts ...Option) Service {
	s := &service{
		store:        store,
		cache:        accessCache,
		notifier:     noopNotifier{},
		cacheTTL:     cache.DefaultTTL,
		storeTimeout: DefaultStoreTimeout,
		genSeed:      maphash.MakeSeed(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *service) CheckAccess(ctx context.Context, userID string, app AppName) (AccessData, error) {
	if err := validate(userID, app); err != nil {
		return NoAccess(), err
	}

	cached, err := s.cache.Get(ctx, userID, string(app))
	if err == nil && cached != nil {
		logger.DebugContext(ctx, "access check cache hit",
			slog.String("user_id", userID),
			slog.String("app", string(app)),
		)
		data := fromCached(cached)
		metrics.AccessChecks.WithLabelValues(string(app), outcome(data)).Inc()
		return data, nil
	}
	if err != nil && !errors.Is(err, cache.ErrCacheMiss) {
		logger.WarnContext(ctx, "failed to read access cache, falling back to store",
			slog.String("error", err.Error()),
		)
	}

	logger.DebugContext(ctx, "access check cache miss",
		slog.String("user_id", userID),
		slog.String("app", string(app)),
	)

	key := flightKey(userID, app)
	gen := s.generation(key)

	v, _, _ := s.flights.Do(key+"#"+strconv.FormatUint(gen, 10), func() (any, error) {
		return s.load(ctx, userID, app, key, gen), nil
	})
	data, _ := v.(AccessData)
	return data, nil
}

// load reads the store and fills the cache. Read failures resolve to
// NoAccess and are not cached.
func (s *service) load(ctx context.Context, userID string, app AppName, key string, gen uint64) AccessData {
	storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.storeTimeout)
	defer cancel()

	start := time.Now()
	grant, err := s.store.FindActive(storeCtx, userID, app)
	switch {
	case errors.Is(err, ErrGrantNotFound):
		observeStore("find_active", "not_found", start)
		grant = nil
	case err != nil:
		observeStore("find_active", "error", start)
		metrics.AccessChecks.WithLabelValues(string(app), "store_error").Inc()
		logger.ErrorContext(ctx, "error checking app access",
			slog.String("user_id", userID),
			slog.String("app", string(app)),
			slog.String("error", err.Error()),
		)
		return NoAccess()
	default:
		observeStore("find_active", "ok", start)
	}

	data := grant.AccessData()

	if s.generation(key) == gen {
		if setErr := s.cache.Set(ctx, userID, string(app), toCached(data), s.cacheTTL); setErr != nil {
			logger.WarnContext(ctx, "failed to set access cache", slog.String("error", setErr.Error()))
		}
		// A write that landed between the check and the Set must not be
		// shadowed by this fill.
		if s.generation(key) != gen {
			_ = s.cache.Invalidate(ctx, userID, string(app))
		}
	}

	metrics.AccessChecks.WithLabelValues(string(app), outcome(data)).Inc()
	return data
}

func (s *service) GrantAccess(
	ctx context.Context,
	userID string,
	app AppName,
	role, grantedBy string,
) (*Grant, error) {
	if err := validate(userID, app); err != nil {
		return nil, err
	}

	role = strings.ToLower(strings.TrimSpace(role))
	if !IsValidRoleForApp(app, ParseRole(role)) {
		return nil, ErrInvalidRole
	}

	storeCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	start := time.Now()
	grant, err := s.store.Upsert(storeCtx, userID, app, role, grantedBy)
	if err != nil {
		observeStore("upsert", "error", start)
		logger.ErrorContext(ctx, "failed to grant access",
			slog.String("user_id", userID),
			slog.String("app", string(app)),
			slog.String("role", role),
			slog.String("error", err.Error()),
		)
		return nil, &StoreError{Op: "grant", UserID: userID, App: app, Err: err}
	}
	observeStore("upsert", "ok", start)

	s.invalidate(ctx, userID, app)

	logger.InfoContext(ctx, "access granted",
		slog.String("user_id", userID),
		slog.String("app", string(app)),
		slog.String("role", role),
		slog.String("granted_by", grantedBy),
	)

	s.notifier.NotifyChanged(ctx, userID)
	return grant, nil
}

func (s *service) RevokeAccess(ctx context.Context, userID string, app AppName) error {
	if err := validate(userID, app); err != nil {
		return err
	}

	storeCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	start := time.Now()
	found, err := s.store.Deactivate(storeCtx, userID, app)
	if err != nil {
		observeStore("deactivate", "error", start)
		logger.ErrorContext(ctx, "failed to revoke access",
			slog.String("user_id", userID),
			slog.String("app", string(app)),
			slog.String("error", err.Error()),
		)
		return &StoreError{Op: "revoke", UserID: userID, App: app, Err: err}
	}
	observeStore("deactivate", "ok", start)

	if !found {
		logger.WarnContext(ctx, "no access to revoke",
			slog.String("user_id", userID),
			slog.String("app", string(app)),
		)
		return nil
	}

	s.invalidate(ctx, userID, app)

	logger.InfoContext(ctx, "access revoked",
		slog.String("user_id", userID),
		slog.String("app", string(app)),
	)

	s.notifier.NotifyChanged(ctx, userID)
	return nil
}

func (s *service) ActiveGrant(ctx context.Context, userID string, app AppName) (*Grant, error) {
	if err := validate(userID, app); err != nil {
		return nil, err
	}

	storeCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	grant, err := s.store.FindActive(storeCtx, userID, app)
	if err != nil {
		if errors.Is(err, ErrGrantNotFound) {
			return nil, err
		}
		return nil, &StoreError{Op: "read", UserID: userID, App: app, Err: err}
	}
	return grant, nil
}

func (s *service) ListGrants(ctx context.Context, userID string, activeOnly bool) ([]*Grant, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, ErrEmptySubject
	}

	storeCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	grants, err := s.store.ListByUser(storeCtx, userID, activeOnly)
	if err != nil {
		return nil, &StoreError{Op: "list", UserID: userID, Err: err}
	}
	return grants, nil
}

// invalidate bumps the key's generation before dropping the entry so a
// concurrent lookup cannot refill it with pre-write data.
func (s *service) invalidate(ctx context.Context, userID string, app AppName) {
	key := flightKey(userID, app)

	s.generationCounter(key).Add(1)

	if err := s.cache.Invalidate(ctx, userID, string(app)); err != nil {
		logger.ErrorContext(ctx, "failed to invalidate access cache",
			slog.String("user_id", userID),
			slog.String("app", string(app)),
			slog.String("error", err.Error()),
		)
	}
}

func (s *service) generation(key string) uint64 {
	return s.generationCounter(key).Load()
}

func (s *service) generationCounter(key string) *atomic.Uint64 {
	return &s.generations[maphash.String(s.genSeed, key)%generationStripes]
}

func validate(userID string, app AppName) error {
	if strings.TrimSpace(userID) == "" {
		return ErrEmptySubject
	}
	if !app.Valid() {
		return ErrUnknownApplication
	}
	return nil
}

func flightKey(userID string, app AppName) string {
	return userID + "\x00" + string(app)
}

func fromCached(c *cache.CachedAccess) AccessData {
	return AccessData{
		HasAccess: c.HasAccess,
		Role:      c.Role,
		IsActive:  c.IsActive,
	}
}

func toCached(d AccessData) *cache.CachedAccess {
	return &cache.CachedAccess{
		HasAccess: d.HasAccess,
		Role:      d.Role,
		IsActive:  d.IsActive,
	}
}

func outcome(d AccessData) string {
	if d.HasAccess {
		return "granted"
	}
	return "denied"
}

func observeStore(op, status string, start time.Time) {
	metrics.StoreDuration.WithLabelValues(op, status).Observe(time.Since(start).Seconds())
}

type noopNotifier struct{}

func (noopNotifier) NotifyChanged(context.Context, string) {}
