package cache

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cenie/accessd/internal/metrics"
	"github.com/cenie/accessd/pkg/logger"
)

type memoryKey struct {
	userID string
	app    string
}

type memoryEntry struct {
	value     CachedAccess
	expiresAt time.Time
}

// Memory is a process-local AccessCache. Expiry is enforced on read; the
// sweep only reclaims memory. Entries are not shared between processes, so
// a revoke on another instance is visible here only after the TTL.
type Memory struct {
	mu      sync.Mutex
	entries map[memoryKey]memoryEntry

	ttl           time.Duration
	sweepInterval time.Duration
	now           func() time.Time

	lifecycleMu sync.Mutex
	cancel      context.CancelFunc
	done        chan struct{}
}

type MemoryOption func(*Memory)

func WithTTL(ttl time.Duration) MemoryOption {
	return func(m *Memory) {
		if ttl > 0 {
			m.ttl = ttl
		}
	}
}

func WithSweepInterval(interval time.Duration) MemoryOption {
	return func(m *Memory) {
		if interval > 0 {
			m.sweepInterval = interval
		}
	}
}

func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		entries:       make(map[memoryKey]memoryEntry),
		ttl:           DefaultTTL,
		sweepInterval: DefaultSweepInterval,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Memory) Get(_ context.Context, userID, app string) (*CachedAccess, error) {
	key := memoryKey{userID: userID, app: app}

	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.entries[key]
	if !ok {
		metrics.CacheRequests.WithLabelValues("miss").Inc()
		return nil, ErrCacheMiss
	}
	if !m.now().Before(entry.expiresAt) {
		delete(m.entries, key)
		metrics.CacheRequests.WithLabelValues("expired").Inc()
		return nil, ErrCacheMiss
	}

	metrics.CacheRequests.WithLabelValues("hit").Inc()
	value := entry.value
	return &value, nil
}

func (m *Memory) Set(_ context.Context, userID, app string, value *CachedAccess, ttl time.Duration) error {
	if value == nil {
		return nil
	}
	if ttl <= 0 {
		ttl = m.ttl
	}

	m.mu.Lock()
	m.entries[memoryKey{userID: userID, app: app}] = memoryEntry{
		value:     *value,
		expiresAt: m.now().Add(ttl),
	}
	m.mu.Unlock()
	return nil
}

func (m *Memory) Invalidate(_ context.Context, userID, app string) error {
	m.mu.Lock()
	delete(m.entries, memoryKey{userID: userID, app: app})
	m.mu.Unlock()
	return nil
}

func (m *Memory) InvalidateSubject(_ context.Context, userID string) error {
	m.mu.Lock()
	for key := range m.entries {
		if key.userID == userID {
			delete(m.entries, key)
		}
	}
	m.mu.Unlock()
	return nil
}

func (m *Memory) InvalidateAll(_ context.Context) error {
	m.mu.Lock()
	m.entries = make(map[memoryKey]memoryEntry)
	m.mu.Unlock()
	return nil
}

// Len reports the number of stored entries, expired ones included.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Sweep drops every expired entry and returns how many were removed.
func (m *Memory) Sweep() int {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for key, entry := range m.entries {
		if !now.Before(entry.expiresAt) {
			delete(m.entries, key)
			removed++
		}
	}
	return removed
}

// Serve runs the periodic sweep until ctx is canceled. It satisfies
// suture.Service.
func (m *Memory) Serve(ctx context.Context) error {
	ticker := time.NewTicker(m.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if removed := m.Sweep(); removed > 0 {
				logger.DebugContext(ctx, "access cache sweep",
					slog.Int("removed", removed),
					slog.Int("remaining", m.Len()),
				)
			}
		}
	}
}

// Start runs the sweep in a background goroutine. Calling Start twice
// without Stop is a no-op.
func (m *Memory) Start() {
	m.lifecycleMu.Lock()
	defer m.lifecycleMu.Unlock()

	if m.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	m.cancel = cancel
	m.done = done

	go func() {
		defer close(done)
		_ = m.Serve(ctx)
	}()
}

// Stop halts the background sweep and waits for it to exit.
func (m *Memory) Stop() {
	m.lifecycleMu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.lifecycleMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (m *Memory) String() string {
	return "access-cache-sweeper"
}
