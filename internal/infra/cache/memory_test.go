package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func editorAccess() *CachedAccess {
	return &CachedAccess{HasAccess: true, Role: "editor", IsActive: true}
}

func TestMemory_SetThenGet(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	require.NoError(t, m.Set(ctx, "user123", "editorial", editorAccess(), 0))

	got, err := m.Get(ctx, "user123", "editorial")
	require.NoError(t, err)
	assert.Equal(t, editorAccess(), got)
}

func TestMemory_GetMissing(t *testing.T) {
	_, err := NewMemory().Get(context.Background(), "user999", "editorial")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestMemory_ReturnedValueIsACopy(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.Set(ctx, "u1", "hub", editorAccess(), 0))

	got, err := m.Get(ctx, "u1", "hub")
	require.NoError(t, err)
	got.Role = "admin"

	again, err := m.Get(ctx, "u1", "hub")
	require.NoError(t, err)
	assert.Equal(t, "editor", again.Role)
}

func TestMemory_EntryExpiresAfterTTL(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	require.NoError(t, m.Set(ctx, "user123", "editorial", editorAccess(), 100*time.Millisecond))
	time.Sleep(150 * time.Millisecond)

	_, err := m.Get(ctx, "user123", "editorial")
	assert.ErrorIs(t, err, ErrCacheMiss)
	assert.Equal(t, 0, m.Len(), "expired entry is dropped on read")
}

func TestMemory_DefaultTTLApplies(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	m := NewMemory(WithTTL(time.Minute))
	m.now = func() time.Time { return now }

	require.NoError(t, m.Set(ctx, "u1", "hub", editorAccess(), 0))

	now = now.Add(59 * time.Second)
	_, err := m.Get(ctx, "u1", "hub")
	require.NoError(t, err)

	now = now.Add(time.Second)
	_, err = m.Get(ctx, "u1", "hub")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestMemory_Invalidate(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.Set(ctx, "user123", "editorial", editorAccess(), 0))
	require.NoError(t, m.Set(ctx, "user123", "hub", editorAccess(), 0))

	require.NoError(t, m.Invalidate(ctx, "user123", "editorial"))

	_, err := m.Get(ctx, "user123", "editorial")
	assert.ErrorIs(t, err, ErrCacheMiss)
	_, err = m.Get(ctx, "user123", "hub")
	assert.NoError(t, err)
}

func TestMemory_InvalidateSubject(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.Set(ctx, "user123", "editorial", editorAccess(), 0))
	require.NoError(t, m.Set(ctx, "user123", "hub", &CachedAccess{HasAccess: true, Role: "user", IsActive: true}, 0))
	require.NoError(t, m.Set(ctx, "user456", "editorial", &CachedAccess{HasAccess: true, Role: "viewer", IsActive: true}, 0))
	// A user id that shares a prefix must not be swept up.
	require.NoError(t, m.Set(ctx, "user123:x", "hub", editorAccess(), 0))

	require.NoError(t, m.InvalidateSubject(ctx, "user123"))

	_, err := m.Get(ctx, "user123", "editorial")
	assert.ErrorIs(t, err, ErrCacheMiss)
	_, err = m.Get(ctx, "user123", "hub")
	assert.ErrorIs(t, err, ErrCacheMiss)

	other, err := m.Get(ctx, "user456", "editorial")
	require.NoError(t, err)
	assert.Equal(t, "viewer", other.Role)
	_, err = m.Get(ctx, "user123:x", "hub")
	assert.NoError(t, err)
}

func TestMemory_InvalidateAll(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.Set(ctx, "user123", "editorial", editorAccess(), 0))
	require.NoError(t, m.Set(ctx, "user456", "hub", editorAccess(), 0))

	require.NoError(t, m.InvalidateAll(ctx))

	assert.Equal(t, 0, m.Len())
}

func TestMemory_SweepRemovesOnlyExpired(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	m := NewMemory()
	m.now = func() time.Time { return now }

	require.NoError(t, m.Set(ctx, "short", "hub", editorAccess(), time.Second))
	require.NoError(t, m.Set(ctx, "long", "hub", editorAccess(), time.Hour))

	now = now.Add(2 * time.Second)
	assert.Equal(t, 1, m.Sweep())
	assert.Equal(t, 1, m.Len())
}

func TestMemory_StartStopSweeps(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(WithSweepInterval(10 * time.Millisecond))
	require.NoError(t, m.Set(ctx, "u1", "hub", editorAccess(), time.Millisecond))

	m.Start()
	m.Start()
	defer m.Stop()

	assert.Eventually(t, func() bool { return m.Len() == 0 }, time.Second, 5*time.Millisecond)

	m.Stop()
	m.Stop()
}

func TestMemory_ConcurrentAccess(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	var wg sync.WaitGroup
	for i := range 32 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			user := []string{"a", "b", "c", "d"}[i%4]
			for range 100 {
				_ = m.Set(ctx, user, "hub", editorAccess(), 0)
				_, _ = m.Get(ctx, user, "hub")
				if i%8 == 0 {
					_ = m.InvalidateSubject(ctx, user)
				}
			}
		}(i)
	}
	wg.Wait()
}
