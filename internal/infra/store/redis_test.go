package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cenie/accessd/internal/domain/access"
)

func newTestRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewRedisStore(client, ""), mr
}

func TestRedisStore_UpsertCreatesAndFinds(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestRedisStore(t)

	created, err := s.Upsert(ctx, "u1", access.AppEditorial, "editor", "admin1")
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.True(t, created.IsActive)

	found, err := s.FindActive(ctx, "u1", access.AppEditorial)
	require.NoError(t, err)
	assert.Equal(t, created.ID, found.ID)
	assert.Equal(t, "editor", found.Role)
	assert.Equal(t, "admin1", found.GrantedBy)

	assert.True(t, mr.Exists("user_app_access:u1:editorial"))
	members, err := mr.SMembers("user_app_access-index:u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"editorial"}, members)
}

func TestRedisStore_FindMissing(t *testing.T) {
	s, _ := newTestRedisStore(t)

	_, err := s.FindActive(context.Background(), "u1", access.AppHub)
	assert.ErrorIs(t, err, access.ErrGrantNotFound)
}

func TestRedisStore_UpsertUpdatesInPlace(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestRedisStore(t)

	first, err := s.Upsert(ctx, "u1", access.AppEditorial, "viewer", "admin1")
	require.NoError(t, err)
	second, err := s.Upsert(ctx, "u1", access.AppEditorial, "editor", "admin2")
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "editor", second.Role)
	assert.Equal(t, "admin2", second.GrantedBy)

	all, err := s.ListByUser(ctx, "u1", false)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestRedisStore_DeactivateKeepsRecord(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestRedisStore(t)

	granted, err := s.Upsert(ctx, "u1", access.AppAcademy, "student", "")
	require.NoError(t, err)

	found, err := s.Deactivate(ctx, "u1", access.AppAcademy)
	require.NoError(t, err)
	assert.True(t, found)

	_, err = s.FindActive(ctx, "u1", access.AppAcademy)
	assert.ErrorIs(t, err, access.ErrGrantNotFound)

	all, err := s.ListByUser(ctx, "u1", false)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, granted.ID, all[0].ID)
	assert.False(t, all[0].IsActive)

	active, err := s.ListByUser(ctx, "u1", true)
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestRedisStore_DeactivateMissing(t *testing.T) {
	s, _ := newTestRedisStore(t)

	found, err := s.Deactivate(context.Background(), "u1", access.AppAgency)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRedisStore_ListByUserNewestFirst(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestRedisStore(t)

	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	_, err := s.Upsert(ctx, "u1", access.AppHub, "user", "")
	require.NoError(t, err)
	now = now.Add(time.Hour)
	_, err = s.Upsert(ctx, "u1", access.AppEditorial, "editor", "admin1")
	require.NoError(t, err)
	now = now.Add(time.Hour)
	_, err = s.Upsert(ctx, "u1", access.AppAcademy, "student", "admin1")
	require.NoError(t, err)
	_, err = s.Upsert(ctx, "u2", access.AppAgency, "client", "")
	require.NoError(t, err)

	grants, err := s.ListByUser(ctx, "u1", true)
	require.NoError(t, err)
	require.Len(t, grants, 3)
	assert.Equal(t, access.AppAcademy, grants[0].AppName)
	assert.Equal(t, access.AppEditorial, grants[1].AppName)
	assert.Equal(t, access.AppHub, grants[2].AppName)

	none, err := s.ListByUser(ctx, "nobody", false)
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}

func TestRedisStore_IndexDoesNotShareGrantKeys(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestRedisStore(t)

	// User "by-user" and user "hub" must not collide with each other's
	// index or record keys.
	_, err := s.Upsert(ctx, "hub", access.AppEditorial, "editor", "")
	require.NoError(t, err)
	_, err = s.Upsert(ctx, "by-user", access.AppHub, "user", "")
	require.NoError(t, err)
	_, err = s.Upsert(ctx, "index", access.AppHub, "user", "")
	require.NoError(t, err)

	hub, err := s.ListByUser(ctx, "hub", true)
	require.NoError(t, err)
	require.Len(t, hub, 1)
	assert.Equal(t, access.AppEditorial, hub[0].AppName)

	byUser, err := s.ListByUser(ctx, "by-user", true)
	require.NoError(t, err)
	require.Len(t, byUser, 1)
	assert.Equal(t, access.AppHub, byUser[0].AppName)
}

func TestRedisStore_ConcurrentUpsertsAllSucceedWithOneRecord(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestRedisStore(t)

	const writers = 20
	var wg sync.WaitGroup
	ids := make([]string, writers)
	errs := make([]error, writers)
	for i := range writers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			g, err := s.Upsert(ctx, "u1", access.AppEditorial, "editor", "")
			errs[i] = err
			if err == nil {
				ids[i] = g.ID
			}
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		require.NoError(t, err, "writer %d", i)
	}

	all, err := s.ListByUser(ctx, "u1", false)
	require.NoError(t, err)
	require.Len(t, all, 1)
	for _, id := range ids {
		assert.Equal(t, all[0].ID, id)
	}
	assert.Len(t, mr.Keys(), 2)
}

func TestRedisStore_StoreUnavailable(t *testing.T) {
	s, mr := newTestRedisStore(t)
	mr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := s.FindActive(ctx, "u1", access.AppHub)
	require.Error(t, err)
	assert.NotErrorIs(t, err, access.ErrGrantNotFound)

	_, err = s.Upsert(ctx, "u1", access.AppHub, "user", "")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrTxConflict)
}
