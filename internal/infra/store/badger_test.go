package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cenie/accessd/internal/domain/access"
)

func newTestBadgerStore(t *testing.T) *BadgerStore {
	t.Helper()

	db, err := OpenBadger("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	return NewBadgerStore(db, "")
}

func TestBadgerStore_UpsertCreatesAndFinds(t *testing.T) {
	ctx := context.Background()
	s := newTestBadgerStore(t)

	created, err := s.Upsert(ctx, "u1", access.AppEditorial, "editor", "admin1")
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.True(t, created.IsActive)
	assert.Equal(t, "admin1", created.GrantedBy)

	found, err := s.FindActive(ctx, "u1", access.AppEditorial)
	require.NoError(t, err)
	assert.Equal(t, created.ID, found.ID)
	assert.Equal(t, "editor", found.Role)
}

func TestBadgerStore_FindMissing(t *testing.T) {
	_, err := newTestBadgerStore(t).FindActive(context.Background(), "u1", access.AppHub)
	assert.ErrorIs(t, err, access.ErrGrantNotFound)
}

func TestBadgerStore_UpsertUpdatesInPlace(t *testing.T) {
	ctx := context.Background()
	s := newTestBadgerStore(t)

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

func TestBadgerStore_DeactivateKeepsRecord(t *testing.T) {
	ctx := context.Background()
	s := newTestBadgerStore(t)

	_, err := s.Upsert(ctx, "u1", access.AppAcademy, "student", "")
	require.NoError(t, err)

	found, err := s.Deactivate(ctx, "u1", access.AppAcademy)
	require.NoError(t, err)
	assert.True(t, found)

	_, err = s.FindActive(ctx, "u1", access.AppAcademy)
	assert.ErrorIs(t, err, access.ErrGrantNotFound)

	all, err := s.ListByUser(ctx, "u1", false)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.False(t, all[0].IsActive)
	assert.Equal(t, "student", all[0].Role)

	active, err := s.ListByUser(ctx, "u1", true)
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestBadgerStore_DeactivateMissing(t *testing.T) {
	found, err := newTestBadgerStore(t).Deactivate(context.Background(), "u1", access.AppAgency)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestBadgerStore_RegrantReactivates(t *testing.T) {
	ctx := context.Background()
	s := newTestBadgerStore(t)

	original, err := s.Upsert(ctx, "u1", access.AppAgency, "client", "")
	require.NoError(t, err)
	_, err = s.Deactivate(ctx, "u1", access.AppAgency)
	require.NoError(t, err)

	again, err := s.Upsert(ctx, "u1", access.AppAgency, "manager", "admin1")
	require.NoError(t, err)
	assert.Equal(t, original.ID, again.ID)
	assert.True(t, again.IsActive)

	found, err := s.FindActive(ctx, "u1", access.AppAgency)
	require.NoError(t, err)
	assert.Equal(t, "manager", found.Role)
}

func TestBadgerStore_ListByUserNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := newTestBadgerStore(t)

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

	// A user whose id extends "u1" shares the key prefix.
	_, err = s.Upsert(ctx, "u1:x", access.AppHub, "user", "")
	require.NoError(t, err)

	grants, err := s.ListByUser(ctx, "u1", true)
	require.NoError(t, err)
	require.Len(t, grants, 3)
	assert.Equal(t, access.AppAcademy, grants[0].AppName)
	assert.Equal(t, access.AppEditorial, grants[1].AppName)
	assert.Equal(t, access.AppHub, grants[2].AppName)
}

func TestBadgerStore_ConcurrentUpsertsKeepOneRecord(t *testing.T) {
	ctx := context.Background()
	s := newTestBadgerStore(t)

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
}
