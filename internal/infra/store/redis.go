package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/cenie/accessd/internal/domain/access"
)

// RedisStore keeps one JSON record per (user, app) under
// {collection}:{user}:{app} and a per-user set of app names for listing
// under {collection}-index:{user}.
type RedisStore struct {
	client     redis.UniversalClient
	collection string
	now        func() time.Time
}

func NewRedisStore(client redis.UniversalClient, collection string) *RedisStore {
	if collection == "" {
		collection = DefaultCollection
	}
	return &RedisStore{
		client:     client,
		collection: collection,
		now:        time.Now,
	}
}

func (s *RedisStore) grantKey(userID string, app access.AppName) string {
	return fmt.Sprintf("%s:%s:%s", s.collection, userID, app)
}

func (s *RedisStore) userIndexKey(userID string) string {
	return fmt.Sprintf("%s-index:%s", s.collection, userID)
}

func (s *RedisStore) FindActive(ctx context.Context, userID string, app access.AppName) (*access.Grant, error) {
	grant, err := s.load(ctx, s.client, s.grantKey(userID, app))
	if err != nil {
		return nil, err
	}
	if grant == nil || !grant.IsActive {
		return nil, access.ErrGrantNotFound
	}
	return grant, nil
}

// Upsert runs under WATCH on the record key, so two concurrent grants for
// the same pair serialise instead of both observing "no record".
func (s *RedisStore) Upsert(
	ctx context.Context,
	userID string,
	app access.AppName,
	role, grantedBy string,
) (*access.Grant, error) {
	key := s.grantKey(userID, app)
	var written *access.Grant

	txf := func(tx *redis.Tx) error {
		existing, err := s.load(ctx, tx, key)
		if err != nil {
			return err
		}

		grant := upsertGrant(existing, userID, app, role, grantedBy, s.now().UTC(), uuid.NewString)
		data, err := json.Marshal(grant)
		if err != nil {
			return fmt.Errorf("failed to marshal grant: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			pipe.SAdd(ctx, s.userIndexKey(userID), string(app))
			return nil
		})
		if err != nil {
			return err
		}

		written = grant
		return nil
	}

	if err := s.watch(ctx, txf, key); err != nil {
		return nil, err
	}
	return written, nil
}

func (s *RedisStore) Deactivate(ctx context.Context, userID string, app access.AppName) (bool, error) {
	key := s.grantKey(userID, app)
	found := false

	txf := func(tx *redis.Tx) error {
		existing, err := s.load(ctx, tx, key)
		if err != nil {
			return err
		}
		if existing == nil {
			found = false
			return nil
		}

		existing.IsActive = false
		existing.UpdatedAt = s.now().UTC()
		data, err := json.Marshal(existing)
		if err != nil {
			return fmt.Errorf("failed to marshal grant: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			return nil
		})
		if err != nil {
			return err
		}

		found = true
		return nil
	}

	if err := s.watch(ctx, txf, key); err != nil {
		return false, err
	}
	return found, nil
}

func (s *RedisStore) ListByUser(ctx context.Context, userID string, activeOnly bool) ([]*access.Grant, error) {
	apps, err := s.client.SMembers(ctx, s.userIndexKey(userID)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to read grant index: %w", err)
	}
	if len(apps) == 0 {
		return []*access.Grant{}, nil
	}

	keys := make([]string, 0, len(apps))
	for _, app := range apps {
		keys = append(keys, s.grantKey(userID, access.AppName(app)))
	}

	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read grants: %w", err)
	}

	grants := make([]*access.Grant, 0, len(values))
	for _, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var g access.Grant
		if err := json.Unmarshal([]byte(raw), &g); err != nil {
			return nil, fmt.Errorf("failed to unmarshal grant: %w", err)
		}
		grants = append(grants, &g)
	}

	return filterAndSort(grants, userID, activeOnly), nil
}

func (s *RedisStore) watch(ctx context.Context, txf func(*redis.Tx) error, key string) error {
	return retryOnConflict(ctx, redis.TxFailedErr, func() error {
		return s.client.Watch(ctx, txf, key)
	})
}

func (s *RedisStore) load(ctx context.Context, c redis.Cmdable, key string) (*access.Grant, error) {
	val, err := c.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get grant: %w", err)
	}

	var g access.Grant
	if err := json.Unmarshal([]byte(val), &g); err != nil {
		return nil, fmt.Errorf("failed to unmarshal grant: %w", err)
	}
	return &g, nil
}
