package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/cenie/accessd/internal/domain/access"
	"github.com/cenie/accessd/pkg/logger"
)

// BadgerStore is the embedded backend for single-node deployments. Writes
// run in badger transactions; a conflicting concurrent write is retried.
type BadgerStore struct {
	db     *badger.DB
	prefix string
	now    func() time.Time
}

// OpenBadger opens the database at dir. An empty dir opens in memory.
func OpenBadger(dir string) (*badger.DB, error) {
	var opts badger.Options
	if dir == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(dir)
	}
	opts = opts.WithLogger(badgerLogger{})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger at %q: %w", dir, err)
	}
	return db, nil
}

func NewBadgerStore(db *badger.DB, collection string) *BadgerStore {
	if collection == "" {
		collection = DefaultCollection
	}
	return &BadgerStore{
		db:     db,
		prefix: collection + ":",
		now:    time.Now,
	}
}

func (s *BadgerStore) key(userID string, app access.AppName) []byte {
	return []byte(s.prefix + userID + ":" + string(app))
}

func (s *BadgerStore) userPrefix(userID string) []byte {
	return []byte(s.prefix + userID + ":")
}

func (s *BadgerStore) FindActive(_ context.Context, userID string, app access.AppName) (*access.Grant, error) {
	var grant *access.Grant
	err := s.db.View(func(txn *badger.Txn) error {
		g, err := getGrant(txn, s.key(userID, app))
		grant = g
		return err
	})
	if err != nil {
		return nil, err
	}
	if grant == nil || !grant.IsActive {
		return nil, access.ErrGrantNotFound
	}
	return grant, nil
}

func (s *BadgerStore) Upsert(
	ctx context.Context,
	userID string,
	app access.AppName,
	role, grantedBy string,
) (*access.Grant, error) {
	key := s.key(userID, app)
	var written *access.Grant

	err := s.update(ctx, func(txn *badger.Txn) error {
		existing, err := getGrant(txn, key)
		if err != nil {
			return err
		}
		grant := upsertGrant(existing, userID, app, role, grantedBy, s.now().UTC(), uuid.NewString)
		if err := putGrant(txn, key, grant); err != nil {
			return err
		}
		written = grant
		return nil
	})
	if err != nil {
		return nil, err
	}
	return written, nil
}

func (s *BadgerStore) Deactivate(ctx context.Context, userID string, app access.AppName) (bool, error) {
	key := s.key(userID, app)
	found := false

	err := s.update(ctx, func(txn *badger.Txn) error {
		existing, err := getGrant(txn, key)
		if err != nil {
			return err
		}
		if existing == nil {
			found = false
			return nil
		}
		existing.IsActive = false
		existing.UpdatedAt = s.now().UTC()
		found = true
		return putGrant(txn, key, existing)
	})
	if err != nil {
		return false, err
	}
	return found, nil
}

func (s *BadgerStore) ListByUser(_ context.Context, userID string, activeOnly bool) ([]*access.Grant, error) {
	var grants []*access.Grant

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := s.userPrefix(userID)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var g access.Grant
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &g)
			})
			if err != nil {
				return fmt.Errorf("unmarshal grant: %w", err)
			}
			grants = append(grants, &g)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list grants: %w", err)
	}

	// The prefix scan also matches user ids that extend this one, which
	// filterAndSort drops by comparing the decoded UserID.
	return filterAndSort(grants, userID, activeOnly), nil
}

func (s *BadgerStore) update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	return retryOnConflict(ctx, badger.ErrConflict, func() error {
		return s.db.Update(fn)
	})
}

func getGrant(txn *badger.Txn, key []byte) (*access.Grant, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get grant: %w", err)
	}

	var g access.Grant
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &g)
	}); err != nil {
		return nil, fmt.Errorf("unmarshal grant: %w", err)
	}
	return &g, nil
}

func putGrant(txn *badger.Txn, key []byte, g *access.Grant) error {
	data, err := json.Marshal(g)
	if err != nil {
		return fmt.Errorf("marshal grant: %w", err)
	}
	if err := txn.Set(key, data); err != nil {
		return fmt.Errorf("set grant: %w", err)
	}
	return nil
}

// badgerLogger routes badger's own logging into the service logger.
type badgerLogger struct{}

func (badgerLogger) Errorf(format string, args ...any) {
	logger.ErrorContext(context.Background(), "badger", slog.String("msg", fmt.Sprintf(format, args...)))
}

func (badgerLogger) Warningf(format string, args ...any) {
	logger.WarnContext(context.Background(), "badger", slog.String("msg", fmt.Sprintf(format, args...)))
}

func (badgerLogger) Infof(format string, args ...any) {
	logger.DebugContext(context.Background(), "badger", slog.String("msg", fmt.Sprintf(format, args...)))
}

func (badgerLogger) Debugf(format string, args ...any) {
	logger.DebugContext(context.Background(), "badger", slog.String("msg", fmt.Sprintf(format, args...)))
}
