package aggregator

import (
	"context"
	"strings"

	"github.com/go-redis/redis/v8"
	"github.com/tidwall/buntdb"

	"github.com/quidich/framestream/cmn"
)

// FramePathStore is the external key-value store write: best-effort,
// failures are logged and never fatal to the poll loop.
type FramePathStore interface {
	WriteFramePaths(ctx context.Context, key string, paths []string) error
	Close() error
}

// BuntStore is an embedded, file-backed FramePathStore — used for local
// development and tests, where standing up a Redis instance is overkill.
type BuntStore struct {
	db *buntdb.DB
}

// NewBuntStore opens (or creates) a buntdb database at path. Pass ":memory:"
// for a purely in-memory store.
func NewBuntStore(path string) (*BuntStore, error) {
	db, err := buntdb.Open(path)
	if err != nil {
		return nil, cmn.Wrap(cmn.ErrDiskIO, err, "open buntdb "+path)
	}
	return &BuntStore{db: db}, nil
}

func (b *BuntStore) WriteFramePaths(_ context.Context, key string, paths []string) error {
	return b.db.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(key, strings.Join(paths, "\n"), nil)
		return err
	})
}

func (b *BuntStore) Close() error { return b.db.Close() }

// RedisStore is the production FramePathStore.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore returns a RedisStore dialing addr ("host:port").
func NewRedisStore(addr string) *RedisStore {
	return &RedisStore{client: redis.NewClient(&redis.Options{Addr: addr})}
}

func (r *RedisStore) WriteFramePaths(ctx context.Context, key string, paths []string) error {
	return r.client.Set(ctx, key, strings.Join(paths, "\n"), 0).Err()
}

func (r *RedisStore) Close() error { return r.client.Close() }
