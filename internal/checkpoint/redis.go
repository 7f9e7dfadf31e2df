package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisKey is used when the location carries no key parameter.
const DefaultRedisKey = "peggiator:notes"

// RedisBackend keeps the document under a single key.
type RedisBackend struct {
	rdb  *redis.Client
	key  string
	addr string
}

// OpenRedisBackend connects using the URL. The key query parameter is
// removed before the URL is parsed by go-redis, which rejects unknown options.
func OpenRedisBackend(ctx context.Context, u *url.URL) (*RedisBackend, error) {
	loc := *u
	q := loc.Query()
	key := q.Get("key")
	if key == "" {
		key = DefaultRedisKey
	}
	q.Del("key")
	loc.RawQuery = q.Encode()

	opts, err := redis.ParseURL(loc.String())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidLocation, err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &RedisBackend{rdb: rdb, key: key, addr: opts.Addr}, nil
}

func (r *RedisBackend) Load(ctx context.Context) ([]byte, error) {
	data, err := r.rdb.Get(ctx, r.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read redis checkpoint: %w", err)
	}
	return data, nil
}

func (r *RedisBackend) Save(ctx context.Context, data []byte) error {
	if err := r.rdb.Set(ctx, r.key, data, 0).Err(); err != nil {
		return fmt.Errorf("write redis checkpoint: %w", err)
	}
	return nil
}

func (r *RedisBackend) Close() error { return r.rdb.Close() }

func (r *RedisBackend) String() string { return "redis:" + r.addr + "/" + r.key }
