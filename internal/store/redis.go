package store

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// ClientOptions selects the Redis backend. URL wins when set.
type ClientOptions struct {
	URL      string
	Host     string
	Port     int
	Username string
	Password string
}

// NewClient builds a go-redis client. Reconnect backoff grows from 50ms up
// to 2s between attempts.
func NewClient(o ClientOptions) (*redis.Client, error) {
	var opts *redis.Options
	if o.URL != "" {
		parsed, err := redis.ParseURL(o.URL)
		if err != nil {
			return nil, fmt.Errorf("invalid redis url: %w", err)
		}
		opts = parsed
	} else {
		opts = &redis.Options{
			Addr:     net.JoinHostPort(o.Host, strconv.Itoa(o.Port)),
			Username: o.Username,
			Password: o.Password,
		}
	}
	opts.MinRetryBackoff = 50 * time.Millisecond
	opts.MaxRetryBackoff = 2 * time.Second
	return redis.NewClient(opts), nil
}

// RedisStore implements KeyValueStore on a go-redis client.
type RedisStore struct {
	client *redis.Client
	log    *zap.Logger
}

var _ KeyValueStore = (*RedisStore)(nil)

func NewRedisStore(client *redis.Client, log *zap.Logger) *RedisStore {
	if log == nil {
		log = zap.NewNop()
	}
	return &RedisStore{client: client, log: log}
}

func unavailable(op, key string, err error) error {
	return fmt.Errorf("%s %s: %w: %v", op, key, ErrStoreUnavailable, err)
}

func (s *RedisStore) SetHash(ctx context.Context, key string, fields map[string]string) error {
	if len(fields) == 0 {
		return nil
	}
	args := make([]interface{}, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, k, v)
	}
	if err := s.client.HSet(ctx, key, args...).Err(); err != nil {
		return unavailable("hset", key, err)
	}
	return nil
}

// GetHash returns an empty map when the key does not exist.
func (s *RedisStore) GetHash(ctx context.Context, key string) (map[string]string, error) {
	m, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, unavailable("hgetall", key, err)
	}
	if m == nil {
		m = map[string]string{}
	}
	return m, nil
}

func (s *RedisStore) SetHashField(ctx context.Context, key, field, value string) error {
	if err := s.client.HSet(ctx, key, field, value).Err(); err != nil {
		return unavailable("hset", key, err)
	}
	return nil
}

// SetHashFieldNX writes the field only if it is absent and reports whether it did.
func (s *RedisStore) SetHashFieldNX(ctx context.Context, key, field, value string) (bool, error) {
	ok, err := s.client.HSetNX(ctx, key, field, value).Result()
	if err != nil {
		return false, unavailable("hsetnx", key, err)
	}
	return ok, nil
}

func (s *RedisStore) GetHashField(ctx context.Context, key, field string) (string, bool, error) {
	v, err := s.client.HGet(ctx, key, field).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, unavailable("hget", key, err)
	}
	return v, true, nil
}

// DeleteHashField reports whether a field was actually removed. Removing an
// absent field is not an error.
func (s *RedisStore) DeleteHashField(ctx context.Context, key, field string) (bool, error) {
	n, err := s.client.HDel(ctx, key, field).Result()
	if err != nil {
		return false, unavailable("hdel", key, err)
	}
	return n > 0, nil
}

// AppendListItem pushes to the tail and returns the new list length.
func (s *RedisStore) AppendListItem(ctx context.Context, key, item string) (int64, error) {
	n, err := s.client.RPush(ctx, key, item).Result()
	if err != nil {
		return 0, unavailable("rpush", key, err)
	}
	return n, nil
}

func (s *RedisStore) ListRange(ctx context.Context, key string, start, end int64) ([]string, error) {
	items, err := s.client.LRange(ctx, key, start, end).Result()
	if err != nil {
		return nil, unavailable("lrange", key, err)
	}
	return items, nil
}

func (s *RedisStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if err := s.client.Expire(ctx, key, ttl).Err(); err != nil {
		return unavailable("expire", key, err)
	}
	return nil
}

// ExpireMany sends one EXPIRE per key in a single pipeline. Keys that do not
// exist are skipped by Redis; a failure part way leaves earlier keys renewed.
func (s *RedisStore) ExpireMany(ctx context.Context, ttl time.Duration, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	_, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, k := range keys {
			pipe.Expire(ctx, k, ttl)
		}
		return nil
	})
	if err != nil {
		s.log.Warn("pipelined expire failed", zap.Strings("keys", keys), zap.Error(err))
		return unavailable("expire", keys[0], err)
	}
	return nil
}

// TTL returns the remaining lifetime. Negative values follow Redis: -1 for a
// key without expiry, -2 for a missing key.
func (s *RedisStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	d, err := s.client.TTL(ctx, key).Result()
	if err != nil {
		return 0, unavailable("ttl", key, err)
	}
	return d, nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return unavailable("ping", "", err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
