// Package store is the key-value adapter every room resource is kept in.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrStoreUnavailable wraps every backend I/O failure.
var ErrStoreUnavailable = errors.New("store unavailable")

// KeyValueStore is the narrow set of hash/list/expiry primitives the room
// registry is built on. Calls are independent: nothing here is atomic across
// keys, and a failed call may have partially applied.
type KeyValueStore interface {
	SetHash(ctx context.Context, key string, fields map[string]string) error
	GetHash(ctx context.Context, key string) (map[string]string, error)
	SetHashField(ctx context.Context, key, field, value string) error
	SetHashFieldNX(ctx context.Context, key, field, value string) (bool, error)
	GetHashField(ctx context.Context, key, field string) (string, bool, error)
	DeleteHashField(ctx context.Context, key, field string) (bool, error)

	AppendListItem(ctx context.Context, key, item string) (int64, error)
	ListRange(ctx context.Context, key string, start, end int64) ([]string, error)

	Expire(ctx context.Context, key string, ttl time.Duration) error
	ExpireMany(ctx context.Context, ttl time.Duration, keys ...string) error
	TTL(ctx context.Context, key string) (time.Duration, error)

	Ping(ctx context.Context) error
	Close() error
}
