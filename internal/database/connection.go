package database

import (
	"context"
	"fmt"
	"time"

	"github.com/thereayou/ghostroom/internal/store"
	"go.uber.org/zap"
)

// Connect dials Redis, checks it answers, and returns a registry on top of it.
func Connect(ctx context.Context, opts store.ClientOptions, ttl time.Duration, log *zap.Logger) (*Database, error) {
	client, err := store.NewClient(opts)
	if err != nil {
		return nil, err
	}
	kv := store.NewRedisStore(client, log)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := kv.Ping(pingCtx); err != nil {
		_ = kv.Close()
		return nil, fmt.Errorf("redis connect: %w", err)
	}

	return NewDatabase(kv, ttl, log), nil
}
