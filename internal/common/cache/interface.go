package cache

import (
	"context"
	"time"
)

// Cache is the key-value surface the grader needs from a shared store.
type Cache interface {
	BasicOps
	SetOps
	Ping(ctx context.Context) error
	Close() error
}

// BasicOps covers string keys with TTL.
// Get returns "" and a nil error when the key does not exist.
type BasicOps interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	// SetNX sets key only if it does not exist. It reports whether the key was set.
	SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) error
	// TTL returns the remaining lifetime of key, negative when absent or persistent.
	TTL(ctx context.Context, key string) (time.Duration, error)
}

// SetOps covers unordered string sets.
type SetOps interface {
	SAdd(ctx context.Context, key string, members ...interface{}) error
	SRem(ctx context.Context, key string, members ...interface{}) error
	SIsMember(ctx context.Context, key string, member interface{}) (bool, error)
}
