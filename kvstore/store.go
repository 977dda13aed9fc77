package kvstore

import (
	"context"
	"time"
)

// Store is the TTL-bound key-value contract backing sessions and one-time
// PKCE bindings. Expiry is enforced by the backend itself; there is no
// sweeper. An absent or expired key surfaces as errors.ErrNotFound, while a
// backend failure surfaces as errors.ErrStoreUnavailable; implementations
// must never conflate the two.
type Store interface {
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error

	// GetDel atomically reads and deletes a key. Two concurrent GetDel
	// calls on the same key must not both succeed.
	GetDel(ctx context.Context, key string) ([]byte, error)

	// SetNX writes the key only if it does not already exist, returning
	// whether the write happened. Used as a per-key lease primitive.
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)

	Ping(ctx context.Context) error
}
