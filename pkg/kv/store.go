package kv

import (
	"context"
	"errors"
)

var (
	ErrNotFound           = errors.New("kv: key not found")
	ErrBackendUnavailable = errors.New("kv: backend unavailable")
)

// Store is a small Redis-shaped key-value store: opaque byte values, byte
// sets, and a compare-and-swap for optimistic writes. Implementations wrap
// connection failures in ErrBackendUnavailable.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error

	// CompareAndSwap writes next only while key still holds prev. A nil prev
	// requires the key to be absent.
	CompareAndSwap(ctx context.Context, key string, prev, next []byte) (bool, error)

	Del(ctx context.Context, keys ...string) (int64, error)

	// SAdd reports how many members were new. SMembers returns ErrNotFound
	// for an empty or missing set.
	SAdd(ctx context.Context, key string, members ...[]byte) (int64, error)
	SMembers(ctx context.Context, key string) ([][]byte, error)

	Ping(ctx context.Context) error
	Close() error
}
