// Package redis is the Redis kv backend. The same client can be shared with
// other Redis consumers through Client.
package redis

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/leafsii/launchpad/pkg/kv"
)

func init() {
	kv.RegisterBackend(kv.BackendRedis, func(cfg kv.Config) (kv.Store, error) {
		return New(cfg.RedisURL)
	})
}

type Store struct {
	client *redis.Client
}

var _ kv.Store = (*Store)(nil)

// New connects to redisURL and fails if the server does not answer a ping.
// A bare host:port is accepted as well as a redis:// URL.
func New(redisURL string) (*Store, error) {
	if !strings.Contains(redisURL, "://") {
		redisURL = "redis://" + redisURL
	}
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, wrap(err)
	}
	return &Store{client: client}, nil
}

// Client exposes the underlying connection pool.
func (s *Store) Client() *redis.Client {
	return s.client
}

var connectionErrors = []string{
	"connection refused",
	"connection reset",
	"broken pipe",
	"no such host",
	"network is unreachable",
	"i/o timeout",
	"connection closed",
	"EOF",
}

// IsConnectionError reports whether err means Redis could not be reached.
func IsConnectionError(err error) bool {
	if err == nil || errors.Is(err, redis.Nil) || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, redis.ErrClosed) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	msg := err.Error()
	for _, s := range connectionErrors {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

func wrap(err error) error {
	if err != nil && IsConnectionError(err) {
		return fmt.Errorf("%w: %v", kv.ErrBackendUnavailable, err)
	}
	return err
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	v, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, kv.ErrNotFound
	}
	if err != nil {
		return nil, wrap(err)
	}
	return v, nil
}

func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	return wrap(s.client.Set(ctx, key, value, 0).Err())
}

// CompareAndSwap runs under WATCH so a concurrent write to key aborts the
// transaction, which is reported as no swap.
func (s *Store) CompareAndSwap(ctx context.Context, key string, prev, next []byte) (bool, error) {
	swapped := false
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, key).Bytes()
		exists := err == nil
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if prev == nil && exists {
			return nil
		}
		if prev != nil && (!exists || !bytes.Equal(current, prev)) {
			return nil
		}
		if _, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			return pipe.Set(ctx, key, next, 0).Err()
		}); err != nil {
			return err
		}
		swapped = true
		return nil
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		return false, nil
	}
	if err != nil {
		return false, wrap(err)
	}
	return swapped, nil
}

func (s *Store) Del(ctx context.Context, keys ...string) (int64, error) {
	n, err := s.client.Del(ctx, keys...).Result()
	return n, wrap(err)
}

func (s *Store) SAdd(ctx context.Context, key string, members ...[]byte) (int64, error) {
	args := make([]any, len(members))
	for i, m := range members {
		args[i] = m
	}
	n, err := s.client.SAdd(ctx, key, args...).Result()
	return n, wrap(err)
}

func (s *Store) SMembers(ctx context.Context, key string) ([][]byte, error) {
	members, err := s.client.SMembers(ctx, key).Result()
	if err != nil {
		return nil, wrap(err)
	}
	if len(members) == 0 {
		return nil, kv.ErrNotFound
	}
	out := make([][]byte, len(members))
	for i, m := range members {
		out[i] = []byte(m)
	}
	return out, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return wrap(s.client.Ping(ctx).Err())
}

func (s *Store) Close() error {
	return s.client.Close()
}
