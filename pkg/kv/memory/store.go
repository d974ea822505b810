// Package memory is the process-local kv backend used in development and tests.
package memory

import (
	"bytes"
	"context"
	"sort"
	"sync"

	"github.com/leafsii/launchpad/pkg/kv"
)

func init() {
	kv.RegisterBackend(kv.BackendMemory, func(kv.Config) (kv.Store, error) {
		return New(), nil
	})
}

type Store struct {
	mu     sync.RWMutex
	values map[string][]byte
	sets   map[string]map[string]struct{}
	closed bool
}

var _ kv.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		values: make(map[string][]byte),
		sets:   make(map[string]map[string]struct{}),
	}
}

func clone(b []byte) []byte {
	return append([]byte(nil), b...)
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	v, ok := s.values[key]
	if !ok {
		return nil, kv.ErrNotFound
	}
	return clone(v), nil
}

func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return err
	}
	s.values[key] = clone(value)
	return nil
}

func (s *Store) CompareAndSwap(ctx context.Context, key string, prev, next []byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return false, err
	}
	current, exists := s.values[key]
	if prev == nil && exists {
		return false, nil
	}
	if prev != nil && (!exists || !bytes.Equal(current, prev)) {
		return false, nil
	}
	s.values[key] = clone(next)
	return true, nil
}

func (s *Store) Del(ctx context.Context, keys ...string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return 0, err
	}
	var n int64
	for _, k := range keys {
		if _, ok := s.values[k]; ok {
			delete(s.values, k)
			n++
		} else if _, ok := s.sets[k]; ok {
			delete(s.sets, k)
			n++
		}
	}
	return n, nil
}

func (s *Store) SAdd(ctx context.Context, key string, members ...[]byte) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return 0, err
	}
	set, ok := s.sets[key]
	if !ok {
		set = make(map[string]struct{}, len(members))
		s.sets[key] = set
	}
	var added int64
	for _, m := range members {
		if _, dup := set[string(m)]; !dup {
			set[string(m)] = struct{}{}
			added++
		}
	}
	return added, nil
}

// SMembers returns members in byte order.
func (s *Store) SMembers(ctx context.Context, key string) ([][]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	set := s.sets[key]
	if len(set) == 0 {
		return nil, kv.ErrNotFound
	}
	keys := make([]string, 0, len(set))
	for m := range set {
		keys = append(keys, m)
	}
	sort.Strings(keys)
	out := make([][]byte, len(keys))
	for i, m := range keys {
		out[i] = []byte(m)
	}
	return out, nil
}

func (s *Store) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.check(ctx)
}

// Close makes every later call fail with kv.ErrBackendUnavailable.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// check must be called with s.mu held.
func (s *Store) check(ctx context.Context) error {
	if s.closed {
		return kv.ErrBackendUnavailable
	}
	return ctx.Err()
}
