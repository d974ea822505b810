package util

import (
	"context"
	"sync"
)

// KeyedMutex serializes work per key. Locks for distinct keys never contend
// with each other, and entries are dropped once the last holder or waiter
// for a key is gone.
type KeyedMutex struct {
	mu sync.Mutex      // protects m
	m  map[string]*ref // lazily initialized
}

// ref is the per-key lock. Its refs field counts holders and waiters and is
// guarded by KeyedMutex.mu.
type ref struct {
	ch   chan struct{} // buffered(1); holding the token means holding the lock
	refs int
}

func (k *KeyedMutex) acquire(key string) *ref {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.m == nil {
		k.m = make(map[string]*ref)
	}
	r, ok := k.m[key]
	if !ok {
		r = &ref{ch: make(chan struct{}, 1)}
		k.m[key] = r
	}
	r.refs++
	return r
}

func (k *KeyedMutex) release(key string, r *ref) {
	k.mu.Lock()
	defer k.mu.Unlock()
	r.refs--
	if r.refs == 0 {
		delete(k.m, key)
	}
}

// Lock blocks until the lock for key is held or ctx is done. On success the
// returned function releases the lock; it must be called exactly once.
func (k *KeyedMutex) Lock(ctx context.Context, key string) (func(), error) {
	r := k.acquire(key)
	select {
	case r.ch <- struct{}{}:
	case <-ctx.Done():
		k.release(key, r)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-r.ch
			k.release(key, r)
		})
	}, nil
}

// Do runs fn while holding the lock for key.
func (k *KeyedMutex) Do(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	unlock, err := k.Lock(ctx, key)
	if err != nil {
		return err
	}
	defer unlock()
	return fn(ctx)
}

// Len reports how many keys are currently locked or awaited.
func (k *KeyedMutex) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.m)
}
