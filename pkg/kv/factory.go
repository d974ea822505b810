package kv

import (
	"fmt"
	"sort"
	"sync"
)

type Backend string

const (
	BackendMemory Backend = "memory"
	BackendRedis  Backend = "redis"
)

type Config struct {
	Backend Backend
	// RedisURL is required for BackendRedis, e.g. redis://:password@localhost:6379/0.
	RedisURL string
}

type Factory func(cfg Config) (Store, error)

var (
	mu        sync.RWMutex
	factories = make(map[Backend]Factory)
)

// RegisterBackend makes a backend available to NewStoreFromConfig. Backends
// call it from init.
func RegisterBackend(backend Backend, factory Factory) {
	mu.Lock()
	defer mu.Unlock()
	factories[backend] = factory
}

// NewStoreFromConfig opens the configured backend. An unreachable Redis is
// an error, never a fallback to memory.
func NewStoreFromConfig(cfg Config) (Store, error) {
	if cfg.Backend == BackendRedis && cfg.RedisURL == "" {
		return nil, fmt.Errorf("kv: redis backend needs a URL")
	}

	mu.RLock()
	factory, ok := factories[cfg.Backend]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("kv: backend %q is not registered (have %v)", cfg.Backend, registered())
	}
	return factory(cfg)
}

func registered() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(factories))
	for b := range factories {
		out = append(out, string(b))
	}
	sort.Strings(out)
	return out
}
