// Package kvtest is the behavioural contract every kv.Store backend is
// tested against.
package kvtest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leafsii/launchpad/pkg/kv"
)

// StoreFactory returns a fresh store. The suite closes it.
type StoreFactory func(t *testing.T) kv.Store

func RunConformanceTests(t *testing.T, factory StoreFactory) {
	tests := []struct {
		name string
		run  func(t *testing.T, s kv.Store)
	}{
		{"GetSet", testGetSet},
		{"Del", testDel},
		{"CASCreate", testCASCreate},
		{"CASSwap", testCASSwap},
		{"CASConcurrent", testCASConcurrent},
		{"Sets", testSets},
		{"CanceledContext", testCanceledContext},
		{"Ping", testPing},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := factory(t)
			defer s.Close()
			tt.run(t, s)
		})
	}
}

// key namespaces a test key so suites can share one Redis database.
func key(name string) string {
	return fmt.Sprintf("kvtest:%s:%d", name, time.Now().UnixNano())
}

func testGetSet(t *testing.T, s kv.Store) {
	ctx := context.Background()
	k := key("getset")

	_, err := s.Get(ctx, k)
	require.ErrorIs(t, err, kv.ErrNotFound)

	require.NoError(t, s.Set(ctx, k, []byte("one")))
	v, err := s.Get(ctx, k)
	require.NoError(t, err)
	assert.Equal(t, "one", string(v))

	require.NoError(t, s.Set(ctx, k, []byte("two")))
	v, err = s.Get(ctx, k)
	require.NoError(t, err)
	assert.Equal(t, "two", string(v))
}

func testDel(t *testing.T, s kv.Store) {
	ctx := context.Background()
	a, b, missing := key("del-a"), key("del-b"), key("del-missing")
	require.NoError(t, s.Set(ctx, a, []byte("x")))
	_, err := s.SAdd(ctx, b, []byte("m"))
	require.NoError(t, err)

	n, err := s.Del(ctx, a, b, missing)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	_, err = s.Get(ctx, a)
	assert.ErrorIs(t, err, kv.ErrNotFound)
	_, err = s.SMembers(ctx, b)
	assert.ErrorIs(t, err, kv.ErrNotFound)
}

func testCASCreate(t *testing.T, s kv.Store) {
	ctx := context.Background()
	k := key("cas-create")

	ok, err := s.CompareAndSwap(ctx, k, nil, []byte("v1"))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.CompareAndSwap(ctx, k, nil, []byte("v2"))
	require.NoError(t, err)
	assert.False(t, ok, "create must fail once the key exists")

	v, err := s.Get(ctx, k)
	require.NoError(t, err)
	assert.Equal(t, "v1", string(v))
}

func testCASSwap(t *testing.T, s kv.Store) {
	ctx := context.Background()
	k := key("cas-swap")

	ok, err := s.CompareAndSwap(ctx, k, []byte("v0"), []byte("v1"))
	require.NoError(t, err)
	assert.False(t, ok, "swap against a missing key")

	require.NoError(t, s.Set(ctx, k, []byte("v1")))
	ok, err = s.CompareAndSwap(ctx, k, []byte("stale"), []byte("v2"))
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.CompareAndSwap(ctx, k, []byte("v1"), []byte("v2"))
	require.NoError(t, err)
	assert.True(t, ok)

	v, err := s.Get(ctx, k)
	require.NoError(t, err)
	assert.Equal(t, "v2", string(v))
}

// testCASConcurrent races writers that all read the same value; exactly one
// of them may win.
func testCASConcurrent(t *testing.T, s kv.Store) {
	ctx := context.Background()
	k := key("cas-race")
	require.NoError(t, s.Set(ctx, k, []byte("base")))

	const writers = 16
	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ok, err := s.CompareAndSwap(ctx, k, []byte("base"), []byte(fmt.Sprintf("w%d", i)))
			assert.NoError(t, err)
			if ok {
				wins.Add(1)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}

func testSets(t *testing.T, s kv.Store) {
	ctx := context.Background()
	k := key("set")

	_, err := s.SMembers(ctx, k)
	require.ErrorIs(t, err, kv.ErrNotFound)

	n, err := s.SAdd(ctx, k, []byte("b"), []byte("a"), []byte("a"))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = s.SAdd(ctx, k, []byte("a"), []byte("c"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	members, err := s.SMembers(ctx, k)
	require.NoError(t, err)
	got := make([]string, len(members))
	for i, m := range members {
		got[i] = string(m)
	}
	sort.Strings(got)
	assert.Equal(t, []string{"a", "b", "c"}, got)
}

func testCanceledContext(t *testing.T, s kv.Store) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.Get(ctx, key("canceled"))
	assert.Error(t, err)
	assert.NotErrorIs(t, err, kv.ErrNotFound)
}

func testPing(t *testing.T, s kv.Store) {
	assert.NoError(t, s.Ping(context.Background()))
}
