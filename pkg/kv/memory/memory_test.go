package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leafsii/launchpad/pkg/kv"
	"github.com/leafsii/launchpad/pkg/kv/kvtest"
)

func TestMemoryStore(t *testing.T) {
	kvtest.RunConformanceTests(t, func(t *testing.T) kv.Store { return New() })
}

func TestMemoryStoreIsolatesValues(t *testing.T) {
	store := New()
	ctx := context.Background()

	value := []byte("abc")
	require.NoError(t, store.Set(ctx, "k", value))
	value[0] = 'z'

	got, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(got))

	got[0] = 'y'
	again, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(again))
}

func TestMemoryStoreClosed(t *testing.T) {
	store := New()
	require.NoError(t, store.Close())

	ctx := context.Background()
	_, err := store.Get(ctx, "k")
	assert.ErrorIs(t, err, kv.ErrBackendUnavailable)
	assert.ErrorIs(t, store.Ping(ctx), kv.ErrBackendUnavailable)
	_, err = store.CompareAndSwap(ctx, "k", nil, []byte("v"))
	assert.ErrorIs(t, err, kv.ErrBackendUnavailable)
}

func TestMemoryStoreRegistered(t *testing.T) {
	store, err := kv.NewStoreFromConfig(kv.Config{Backend: kv.BackendMemory})
	require.NoError(t, err)
	assert.IsType(t, &Store{}, store)
}
