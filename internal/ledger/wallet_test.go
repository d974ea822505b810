package ledger_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leafsii/launchpad/internal/ledger"
	"github.com/leafsii/launchpad/internal/ledger/fake"
)

func TestWalletLifecycle(t *testing.T) {
	ctx := context.Background()
	l := fake.New()
	w := ledger.NewWallet(fake.NewSigner("0xabc"))
	assert.Equal(t, "0xabc", w.Address())
	assert.False(t, w.Connected())

	tx, err := l.Build(ctx, w.Address(), ledger.CreateAsset{Symbol: "W", Authority: w.Address()})
	require.NoError(t, err)

	_, err = w.Sign(ctx, tx)
	assert.ErrorIs(t, err, ledger.ErrNotConnected)

	require.NoError(t, w.Connect(ctx))
	assert.True(t, w.Connected())
	stx, err := w.Sign(ctx, tx)
	require.NoError(t, err)
	_, err = l.Submit(ctx, stx)
	require.NoError(t, err)

	w.Disconnect()
	_, err = w.Sign(ctx, tx)
	assert.ErrorIs(t, err, ledger.ErrNotConnected)
}

func TestWalletConnectHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	w := ledger.NewWallet(fake.NewSigner("0xabc"))
	assert.Error(t, w.Connect(ctx))
	assert.False(t, w.Connected())
}

func TestStateConversions(t *testing.T) {
	_, err := ledger.AssetFromState(&ledger.AccountState{Address: "0xp", Pool: &ledger.PoolState{}})
	assert.ErrorIs(t, err, ledger.ErrNotFound)
	_, err = ledger.PoolFromState(nil)
	assert.ErrorIs(t, err, ledger.ErrNotFound)

	a, err := ledger.AssetFromState(&ledger.AccountState{
		Address: "0xa",
		Version: 4,
		Asset:   &ledger.AssetState{Symbol: "A", MintAuthority: "0xme", UpdateAuthority: "0xme"},
	})
	require.NoError(t, err)
	assert.Equal(t, "0xa", a.Address)
	assert.Equal(t, uint64(4), a.Version)
	assert.True(t, a.Authorities.Mint)
	assert.False(t, a.Authorities.Freeze)
	assert.True(t, a.Authorities.Update)
}
