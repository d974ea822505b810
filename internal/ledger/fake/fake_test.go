package fake

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leafsii/launchpad/internal/domain"
	"github.com/leafsii/launchpad/internal/ledger"
)

func submit(t *testing.T, l *Ledger, s *Signer, ins ...ledger.Instruction) (*ledger.Receipt, error) {
	t.Helper()
	ctx := context.Background()
	tx, err := l.Build(ctx, s.Address(), ins...)
	require.NoError(t, err)
	stx, err := s.Sign(ctx, tx)
	require.NoError(t, err)
	return l.Submit(ctx, stx)
}

func newAsset(t *testing.T, l *Ledger, s *Signer) string {
	t.Helper()
	r, err := submit(t, l, s, ledger.CreateAsset{Symbol: "T", Authority: s.Address(), Freeze: true})
	require.NoError(t, err)
	return r.Created[ledger.ObjectAsset]
}

func TestTransactionsAreAtomic(t *testing.T) {
	l := New()
	s := NewSigner("0xme")
	asset := newAsset(t, l, s)

	before, err := l.AccountState(context.Background(), asset)
	require.NoError(t, err)

	// the mint fails because the holding does not exist, so the revoke must not land either
	_, err = submit(t, l, s,
		ledger.RevokeAuthority{Asset: asset, Kind: domain.AuthorityFreeze},
		ledger.MintTo{Asset: asset, Owner: "0xme", Amount: decimal.NewFromInt(1)},
	)
	assert.ErrorIs(t, err, ledger.ErrRejected)

	after, err := l.AccountState(context.Background(), asset)
	require.NoError(t, err)
	assert.Equal(t, before.Version, after.Version)
	assert.Equal(t, "0xme", after.Asset.FreezeAuthority)
}

func TestMintAndVersions(t *testing.T) {
	l := New()
	s := NewSigner("0xme")
	asset := newAsset(t, l, s)

	r, err := submit(t, l, s,
		ledger.CreateHolding{Asset: asset, Owner: "0xme"},
		ledger.MintTo{Asset: asset, Owner: "0xme", Amount: decimal.NewFromInt(42)},
	)
	require.NoError(t, err)
	assert.NotEmpty(t, r.Created[ledger.ObjectHolding])

	holding, err := l.FindHolding(context.Background(), asset, "0xme")
	require.NoError(t, err)
	assert.Equal(t, r.Created[ledger.ObjectHolding], holding)
	assert.True(t, l.Balance(asset, "0xme").Equal(decimal.NewFromInt(42)))

	st, err := l.AccountState(context.Background(), asset)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), st.Version)
	assert.True(t, st.Asset.Supply.Equal(decimal.NewFromInt(42)))

	_, err = l.FindHolding(context.Background(), asset, "0xother")
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestAuthorityRules(t *testing.T) {
	l := New()
	me := NewSigner("0xme")
	other := NewSigner("0xother")
	asset := newAsset(t, l, me)

	_, err := submit(t, l, other, ledger.RevokeAuthority{Asset: asset, Kind: domain.AuthorityMint})
	assert.ErrorIs(t, err, ledger.ErrRejected)

	_, err = submit(t, l, me, ledger.RevokeAuthority{Asset: asset, Kind: domain.AuthorityUpdate})
	require.NoError(t, err)
	_, err = submit(t, l, me, ledger.SetMetadataURI{Asset: asset, URI: "mem://x"})
	assert.ErrorIs(t, err, ledger.ErrRejected)

	// revoking an inactive authority is a no-op, but only for the asset authority
	_, err = submit(t, l, other, ledger.RevokeAuthority{Asset: asset, Kind: domain.AuthorityUpdate})
	assert.ErrorIs(t, err, ledger.ErrRejected)
	_, err = submit(t, l, me, ledger.RevokeAuthority{Asset: asset, Kind: domain.AuthorityUpdate})
	require.NoError(t, err)

	st, err := l.AccountState(context.Background(), asset)
	require.NoError(t, err)
	assert.Empty(t, st.Asset.UpdateAuthority)
	assert.Equal(t, "0xme", st.Asset.MintAuthority)
}

func TestAmountsFitU64(t *testing.T) {
	l := New()
	s := NewSigner("0xme")
	base := newAsset(t, l, s)
	quote := newAsset(t, l, s)

	_, err := submit(t, l, s,
		ledger.CreateHolding{Asset: base, Owner: "0xme"},
		ledger.MintTo{Asset: base, Owner: "0xme", Amount: domain.MaxBaseUnits.Add(decimal.NewFromInt(1))},
	)
	assert.ErrorIs(t, err, ledger.ErrRejected)

	_, err = submit(t, l, s,
		ledger.CreateHolding{Asset: base, Owner: "0xme"},
		ledger.MintTo{Asset: base, Owner: "0xme", Amount: domain.MaxBaseUnits},
	)
	require.NoError(t, err)

	// the supply would overflow
	_, err = submit(t, l, s, ledger.MintTo{Asset: base, Owner: "0xme", Amount: decimal.NewFromInt(1)})
	assert.ErrorIs(t, err, ledger.ErrRejected)

	_, err = submit(t, l, s,
		ledger.CreateHolding{Asset: quote, Owner: "0xme"},
		ledger.MintTo{Asset: quote, Owner: "0xme", Amount: decimal.NewFromInt(100)},
	)
	require.NoError(t, err)
	_, err = submit(t, l, s, ledger.CreatePool{
		BaseAsset:   base,
		QuoteAsset:  quote,
		BaseAmount:  domain.MaxBaseUnits.Add(decimal.NewFromInt(1)),
		QuoteAmount: decimal.NewFromInt(1),
	})
	assert.ErrorIs(t, err, ledger.ErrRejected)

	r, err := submit(t, l, s, ledger.CreatePool{BaseAsset: base, QuoteAsset: quote, BaseAmount: domain.MaxBaseUnits, QuoteAmount: decimal.NewFromInt(1)})
	require.NoError(t, err)
	pool := r.Created[ledger.ObjectPool]

	// the base reserve would overflow; quote side is fine
	_, err = submit(t, l, s, ledger.AddLiquidity{Pool: pool, BaseDelta: decimal.NewFromInt(1), QuoteDelta: decimal.NewFromInt(1)})
	assert.ErrorIs(t, err, ledger.ErrRejected)
}

func TestInjectedFailures(t *testing.T) {
	l := New()
	s := NewSigner("0xme")

	l.FailNext("create_asset", FailUnavailable, FailTimeoutAfterApply)

	_, err := submit(t, l, s, ledger.CreateAsset{Symbol: "T", Authority: "0xme"})
	assert.ErrorIs(t, err, ledger.ErrUnavailable)

	_, err = submit(t, l, s, ledger.CreateAsset{Symbol: "T", Authority: "0xme"})
	assert.ErrorIs(t, err, ledger.ErrConfirmationTimeout)

	// the timed-out transaction was applied
	assert.Len(t, l.objects, 1)
	assert.Len(t, l.Submitted(), 2)

	l.FailRead("0xgone", ledger.ErrUnavailable)
	_, err = l.AccountState(context.Background(), "0xgone")
	assert.ErrorIs(t, err, ledger.ErrUnavailable)
	_, err = l.AccountState(context.Background(), "0xgone")
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestSignatureMustMatchSender(t *testing.T) {
	l := New()
	ctx := context.Background()
	tx, err := l.Build(ctx, "0xme", ledger.CreateAsset{Symbol: "T", Authority: "0xme"})
	require.NoError(t, err)

	stx, err := NewSigner("0ximposter").Sign(ctx, tx)
	require.NoError(t, err)
	_, err = l.Submit(ctx, stx)
	assert.ErrorIs(t, err, ledger.ErrRejected)

	_, err = (&Signer{Addr: "0xme", Reject: true}).Sign(ctx, tx)
	assert.ErrorIs(t, err, ledger.ErrSignerRejected)
}

func TestPoolReserves(t *testing.T) {
	l := New()
	s := NewSigner("0xme")
	base := newAsset(t, l, s)
	quote := newAsset(t, l, s)
	for _, a := range []string{base, quote} {
		_, err := submit(t, l, s,
			ledger.CreateHolding{Asset: a, Owner: "0xme"},
			ledger.MintTo{Asset: a, Owner: "0xme", Amount: decimal.NewFromInt(100)},
		)
		require.NoError(t, err)
	}

	r, err := submit(t, l, s, ledger.CreatePool{BaseAsset: base, QuoteAsset: quote, BaseAmount: decimal.NewFromInt(10), QuoteAmount: decimal.NewFromInt(20)})
	require.NoError(t, err)
	pool := r.Created[ledger.ObjectPool]

	_, err = submit(t, l, s, ledger.RemoveLiquidity{Pool: pool, BaseDelta: decimal.NewFromInt(11), QuoteDelta: decimal.NewFromInt(1)})
	assert.ErrorIs(t, err, ledger.ErrRejected)

	_, err = submit(t, l, s, ledger.RemoveLiquidity{Pool: pool, BaseDelta: decimal.NewFromInt(10), QuoteDelta: decimal.NewFromInt(20)})
	require.NoError(t, err)
	assert.True(t, l.Balance(base, "0xme").Equal(decimal.NewFromInt(100)))

	st, err := l.AccountState(context.Background(), pool)
	require.NoError(t, err)
	assert.True(t, st.Pool.BaseReserve.IsZero())
}
