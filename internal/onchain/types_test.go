package onchain

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fardream/go-bcs/bcs"
	"github.com/pattonkan/sui-go/sui"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leafsii/launchpad/internal/ledger"
)

const testMnemonic = "arena garbage light lizard champion weasel produce analyst broken pitch shine gas"

func TestToU64(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    uint64
		wantErr bool
	}{
		{"zero", "0", 0, false},
		{"plain", "1000", 1000, false},
		{"max", "18446744073709551615", 18446744073709551615, false},
		{"overflow", "18446744073709551616", 0, true},
		{"negative", "-1", 0, true},
		{"fraction", "1.5", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := toU64(decimal.RequireFromString(tt.in))
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ledger.ErrRejected)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := toU64(decimal.RequireFromString("18446744073709551616"))
	assert.True(t, errors.Is(err, errAmountRange))
}

func TestTimeConversion(t *testing.T) {
	assert.True(t, msToTime(0).IsZero())
	assert.Equal(t, uint64(0), timeToMs(nil))

	ts := time.Date(2026, 4, 2, 10, 30, 0, 0, time.UTC)
	ms := timeToMs(&ts)
	assert.Equal(t, uint64(ts.UnixMilli()), ms)
	assert.True(t, msToTime(ms).Equal(ts))
}

func TestCreatedKind(t *testing.T) {
	pkg := "0x7d4c8e2f1a3b5c6d7e8f9a0b1c2d3e4f5a6b7c8d9e0f1a2b3c4d5e6f7a8b9c0d"
	tests := []struct {
		typ  string
		want ledger.ObjectKind
		ok   bool
	}{
		{pkg + "::asset::Asset", ledger.ObjectAsset, true},
		{pkg + "::asset::Holding", ledger.ObjectHolding, true},
		{pkg + "::amm::Pool", ledger.ObjectPool, true},
		{"0x2::coin::Coin<0x2::sui::SUI>", "", false},
		{"not a type", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.typ, func(t *testing.T) {
			got, ok := createdKind(tt.typ)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMoveAssetState(t *testing.T) {
	authority := sui.MustAddressFromHex("0xa11ce0")
	holder := sui.MustAddressFromHex("0xb0b0")
	holding := sui.MustObjectIdFromHex("0x4011")

	a := &MoveAsset{
		Id:           sui.MustObjectIdFromHex("0x1234"),
		Name:         "Test",
		Symbol:       "TEST",
		Decimals:     9,
		Supply:       1_000_000_000_000_000_000,
		Creator:      authority,
		CreatedAtMs:  1_767_225_600_000,
		Authority:    authority,
		MintActive:   false,
		FreezeActive: true,
		UpdateActive: true,
		Holdings:     []MoveHoldingRef{{Owner: holder, Holding: holding}},
	}

	raw, err := bcs.Marshal(a)
	require.NoError(t, err)
	var decoded MoveAsset
	_, err = bcs.Unmarshal(raw, &decoded)
	require.NoError(t, err)

	st := decoded.state()
	assert.Equal(t, "TEST", st.Symbol)
	assert.True(t, st.Supply.Equal(decimal.RequireFromString("1000000000000000000")))
	assert.Empty(t, st.MintAuthority)
	assert.Equal(t, authority.String(), st.FreezeAuthority)
	assert.Equal(t, authority.String(), st.UpdateAuthority)
	assert.Equal(t, time.UnixMilli(1_767_225_600_000).UTC(), st.CreatedAt)

	require.NotNil(t, decoded.holdingOf(holder))
	assert.Equal(t, holding.String(), decoded.holdingOf(holder).String())
	assert.Nil(t, decoded.holdingOf(authority))
}

func TestMovePoolState(t *testing.T) {
	p := &MovePool{
		Id:           sui.MustObjectIdFromHex("0x9001"),
		BaseAsset:    sui.MustObjectIdFromHex("0xba5e"),
		QuoteAsset:   sui.MustObjectIdFromHex("0x9707ee"),
		BaseReserve:  1000,
		QuoteReserve: 5000,
		CreatedAtMs:  1_767_225_600_000,
	}
	st := p.state()
	assert.True(t, st.BaseReserve.Equal(decimal.NewFromInt(1000)))
	assert.True(t, st.QuoteReserve.Equal(decimal.NewFromInt(5000)))
	assert.Nil(t, st.StartTime)

	p.StartTimeMs = 1_767_229_200_000
	st = p.state()
	require.NotNil(t, st.StartTime)
	assert.Equal(t, int64(1_767_229_200_000), st.StartTime.UnixMilli())
}

func TestIsConnectionError(t *testing.T) {
	assert.False(t, isConnectionError(nil))
	assert.True(t, isConnectionError(errors.New("dial tcp 127.0.0.1:9000: connect: connection refused")))
	assert.False(t, isConnectionError(errors.New("transaction expired")))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, classifyExecuteError(ctx, errors.New("boom")), ledger.ErrConfirmationTimeout)
	assert.ErrorIs(t, classifyExecuteError(context.Background(), errors.New("connection refused")), ledger.ErrUnavailable)
	assert.ErrorIs(t, classifyExecuteError(context.Background(), errors.New("gateway timeout")), ledger.ErrConfirmationTimeout)
}

func TestMnemonicSigner(t *testing.T) {
	s, err := NewMnemonicSigner(testMnemonic)
	require.NoError(t, err)
	require.NotEmpty(t, s.Address())

	ctx := context.Background()
	tx := &ledger.Transaction{Sender: s.Address(), Payload: []byte("payload")}
	stx, err := s.Sign(ctx, tx)
	require.NoError(t, err)
	assert.NotEmpty(t, stx.Signature)

	_, err = s.Sign(ctx, &ledger.Transaction{Sender: "0xsomeoneelse", Payload: []byte("payload")})
	assert.ErrorIs(t, err, ledger.ErrSignerRejected)
}

func TestNewLedgerRejectsBadPackage(t *testing.T) {
	_, err := NewLedger("http://127.0.0.1:9000", "nothex")
	assert.Error(t, err)

	l, err := NewLedger("http://127.0.0.1:9000", "0x2", WithGasBudget(42))
	require.NoError(t, err)
	assert.Equal(t, uint64(42), l.gasBudget)

	_, err = l.Build(context.Background(), "0x1")
	assert.ErrorIs(t, err, ledger.ErrRejected)
}
