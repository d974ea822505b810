package launchpad

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/leafsii/launchpad/internal/domain"
	"github.com/leafsii/launchpad/internal/ledger"
	"github.com/leafsii/launchpad/internal/ledger/fake"
	"github.com/leafsii/launchpad/internal/registry"
)

func d(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

// pair issues two assets held by the env signer.
func (e *env) pair(t tb) (base, quote *domain.Asset) {
	t.Helper()
	return e.issue(t, "TEST", 0, 1_000_000), e.issue(t, "SOL", 0, 1_000_000)
}

func (e *env) createPool(t tb, base, quote string, x, y int64) *domain.LiquidityPool {
	t.Helper()
	p, err := e.pools.CreatePool(context.Background(), e.signer, CreatePoolRequest{
		BaseAsset:   base,
		QuoteAsset:  quote,
		BaseAmount:  d(x),
		QuoteAmount: d(y),
	})
	if err != nil {
		t.Fatalf("create pool: %v", err)
	}
	return p
}

func TestCreatePoolAndAddLiquidity(t *testing.T) {
	e := newEnv(nil)
	ctx := context.Background()
	base, quote := e.pair(t)

	pool := e.createPool(t, base.Address, quote.Address, 1000, 5000)
	price, ok := pool.Price()
	require.True(t, ok)
	assert.True(t, price.Equal(d(5)), "price %s", price)
	assert.True(t, e.ledger.Balance(base.Address, creator).Equal(d(999_000)))

	res, err := e.pools.ChangeLiquidity(ctx, e.signer, pool.ID, d(500), d(2500), domain.DirectionAdd)
	require.NoError(t, err)
	assert.NotEmpty(t, res.ConfirmationID)
	assert.True(t, res.Pool.BaseReserve.Equal(d(1500)))
	assert.True(t, res.Pool.QuoteReserve.Equal(d(7500)))
	price, ok = res.Pool.Price()
	require.True(t, ok)
	assert.True(t, price.Equal(d(5)), "price %s", price)

	stored, err := e.pools.Pool(ctx, pool.ID)
	require.NoError(t, err)
	assert.Equal(t, res.Pool.Version, stored.Version)
	assert.True(t, stored.BaseReserve.Equal(d(1500)))
}

func TestCreatePoolValidation(t *testing.T) {
	tests := []struct {
		name string
		req  CreatePoolRequest
	}{
		{"same asset", CreatePoolRequest{BaseAsset: "0xa", QuoteAsset: "0xa", BaseAmount: d(1), QuoteAmount: d(1)}},
		{"missing quote", CreatePoolRequest{BaseAsset: "0xa", BaseAmount: d(1), QuoteAmount: d(1)}},
		{"zero base", CreatePoolRequest{BaseAsset: "0xa", QuoteAsset: "0xb", BaseAmount: d(0), QuoteAmount: d(1)}},
		{"negative quote", CreatePoolRequest{BaseAsset: "0xa", QuoteAsset: "0xb", BaseAmount: d(1), QuoteAmount: d(-1)}},
		{"base overflows u64", CreatePoolRequest{BaseAsset: "0xa", QuoteAsset: "0xb", BaseAmount: domain.MaxBaseUnits.Add(d(1)), QuoteAmount: d(1)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(nil)
			_, err := e.pools.CreatePool(context.Background(), e.signer, tt.req)
			requireKind(t, err, domain.KindInvalidParameters)
			assert.Zero(t, e.submissions())
		})
	}
}

func TestCreatePoolLedgerRejects(t *testing.T) {
	e := newEnv(nil)
	base, quote := e.pair(t)

	// more than the signer holds
	_, err := e.pools.CreatePool(context.Background(), e.signer, CreatePoolRequest{
		BaseAsset:   base.Address,
		QuoteAsset:  quote.Address,
		BaseAmount:  d(2_000_000),
		QuoteAmount: d(1),
	})
	derr := requireKind(t, err, domain.KindLedgerRejected)
	assert.Equal(t, StepCreatePool, derr.Step)
}

func TestCreatePoolRecordFailure(t *testing.T) {
	e := newEnv(nil)
	base, quote := e.pair(t)
	svc := NewPoolService(e.ledger, &failingRegistry{Registry: e.registry, err: registry.ErrUnavailable})

	_, err := svc.CreatePool(context.Background(), e.signer, CreatePoolRequest{
		BaseAsset:   base.Address,
		QuoteAsset:  quote.Address,
		BaseAmount:  d(10),
		QuoteAmount: d(10),
	})
	derr := requireKind(t, err, domain.KindPartiallyExecuted)
	assert.Equal(t, StepRecord, derr.Step)
	require.NotEmpty(t, derr.Address)

	// the pool exists on the ledger and can be reconciled
	pool, err := e.pools.RefreshPool(context.Background(), derr.Address)
	require.NoError(t, err)
	assert.True(t, pool.BaseReserve.Equal(d(10)))
}

func TestRemoveLiquidityInsufficientReserves(t *testing.T) {
	e := newEnv(nil)
	ctx := context.Background()
	base, quote := e.pair(t)
	pool := e.createPool(t, base.Address, quote.Address, 1000, 5000)
	submitted := e.submissions()

	tests := []struct {
		name        string
		base, quote int64
	}{
		{"base", 1001, 1},
		{"quote", 1, 5001},
		{"both", 2000, 9000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.pools.ChangeLiquidity(ctx, e.signer, pool.ID, d(tt.base), d(tt.quote), domain.DirectionRemove)
			derr := requireKind(t, err, domain.KindInsufficientReserves)
			assert.Equal(t, pool.ID, derr.Address)
		})
	}

	assert.Equal(t, submitted, e.submissions())
	stored, err := e.pools.Pool(ctx, pool.ID)
	require.NoError(t, err)
	assert.Equal(t, pool.Version, stored.Version)
	assert.True(t, stored.BaseReserve.Equal(d(1000)))
}

func TestRemoveChecksFreshLedgerState(t *testing.T) {
	e := newEnv(nil)
	ctx := context.Background()
	base, quote := e.pair(t)
	pool := e.createPool(t, base.Address, quote.Address, 1000, 5000)

	// an external trader drains the pool; the registry still says 1000
	require.NoError(t, e.ledger.MutatePool(pool.ID, func(p *ledger.PoolState) {
		p.BaseReserve = d(100)
	}))

	_, err := e.pools.ChangeLiquidity(ctx, e.signer, pool.ID, d(500), d(1), domain.DirectionRemove)
	requireKind(t, err, domain.KindInsufficientReserves)
}

func TestChangeLiquidityErrors(t *testing.T) {
	t.Run("unknown pool", func(t *testing.T) {
		e := newEnv(nil)
		_, err := e.pools.ChangeLiquidity(context.Background(), e.signer, "0xnopool", d(1), d(1), domain.DirectionAdd)
		requireKind(t, err, domain.KindPoolNotFound)
	})

	t.Run("bad direction", func(t *testing.T) {
		e := newEnv(nil)
		_, err := e.pools.ChangeLiquidity(context.Background(), e.signer, "0xnopool", d(1), d(1), domain.Direction("swap"))
		requireKind(t, err, domain.KindInvalidParameters)
	})

	t.Run("zero delta", func(t *testing.T) {
		e := newEnv(nil)
		_, err := e.pools.ChangeLiquidity(context.Background(), e.signer, "0xnopool", d(0), d(1), domain.DirectionAdd)
		requireKind(t, err, domain.KindInvalidParameters)
	})

	t.Run("signer rejects", func(t *testing.T) {
		e := newEnv(nil)
		base, quote := e.pair(t)
		pool := e.createPool(t, base.Address, quote.Address, 10, 10)
		e.signer.Reject = true
		_, err := e.pools.ChangeLiquidity(context.Background(), e.signer, pool.ID, d(1), d(1), domain.DirectionAdd)
		derr := requireKind(t, err, domain.KindSignerRejected)
		assert.Equal(t, StepAddLiquidity, derr.Step)
	})

	t.Run("ledger unavailable", func(t *testing.T) {
		e := newEnv(nil)
		base, quote := e.pair(t)
		pool := e.createPool(t, base.Address, quote.Address, 10, 10)
		e.ledger.FailNext("remove_liquidity", fake.FailUnavailable)
		_, err := e.pools.ChangeLiquidity(context.Background(), e.signer, pool.ID, d(1), d(1), domain.DirectionRemove)
		derr := requireKind(t, err, domain.KindLedgerUnavailable)
		assert.Equal(t, StepRemoveLiquidity, derr.Step)
		assert.True(t, domain.Retryable(err))
	})
}

func TestPoolInertUntilStart(t *testing.T) {
	e := newEnv(nil)
	ctx := context.Background()
	base, quote := e.pair(t)
	start := e.clock.Now().Add(time.Hour)

	pool, err := e.pools.CreatePool(ctx, e.signer, CreatePoolRequest{
		BaseAsset:   base.Address,
		QuoteAsset:  quote.Address,
		BaseAmount:  d(100),
		QuoteAmount: d(100),
		StartTime:   &start,
	})
	require.NoError(t, err)
	require.NotNil(t, pool.StartTime)
	assert.True(t, pool.StartTime.Equal(start))

	_, err = e.pools.ChangeLiquidity(ctx, e.signer, pool.ID, d(1), d(1), domain.DirectionAdd)
	requireKind(t, err, domain.KindPoolInert)

	e.clock.Advance(time.Hour)
	_, err = e.pools.ChangeLiquidity(ctx, e.signer, pool.ID, d(1), d(1), domain.DirectionAdd)
	require.NoError(t, err)
}

func TestCreatePoolPastStartIsNotInert(t *testing.T) {
	e := newEnv(nil)
	base, quote := e.pair(t)
	past := e.clock.Now().Add(-time.Minute)

	pool, err := e.pools.CreatePool(context.Background(), e.signer, CreatePoolRequest{
		BaseAsset:   base.Address,
		QuoteAsset:  quote.Address,
		BaseAmount:  d(1),
		QuoteAmount: d(1),
		StartTime:   &past,
	})
	require.NoError(t, err)
	assert.Nil(t, pool.StartTime)
}

func TestChangeLiquidityRecordsLedgerStateUnderConcurrentMutation(t *testing.T) {
	e := newEnv(nil)
	ctx := context.Background()
	base, quote := e.pair(t)
	pool := e.createPool(t, base.Address, quote.Address, 1000, 5000)

	var once sync.Once
	e.ledger.BeforeApply(func(tx *ledger.Transaction) {
		if tx.Instructions[0].Op() != "add_liquidity" {
			return
		}
		once.Do(func() {
			_ = e.ledger.MutatePool(pool.ID, func(p *ledger.PoolState) {
				p.BaseReserve = p.BaseReserve.Add(d(10))
			})
		})
	})

	res, err := e.pools.ChangeLiquidity(ctx, e.signer, pool.ID, d(500), d(2500), domain.DirectionAdd)
	require.NoError(t, err)
	assert.True(t, res.Pool.BaseReserve.Equal(d(1510)), "base %s", res.Pool.BaseReserve)
	assert.True(t, res.Pool.QuoteReserve.Equal(d(7500)))

	stored, err := e.pools.Pool(ctx, pool.ID)
	require.NoError(t, err)
	assert.True(t, stored.BaseReserve.Equal(d(1510)))
}

func TestChangeLiquidityReadFailureAfterConfirm(t *testing.T) {
	e := newEnv(nil)
	base, quote := e.pair(t)
	pool := e.createPool(t, base.Address, quote.Address, 100, 100)

	e.ledger.BeforeApply(func(tx *ledger.Transaction) {
		e.ledger.FailRead(pool.ID, ledger.ErrUnavailable)
	})

	_, err := e.pools.ChangeLiquidity(context.Background(), e.signer, pool.ID, d(1), d(1), domain.DirectionAdd)
	derr := requireKind(t, err, domain.KindPartiallyExecuted)
	assert.Equal(t, StepRecord, derr.Step)
	assert.Equal(t, pool.ID, derr.Address)
}

func TestChangeLiquidityTimeoutThenRefresh(t *testing.T) {
	e := newEnv(nil)
	ctx := context.Background()
	base, quote := e.pair(t)
	pool := e.createPool(t, base.Address, quote.Address, 100, 100)

	e.ledger.FailNext("add_liquidity", fake.FailTimeoutAfterApply)
	_, err := e.pools.ChangeLiquidity(ctx, e.signer, pool.ID, d(5), d(5), domain.DirectionAdd)
	derr := requireKind(t, err, domain.KindUnknown)
	assert.Equal(t, pool.ID, derr.Address)

	stored, err := e.pools.Pool(ctx, pool.ID)
	require.NoError(t, err)
	assert.True(t, stored.BaseReserve.Equal(d(100)))

	refreshed, err := e.pools.RefreshPool(ctx, pool.ID)
	require.NoError(t, err)
	assert.True(t, refreshed.BaseReserve.Equal(d(105)))
	assert.Greater(t, refreshed.Version, stored.Version)
}

func TestPoolsForAsset(t *testing.T) {
	e := newEnv(nil)
	ctx := context.Background()
	base, quote := e.pair(t)
	other := e.issue(t, "USDC", 0, 1_000_000)

	p1 := e.createPool(t, base.Address, quote.Address, 10, 10)
	e.clock.Advance(time.Minute)
	p2 := e.createPool(t, other.Address, base.Address, 10, 10)
	e.clock.Advance(time.Minute)
	e.createPool(t, other.Address, quote.Address, 10, 10)

	asc, err := e.pools.PoolsForAsset(ctx, base.Address, registry.Ascending)
	require.NoError(t, err)
	require.Len(t, asc, 2)
	assert.Equal(t, []string{p1.ID, p2.ID}, []string{asc[0].ID, asc[1].ID})

	desc, err := e.pools.PoolsForAsset(ctx, base.Address, registry.Descending)
	require.NoError(t, err)
	assert.Equal(t, []string{p2.ID, p1.ID}, []string{desc[0].ID, desc[1].ID})

	none, err := e.pools.PoolsForAsset(ctx, "0xunknown", registry.Ascending)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestCreatePoolPriceProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		x := rapid.Int64Range(1, 1_000_000).Draw(t, "base")
		y := rapid.Int64Range(1, 1_000_000).Draw(t, "quote")

		e := newEnv(nil)
		base, quote := e.pair(t)
		pool := e.createPool(t, base.Address, quote.Address, x, y)

		if !pool.BaseReserve.Equal(d(x)) || !pool.QuoteReserve.Equal(d(y)) {
			t.Fatalf("reserves %s/%s, want %d/%d", pool.BaseReserve, pool.QuoteReserve, x, y)
		}
		price, ok := pool.Price()
		if !ok {
			t.Fatalf("price undefined for base %d", x)
		}
		want := d(y).DivRound(d(x), domain.PriceDivisionPrecision)
		if !price.Equal(want) {
			t.Fatalf("price %s, want %s", price, want)
		}
	})
}

func TestAddRemoveRoundTripProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		x := rapid.Int64Range(1, 100_000).Draw(t, "base")
		y := rapid.Int64Range(1, 100_000).Draw(t, "quote")
		db := rapid.Int64Range(1, 100_000).Draw(t, "baseDelta")
		dq := rapid.Int64Range(1, 100_000).Draw(t, "quoteDelta")

		e := newEnv(nil)
		ctx := context.Background()
		base, quote := e.pair(t)
		pool := e.createPool(t, base.Address, quote.Address, x, y)

		if _, err := e.pools.ChangeLiquidity(ctx, e.signer, pool.ID, d(db), d(dq), domain.DirectionAdd); err != nil {
			t.Fatalf("add: %v", err)
		}
		res, err := e.pools.ChangeLiquidity(ctx, e.signer, pool.ID, d(db), d(dq), domain.DirectionRemove)
		if err != nil {
			t.Fatalf("remove: %v", err)
		}
		if !res.Pool.BaseReserve.Equal(d(x)) || !res.Pool.QuoteReserve.Equal(d(y)) {
			t.Fatalf("reserves %s/%s after round trip, want %d/%d", res.Pool.BaseReserve, res.Pool.QuoteReserve, x, y)
		}
		if got := e.ledger.Balance(base.Address, creator); !got.Equal(d(1_000_000 - x)) {
			t.Fatalf("base holding %s, want %d", got, 1_000_000-x)
		}
	})
}

func TestRemoveBeyondReservesProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		x := rapid.Int64Range(1, 10_000).Draw(t, "base")
		y := rapid.Int64Range(1, 10_000).Draw(t, "quote")
		overBase := rapid.Bool().Draw(t, "overBase")
		db := rapid.Int64Range(1, x).Draw(t, "baseDelta")
		dq := rapid.Int64Range(1, y).Draw(t, "quoteDelta")
		if overBase {
			db = x + rapid.Int64Range(1, 1000).Draw(t, "excess")
		} else {
			dq = y + rapid.Int64Range(1, 1000).Draw(t, "excess")
		}

		e := newEnv(nil)
		ctx := context.Background()
		base, quote := e.pair(t)
		pool := e.createPool(t, base.Address, quote.Address, x, y)

		_, err := e.pools.ChangeLiquidity(ctx, e.signer, pool.ID, d(db), d(dq), domain.DirectionRemove)
		if domain.KindOf(err) != domain.KindInsufficientReserves {
			t.Fatalf("remove %d/%d from %d/%d: got %v", db, dq, x, y, err)
		}
		stored, err := e.pools.Pool(ctx, pool.ID)
		if err != nil {
			t.Fatalf("pool: %v", err)
		}
		if stored.Version != pool.Version {
			t.Fatalf("registry version moved from %d to %d", pool.Version, stored.Version)
		}
	})
}
