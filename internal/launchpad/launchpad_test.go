package launchpad

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/leafsii/launchpad/internal/blob"
	"github.com/leafsii/launchpad/internal/domain"
	"github.com/leafsii/launchpad/internal/ledger/fake"
	"github.com/leafsii/launchpad/internal/registry"
	"github.com/leafsii/launchpad/pkg/kv/memory"
)

const creator = "0xc0ffee"

// tb is the part of testing.TB that *rapid.T also provides.
type tb interface {
	Helper()
	Fatalf(format string, args ...any)
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type env struct {
	ledger    *fake.Ledger
	registry  *registry.Registry
	blobs     *blob.Memory
	clock     *testClock
	signer    *fake.Signer
	issuance  *IssuanceService
	authority *AuthorityService
	pools     *PoolService
}

// newEnv wires the services to a fake ledger and an in-memory registry.
// reg overrides the registry the services write to when set.
func newEnv(reg Registry, opts ...Option) *env {
	clock := &testClock{now: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)}
	e := &env{
		ledger:   fake.New(fake.WithClock(clock.Now)),
		registry: registry.New(memory.New(), registry.WithClock(clock.Now)),
		blobs:    blob.NewMemory(),
		clock:    clock,
		signer:   fake.NewSigner(creator),
	}
	if reg == nil {
		reg = e.registry
	}
	all := append([]Option{WithClock(clock.Now), WithBlobStore(e.blobs)}, opts...)
	e.issuance = NewIssuanceService(e.ledger, reg, all...)
	e.authority = NewAuthorityService(e.ledger, reg, all...)
	e.pools = NewPoolService(e.ledger, reg, all...)
	return e
}

// issue creates an asset with both authorities kept and fails the test on error.
func (e *env) issue(t tb, symbol string, decimals uint8, supply int64) *domain.Asset {
	t.Helper()
	a, err := e.issuance.Issue(context.Background(), e.signer, IssueRequest{
		Symbol:              symbol,
		Decimals:            decimals,
		Supply:              decimal.NewFromInt(supply),
		WantFreezeAuthority: true,
		WantMintAuthority:   true,
	})
	if err != nil {
		t.Fatalf("issue %s: %v", symbol, err)
	}
	return a
}

func (e *env) submissions() int {
	return len(e.ledger.Submitted())
}

// failingRegistry behaves like the real registry for reads but fails writes.
type failingRegistry struct {
	*registry.Registry
	err error
}

func (f *failingRegistry) PutAsset(ctx context.Context, a *domain.Asset) error {
	return f.err
}

func (f *failingRegistry) PutPool(ctx context.Context, p *domain.LiquidityPool) error {
	return f.err
}

func requireKind(t testing.TB, err error, kind domain.Kind) *domain.Error {
	t.Helper()
	require.Error(t, err)
	var derr *domain.Error
	require.True(t, errors.As(err, &derr), "expected *domain.Error, got %T: %v", err, err)
	require.Equal(t, kind, derr.Kind, "error: %v", err)
	return derr
}
