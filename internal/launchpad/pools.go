package launchpad

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/leafsii/launchpad/internal/domain"
	"github.com/leafsii/launchpad/internal/ledger"
	"github.com/leafsii/launchpad/internal/registry"
)

// CreatePoolRequest funds a new pool. Amounts are in base units of each asset.
type CreatePoolRequest struct {
	BaseAsset   string
	QuoteAsset  string
	BaseAmount  decimal.Decimal
	QuoteAmount decimal.Decimal
	// StartTime, when set, keeps the pool inert until then.
	StartTime *time.Time
}

// ChangeResult is the outcome of a confirmed liquidity change.
type ChangeResult struct {
	ConfirmationID string                `json:"confirmation_id"`
	Pool           *domain.LiquidityPool `json:"pool"`
}

// PoolService creates pools and moves liquidity in and out of them.
type PoolService struct {
	ledger   ledger.Client
	registry Registry
	opts     options
}

func NewPoolService(client ledger.Client, reg Registry, opts ...Option) *PoolService {
	return &PoolService{
		ledger:   client,
		registry: reg,
		opts:     newOptions(opts),
	}
}

func validateCreatePool(req CreatePoolRequest) error {
	const op = "create_pool"
	base := strings.TrimSpace(req.BaseAsset)
	quote := strings.TrimSpace(req.QuoteAsset)
	switch {
	case base == "" || quote == "":
		return domain.Invalid(op, "base and quote assets are required")
	case base == quote:
		return domain.Invalid(op, "base and quote asset must differ (both %s)", base)
	case !domain.IsPositiveInteger(req.BaseAmount):
		return domain.Invalid(op, "base amount %s must be a positive integer", req.BaseAmount)
	case !domain.IsPositiveInteger(req.QuoteAmount):
		return domain.Invalid(op, "quote amount %s must be a positive integer", req.QuoteAmount)
	case !domain.FitsBaseUnits(req.BaseAmount) || !domain.FitsBaseUnits(req.QuoteAmount):
		return domain.Invalid(op, "pool amounts must not exceed %s base units", domain.MaxBaseUnits)
	}
	return nil
}

// CreatePool allocates a pool and funds both reserves in one transaction.
func (s *PoolService) CreatePool(ctx context.Context, signer ledger.Signer, req CreatePoolRequest) (pool *domain.LiquidityPool, err error) {
	const op = "create_pool"
	done := s.opts.begin(ctx, op)
	defer func() { done(err) }()

	if err := validateCreatePool(req); err != nil {
		return nil, err
	}
	if req.StartTime != nil && !req.StartTime.After(s.opts.now()) {
		// a start time already in the past gates nothing
		req.StartTime = nil
	}

	receipt, err := s.opts.execute(ctx, s.ledger, signer, op, StepCreatePool, ledger.CreatePool{
		BaseAsset:   strings.TrimSpace(req.BaseAsset),
		QuoteAsset:  strings.TrimSpace(req.QuoteAsset),
		BaseAmount:  req.BaseAmount,
		QuoteAmount: req.QuoteAmount,
		StartTime:   req.StartTime,
	})
	if err != nil {
		return nil, err
	}
	id := receipt.Created[ledger.ObjectPool]
	if id == "" {
		return nil, &domain.Error{
			Kind:  domain.KindUnknown,
			Op:    op,
			Step:  StepCreatePool,
			Cause: fmt.Errorf("confirmation %s carried no pool id", receipt.ConfirmationID),
		}
	}

	pool, err = s.opts.recordPool(ctx, s.ledger, s.registry, op, id)
	if err != nil {
		return nil, err
	}
	price, _ := pool.Price()
	s.opts.logger.Infow("Pool created",
		"pool", id,
		"base", pool.BaseAsset,
		"quote", pool.QuoteAsset,
		"price", price.String(),
		"confirmation", receipt.ConfirmationID,
	)
	return pool, nil
}

// ChangeLiquidity deposits or withdraws baseDelta and quoteDelta. Removals are
// checked against a fresh ledger read so an over-withdrawal fails with
// InsufficientReserves before anything is submitted.
//
// The recorded pool is always re-read from the ledger after confirmation;
// callers must serialize changes to one pool for the reserve check to hold.
func (s *PoolService) ChangeLiquidity(ctx context.Context, signer ledger.Signer, poolID string, baseDelta, quoteDelta decimal.Decimal, dir domain.Direction) (result *ChangeResult, err error) {
	const op = "change_liquidity"
	done := s.opts.begin(ctx, op)
	defer func() { done(err) }()

	direction, err := domain.ParseDirection(string(dir))
	if err != nil {
		return nil, domain.E(domain.KindInvalidParameters, op, err)
	}
	if !domain.IsPositiveInteger(baseDelta) || !domain.IsPositiveInteger(quoteDelta) {
		return nil, domain.Invalid(op, "deltas must be positive integers (base %s, quote %s)", baseDelta, quoteDelta)
	}
	if !domain.FitsBaseUnits(baseDelta) || !domain.FitsBaseUnits(quoteDelta) {
		return nil, domain.Invalid(op, "deltas must not exceed %s base units", domain.MaxBaseUnits)
	}

	if _, err := s.registry.Pool(ctx, poolID); err != nil {
		return nil, registryError(op, err, domain.KindPoolNotFound)
	}

	st, err := s.ledger.AccountState(ctx, poolID)
	if err != nil {
		return nil, readError(op, err, domain.KindPoolNotFound)
	}
	before, err := ledger.PoolFromState(st)
	if err != nil {
		return nil, domain.E(domain.KindPoolNotFound, op, err)
	}

	now := s.opts.now()
	if before.InertAt(now) {
		return nil, &domain.Error{
			Kind:    domain.KindPoolInert,
			Op:      op,
			Address: poolID,
			Cause:   fmt.Errorf("pool starts at %s", before.StartTime.UTC().Format(time.RFC3339)),
		}
	}

	var (
		step        string
		instruction ledger.Instruction
		sign        = decimal.NewFromInt(1)
	)
	switch direction {
	case domain.DirectionAdd:
		step = StepAddLiquidity
		instruction = ledger.AddLiquidity{Pool: poolID, BaseDelta: baseDelta, QuoteDelta: quoteDelta}
	case domain.DirectionRemove:
		if before.BaseReserve.LessThan(baseDelta) || before.QuoteReserve.LessThan(quoteDelta) {
			return nil, &domain.Error{
				Kind:    domain.KindInsufficientReserves,
				Op:      op,
				Address: poolID,
				Cause: fmt.Errorf("reserves %s/%s cannot cover %s/%s",
					before.BaseReserve, before.QuoteReserve, baseDelta, quoteDelta),
			}
		}
		step = StepRemoveLiquidity
		instruction = ledger.RemoveLiquidity{Pool: poolID, BaseDelta: baseDelta, QuoteDelta: quoteDelta}
		sign = decimal.NewFromInt(-1)
	}

	receipt, err := s.opts.execute(ctx, s.ledger, signer, op, step, instruction)
	if err != nil {
		var derr *domain.Error
		if errors.As(err, &derr) && derr.Kind == domain.KindUnknown {
			// reconcile with RefreshPool
			derr.Address = poolID
		}
		return nil, err
	}

	after, err := s.opts.recordPool(ctx, s.ledger, s.registry, op, poolID)
	if err != nil {
		return nil, err
	}

	wantBase := before.BaseReserve.Add(baseDelta.Mul(sign))
	wantQuote := before.QuoteReserve.Add(quoteDelta.Mul(sign))
	if !after.BaseReserve.Equal(wantBase) || !after.QuoteReserve.Equal(wantQuote) {
		s.opts.logger.Warnw("Pool reserves changed concurrently",
			"pool", poolID,
			"expected_base", wantBase.String(),
			"expected_quote", wantQuote.String(),
			"base", after.BaseReserve.String(),
			"quote", after.QuoteReserve.String(),
			"version", after.Version,
		)
	}

	return &ChangeResult{ConfirmationID: receipt.ConfirmationID, Pool: after}, nil
}

// Pool returns the recorded state of a pool.
func (s *PoolService) Pool(ctx context.Context, id string) (*domain.LiquidityPool, error) {
	p, err := s.registry.Pool(ctx, id)
	if err != nil {
		return nil, registryError("get_pool", err, domain.KindPoolNotFound)
	}
	return p, nil
}

// PoolsForAsset lists recorded pools that trade asset on either side.
func (s *PoolService) PoolsForAsset(ctx context.Context, asset string, order registry.Order) ([]*domain.LiquidityPool, error) {
	pools := []*domain.LiquidityPool{}
	for p, err := range s.registry.PoolsForAsset(ctx, asset, order) {
		if err != nil {
			return nil, domain.E(domain.KindStorageUnavailable, "list_pools", err)
		}
		pools = append(pools, p)
	}
	return pools, nil
}

// RefreshPool re-reads a pool from the ledger and records it.
func (s *PoolService) RefreshPool(ctx context.Context, id string) (pool *domain.LiquidityPool, err error) {
	const op = "refresh_pool"
	done := s.opts.begin(ctx, op)
	defer func() { done(err) }()

	st, err := s.ledger.AccountState(ctx, id)
	if err != nil {
		return nil, readError(op, err, domain.KindPoolNotFound)
	}
	pool, err = ledger.PoolFromState(st)
	if err != nil {
		return nil, domain.E(domain.KindPoolNotFound, op, err)
	}
	if err := s.registry.PutPool(ctx, pool); err != nil && !isStale(err) {
		return nil, domain.E(domain.KindStorageUnavailable, op, err)
	}
	s.opts.publishPool(ctx, op, pool)
	return pool, nil
}
