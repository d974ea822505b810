// Package launchpad sequences the ledger operations that issue assets, revoke
// their authorities, and create and fund liquidity pools.
//
// The services hold no locks across operations. Correctness under
// concurrency comes from re-reading ledger state after every mutation and
// from version-checked registry writes. Two operations on the same asset or
// pool must still be serialized by the caller when a read-verify-then-submit
// check has to hold (for example the reserve check before a removal); the
// HTTP layer in internal/api does this with a per-entity lock.
//
// Operations never retry. Every failure is a *domain.Error whose Kind tells
// the caller what is safe to do next, and whose Step and Address identify
// what already happened on the ledger.
package launchpad

import (
	"context"
	"errors"
	"iter"
	"time"

	"go.uber.org/zap"

	"github.com/leafsii/launchpad/internal/blob"
	"github.com/leafsii/launchpad/internal/domain"
	"github.com/leafsii/launchpad/internal/registry"
)

const DefaultConfirmTimeout = 60 * time.Second

// Step names reported on partial failures.
const (
	StepUploadImage     = "upload_image"
	StepUpload          = "upload_metadata"
	StepAllocate        = "allocate_asset"
	StepMintSupply      = "mint_supply"
	StepRevoke          = "revoke_authority"
	StepSetMetadata     = "set_metadata_uri"
	StepCreatePool      = "create_pool"
	StepAddLiquidity    = "add_liquidity"
	StepRemoveLiquidity = "remove_liquidity"
	StepRecord          = "record"
)

// Registry is the subset of *registry.Registry the services use.
type Registry interface {
	PutAsset(ctx context.Context, asset *domain.Asset) error
	Asset(ctx context.Context, address string) (*domain.Asset, error)
	PutPool(ctx context.Context, pool *domain.LiquidityPool) error
	Pool(ctx context.Context, id string) (*domain.LiquidityPool, error)
	PoolsForAsset(ctx context.Context, asset string, order registry.Order) iter.Seq2[*domain.LiquidityPool, error]
	AssetsByCreator(ctx context.Context, creator string) iter.Seq2[*domain.Asset, error]
}

// Recorder receives operation and submission outcomes. *metrics.Metrics implements it.
type Recorder interface {
	RecordSubmission(ctx context.Context, step, outcome string, duration time.Duration)
	RecordOperation(ctx context.Context, op, kind string)
	OperationStarted(ctx context.Context, op string)
	OperationFinished(ctx context.Context, op string)
}

type nopRecorder struct{}

func (nopRecorder) RecordSubmission(context.Context, string, string, time.Duration) {}
func (nopRecorder) RecordOperation(context.Context, string, string)                 {}
func (nopRecorder) OperationStarted(context.Context, string)                        {}
func (nopRecorder) OperationFinished(context.Context, string)                       {}

type options struct {
	logger         *zap.SugaredLogger
	metrics        Recorder
	now            func() time.Time
	confirmTimeout time.Duration
	blobs          blob.Store
	events         Publisher
}

type Option func(*options)

func WithLogger(logger *zap.SugaredLogger) Option {
	return func(o *options) { o.logger = logger }
}

func WithMetrics(m Recorder) Option {
	return func(o *options) { o.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithConfirmTimeout bounds how long a submission waits for confirmation.
func WithConfirmTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.confirmTimeout = d
		}
	}
}

// WithBlobStore sets where asset metadata is uploaded.
func WithBlobStore(store blob.Store) Option {
	return func(o *options) { o.blobs = store }
}

func newOptions(opts []Option) options {
	o := options{
		logger:         zap.NewNop().Sugar(),
		metrics:        nopRecorder{},
		now:            time.Now,
		confirmTimeout: DefaultConfirmTimeout,
		events:         nopPublisher{},
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// begin marks an operation in flight; the returned func records its outcome.
func (o *options) begin(ctx context.Context, op string) func(err error) {
	o.metrics.OperationStarted(ctx, op)
	return func(err error) {
		o.metrics.OperationFinished(ctx, op)
		if err == nil {
			o.metrics.RecordOperation(ctx, op, "")
			return
		}
		kind := domain.KindOf(err)
		o.metrics.RecordOperation(ctx, op, string(kind))
		o.logger.Warnw("Launchpad operation failed",
			"op", op,
			"kind", kind,
			"step", domain.StepOf(err),
			"address", domain.AddressOf(err),
			"error", err,
		)
	}
}

// registryError classifies a registry read failure.
func registryError(op string, err error, notFound domain.Kind) error {
	if errors.Is(err, registry.ErrNotFound) {
		return domain.E(notFound, op, err)
	}
	return domain.E(domain.KindStorageUnavailable, op, err)
}
