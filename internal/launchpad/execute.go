package launchpad

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/leafsii/launchpad/internal/domain"
	"github.com/leafsii/launchpad/internal/ledger"
	"github.com/leafsii/launchpad/internal/registry"
)

// execute builds, signs and submits one transaction. Failures before
// submission mean nothing reached the ledger. Once Submit has been called, a
// timeout or cancellation is reported as KindUnknown and nothing is undone.
func (o *options) execute(ctx context.Context, client ledger.Client, signer ledger.Signer, op, step string, instructions ...ledger.Instruction) (*ledger.Receipt, error) {
	fail := func(kind domain.Kind, cause error) error {
		return &domain.Error{Kind: kind, Op: op, Step: step, Cause: cause}
	}

	tx, err := client.Build(ctx, signer.Address(), instructions...)
	if err != nil {
		return nil, fail(classifyUnsubmitted(err), fmt.Errorf("build transaction: %w", err))
	}

	stx, err := signer.Sign(ctx, tx)
	if err != nil {
		kind := domain.KindSignerRejected
		switch {
		case errors.Is(err, ledger.ErrNotConnected):
			kind = domain.KindSignerNotConnected
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			kind = domain.KindLedgerUnavailable
		}
		return nil, fail(kind, fmt.Errorf("sign transaction: %w", err))
	}

	submitCtx, cancel := context.WithTimeout(ctx, o.confirmTimeout)
	defer cancel()

	start := o.now()
	receipt, err := client.Submit(submitCtx, stx)
	elapsed := o.now().Sub(start)
	if err != nil {
		kind := classifySubmitted(err)
		o.metrics.RecordSubmission(ctx, step, string(kind), elapsed)
		return nil, fail(kind, fmt.Errorf("submit transaction: %w", err))
	}
	o.metrics.RecordSubmission(ctx, step, "confirmed", elapsed)

	o.logger.Infow("Ledger transaction confirmed",
		"op", op,
		"step", step,
		"confirmation", receipt.ConfirmationID,
		"instructions", len(instructions),
	)
	return receipt, nil
}

// classifyUnsubmitted maps errors raised before the transaction was sent.
func classifyUnsubmitted(err error) domain.Kind {
	if errors.Is(err, ledger.ErrRejected) {
		return domain.KindLedgerRejected
	}
	return domain.KindLedgerUnavailable
}

// classifySubmitted maps errors raised by Submit, where the transaction may have landed.
func classifySubmitted(err error) domain.Kind {
	switch {
	case errors.Is(err, ledger.ErrRejected):
		return domain.KindLedgerRejected
	case errors.Is(err, ledger.ErrUnavailable):
		return domain.KindLedgerUnavailable
	default:
		return domain.KindUnknown
	}
}

// readError classifies a ledger read failure.
func readError(op string, err error, notFound domain.Kind) error {
	if errors.Is(err, ledger.ErrNotFound) {
		return domain.E(notFound, op, err)
	}
	return domain.E(domain.KindLedgerUnavailable, op, err)
}

// partial wraps a failure that happened after address was created on the ledger.
func partial(kind domain.Kind, op, address string, err error) error {
	step := domain.StepOf(err)
	if step == "" {
		step = StepRecord
	}
	return &domain.Error{Kind: kind, Op: op, Step: step, Address: address, Cause: err}
}

// recordAsset re-reads the asset from the ledger and writes it to the registry.
// The ledger mutation already succeeded, so any failure is PartiallyExecuted.
func (o *options) recordAsset(ctx context.Context, client ledger.Client, reg Registry, op, address string) (*domain.Asset, error) {
	st, err := client.AccountState(ctx, address)
	if err != nil {
		return nil, partial(domain.KindPartiallyExecuted, op, address, fmt.Errorf("read asset: %w", err))
	}
	asset, err := ledger.AssetFromState(st)
	if err != nil {
		return nil, partial(domain.KindPartiallyExecuted, op, address, fmt.Errorf("decode asset: %w", err))
	}
	if err := reg.PutAsset(ctx, asset); err != nil {
		if !isStale(err) {
			return nil, partial(domain.KindPartiallyExecuted, op, address, fmt.Errorf("record asset: %w", err))
		}
		o.logger.Debugw("Registry already holds a newer asset state", "address", address, "version", asset.Version)
	}
	o.publishAsset(ctx, op, asset)
	return asset, nil
}

// recordPool re-reads the pool from the ledger and writes it to the registry.
func (o *options) recordPool(ctx context.Context, client ledger.Client, reg Registry, op, id string) (*domain.LiquidityPool, error) {
	st, err := client.AccountState(ctx, id)
	if err != nil {
		return nil, partial(domain.KindPartiallyExecuted, op, id, fmt.Errorf("read pool: %w", err))
	}
	pool, err := ledger.PoolFromState(st)
	if err != nil {
		return nil, partial(domain.KindPartiallyExecuted, op, id, fmt.Errorf("decode pool: %w", err))
	}
	if err := reg.PutPool(ctx, pool); err != nil {
		if !isStale(err) {
			return nil, partial(domain.KindPartiallyExecuted, op, id, fmt.Errorf("record pool: %w", err))
		}
		o.logger.Debugw("Registry already holds a newer pool state", "pool", id, "version", pool.Version)
	}
	o.publishPool(ctx, op, pool)
	return pool, nil
}

func isStale(err error) bool {
	return errors.Is(err, registry.ErrStaleVersion)
}

// upload stores metadata as JSON and returns its URI. Attached image bytes
// are stored first and referenced from Image.
func (o *options) upload(ctx context.Context, op string, meta domain.Metadata) (string, error) {
	if len(meta.ImageData) > domain.MaxImageBytes {
		return "", &domain.Error{Kind: domain.KindInvalidParameters, Op: op, Step: StepUploadImage, Cause: fmt.Errorf("image is %d bytes (max %d)", len(meta.ImageData), domain.MaxImageBytes)}
	}
	if o.blobs == nil {
		return "", &domain.Error{Kind: domain.KindStorageUnavailable, Op: op, Step: StepUpload, Cause: errors.New("no blob store configured")}
	}
	if len(meta.ImageData) > 0 {
		uri, err := o.blobs.Upload(ctx, meta.ImageData)
		if err != nil {
			return "", &domain.Error{Kind: domain.KindStorageUnavailable, Op: op, Step: StepUploadImage, Cause: err}
		}
		o.logger.Debugw("Token image uploaded", "uri", uri, "bytes", len(meta.ImageData))
		meta.Image = uri
		meta.ImageData = nil
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return "", &domain.Error{Kind: domain.KindInvalidParameters, Op: op, Step: StepUpload, Cause: err}
	}
	uri, err := o.blobs.Upload(ctx, data)
	if err != nil {
		return "", &domain.Error{Kind: domain.KindStorageUnavailable, Op: op, Step: StepUpload, Cause: err}
	}
	return uri, nil
}
