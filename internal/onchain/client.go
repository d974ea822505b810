// Package onchain drives the launchpad Move package on Sui. Ledger implements
// ledger.Client: it encodes launchpad instructions as programmable
// transactions, submits them, and decodes Asset and Pool objects from BCS.
package onchain

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/fardream/go-bcs/bcs"
	"github.com/pattonkan/sui-go/sui"
	"github.com/pattonkan/sui-go/suiclient"
	"github.com/pattonkan/sui-go/suisigner"
	"go.uber.org/zap"

	"github.com/leafsii/launchpad/internal/ledger"
)

type Ledger struct {
	client    *suiclient.ClientImpl
	packageID *sui.PackageId
	gasBudget uint64
	logger    *zap.SugaredLogger
}

type Option func(*Ledger)

func WithLogger(logger *zap.SugaredLogger) Option {
	return func(l *Ledger) { l.logger = logger }
}

// WithGasBudget overrides the per-transaction gas budget.
func WithGasBudget(budget uint64) Option {
	return func(l *Ledger) {
		if budget > 0 {
			l.gasBudget = budget
		}
	}
}

func NewLedger(rpcURL, packageID string, opts ...Option) (*Ledger, error) {
	pkg, err := sui.PackageIdFromHex(packageID)
	if err != nil {
		return nil, fmt.Errorf("parse launchpad package id: %w", err)
	}
	l := &Ledger{
		client:    suiclient.NewClient(rpcURL),
		packageID: pkg,
		gasBudget: 10 * suiclient.DefaultGasBudget,
		logger:    zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

var _ ledger.Client = (*Ledger)(nil)

func (l *Ledger) Submit(ctx context.Context, stx *ledger.SignedTransaction) (*ledger.Receipt, error) {
	if stx == nil || stx.Tx == nil {
		return nil, fmt.Errorf("%w: empty transaction", ledger.ErrRejected)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ledger.ErrUnavailable, err)
	}

	sig := &suisigner.Signature{Ed25519SuiSignature: &suisigner.Ed25519SuiSignature{}}
	if len(stx.Signature) != len(sig.Ed25519SuiSignature.Signature) {
		return nil, fmt.Errorf("%w: signature is %d bytes, want %d", ledger.ErrRejected, len(stx.Signature), len(sig.Ed25519SuiSignature.Signature))
	}
	copy(sig.Ed25519SuiSignature.Signature[:], stx.Signature)

	resp, err := l.client.ExecuteTransactionBlock(ctx, &suiclient.ExecuteTransactionBlockRequest{
		TxDataBytes: stx.Tx.Payload,
		Signatures:  []*suisigner.Signature{sig},
		Options: &suiclient.SuiTransactionBlockResponseOptions{
			ShowEffects:       true,
			ShowObjectChanges: true,
		},
		RequestType: suiclient.TxnRequestTypeWaitForLocalExecution,
	})
	if err != nil {
		return nil, classifyExecuteError(ctx, err)
	}
	if resp == nil || resp.Effects == nil {
		return nil, fmt.Errorf("%w: response carried no effects", ledger.ErrConfirmationTimeout)
	}
	if !resp.Effects.Data.IsSuccess() {
		return nil, fmt.Errorf("%w: transaction %s failed: %v", ledger.ErrRejected, resp.Digest.String(), resp.Errors)
	}

	receipt := &ledger.Receipt{
		ConfirmationID: resp.Digest.String(),
		Created:        make(map[ledger.ObjectKind]string),
	}
	for _, change := range resp.ObjectChanges {
		if change.Data.Created == nil {
			continue
		}
		if kind, ok := createdKind(string(change.Data.Created.ObjectType)); ok {
			receipt.Created[kind] = change.Data.Created.ObjectId.String()
		}
	}

	l.logger.Debugw("Sui transaction executed",
		"digest", receipt.ConfirmationID,
		"created", receipt.Created,
	)
	return receipt, nil
}

// classifyExecuteError separates failures where the request never left
// from those where the transaction may have been accepted.
func classifyExecuteError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%w: %v", ledger.ErrConfirmationTimeout, ctxErr)
	}
	if isConnectionError(err) {
		return fmt.Errorf("%w: %v", ledger.ErrUnavailable, err)
	}
	return fmt.Errorf("%w: %v", ledger.ErrConfirmationTimeout, err)
}

func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, s := range []string{"connection refused", "no such host", "connection reset", "network is unreachable"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// readError wraps a failed RPC read.
func readError(what string, err error) error {
	return fmt.Errorf("%w: read %s: %v", ledger.ErrUnavailable, what, err)
}

func (l *Ledger) AccountState(ctx context.Context, address string) (*ledger.AccountState, error) {
	id, err := sui.ObjectIdFromHex(address)
	if err != nil {
		return nil, fmt.Errorf("%w: %s is not an object id: %v", ledger.ErrNotFound, address, err)
	}
	resp, err := l.client.GetObject(ctx, &suiclient.GetObjectRequest{
		ObjectId: id,
		Options: &suiclient.SuiObjectDataOptions{
			ShowType:  true,
			ShowBcs:   true,
			ShowOwner: true,
		},
	})
	if err != nil {
		return nil, readError(address, err)
	}
	if resp == nil || resp.Data == nil || resp.Data.Type == nil {
		return nil, fmt.Errorf("%w: %s", ledger.ErrNotFound, address)
	}
	if resp.Data.Bcs == nil || resp.Data.Bcs.Data.MoveObject == nil {
		return nil, fmt.Errorf("%w: %s is not a move object", ledger.ErrNotFound, address)
	}

	st := &ledger.AccountState{
		Address: address,
		Version: uint64(resp.Data.Ref().Version),
	}
	kind, _ := createdKind(string(*resp.Data.Type))
	raw := resp.Data.Bcs.Data.MoveObject.BcsBytes
	switch kind {
	case ledger.ObjectAsset:
		var a MoveAsset
		if _, err := bcs.Unmarshal(raw, &a); err != nil {
			return nil, fmt.Errorf("unmarshal asset %s: %w", address, err)
		}
		st.Asset = a.state()
	case ledger.ObjectPool:
		var p MovePool
		if _, err := bcs.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("unmarshal pool %s: %w", address, err)
		}
		st.Pool = p.state()
	default:
		return nil, fmt.Errorf("%w: %s has type %s", ledger.ErrNotFound, address, string(*resp.Data.Type))
	}
	return st, nil
}

func (l *Ledger) FindHolding(ctx context.Context, asset, owner string) (string, error) {
	ownerAddr, err := sui.AddressFromHex(owner)
	if err != nil {
		return "", fmt.Errorf("%w: owner %s: %v", ledger.ErrRejected, owner, err)
	}
	a, _, err := l.readAsset(ctx, asset)
	if err != nil {
		return "", err
	}
	holding := a.holdingOf(ownerAddr)
	if holding == nil {
		return "", ledger.ErrNotFound
	}
	return holding.String(), nil
}

// readAsset fetches and decodes an asset together with its shared-object reference.
func (l *Ledger) readAsset(ctx context.Context, address string) (*MoveAsset, *sui.ObjectRef, error) {
	raw, ref, err := l.readShared(ctx, address)
	if err != nil {
		return nil, nil, err
	}
	var a MoveAsset
	if _, err := bcs.Unmarshal(raw, &a); err != nil {
		return nil, nil, fmt.Errorf("unmarshal asset %s: %w", address, err)
	}
	return &a, ref, nil
}

func (l *Ledger) readPool(ctx context.Context, address string) (*MovePool, *sui.ObjectRef, error) {
	raw, ref, err := l.readShared(ctx, address)
	if err != nil {
		return nil, nil, err
	}
	var p MovePool
	if _, err := bcs.Unmarshal(raw, &p); err != nil {
		return nil, nil, fmt.Errorf("unmarshal pool %s: %w", address, err)
	}
	return &p, ref, nil
}

func (l *Ledger) readShared(ctx context.Context, address string) ([]byte, *sui.ObjectRef, error) {
	id, err := sui.ObjectIdFromHex(address)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %s is not an object id: %v", ledger.ErrNotFound, address, err)
	}
	resp, err := l.client.GetObject(ctx, &suiclient.GetObjectRequest{
		ObjectId: id,
		Options: &suiclient.SuiObjectDataOptions{
			ShowBcs:   true,
			ShowOwner: true,
		},
	})
	if err != nil {
		return nil, nil, readError(address, err)
	}
	if resp == nil || resp.Data == nil || resp.Data.Bcs == nil || resp.Data.Bcs.Data.MoveObject == nil {
		return nil, nil, fmt.Errorf("%w: %s", ledger.ErrNotFound, address)
	}
	return resp.Data.Bcs.Data.MoveObject.BcsBytes, resp.Data.RefSharedObject(), nil
}

var errNoGas = errors.New("no SUI coins available for gas")
