package onchain

import (
	"context"
	"fmt"

	"github.com/fardream/go-bcs/bcs"
	"github.com/pattonkan/sui-go/sui"
	"github.com/pattonkan/sui-go/sui/suiptb"
	"github.com/pattonkan/sui-go/suiclient"
	"github.com/shopspring/decimal"

	"github.com/leafsii/launchpad/internal/ledger"
)

// txBuilder accumulates Move calls for one programmable transaction. Shared
// objects are resolved once per transaction.
type txBuilder struct {
	l      *Ledger
	ptb    *suiptb.ProgrammableTransactionBuilder
	shared map[string]suiptb.Argument
	pools  map[string]*MovePool
}

// Build resolves every object the instructions touch and encodes them as one
// programmable transaction paid from the sender's first SUI coin.
func (l *Ledger) Build(ctx context.Context, sender string, instructions ...ledger.Instruction) (*ledger.Transaction, error) {
	if len(instructions) == 0 {
		return nil, fmt.Errorf("%w: no instructions", ledger.ErrRejected)
	}
	senderAddr, err := sui.AddressFromHex(sender)
	if err != nil {
		return nil, fmt.Errorf("%w: sender %s: %v", ledger.ErrRejected, sender, err)
	}

	b := &txBuilder{
		l:      l,
		ptb:    suiptb.NewTransactionDataTransactionBuilder(),
		shared: make(map[string]suiptb.Argument),
		pools:  make(map[string]*MovePool),
	}
	for i, ins := range instructions {
		if err := b.add(ctx, ins); err != nil {
			return nil, fmt.Errorf("instruction %d (%s): %w", i, ins.Op(), err)
		}
	}

	coins, err := l.client.GetCoins(ctx, &suiclient.GetCoinsRequest{Owner: senderAddr})
	if err != nil {
		return nil, readError("gas coins", err)
	}
	if len(coins.Data) == 0 {
		return nil, fmt.Errorf("%w: %w; fund %s", ledger.ErrRejected, errNoGas, sender)
	}

	tx := suiptb.NewTransactionData(
		senderAddr,
		b.ptb.Finish(),
		[]*sui.ObjectRef{coins.Data[0].Ref()},
		l.gasBudget,
		suiclient.DefaultGasPrice,
	)
	txBytes, err := bcs.Marshal(tx)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal transaction: %v", ledger.ErrRejected, err)
	}

	return &ledger.Transaction{
		Sender:       sender,
		Instructions: instructions,
		Payload:      txBytes,
	}, nil
}

func (b *txBuilder) call(module, function string, args ...suiptb.Argument) {
	b.ptb.Command(suiptb.Command{
		MoveCall: &suiptb.ProgrammableMoveCall{
			Package:   b.l.packageID,
			Module:    module,
			Function:  function,
			Arguments: args,
		},
	})
}

// object returns the mutable shared-object argument for address.
func (b *txBuilder) object(ctx context.Context, address string) (suiptb.Argument, error) {
	if arg, ok := b.shared[address]; ok {
		return arg, nil
	}
	_, ref, err := b.l.readShared(ctx, address)
	if err != nil {
		return suiptb.Argument{}, err
	}
	arg := b.sharedArg(ref, true)
	b.shared[address] = arg
	return arg, nil
}

func (b *txBuilder) sharedArg(ref *sui.ObjectRef, mutable bool) suiptb.Argument {
	return b.ptb.MustObj(suiptb.ObjectArg{
		SharedObject: &suiptb.SharedObjectArg{
			Id:                   ref.ObjectId,
			InitialSharedVersion: ref.Version,
			Mutable:              mutable,
		},
	})
}

func (b *txBuilder) clock() suiptb.Argument {
	if arg, ok := b.shared[clockObjectID]; ok {
		return arg
	}
	arg := b.ptb.MustObj(suiptb.ObjectArg{
		SharedObject: &suiptb.SharedObjectArg{
			Id:                   sui.MustObjectIdFromHex(clockObjectID),
			InitialSharedVersion: 1,
			Mutable:              false,
		},
	})
	b.shared[clockObjectID] = arg
	return arg
}

func (b *txBuilder) pool(ctx context.Context, id string) (*MovePool, error) {
	if p, ok := b.pools[id]; ok {
		return p, nil
	}
	p, ref, err := b.l.readPool(ctx, id)
	if err != nil {
		return nil, err
	}
	b.pools[id] = p
	if _, ok := b.shared[id]; !ok {
		b.shared[id] = b.sharedArg(ref, true)
	}
	return p, nil
}

func address(s string) (sui.Address, error) {
	a, err := sui.AddressFromHex(s)
	if err != nil {
		return sui.Address{}, fmt.Errorf("%w: address %s: %v", ledger.ErrRejected, s, err)
	}
	return *a, nil
}

func (b *txBuilder) add(ctx context.Context, ins ledger.Instruction) error {
	switch in := ins.(type) {
	case ledger.CreateAsset:
		authority, err := address(in.Authority)
		if err != nil {
			return err
		}
		b.call(moduleAsset, fnCreateAsset,
			b.ptb.MustPure(in.Name),
			b.ptb.MustPure(in.Symbol),
			b.ptb.MustPure(in.Decimals),
			b.ptb.MustPure(authority),
			b.ptb.MustPure(in.Freeze),
			b.ptb.MustPure(in.MetadataURI),
			b.clock(),
		)

	case ledger.CreateHolding:
		owner, err := address(in.Owner)
		if err != nil {
			return err
		}
		asset, err := b.object(ctx, in.Asset)
		if err != nil {
			return err
		}
		b.call(moduleAsset, fnCreateHolding, asset, b.ptb.MustPure(owner))

	case ledger.MintTo:
		owner, err := address(in.Owner)
		if err != nil {
			return err
		}
		amount, err := toU64(in.Amount)
		if err != nil {
			return err
		}
		asset, err := b.object(ctx, in.Asset)
		if err != nil {
			return err
		}
		b.call(moduleAsset, fnMintTo, asset, b.ptb.MustPure(owner), b.ptb.MustPure(amount))

	case ledger.RevokeAuthority:
		code, ok := authorityCodes[in.Kind]
		if !ok {
			return fmt.Errorf("%w: unknown authority %q", ledger.ErrRejected, in.Kind)
		}
		asset, err := b.object(ctx, in.Asset)
		if err != nil {
			return err
		}
		b.call(moduleAsset, fnRevokeAuthority, asset, b.ptb.MustPure(code))

	case ledger.SetMetadataURI:
		asset, err := b.object(ctx, in.Asset)
		if err != nil {
			return err
		}
		b.call(moduleAsset, fnSetMetadataURI, asset, b.ptb.MustPure(in.URI))

	case ledger.CreatePool:
		baseAmount, err := toU64(in.BaseAmount)
		if err != nil {
			return err
		}
		quoteAmount, err := toU64(in.QuoteAmount)
		if err != nil {
			return err
		}
		base, err := b.object(ctx, in.BaseAsset)
		if err != nil {
			return err
		}
		quote, err := b.object(ctx, in.QuoteAsset)
		if err != nil {
			return err
		}
		b.call(moduleAMM, fnCreatePool,
			base,
			quote,
			b.ptb.MustPure(baseAmount),
			b.ptb.MustPure(quoteAmount),
			b.ptb.MustPure(timeToMs(in.StartTime)),
			b.clock(),
		)

	case ledger.AddLiquidity:
		return b.liquidity(ctx, fnAddLiquidity, in.Pool, in.BaseDelta, in.QuoteDelta)

	case ledger.RemoveLiquidity:
		return b.liquidity(ctx, fnRemoveLiquidity, in.Pool, in.BaseDelta, in.QuoteDelta)

	default:
		return fmt.Errorf("%w: unsupported instruction %T", ledger.ErrRejected, ins)
	}
	return nil
}

// liquidity calls amm::{add,remove}_liquidity(pool, base, quote, base_delta, quote_delta, clock).
func (b *txBuilder) liquidity(ctx context.Context, function, poolID string, baseDelta, quoteDelta decimal.Decimal) error {
	bd, err := toU64(baseDelta)
	if err != nil {
		return err
	}
	qd, err := toU64(quoteDelta)
	if err != nil {
		return err
	}
	p, err := b.pool(ctx, poolID)
	if err != nil {
		return err
	}
	poolArg, err := b.object(ctx, poolID)
	if err != nil {
		return err
	}
	base, err := b.object(ctx, objectString(p.BaseAsset))
	if err != nil {
		return err
	}
	quote, err := b.object(ctx, objectString(p.QuoteAsset))
	if err != nil {
		return err
	}
	b.call(moduleAMM, function, poolArg, base, quote, b.ptb.MustPure(bd), b.ptb.MustPure(qd), b.clock())
	return nil
}
