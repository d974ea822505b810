// Package ledger defines the boundary between the launchpad services and the
// ledger they drive: the instructions they can request, the transaction and
// receipt shapes, and the read-only state views used to re-read entities.
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/leafsii/launchpad/internal/domain"
)

var (
	// ErrUnavailable means the transaction never reached the ledger.
	ErrUnavailable = errors.New("ledger unavailable")
	// ErrRejected means the ledger refused the transaction. Nothing was applied.
	ErrRejected = errors.New("ledger rejected transaction")
	ErrNotFound = errors.New("ledger object not found")
	// ErrConfirmationTimeout means the transaction was submitted but its outcome is unknown.
	ErrConfirmationTimeout = errors.New("ledger confirmation timed out")

	ErrSignerRejected = errors.New("signer rejected transaction")
	ErrNotConnected   = errors.New("signer not connected")
)

// Instruction is one operation inside a ledger transaction.
type Instruction interface {
	Op() string
}

// CreateAsset allocates a new asset with Authority as mint and update authority.
type CreateAsset struct {
	Name        string
	Symbol      string
	Decimals    uint8
	Authority   string
	Freeze      bool
	MetadataURI string
}

// CreateHolding opens the account that holds Owner's balance of Asset.
type CreateHolding struct {
	Asset string
	Owner string
}

// MintTo credits Amount base units to Owner's holding of Asset.
type MintTo struct {
	Asset  string
	Owner  string
	Amount decimal.Decimal
}

type RevokeAuthority struct {
	Asset string
	Kind  domain.AuthorityKind
}

type SetMetadataURI struct {
	Asset string
	URI   string
}

// CreatePool allocates a pool and funds both reserves from the sender's holdings.
type CreatePool struct {
	BaseAsset   string
	QuoteAsset  string
	BaseAmount  decimal.Decimal
	QuoteAmount decimal.Decimal
	StartTime   *time.Time
}

type AddLiquidity struct {
	Pool       string
	BaseDelta  decimal.Decimal
	QuoteDelta decimal.Decimal
}

type RemoveLiquidity struct {
	Pool       string
	BaseDelta  decimal.Decimal
	QuoteDelta decimal.Decimal
}

func (CreateAsset) Op() string     { return "create_asset" }
func (CreateHolding) Op() string   { return "create_holding" }
func (MintTo) Op() string          { return "mint_to" }
func (RevokeAuthority) Op() string { return "revoke_authority" }
func (SetMetadataURI) Op() string  { return "set_metadata_uri" }
func (CreatePool) Op() string      { return "create_pool" }
func (AddLiquidity) Op() string    { return "add_liquidity" }
func (RemoveLiquidity) Op() string { return "remove_liquidity" }

// Transaction is an unsigned, ledger-encoded batch of instructions.
// Instructions in one transaction are applied atomically.
type Transaction struct {
	Sender       string
	Instructions []Instruction
	Payload      []byte // bytes the signer signs
}

type SignedTransaction struct {
	Tx        *Transaction
	Signature []byte
}

// ObjectKind tags objects created by a confirmed transaction.
type ObjectKind string

const (
	ObjectAsset   ObjectKind = "asset"
	ObjectHolding ObjectKind = "holding"
	ObjectPool    ObjectKind = "pool"
)

// Receipt is the confirmation of an applied transaction.
type Receipt struct {
	ConfirmationID string
	Created        map[ObjectKind]string
}

// AssetState is the ledger's view of an asset. Authorities are empty once revoked.
type AssetState struct {
	Name            string
	Symbol          string
	Decimals        uint8
	Supply          decimal.Decimal
	Creator         string
	CreatedAt       time.Time
	MetadataURI     string
	MintAuthority   string
	FreezeAuthority string
	UpdateAuthority string
}

type PoolState struct {
	BaseAsset    string
	QuoteAsset   string
	BaseReserve  decimal.Decimal
	QuoteReserve decimal.Decimal
	CreatedAt    time.Time
	StartTime    *time.Time
}

// AccountState is a versioned read of one ledger object. Exactly one of Asset
// and Pool is set for the objects the launchpad reads.
type AccountState struct {
	Address string
	Version uint64
	Asset   *AssetState
	Pool    *PoolState
}

// Client submits transactions and answers read-only state queries.
//
// Submit blocks until the transaction is confirmed. It returns ErrUnavailable
// when the transaction did not reach the ledger, ErrRejected when it was
// refused, and ErrConfirmationTimeout (or the context error) when it was sent
// but no confirmation arrived.
type Client interface {
	Build(ctx context.Context, sender string, instructions ...Instruction) (*Transaction, error)
	Submit(ctx context.Context, tx *SignedTransaction) (*Receipt, error)
	AccountState(ctx context.Context, address string) (*AccountState, error)
	// FindHolding returns the holding address of owner for asset, or ErrNotFound.
	FindHolding(ctx context.Context, asset, owner string) (string, error)
}

// Signer holds key material and signs transactions.
type Signer interface {
	Address() string
	Sign(ctx context.Context, tx *Transaction) (*SignedTransaction, error)
}

// AssetFromState converts a ledger read into the domain asset.
func AssetFromState(st *AccountState) (*domain.Asset, error) {
	if st == nil || st.Asset == nil {
		return nil, ErrNotFound
	}
	a := st.Asset
	return &domain.Asset{
		Address:     st.Address,
		Name:        a.Name,
		Symbol:      a.Symbol,
		Decimals:    a.Decimals,
		Supply:      a.Supply,
		Creator:     a.Creator,
		CreatedAt:   a.CreatedAt,
		MetadataURI: a.MetadataURI,
		Authorities: domain.Authorities{
			Mint:   a.MintAuthority != "",
			Freeze: a.FreezeAuthority != "",
			Update: a.UpdateAuthority != "",
		},
		Version: st.Version,
	}, nil
}

// PoolFromState converts a ledger read into the domain pool.
func PoolFromState(st *AccountState) (*domain.LiquidityPool, error) {
	if st == nil || st.Pool == nil {
		return nil, ErrNotFound
	}
	p := st.Pool
	return &domain.LiquidityPool{
		ID:           st.Address,
		BaseAsset:    p.BaseAsset,
		QuoteAsset:   p.QuoteAsset,
		BaseReserve:  p.BaseReserve,
		QuoteReserve: p.QuoteReserve,
		CreatedAt:    p.CreatedAt,
		StartTime:    p.StartTime,
		Version:      st.Version,
	}, nil
}
