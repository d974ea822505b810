package onchain

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/pattonkan/sui-go/sui"
	"github.com/shopspring/decimal"

	"github.com/leafsii/launchpad/internal/domain"
	"github.com/leafsii/launchpad/internal/ledger"
)

// Move modules and entry functions of the launchpad package.
const (
	moduleAsset = "asset"
	moduleAMM   = "amm"

	structAsset   = "Asset"
	structHolding = "Holding"
	structPool    = "Pool"

	fnCreateAsset     = "create"
	fnCreateHolding   = "create_holding"
	fnMintTo          = "mint_to"
	fnRevokeAuthority = "revoke_authority"
	fnSetMetadataURI  = "set_metadata_uri"
	fnCreatePool      = "create_pool"
	fnAddLiquidity    = "add_liquidity"
	fnRemoveLiquidity = "remove_liquidity"
)

// clockObjectID is the shared system clock.
const clockObjectID = "0x6"

// Authority codes understood by asset::revoke_authority.
var authorityCodes = map[domain.AuthorityKind]uint8{
	domain.AuthorityMint:   0,
	domain.AuthorityFreeze: 1,
	domain.AuthorityUpdate: 2,
}

// MoveAsset mirrors launchpad::asset::Asset.
type MoveAsset struct {
	Id           *sui.ObjectId
	Name         string
	Symbol       string
	Decimals     uint8
	Supply       uint64
	Creator      *sui.Address
	CreatedAtMs  uint64
	MetadataUri  string
	Authority    *sui.Address
	MintActive   bool
	FreezeActive bool
	UpdateActive bool
	Holdings     []MoveHoldingRef
}

// MoveHoldingRef is one entry of an asset's holder index.
type MoveHoldingRef struct {
	Owner   *sui.Address
	Holding *sui.ObjectId
}

// MovePool mirrors launchpad::amm::Pool. StartTimeMs is zero when the pool
// has no scheduled start.
type MovePool struct {
	Id           *sui.ObjectId
	BaseAsset    *sui.ObjectId
	QuoteAsset   *sui.ObjectId
	BaseReserve  uint64
	QuoteReserve uint64
	CreatedAtMs  uint64
	StartTimeMs  uint64
}

func (a *MoveAsset) state() *ledger.AssetState {
	st := &ledger.AssetState{
		Name:        a.Name,
		Symbol:      a.Symbol,
		Decimals:    a.Decimals,
		Supply:      decimal.NewFromBigInt(new(big.Int).SetUint64(a.Supply), 0),
		Creator:     addressString(a.Creator),
		CreatedAt:   msToTime(a.CreatedAtMs),
		MetadataURI: a.MetadataUri,
	}
	authority := addressString(a.Authority)
	if a.MintActive {
		st.MintAuthority = authority
	}
	if a.FreezeActive {
		st.FreezeAuthority = authority
	}
	if a.UpdateActive {
		st.UpdateAuthority = authority
	}
	return st
}

// holdingOf returns the holding object of owner, or nil.
func (a *MoveAsset) holdingOf(owner *sui.Address) *sui.ObjectId {
	if owner == nil {
		return nil
	}
	for _, h := range a.Holdings {
		if h.Owner != nil && *h.Owner == *owner {
			return h.Holding
		}
	}
	return nil
}

func (p *MovePool) state() *ledger.PoolState {
	st := &ledger.PoolState{
		BaseAsset:    objectString(p.BaseAsset),
		QuoteAsset:   objectString(p.QuoteAsset),
		BaseReserve:  decimal.NewFromBigInt(new(big.Int).SetUint64(p.BaseReserve), 0),
		QuoteReserve: decimal.NewFromBigInt(new(big.Int).SetUint64(p.QuoteReserve), 0),
		CreatedAt:    msToTime(p.CreatedAtMs),
	}
	if p.StartTimeMs > 0 {
		t := msToTime(p.StartTimeMs)
		st.StartTime = &t
	}
	return st
}

var errAmountRange = errors.New("amount does not fit in u64")

// toU64 converts an integer amount of base units to a Move u64.
func toU64(amount decimal.Decimal) (uint64, error) {
	if amount.IsNegative() || !amount.Equal(amount.Truncate(0)) {
		return 0, fmt.Errorf("%w: %s is not a non-negative integer", ledger.ErrRejected, amount)
	}
	b := amount.BigInt()
	if !b.IsUint64() {
		return 0, fmt.Errorf("%w: %w: %s", ledger.ErrRejected, errAmountRange, amount)
	}
	return b.Uint64(), nil
}

func msToTime(ms uint64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(int64(ms)).UTC()
}

func timeToMs(t *time.Time) uint64 {
	if t == nil || t.IsZero() || t.UnixMilli() <= 0 {
		return 0
	}
	return uint64(t.UnixMilli())
}

func addressString(a *sui.Address) string {
	if a == nil {
		return ""
	}
	return a.String()
}

func objectString(id *sui.ObjectId) string {
	if id == nil {
		return ""
	}
	return id.String()
}

// createdKind maps a created object's Move type to the receipt kind, if it is
// one of the launchpad's own objects.
func createdKind(objectType string) (ledger.ObjectKind, bool) {
	resource, err := sui.NewResourceType(objectType)
	if err != nil {
		return "", false
	}
	switch {
	case resource.Contains(nil, moduleAsset, structAsset):
		return ledger.ObjectAsset, true
	case resource.Contains(nil, moduleAsset, structHolding):
		return ledger.ObjectHolding, true
	case resource.Contains(nil, moduleAMM, structPool):
		return ledger.ObjectPool, true
	default:
		return "", false
	}
}
