package domain

import (
	"fmt"
	"math"
	"math/big"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	MaxDecimals     = 9
	MaxSymbolLength = 8
	MaxImageBytes   = 512 << 10
)

// MaxBaseUnits is the largest amount the ledger stores: supplies, reserves
// and transfer amounts are u64 base units.
var MaxBaseUnits = decimal.NewFromBigInt(new(big.Int).SetUint64(math.MaxUint64), 0)

// AuthorityKind names one privileged capability over an asset.
type AuthorityKind string

const (
	AuthorityFreeze AuthorityKind = "freeze"
	AuthorityMint   AuthorityKind = "mint"
	AuthorityUpdate AuthorityKind = "update"
)

func ParseAuthorityKind(s string) (AuthorityKind, error) {
	switch AuthorityKind(strings.ToLower(strings.TrimSpace(s))) {
	case AuthorityFreeze:
		return AuthorityFreeze, nil
	case AuthorityMint:
		return AuthorityMint, nil
	case AuthorityUpdate:
		return AuthorityUpdate, nil
	default:
		return "", fmt.Errorf("unknown authority kind %q (must be freeze, mint, or update)", s)
	}
}

// Authorities holds the active flags of an asset. Each flag only ever goes from true to false.
type Authorities struct {
	Mint   bool `json:"mint"`
	Freeze bool `json:"freeze"`
	Update bool `json:"update"`
}

func (a Authorities) Active(kind AuthorityKind) bool {
	switch kind {
	case AuthorityMint:
		return a.Mint
	case AuthorityFreeze:
		return a.Freeze
	case AuthorityUpdate:
		return a.Update
	default:
		return false
	}
}

// Revoked returns a copy with kind cleared.
func (a Authorities) Revoked(kind AuthorityKind) Authorities {
	switch kind {
	case AuthorityMint:
		a.Mint = false
	case AuthorityFreeze:
		a.Freeze = false
	case AuthorityUpdate:
		a.Update = false
	}
	return a
}

// Asset is the last known state of a fungible asset.
type Asset struct {
	Address     string          `json:"address"`
	Name        string          `json:"name"`
	Symbol      string          `json:"symbol"`
	Decimals    uint8           `json:"decimals"`
	Supply      decimal.Decimal `json:"supply"` // base units, already scaled by 10^Decimals
	Creator     string          `json:"creator"`
	CreatedAt   time.Time       `json:"created_at"`
	MetadataURI string          `json:"metadata_uri,omitempty"`
	Authorities Authorities     `json:"authorities"`
	Version     uint64          `json:"version"`
}

// Metadata is the off-chain description of an asset, uploaded as JSON to the blob store.
type Metadata struct {
	Name        string `json:"name"`
	Symbol      string `json:"symbol"`
	Description string `json:"description,omitempty"`
	Image       string `json:"image,omitempty"`
	// ImageData is raw image bytes (base64 in JSON). The services upload it
	// to the blob store and replace it with Image before storing the metadata.
	ImageData []byte `json:"image_data,omitempty"`
	Website     string `json:"website,omitempty"`
	Twitter     string `json:"twitter,omitempty"`
	Telegram    string `json:"telegram,omitempty"`
	Decimals    uint8  `json:"decimals"`
	Supply      string `json:"supply,omitempty"`
}

// NormalizeSymbol trims and upper-cases a ticker symbol and checks its length.
func NormalizeSymbol(symbol string) (string, error) {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	if s == "" {
		return "", fmt.Errorf("symbol is required")
	}
	if n := len([]rune(s)); n > MaxSymbolLength {
		return "", fmt.Errorf("symbol %q is %d characters (max %d)", s, n, MaxSymbolLength)
	}
	return s, nil
}

// ScaleSupply converts a whole-token supply into base units.
func ScaleSupply(supply decimal.Decimal, decimals uint8) decimal.Decimal {
	return supply.Shift(int32(decimals))
}

// FitsBaseUnits reports whether d is a positive integer no larger than MaxBaseUnits.
func FitsBaseUnits(d decimal.Decimal) bool {
	return IsPositiveInteger(d) && d.LessThanOrEqual(MaxBaseUnits)
}

// IsPositiveInteger reports whether d is a whole number greater than zero.
func IsPositiveInteger(d decimal.Decimal) bool {
	return d.IsPositive() && d.Equal(d.Truncate(0))
}

func (a Asset) String() string {
	return fmt.Sprintf("Asset{Address=%s, Symbol=%s, Decimals=%d, Supply=%s, Mint=%t, Freeze=%t, Update=%t, Version=%d}",
		a.Address,
		a.Symbol,
		a.Decimals,
		a.Supply.String(),
		a.Authorities.Mint,
		a.Authorities.Freeze,
		a.Authorities.Update,
		a.Version,
	)
}
