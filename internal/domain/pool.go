package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Direction selects whether a liquidity change deposits into or withdraws from a pool.
type Direction string

const (
	DirectionAdd    Direction = "add"
	DirectionRemove Direction = "remove"
)

func ParseDirection(s string) (Direction, error) {
	switch Direction(strings.ToLower(strings.TrimSpace(s))) {
	case DirectionAdd:
		return DirectionAdd, nil
	case DirectionRemove:
		return DirectionRemove, nil
	default:
		return "", fmt.Errorf("unknown direction %q (must be add or remove)", s)
	}
}

// PriceDivisionPrecision is the number of fractional digits kept when deriving a pool price.
const PriceDivisionPrecision = 18

// LiquidityPool is the last known state of an AMM reserve pair.
type LiquidityPool struct {
	ID           string          `json:"id"`
	BaseAsset    string          `json:"base_asset"`
	QuoteAsset   string          `json:"quote_asset"`
	BaseReserve  decimal.Decimal `json:"base_reserve"`
	QuoteReserve decimal.Decimal `json:"quote_reserve"`
	CreatedAt    time.Time       `json:"created_at"`
	StartTime    *time.Time      `json:"start_time,omitempty"`
	Version      uint64          `json:"version"`
}

// Price returns quote reserve / base reserve. ok is false when the base reserve is zero.
func (p LiquidityPool) Price() (price decimal.Decimal, ok bool) {
	if !p.BaseReserve.IsPositive() {
		return decimal.Zero, false
	}
	return p.QuoteReserve.DivRound(p.BaseReserve, PriceDivisionPrecision), true
}

// InertAt reports whether the pool rejects liquidity changes at t.
func (p LiquidityPool) InertAt(t time.Time) bool {
	return p.StartTime != nil && t.Before(*p.StartTime)
}

// Involves reports whether asset is either side of the pair.
func (p LiquidityPool) Involves(asset string) bool {
	return p.BaseAsset == asset || p.QuoteAsset == asset
}

func (p LiquidityPool) String() string {
	price := "undefined"
	if v, ok := p.Price(); ok {
		price = v.String()
	}
	return fmt.Sprintf("LiquidityPool{ID=%s, Base=%s, Quote=%s, BaseReserve=%s, QuoteReserve=%s, Price=%s, Version=%d}",
		p.ID,
		p.BaseAsset,
		p.QuoteAsset,
		p.BaseReserve.String(),
		p.QuoteReserve.String(),
		price,
		p.Version,
	)
}
