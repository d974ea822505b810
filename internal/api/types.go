package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/leafsii/launchpad/internal/domain"
)

type IssueAssetRequest struct {
	Name                string           `json:"name"`
	Symbol              string           `json:"symbol"`
	Decimals            uint8            `json:"decimals"`
	Supply              decimal.Decimal  `json:"supply"`
	WantFreezeAuthority bool             `json:"want_freeze_authority"`
	WantMintAuthority   bool             `json:"want_mint_authority"`
	Metadata            *domain.Metadata `json:"metadata,omitempty"`
}

type ResumeIssueRequest struct {
	Supply            decimal.Decimal `json:"supply"`
	WantMintAuthority bool            `json:"want_mint_authority"`
}

type RevokeAuthorityRequest struct {
	Authority string `json:"authority"`
}

type CreatePoolRequest struct {
	BaseAsset   string          `json:"base_asset"`
	QuoteAsset  string          `json:"quote_asset"`
	BaseAmount  decimal.Decimal `json:"base_amount"`
	QuoteAmount decimal.Decimal `json:"quote_amount"`
	StartTime   *time.Time      `json:"start_time,omitempty"`
}

type ChangeLiquidityRequest struct {
	Direction string          `json:"direction"`
	Base      decimal.Decimal `json:"base"`
	Quote     decimal.Decimal `json:"quote"`
}

// PoolDTO is a pool with its derived price. Price is omitted while the base reserve is zero.
type PoolDTO struct {
	*domain.LiquidityPool
	Price string `json:"price,omitempty"`
}

type ChangeLiquidityResponse struct {
	ConfirmationID string  `json:"confirmation_id"`
	Pool           PoolDTO `json:"pool"`
}

type AssetListResponse struct {
	Assets []*domain.Asset `json:"assets"`
}

type PoolListResponse struct {
	Pools []PoolDTO `json:"pools"`
}

type SignerResponse struct {
	Address   string `json:"address"`
	Connected bool   `json:"connected"`
}

type ErrorResponse struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Step      string `json:"step,omitempty"`
	Address   string `json:"address,omitempty"`
	Retryable bool   `json:"retryable"`
}

func toPoolDTO(p *domain.LiquidityPool) PoolDTO {
	dto := PoolDTO{LiquidityPool: p}
	if price, ok := p.Price(); ok {
		dto.Price = price.String()
	}
	return dto
}

func toPoolDTOs(pools []*domain.LiquidityPool) []PoolDTO {
	out := make([]PoolDTO, 0, len(pools))
	for _, p := range pools {
		out = append(out, toPoolDTO(p))
	}
	return out
}
