// Package model defines the core data structures shared by the vault-rewards packages.
package model

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// PricePoint is a single fiat price observation for an asset.
// It is the unit that flows from the price oracle through the circuit breaker
// into the APY calculations.
type PricePoint struct {
	// Asset is the priced asset
	Asset Asset `json:"asset"`

	// Price is the USD price of one whole token
	Price float64 `json:"price"`

	// DailyChange is the 24h change in percent, e.g. -3.2
	DailyChange float64 `json:"daily_change"`

	// CollectedAt is the Unix timestamp when this price was collected
	CollectedAt int64 `json:"collected_at"`
}

// NewPricePoint creates a price point stamped with the current time
func NewPricePoint(asset Asset, price, dailyChange float64) PricePoint {
	return PricePoint{
		Asset:       asset,
		Price:       price,
		DailyChange: dailyChange,
		CollectedAt: time.Now().Unix(),
	}
}

// IsValid performs basic validation on this price point
func (p PricePoint) IsValid() bool {
	return p.Asset.Valid() &&
		p.Price > 0 &&
		p.CollectedAt > 0 &&
		time.Since(time.Unix(p.CollectedAt, 0)) < 24*time.Hour
}

// VaultMetric is one row of vault performance data as published by the
// yield sheet.
type VaultMetric struct {
	// Vault is the vault name as listed in the vault table
	Vault string `json:"vault"`

	// Asset is the underlying asset of the vault
	Asset Asset `json:"asset"`

	// APY is the projected yield in percent
	APY float64 `json:"apy"`

	// TVL is the total value locked in USD
	TVL float64 `json:"tvl"`

	// Strike price of the current option round, zero when not applicable
	Strike float64 `json:"strike,omitempty"`

	CollectedAt int64 `json:"collected_at"`
}

// Token identifies an ERC20 token taking part in a swap.
type Token struct {
	Address  common.Address `json:"address"`
	Symbol   string         `json:"symbol"`
	Decimals int            `json:"decimals"`
}

// SwapQuote is the router's answer for one offer amount. It is recomputed on
// every amount or pair change and never cached.
type SwapQuote struct {
	OfferToken   Token           `json:"offer_token"`
	ReceiveToken Token           `json:"receive_token"`
	OfferAmount  *big.Int        `json:"offer_amount"`
	TradeAmount  *big.Int        `json:"trade_amount"`
	SpotPrice    decimal.Decimal `json:"spot_price"`

	// Slippage is a fraction, never negative
	Slippage decimal.Decimal `json:"slippage"`

	// Sequence is the request number this quote answered
	Sequence uint64 `json:"sequence"`
}
