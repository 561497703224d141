// Package model defines the core domain types shared across the trading
// engine. All monetary values use shopspring/decimal — never float64 for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Trade sides.
const (
	SideBuy  = "buy"
	SideSell = "sell"
)

// Coin is one entry in the read-only coin catalog. CoinID is the upstream
// provider key ("bitcoin"), Symbol the display ticker ("BTC").
type Coin struct {
	ID           int64  `json:"id" db:"id"`
	CoinID       string `json:"coin_id" db:"coin_id"`
	Symbol       string `json:"symbol" db:"symbol"`
	Name         string `json:"name" db:"name"`
	Active       bool   `json:"active" db:"is_active"`
	DisplayOrder int    `json:"display_order" db:"display_order"`
}

// Wallet is the synthetic USD balance for one user. Balance is never
// negative and is only mutated inside the execution transaction.
type Wallet struct {
	UserID  string          `json:"user_id" db:"user_id"`
	Balance decimal.Decimal `json:"balance" db:"balance"`
}

// Trade is an immutable record of an executed order. Once committed it is
// never updated or deleted; ID assignment order is the FIFO order used for
// lot matching.
type Trade struct {
	ID        int64           `json:"id" db:"id"`
	UserID    string          `json:"user_id" db:"user_id"`
	CoinID    string          `json:"coin_id" db:"coin_id"`
	Symbol    string          `json:"symbol,omitempty" db:"symbol"`
	Side      string          `json:"side" db:"side"` // "buy" or "sell"
	Quantity  decimal.Decimal `json:"quantity" db:"quantity"`
	Price     decimal.Decimal `json:"price" db:"price"` // USD per unit
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
}

// Holding is the per-coin aggregate of all open lots for a user.
// CurrentPrice, MarketValue and UnrealizedPnL are nil when no quote is
// available — "unknown" is reported explicitly, never as zero.
type Holding struct {
	CoinID        string           `json:"coin_id"`
	Symbol        string           `json:"symbol"`
	Name          string           `json:"name"`
	Quantity      decimal.Decimal  `json:"quantity"`
	AverageCost   decimal.Decimal  `json:"average_cost"`
	CurrentPrice  *decimal.Decimal `json:"current_price"`
	MarketValue   *decimal.Decimal `json:"market_value"`
	UnrealizedPnL *decimal.Decimal `json:"unrealized_pnl"`
}

// PortfolioTotals aggregates a portfolio across holdings. Market values of
// holdings without a quote are excluded from TotalMarketValue while the
// holding itself stays listed.
type PortfolioTotals struct {
	TotalMarketValue  decimal.Decimal `json:"total_market_value"`
	TotalCost         decimal.Decimal `json:"total_cost"`
	TotalValue        decimal.Decimal `json:"total_value"` // balance + market value
	UnrealizedPnL     decimal.Decimal `json:"unrealized_pnl"`
	PnLPercentage     decimal.Decimal `json:"pnl_percentage"`
	BalancePercentage decimal.Decimal `json:"balance_percentage"`
}

// Portfolio is the point-in-time valuation of one user's wallet and open
// lots against the latest price snapshot.
type Portfolio struct {
	UserID          string          `json:"user_id"`
	Balance         decimal.Decimal `json:"balance"`
	Holdings        []Holding       `json:"holdings"`
	Totals          PortfolioTotals `json:"totals"`
	PricesFetchedAt time.Time       `json:"prices_fetched_at"`
	PricesStale     bool            `json:"prices_stale"`
}
