// Package valuation derives point-in-time holdings and unrealized PnL by
// replaying the immutable trade log with FIFO lot matching.
//
// Nothing here is persisted: lots and holdings are rebuilt from the ledger
// on every request, so the ledger stays the only source of truth.
package valuation

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/Tien-2201/Laptrinhweb-Dautuao/internal/model"
	"github.com/Tien-2201/Laptrinhweb-Dautuao/internal/pricecache"
	"github.com/Tien-2201/Laptrinhweb-Dautuao/internal/store"
)

// PriceSource provides the latest price snapshot. Satisfied by
// *pricecache.Cache; substituted with a double in tests.
type PriceSource interface {
	Snapshot() pricecache.Snapshot
}

// Lot is a slice of a historical buy not yet consumed by later sells.
type Lot struct {
	SourceTradeID int64
	Remaining     decimal.Decimal
	UnitCost      decimal.Decimal
}

// ReplayLots builds the open FIFO lots per coin from trades in ID order.
// A buy pushes a lot; a sell consumes lots oldest-first and may span
// several of them. Fully consumed lots are discarded.
//
// The caller guarantees trades are ordered by ID ascending and never
// oversell; the execution engine enforces both.
func ReplayLots(trades []model.Trade) map[string][]Lot {
	open := make(map[string][]Lot)

	for _, t := range trades {
		switch t.Side {
		case model.SideBuy:
			open[t.CoinID] = append(open[t.CoinID], Lot{
				SourceTradeID: t.ID,
				Remaining:     t.Quantity,
				UnitCost:      t.Price,
			})

		case model.SideSell:
			remaining := t.Quantity
			lots := open[t.CoinID]
			for len(lots) > 0 && remaining.IsPositive() {
				if lots[0].Remaining.GreaterThan(remaining) {
					lots[0].Remaining = lots[0].Remaining.Sub(remaining)
					remaining = decimal.Zero
				} else {
					remaining = remaining.Sub(lots[0].Remaining)
					lots = lots[1:]
				}
			}
			if len(lots) == 0 {
				delete(open, t.CoinID)
			} else {
				open[t.CoinID] = lots
			}
		}
	}
	return open
}

// Engine computes portfolio valuations from the ledger and the price cache.
// It performs only reads and never blocks order execution.
type Engine struct {
	store  store.Store
	prices PriceSource
}

// NewEngine creates a valuation engine.
func NewEngine(st store.Store, prices PriceSource) *Engine {
	return &Engine{store: st, prices: prices}
}

// Valuate replays the user's trades and marks the open lots to market
// against the latest snapshot. A missing quote is not an error: the
// affected holding reports null market value and is excluded from the
// market-value total while still being listed.
func (e *Engine) Valuate(ctx context.Context, userID string) (*model.Portfolio, error) {
	wallet, err := e.store.GetWallet(ctx, userID)
	if err != nil {
		return nil, err
	}

	trades, err := e.store.TradesByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	coins, err := e.store.ListCoins(ctx)
	if err != nil {
		return nil, err
	}
	catalog := make(map[string]model.Coin, len(coins))
	for _, c := range coins {
		catalog[c.CoinID] = c
	}

	snap := e.prices.Snapshot()
	open := ReplayLots(trades)

	// Catalog display order first, then anything no longer in the catalog.
	order := make([]string, 0, len(open))
	for _, c := range coins {
		if _, ok := open[c.CoinID]; ok {
			order = append(order, c.CoinID)
		}
	}
	var extra []string
	for coinID := range open {
		if _, ok := catalog[coinID]; !ok {
			extra = append(extra, coinID)
		}
	}
	sort.Strings(extra)
	order = append(order, extra...)

	p := &model.Portfolio{
		UserID:          userID,
		Balance:         wallet.Balance,
		Holdings:        []model.Holding{},
		PricesFetchedAt: snap.FetchedAt,
		PricesStale:     snap.Stale,
	}

	totalMarketValue := decimal.Zero
	totalCost := decimal.Zero

	for _, coinID := range order {
		lots := open[coinID]

		quantity := decimal.Zero
		cost := decimal.Zero
		for _, lot := range lots {
			quantity = quantity.Add(lot.Remaining)
			cost = cost.Add(lot.Remaining.Mul(lot.UnitCost))
		}
		if !quantity.IsPositive() {
			continue
		}

		h := model.Holding{
			CoinID:      coinID,
			Symbol:      coinID,
			Quantity:    quantity,
			AverageCost: cost.Div(quantity),
		}
		if c, ok := catalog[coinID]; ok {
			h.Symbol = c.Symbol
			h.Name = c.Name
		}

		if price, ok := snap.Price(coinID); ok {
			marketValue := quantity.Mul(price)
			pnl := marketValue.Sub(cost)
			h.CurrentPrice = &price
			h.MarketValue = &marketValue
			h.UnrealizedPnL = &pnl
			totalMarketValue = totalMarketValue.Add(marketValue)
		}
		totalCost = totalCost.Add(cost)

		p.Holdings = append(p.Holdings, h)
	}

	hundred := decimal.NewFromInt(100)
	totals := model.PortfolioTotals{
		TotalMarketValue:  totalMarketValue,
		TotalCost:         totalCost,
		TotalValue:        wallet.Balance.Add(totalMarketValue),
		UnrealizedPnL:     totalMarketValue.Sub(totalCost),
		PnLPercentage:     decimal.Zero,
		BalancePercentage: hundred,
	}
	if totalCost.IsPositive() {
		totals.PnLPercentage = totals.UnrealizedPnL.Div(totalCost).Mul(hundred)
	}
	if totals.TotalValue.IsPositive() {
		totals.BalancePercentage = wallet.Balance.Div(totals.TotalValue).Mul(hundred)
	}
	p.Totals = totals

	return p, nil
}
