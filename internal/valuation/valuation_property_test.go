package valuation_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"pgregory.net/rapid"

	"github.com/Tien-2201/Laptrinhweb-Dautuao/internal/model"
	"github.com/Tien-2201/Laptrinhweb-Dautuao/internal/valuation"
)

// For any sequence of buys and sells that never oversells, the open-lot
// quantity after replay equals the signed quantity sum of the trades.
func TestProperty_LotMatchingConservation(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 60).Draw(t, "numTrades")

		var trades []model.Trade
		net := decimal.Zero

		for i := 0; i < n; i++ {
			var side string
			var qty decimal.Decimal

			if net.IsZero() || rapid.Bool().Draw(t, "isBuy") {
				side = model.SideBuy
				qty = decimal.NewFromInt(rapid.Int64Range(1, 100).Draw(t, "buyQty"))
			} else {
				side = model.SideSell
				// Never oversell: at most the current net holding.
				qty = decimal.NewFromInt(rapid.Int64Range(1, net.IntPart()).Draw(t, "sellQty"))
			}

			trades = append(trades, model.Trade{
				ID:       int64(i + 1),
				CoinID:   "bitcoin",
				Side:     side,
				Quantity: qty,
				Price:    decimal.NewFromInt(rapid.Int64Range(1, 100000).Draw(t, "price")),
			})

			if side == model.SideBuy {
				net = net.Add(qty)
			} else {
				net = net.Sub(qty)
			}
		}

		open := valuation.ReplayLots(trades)

		remaining := decimal.Zero
		for _, lot := range open["bitcoin"] {
			if !lot.Remaining.IsPositive() {
				t.Fatalf("open lot with non-positive remaining quantity: %+v", lot)
			}
			remaining = remaining.Add(lot.Remaining)
		}

		if !remaining.Equal(net) {
			t.Fatalf("conservation violated: signed sum %s, open lots %s", net, remaining)
		}
	})
}

// Open lots always stay in trade-ID order after any replay.
func TestProperty_OpenLotsStayOrdered(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 40).Draw(t, "numTrades")

		var trades []model.Trade
		net := int64(0)

		for i := 0; i < n; i++ {
			if net == 0 || rapid.Bool().Draw(t, "isBuy") {
				qty := rapid.Int64Range(1, 50).Draw(t, "buyQty")
				trades = append(trades, model.Trade{
					ID: int64(i + 1), CoinID: "eth", Side: model.SideBuy,
					Quantity: decimal.NewFromInt(qty), Price: decimal.NewFromInt(10),
				})
				net += qty
			} else {
				qty := rapid.Int64Range(1, net).Draw(t, "sellQty")
				trades = append(trades, model.Trade{
					ID: int64(i + 1), CoinID: "eth", Side: model.SideSell,
					Quantity: decimal.NewFromInt(qty), Price: decimal.NewFromInt(10),
				})
				net -= qty
			}
		}

		var prev int64
		for _, lot := range valuation.ReplayLots(trades)["eth"] {
			if lot.SourceTradeID <= prev {
				t.Fatalf("lots out of order: %d after %d", lot.SourceTradeID, prev)
			}
			prev = lot.SourceTradeID
		}
	})
}
