package store_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/Tien-2201/Laptrinhweb-Dautuao/internal/model"
	"github.com/Tien-2201/Laptrinhweb-Dautuao/internal/store"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func newStore(t *testing.T, balance float64) *store.MemoryStore {
	t.Helper()
	ms := store.NewMemoryStore()
	err := ms.SeedCoins(context.Background(), []model.Coin{
		{CoinID: "bitcoin", Symbol: "BTC", Name: "Bitcoin", Active: true, DisplayOrder: 1},
		{CoinID: "ethereum", Symbol: "ETH", Name: "Ethereum", Active: true, DisplayOrder: 2},
	})
	if err != nil {
		t.Fatalf("failed to seed coins: %v", err)
	}
	if err := ms.CreateWallet(context.Background(), "user1", d(balance)); err != nil {
		t.Fatalf("failed to create wallet: %v", err)
	}
	return ms
}

func trade(coinID, side string, qty, price float64) *model.Trade {
	return &model.Trade{
		UserID:   "user1",
		CoinID:   coinID,
		Side:     side,
		Quantity: d(qty),
		Price:    d(price),
	}
}

func TestExecuteTrade_BuyDeductsBalance(t *testing.T) {
	ms := newStore(t, 10000)

	balance, err := ms.ExecuteTrade(context.Background(), trade("bitcoin", model.SideBuy, 0.1, 60000))
	if err != nil {
		t.Fatalf("buy failed: %v", err)
	}
	// 10,000 - 6,000 = 4,000
	if !balance.Equal(d(4000)) {
		t.Errorf("expected balance 4000, got %s", balance)
	}
}

func TestExecuteTrade_BuyInsufficientFunds(t *testing.T) {
	ms := newStore(t, 10000)

	// 0.5 BTC @ $60,000 costs $30,000 against a $10,000 balance.
	_, err := ms.ExecuteTrade(context.Background(), trade("bitcoin", model.SideBuy, 0.5, 60000))
	if !errors.Is(err, model.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}

	// Atomicity: no trade row, no balance change.
	trades, _ := ms.TradesByUser(context.Background(), "user1")
	if len(trades) != 0 {
		t.Errorf("expected 0 trades after rejection, got %d", len(trades))
	}
	w, _ := ms.GetWallet(context.Background(), "user1")
	if !w.Balance.Equal(d(10000)) {
		t.Errorf("expected balance unchanged at 10000, got %s", w.Balance)
	}
}

func TestExecuteTrade_SellWithoutHolding(t *testing.T) {
	ms := newStore(t, 10000)

	_, err := ms.ExecuteTrade(context.Background(), trade("bitcoin", model.SideSell, 1, 50000))
	if !errors.Is(err, model.ErrInsufficientHolding) {
		t.Fatalf("expected ErrInsufficientHolding, got %v", err)
	}

	trades, _ := ms.TradesByUser(context.Background(), "user1")
	if len(trades) != 0 {
		t.Errorf("expected 0 trades after rejection, got %d", len(trades))
	}
	w, _ := ms.GetWallet(context.Background(), "user1")
	if !w.Balance.Equal(d(10000)) {
		t.Errorf("expected balance unchanged, got %s", w.Balance)
	}
}

func TestExecuteTrade_SellOverHolding(t *testing.T) {
	ms := newStore(t, 10000)

	if _, err := ms.ExecuteTrade(context.Background(), trade("bitcoin", model.SideBuy, 0.1, 50000)); err != nil {
		t.Fatalf("buy failed: %v", err)
	}
	_, err := ms.ExecuteTrade(context.Background(), trade("bitcoin", model.SideSell, 0.2, 50000))
	if !errors.Is(err, model.ErrInsufficientHolding) {
		t.Fatalf("expected ErrInsufficientHolding, got %v", err)
	}
}

func TestExecuteTrade_SellCreditsProceeds(t *testing.T) {
	ms := newStore(t, 10000)

	ms.ExecuteTrade(context.Background(), trade("bitcoin", model.SideBuy, 0.1, 50000)) // -5000
	balance, err := ms.ExecuteTrade(context.Background(), trade("bitcoin", model.SideSell, 0.1, 60000))
	if err != nil {
		t.Fatalf("sell failed: %v", err)
	}
	// 5000 + 6000 = 11000
	if !balance.Equal(d(11000)) {
		t.Errorf("expected balance 11000, got %s", balance)
	}
}

func TestExecuteTrade_UnknownWallet(t *testing.T) {
	ms := newStore(t, 10000)

	tr := trade("bitcoin", model.SideBuy, 1, 100)
	tr.UserID = "nobody"
	if _, err := ms.ExecuteTrade(context.Background(), tr); !errors.Is(err, model.ErrWalletNotFound) {
		t.Errorf("expected ErrWalletNotFound, got %v", err)
	}
}

func TestExecuteTrade_AssignsMonotonicIDs(t *testing.T) {
	ms := newStore(t, 10000)

	for i := 0; i < 5; i++ {
		if _, err := ms.ExecuteTrade(context.Background(), trade("bitcoin", model.SideBuy, 0.01, 100)); err != nil {
			t.Fatalf("trade %d failed: %v", i, err)
		}
	}

	trades, _ := ms.TradesByUser(context.Background(), "user1")
	if len(trades) != 5 {
		t.Fatalf("expected 5 trades, got %d", len(trades))
	}
	for i := 1; i < len(trades); i++ {
		if trades[i].ID <= trades[i-1].ID {
			t.Errorf("trade ids not strictly increasing: %d after %d", trades[i].ID, trades[i-1].ID)
		}
	}
}

// Two concurrent buys whose combined cost exceeds the balance: exactly one
// succeeds, the other is rejected with ErrInsufficientFunds.
func TestExecuteTrade_ConcurrentBuysSerialize(t *testing.T) {
	ms := newStore(t, 10000)

	var wg sync.WaitGroup
	results := make([]error, 2)

	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// Each buy costs $6,000; only one fits in $10,000.
			_, results[i] = ms.ExecuteTrade(context.Background(), trade("bitcoin", model.SideBuy, 0.1, 60000))
		}(i)
	}
	wg.Wait()

	var ok, rejected int
	for _, err := range results {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, model.ErrInsufficientFunds):
			rejected++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if ok != 1 || rejected != 1 {
		t.Fatalf("expected exactly one success and one rejection, got ok=%d rejected=%d", ok, rejected)
	}

	w, _ := ms.GetWallet(context.Background(), "user1")
	if !w.Balance.Equal(d(4000)) {
		t.Errorf("expected final balance 4000, got %s", w.Balance)
	}
	trades, _ := ms.TradesByUser(context.Background(), "user1")
	if len(trades) != 1 {
		t.Errorf("expected exactly 1 trade row, got %d", len(trades))
	}
}

func TestFindCoin_CaseInsensitive(t *testing.T) {
	ms := newStore(t, 0)

	for _, key := range []string{"BTC", "btc", "bitcoin", "Bitcoin"} {
		c, err := ms.FindCoin(context.Background(), key)
		if err != nil {
			t.Fatalf("FindCoin(%q) failed: %v", key, err)
		}
		if c.CoinID != "bitcoin" {
			t.Errorf("FindCoin(%q) resolved to %s", key, c.CoinID)
		}
	}
}

func TestFindCoin_NotFound(t *testing.T) {
	ms := newStore(t, 0)

	if _, err := ms.FindCoin(context.Background(), "dogecoin"); !errors.Is(err, model.ErrCoinNotFound) {
		t.Errorf("expected ErrCoinNotFound, got %v", err)
	}
}

func TestCreateWallet_Idempotent(t *testing.T) {
	ms := newStore(t, 10000)

	ms.ExecuteTrade(context.Background(), trade("bitcoin", model.SideBuy, 0.1, 10000)) // balance 9000
	if err := ms.CreateWallet(context.Background(), "user1", d(10000)); err != nil {
		t.Fatalf("second create failed: %v", err)
	}

	w, _ := ms.GetWallet(context.Background(), "user1")
	if !w.Balance.Equal(d(9000)) {
		t.Errorf("existing wallet must not be reset, got balance %s", w.Balance)
	}
}

func TestListCoins_OnlyActive(t *testing.T) {
	ms := store.NewMemoryStore()
	ms.SeedCoins(context.Background(), []model.Coin{
		{CoinID: "bitcoin", Symbol: "BTC", Name: "Bitcoin", Active: true},
		{CoinID: "luna", Symbol: "LUNA", Name: "Terra", Active: false},
	})

	coins, err := ms.ListCoins(context.Background())
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(coins) != 1 || coins[0].CoinID != "bitcoin" {
		t.Errorf("expected only active coins, got %v", coins)
	}
}
