package store

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Tien-2201/Laptrinhweb-Dautuao/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
//
// A single mutex guards wallets and the ledger, so trade execution is
// serialized exactly like the row lock does it in PostgreSQL: the funds
// check and the balance mutation are never interleaved with another order.
type MemoryStore struct {
	mu      sync.RWMutex
	wallets map[string]*model.Wallet
	ledger  []model.Trade
	coins   []model.Coin
	nextID  int64
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		wallets: make(map[string]*model.Wallet),
		nextID:  1,
	}
}

func (s *MemoryStore) CreateWallet(_ context.Context, userID string, opening decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.wallets[userID]; ok {
		return nil // wallet already exists, keep it
	}
	s.wallets[userID] = &model.Wallet{UserID: userID, Balance: opening}
	return nil
}

func (s *MemoryStore) GetWallet(_ context.Context, userID string) (*model.Wallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	w, ok := s.wallets[userID]
	if !ok {
		return nil, model.ErrWalletNotFound
	}
	copy := *w
	return &copy, nil
}

// ExecuteTrade books an order under the store lock. The whole check-append-
// adjust sequence runs atomically; on rejection nothing is mutated.
func (s *MemoryStore) ExecuteTrade(_ context.Context, t *model.Trade) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.wallets[t.UserID]
	if !ok {
		return decimal.Zero, model.ErrWalletNotFound
	}

	total := t.Quantity.Mul(t.Price)

	switch t.Side {
	case model.SideBuy:
		if w.Balance.LessThan(total) {
			return decimal.Zero, model.ErrInsufficientFunds
		}
	case model.SideSell:
		holding := s.holdingLocked(t.UserID, t.CoinID)
		if holding.LessThan(t.Quantity) {
			return decimal.Zero, model.ErrInsufficientHolding
		}
	}

	t.ID = s.nextID
	s.nextID++
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	s.ledger = append(s.ledger, *t)

	if t.Side == model.SideBuy {
		w.Balance = w.Balance.Sub(total)
	} else {
		w.Balance = w.Balance.Add(total)
	}
	return w.Balance, nil
}

// holdingLocked sums signed quantities for one user and coin.
// Caller must hold the mutex.
func (s *MemoryStore) holdingLocked(userID, coinID string) decimal.Decimal {
	holding := decimal.Zero
	for _, e := range s.ledger {
		if e.UserID != userID || e.CoinID != coinID {
			continue
		}
		if e.Side == model.SideBuy {
			holding = holding.Add(e.Quantity)
		} else {
			holding = holding.Sub(e.Quantity)
		}
	}
	return holding
}

func (s *MemoryStore) TradesByUser(_ context.Context, userID string) ([]model.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Trade
	for _, e := range s.ledger {
		if e.UserID == userID {
			result = append(result, e)
		}
	}
	return result, nil
}

func (s *MemoryStore) ListCoins(_ context.Context) ([]model.Coin, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var coins []model.Coin
	for _, c := range s.coins {
		if c.Active {
			coins = append(coins, c)
		}
	}
	return coins, nil
}

func (s *MemoryStore) FindCoin(_ context.Context, key string) (*model.Coin, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	k := strings.ToLower(strings.TrimSpace(key))
	for _, c := range s.coins {
		if strings.ToLower(c.Symbol) == k || strings.ToLower(c.CoinID) == k {
			copy := c
			return &copy, nil
		}
	}
	return nil, model.ErrCoinNotFound
}

func (s *MemoryStore) SeedCoins(_ context.Context, coins []model.Coin) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.coins = append([]model.Coin(nil), coins...)
	for i := range s.coins {
		if s.coins[i].ID == 0 {
			s.coins[i].ID = int64(i + 1)
		}
	}
	return nil
}
