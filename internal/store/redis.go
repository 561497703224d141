package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/Tien-2201/Laptrinhweb-Dautuao/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache for the ledger-derived reads. Writes go to the primary store and
// invalidate the affected keys; reads check Redis first then fall back to
// the primary. The cache is never the source of truth — every executed
// trade drops the user's wallet and trade-list entries.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Writes (write to primary, invalidate cache) ---

func (s *CachedStore) CreateWallet(ctx context.Context, userID string, opening decimal.Decimal) error {
	if err := s.primary.CreateWallet(ctx, userID, opening); err != nil {
		return err
	}
	s.rdb.Del(ctx, walletKey(userID))
	return nil
}

func (s *CachedStore) ExecuteTrade(ctx context.Context, t *model.Trade) (decimal.Decimal, error) {
	balance, err := s.primary.ExecuteTrade(ctx, t)
	if err != nil {
		return balance, err
	}
	// Invalidate everything derived from this user's ledger.
	s.rdb.Del(ctx, walletKey(t.UserID), tradesKey(t.UserID))
	return balance, nil
}

func (s *CachedStore) SeedCoins(ctx context.Context, coins []model.Coin) error {
	if err := s.primary.SeedCoins(ctx, coins); err != nil {
		return err
	}
	s.rdb.Del(ctx, coinsKey())
	return nil
}

// --- Reads (check cache first) ---

func (s *CachedStore) GetWallet(ctx context.Context, userID string) (*model.Wallet, error) {
	data, err := s.rdb.Get(ctx, walletKey(userID)).Bytes()
	if err == nil {
		var w model.Wallet
		if json.Unmarshal(data, &w) == nil {
			return &w, nil
		}
	}

	w, err := s.primary.GetWallet(ctx, userID)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(w); err == nil {
		s.rdb.Set(ctx, walletKey(userID), data, s.ttl)
	}
	return w, nil
}

func (s *CachedStore) TradesByUser(ctx context.Context, userID string) ([]model.Trade, error) {
	data, err := s.rdb.Get(ctx, tradesKey(userID)).Bytes()
	if err == nil {
		var trades []model.Trade
		if json.Unmarshal(data, &trades) == nil {
			return trades, nil
		}
	}

	trades, err := s.primary.TradesByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(trades); err == nil {
		s.rdb.Set(ctx, tradesKey(userID), data, s.ttl)
	}
	return trades, nil
}

func (s *CachedStore) ListCoins(ctx context.Context) ([]model.Coin, error) {
	data, err := s.rdb.Get(ctx, coinsKey()).Bytes()
	if err == nil {
		var coins []model.Coin
		if json.Unmarshal(data, &coins) == nil {
			return coins, nil
		}
	}

	coins, err := s.primary.ListCoins(ctx)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(coins); err == nil {
		s.rdb.Set(ctx, coinsKey(), data, s.ttl)
	}
	return coins, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) FindCoin(ctx context.Context, key string) (*model.Coin, error) {
	return s.primary.FindCoin(ctx, key)
}

// --- Cache keys ---

func walletKey(uid string) string { return fmt.Sprintf("wallet:%s", uid) }
func tradesKey(uid string) string { return fmt.Sprintf("trades:%s", uid) }
func coinsKey() string            { return "coins:active" }
