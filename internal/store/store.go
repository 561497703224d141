// Package store defines the persistence interface for the trading engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/Tien-2201/Laptrinhweb-Dautuao/internal/model"
)

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
type Store interface {
	// --- Wallets ---

	// CreateWallet creates a wallet with the given opening balance.
	CreateWallet(ctx context.Context, userID string, opening decimal.Decimal) error

	// GetWallet retrieves a wallet by user ID.
	GetWallet(ctx context.Context, userID string) (*model.Wallet, error)

	// --- Trade execution ---

	// ExecuteTrade atomically books an order: it locks the user's wallet,
	// checks funds (buy) or current holding (sell), appends the trade to
	// the immutable ledger and adjusts the balance. Either everything
	// commits or nothing does. On success the trade's ID and CreatedAt
	// are filled in and the new balance is returned.
	//
	// Returns model.ErrWalletNotFound, model.ErrInsufficientFunds,
	// model.ErrInsufficientHolding, or model.ErrStorageBusy (retryable).
	ExecuteTrade(ctx context.Context, t *model.Trade) (decimal.Decimal, error)

	// --- Immutable ledger ---

	// TradesByUser returns all trades for a user ordered by ID ascending.
	// Insertion order is chronological order and the FIFO tie-break.
	TradesByUser(ctx context.Context, userID string) ([]model.Trade, error)

	// --- Coin catalog ---

	// ListCoins returns all active coins in display order.
	ListCoins(ctx context.Context) ([]model.Coin, error)

	// FindCoin resolves a coin by symbol or provider key, case-insensitive.
	FindCoin(ctx context.Context, key string) (*model.Coin, error)

	// SeedCoins upserts the catalog. Called once at startup.
	SeedCoins(ctx context.Context, coins []model.Coin) error
}
