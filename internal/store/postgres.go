package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/Tien-2201/Laptrinhweb-Dautuao/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
// Trade execution runs inside a transaction with the wallet row locked
// via SELECT ... FOR UPDATE, so concurrent orders for the same user
// serialize on the wallet row.
type PostgresStore struct {
	pool        *pgxpool.Pool
	lockTimeout time.Duration
}

// NewPostgresStore creates a new PostgreSQL-backed store. lockTimeout
// bounds how long a transaction waits on the wallet row lock before
// aborting with a retryable error.
func NewPostgresStore(pool *pgxpool.Pool, lockTimeout time.Duration) *PostgresStore {
	return &PostgresStore{pool: pool, lockTimeout: lockTimeout}
}

// Init creates the schema if it does not exist yet.
func (s *PostgresStore) Init(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS coins (
			id            BIGSERIAL PRIMARY KEY,
			coin_id       TEXT NOT NULL UNIQUE,
			symbol        TEXT NOT NULL,
			name          TEXT NOT NULL,
			is_active     BOOLEAN NOT NULL DEFAULT TRUE,
			display_order INT NOT NULL DEFAULT 0
		);
		CREATE TABLE IF NOT EXISTS wallets (
			user_id TEXT PRIMARY KEY,
			balance NUMERIC NOT NULL CHECK (balance >= 0)
		);
		CREATE TABLE IF NOT EXISTS trades (
			id         BIGSERIAL PRIMARY KEY,
			user_id    TEXT NOT NULL REFERENCES wallets(user_id),
			coin_id    TEXT NOT NULL REFERENCES coins(coin_id),
			side       TEXT NOT NULL CHECK (side IN ('buy', 'sell')),
			quantity   NUMERIC NOT NULL CHECK (quantity > 0),
			price      NUMERIC NOT NULL CHECK (price > 0),
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE INDEX IF NOT EXISTS trades_user_id_idx ON trades (user_id, id);
	`)
	return err
}

func (s *PostgresStore) CreateWallet(ctx context.Context, userID string, opening decimal.Decimal) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO wallets (user_id, balance) VALUES ($1, $2::NUMERIC)
		 ON CONFLICT (user_id) DO NOTHING`,
		userID, opening.String(),
	)
	return mapPgError(err)
}

func (s *PostgresStore) GetWallet(ctx context.Context, userID string) (*model.Wallet, error) {
	var balS string
	err := s.pool.QueryRow(ctx,
		`SELECT balance::TEXT FROM wallets WHERE user_id = $1`, userID).
		Scan(&balS)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, model.ErrWalletNotFound
	}
	if err != nil {
		return nil, mapPgError(err)
	}

	w := &model.Wallet{UserID: userID}
	w.Balance, _ = decimal.NewFromString(balS)
	return w, nil
}

// ExecuteTrade books an order as a single atomic transaction:
//
//  1. Lock the wallet row (bounded by lock_timeout).
//  2. Buy: reject if balance < quantity*price. Sell: reject if the signed
//     quantity sum over the user's trades for this coin < quantity.
//  3. Append the trade, write the new balance, commit.
//
// Any failure rolls the whole transaction back; no trade row without the
// matching balance change is ever observable.
func (s *PostgresStore) ExecuteTrade(ctx context.Context, t *model.Trade) (decimal.Decimal, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return decimal.Zero, mapPgError(err)
	}
	defer tx.Rollback(ctx)

	if s.lockTimeout > 0 {
		// lock_timeout cannot be a bind parameter.
		_, err = tx.Exec(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", s.lockTimeout.Milliseconds()))
		if err != nil {
			return decimal.Zero, mapPgError(err)
		}
	}

	var balS string
	err = tx.QueryRow(ctx,
		`SELECT balance::TEXT FROM wallets WHERE user_id = $1 FOR UPDATE`, t.UserID).
		Scan(&balS)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, model.ErrWalletNotFound
	}
	if err != nil {
		return decimal.Zero, mapPgError(err)
	}
	balance, _ := decimal.NewFromString(balS)

	total := t.Quantity.Mul(t.Price)
	var newBalance decimal.Decimal

	switch t.Side {
	case model.SideBuy:
		if balance.LessThan(total) {
			return decimal.Zero, model.ErrInsufficientFunds
		}
		newBalance = balance.Sub(total)

	case model.SideSell:
		var holdS string
		err = tx.QueryRow(ctx,
			`SELECT COALESCE(SUM(CASE WHEN side = 'buy' THEN quantity ELSE -quantity END), 0)::TEXT
			 FROM trades WHERE user_id = $1 AND coin_id = $2`,
			t.UserID, t.CoinID).
			Scan(&holdS)
		if err != nil {
			return decimal.Zero, mapPgError(err)
		}
		holding, _ := decimal.NewFromString(holdS)
		if holding.LessThan(t.Quantity) {
			return decimal.Zero, model.ErrInsufficientHolding
		}
		newBalance = balance.Add(total)

	default:
		return decimal.Zero, fmt.Errorf("execute trade: unknown side %q", t.Side)
	}

	err = tx.QueryRow(ctx,
		`INSERT INTO trades (user_id, coin_id, side, quantity, price)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC)
		 RETURNING id, created_at`,
		t.UserID, t.CoinID, t.Side, t.Quantity.String(), t.Price.String()).
		Scan(&t.ID, &t.CreatedAt)
	if err != nil {
		return decimal.Zero, mapPgError(err)
	}

	_, err = tx.Exec(ctx,
		`UPDATE wallets SET balance = $2::NUMERIC WHERE user_id = $1`,
		t.UserID, newBalance.String(),
	)
	if err != nil {
		return decimal.Zero, mapPgError(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return decimal.Zero, mapPgError(err)
	}
	return newBalance, nil
}

func (s *PostgresStore) TradesByUser(ctx context.Context, userID string) ([]model.Trade, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT t.id, t.user_id, t.coin_id, c.symbol, t.side,
		        t.quantity::TEXT, t.price::TEXT, t.created_at
		 FROM trades t
		 JOIN coins c ON c.coin_id = t.coin_id
		 WHERE t.user_id = $1 ORDER BY t.id`, userID)
	if err != nil {
		return nil, mapPgError(err)
	}
	defer rows.Close()

	var trades []model.Trade
	for rows.Next() {
		var t model.Trade
		var qtyS, priceS string
		if err := rows.Scan(&t.ID, &t.UserID, &t.CoinID, &t.Symbol, &t.Side,
			&qtyS, &priceS, &t.CreatedAt); err != nil {
			return nil, err
		}
		t.Quantity, _ = decimal.NewFromString(qtyS)
		t.Price, _ = decimal.NewFromString(priceS)
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

func (s *PostgresStore) ListCoins(ctx context.Context) ([]model.Coin, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, coin_id, symbol, name, is_active, display_order
		 FROM coins WHERE is_active ORDER BY display_order`)
	if err != nil {
		return nil, mapPgError(err)
	}
	defer rows.Close()

	var coins []model.Coin
	for rows.Next() {
		var c model.Coin
		if err := rows.Scan(&c.ID, &c.CoinID, &c.Symbol, &c.Name, &c.Active, &c.DisplayOrder); err != nil {
			return nil, err
		}
		coins = append(coins, c)
	}
	return coins, rows.Err()
}

func (s *PostgresStore) FindCoin(ctx context.Context, key string) (*model.Coin, error) {
	var c model.Coin
	err := s.pool.QueryRow(ctx,
		`SELECT id, coin_id, symbol, name, is_active, display_order
		 FROM coins
		 WHERE LOWER(symbol) = LOWER($1) OR LOWER(coin_id) = LOWER($1)
		 LIMIT 1`, key).
		Scan(&c.ID, &c.CoinID, &c.Symbol, &c.Name, &c.Active, &c.DisplayOrder)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, model.ErrCoinNotFound
	}
	if err != nil {
		return nil, mapPgError(err)
	}
	return &c, nil
}

func (s *PostgresStore) SeedCoins(ctx context.Context, coins []model.Coin) error {
	for _, c := range coins {
		_, err := s.pool.Exec(ctx,
			`INSERT INTO coins (coin_id, symbol, name, is_active, display_order)
			 VALUES ($1, $2, $3, $4, $5)
			 ON CONFLICT (coin_id) DO UPDATE
			 SET symbol = EXCLUDED.symbol, name = EXCLUDED.name,
			     is_active = EXCLUDED.is_active, display_order = EXCLUDED.display_order`,
			c.CoinID, c.Symbol, c.Name, c.Active, c.DisplayOrder,
		)
		if err != nil {
			return mapPgError(err)
		}
	}
	return nil
}

// mapPgError translates transient PostgreSQL failures into the retryable
// model.ErrStorageBusy sentinel. 55P03 = lock_not_available (lock_timeout
// expired), 40001/40P01 = serialization failure / deadlock.
func mapPgError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "55P03", "40001", "40P01":
			return fmt.Errorf("%w: %s", model.ErrStorageBusy, pgErr.Message)
		}
	}
	return err
}
