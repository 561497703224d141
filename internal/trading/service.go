// Package trading provides the HTTP handlers and business logic for
// creating accounts, executing buy/sell orders, and querying portfolios.
//
// All monetary values use shopspring/decimal — never float64 for money.
package trading

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Tien-2201/Laptrinhweb-Dautuao/internal/metrics"
	"github.com/Tien-2201/Laptrinhweb-Dautuao/internal/model"
	"github.com/Tien-2201/Laptrinhweb-Dautuao/internal/pricecache"
	"github.com/Tien-2201/Laptrinhweb-Dautuao/internal/store"
	"github.com/Tien-2201/Laptrinhweb-Dautuao/internal/valuation"
)

// PriceSource provides the latest price snapshot without blocking.
type PriceSource interface {
	Snapshot() pricecache.Snapshot
}

// Service handles account, order and portfolio operations. Order execution
// is delegated to the store's transactional path; the service validates
// input, resolves the coin and maps domain errors to HTTP statuses.
type Service struct {
	store           store.Store
	valuation       *valuation.Engine
	prices          PriceSource
	startingBalance decimal.Decimal
	wsHub           *WSHub // optional WebSocket hub for real-time broadcasts
}

// NewService creates a new trading service.
// Pass nil for hub if WebSocket broadcasting is not needed.
func NewService(st store.Store, val *valuation.Engine, prices PriceSource, startingBalance decimal.Decimal, hub *WSHub) *Service {
	return &Service{
		store:           st,
		valuation:       val,
		prices:          prices,
		startingBalance: startingBalance,
		wsHub:           hub,
	}
}

// --- Request/Response types ---

// OrderRequest is the JSON body for POST /orders.
type OrderRequest struct {
	UserID   string          `json:"user_id"`
	Coin     string          `json:"coin"` // symbol or provider key
	Side     string          `json:"side"` // "buy" or "sell"
	Quantity decimal.Decimal `json:"quantity"`
	Price    decimal.Decimal `json:"price"` // USD per unit
}

// OrderResponse is the JSON body returned from POST /orders.
type OrderResponse struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Balance decimal.Decimal `json:"balance"`
	Trade   model.Trade     `json:"trade"`
}

// AccountResponse is returned from account creation and wallet queries.
type AccountResponse struct {
	UserID  string          `json:"user_id"`
	Balance decimal.Decimal `json:"balance"`
}

// HistoryHolding is the per-coin net position shown on the history page.
// AvgPrice follows the original report: total buy value over net amount.
type HistoryHolding struct {
	CoinID   string          `json:"coin_id"`
	Symbol   string          `json:"symbol"`
	Amount   decimal.Decimal `json:"amount"`
	AvgPrice decimal.Decimal `json:"avg_price"`
}

// HistoryTrade is one ledger row with its notional total.
type HistoryTrade struct {
	model.Trade
	Total decimal.Decimal `json:"total"`
}

// HistoryResponse is the JSON body for GET /history/{userID}.
type HistoryResponse struct {
	Balance  decimal.Decimal  `json:"balance"`
	Holdings []HistoryHolding `json:"holdings"`
	Trades   []HistoryTrade   `json:"trades"`
}

// --- HTTP Handlers ---

// CreateAccount handles POST /api/v1/accounts
// Creates a user id and a wallet with the configured opening balance.
func (s *Service) CreateAccount(w http.ResponseWriter, r *http.Request) {
	userID := uuid.New().String()

	if err := s.store.CreateWallet(r.Context(), userID, s.startingBalance); err != nil {
		s.writeStoreError(w, err)
		return
	}

	slog.Info("account created", "user", userID, "balance", s.startingBalance.String())

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(AccountResponse{UserID: userID, Balance: s.startingBalance})
}

// GetWallet handles GET /api/v1/accounts/{userID}/wallet
func (s *Service) GetWallet(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	wallet, err := s.store.GetWallet(r.Context(), userID)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(AccountResponse{UserID: wallet.UserID, Balance: wallet.Balance})
}

// ExecuteOrder handles POST /api/v1/orders
// Books the order atomically against the wallet and the trade ledger.
func (s *Service) ExecuteOrder(w http.ResponseWriter, r *http.Request) {
	var req OrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid_request", "invalid request body", http.StatusBadRequest)
		return
	}

	// --- Input validation (rejected before any mutation) ---
	if req.UserID == "" {
		writeError(w, "invalid_request", "user_id is required", http.StatusBadRequest)
		return
	}
	if req.Side != model.SideBuy && req.Side != model.SideSell {
		writeError(w, "invalid_request", "side must be buy or sell", http.StatusBadRequest)
		return
	}
	if !req.Quantity.IsPositive() {
		writeError(w, "invalid_request", "quantity must be positive", http.StatusBadRequest)
		return
	}
	if !req.Price.IsPositive() {
		writeError(w, "invalid_request", "price must be positive", http.StatusBadRequest)
		return
	}

	ctx := r.Context()

	coin, err := s.store.FindCoin(ctx, req.Coin)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	if !coin.Active {
		writeError(w, "coin_not_found", fmt.Sprintf("coin %s is not tradeable", coin.Symbol), http.StatusBadRequest)
		return
	}

	trade := &model.Trade{
		UserID:   req.UserID,
		CoinID:   coin.CoinID,
		Symbol:   coin.Symbol,
		Side:     req.Side,
		Quantity: req.Quantity,
		Price:    req.Price,
	}

	start := time.Now()
	balance, err := s.store.ExecuteTrade(ctx, trade)
	if err != nil {
		metrics.OrdersTotal.WithLabelValues(req.Side, "rejected").Inc()
		s.writeStoreError(w, err)
		return
	}

	total := req.Quantity.Mul(req.Price)
	metrics.OrdersTotal.WithLabelValues(req.Side, "executed").Inc()
	metrics.OrderLatency.WithLabelValues(req.Side).Observe(time.Since(start).Seconds())
	volume, _ := total.Float64()
	metrics.TradeVolume.WithLabelValues(coin.CoinID, req.Side).Add(volume)

	slog.Info("order executed",
		"trade_id", trade.ID,
		"user", req.UserID,
		"coin", coin.CoinID,
		"side", req.Side,
		"qty", req.Quantity.String(),
		"price", req.Price.String(),
		"balance", balance.String(),
	)

	// Broadcast trade execution via WebSocket.
	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{
			Type:     "trade_executed",
			CoinID:   coin.CoinID,
			Symbol:   coin.Symbol,
			Side:     req.Side,
			Quantity: req.Quantity.String(),
			Price:    req.Price.String(),
		})
	}

	verb := "Bought"
	if req.Side == model.SideSell {
		verb = "Sold"
	}
	resp := OrderResponse{
		Success: true,
		Message: fmt.Sprintf("%s %s %s for $%s", verb, req.Quantity.String(), coin.Symbol, total.StringFixed(2)),
		Balance: balance,
		Trade:   *trade,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// GetPortfolio handles GET /api/v1/portfolio/{userID}
// Returns balance, FIFO holdings marked to market, and totals.
func (s *Service) GetPortfolio(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	portfolio, err := s.valuation.Valuate(r.Context(), userID)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(portfolio)
}

// GetHistory handles GET /api/v1/history/{userID}
// Returns the full trade log (newest first) plus net per-coin positions.
func (s *Service) GetHistory(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	ctx := r.Context()

	wallet, err := s.store.GetWallet(ctx, userID)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}

	trades, err := s.store.TradesByUser(ctx, userID)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}

	type agg struct {
		symbol   string
		amount   decimal.Decimal
		buyValue decimal.Decimal
	}
	byCoin := make(map[string]*agg)
	var coinOrder []string

	for _, t := range trades {
		a, ok := byCoin[t.CoinID]
		if !ok {
			a = &agg{symbol: t.Symbol}
			byCoin[t.CoinID] = a
			coinOrder = append(coinOrder, t.CoinID)
		}
		if t.Side == model.SideBuy {
			a.amount = a.amount.Add(t.Quantity)
			a.buyValue = a.buyValue.Add(t.Quantity.Mul(t.Price))
		} else {
			a.amount = a.amount.Sub(t.Quantity)
		}
	}

	holdings := []HistoryHolding{}
	for _, coinID := range coinOrder {
		a := byCoin[coinID]
		if !a.amount.IsPositive() {
			continue
		}
		holdings = append(holdings, HistoryHolding{
			CoinID:   coinID,
			Symbol:   a.symbol,
			Amount:   a.amount,
			AvgPrice: a.buyValue.Div(a.amount),
		})
	}

	// Newest first for display.
	history := make([]HistoryTrade, 0, len(trades))
	for i := len(trades) - 1; i >= 0; i-- {
		t := trades[i]
		history = append(history, HistoryTrade{
			Trade: t,
			Total: t.Quantity.Mul(t.Price),
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(HistoryResponse{
		Balance:  wallet.Balance,
		Holdings: holdings,
		Trades:   history,
	})
}

// ListCoins handles GET /api/v1/coins
// Returns the active coin catalog in display order.
func (s *Service) ListCoins(w http.ResponseWriter, r *http.Request) {
	coins, err := s.store.ListCoins(r.Context())
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	if coins == nil {
		coins = []model.Coin{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(coins)
}

// GetPrices handles GET /api/v1/prices
// Read-through to the price cache; no side effects, never blocks on the
// upstream.
func (s *Service) GetPrices(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.prices.Snapshot())
}

// writeStoreError maps domain errors to HTTP responses with a stable error
// kind plus an actionable message.
func (s *Service) writeStoreError(w http.ResponseWriter, err error) {
	var vErr *model.ValidationError
	switch {
	case errors.As(err, &vErr):
		writeError(w, "invalid_request", vErr.Message, http.StatusBadRequest)
	case errors.Is(err, model.ErrCoinNotFound):
		writeError(w, "coin_not_found", "coin is not in the catalog", http.StatusBadRequest)
	case errors.Is(err, model.ErrWalletNotFound):
		writeError(w, "wallet_not_found", "no wallet for this user", http.StatusNotFound)
	case errors.Is(err, model.ErrInsufficientFunds):
		writeError(w, "insufficient_funds", "not enough balance to cover this buy", http.StatusBadRequest)
	case errors.Is(err, model.ErrInsufficientHolding):
		writeError(w, "insufficient_holding", "not enough holdings to cover this sell", http.StatusBadRequest)
	case errors.Is(err, model.ErrStorageBusy):
		writeError(w, "storage_busy", "storage busy, retry the operation", http.StatusServiceUnavailable)
	default:
		slog.Error("storage error", "err", err)
		writeError(w, "internal_error", "internal error", http.StatusInternalServerError)
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, kind, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": kind, "message": message})
}
