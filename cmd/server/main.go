package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/Tien-2201/Laptrinhweb-Dautuao/internal/config"
	"github.com/Tien-2201/Laptrinhweb-Dautuao/internal/metrics"
	"github.com/Tien-2201/Laptrinhweb-Dautuao/internal/model"
	"github.com/Tien-2201/Laptrinhweb-Dautuao/internal/pricecache"
	"github.com/Tien-2201/Laptrinhweb-Dautuao/internal/store"
	"github.com/Tien-2201/Laptrinhweb-Dautuao/internal/trading"
	"github.com/Tien-2201/Laptrinhweb-Dautuao/internal/valuation"
)

// seedCatalog is the default coin catalog, matching the five coins the
// market page serves.
var seedCatalog = []model.Coin{
	{CoinID: "bitcoin", Symbol: "BTC", Name: "Bitcoin", Active: true, DisplayOrder: 1},
	{CoinID: "ethereum", Symbol: "ETH", Name: "Ethereum", Active: true, DisplayOrder: 2},
	{CoinID: "binancecoin", Symbol: "BNB", Name: "BNB", Active: true, DisplayOrder: 3},
	{CoinID: "solana", Symbol: "SOL", Name: "Solana", Active: true, DisplayOrder: 4},
	{CoinID: "ripple", Symbol: "XRP", Name: "XRP", Active: true, DisplayOrder: 5},
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// --- Initialize store ---
	var st store.Store
	var cleanup []func()

	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)

		pg := store.NewPostgresStore(pool, cfg.LockTimeout)
		if err := pg.Init(ctx); err != nil {
			slog.Error("schema init failed", "err", err)
			os.Exit(1)
		}
		st = pg
		slog.Info("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if cfg.RedisURL != "" {
			opt, err := redis.ParseURL(cfg.RedisURL)
			if err != nil {
				slog.Error("invalid REDIS_URL", "err", err)
				os.Exit(1)
			}
			rdb := redis.NewClient(opt)
			cleanup = append(cleanup, func() { rdb.Close() })
			st = store.NewCachedStore(st, rdb, cfg.CacheTTL)
			slog.Info("Redis cache enabled")
		}
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	if err := st.SeedCoins(ctx, seedCatalog); err != nil {
		slog.Error("coin catalog seed failed", "err", err)
		os.Exit(1)
	}

	// --- Price cache ---
	coinIDs := make([]string, len(seedCatalog))
	for i, c := range seedCatalog {
		coinIDs[i] = c.CoinID
	}
	source := pricecache.NewCoinGeckoSource(pricecache.DefaultBaseURL, coinIDs, &http.Client{})
	prices := pricecache.New(source, cfg.PriceRefreshInterval, cfg.PriceFetchTimeout, cfg.PriceMaxBackoff)

	// --- WebSocket hub ---
	wsHub := trading.NewWSHub()
	go wsHub.Run()
	prices.OnUpdate(wsHub.BroadcastSnapshot)
	go prices.Run(ctx)

	// --- Trading service ---
	val := valuation.NewEngine(st, prices)
	tradingSvc := trading.NewService(st, val, prices, cfg.StartingBalance, wsHub)

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	// CORS middleware for frontend cross-origin requests.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"trading-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for real-time price and trade updates.
		r.Get("/ws", wsHub.HandleWS)

		// Accounts.
		r.Post("/accounts", tradingSvc.CreateAccount)
		r.Get("/accounts/{userID}/wallet", tradingSvc.GetWallet)

		// Order execution.
		r.Post("/orders", tradingSvc.ExecuteOrder)

		// Portfolio and history queries.
		r.Get("/portfolio/{userID}", tradingSvc.GetPortfolio)
		r.Get("/history/{userID}", tradingSvc.GetHistory)

		// Catalog and prices.
		r.Get("/coins", tradingSvc.ListCoins)
		r.Get("/prices", tradingSvc.GetPrices)
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	go func() {
		slog.Info("trading-engine listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	stop() // cancels the price refresh loop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	slog.Info("shutting down trading-engine...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("trading-engine stopped")
}
