// Package pricecache maintains the most recent upstream price snapshot.
//
// One background task refreshes the cache on a timer; readers get the last
// good snapshot without ever blocking on the network. Upstream failures
// never overwrite the snapshot — the cache keeps serving stale data and
// retries with exponential backoff.
package pricecache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Tien-2201/Laptrinhweb-Dautuao/internal/metrics"
)

// Quote is the cached market data for one coin.
type Quote struct {
	CoinID    string           `json:"id"`
	Symbol    string           `json:"symbol"`
	Name      string           `json:"name"`
	Price     decimal.Decimal  `json:"price"`
	Change24h *decimal.Decimal `json:"change_24h"`
	Change7d  *decimal.Decimal `json:"change_7d"`
	MarketCap *decimal.Decimal `json:"market_cap"`
}

// Snapshot is an immutable view of the cache at one point in time.
// Stale means the data is older than the freshness window or no fetch has
// ever succeeded; the quotes are still the best data available.
type Snapshot struct {
	Quotes    []Quote   `json:"quotes"`
	FetchedAt time.Time `json:"fetched_at"`
	Stale     bool      `json:"is_stale"`
}

// Quote looks up a quote by provider key or symbol, case-insensitive.
func (s Snapshot) Quote(key string) (Quote, bool) {
	k := strings.ToLower(strings.TrimSpace(key))
	for _, q := range s.Quotes {
		if strings.ToLower(q.CoinID) == k || strings.ToLower(q.Symbol) == k {
			return q, true
		}
	}
	return Quote{}, false
}

// Price looks up the price for a provider key or symbol.
func (s Snapshot) Price(key string) (decimal.Decimal, bool) {
	q, ok := s.Quote(key)
	if !ok {
		return decimal.Decimal{}, false
	}
	return q.Price, true
}

// Source fetches quotes from the upstream provider.
type Source interface {
	FetchQuotes(ctx context.Context) ([]Quote, error)
}

// RateLimitError is returned by a Source when the upstream rejects the
// request with a rate limit. RetryAfter carries the server's retry hint
// (zero when none was given); it lower-bounds the computed backoff.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("upstream rate limited, retry after %s", e.RetryAfter)
	}
	return "upstream rate limited"
}

// Cache holds the latest price snapshot and refreshes it in the background.
// Reads are lock-cheap and never trigger a fetch.
type Cache struct {
	src          Source
	refreshEvery time.Duration // also the snapshot freshness window
	fetchTimeout time.Duration
	maxBackoff   time.Duration

	mu       sync.RWMutex
	quotes   []Quote
	fetched  time.Time
	backoff  time.Duration // 0 after a success, grows on consecutive failures
	onUpdate func(Snapshot)
}

// New creates a price cache. refreshEvery is both the refresh interval and
// the staleness window; maxBackoff caps the retry delay after failures.
func New(src Source, refreshEvery, fetchTimeout, maxBackoff time.Duration) *Cache {
	return &Cache{
		src:          src,
		refreshEvery: refreshEvery,
		fetchTimeout: fetchTimeout,
		maxBackoff:   maxBackoff,
	}
}

// OnUpdate registers a callback invoked after every successful refresh.
// Must be set before Run starts.
func (c *Cache) OnUpdate(fn func(Snapshot)) {
	c.onUpdate = fn
}

// Snapshot returns the last good snapshot. Staleness is evaluated at read
// time so a stalled refresher is visible to callers.
func (c *Cache) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	quotes := make([]Quote, len(c.quotes))
	copy(quotes, c.quotes)

	return Snapshot{
		Quotes:    quotes,
		FetchedAt: c.fetched,
		Stale:     c.fetched.IsZero() || time.Since(c.fetched) > c.refreshEvery,
	}
}

// Run fetches immediately, then keeps refreshing until ctx is cancelled.
// Run owns the only write path into the snapshot.
func (c *Cache) Run(ctx context.Context) {
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			timer.Reset(c.refreshOnce(ctx))
		}
	}
}

// refreshOnce performs one fetch attempt and returns the delay until the
// next one. The fetch gets its own timeout so a slow upstream cannot stall
// the schedule.
func (c *Cache) refreshOnce(ctx context.Context) time.Duration {
	fctx, cancel := context.WithTimeout(ctx, c.fetchTimeout)
	defer cancel()

	quotes, err := c.src.FetchQuotes(fctx)
	if err != nil {
		metrics.PriceFetchesTotal.WithLabelValues("error").Inc()
		return c.nextDelayAfterFailure(err)
	}

	c.mu.Lock()
	c.quotes = quotes
	c.fetched = time.Now()
	c.backoff = 0
	c.mu.Unlock()

	metrics.PriceFetchesTotal.WithLabelValues("ok").Inc()
	metrics.PriceBackoffSeconds.Set(0)
	slog.Debug("price snapshot refreshed", "quotes", len(quotes))

	if c.onUpdate != nil {
		c.onUpdate(c.Snapshot())
	}
	return c.refreshEvery
}

// nextDelayAfterFailure doubles the backoff (base = freshness window,
// capped at maxBackoff) and keeps the last good snapshot untouched. An
// explicit upstream retry hint lower-bounds the result.
func (c *Cache) nextDelayAfterFailure(err error) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.backoff == 0 {
		c.backoff = c.refreshEvery
	} else {
		c.backoff *= 2
		if c.backoff > c.maxBackoff {
			c.backoff = c.maxBackoff
		}
	}

	var rl *RateLimitError
	if errors.As(err, &rl) && rl.RetryAfter > c.backoff {
		c.backoff = rl.RetryAfter
	}

	metrics.PriceBackoffSeconds.Set(c.backoff.Seconds())
	slog.Warn("price fetch failed, serving stale snapshot",
		"err", err,
		"retry_in", c.backoff.String(),
	)
	return c.backoff
}
