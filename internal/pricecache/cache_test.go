package pricecache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

// fakeSource returns scripted results, one per call.
type fakeSource struct {
	results []fetchResult
	calls   int
}

type fetchResult struct {
	quotes []Quote
	err    error
}

func (f *fakeSource) FetchQuotes(_ context.Context) ([]Quote, error) {
	r := f.results[f.calls%len(f.results)]
	f.calls++
	return r.quotes, r.err
}

func btcQuote(price int64) []Quote {
	return []Quote{{CoinID: "bitcoin", Symbol: "BTC", Name: "Bitcoin", Price: decimal.NewFromInt(price)}}
}

const window = 60 * time.Second

func newTestCache(src Source) *Cache {
	return New(src, window, time.Second, 30*time.Minute)
}

func TestSnapshot_StaleBeforeFirstFetch(t *testing.T) {
	c := newTestCache(&fakeSource{results: []fetchResult{{quotes: btcQuote(50000)}}})

	snap := c.Snapshot()
	if !snap.Stale {
		t.Error("snapshot must be stale before any successful fetch")
	}
	if len(snap.Quotes) != 0 {
		t.Errorf("expected no quotes, got %d", len(snap.Quotes))
	}
}

func TestRefreshOnce_SuccessStoresSnapshot(t *testing.T) {
	c := newTestCache(&fakeSource{results: []fetchResult{{quotes: btcQuote(50000)}}})

	next := c.refreshOnce(context.Background())
	if next != window {
		t.Errorf("expected next delay %s after success, got %s", window, next)
	}

	snap := c.Snapshot()
	if snap.Stale {
		t.Error("fresh snapshot must not be stale")
	}
	price, ok := snap.Price("bitcoin")
	if !ok || !price.Equal(decimal.NewFromInt(50000)) {
		t.Errorf("expected bitcoin at 50000, got %s (ok=%v)", price, ok)
	}
}

func TestSnapshot_LookupBySymbol(t *testing.T) {
	c := newTestCache(&fakeSource{results: []fetchResult{{quotes: btcQuote(50000)}}})
	c.refreshOnce(context.Background())

	if _, ok := c.Snapshot().Price("btc"); !ok {
		t.Error("expected case-insensitive symbol lookup to succeed")
	}
	if _, ok := c.Snapshot().Price("dogecoin"); ok {
		t.Error("unknown coin must not resolve")
	}
}

func TestRefreshOnce_FailureKeepsLastGoodSnapshot(t *testing.T) {
	src := &fakeSource{results: []fetchResult{
		{quotes: btcQuote(50000)},
		{err: errors.New("connection refused")},
	}}
	c := newTestCache(src)

	c.refreshOnce(context.Background())
	c.refreshOnce(context.Background()) // fails

	snap := c.Snapshot()
	price, ok := snap.Price("bitcoin")
	if !ok || !price.Equal(decimal.NewFromInt(50000)) {
		t.Errorf("last good snapshot must survive a failed fetch, got %s (ok=%v)", price, ok)
	}
}

func TestRefreshOnce_SnapshotGoesStaleAfterWindow(t *testing.T) {
	c := newTestCache(&fakeSource{results: []fetchResult{{quotes: btcQuote(50000)}}})
	c.refreshOnce(context.Background())

	// Age the snapshot past the freshness window.
	c.mu.Lock()
	c.fetched = time.Now().Add(-2 * window)
	c.mu.Unlock()

	snap := c.Snapshot()
	if !snap.Stale {
		t.Error("snapshot older than the freshness window must be stale")
	}
	if _, ok := snap.Price("bitcoin"); !ok {
		t.Error("stale snapshot must still serve the last good data")
	}
}

func TestRefreshOnce_BackoffDoublesAndCaps(t *testing.T) {
	src := &fakeSource{results: []fetchResult{{err: errors.New("boom")}}}
	c := newTestCache(src)

	want := []time.Duration{
		window,     // first failure: base = freshness window
		2 * window, // doubled
		4 * window,
		8 * window,
		16 * window,
		30 * time.Minute, // 32*window would exceed the cap
		30 * time.Minute, // stays at the cap
	}
	for i, w := range want {
		got := c.refreshOnce(context.Background())
		if got != w {
			t.Fatalf("failure %d: expected delay %s, got %s", i+1, w, got)
		}
	}
}

func TestRefreshOnce_SuccessResetsBackoff(t *testing.T) {
	src := &fakeSource{results: []fetchResult{
		{err: errors.New("boom")},
		{err: errors.New("boom")},
		{quotes: btcQuote(50000)},
		{err: errors.New("boom")},
	}}
	c := newTestCache(src)

	c.refreshOnce(context.Background()) // fail: window
	c.refreshOnce(context.Background()) // fail: 2*window
	c.refreshOnce(context.Background()) // success: reset

	if got := c.refreshOnce(context.Background()); got != window {
		t.Errorf("backoff must restart at the base after a success, got %s", got)
	}
}

func TestRefreshOnce_RetryAfterHintLowerBoundsBackoff(t *testing.T) {
	hint := 5 * time.Minute
	src := &fakeSource{results: []fetchResult{
		{err: &RateLimitError{RetryAfter: hint}},
		{err: &RateLimitError{}}, // no hint: doubling continues from the hint
	}}
	c := newTestCache(src)

	if got := c.refreshOnce(context.Background()); got != hint {
		t.Errorf("expected retry hint %s to win over base backoff, got %s", hint, got)
	}
	if got := c.refreshOnce(context.Background()); got != 2*hint {
		t.Errorf("expected doubled backoff %s, got %s", 2*hint, got)
	}
}

func TestRefreshOnce_SmallRetryHintDoesNotShrinkBackoff(t *testing.T) {
	src := &fakeSource{results: []fetchResult{
		{err: errors.New("boom")},
		{err: &RateLimitError{RetryAfter: time.Second}},
	}}
	c := newTestCache(src)

	c.refreshOnce(context.Background()) // window
	if got := c.refreshOnce(context.Background()); got != 2*window {
		t.Errorf("a hint below the computed backoff must not shrink it, got %s", got)
	}
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	src := &fakeSource{results: []fetchResult{{quotes: btcQuote(50000)}}}
	c := New(src, 10*time.Millisecond, time.Second, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()

	// Let at least the initial fetch happen, then cancel.
	deadline := time.After(2 * time.Second)
	for c.Snapshot().FetchedAt.IsZero() {
		select {
		case <-deadline:
			t.Fatal("initial fetch never completed")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after context cancellation")
	}
}

func TestOnUpdate_CalledAfterSuccessfulRefresh(t *testing.T) {
	c := newTestCache(&fakeSource{results: []fetchResult{{quotes: btcQuote(50000)}}})

	var got *Snapshot
	c.OnUpdate(func(s Snapshot) { got = &s })

	c.refreshOnce(context.Background())
	if got == nil {
		t.Fatal("OnUpdate callback was not invoked")
	}
	if _, ok := got.Price("bitcoin"); !ok {
		t.Error("callback snapshot is missing the fetched quote")
	}
}
