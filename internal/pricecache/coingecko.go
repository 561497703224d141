package pricecache

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DefaultBaseURL is the public CoinGecko API root.
const DefaultBaseURL = "https://api.coingecko.com/api/v3"

// CoinGeckoSource fetches market quotes from the CoinGecko /coins/markets
// endpoint for a fixed set of coin ids.
type CoinGeckoSource struct {
	baseURL string
	ids     []string
	client  *http.Client
}

// NewCoinGeckoSource creates a source for the given provider coin ids
// ("bitcoin", "ethereum", ...). The client's timeout is left to the caller;
// the cache applies a per-fetch context deadline.
func NewCoinGeckoSource(baseURL string, ids []string, client *http.Client) *CoinGeckoSource {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if client == nil {
		client = &http.Client{}
	}
	return &CoinGeckoSource{baseURL: baseURL, ids: ids, client: client}
}

// marketItem mirrors the fields of the /coins/markets response we care about.
type marketItem struct {
	ID              string           `json:"id"`
	Symbol          string           `json:"symbol"`
	Name            string           `json:"name"`
	CurrentPrice    *decimal.Decimal `json:"current_price"`
	Change24hInCurr *decimal.Decimal `json:"price_change_percentage_24h_in_currency"`
	Change24h       *decimal.Decimal `json:"price_change_percentage_24h"`
	Change7dInCurr  *decimal.Decimal `json:"price_change_percentage_7d_in_currency"`
	MarketCap       *decimal.Decimal `json:"market_cap"`
}

// FetchQuotes performs one upstream request. A 429 response maps to
// *RateLimitError carrying the Retry-After hint when present.
func (s *CoinGeckoSource) FetchQuotes(ctx context.Context) ([]Quote, error) {
	u := fmt.Sprintf("%s/coins/markets?vs_currency=usd&ids=%s&price_change_percentage=24h,7d",
		s.baseURL, url.QueryEscape(strings.Join(s.ids, ",")))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "dautuao/1.0")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 512))
		return nil, &RateLimitError{RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"))}
	}
	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("coingecko: unexpected status %d: %s", resp.StatusCode, snippet)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.Contains(ct, "application/json") {
		return nil, fmt.Errorf("coingecko: unexpected content-type %q", ct)
	}

	var items []marketItem
	if err := json.NewDecoder(resp.Body).Decode(&items); err != nil {
		return nil, fmt.Errorf("coingecko: decode response: %w", err)
	}

	quotes := make([]Quote, 0, len(items))
	for _, it := range items {
		if it.CurrentPrice == nil {
			continue // a quote without a price is no quote at all
		}
		change24 := it.Change24hInCurr
		if change24 == nil {
			change24 = it.Change24h
		}
		quotes = append(quotes, Quote{
			CoinID:    it.ID,
			Symbol:    strings.ToUpper(it.Symbol),
			Name:      it.Name,
			Price:     *it.CurrentPrice,
			Change24h: change24,
			Change7d:  it.Change7dInCurr,
			MarketCap: it.MarketCap,
		})
	}
	return quotes, nil
}

// parseRetryAfter handles the delay-seconds form of the Retry-After header.
func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
