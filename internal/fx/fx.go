// Package fx holds USD-relative currency rates, refreshed hourly from an
// external feed (spec §4.5).
//
// The RWMutex-guarded cache, keep-previous-on-failure shape
// follows other_examples' status-im-market-proxy coingecko_prices
// PeriodicUpdater: a ticker-driven refresh loop that never lets a failed
// fetch clobber the last-known-good values.
package fx

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
)

var ErrRateFetchFailed = errors.New("fx: rate fetch failed")

// defaultRates seeds the table before the first successful refresh.
var defaultRates = map[string]float64{
	"USD": 1,
	"EUR": 0.92,
	"GBP": 0.78,
	"TRY": 32.5,
	"JPY": 151.0,
	"CNY": 7.2,
	"CAD": 1.36,
	"AUD": 1.52,
}

type rateFeedResponse struct {
	Rates map[string]float64 `json:"rates"`
}

// Table is a USD-relative currency rate cache.
type Table struct {
	feedURL string
	client  *resty.Client

	mu    sync.RWMutex
	rates map[string]float64
}

// New builds a Table seeded with defaultRates.
func New(feedURL string) *Table {
	rates := make(map[string]float64, len(defaultRates))
	for k, v := range defaultRates {
		rates[k] = v
	}
	return &Table{
		feedURL: feedURL,
		client:  resty.New().SetTimeout(10 * time.Second),
		rates:   rates,
	}
}

// ToUSD converts amount of currency to USD (spec §4.5). Returns amount
// unchanged if the rate is missing or zero, nil if amount is not finite.
func (t *Table) ToUSD(amount float64, currency string) (*float64, error) {
	if math.IsNaN(amount) || math.IsInf(amount, 0) {
		return nil, nil
	}

	t.mu.RLock()
	rate, ok := t.rates[currency]
	t.mu.RUnlock()

	if !ok || rate == 0 {
		v := amount
		return &v, nil
	}

	v := amount / rate
	return &v, nil
}

// Refresh fetches the latest rates. On any failure, the previous rates are
// left untouched (spec §4.5).
func (t *Table) Refresh(ctx context.Context) error {
	var body rateFeedResponse

	resp, err := t.client.R().
		SetContext(ctx).
		SetResult(&body).
		Get(t.feedURL)
	if err != nil {
		log.Printf("[fx] refresh failed: %v", err)
		return fmt.Errorf("%w: %v", ErrRateFetchFailed, err)
	}
	if resp.IsError() {
		log.Printf("[fx] refresh failed: status %d", resp.StatusCode())
		return fmt.Errorf("%w: status %d", ErrRateFetchFailed, resp.StatusCode())
	}
	if len(body.Rates) == 0 {
		log.Printf("[fx] refresh returned no rates, keeping previous")
		return fmt.Errorf("%w: empty rate set", ErrRateFetchFailed)
	}

	t.mu.Lock()
	for k, v := range body.Rates {
		t.rates[k] = v
	}
	t.rates["USD"] = 1
	t.mu.Unlock()

	log.Printf("[fx] refreshed %d rates", len(body.Rates))
	return nil
}

// Start runs the hourly refresh loop until ctx is cancelled.
func (t *Table) Start(ctx context.Context) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	if err := t.Refresh(ctx); err != nil {
		log.Printf("[fx] initial refresh failed: %v", err)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := t.Refresh(ctx); err != nil {
				log.Printf("[fx] scheduled refresh failed: %v", err)
			}
		}
	}
}

// Snapshot returns a copy of the current rate map, for diagnostics.
func (t *Table) Snapshot() map[string]float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]float64, len(t.rates))
	for k, v := range t.rates {
		out[k] = v
	}
	return out
}
