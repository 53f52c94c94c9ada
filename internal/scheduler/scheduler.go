// Package scheduler walks every tracked item on an hourly tick, running
// each through URL Guard -> Browser Pool -> Extractor -> item-state
// mutation -> Alert Engine, one item at a time with a pacing delay
// between fetches (spec §4.6, §5).
//
// The single shared allocator/fetch-one-at-a-time shape follows the
// teacher's main.go loop (a semaphore-bounded fan-out over tickers);
// here concurrency is intentionally removed -- spec §5 calls for a
// single in-flight fetch system-wide -- and replaced with
// golang.org/x/sync/singleflight so a manual Trigger() can never
// overlap the periodic tick.
package scheduler

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"pricewatch/internal/alerts"
	"pricewatch/internal/extractor"
	"pricewatch/models"
)

var ErrSweepBusy = errors.New("scheduler: sweep already in progress")

// Stats summarizes one completed sweep.
type Stats struct {
	StartedAt  time.Time
	FinishedAt time.Time
	Checked    int
	Failed     int
}

// URLValidator rejects fetch targets that fail the SSRF guard (satisfied
// by *urlguard.Guard).
type URLValidator interface {
	Validate(ctx context.Context, rawURL string) error
}

// Fetcher retrieves rendered HTML for a URL (satisfied by *browser.Pool).
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (string, error)
}

// USDConverter converts an amount in currency to USD (satisfied by
// *fx.Table).
type USDConverter interface {
	ToUSD(amount float64, currency string) (*float64, error)
}

// AlertEvaluator evaluates and dispatches alert rules (satisfied by
// *alerts.Engine).
type AlertEvaluator interface {
	EvaluatePriceChange(ctx context.Context, item *models.Item, pc alerts.PriceChange)
	EvaluateOutOfStockTransition(ctx context.Context, item *models.Item, oldStatus models.StockStatus)
	EvaluateStale(ctx context.Context, item *models.Item)
	PruneCooldowns(liveItemIDs []string)
}

// ItemStore persists tracked items (satisfied by *store.FileStore). Items
// returns them in insertion order (spec §4.6, §5: "within a sweep, items
// are processed in insertion order").
type ItemStore interface {
	Items() []*models.Item
	PutItem(item *models.Item) error
}

// DiagnosticsRecorder appends check outcomes (satisfied by
// *store.Diagnostics).
type DiagnosticsRecorder interface {
	Record(e models.DiagnosticEntry)
}

// Scheduler owns the periodic sweep loop.
type Scheduler struct {
	guard   URLValidator
	pool    Fetcher
	fxTable USDConverter
	alerts  AlertEvaluator
	items   ItemStore
	diag    DiagnosticsRecorder

	itemPace   time.Duration
	sweepEvery time.Duration

	sf       singleflight.Group
	mu       sync.RWMutex
	last     Stats
	cur      string // item ID currently being checked, "" when idle
	sweeping bool
}

// New builds a Scheduler.
func New(guard URLValidator, pool Fetcher, fxTable USDConverter, engine AlertEvaluator, items ItemStore, diag DiagnosticsRecorder, sweepEvery, itemPace time.Duration) *Scheduler {
	return &Scheduler{
		guard:      guard,
		pool:       pool,
		fxTable:    fxTable,
		alerts:     engine,
		items:      items,
		diag:       diag,
		itemPace:   itemPace,
		sweepEvery: sweepEvery,
	}
}

// Start runs sweeps on sweepEvery until ctx is cancelled. The first sweep
// fires immediately.
func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.sweepEvery)
	defer ticker.Stop()

	s.runSweep(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runSweep(ctx)
		}
	}
}

// Trigger runs an out-of-band sweep immediately, returning ErrSweepBusy
// without blocking if a sweep (periodic or triggered) is already in
// flight (spec §5: "no two sweeps run concurrently").
func (s *Scheduler) Trigger(ctx context.Context) error {
	s.mu.RLock()
	busy := s.sweeping
	s.mu.RUnlock()
	if busy {
		return ErrSweepBusy
	}
	s.runSweep(ctx)
	return nil
}

// CurrentlySweepingItemID returns the item ID in flight, or "" if idle.
func (s *Scheduler) CurrentlySweepingItemID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cur
}

// LastSweepStats returns a snapshot of the most recently completed sweep.
func (s *Scheduler) LastSweepStats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last
}

func (s *Scheduler) runSweep(ctx context.Context) {
	// A single singleflight key means the periodic tick and any Trigger
	// call racing against it collapse onto one in-flight sweep instead of
	// running two (spec §5: "no two sweeps run concurrently").
	_, _, _ = s.sf.Do("sweep", func() (any, error) {
		s.mu.Lock()
		s.sweeping = true
		s.mu.Unlock()

		s.doSweep(ctx)

		s.mu.Lock()
		s.sweeping = false
		s.mu.Unlock()
		return nil, nil
	})
}

func (s *Scheduler) doSweep(ctx context.Context) {
	stats := Stats{StartedAt: time.Now()}

	// Items() hands back items in insertion order (spec §4.6, §5: "within
	// a sweep, items are processed in insertion order"); that order is
	// walked as-is, not re-derived from map iteration.
	items := s.items.Items()
	ids := make([]string, 0, len(items))
	for _, it := range items {
		ids = append(ids, it.ID)
	}

	for i, item := range items {
		select {
		case <-ctx.Done():
			s.finishSweep(stats)
			return
		default:
		}

		s.mu.Lock()
		s.cur = item.ID
		s.mu.Unlock()

		ok := s.checkItem(ctx, item)
		stats.Checked++
		if !ok {
			stats.Failed++
		}

		s.mu.Lock()
		s.cur = ""
		s.mu.Unlock()

		if i < len(items)-1 && s.itemPace > 0 {
			select {
			case <-ctx.Done():
				s.finishSweep(stats)
				return
			case <-time.After(s.itemPace):
			}
		}
	}

	s.alerts.PruneCooldowns(ids)
	s.finishSweep(stats)
}

func (s *Scheduler) finishSweep(stats Stats) {
	stats.FinishedAt = time.Now()
	s.mu.Lock()
	s.last = stats
	s.mu.Unlock()
	log.Printf("[scheduler] sweep finished: checked=%d failed=%d duration=%s", stats.Checked, stats.Failed, stats.FinishedAt.Sub(stats.StartedAt))
}

// checkItem runs one item through the full pipeline, recording a
// diagnostic entry and firing alerts regardless of outcome (spec §7:
// "one item's failure never aborts the sweep").
func (s *Scheduler) checkItem(ctx context.Context, item *models.Item) bool {
	now := time.Now()
	item.LastCheckAttempt = now

	entry := models.DiagnosticEntry{
		Time:     now,
		ItemID:   item.ID,
		ItemName: item.Name,
		URL:      item.URL,
		ListID:   item.ListID,
	}

	if err := s.guard.Validate(ctx, item.URL); err != nil {
		s.recordFailure(ctx, item, &entry, err)
		return false
	}

	html, err := s.pool.Fetch(ctx, item.URL)
	if err != nil {
		s.recordFailure(ctx, item, &entry, err)
		return false
	}

	result, err := extractor.Extract(html, item.Selector, item.URL)
	if err != nil && result.Source != "availability-gate" {
		s.recordFailure(ctx, item, &entry, err)
		return false
	}

	s.applyResult(ctx, item, result)

	entry.OK = true
	entry.Price = item.CurrentPrice
	entry.Currency = item.Currency
	entry.Confidence = item.ExtractionConfidence
	entry.Source = result.Source
	entry.SelectorUsed = result.SelectorUsed
	entry.StockStatus = item.StockStatus
	entry.OutOfStock = item.StockStatus == models.StockOutOfStock
	entry.StockReason = item.StockReason
	s.diag.Record(entry)

	if err := s.items.PutItem(item); err != nil {
		log.Printf("[scheduler] failed to persist item %s: %v", item.ID, err)
	}

	return true
}

func (s *Scheduler) recordFailure(ctx context.Context, item *models.Item, entry *models.DiagnosticEntry, err error) {
	item.LastCheckStatus = models.CheckFail
	item.LastCheckError = err.Error()

	entry.OK = false
	entry.Error = err.Error()
	s.diag.Record(*entry)

	log.Printf("[scheduler] check failed for %s (%s): %v", item.ID, item.URL, err)

	s.alerts.EvaluateStale(ctx, item)

	if saveErr := s.items.PutItem(item); saveErr != nil {
		log.Printf("[scheduler] failed to persist item %s: %v", item.ID, saveErr)
	}
}

// applyResult folds an ExtractionResult into the item's observed state
// following spec §4.6's literal update semantics: when status is
// out_of_stock but a price was nonetheless recovered, only lastSeenPrice
// moves (currentPrice and history are untouched); otherwise, when the
// price changed, alerts are evaluated against the OLD price/history
// before currentPrice is overwritten, and the history point is appended
// only if the price differs from the last entry or 24h have elapsed
// since it. Stock and confidence fields and lastChecked always update;
// currency and the USD conversion update in every branch that read a
// price, and priceInUSD is cleared when no price was read.
func (s *Scheduler) applyResult(ctx context.Context, item *models.Item, result models.ExtractionResult) {
	oldStatus := item.StockStatus
	oldPrice := item.CurrentPrice
	oldHistory := item.History

	item.LastChecked = time.Now()
	item.LastCheckStatus = models.CheckOK
	item.LastCheckError = ""

	item.StockStatus = result.Availability.Status
	item.StockConfidence = result.Availability.Confidence
	item.StockReason = result.Availability.Reason
	item.StockSource = result.Availability.Source
	item.ExtractionConfidence = result.Confidence

	recoveredWhileOOS := item.StockStatus == models.StockOutOfStock && result.Price != nil

	switch {
	case result.Price == nil:
		item.CurrentPrice = nil
		item.PriceInUSD = nil

	case recoveredWhileOOS:
		item.LastSeenPrice = result.Price
		item.Currency = result.Currency
		if usd, err := s.fxTable.ToUSD(*result.Price, result.Currency); err == nil {
			item.PriceInUSD = usd
		}

	case oldPrice == nil || *result.Price != *oldPrice:
		s.alerts.EvaluatePriceChange(ctx, item, alerts.PriceChange{
			OldPrice:      oldPrice,
			OldHistory:    oldHistory,
			NewPrice:      *result.Price,
			NewConfidence: result.Confidence,
		})

		item.CurrentPrice = result.Price
		item.LastSeenPrice = result.Price
		item.Currency = result.Currency
		if usd, err := s.fxTable.ToUSD(*result.Price, result.Currency); err == nil {
			item.PriceInUSD = usd
		}

		if shouldAppendHistory(oldHistory, *result.Price, item.LastChecked) {
			item.History = append(item.History, models.PricePoint{Date: item.LastChecked, Price: *result.Price})
		}

	default:
		// Price unchanged: no alert evaluation, no history append (spec
		// §4.6); currency and the USD conversion are still refreshed.
		item.LastSeenPrice = result.Price
		item.Currency = result.Currency
		if usd, err := s.fxTable.ToUSD(*result.Price, result.Currency); err == nil {
			item.PriceInUSD = usd
		}
	}

	s.alerts.EvaluateOutOfStockTransition(ctx, item, oldStatus)
}

// shouldAppendHistory implements spec §4.6's history-append condition:
// append iff the new price differs from the last recorded point, or more
// than 24h have passed since it.
func shouldAppendHistory(history []models.PricePoint, newPrice float64, now time.Time) bool {
	if len(history) == 0 {
		return true
	}
	last := history[len(history)-1]
	return last.Price != newPrice || now.Sub(last.Date) > 24*time.Hour
}
