package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pricewatch/internal/alerts"
	"pricewatch/models"
)

type fakeGuard struct{ err error }

func (g fakeGuard) Validate(ctx context.Context, rawURL string) error { return g.err }

type fakeFetcher struct {
	html string
	err  error
	// delay lets TestTriggerReportsBusyDuringInFlightSweep hold the fetch open long enough
	// for a second trigger to observe busy.
	delay   time.Duration
	calls   int
	mu      sync.Mutex
}

func (f *fakeFetcher) Fetch(ctx context.Context, rawURL string) (string, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	return f.html, f.err
}

type fakeFX struct{}

func (fakeFX) ToUSD(amount float64, currency string) (*float64, error) {
	v := amount
	return &v, nil
}

type fakeAlerts struct {
	priceChanges int
	oosFires     int
	staleFires   int
	pruned       []string
}

func (f *fakeAlerts) EvaluatePriceChange(ctx context.Context, item *models.Item, pc alerts.PriceChange) {
	f.priceChanges++
}
func (f *fakeAlerts) EvaluateOutOfStockTransition(ctx context.Context, item *models.Item, oldStatus models.StockStatus) {
	if item.StockStatus == models.StockOutOfStock && oldStatus != models.StockOutOfStock {
		f.oosFires++
	}
}
func (f *fakeAlerts) EvaluateStale(ctx context.Context, item *models.Item) { f.staleFires++ }
func (f *fakeAlerts) PruneCooldowns(liveItemIDs []string)                 { f.pruned = liveItemIDs }

type fakeStore struct {
	mu    sync.Mutex
	items map[string]*models.Item
	order []string
}

func newFakeStore(items ...*models.Item) *fakeStore {
	m := map[string]*models.Item{}
	order := make([]string, 0, len(items))
	for _, it := range items {
		m[it.ID] = it
		order = append(order, it.ID)
	}
	return &fakeStore{items: m, order: order}
}

// Items returns items in insertion order, mirroring FileStore's contract.
func (s *fakeStore) Items() []*models.Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.Item, 0, len(s.order))
	for _, id := range s.order {
		if it, ok := s.items[id]; ok {
			out = append(out, it)
		}
	}
	return out
}

func (s *fakeStore) PutItem(item *models.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.items[item.ID]; !exists {
		s.order = append(s.order, item.ID)
	}
	s.items[item.ID] = item
	return nil
}

type fakeDiag struct {
	mu      sync.Mutex
	entries []models.DiagnosticEntry
}

func (d *fakeDiag) Record(e models.DiagnosticEntry) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.entries = append(d.entries, e)
}

const sampleHTML = `<html><head>
<script type="application/ld+json">{"@type":"Product","offers":{"price":"19.99","priceCurrency":"USD","availability":"https://schema.org/InStock"}}</script>
</head><body></body></html>`

func TestCheckItemSuccessPersistsAndRecordsDiagnostic(t *testing.T) {
	item := models.NewItem("i1", "https://shop.example.com/p/1", "Widget")
	fetcher := &fakeFetcher{html: sampleHTML}
	diag := &fakeDiag{}
	al := &fakeAlerts{}
	st := newFakeStore(item)

	s := New(fakeGuard{}, fetcher, fakeFX{}, al, st, diag, time.Hour, 0)

	ok := s.checkItem(context.Background(), item)
	require.True(t, ok)
	assert.Equal(t, models.CheckOK, item.LastCheckStatus)
	require.NotNil(t, item.CurrentPrice)
	assert.InDelta(t, 19.99, *item.CurrentPrice, 0.001)
	assert.Len(t, diag.entries, 1)
	assert.True(t, diag.entries[0].OK)
}

func TestCheckItemGuardFailureRecordsFailureAndStale(t *testing.T) {
	item := models.NewItem("i1", "https://shop.example.com/p/1", "Widget")
	item.LastChecked = time.Now().Add(-48 * time.Hour)

	fetcher := &fakeFetcher{html: sampleHTML}
	diag := &fakeDiag{}
	al := &fakeAlerts{}
	st := newFakeStore(item)

	s := New(fakeGuard{err: errors.New("blocked")}, fetcher, fakeFX{}, al, st, diag, time.Hour, 0)

	ok := s.checkItem(context.Background(), item)
	assert.False(t, ok)
	assert.Equal(t, models.CheckFail, item.LastCheckStatus)
	assert.Equal(t, 0, fetcher.calls)
	assert.Equal(t, 1, al.staleFires)
}

func TestApplyResultFiresOutOfStockTransitionOnce(t *testing.T) {
	item := models.NewItem("i1", "https://shop.example.com/p/1", "Widget")
	item.StockStatus = models.StockInStock
	al := &fakeAlerts{}
	s := New(fakeGuard{}, &fakeFetcher{}, fakeFX{}, al, newFakeStore(item), &fakeDiag{}, time.Hour, 0)

	result := models.ExtractionResult{
		Availability: models.AvailabilityResult{Status: models.StockOutOfStock, Confidence: 90},
	}
	s.applyResult(context.Background(), item, result)
	assert.Equal(t, 1, al.oosFires)

	// second consecutive out-of-stock result must not re-fire the transition
	s.applyResult(context.Background(), item, result)
	assert.Equal(t, 1, al.oosFires)
}

func TestApplyResultSkipsHistoryAppendWhenPriceUnchanged(t *testing.T) {
	item := models.NewItem("i1", "https://shop.example.com/p/1", "Widget")
	price := 10.0
	item.CurrentPrice = &price
	item.History = []models.PricePoint{{Date: time.Now().Add(-time.Hour), Price: 10.0}}

	al := &fakeAlerts{}
	s := New(fakeGuard{}, &fakeFetcher{}, fakeFX{}, al, newFakeStore(item), &fakeDiag{}, time.Hour, 0)

	result := models.ExtractionResult{
		Price:        &price,
		Currency:     "USD",
		Confidence:   90,
		Availability: models.AvailabilityResult{Status: models.StockInStock},
	}
	s.applyResult(context.Background(), item, result)

	assert.Len(t, item.History, 1)
	assert.Equal(t, 0, al.priceChanges)
}

func TestApplyResultRetainsLastSeenPriceWhileOutOfStock(t *testing.T) {
	item := models.NewItem("i1", "https://shop.example.com/p/1", "Widget")
	oldPrice := 25.0
	item.CurrentPrice = &oldPrice
	item.StockStatus = models.StockInStock

	al := &fakeAlerts{}
	s := New(fakeGuard{}, &fakeFetcher{}, fakeFX{}, al, newFakeStore(item), &fakeDiag{}, time.Hour, 0)

	stalePrice := 25.0
	result := models.ExtractionResult{
		Price:        &stalePrice,
		Currency:     "USD",
		Availability: models.AvailabilityResult{Status: models.StockOutOfStock, Confidence: 92},
	}
	s.applyResult(context.Background(), item, result)

	require.NotNil(t, item.CurrentPrice)
	assert.Equal(t, oldPrice, *item.CurrentPrice, "currentPrice must not move while OOS")
	require.NotNil(t, item.LastSeenPrice)
	assert.Equal(t, stalePrice, *item.LastSeenPrice)
	assert.Empty(t, item.History)
}

func TestTriggerReportsBusyDuringInFlightSweep(t *testing.T) {
	item := models.NewItem("i1", "https://shop.example.com/p/1", "Widget")
	fetcher := &fakeFetcher{html: sampleHTML, delay: 150 * time.Millisecond}
	al := &fakeAlerts{}
	s := New(fakeGuard{}, fetcher, fakeFX{}, al, newFakeStore(item), &fakeDiag{}, time.Hour, 0)

	go s.Trigger(context.Background())
	time.Sleep(30 * time.Millisecond)

	err := s.Trigger(context.Background())
	assert.ErrorIs(t, err, ErrSweepBusy)
}
