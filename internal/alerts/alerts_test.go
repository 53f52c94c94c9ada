package alerts

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pricewatch/internal/notify"
	"pricewatch/models"
)

type fakeSettings struct{ s models.Settings }

func (f fakeSettings) Settings() models.Settings { return f.s }

type recordingSink struct {
	mu    sync.Mutex
	fired []string
}

func (s *recordingSink) Name() string { return "recording" }
func (s *recordingSink) Send(ctx context.Context, title, body string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fired = append(s.fired, title)
	return nil
}

func newEngine(rules models.AlertRules, sink *recordingSink) *Engine {
	dispatcher := &notify.Dispatcher{Sinks: []notify.Sink{sink}}
	return NewEngine(fakeSettings{s: models.Settings{AlertRules: rules}}, dispatcher)
}

func TestTargetHitFiresOnceThenCooldownSuppressesThenAllowsAfterWindow(t *testing.T) {
	rules := models.DefaultAlertRules()
	rules.NotifyCooldownMinutes = 240
	// only the target rule is under test; a drop from 110 would otherwise
	// also fire price-drop and all-time-low.
	rules.PriceDropEnabled = false
	rules.PriceDrop24hEnabled = false
	rules.AllTimeLowEnabled = false
	sink := &recordingSink{}
	e := newEngine(rules, sink)

	target := 100.0
	item := models.NewItem("i1", "https://x.example.com", "Widget")
	item.TargetPrice = &target

	old := 110.0
	e.EvaluatePriceChange(context.Background(), item, PriceChange{OldPrice: &old, NewPrice: 99, NewConfidence: 90})
	require.Len(t, sink.fired, 1)

	// second crossing of the target immediately after: suppressed by cooldown
	old2 := 110.0
	e.EvaluatePriceChange(context.Background(), item, PriceChange{OldPrice: &old2, NewPrice: 98, NewConfidence: 90})
	assert.Len(t, sink.fired, 1)

	// simulate cooldown elapsed by manipulating the tracker directly
	e.cooldowns.mu.Lock()
	for k := range e.cooldowns.last {
		e.cooldowns.last[k] = time.Now().Add(-5 * time.Hour)
	}
	e.cooldowns.mu.Unlock()

	e.EvaluatePriceChange(context.Background(), item, PriceChange{OldPrice: &old2, NewPrice: 97, NewConfidence: 90})
	assert.Len(t, sink.fired, 2)
}

func TestPriceDropFiresWhenNewBelowOld(t *testing.T) {
	rules := models.DefaultAlertRules()
	sink := &recordingSink{}
	e := newEngine(rules, sink)

	item := models.NewItem("i1", "https://x.example.com", "Widget")
	old := 50.0
	e.EvaluatePriceChange(context.Background(), item, PriceChange{OldPrice: &old, NewPrice: 45, NewConfidence: 90})

	assertContainsTitle(t, sink.fired, "Price drop")
}

func TestAllTimeLowComparesAgainstHistoryAndOldPrice(t *testing.T) {
	rules := models.DefaultAlertRules()
	sink := &recordingSink{}
	e := newEngine(rules, sink)

	item := models.NewItem("i1", "https://x.example.com", "Widget")
	old := 40.0
	history := []models.PricePoint{
		{Date: time.Now().Add(-72 * time.Hour), Price: 45},
		{Date: time.Now().Add(-48 * time.Hour), Price: 42},
	}

	e.EvaluatePriceChange(context.Background(), item, PriceChange{OldPrice: &old, OldHistory: history, NewPrice: 39, NewConfidence: 90})
	assertContainsTitle(t, sink.fired, "All-time low")
}

func TestAllTimeLowDoesNotFireWhenNotANewLow(t *testing.T) {
	rules := models.DefaultAlertRules()
	sink := &recordingSink{}
	e := newEngine(rules, sink)

	item := models.NewItem("i1", "https://x.example.com", "Widget")
	old := 40.0
	history := []models.PricePoint{{Date: time.Now().Add(-48 * time.Hour), Price: 30}}

	e.EvaluatePriceChange(context.Background(), item, PriceChange{OldPrice: &old, OldHistory: history, NewPrice: 35, NewConfidence: 90})
	assertNotContainsTitle(t, sink.fired, "All-time low")
}

func TestLowConfidenceFiresInOpenInterval(t *testing.T) {
	rules := models.DefaultAlertRules()
	rules.LowConfidenceThreshold = 55
	sink := &recordingSink{}
	e := newEngine(rules, sink)

	item := models.NewItem("i1", "https://x.example.com", "Widget")
	old := 40.0
	e.EvaluatePriceChange(context.Background(), item, PriceChange{OldPrice: &old, NewPrice: 41, NewConfidence: 30})
	assertContainsTitle(t, sink.fired, "Low-confidence extraction")
}

func TestLowConfidenceDoesNotFireAtZero(t *testing.T) {
	rules := models.DefaultAlertRules()
	sink := &recordingSink{}
	e := newEngine(rules, sink)

	item := models.NewItem("i1", "https://x.example.com", "Widget")
	old := 40.0
	e.EvaluatePriceChange(context.Background(), item, PriceChange{OldPrice: &old, NewPrice: 41, NewConfidence: 0})
	assertNotContainsTitle(t, sink.fired, "Low-confidence extraction")
}

func TestOutOfStockTransitionFiresOnlyOnTransition(t *testing.T) {
	rules := models.DefaultAlertRules()
	sink := &recordingSink{}
	e := newEngine(rules, sink)

	item := models.NewItem("i1", "https://x.example.com", "Widget")
	item.StockStatus = models.StockOutOfStock

	e.EvaluateOutOfStockTransition(context.Background(), item, models.StockInStock)
	assertContainsTitle(t, sink.fired, "Out of stock")

	before := len(sink.fired)
	e.EvaluateOutOfStockTransition(context.Background(), item, models.StockOutOfStock)
	assert.Len(t, sink.fired, before, "no re-fire when already out of stock")
}

func TestStaleFiresOnlyPastThreshold(t *testing.T) {
	rules := models.DefaultAlertRules()
	rules.StaleHours = 12
	sink := &recordingSink{}
	e := newEngine(rules, sink)

	item := models.NewItem("i1", "https://x.example.com", "Widget")
	item.LastChecked = time.Now().Add(-1 * time.Hour)
	e.EvaluateStale(context.Background(), item)
	assert.Empty(t, sink.fired)

	item.LastChecked = time.Now().Add(-13 * time.Hour)
	e.EvaluateStale(context.Background(), item)
	assertContainsTitle(t, sink.fired, "Stale item")
}

func TestStaleFiresOffFirstAttemptWhenNeverSucceeded(t *testing.T) {
	rules := models.DefaultAlertRules()
	rules.StaleHours = 12
	sink := &recordingSink{}
	e := newEngine(rules, sink)

	item := models.NewItem("i1", "https://x.example.com", "Widget")
	// item has never had a successful check: LastChecked is zero.
	item.LastCheckAttempt = time.Now().Add(-13 * time.Hour)
	e.EvaluateStale(context.Background(), item)
	assertContainsTitle(t, sink.fired, "Stale item")
}

func TestCooldownTrackerPrunesDeadItems(t *testing.T) {
	ct := NewCooldownTracker()
	now := time.Now()
	assert.True(t, ct.Allow(RuleTargetHit, "alive", time.Hour, now))
	assert.True(t, ct.Allow(RuleTargetHit, "dead", time.Hour, now))

	ct.Prune([]string{"alive"})

	ct.mu.Lock()
	_, deadStillThere := ct.last[cooldownKey{RuleTargetHit, "dead"}]
	_, aliveStillThere := ct.last[cooldownKey{RuleTargetHit, "alive"}]
	ct.mu.Unlock()

	assert.False(t, deadStillThere)
	assert.True(t, aliveStillThere)
}

func assertContainsTitle(t *testing.T, fired []string, title string) {
	t.Helper()
	for _, f := range fired {
		if f == title {
			return
		}
	}
	t.Fatalf("expected %q among fired titles %v", title, fired)
}

func assertNotContainsTitle(t *testing.T, fired []string, title string) {
	t.Helper()
	for _, f := range fired {
		if f == title {
			t.Fatalf("did not expect %q among fired titles %v", title, fired)
		}
	}
}
