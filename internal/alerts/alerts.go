// Package alerts evaluates the configurable per-item rules of spec §4.7
// and dispatches fired alerts to every configured notification sink,
// cooldown-bounded per (rule, item).
//
// The uuid-tagged, per-sink-isolated dispatch shape is adapted from the
// teacher's services/messenger.go Messenger interface (SendMessage /
// SendAlerts fan-out over multiple channels), generalized from a fixed
// Line/Telegram pair to the notify.Sink interface and from "every price
// on a timer" to "one rule firing on one item".
package alerts

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/montanaflynn/stats"

	"pricewatch/internal/notify"
	"pricewatch/models"
)

// Rule identifies one of the seven configurable alert kinds (spec §4.7).
type Rule string

const (
	RuleTargetHit    Rule = "target"
	RulePriceDrop    Rule = "price_drop"
	RulePriceDrop24h Rule = "price_drop_24h"
	RuleAllTimeLow   Rule = "all_time_low"
	RuleLowConfidence Rule = "low_confidence"
	RuleStale        Rule = "stale"
	RuleOutOfStock   Rule = "out_of_stock"
)

type cooldownKey struct {
	rule   Rule
	itemID string
}

// CooldownTracker records the last-fire time per (rule, item), suppressing
// re-fires inside the configured window (spec §4.7, §9).
type CooldownTracker struct {
	mu   sync.Mutex
	last map[cooldownKey]time.Time
}

func NewCooldownTracker() *CooldownTracker {
	return &CooldownTracker{last: map[cooldownKey]time.Time{}}
}

// Allow reports whether (rule, itemID) may fire now, and if so records the
// fire.
func (c *CooldownTracker) Allow(rule Rule, itemID string, window time.Duration, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := cooldownKey{rule, itemID}
	if last, ok := c.last[key]; ok && now.Sub(last) < window {
		return false
	}
	c.last[key] = now
	return true
}

// Prune drops cooldown entries for items no longer tracked (spec §9:
// "a periodic sweep may prune keys whose items no longer exist").
func (c *CooldownTracker) Prune(liveItemIDs []string) {
	live := make(map[string]bool, len(liveItemIDs))
	for _, id := range liveItemIDs {
		live[id] = true
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.last {
		if !live[k.itemID] {
			delete(c.last, k)
		}
	}
}

// SettingsSource supplies the live, user-editable alert configuration.
type SettingsSource interface {
	Settings() models.Settings
}

// Engine evaluates alert rules and dispatches fires to every sink.
type Engine struct {
	settings  SettingsSource
	cooldowns *CooldownTracker
	dispatch  *notify.Dispatcher
}

func NewEngine(settings SettingsSource, dispatch *notify.Dispatcher) *Engine {
	return &Engine{
		settings:  settings,
		cooldowns: NewCooldownTracker(),
		dispatch:  dispatch,
	}
}

// PruneCooldowns delegates to the cooldown tracker, invoked once per
// scheduler sweep.
func (e *Engine) PruneCooldowns(liveItemIDs []string) {
	e.cooldowns.Prune(liveItemIDs)
}

// PriceChange carries the pre-mutation state a successful check's alert
// evaluation needs (spec §4.6: "evaluate alerts... THEN set currentPrice").
type PriceChange struct {
	OldPrice       *float64
	OldHistory     []models.PricePoint
	NewPrice       float64
	NewConfidence  int
}

// EvaluatePriceChange runs the five price-keyed rules against a single
// item whose price has just changed, firing each that matches and is not
// in cooldown.
func (e *Engine) EvaluatePriceChange(ctx context.Context, item *models.Item, pc PriceChange) {
	rules := e.settings.Settings().AlertRules
	now := time.Now()

	if rules.TargetHitEnabled && item.TargetPrice != nil {
		hit := pc.NewPrice <= *item.TargetPrice && (pc.OldPrice == nil || *pc.OldPrice > *item.TargetPrice)
		if hit {
			e.fire(ctx, RuleTargetHit, item, rules, now,
				"Target price reached",
				fmt.Sprintf("%s dropped to %.2f %s (target %.2f)", item.Name, pc.NewPrice, item.Currency, *item.TargetPrice))
		}
	}

	droppedVsOld := pc.OldPrice != nil && pc.NewPrice < *pc.OldPrice

	if rules.PriceDropEnabled && droppedVsOld {
		e.fire(ctx, RulePriceDrop, item, rules, now,
			"Price drop",
			fmt.Sprintf("%s: %.2f -> %.2f %s", item.Name, *pc.OldPrice, pc.NewPrice, item.Currency))
	}

	if rules.PriceDrop24hEnabled && droppedVsOld {
		if ref, ok := closestHistoryPoint(pc.OldHistory, now.Add(-24*time.Hour)); ok && ref.Price > 0 {
			pct := (ref.Price - pc.NewPrice) / ref.Price * 100
			if pct >= rules.PriceDrop24hPercent {
				e.fire(ctx, RulePriceDrop24h, item, rules, now,
					"24h price drop",
					fmt.Sprintf("%s dropped %.1f%% in 24h (%.2f -> %.2f %s)", item.Name, pct, ref.Price, pc.NewPrice, item.Currency))
			}
		}
	}

	if rules.AllTimeLowEnabled {
		candidates := make([]float64, 0, len(pc.OldHistory)+1)
		for _, p := range pc.OldHistory {
			candidates = append(candidates, p.Price)
		}
		if pc.OldPrice != nil {
			candidates = append(candidates, *pc.OldPrice)
		}
		if len(candidates) > 0 {
			if low, err := stats.Min(candidates); err == nil && pc.NewPrice < low {
				e.fire(ctx, RuleAllTimeLow, item, rules, now,
					"All-time low",
					fmt.Sprintf("%s hit a new low: %.2f %s", item.Name, pc.NewPrice, item.Currency))
			}
		}
	}

	if rules.LowConfidenceEnabled && pc.NewConfidence > 0 && pc.NewConfidence < rules.LowConfidenceThreshold {
		e.fire(ctx, RuleLowConfidence, item, rules, now,
			"Low-confidence extraction",
			fmt.Sprintf("%s was read with confidence %d%%, below threshold %d%%", item.Name, pc.NewConfidence, rules.LowConfidenceThreshold))
	}
}

// EvaluateOutOfStockTransition fires the unconditional out-of-stock alert
// when status transitions into out_of_stock (spec §4.7).
func (e *Engine) EvaluateOutOfStockTransition(ctx context.Context, item *models.Item, oldStatus models.StockStatus) {
	if item.StockStatus != models.StockOutOfStock || oldStatus == models.StockOutOfStock {
		return
	}
	rules := e.settings.Settings().AlertRules
	e.fire(ctx, RuleOutOfStock, item, rules, time.Now(),
		"Out of stock",
		fmt.Sprintf("%s is now out of stock (%s)", item.Name, item.StockReason))
}

// EvaluateStale fires when a failing check finds the item hasn't had a
// successful read in longer than staleHours (spec §4.7, fail path only).
// An item that has never succeeded has no LastChecked to measure from; it
// is keyed off LastCheckAttempt instead, so a never-successfully-read item
// still goes stale rather than being permanently exempt.
func (e *Engine) EvaluateStale(ctx context.Context, item *models.Item) {
	rules := e.settings.Settings().AlertRules
	if !rules.StaleEnabled {
		return
	}

	since := item.LastChecked
	if since.IsZero() {
		since = item.LastCheckAttempt
	}
	if since.IsZero() {
		return
	}
	if time.Since(since) <= time.Duration(rules.StaleHours)*time.Hour {
		return
	}
	e.fire(ctx, RuleStale, item, rules, time.Now(),
		"Stale item",
		fmt.Sprintf("%s has not been checked successfully in over %d hours", item.Name, rules.StaleHours))
}

func (e *Engine) fire(ctx context.Context, rule Rule, item *models.Item, rules models.AlertRules, now time.Time, title, body string) {
	window := time.Duration(rules.NotifyCooldownMinutes) * time.Minute
	if !e.cooldowns.Allow(rule, item.ID, window, now) {
		return
	}

	correlationID := uuid.NewString()
	log.Printf("[alerts] firing rule=%s item=%s correlation=%s", rule, item.ID, correlationID)

	if e.dispatch != nil {
		e.dispatch.Dispatch(ctx, title, body)
	}
}

// closestHistoryPoint finds the entry in history whose Date is nearest to
// target, preferring the ordering invariant (non-decreasing Date) to
// avoid a full scan on large histories.
func closestHistoryPoint(history []models.PricePoint, target time.Time) (models.PricePoint, bool) {
	if len(history) == 0 {
		return models.PricePoint{}, false
	}

	idx := sort.Search(len(history), func(i int) bool {
		return !history[i].Date.Before(target)
	})

	switch {
	case idx == 0:
		return history[0], true
	case idx == len(history):
		return history[len(history)-1], true
	default:
		before := history[idx-1]
		after := history[idx]
		if target.Sub(before.Date) <= after.Date.Sub(target) {
			return before, true
		}
		return after, true
	}
}
