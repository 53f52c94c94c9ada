// Package availability scores in-stock vs out-of-stock signals from meta
// tags, JSON-LD, DOM selectors, purchase/notify buttons, variant
// selectors, and Amazon-specific buy-box structure (spec §4.4).
//
// The aggregate-signals-by-reference / pure-arbitration-function split
// follows spec §9's explicit re-architecture note.
package availability

import (
	"encoding/json"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"pricewatch/models"
)

// signal is a running best candidate for one direction (in vs out).
type signal struct {
	score  int
	reason string
	source string
}

func (s *signal) consider(score int, reason, source string) {
	if score > s.score {
		s.score = score
		s.reason = reason
		s.source = source
	}
}

// aggregate accumulates evidence across every collector before a single
// pure arbitration pass decides the verdict (spec §9).
type aggregate struct {
	bestIn  signal
	bestOut signal

	structuredIn  signal
	structuredOut signal

	hasStructured bool

	hasEnabledPurchaseAction  bool
	hasDisabledPurchaseAction bool
	hasBuyingOptionsAction    bool
	hasNotifyMe               bool
	requiresVariantSelection  bool
	hasVariantSelectors       bool

	isAmazon    bool
	compactBlob string
}

// Classify implements the §4.4 contract.
func Classify(doc *goquery.Document, html, host string) models.AvailabilityResult {
	agg := &aggregate{isAmazon: strings.Contains(host, "amazon.")}

	collectStructured(doc, agg)
	collectTextualSelectors(doc, agg)
	collectActionElements(doc, agg)
	collectVariantStructure(doc, agg)
	if agg.isAmazon {
		agg.compactBlob = compactAmazonBlob(doc)
		collectAmazonStructures(doc, agg)
	}

	return arbitrate(agg)
}

// collectStructured reads meta/JSON-LD availability tokens (highest trust).
func collectStructured(doc *goquery.Document, agg *aggregate) {
	scan := func(raw string) {
		folded := onlyAlnum(raw)
		if containsAny(folded, structuredOutTokens) {
			agg.structuredOut.consider(94, "structured:"+raw, "structured")
			agg.bestOut.consider(94, "structured:"+raw, "structured")
			agg.hasStructured = true
		}
		if containsAny(folded, structuredInTokens) {
			agg.structuredIn.consider(90, "structured:"+raw, "structured")
			agg.bestIn.consider(90, "structured:"+raw, "structured")
			agg.hasStructured = true
		}
	}

	doc.Find(`meta[itemprop="availability"]`).Each(func(_ int, s *goquery.Selection) {
		if v, ok := s.Attr("content"); ok {
			scan(v)
		}
	})
	doc.Find(`link[itemprop="availability"]`).Each(func(_ int, s *goquery.Selection) {
		if v, ok := s.Attr("href"); ok {
			scan(v)
		}
		if v, ok := s.Attr("content"); ok {
			scan(v)
		}
	})
	doc.Find(`meta[property="product:availability"]`).Each(func(_ int, s *goquery.Selection) {
		if v, ok := s.Attr("content"); ok {
			scan(v)
		}
	})

	doc.Find(`script[type="application/ld+json"]`).Each(func(_ int, s *goquery.Selection) {
		var root any
		if err := json.Unmarshal([]byte(s.Text()), &root); err != nil {
			return
		}
		walkAvailability(root, scan)
	})
}

func walkAvailability(node any, scan func(string)) {
	switch v := node.(type) {
	case map[string]any:
		for _, key := range []string{"availability", "offerAvailability"} {
			if s, ok := v[key].(string); ok {
				scan(s)
			}
		}
		for _, child := range v {
			walkAvailability(child, scan)
		}
	case []any:
		for _, child := range v {
			walkAvailability(child, scan)
		}
	}
}

// textualSelectors are scanned for fuzzy term matches (spec §4.4).
var textualSelectors = []string{
	"#availability", "#availabilityInsideBuyBox_feature_div", "#outOfStock",
	`[itemprop="availability"]`, `[class*="stock"]`, `[class*="availability"]`,
	`[id*="stock"]`, `[id*="availability"]`, "[data-stock]", "[data-availability]",
}

func collectTextualSelectors(doc *goquery.Document, agg *aggregate) {
	for _, sel := range textualSelectors {
		doc.Find(sel).Each(func(_ int, s *goquery.Selection) {
			if isHidden(s) {
				return
			}
			text := foldText(s.Text())
			fuzzyMatch(text, "selector:"+sel, agg)
		})
	}
}

// fuzzyMatch contributes a base score (60/70 OOS short/long, 54/62 IS) per
// spec §4.4's "Fuzzy term match".
func fuzzyMatch(folded, source string, agg *aggregate) {
	for _, term := range Terms.OutOfStock {
		if strings.Contains(folded, term) {
			score := 60
			if len(term) > 12 {
				score = 70
			}
			agg.bestOut.consider(score, term, source)
		}
	}
	for _, term := range Terms.InStock {
		if strings.Contains(folded, term) {
			score := 54
			if len(term) > 12 {
				score = 62
			}
			agg.bestIn.consider(score, term, source)
		}
	}
}

// isHidden implements the visibility filter (spec §4.4).
func isHidden(s *goquery.Selection) bool {
	if _, ok := s.Attr("hidden"); ok {
		return true
	}
	if v, ok := s.Attr("aria-hidden"); ok && strings.EqualFold(v, "true") {
		return true
	}
	if style, ok := s.Attr("style"); ok {
		low := strings.ToLower(style)
		if strings.Contains(low, "display:none") || strings.Contains(low, "display: none") ||
			strings.Contains(low, "visibility:hidden") || strings.Contains(low, "visibility: hidden") ||
			strings.Contains(low, "opacity:0") || strings.Contains(low, "opacity: 0") {
			return true
		}
	}
	if class, ok := s.Attr("class"); ok {
		low := strings.ToLower(class)
		for _, c := range []string{"hidden", "d-none", "sr-only", "visually-hidden"} {
			if strings.Contains(low, c) {
				return true
			}
		}
	}
	return false
}

// collectActionElements scans buttons/submit inputs/role=button anchors
// (cap 160) for purchase, buying-options, notify-me, and variant-prompt
// tokens (spec §4.4).
func collectActionElements(doc *goquery.Document, agg *aggregate) {
	sel := `button, input[type="submit"], a[role="button"]`
	count := 0
	doc.Find(sel).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		count++
		if count > 160 {
			return false
		}
		if isHidden(s) {
			return true
		}

		label := elementLabel(s)
		folded := foldText(label)
		attrBlob := foldText(elementAttrBlob(s))
		blob := folded + " " + attrBlob

		disabled := isDisabled(s)

		isPurchase := containsAny(blob, Terms.Purchase)
		if isPurchase && agg.isAmazon && containsAny(blob, Terms.Modifier) {
			// Amazon keyboard-shortcut label chrome, not a real purchase action.
			isPurchase = false
		}

		if isPurchase {
			if disabled {
				agg.hasDisabledPurchaseAction = true
				agg.bestOut.consider(80, "purchase-action-disabled", "purchase-action-disabled")
			} else {
				agg.hasEnabledPurchaseAction = true
				agg.bestIn.consider(78, "purchase-action", "purchase-action")
			}
		}

		if containsAny(blob, buyingOptionsTerms) {
			agg.hasBuyingOptionsAction = true
			agg.bestOut.consider(68, "buying-options", "buying-options-action")
		}

		if containsAny(blob, Terms.Notify) {
			agg.hasNotifyMe = true
			agg.bestOut.consider(74, "notify-me", "notify-me")
		}

		if containsAny(blob, Terms.Variant) {
			agg.requiresVariantSelection = true
		}

		return true
	})
}

func elementLabel(s *goquery.Selection) string {
	if v, ok := s.Attr("aria-label"); ok && strings.TrimSpace(v) != "" {
		return v
	}
	if v, ok := s.Attr("value"); ok && strings.TrimSpace(v) != "" {
		return v
	}
	return s.Text()
}

func elementAttrBlob(s *goquery.Selection) string {
	var parts []string
	for _, attr := range []string{"id", "name", "class", "data-testid", "data-test-id"} {
		if v, ok := s.Attr(attr); ok {
			parts = append(parts, v)
		}
	}
	return strings.Join(parts, " ")
}

func isDisabled(s *goquery.Selection) bool {
	if _, ok := s.Attr("disabled"); ok {
		return true
	}
	if v, ok := s.Attr("aria-disabled"); ok && strings.EqualFold(v, "true") {
		return true
	}
	class, _ := s.Attr("class")
	return strings.Contains(strings.ToLower(class), "disabled")
}

// collectVariantStructure detects <select> variant pickers (spec §4.4).
func collectVariantStructure(doc *goquery.Document, agg *aggregate) {
	doc.Find("select").Each(func(_ int, s *goquery.Selection) {
		if isHidden(s) {
			return
		}
		blob := foldText(elementAttrBlob(s))
		matchesVariantAttrs := containsAny(blob, []string{"size", "beden", "numara", "renk", "color", "variant", "option"})
		if s.Find("option").Length() > 1 || matchesVariantAttrs {
			agg.hasVariantSelectors = true
		}
	})
}

// amazonUnqualifiedBuyBox and amazonBuyingOptionsSelectors map presence
// to a bestOut contribution
// (spec §4.4 "Amazon-specific structures").
var amazonUnqualifiedBuyBox = []string{"#unqualifiedBuyBox", `[id^="unqualifiedBuyBox"]`}
var amazonBuyingOptionsSelectors = []string{
	"#buybox-see-all-buying-choices", `[data-action="show-all-offers-display"]`,
	"#all-offers-display", "#aod-has-oas-offers",
	`a[href*="/gp/offer-listing/"]`, `a[href*="ref=dp_olp"]`,
}

func collectAmazonStructures(doc *goquery.Document, agg *aggregate) {
	for _, sel := range amazonUnqualifiedBuyBox {
		if doc.Find(sel).Length() > 0 {
			agg.bestOut.consider(88, "unqualified-buy-box", "amazon-structure")
			agg.hasBuyingOptionsAction = true
		}
	}
	for _, sel := range amazonBuyingOptionsSelectors {
		if doc.Find(sel).Length() > 0 {
			agg.bestOut.consider(72, "buying-options-structure", "amazon-structure")
		}
	}
}

// arbitrate is the pure decision function over the accumulated aggregate
// (spec §4.4 "Arbitration", first match wins).
func arbitrate(agg *aggregate) models.AvailabilityResult {
	signals := map[string]bool{
		"hasEnabledPurchaseAction":  agg.hasEnabledPurchaseAction,
		"hasDisabledPurchaseAction": agg.hasDisabledPurchaseAction,
		"hasBuyingOptionsAction":    agg.hasBuyingOptionsAction,
		"hasNotifyMe":               agg.hasNotifyMe,
		"requiresVariantSelection":  agg.requiresVariantSelection,
		"hasVariantSelectors":       agg.hasVariantSelectors,
		"hasStructured":             agg.hasStructured,
	}

	// 1. disabled-only purchase action + variant structure => in_stock.
	if (agg.requiresVariantSelection || agg.hasVariantSelectors) &&
		agg.hasDisabledPurchaseAction && !agg.hasEnabledPurchaseAction &&
		agg.bestOut.score < 92 &&
		!(agg.structuredOut.score >= 94) {
		return result(models.StockInStock, maxInt(agg.bestIn.score, 72), "variant selection required", "variant-gate", signals)
	}

	// 2. structured OOS wins unless structured IS comes within 2 points of it.
	if agg.structuredOut.score > 0 && (agg.structuredIn.score == 0 || agg.structuredOut.score >= agg.structuredIn.score+2) {
		return result(models.StockOutOfStock, agg.structuredOut.score, agg.structuredOut.reason, "structured", signals)
	}

	// 3. structured IS only.
	if agg.structuredIn.score > 0 {
		return result(models.StockInStock, agg.structuredIn.score, agg.structuredIn.reason, "structured", signals)
	}

	// 4. enabled purchase action, no disabled one, bestOut not too strong.
	if agg.hasEnabledPurchaseAction && !agg.hasDisabledPurchaseAction && agg.bestOut.score < 88 {
		return result(models.StockInStock, maxInt(agg.bestIn.score, 74), "purchase action enabled", "purchase-action", signals)
	}

	// 5. strong bestOut beats bestIn by a margin.
	if agg.bestOut.score >= 82 && agg.bestOut.score >= agg.bestIn.score+10 {
		return result(models.StockOutOfStock, agg.bestOut.score, agg.bestOut.reason, agg.bestOut.source, signals)
	}

	// 6. strong bestIn beats bestOut by a margin.
	if agg.bestIn.score >= 72 && agg.bestIn.score >= agg.bestOut.score+6 {
		return result(models.StockInStock, agg.bestIn.score, agg.bestIn.reason, agg.bestIn.source, signals)
	}

	// 7. disabled purchase action with meaningful bestOut.
	if agg.hasDisabledPurchaseAction && agg.bestOut.score >= 74 {
		return result(models.StockOutOfStock, agg.bestOut.score, agg.bestOut.reason, agg.bestOut.source, signals)
	}

	if agg.isAmazon {
		// 8. strong OOS phrasing in a compact Amazon-specific text blob.
		if amazonStrongOOSBlob(agg.compactBlob) {
			return result(models.StockOutOfStock, maxInt(agg.bestOut.score, 90), "amazon strong oos text", "amazon-text", signals)
		}
		// 9. buying-options-only with no enabled purchase action.
		if agg.hasBuyingOptionsAction && !agg.hasEnabledPurchaseAction && agg.bestIn.score < 78 {
			return result(models.StockOutOfStock, maxInt(agg.bestOut.score, 84), "primary offer gone", "amazon-buying-options", signals)
		}
	}

	// 10. otherwise unknown.
	return result(models.StockUnknown, maxInt(agg.bestIn.score, maxInt(agg.bestOut.score, 0)), "no strong signal", "none", signals)
}

func result(status models.StockStatus, confidence int, reason, source string, signals map[string]bool) models.AvailabilityResult {
	return models.AvailabilityResult{
		Status:     status,
		Confidence: clamp(confidence, 0, 100),
		Reason:     reason,
		Source:     source,
		Signals:    signals,
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// compactAmazonBlob builds the narrow text blob step 8 scans: just
// #availability, #outOfStock, <title>, and the meta description
// (spec §4.4), so a stray "out of stock" mention elsewhere on the page
// cannot trigger this step.
func compactAmazonBlob(doc *goquery.Document) string {
	var parts []string
	doc.Find("#availability, #outOfStock, title").Each(func(_ int, s *goquery.Selection) {
		parts = append(parts, s.Text())
	})
	if v, ok := doc.Find(`meta[name="description"]`).Attr("content"); ok {
		parts = append(parts, v)
	}
	return foldText(strings.Join(parts, " "))
}

// amazonStrongOOSBlob reports whether the compact blob names a strong OOS
// phrasing (spec §4.4 step 8).
func amazonStrongOOSBlob(folded string) bool {
	strongPhrasings := []string{
		"currently unavailable", "we dont know when or if this item",
		"out of stock",
	}
	return containsAny(folded, strongPhrasings)
}
