package extractor

import (
	"regexp"
	"strings"

	"pricewatch/models"
)

var (
	rePricePositive  = regexp.MustCompile(`(?i)price|fiyat|sale|deal|current|ourprice|discount`)
	reTextNegative   = regexp.MustCompile(`(?i)shipping|delivery|kargo|installment|taksit|monthly|save`)
	reTextStrongNeg  = regexp.MustCompile(`(?i)availability|website|url|vat|date|mm/dd/yyyy`)
	reTextLayoutNeg  = regexp.MustCompile(`(?i)width|height|margin|padding|font|button|registry|spacing`)
	reSelectorPos    = regexp.MustCompile(`(?i)price|fiyat|ourprice|deal|sale|discount`)
	reSelectorNeg    = regexp.MustCompile(`(?i)old|strike|cross|was|list|compare`)
	reWildcardSelect = regexp.MustCompile(`\[(?:class|id)\*=`)
)

// scoreCandidate applies the cumulative scoring adjustments of spec §4.3's
// scoring table to a freshly built candidate. baseScore is the source's
// starting score (json-ld=95, raw-json=88/90, custom=88, selector=60,
// text=30).
func scoreCandidate(c *models.Candidate, preferredCurrency string) {
	score := c.Score

	if rePricePositive.MatchString(c.Snippet) {
		score += 25
	}
	if reTextNegative.MatchString(c.Snippet) {
		score -= 25
	}
	if reTextStrongNeg.MatchString(c.Snippet) {
		score -= 40
	}
	if reTextLayoutNeg.MatchString(c.Snippet) {
		score -= 45
	}

	if reSelectorPos.MatchString(c.Selector) {
		score += 18
	}
	if reSelectorNeg.MatchString(c.Selector) {
		score -= 20
	}
	if reWildcardSelect.MatchString(c.Selector) {
		score -= 20
	}

	if c.Currency != preferredCurrency && c.Source != "json-ld" {
		score -= 12
	}

	if c.Price < 2 && c.Source != "json-ld" {
		score -= 50
	}

	if supportedCurrencies[c.Currency] {
		score += 8
	}

	if c.Price > 0 && c.Price < 2_000_000 {
		score += 5
	}

	// Left unclamped: candidates are ranked on this score (spec §4.3's
	// "rank by score desc"), and clamping here would compress distinct
	// high scorers into ties. Only the reported confidence is clamped to
	// 0..100, where the winning candidate's score is read off.
	c.Score = score
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

// priceWord matches a small set of price-ish tokens used to admit
// text-heuristic candidates (spec §4.3 item 5).
var priceWord = regexp.MustCompile(`(?i)price|fiyat|sale`)

func looksLikePrice(text string) bool {
	return priceWord.MatchString(text) || hasExplicitCurrencyMarker(text)
}

func lowerTrim(s string) string { return strings.ToLower(strings.TrimSpace(s)) }
