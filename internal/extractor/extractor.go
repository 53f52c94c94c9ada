// Package extractor parses fetched HTML into a price/availability reading
// using structured-data, selector, site-adapter, and text-heuristic
// strategies (spec §4.3).
package extractor

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"pricewatch/internal/availability"
	"pricewatch/models"
)

// Error kinds surfaced to diagnostics (spec §7).
var (
	ErrNoPriceExtracted  = errors.New("no price extracted")
	errNotFinitePositive = errors.New("not a finite positive number")
)

const (
	maxCandidateTextLen = 220
	maxTextNodes        = 1200
	minTextLen          = 2
	maxTextLen          = 140
)

// reRawPriceAmount and reRawPriceCurrency match embedded JSON price blobs
// in raw HTML (spec §4.3 item 2). Skipped for Amazon hosts.
var (
	reRawPriceAmount    = regexp.MustCompile(`"priceAmount":"([^"]+)"`)
	reRawPriceCurrency  = regexp.MustCompile(`"price":"([^"]+)","priceCurrency":"([A-Z]{3})"`)
)

// Extract implements the §4.3 contract.
func Extract(html, selectorHint, rawURL string) (models.ExtractionResult, error) {
	u, _ := url.Parse(rawURL)
	host := ""
	if u != nil {
		host = strings.ToLower(u.Hostname())
	}
	isAmazon := IsAmazonHost(host)
	preferredCurrency := preferredCurrencyForHost(host)

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return models.ExtractionResult{}, fmt.Errorf("extractor: parse html: %w", err)
	}

	avail := availability.Classify(doc, html, host)

	var candidates []models.Candidate

	candidates = append(candidates, jsonLDCandidates(doc, preferredCurrency)...)

	if !isAmazon {
		candidates = append(candidates, rawJSONCandidates(html, preferredCurrency)...)
	}

	if strings.TrimSpace(selectorHint) != "" {
		candidates = append(candidates, customSelectorCandidates(doc, selectorHint, preferredCurrency)...)
	}

	candidates = append(candidates, siteAdapterCandidates(doc, host, isAmazon, preferredCurrency)...)

	if !isAmazon {
		candidates = append(candidates, textHeuristicCandidates(doc, preferredCurrency)...)
	}

	candidates = dedupeCandidates(candidates)

	if isAmazon {
		candidates = applyAmazonGate(candidates, preferredCurrency)
	}

	for i := range candidates {
		scoreCandidate(&candidates[i], preferredCurrency)
	}

	sortCandidatesDesc(candidates)

	result := models.ExtractionResult{
		Availability: avail,
		Currency:     preferredCurrency,
	}

	suggestN := len(candidates)
	if suggestN > 5 {
		suggestN = 5
	}
	result.Suggestions = append([]models.Candidate(nil), candidates[:suggestN]...)

	if len(candidates) == 0 {
		if isAmazon && avail.Status == models.StockOutOfStock && avail.Confidence >= 80 {
			result.Confidence = avail.Confidence
			result.Source = "availability-gate"
			return result, nil
		}
		return result, ErrNoPriceExtracted
	}

	best := candidates[0]

	// Out-of-stock suppression (spec §4.3): Amazon + confident OOS hides a
	// stale list price even if a candidate won.
	if isAmazon && avail.Status == models.StockOutOfStock && avail.Confidence >= 80 {
		result.Price = nil
		result.Currency = best.Currency
		result.Confidence = avail.Confidence
		result.Source = "availability-gate"
		result.SelectorUsed = best.Selector
		return result, nil
	}

	price := best.Price
	result.Price = &price
	result.Currency = best.Currency
	result.Confidence = clamp(best.Score, 0, 100)
	result.SelectorUsed = best.Selector
	result.Source = best.Source

	return result, nil
}

// --- JSON-LD offers (score 95) ---

func jsonLDCandidates(doc *goquery.Document, preferredCurrency string) []models.Candidate {
	var out []models.Candidate
	doc.Find(`script[type="application/ld+json"]`).Each(func(_ int, s *goquery.Selection) {
		var root any
		if err := json.Unmarshal([]byte(s.Text()), &root); err != nil {
			return
		}
		walkJSONLD(root, preferredCurrency, &out)
	})
	return out
}

func walkJSONLD(node any, preferredCurrency string, out *[]models.Candidate) {
	switch v := node.(type) {
	case map[string]any:
		if offers, ok := v["offers"]; ok {
			collectOffer(offers, preferredCurrency, out)
		}
		for _, child := range v {
			walkJSONLD(child, preferredCurrency, out)
		}
	case []any:
		for _, child := range v {
			walkJSONLD(child, preferredCurrency, out)
		}
	}
}

func collectOffer(offers any, preferredCurrency string, out *[]models.Candidate) {
	switch v := offers.(type) {
	case []any:
		for _, o := range v {
			collectOffer(o, preferredCurrency, out)
		}
	case map[string]any:
		currency := preferredCurrency
		if c, ok := v["priceCurrency"].(string); ok && c != "" {
			currency = strings.ToUpper(c)
		}
		for _, key := range []string{"price", "lowPrice", "highPrice"} {
			raw, ok := v[key]
			if !ok {
				continue
			}
			priceStr := stringifyJSONValue(raw)
			if priceStr == "" {
				continue
			}
			val, err := normalizeNumber(priceStr, currency)
			if err != nil {
				continue
			}
			*out = append(*out, models.Candidate{
				Price:    val,
				Currency: currency,
				Selector: "ld+json offers." + key,
				Source:   "json-ld",
				Score:    95,
				Snippet:  priceStr,
			})
		}
	}
}

func stringifyJSONValue(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return ""
	}
}

// --- Raw-JSON regex (scores 88/90), skipped for Amazon ---

func rawJSONCandidates(html, preferredCurrency string) []models.Candidate {
	var out []models.Candidate

	for _, m := range reRawPriceAmount.FindAllStringSubmatch(html, -1) {
		val, err := normalizeNumber(m[1], preferredCurrency)
		if err != nil {
			continue
		}
		out = append(out, models.Candidate{
			Price: val, Currency: preferredCurrency, Selector: "priceAmount",
			Source: "raw-json", Score: 88, Snippet: m[0],
		})
	}

	idx := 0
	for {
		loc := reRawPriceCurrency.FindStringSubmatchIndex(html[idx:])
		if loc == nil {
			break
		}
		match := reRawPriceCurrency.FindStringSubmatch(html[idx:])
		if match == nil {
			break
		}
		start, end := loc[0]+idx, loc[1]+idx
		if end-start <= 200 {
			currency := strings.ToUpper(match[2])
			val, err := normalizeNumber(match[1], currency)
			if err == nil {
				out = append(out, models.Candidate{
					Price: val, Currency: currency, Selector: "price+priceCurrency",
					Source: "raw-json", Score: 90, Snippet: match[0],
				})
			}
		}
		idx = end
	}

	return out
}

// --- Custom-selector probes (score 88) ---

func customSelectorCandidates(doc *goquery.Document, hint, preferredCurrency string) []models.Candidate {
	probes := []string{
		hint,
		"#" + hint,
		"." + hint,
		fmt.Sprintf(`[data-test-id="%s"]`, hint),
		fmt.Sprintf(`[data-testid="%s"]`, hint),
	}

	var out []models.Candidate
	for _, sel := range probes {
		out = append(out, selectorCandidates(doc, sel, "custom", 88, preferredCurrency)...)
	}
	return out
}

// --- Site-adapter + generic base selectors (score 60) ---

func siteAdapterCandidates(doc *goquery.Document, host string, isAmazon bool, preferredCurrency string) []models.Candidate {
	var selectors []string
	if adapter, ok := matchSiteAdapter(host); ok {
		selectors = append(selectors, adapter.Selectors...)
	}

	if isAmazon {
		selectors = append(selectors, amazonSelectors...)
	} else {
		selectors = append(selectors, genericBaseSelectors...)
	}

	var out []models.Candidate
	seen := map[string]bool{}
	for _, sel := range selectors {
		if seen[sel] {
			continue
		}
		seen[sel] = true
		out = append(out, selectorCandidates(doc, sel, "selector", 60, preferredCurrency)...)
	}
	return out
}

// selectorCandidates builds candidates from every element matching sel,
// reading content/data-price/aria-label/text in that order (spec §4.3).
func selectorCandidates(doc *goquery.Document, sel, source string, baseScore int, preferredCurrency string) []models.Candidate {
	if strings.TrimSpace(sel) == "" {
		return nil
	}

	var out []models.Candidate
	defer func() { recover() }() // a malformed custom selector hint must not crash extraction

	doc.Find(sel).Each(func(_ int, s *goquery.Selection) {
		text := readCandidateText(s)
		if text == "" || len(text) > maxCandidateTextLen {
			return
		}
		cand, ok := buildCandidate(text, sel, source, baseScore, preferredCurrency)
		if ok {
			out = append(out, cand)
		}
	})
	return out
}

func readCandidateText(s *goquery.Selection) string {
	if v, ok := s.Attr("content"); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	if v, ok := s.Attr("data-price"); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	if v, ok := s.Attr("aria-label"); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return strings.TrimSpace(s.Text())
}

// --- Text heuristic (score 30), skipped for Amazon ---

func textHeuristicCandidates(doc *goquery.Document, preferredCurrency string) []models.Candidate {
	var out []models.Candidate
	count := 0
	doc.Find("body *").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		count++
		if count > maxTextNodes {
			return false
		}
		text := strings.TrimSpace(s.Text())
		if len(text) < minTextLen || len(text) > maxTextLen {
			return true
		}
		if !looksLikePrice(text) {
			return true
		}
		cand, ok := buildCandidate(text, "text", "text", 30, preferredCurrency)
		if ok {
			out = append(out, cand)
		}
		return true
	})
	return out
}

// --- shared candidate construction (spec §4.3 "Candidate construction rules") ---

func buildCandidate(text, selector, source string, baseScore int, preferredCurrency string) (models.Candidate, bool) {
	if len(text) > maxCandidateTextLen {
		return models.Candidate{}, false
	}

	numStr := extractNumberString(text)
	if numStr == "" {
		return models.Candidate{}, false
	}

	if countNumbers(text) > 2 && !hasExplicitCurrencyMarker(text) {
		return models.Candidate{}, false
	}

	currency := detectCurrency(text, preferredCurrency)

	if source == "text" {
		if !hasExplicitCurrencyMarker(text) && !priceWord.MatchString(text) {
			return models.Candidate{}, false
		}
	}

	val, err := normalizeNumber(numStr, currency)
	if err != nil {
		return models.Candidate{}, false
	}

	return models.Candidate{
		Price:    val,
		Currency: currency,
		Selector: selector,
		Source:   source,
		Score:    baseScore,
		Snippet:  text,
	}, true
}

// --- dedupe / sort ---

func dedupeCandidates(in []models.Candidate) []models.Candidate {
	best := map[string]models.Candidate{}
	order := []string{}
	for _, c := range in {
		key := fmt.Sprintf("%s|%v|%s", c.Selector, c.Price, c.Currency)
		if existing, ok := best[key]; !ok || c.Score > existing.Score {
			if !ok {
				order = append(order, key)
			}
			best[key] = c
		}
	}
	out := make([]models.Candidate, 0, len(order))
	for _, k := range order {
		out = append(out, best[k])
	}
	return out
}

func sortCandidatesDesc(c []models.Candidate) {
	// insertion sort: candidate pools are small (<200), and this keeps the
	// comparator explicit and easy to verify against the scoring table.
	for i := 1; i < len(c); i++ {
		for j := i; j > 0 && c[j].Score > c[j-1].Score; j-- {
			c[j], c[j-1] = c[j-1], c[j]
		}
	}
}

// amazonAllowedSelectorPrefixes is the trusted set the Amazon gate keeps
// (spec §4.3 "Final selection and Amazon gate").
var amazonAllowedSelectorPrefixes = []string{
	"#corePrice", "#priceblock_", "#price_inside_buybox", "#apex_",
	"twister-plus-price-data-price",
}

func isAmazonTrustedSelector(sel string) bool {
	for _, p := range amazonAllowedSelectorPrefixes {
		if strings.HasPrefix(sel, p) || strings.Contains(sel, p) {
			return true
		}
	}
	if strings.HasPrefix(sel, "meta[itemprop=") || strings.Contains(sel, `itemprop="price"`) {
		return true
	}
	if strings.Contains(sel, "og:price:amount") || strings.Contains(sel, "product:price:amount") {
		return true
	}
	return strings.HasPrefix(sel, "ld+json")
}

// applyAmazonGate drops any candidate whose selector isn't in the trusted
// Amazon set and whose currency differs from the host-preferred currency
// (spec §4.3).
func applyAmazonGate(in []models.Candidate, preferredCurrency string) []models.Candidate {
	out := make([]models.Candidate, 0, len(in))
	for _, c := range in {
		if c.Source == "json-ld" {
			out = append(out, c)
			continue
		}
		trusted := isAmazonTrustedSelector(c.Selector)
		sameCurrency := c.Currency == preferredCurrency
		if trusted || sameCurrency {
			out = append(out, c)
		}
	}
	return out
}
