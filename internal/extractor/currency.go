package extractor

import "strings"

// supportedCurrencies is the set that contributes the "+8" scoring bonus
// (spec §4.3 scoring table).
var supportedCurrencies = map[string]bool{
	"USD": true, "EUR": true, "GBP": true, "TRY": true,
	"JPY": true, "CNY": true, "CAD": true, "AUD": true,
}

// detectCurrency scans text for a currency symbol or ISO code, falling
// back to preferred when nothing is found (spec §4.3).
func detectCurrency(text, preferred string) string {
	upper := strings.ToUpper(text)

	switch {
	case strings.Contains(text, "₺"), strings.Contains(upper, "TL"), strings.Contains(upper, "TRY"):
		return "TRY"
	case strings.Contains(text, "€"), strings.Contains(upper, "EUR"):
		return "EUR"
	case strings.Contains(text, "£"), strings.Contains(upper, "GBP"):
		return "GBP"
	case strings.Contains(text, "¥"):
		if strings.Contains(upper, "CNY") {
			return "CNY"
		}
		return "JPY"
	case strings.Contains(upper, "JPY"):
		return "JPY"
	case strings.Contains(upper, "CNY"):
		return "CNY"
	case strings.Contains(text, "$"), strings.Contains(upper, "USD"):
		return "USD"
	case strings.Contains(upper, "CAD"):
		return "CAD"
	case strings.Contains(upper, "AUD"):
		return "AUD"
	default:
		return preferred
	}
}

// hasExplicitCurrencyMarker reports whether text names a currency
// explicitly, as opposed to falling back to the host default.
func hasExplicitCurrencyMarker(text string) bool {
	upper := strings.ToUpper(text)
	markers := []string{"₺", "TL", "TRY", "€", "EUR", "£", "GBP", "¥", "JPY", "CNY", "$", "USD", "CAD", "AUD"}
	for _, m := range markers {
		if strings.Contains(upper, m) || strings.Contains(text, m) {
			return true
		}
	}
	return false
}
