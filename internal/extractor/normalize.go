package extractor

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

// numberRe extracts the first numeric substring a candidate's text might
// contain (spec §4.3).
var numberRe = regexp.MustCompile(`([0-9]{1,3}(?:[.,\s][0-9]{3})*(?:[.,][0-9]{1,2})|[0-9]+(?:[.,][0-9]{1,2})?)`)

// allNumbersRe counts how many separate numeric runs occur in the text,
// used to reject spec-table rows with more than two numbers.
var allNumbersRe = regexp.MustCompile(`[0-9]+(?:[.,][0-9]+)?`)

func isTurkishLike(currency string) bool {
	return currency == "TRY"
}

// normalizeNumber disambiguates thousands/decimal separators per spec
// §4.3's "Number normalization" rules and parses the result. It is
// idempotent: re-normalizing the returned string's own decimal form
// produces the same float.
func normalizeNumber(raw string, preferredCurrency string) (float64, error) {
	s := strings.TrimSpace(raw)
	s = strings.ReplaceAll(s, " ", "")

	hasDot := strings.Contains(s, ".")
	hasComma := strings.Contains(s, ",")

	var normalized string
	switch {
	case hasDot && hasComma:
		lastDot := strings.LastIndex(s, ".")
		lastComma := strings.LastIndex(s, ",")
		if lastComma > lastDot {
			// comma is decimal separator; dot is thousands
			normalized = strings.ReplaceAll(s, ".", "")
			normalized = strings.Replace(normalized, ",", ".", 1)
		} else {
			// dot is decimal separator; comma is thousands
			normalized = strings.ReplaceAll(s, ",", "")
		}

	case hasComma:
		trailing := trailingDigits(s, ',')
		if isTurkishLike(preferredCurrency) || trailing == 2 {
			normalized = strings.Replace(s, ",", ".", 1)
		} else {
			normalized = strings.ReplaceAll(s, ",", "")
		}

	case hasDot:
		trailing := trailingDigits(s, '.')
		if isTurkishLike(preferredCurrency) && trailing == 3 {
			normalized = strings.ReplaceAll(s, ".", "")
		} else {
			normalized = s
		}

	default:
		normalized = s
	}

	val, err := strconv.ParseFloat(normalized, 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(val) || math.IsInf(val, 0) || val <= 0 {
		return 0, errNotFinitePositive
	}
	return val, nil
}

// trailingDigits returns the count of digits after the last occurrence of
// sep in s.
func trailingDigits(s string, sep byte) int {
	idx := strings.LastIndexByte(s, sep)
	if idx < 0 {
		return 0
	}
	n := 0
	for i := idx + 1; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			break
		}
		n++
	}
	return n
}

// extractNumberString pulls the first numeric substring out of text, or
// "" if none is found.
func extractNumberString(text string) string {
	return numberRe.FindString(text)
}

// countNumbers reports how many distinct numeric runs appear in text.
func countNumbers(text string) int {
	return len(allNumbersRe.FindAllString(text, -1))
}
