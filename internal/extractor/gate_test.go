package extractor

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"pricewatch/models"
)

func TestApplyAmazonGateDropsUntrustedForeignCurrency(t *testing.T) {
	in := []models.Candidate{
		{Price: 10, Currency: "EUR", Selector: `[class*="price"]`, Source: "selector"},
		{Price: 20, Currency: "USD", Selector: "#corePrice_feature_div .a-price .a-offscreen", Source: "selector"},
		{Price: 30, Currency: "USD", Selector: `[class*="price"]`, Source: "selector"},
	}

	out := applyAmazonGate(in, "USD")

	var keys []string
	for _, c := range out {
		keys = append(keys, c.Selector+"|"+c.Currency)
	}

	assert.NotContains(t, keys, `[class*="price"]`+"|EUR")
	assert.Contains(t, keys, "#corePrice_feature_div .a-price .a-offscreen|USD")
	// wildcard selector with the host-preferred currency survives the gate
	// (it is dropped only when BOTH untrusted and a different currency).
	assert.Contains(t, keys, `[class*="price"]`+"|USD")
}

func TestApplyAmazonGateDropsForeignCurrencyWildcard(t *testing.T) {
	in := []models.Candidate{
		{Price: 10, Currency: "EUR", Selector: `[class*="price"]`, Source: "selector"},
	}
	out := applyAmazonGate(in, "USD")
	assert.Empty(t, out)
}
