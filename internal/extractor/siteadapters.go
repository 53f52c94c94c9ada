package extractor

import "strings"

// SiteAdapter gives high-precision selectors for a known site (GLOSSARY).
type SiteAdapter struct {
	Name              string
	HostMatch         func(host string) bool
	Selectors         []string
	PreferredCurrency string
}

func hostSuffix(suffixes ...string) func(string) bool {
	return func(host string) bool {
		for _, s := range suffixes {
			if host == s || strings.HasSuffix(host, "."+s) {
				return true
			}
		}
		return false
	}
}

// IsAmazonHost reports whether host belongs to any Amazon ccTLD storefront.
func IsAmazonHost(host string) bool {
	return strings.Contains(host, "amazon.")
}

// amazonPreferredCurrency maps an Amazon storefront host to its native
// currency (spec §4.3).
func amazonPreferredCurrency(host string) string {
	switch {
	case strings.HasSuffix(host, "amazon.de"), strings.HasSuffix(host, "amazon.fr"),
		strings.HasSuffix(host, "amazon.it"), strings.HasSuffix(host, "amazon.es"),
		strings.HasSuffix(host, "amazon.nl"):
		return "EUR"
	case strings.HasSuffix(host, "amazon.co.uk"):
		return "GBP"
	case strings.HasSuffix(host, "amazon.jp"):
		return "JPY"
	case strings.HasSuffix(host, "amazon.ca"):
		return "CAD"
	case strings.HasSuffix(host, "amazon.com.au"):
		return "AUD"
	default:
		return "USD"
	}
}

// genericBaseSelectors are tried for every host in addition to any matched
// site adapter (spec §4.3 item 4).
var genericBaseSelectors = []string{
	`meta[itemprop="price"]`,
	`meta[property="product:price:amount"]`,
	`meta[property="og:price:amount"]`,
	`[itemprop="price"]`,
	`[class*="price"]`,
	`[id*="price"]`,
	`.a-price .a-offscreen`,
	`#priceblock_ourprice`,
	`#priceblock_dealprice`,
	`#priceblock_saleprice`,
}

// amazonSelectors are the high-precision, trusted Amazon primary-offer
// selectors used both for ranking and the Amazon gate (spec §4.3).
var amazonSelectors = []string{
	`#corePrice_feature_div .a-price .a-offscreen`,
	`#corePriceDisplay_desktop_feature_div .a-price .a-offscreen`,
	`#priceblock_ourprice`,
	`#priceblock_dealprice`,
	`#priceblock_saleprice`,
	`#price_inside_buybox`,
	`#apex_desktop .a-price .a-offscreen`,
	`#apex_offerDisplay_desktop .a-price .a-offscreen`,
	`#twister-plus-price-data-price`,
	`meta[itemprop="price"]`,
	`meta[property="og:price:amount"]`,
	`meta[property="product:price:amount"]`,
}

// siteAdapters is the table of known-site selector overrides (spec §4.3).
var siteAdapters = []SiteAdapter{
	{
		Name:      "amazon",
		HostMatch: IsAmazonHost,
		Selectors: amazonSelectors,
	},
	{
		Name:              "trendyol",
		HostMatch:         hostSuffix("trendyol.com"),
		Selectors:         []string{`.prc-dsc`, `.prc-slg`},
		PreferredCurrency: "TRY",
	},
	{
		Name:              "hepsiburada",
		HostMatch:         hostSuffix("hepsiburada.com"),
		Selectors:         []string{`[data-test-id="price-current-price"]`},
		PreferredCurrency: "TRY",
	},
}

// matchSiteAdapter returns the adapter for host, if any.
func matchSiteAdapter(host string) (SiteAdapter, bool) {
	for _, a := range siteAdapters {
		if a.HostMatch(host) {
			return a, true
		}
	}
	return SiteAdapter{}, false
}

// turkishTLDs/retailers that default to TRY absent any other signal.
func isTurkishRetailer(host string) bool {
	if strings.HasSuffix(host, ".tr") {
		return true
	}
	for _, s := range []string{"trendyol.com", "hepsiburada.com", "n11.com", "gittigidiyor.com"} {
		if host == s || strings.HasSuffix(host, "."+s) {
			return true
		}
	}
	return false
}

// preferredCurrencyForHost derives the host's default currency absent any
// explicit currency marker in the candidate text (spec §4.3).
func preferredCurrencyForHost(host string) string {
	if IsAmazonHost(host) {
		return amazonPreferredCurrency(host)
	}
	if isTurkishRetailer(host) {
		return "TRY"
	}
	return "USD"
}
