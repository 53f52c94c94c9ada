package extractor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pricewatch/models"
)

func TestExtractShopifyStyle(t *testing.T) {
	html := `<html><head>
		<meta itemprop="price" content="199.99">
		<meta itemprop="priceCurrency" content="USD">
	</head><body>
		<button>Add to Cart</button>
	</body></html>`

	res, err := Extract(html, "", "https://shop.example.com/product/1")
	require.NoError(t, err)
	require.NotNil(t, res.Price)
	assert.InDelta(t, 199.99, *res.Price, 0.001)
	assert.Equal(t, "USD", res.Currency)
	assert.Equal(t, models.StockInStock, res.Availability.Status)
	assert.GreaterOrEqual(t, res.Availability.Confidence, 74)
}

func TestExtractAmazonCorePriceWinsOverWildcard(t *testing.T) {
	html := `<html><body>
		<div id="corePrice_feature_div"><span class="a-price"><span class="a-offscreen">$1,299.00</span></span></div>
		<div class="price">$17.99/mo</div>
		<button>Add to Cart</button>
	</body></html>`

	res, err := Extract(html, "", "https://www.amazon.com/dp/B000")
	require.NoError(t, err)
	require.NotNil(t, res.Price)
	assert.InDelta(t, 1299.00, *res.Price, 0.001)
	assert.Contains(t, res.SelectorUsed, "corePrice")
	assert.Equal(t, models.StockInStock, res.Availability.Status)
}

func TestExtractAmazonUnqualifiedBuyBoxSuppressesPrice(t *testing.T) {
	html := `<html><body>
		<div id="unqualifiedBuyBox">Not purchasable by primary seller</div>
		<div class="price">$999.00</div>
	</body></html>`

	res, err := Extract(html, "", "https://www.amazon.com/dp/B111")
	require.NoError(t, err)
	assert.Nil(t, res.Price)
	assert.Equal(t, models.StockOutOfStock, res.Availability.Status)
	assert.GreaterOrEqual(t, res.Availability.Confidence, 88)
}

func TestExtractTurkishRetailer(t *testing.T) {
	html := `<html><body>
		<div class="prc-dsc">1.299,90 TL</div>
	</body></html>`

	res, err := Extract(html, "", "https://www.trendyol.com/urun/1")
	require.NoError(t, err)
	require.NotNil(t, res.Price)
	assert.InDelta(t, 1299.90, *res.Price, 0.001)
	assert.Equal(t, "TRY", res.Currency)
}

func TestJSONLDWinsOnScore(t *testing.T) {
	html := `<html><head>
		<script type="application/ld+json">{"@type":"Product","offers":{"price":"49.99","priceCurrency":"USD"}}</script>
	</head><body>
		<div class="price">$1.00</div>
	</body></html>`

	res, err := Extract(html, "", "https://shop.example.com/p/2")
	require.NoError(t, err)
	require.NotNil(t, res.Price)
	assert.InDelta(t, 49.99, *res.Price, 0.001)
	assert.Equal(t, "json-ld", res.Source)
}

func TestNoCandidatesReturnsError(t *testing.T) {
	html := `<html><body><p>Nothing interesting here.</p></body></html>`
	_, err := Extract(html, "", "https://shop.example.com/p/3")
	assert.ErrorIs(t, err, ErrNoPriceExtracted)
}

func TestAmazonWildcardSelectorNeverWins(t *testing.T) {
	html := `<html><body>
		<div class="price-per-unit">$4.99/unit</div>
		<div id="corePrice_feature_div"><span class="a-price"><span class="a-offscreen">$29.99</span></span></div>
	</body></html>`

	res, err := Extract(html, "", "https://www.amazon.de/dp/B222")
	require.NoError(t, err)
	require.NotNil(t, res.Price)
	assert.NotContains(t, res.SelectorUsed, `[class*="price"]`)
}
