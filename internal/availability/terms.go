package availability

import "strings"

// Terms is exposed as configuration, not inlined code, per spec §9: the
// multilingual fuzzy-match term lists the classifier scans for.
var Terms = struct {
	OutOfStock []string
	InStock    []string
	Purchase   []string
	Notify     []string
	Variant    []string
	Modifier   []string
}{
	OutOfStock: []string{
		"out of stock", "sold out", "stokta yok", "tukendi", "mevcut degil",
		"ausverkauft", "nicht auf lager", "agotado", "rupture de stock",
		"esgotado", "esaurito", "niet op voorraad", "brak w magazynie",
		"net v nalichii", "discontinued", "unavailable", "currently unavailable",
		"temporarily unavailable", "not in stock", "preorder", "backorder",
	},
	InStock: []string{
		"in stock", "stokta", "op voorraad", "disponible", "auf lager",
		"disponivel", "disponibile", "dostepny", "v nalichii",
		"sepete ekle", "hemen al", "available for order", "limited availability",
	},
	Purchase: []string{
		"add to cart", "buy now", "checkout", "sepete ekle", "hemen al",
		"satin al", "addtocart", "buynow",
	},
	Notify: []string{
		"notify me", "email me", "haber ver",
	},
	Variant: []string{
		"select size", "choose size", "beden sec", "numara sec", "renk sec",
		"select color", "choose color", "select option",
	},
	Modifier: []string{
		"shift", "alt", "ctrl", "cmd",
	},
}

// structuredOutTokens/structuredInTokens are the normalized tokens the
// structured (meta/JSON-LD) signal scan matches (spec §4.4).
var structuredOutTokens = []string{
	"outofstock", "soldout", "discontinued", "unavailable",
	"currentlyunavailable", "temporarilyunavailable", "notinstock",
	"preorder", "backorder",
}

var structuredInTokens = []string{
	"instock", "limitedavailability", "availablefororder",
}

// buyingOptionsTerms (Amazon "see all buying options" equivalents).
var buyingOptionsTerms = []string{
	"see all buying options", "satin alma seceneklerini gor",
}

func containsAny(haystack string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}
