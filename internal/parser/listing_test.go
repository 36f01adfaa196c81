package parser

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/maltedev/tablegen/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const listingFixture = `<html><head><title>Lamps | Shop</title></head><body>
<nav>
  <a href="/about">About us</a>
  <a href="/contact">Contact</a>
  <a href="https://social.example/shop">Follow us</a>
</nav>
<div class="product-grid">
  <div class="product-card"><a href="/p/lamp-1"><img src="/img/1.jpg" alt="Lamp 1"></a><h3>Lamp One</h3><span class="price">€ 19,99</span></div>
  <div class="product-card"><a href="/p/lamp-2"><img data-src="/img/2.jpg"></a><h3>Lamp Two</h3><span class="price">€ 24,50</span></div>
  <div class="product-card"><a href="/p/lamp-3"><img src="/img/3.jpg"></a><h3>Lamp Three</h3><span class="price">1.299,00 €</span></div>
  <div class="product-card"><a href="/p/lamp-4" title="Lamp Four"><img src="/img/4.jpg"></a><span class="price">€ 5</span></div>
  <div class="product-card"><a href="#">Quick view</a><a href="/p/lamp-5">Lamp Five</a><img src="/img/5.jpg"><p>Only $12.00</p></div>
</div>
</body></html>`

func TestClassify(t *testing.T) {
	tests := []struct {
		name      string
		html      string
		threshold int
		expected  models.PageKind
	}{
		{"Listing grid", listingFixture, 2, models.KindListing},
		{"Single product", detailFixture, 2, models.KindDetail},
		{"No cards", `<html><body><p>Hello</p></body></html>`, 2, models.KindDetail},
		{"Threshold above card count", listingFixture, 6, models.KindDetail},
		{"Zero threshold uses default", listingFixture, 0, models.KindListing},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page := Classifier{Threshold: tt.threshold}.Classify(mustDoc(t, tt.html))
			assert.Equal(t, tt.expected, page.Kind())
		})
	}
}

func TestFindCardsSkipsContainers(t *testing.T) {
	cards := FindCards(mustDoc(t, listingFixture).Selection)

	require.Equal(t, 5, cards.Length())
	for i := range cards.Nodes {
		assert.Equal(t, "product-card", cards.Eq(i).AttrOr("class", ""))
	}
}

func TestListingExtract(t *testing.T) {
	page, ok := NewClassifier(2).Classify(mustDoc(t, listingFixture)).(*ListingPage)
	require.True(t, ok)

	rows := NewListingExtractor(nil).Extract(page)

	expected := []models.ProductRecord{
		{URL: "https://shop.example/p/lamp-1", Name: "Lamp One", Price: "19.99", ImageURL: "https://shop.example/img/1.jpg"},
		{URL: "https://shop.example/p/lamp-2", Name: "Lamp Two", Price: "24.50", ImageURL: "https://shop.example/img/2.jpg"},
		{URL: "https://shop.example/p/lamp-3", Name: "Lamp Three", Price: "1299.00", ImageURL: "https://shop.example/img/3.jpg"},
		{URL: "https://shop.example/p/lamp-4", Name: "Lamp Four", Price: "5", ImageURL: "https://shop.example/img/4.jpg"},
		{URL: "https://shop.example/p/lamp-5", Name: "Lamp Five", Price: "12.00", ImageURL: "https://shop.example/img/5.jpg"},
	}
	if diff := cmp.Diff(expected, rows); diff != "" {
		t.Errorf("listing rows mismatch (-want +got):\n%s", diff)
	}
}

func TestListingDeduplicatesLinks(t *testing.T) {
	d := mustDoc(t, `<html><body>
<article class="tile"><a href="/p/a"><img src="a.jpg"></a><h2>A</h2><b class="price">$1</b></article>
<article class="tile"><a href="https://shop.example/p/a"><img src="a2.jpg"></a><h2>A again</h2><b class="price">$1</b></article>
<article class="tile"><a href="/p/b"><img src="b.jpg"></a><h2>B</h2><b class="price">$2</b></article>
</body></html>`)

	page, ok := NewClassifier(2).Classify(d).(*ListingPage)
	require.True(t, ok)

	rows := NewListingExtractor(nil).Extract(page)

	require.Len(t, rows, 2)
	assert.Equal(t, "A", rows[0].Name)
	assert.Equal(t, "https://shop.example/p/b", rows[1].URL)
}

func TestListingAnchorFallback(t *testing.T) {
	d := mustDoc(t, `<html><body>
<a href="/about">About</a>
<a href="/products/red-chair">Red chair</a>
<a href="/item/123">Blue chair</a>
<a href="/products/red-chair">Red chair again</a>
<a href="javascript:void(0)">Open</a>
<a href="/catalog/chair-98765.html">Green chair</a>
</body></html>`)

	rows := NewListingExtractor(nil).Extract(&ListingPage{Doc: d})

	expected := []models.ProductRecord{
		{URL: "https://shop.example/products/red-chair", Name: "Red chair"},
		{URL: "https://shop.example/item/123", Name: "Blue chair"},
		{URL: "https://shop.example/catalog/chair-98765.html", Name: "Green chair"},
	}
	if diff := cmp.Diff(expected, rows); diff != "" {
		t.Errorf("fallback rows mismatch (-want +got):\n%s", diff)
	}
}

func TestListingCardPriceIgnoresTrailingNumbers(t *testing.T) {
	markup := `<html><body><ul>
<li class="product-card"><a href="/p/mug-1"><img src="/img/m1.jpg"></a><h3>Mug One</h3><span class="price">€ 19,99 <small>3 for € 50</small></span></li>
<li class="product-card"><a href="/p/mug-2"><img src="/img/m2.jpg"></a><h3>Mug Two</h3><span class="price">$5.99 <em>100 ml</em></span></li>
<li class="product-card"><a href="/p/mug-3"><img src="/img/m3.jpg"></a><h3>Mug Three</h3><span class="price">€ 1 299,00 <small>2 colours</small></span></li>
</ul></body></html>`

	page, ok := NewClassifier(2).Classify(mustDoc(t, markup)).(*ListingPage)
	require.True(t, ok)

	rows := NewListingExtractor(nil).Extract(page)

	require.Len(t, rows, 3)
	assert.Equal(t, "19.99", rows[0].Price)
	assert.Equal(t, "5.99", rows[1].Price)
	assert.Equal(t, "1299.00", rows[2].Price)
}
