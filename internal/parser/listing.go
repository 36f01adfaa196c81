package parser

import (
	"log/slog"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/maltedev/tablegen/internal/models"
	"github.com/maltedev/tablegen/internal/normalize"
)

// productPath matches URL paths that commonly identify a single product.
var productPath = regexp.MustCompile(`(?i)(?:/p/|/product/|/products/|/item/|/items/|/dp/|-p-\d+|[/_-]\d{3,}\.html?$)`)

// ListingExtractor produces one row per product card on a listing page.
type ListingExtractor struct {
	logger *slog.Logger
}

func NewListingExtractor(logger *slog.Logger) *ListingExtractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &ListingExtractor{logger: logger.With("component", "listing_extractor")}
}

// Extract returns the page's rows in document order, de-duplicated by product
// link. When no card yields a link, product-looking anchors are used instead.
func (e *ListingExtractor) Extract(p *ListingPage) []models.ProductRecord {
	d := p.Doc
	cards := p.Cards
	if cards == nil {
		cards = FindCards(d.Selection)
	}

	seen := make(map[string]bool)
	var rows []models.ProductRecord
	cards.Each(func(_ int, card *goquery.Selection) {
		link, anchor := cardLink(d, card)
		if link == "" || seen[link] {
			return
		}
		seen[link] = true
		rows = append(rows, models.ProductRecord{
			URL:      link,
			Name:     cardTitle(card, anchor),
			Price:    cardPrice(card),
			ImageURL: d.Resolve(contentImage(card)),
		})
	})

	if len(rows) == 0 {
		rows = e.fallback(d)
	}

	e.logger.Debug("listing extracted", "url", d.URL, "cards", cards.Length(), "rows", len(rows))
	return rows
}

// fallback scans every anchor for product-page URLs.
func (e *ListingExtractor) fallback(d *Document) []models.ProductRecord {
	seen := make(map[string]bool)
	var rows []models.ProductRecord
	d.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		link := usableLink(d, a.AttrOr("href", ""))
		if link == "" || seen[link] {
			return
		}
		u, err := url.Parse(link)
		if err != nil || !productPath.MatchString(u.Path) {
			return
		}
		seen[link] = true
		rows = append(rows, models.ProductRecord{
			URL:  link,
			Name: linkTitle(a),
		})
	})
	return rows
}

func cardLink(d *Document, card *goquery.Selection) (string, *goquery.Selection) {
	var link string
	var anchor *goquery.Selection
	card.Find("a[href]").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		link = usableLink(d, a.AttrOr("href", ""))
		if link != "" {
			anchor = a
			return false
		}
		return true
	})
	return link, anchor
}

// usableLink resolves href, rejecting fragments and non-navigational schemes.
func usableLink(d *Document, href string) string {
	href = strings.TrimSpace(href)
	lower := strings.ToLower(href)
	if href == "" || strings.HasPrefix(href, "#") ||
		strings.HasPrefix(lower, "javascript:") ||
		strings.HasPrefix(lower, "mailto:") ||
		strings.HasPrefix(lower, "tel:") {
		return ""
	}
	return d.Resolve(href)
}

func cardTitle(card, anchor *goquery.Selection) string {
	if t := firstTextIn(card, "h1, h2, h3, h4, h5, h6"); t != "" {
		return t
	}
	var title string
	card.Find(`[itemprop="name"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		title = normalize.Text(attrOrText(s, "content"))
		return title == ""
	})
	if title != "" || anchor == nil {
		return title
	}
	return linkTitle(anchor)
}

func linkTitle(a *goquery.Selection) string {
	if t := normalize.Text(a.AttrOr("title", "")); t != "" {
		return t
	}
	if t := visibleText(a); t != "" {
		return t
	}
	if img := a.Find("img[alt]").First(); img.Length() > 0 {
		return normalize.Text(img.AttrOr("alt", ""))
	}
	return ""
}

// cardPrice uses only strategies that can be scoped to the card.
func cardPrice(card *goquery.Selection) string {
	if p := scopedPrice(card); p != "" {
		return p
	}
	return normalize.Price(matchPrice(visibleText(card)))
}
