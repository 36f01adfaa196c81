package parser

import (
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/maltedev/tablegen/internal/models"
	"github.com/maltedev/tablegen/internal/normalize"
)

const (
	currencySymbols = `[€$£¥₹]|US\$|(?:EUR|USD|GBP|CHF|JPY|CNY|RMB|INR|AUD|CAD)\b`
	priceNumber     = `\d+(?:[.,'\x{00A0} ]\d{3})*(?:[.,]\d{1,2})?`
)

var (
	// pricePattern finds an amount with a currency marker on either side.
	pricePattern = regexp.MustCompile(
		`(?i)(?:(?:` + currencySymbols + `)\s?(` + priceNumber + `))|(?:(` + priceNumber + `)\s?(?:[€$£¥₹]|(?:EUR|USD|GBP|CHF|JPY|CNY|RMB|INR|AUD|CAD)\b))`,
	)

	moqPattern = regexp.MustCompile(
		`(?i)\b(?:MOQ|min(?:imum|\.)?\s*order(?:\s*(?:quantity|qty))?|min(?:imum|\.)?\s*(?:quantity|qty))\s*[:：]?\s*(\d[\d,.]*)`,
	)

	junkImage = regexp.MustCompile(`(?i)(logo|icon|sprite|pixel|spacer|blank|placeholder|tracking|badge)|\.svg(?:$|\?)`)
)

// DetailExtractor fills a record from a single product page.
type DetailExtractor struct {
	chains []Chain
	logger *slog.Logger
}

func NewDetailExtractor(logger *slog.Logger) *DetailExtractor {
	return NewDetailExtractorWithChains(DefaultChains(), logger)
}

// NewDetailExtractorWithChains builds an extractor over caller-supplied chains.
func NewDetailExtractorWithChains(chains []Chain, logger *slog.Logger) *DetailExtractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &DetailExtractor{
		chains: chains,
		logger: logger.With("component", "detail_extractor"),
	}
}

// Chains returns a copy of the configured chains.
func (e *DetailExtractor) Chains() []Chain {
	out := make([]Chain, len(e.chains))
	copy(out, e.chains)
	return out
}

// Extract evaluates every field's chain independently. Fields with no match
// are left empty.
func (e *DetailExtractor) Extract(d *Document) models.ProductRecord {
	rec := models.ProductRecord{URL: d.URL}
	for _, c := range e.chains {
		v, tier := c.Run(d)
		if v == "" {
			continue
		}
		e.logger.Debug("field extracted",
			"url", d.URL,
			"field", c.Field,
			"tier", tier.Name,
			"level", tier.Level.String(),
		)
		setField(&rec, c.Field, v)
	}
	return rec
}

func setField(rec *models.ProductRecord, field, v string) {
	switch field {
	case models.FieldName:
		rec.Name = v
	case models.FieldPrice:
		rec.Price = v
	case models.FieldImageURL:
		rec.ImageURL = v
	case models.FieldMOQValue:
		rec.MOQValue = v
	case models.FieldDescription:
		rec.Description = v
	}
}

func cleanText(_ *Document, raw string) string  { return normalize.Text(raw) }
func cleanPrice(_ *Document, raw string) string { return normalize.Price(raw) }
func cleanQuantity(_ *Document, raw string) string {
	return normalize.Quantity(raw)
}
func cleanURL(d *Document, raw string) string { return d.Resolve(raw) }

// DefaultChains returns the fallback chains for every business field, ordered
// metadata, embedded structured data, selectors, fallback.
func DefaultChains() []Chain {
	return []Chain{
		{
			Field: models.FieldName,
			Clean: cleanText,
			Tiers: []Tier{
				{Name: "og:title", Level: LevelMetadata, Fn: metaContent(
					`meta[property="og:title"]`, `meta[name="og:title"]`, `meta[name="twitter:title"]`,
				)},
				{Name: "jsonld:name", Level: LevelStructured, Fn: productField(func(p map[string]any) string {
					return firstString(p, "name")
				})},
				{Name: "itemprop:name", Level: LevelSelector, Fn: microdata(`[itemtype*="schema.org/Product"] [itemprop="name"]`)},
				{Name: "h1", Level: LevelSelector, Fn: firstText("h1")},
				{Name: "title-class", Level: LevelSelector, Fn: firstText(
					`[class*="product-title"]`, `[class*="product-name"]`, `[class*="product_title"]`,
				)},
				{Name: "title", Level: LevelFallback, Fn: firstText("title")},
			},
		},
		{
			Field: models.FieldPrice,
			Clean: cleanPrice,
			Tiers: []Tier{
				{Name: "meta:price", Level: LevelMetadata, Fn: metaContent(
					`meta[property="product:price:amount"]`, `meta[property="og:price:amount"]`, `meta[name="price"]`,
				)},
				{Name: "jsonld:offers", Level: LevelStructured, Fn: productField(func(p map[string]any) string {
					for _, o := range offersOf(p) {
						if v := offerPrice(o); v != "" {
							return v
						}
					}
					return ""
				})},
				{Name: "price-selector", Level: LevelSelector, Fn: func(d *Document) string {
					return scopedPrice(d.Selection)
				}},
				{Name: "price-regex", Level: LevelFallback, Fn: func(d *Document) string {
					return matchPrice(d.BodyText())
				}},
			},
		},
		{
			Field: models.FieldImageURL,
			Clean: cleanURL,
			Tiers: []Tier{
				{Name: "og:image", Level: LevelMetadata, Fn: metaContent(
					`meta[property="og:image"]`, `meta[name="og:image"]`,
					`meta[property="og:image:url"]`, `meta[name="twitter:image"]`,
				)},
				{Name: "jsonld:image", Level: LevelStructured, Fn: productField(func(p map[string]any) string {
					return imageOf(p["image"])
				})},
				{Name: "itemprop:image", Level: LevelSelector, Fn: func(d *Document) string {
					var found string
					d.Find(`[itemprop="image"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
						for _, a := range []string{"content", "src", "data-src", "href"} {
							if v, ok := s.Attr(a); ok && strings.TrimSpace(v) != "" {
								found = v
								return false
							}
						}
						return true
					})
					return found
				}},
				{Name: "first-image", Level: LevelFallback, Fn: func(d *Document) string {
					return contentImage(d.Find("body"))
				}},
			},
		},
		{
			Field: models.FieldMOQValue,
			Clean: cleanQuantity,
			Tiers: []Tier{
				{Name: "jsonld:eligibleQuantity", Level: LevelStructured, Fn: productField(func(p map[string]any) string {
					for _, o := range offersOf(p) {
						if v := offerMinQuantity(o); v != "" {
							return v
						}
					}
					return ""
				})},
				{Name: "moq-selector", Level: LevelSelector, Fn: moqSelector},
				{Name: "moq-regex", Level: LevelFallback, Fn: func(d *Document) string {
					if m := moqPattern.FindStringSubmatch(d.BodyText()); m != nil {
						return m[1]
					}
					return ""
				}},
			},
		},
		{
			Field: models.FieldDescription,
			Clean: cleanText,
			Tiers: []Tier{
				{Name: "meta:description", Level: LevelMetadata, Fn: metaContent(
					`meta[name="description"]`, `meta[property="og:description"]`, `meta[name="og:description"]`,
				)},
				{Name: "jsonld:description", Level: LevelStructured, Fn: productField(func(p map[string]any) string {
					return firstString(p, "description")
				})},
				{Name: "itemprop:description", Level: LevelSelector, Fn: microdata(`[itemprop="description"]`)},
				{Name: "description-class", Level: LevelSelector, Fn: firstText(`[class*="description"]`)},
			},
		},
	}
}

func microdata(selector string) TierFunc {
	return func(d *Document) string {
		var found string
		d.Find(selector).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			found = attrOrText(s, "content")
			return found == ""
		})
		return found
	}
}

// scopedPrice runs the selector-level price strategies inside scope.
func scopedPrice(scope *goquery.Selection) string {
	var found string
	scope.Find(`[itemprop="price"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		found = normalize.Price(attrOrText(s, "content"))
		return found == ""
	})
	if found != "" {
		return found
	}

	scope.Find(`[data-price]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		v, _ := s.Attr("data-price")
		found = normalize.Price(v)
		return found == ""
	})
	if found != "" {
		return found
	}

	for _, sel := range []string{`[class*="sale-price"]`, `[class*="current-price"]`, `[class*="price"]`} {
		// The bare substring also hits notes like "price-note"; those only
		// count when they show a currency.
		needMarker := sel == `[class*="price"]`
		scope.Find(sel).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			text := visibleText(s)
			if needMarker && !currencyMarker.MatchString(text) {
				return true
			}
			found = normalize.Price(text)
			return found == ""
		})
		if found != "" {
			return found
		}
	}
	return ""
}

// matchPrice returns the first currency-marked amount in text.
func matchPrice(text string) string {
	m := pricePattern.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	if m[1] != "" {
		return m[1]
	}
	return m[2]
}

func moqSelector(d *Document) string {
	var found string
	d.Find(`[itemprop="minValue"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		found = attrOrText(s, "content")
		return found == ""
	})
	if found != "" {
		return found
	}

	for _, attr := range []string{"data-moq", "data-min-qty", "data-min-quantity"} {
		if v, ok := d.Find("[" + attr + "]").First().Attr(attr); ok && strings.TrimSpace(v) != "" {
			return v
		}
	}

	// Quantity inputs default to min="1" on most shops; only a higher floor
	// is a minimum order.
	d.Find(`input[name="qty"][min], input[name="quantity"][min]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		v, _ := s.Attr("min")
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n > 1 {
			found = v
			return false
		}
		return true
	})
	return found
}

// contentImage picks the first img that plausibly shows a product, skipping
// inline data, vector assets and site chrome.
func contentImage(scope *goquery.Selection) string {
	var found string
	scope.Find("img").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if tiny(s, "width") || tiny(s, "height") {
			return true
		}
		for _, a := range []string{"src", "data-src", "data-original", "data-lazy-src", "srcset"} {
			v, ok := s.Attr(a)
			if !ok {
				continue
			}
			v = strings.TrimSpace(v)
			if a == "srcset" {
				v = firstSrcset(v)
			}
			if v == "" || strings.HasPrefix(v, "data:") || junkImage.MatchString(v) {
				continue
			}
			found = v
			return false
		}
		return true
	})
	return found
}

func tiny(s *goquery.Selection, attr string) bool {
	v, ok := s.Attr(attr)
	if !ok {
		return false
	}
	n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimSpace(v), "px"))
	return err == nil && n <= 1
}

func firstSrcset(v string) string {
	first, _, _ := strings.Cut(v, ",")
	fields := strings.Fields(first)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}
