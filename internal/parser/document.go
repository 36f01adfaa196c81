// Package parser turns fetched pages into product records. It routes payloads
// by content type, classifies markup as a detail or listing page and runs the
// field extractors for each kind.
package parser

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"github.com/maltedev/tablegen/internal/normalize"
	"github.com/titanous/json5"
	"golang.org/x/net/html"
)

// Document is the parse context for one page. It is created per call and
// shared by every tier that runs against that page.
type Document struct {
	*goquery.Document
	URL string

	resolver normalize.Resolver

	ldOnce   sync.Once
	products []map[string]any

	textOnce sync.Once
	text     string
}

func NewDocument(body []byte, pageURL string) (*Document, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}
	return &Document{
		Document: doc,
		URL:      pageURL,
		resolver: normalize.NewResolver(pageURL),
	}, nil
}

// Resolve makes ref absolute against the page URL.
func (d *Document) Resolve(ref string) string {
	return d.resolver.Resolve(ref)
}

// Products returns the schema.org Product nodes embedded as JSON-LD. Blocks are
// decoded once per document; malformed blocks are skipped.
func (d *Document) Products() []map[string]any {
	d.ldOnce.Do(func() {
		d.Find(`script[type="application/ld+json"]`).Each(func(_ int, s *goquery.Selection) {
			raw := strings.TrimSpace(s.Text())
			if raw == "" {
				return
			}
			v, err := decodeJSON([]byte(raw))
			if err != nil {
				return
			}
			d.products = append(d.products, findProducts(v, 0)...)
		})
	})
	return d.products
}

// BodyText is the visible text of the page body on one line.
func (d *Document) BodyText() string {
	d.textOnce.Do(func() {
		d.text = visibleText(d.Find("body"))
	})
	return d.text
}

var errTrailingData = errors.New("unexpected data after top-level value")

// decodeJSON decodes strictly first and retries with the lenient json5 grammar
// for hand-written payloads (comments, single quotes, trailing commas).
func decodeJSON(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var v any
	err := dec.Decode(&v)
	if err == nil {
		if _, tokErr := dec.Token(); tokErr == io.EOF {
			return v, nil
		}
		err = errTrailingData
	}

	var lenient any
	if err5 := json5.Unmarshal(data, &lenient); err5 != nil {
		return nil, fmt.Errorf("failed to decode JSON: %w", err)
	}
	return lenient, nil
}

const maxLDDepth = 6

func findProducts(v any, depth int) []map[string]any {
	if depth > maxLDDepth {
		return nil
	}

	var out []map[string]any
	switch node := v.(type) {
	case []any:
		for _, item := range node {
			out = append(out, findProducts(item, depth+1)...)
		}
	case map[string]any:
		if isProduct(node) {
			out = append(out, node)
		}
		for _, key := range []string{"@graph", "mainEntity", "itemListElement"} {
			if child, ok := node[key]; ok {
				out = append(out, findProducts(child, depth+1)...)
			}
		}
	}
	return out
}

func isProduct(node map[string]any) bool {
	switch t := node["@type"].(type) {
	case string:
		return typeIsProduct(t)
	case []any:
		for _, item := range t {
			if s, ok := item.(string); ok && typeIsProduct(s) {
				return true
			}
		}
	}
	return false
}

func typeIsProduct(t string) bool {
	if i := strings.LastIndexAny(t, "/:"); i >= 0 {
		t = t[i+1:]
	}
	return t == "Product"
}

// stringOf renders scalar JSON values as text. Numbers keep their literal form.
func stringOf(v any) string {
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val)
	case json.Number:
		if strings.ContainsAny(string(val), "eE") {
			if f, err := val.Float64(); err == nil {
				return strconv.FormatFloat(f, 'f', -1, 64)
			}
		}
		return val.String()
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case map[string]any:
		return stringOf(val["@value"])
	default:
		return ""
	}
}

// firstString returns the first key of m holding a non-empty scalar.
func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s := stringOf(m[k]); s != "" {
			return s
		}
	}
	return ""
}

// imageOf accepts a URL string, an array of them or an ImageObject.
func imageOf(v any) string {
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val)
	case []any:
		for _, item := range val {
			if s := imageOf(item); s != "" {
				return s
			}
		}
	case map[string]any:
		return firstString(val, "url", "contentUrl", "@id")
	}
	return ""
}

// offersOf returns the offers of a product whether given as object or array.
func offersOf(product map[string]any) []map[string]any {
	var out []map[string]any
	switch o := product["offers"].(type) {
	case map[string]any:
		out = append(out, o)
	case []any:
		for _, item := range o {
			if m, ok := item.(map[string]any); ok {
				out = append(out, m)
			}
		}
	}
	return out
}

func offerPrice(offer map[string]any) string {
	if p := firstString(offer, "price", "lowPrice"); p != "" {
		return p
	}
	switch spec := offer["priceSpecification"].(type) {
	case map[string]any:
		return firstString(spec, "price", "minPrice")
	case []any:
		for _, item := range spec {
			if m, ok := item.(map[string]any); ok {
				if p := firstString(m, "price", "minPrice"); p != "" {
					return p
				}
			}
		}
	}
	return ""
}

func offerMinQuantity(offer map[string]any) string {
	q, ok := offer["eligibleQuantity"].(map[string]any)
	if !ok {
		return ""
	}
	return firstString(q, "minValue", "value")
}

var skipTextElements = map[string]bool{
	"script":   true,
	"style":    true,
	"noscript": true,
	"template": true,
	"svg":      true,
	"head":     true,
}

// blockElements end a text run; inline elements such as span join their
// neighbours so split prices like <span>19</span>,<span>99</span> stay intact.
var blockElements = map[string]bool{
	"p": true, "div": true, "li": true, "br": true, "ul": true, "ol": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"table": true, "tr": true, "td": true, "th": true, "dd": true, "dt": true,
	"section": true, "article": true, "header": true, "footer": true,
	"option": true, "button": true, "a": true, "img": true,
}

// visibleText flattens the text of a selection, skipping non-rendered
// elements, and collapses whitespace.
func visibleText(sel *goquery.Selection) string {
	var buf strings.Builder
	for _, n := range sel.Nodes {
		collectText(n, &buf)
	}
	return normalize.Text(buf.String())
}

func collectText(n *html.Node, buf *strings.Builder) {
	switch n.Type {
	case html.TextNode:
		buf.WriteString(n.Data)
		return
	case html.ElementNode:
		if skipTextElements[n.Data] {
			return
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectText(c, buf)
	}
	if n.Type == html.ElementNode && blockElements[n.Data] {
		buf.WriteByte(' ')
	}
}
