package parser

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Level ranks a tier's source; lower levels are more trustworthy.
type Level int

const (
	LevelMetadata Level = iota + 1
	LevelStructured
	LevelSelector
	LevelFallback
)

func (l Level) String() string {
	switch l {
	case LevelMetadata:
		return "metadata"
	case LevelStructured:
		return "structured"
	case LevelSelector:
		return "selector"
	case LevelFallback:
		return "fallback"
	default:
		return "unknown"
	}
}

// TierFunc produces a raw candidate value for one field, or "".
type TierFunc func(d *Document) string

// Tier is one extraction strategy in a field's fallback chain.
type Tier struct {
	Name  string
	Level Level
	Fn    TierFunc
}

// Chain is the ordered list of tiers for one output field. Clean canonicalizes
// each candidate; a candidate that cleans to "" does not stop the chain.
type Chain struct {
	Field string
	Tiers []Tier
	Clean func(d *Document, raw string) string
}

// Run evaluates tiers in order and stops at the first non-empty result. The
// returned tier is the zero Tier when nothing matched.
func (c Chain) Run(d *Document) (string, Tier) {
	for _, t := range c.Tiers {
		v := t.Fn(d)
		if c.Clean != nil {
			v = c.Clean(d, v)
		} else {
			v = strings.TrimSpace(v)
		}
		if v != "" {
			return v, t
		}
	}
	return "", Tier{}
}

// metaContent returns the content of the first matching meta tag.
func metaContent(selectors ...string) TierFunc {
	return func(d *Document) string {
		for _, sel := range selectors {
			if v, ok := d.Find(sel).First().Attr("content"); ok && strings.TrimSpace(v) != "" {
				return v
			}
		}
		return ""
	}
}

// firstText returns the visible text of the first non-empty match.
func firstText(selectors ...string) TierFunc {
	return func(d *Document) string {
		return firstTextIn(d.Selection, selectors...)
	}
}

func firstTextIn(scope *goquery.Selection, selectors ...string) string {
	for _, sel := range selectors {
		var found string
		scope.Find(sel).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			found = visibleText(s)
			return found == ""
		})
		if found != "" {
			return found
		}
	}
	return ""
}

// attrOrText prefers the content attribute of microdata nodes and falls back
// to their text.
func attrOrText(s *goquery.Selection, attrs ...string) string {
	for _, a := range attrs {
		if v, ok := s.Attr(a); ok && strings.TrimSpace(v) != "" {
			return v
		}
	}
	return visibleText(s)
}

func productField(fn func(product map[string]any) string) TierFunc {
	return func(d *Document) string {
		for _, p := range d.Products() {
			if v := fn(p); v != "" {
				return v
			}
		}
		return ""
	}
}
