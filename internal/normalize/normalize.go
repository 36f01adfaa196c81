// Package normalize canonicalizes raw extracted strings: prices, URLs and text.
package normalize

import (
	"net/url"
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

// numericRun matches the first number in a price string. Space and apostrophe
// grouping is only taken inside the integer part and in groups of exactly
// three digits, so "€19.99 3 for €50" stops at "19.99".
var numericRun = regexp.MustCompile(`\d{1,3}(?:[ '\x{2019}\x{00A0}\x{202F}]\d{3})+(?:[.,]\d+)?|\d+(?:[.,]\d+)*`)

// Price reduces a price string to a plain decimal with a dot separator, e.g.
// "1.234,56 €" and "$1,234.56" both become "1234.56". Returns "" when the
// input holds no digits.
func Price(s string) string {
	run := numericRun.FindString(s)
	if run == "" {
		return ""
	}

	run = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\u00a0', '\u202f', '\'', '\u2019':
			return -1
		}
		return r
	}, run)

	lastDot := strings.LastIndexByte(run, '.')
	lastComma := strings.LastIndexByte(run, ',')

	switch {
	case lastDot >= 0 && lastComma >= 0:
		// Both present: the later one decides, provided it sits in the last
		// three characters.
		dec, thou := byte('.'), byte(',')
		idx := lastDot
		if lastComma > lastDot {
			dec, thou = ',', '.'
			idx = lastComma
		}
		if len(run)-idx > 3 {
			return digitsOnly(run)
		}
		intPart := strings.ReplaceAll(run[:idx], string(thou), "")
		intPart = strings.ReplaceAll(intPart, string(dec), "")
		return joinDecimal(intPart, run[idx+1:])
	case lastDot >= 0:
		return singleSeparator(run, '.')
	case lastComma >= 0:
		return singleSeparator(run, ',')
	default:
		return run
	}
}

// singleSeparator handles strings using only one separator kind. It is a
// decimal when it occurs once and is not followed by exactly three digits.
func singleSeparator(run string, sep byte) string {
	if strings.Count(run, string(sep)) > 1 {
		return digitsOnly(run)
	}
	idx := strings.IndexByte(run, sep)
	intPart, frac := run[:idx], run[idx+1:]
	if len(frac) == 3 && strings.TrimLeft(intPart, "0") != "" {
		return intPart + frac
	}
	return joinDecimal(intPart, frac)
}

func joinDecimal(intPart, frac string) string {
	if intPart == "" {
		intPart = "0"
	}
	if frac == "" {
		return intPart
	}
	return intPart + "." + frac
}

func digitsOnly(s string) string {
	return strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, s)
}

// Resolver resolves references found on one page against that page's URL.
type Resolver struct {
	base *url.URL
}

// NewResolver parses base once. A base that is not an absolute URL yields a
// resolver that returns references unchanged.
func NewResolver(base string) Resolver {
	u, err := url.Parse(strings.TrimSpace(base))
	if err != nil || !u.IsAbs() {
		return Resolver{}
	}
	return Resolver{base: u}
}

// Resolve returns ref as an absolute URL. Malformed references degrade to the
// trimmed raw string.
func (r Resolver) Resolve(ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	if r.base == nil {
		return u.String()
	}
	return r.base.ResolveReference(u).String()
}

// ResolveURL resolves ref against base in one call.
func ResolveURL(base, ref string) string {
	return NewResolver(base).Resolve(ref)
}

// Text unescapes leftover entities, collapses all whitespace runs to single
// spaces and trims the result.
func Text(s string) string {
	if s == "" {
		return ""
	}
	return strings.Join(strings.Fields(html.UnescapeString(s)), " ")
}

// Quantity returns the whole-number part of the first number in s with
// grouping removed, e.g. "1,000 pcs" becomes "1000".
func Quantity(s string) string {
	intPart, _, _ := strings.Cut(Price(s), ".")
	return intPart
}
