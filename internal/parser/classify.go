package parser

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/maltedev/tablegen/internal/models"
	"golang.org/x/net/html"
)

// DefaultListingThreshold is the number of product cards at which a page is
// treated as a listing.
const DefaultListingThreshold = 2

var (
	currencyMarker = regexp.MustCompile(`(?i)(?:[€$£¥₹]|\b(?:EUR|USD|GBP|CHF|JPY|CNY|RMB|INR)\b)\s?\d|\d\s?(?:[€$£¥₹]|(?:EUR|USD|GBP|CHF|JPY|CNY|RMB|INR)\b)`)

	cardClassHints = []string{"product", "item", "card", "tile"}
)

const cardCandidates = `[itemtype*="schema.org/Product"], li, article, div`

// Page is the classified form of a markup document. It is either a
// *DetailPage or a *ListingPage.
type Page interface {
	Kind() models.PageKind
	Document() *Document
	isPage()
}

type DetailPage struct {
	Doc *Document
}

func (*DetailPage) Kind() models.PageKind  { return models.KindDetail }
func (p *DetailPage) Document() *Document { return p.Doc }
func (*DetailPage) isPage()               {}

type ListingPage struct {
	Doc   *Document
	Cards *goquery.Selection
}

func (*ListingPage) Kind() models.PageKind  { return models.KindListing }
func (p *ListingPage) Document() *Document { return p.Doc }
func (*ListingPage) isPage()               {}

// Classifier decides between detail and listing pages by counting repeated
// product cards. A detail page carrying several recommendation widgets can be
// reported as a listing.
type Classifier struct {
	Threshold int
}

func NewClassifier(threshold int) Classifier {
	if threshold <= 0 {
		threshold = DefaultListingThreshold
	}
	return Classifier{Threshold: threshold}
}

func (c Classifier) Classify(d *Document) Page {
	threshold := c.Threshold
	if threshold <= 0 {
		threshold = DefaultListingThreshold
	}

	cards := FindCards(d.Selection)
	if cards.Length() >= threshold {
		return &ListingPage{Doc: d, Cards: cards}
	}
	return &DetailPage{Doc: d}
}

// FindCards returns the product cards under root in document order. An element
// holding two or more cards is a container rather than a card; any other
// nested match is counted once, at its outermost element.
func FindCards(root *goquery.Selection) *goquery.Selection {
	candidates := root.Find(cardCandidates).FilterFunction(func(_ int, s *goquery.Selection) bool {
		return looksLikeCard(s) && hasCardContent(s)
	})
	if candidates.Length() == 0 {
		return candidates
	}

	isCandidate := make(map[*html.Node]bool, candidates.Length())
	for _, n := range candidates.Nodes {
		isCandidate[n] = true
	}

	inner := make(map[*html.Node]int)
	for _, n := range candidates.Nodes {
		for p := n.Parent; p != nil; p = p.Parent {
			if isCandidate[p] {
				inner[p]++
			}
		}
	}

	cards := make([]*html.Node, 0, candidates.Length())
	for _, n := range candidates.Nodes {
		if inner[n] >= 2 {
			continue
		}
		nested := false
		for p := n.Parent; p != nil; p = p.Parent {
			if isCandidate[p] && inner[p] < 2 {
				nested = true
				break
			}
		}
		if !nested {
			cards = append(cards, n)
		}
	}
	return candidates.FilterNodes(cards...)
}

func looksLikeCard(s *goquery.Selection) bool {
	if itemtype, ok := s.Attr("itemtype"); ok && strings.Contains(itemtype, "schema.org/Product") {
		return true
	}
	if _, ok := s.Attr("data-product-id"); ok {
		return true
	}
	class := strings.ToLower(s.AttrOr("class", ""))
	for _, hint := range cardClassHints {
		if strings.Contains(class, hint) {
			return true
		}
	}
	return false
}

func hasCardContent(s *goquery.Selection) bool {
	if s.Find("a[href]").Length() == 0 || s.Find("img").Length() == 0 {
		return false
	}
	if s.Find(`[itemprop="price"], [data-price], [class*="price"]`).Length() > 0 {
		return true
	}
	return currencyMarker.MatchString(visibleText(s))
}
