package parser

import (
	"bytes"
	"encoding/json"
	"errors"
	"mime"
	"strings"

	"github.com/maltedev/tablegen/internal/models"
	"github.com/maltedev/tablegen/internal/normalize"
)

var ErrNotObject = errors.New("top-level value is not an object")

// DecodeError reports a payload that announced itself as JSON but could not be
// decoded into an object.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return "failed to decode structured payload: " + e.Err.Error()
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Routed is the outcome of content routing: either a finished structured
// record or markup left for classification.
type Routed struct {
	Structured bool
	Record     models.ProductRecord
	Markup     []byte
}

// Route branches on the response media type. JSON payloads are decoded
// directly; a payload that fails to decode falls through to markup handling.
func Route(page *models.RawPage) Routed {
	if looksLikeJSON(page.ContentType, page.Body) {
		rec, err := DecodeStructured(page.Body, page.URL)
		if err == nil {
			return Routed{Structured: true, Record: rec}
		}
	}
	return Routed{Markup: page.Body}
}

func looksLikeJSON(contentType string, body []byte) bool {
	if contentType == "" {
		trimmed := bytes.TrimSpace(body)
		return len(trimmed) > 0 && trimmed[0] == '{'
	}
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	switch {
	case mt == "application/json", mt == "text/json":
		return true
	case strings.HasPrefix(mt, "application/") && strings.HasSuffix(mt, "+json"):
		return true
	}
	return false
}

var (
	nameKeys        = []string{"name", "title", "product_name", "productName"}
	priceKeys       = []string{"price", "current_price", "currentPrice", "sale_price", "salePrice"}
	imageKeys       = []string{"image", "imageUrl", "image_url", "images", "thumbnail"}
	descriptionKeys = []string{"description", "desc", "summary"}
	moqKeys         = []string{"moq", "moq_value", "min_order_quantity", "minOrderQuantity"}

	wrapperKeys = []string{"data", "product", "item"}
)

// DecodeStructured maps a JSON product payload onto a record. Payloads whose
// shape is not recognized produce an empty record and no error.
func DecodeStructured(body []byte, sourceURL string) (models.ProductRecord, error) {
	v, err := decodeJSON(body)
	if err != nil {
		return models.ProductRecord{}, &DecodeError{Err: err}
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return models.ProductRecord{}, &DecodeError{Err: ErrNotObject}
	}

	if !hasProductKeys(obj) {
		for _, w := range wrapperKeys {
			if inner, ok := obj[w].(map[string]any); ok && hasProductKeys(inner) {
				obj = inner
				break
			}
		}
	}

	rec := models.ProductRecord{
		URL:         sourceURL,
		Name:        normalize.Text(firstString(obj, nameKeys...)),
		Description: normalize.Text(firstString(obj, descriptionKeys...)),
	}

	rec.Price = firstPrice(obj)
	moq := firstString(obj, moqKeys...)
	for _, o := range offersOf(obj) {
		if rec.Price == "" {
			rec.Price = normalize.Price(offerPrice(o))
		}
		if moq == "" {
			moq = offerMinQuantity(o)
		}
	}
	rec.MOQValue = normalize.Quantity(moq)

	for _, k := range imageKeys {
		if img := imageOf(obj[k]); img != "" {
			rec.ImageURL = normalize.ResolveURL(sourceURL, img)
			break
		}
	}

	return rec, nil
}

// firstPrice keeps JSON numbers as they are; only strings go through the
// separator heuristics.
func firstPrice(obj map[string]any) string {
	for _, k := range priceKeys {
		switch v := obj[k].(type) {
		case json.Number, float64:
			return stringOf(v)
		case string:
			if p := normalize.Price(v); p != "" {
				return p
			}
		case map[string]any:
			if p := normalize.Price(firstString(v, "amount", "value", "@value")); p != "" {
				return p
			}
		}
	}
	return ""
}

func hasProductKeys(obj map[string]any) bool {
	for _, keys := range [][]string{nameKeys, priceKeys, imageKeys, descriptionKeys, moqKeys} {
		for _, k := range keys {
			if _, ok := obj[k]; ok {
				return true
			}
		}
	}
	_, ok := obj["offers"]
	return ok
}
