package models

import (
	"strings"
)

// Field names double as JSON keys and export column headers.
const (
	FieldURL         = "url"
	FieldName        = "name"
	FieldPrice       = "price"
	FieldImageURL    = "imageUrl"
	FieldMOQValue    = "moq_value"
	FieldDescription = "description"
	FieldError       = "error"
)

// AllFields is the default column order for exports.
var AllFields = []string{
	FieldURL,
	FieldName,
	FieldPrice,
	FieldImageURL,
	FieldMOQValue,
	FieldDescription,
	FieldError,
}

// BusinessFields are the extracted columns a caller may select.
var BusinessFields = []string{
	FieldName,
	FieldPrice,
	FieldImageURL,
	FieldMOQValue,
	FieldDescription,
}

// PageKind is the classification of a fetched page.
type PageKind string

const (
	KindDetail     PageKind = "detail"
	KindListing    PageKind = "listing"
	KindStructured PageKind = "structured"
)

// ProductRecord is one normalized output row. Every business field is always
// present as a string; Error is set only when extraction for URL failed.
type ProductRecord struct {
	URL         string `json:"url"`
	Name        string `json:"name"`
	Price       string `json:"price"`
	ImageURL    string `json:"imageUrl"`
	MOQValue    string `json:"moq_value"`
	Description string `json:"description"`
	Error       string `json:"error,omitempty"`
}

// RawPage is a fetched response body, consumed once by the content router.
type RawPage struct {
	URL         string
	ContentType string
	StatusCode  int
	Body        []byte
}

// NewErrorRecord builds the row reported for a URL whose pipeline failed.
func NewErrorRecord(url string, err error) ProductRecord {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	return ProductRecord{URL: url, Error: msg}
}

// Failed reports whether the record carries an error.
func (r ProductRecord) Failed() bool {
	return r.Error != ""
}

// Get returns the value of a column by field name.
func (r ProductRecord) Get(field string) (string, bool) {
	switch field {
	case FieldURL:
		return r.URL, true
	case FieldName:
		return r.Name, true
	case FieldPrice:
		return r.Price, true
	case FieldImageURL:
		return r.ImageURL, true
	case FieldMOQValue:
		return r.MOQValue, true
	case FieldDescription:
		return r.Description, true
	case FieldError:
		return r.Error, true
	default:
		return "", false
	}
}

// Project subsets the record to the requested columns. url is always kept,
// error is kept whenever it is set. Unknown field names are ignored and an
// empty selection means every business field.
func (r ProductRecord) Project(fields []string) map[string]string {
	out := map[string]string{FieldURL: r.URL}
	for _, f := range SelectFields(fields) {
		if v, ok := r.Get(f); ok {
			out[f] = v
		}
	}
	if r.Error != "" {
		out[FieldError] = r.Error
	}
	return out
}

// SelectFields resolves a caller's selection into a clean, ordered column list
// of business fields.
func SelectFields(fields []string) []string {
	if len(fields) == 0 {
		return BusinessFields
	}

	seen := make(map[string]bool, len(fields))
	selected := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.TrimSpace(f)
		if !IsBusinessField(f) || seen[f] {
			continue
		}
		seen[f] = true
		selected = append(selected, f)
	}
	if len(selected) == 0 {
		return BusinessFields
	}
	return selected
}

// Columns returns the export column order for a selection: url first, then
// the selected business fields, then error.
func Columns(fields []string) []string {
	cols := []string{FieldURL}
	cols = append(cols, SelectFields(fields)...)
	return append(cols, FieldError)
}

func IsBusinessField(f string) bool {
	for _, b := range BusinessFields {
		if b == f {
			return true
		}
	}
	return false
}
