package parser

import (
	"errors"
	"testing"

	"github.com/maltedev/tablegen/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const apiURL = "https://api.shop.example/v1/products/42"

func TestDecodeStructured(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		expected models.ProductRecord
	}{
		{
			name: "Flat payload",
			body: `{"title":"Desk Lamp","price":"1.234,56 €","imageUrl":"/img/lamp.jpg","description":"Warm  light","moq":"1,000"}`,
			expected: models.ProductRecord{
				URL:         apiURL,
				Name:        "Desk Lamp",
				Price:       "1234.56",
				ImageURL:    "https://api.shop.example/img/lamp.jpg",
				MOQValue:    "1000",
				Description: "Warm light",
			},
		},
		{
			name: "Wrapped payload with numeric price",
			body: `{"status":"ok","data":{"name":"Chair","current_price":1234.5,"images":["https://cdn.example/c.png","https://cdn.example/d.png"]}}`,
			expected: models.ProductRecord{
				URL:      apiURL,
				Name:     "Chair",
				Price:    "1234.5",
				ImageURL: "https://cdn.example/c.png",
			},
		},
		{
			name: "Exponent numbers are expanded",
			body: `{"name":"Bulk","price":1.5e3}`,
			expected: models.ProductRecord{
				URL:   apiURL,
				Name:  "Bulk",
				Price: "1500",
			},
		},
		{
			name: "Offers as in JSON-LD",
			body: `{"@type":"Product","name":"Table","offers":[{"priceSpecification":{"price":"99.90"},"eligibleQuantity":{"minValue":10}}]}`,
			expected: models.ProductRecord{
				URL:      apiURL,
				Name:     "Table",
				Price:    "99.90",
				MOQValue: "10",
			},
		},
		{
			name: "Lenient JSON",
			body: `{name: 'Stool', price: '12,50',}`,
			expected: models.ProductRecord{
				URL:   apiURL,
				Name:  "Stool",
				Price: "12.50",
			},
		},
		{
			name:     "Unknown shape",
			body:     `{"status":"ok","count":3}`,
			expected: models.ProductRecord{URL: apiURL},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, err := DecodeStructured([]byte(tt.body), apiURL)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, rec)
		})
	}
}

func TestDecodeStructuredErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"Not JSON", `<html></html>`},
		{"Array top level", `[{"name":"x"}]`},
		{"Scalar top level", `"hello"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeStructured([]byte(tt.body), apiURL)
			require.Error(t, err)

			var decodeErr *DecodeError
			assert.True(t, errors.As(err, &decodeErr))
		})
	}
}

func TestRoute(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		body        string
		structured  bool
	}{
		{"JSON content type", "application/json; charset=utf-8", `{"name":"Lamp"}`, true},
		{"Vendor JSON", "application/vnd.shop+json", `{"name":"Lamp"}`, true},
		{"HTML", "text/html; charset=utf-8", `<html><body>{"name":"Lamp"}</body></html>`, false},
		{"Broken JSON falls through", "application/json", `<html><body>oops</body></html>`, false},
		{"JSON array falls through", "application/json", `[1,2,3]`, false},
		{"Missing content type sniffed", "", ` {"name":"Lamp"}`, true},
		{"Missing content type markup", "", `<html></html>`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			routed := Route(&models.RawPage{URL: apiURL, ContentType: tt.contentType, Body: []byte(tt.body)})

			assert.Equal(t, tt.structured, routed.Structured)
			if tt.structured {
				assert.Equal(t, "Lamp", routed.Record.Name)
				assert.Nil(t, routed.Markup)
			} else {
				assert.Equal(t, []byte(tt.body), routed.Markup)
			}
		})
	}
}
