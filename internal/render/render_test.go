package render

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"regexp"
	"strings"
	"testing"

	"github.com/maltedev/tablegen/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

var sampleRows = []models.ProductRecord{
	{URL: "https://shop.example/p/1", Name: "Lamp, large", Price: "19.99", ImageURL: "https://shop.example/1.jpg"},
	{URL: "https://shop.example/p/2", Name: `Chair "Oslo"`, Price: "", Description: "Oak | walnut"},
	models.NewErrorRecord("https://shop.example/p/3", assert.AnError),
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		input    string
		expected Format
		err      error
	}{
		{"", FormatJSON, nil},
		{"JSON", FormatJSON, nil},
		{"excel", FormatXLSX, nil},
		{"xlsx", FormatXLSX, nil},
		{"md", FormatMarkdown, nil},
		{" csv ", FormatCSV, nil},
		{"html", FormatHTML, nil},
		{"pdf", FormatPDF, nil},
		{"docx", "", ErrUnsupportedFormat},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseFormat(tt.input)
			if tt.err != nil {
				assert.ErrorIs(t, err, tt.err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestRenderCSV(t *testing.T) {
	out, err := Render(FormatCSV, sampleRows, []string{"name", "price"})
	require.NoError(t, err)

	assert.Equal(t, "text/csv; charset=utf-8", out.ContentType)
	assert.Regexp(t, regexp.MustCompile(`^table_\d+\.csv$`), out.Filename)

	records, err := csv.NewReader(bytes.NewReader(out.Body)).ReadAll()
	require.NoError(t, err)
	assert.Equal(t, [][]string{
		{"url", "name", "price", "error"},
		{"https://shop.example/p/1", "Lamp, large", "19.99", ""},
		{"https://shop.example/p/2", `Chair "Oslo"`, "", ""},
		{"https://shop.example/p/3", "", "", assert.AnError.Error()},
	}, records)
}

func TestRenderJSON(t *testing.T) {
	out, err := Render(FormatJSON, sampleRows[:1], []string{"price"})
	require.NoError(t, err)

	var got []map[string]string
	require.NoError(t, json.Unmarshal(out.Body, &got))
	assert.Equal(t, []map[string]string{{"url": "https://shop.example/p/1", "price": "19.99"}}, got)
}

func TestRenderXLSX(t *testing.T) {
	out, err := Render(FormatXLSX, sampleRows, nil)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(out.Filename, ".xlsx"))
	assert.True(t, FormatXLSX.Attachment())

	f, err := excelize.OpenReader(bytes.NewReader(out.Body))
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(SheetName)
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, models.Columns(nil), rows[0])
	assert.Equal(t, "Lamp, large", rows[1][1])
	assert.Equal(t, "19.99", rows[1][2])
}

func TestRenderMarkdownAndHTML(t *testing.T) {
	md, err := Render(FormatMarkdown, sampleRows, []string{"name"})
	require.NoError(t, err)
	body := string(md.Body)
	assert.Contains(t, body, "| url | name | error |")
	assert.Contains(t, body, "Lamp, large")

	page, err := Render(FormatHTML, sampleRows, []string{"name"})
	require.NoError(t, err)
	assert.Contains(t, string(page.Body), "<table")
	assert.Contains(t, string(page.Body), "Oslo")
}

func TestRenderUnavailableFormats(t *testing.T) {
	_, err := Render(FormatPDF, sampleRows, nil)
	assert.ErrorIs(t, err, ErrNotImplemented)

	_, err = Render(Format("docx"), sampleRows, nil)
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}
