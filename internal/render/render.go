// Package render turns product rows into downloadable tables.
package render

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/maltedev/tablegen/internal/models"
	"github.com/xuri/excelize/v2"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported format")
	ErrNotImplemented    = errors.New("format not implemented")
)

type Format string

const (
	FormatJSON     Format = "json"
	FormatCSV      Format = "csv"
	FormatXLSX     Format = "xlsx"
	FormatMarkdown Format = "markdown"
	FormatHTML     Format = "html"
	FormatPDF      Format = "pdf"
)

const SheetName = "Sheet1"

// ParseFormat maps user input, including aliases such as "excel" and "md", to
// a Format. An empty string means JSON.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "json":
		return FormatJSON, nil
	case "csv":
		return FormatCSV, nil
	case "excel", "xlsx":
		return FormatXLSX, nil
	case "markdown", "md":
		return FormatMarkdown, nil
	case "html":
		return FormatHTML, nil
	case "pdf":
		return FormatPDF, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, s)
	}
}

// Attachment reports whether the format is served as a file download.
func (f Format) Attachment() bool {
	return f == FormatCSV || f == FormatXLSX
}

type Output struct {
	Body        []byte
	ContentType string
	Filename    string
}

// Render writes rows as a table in the given format. Columns are url, the
// selected fields in order, then error.
func Render(format Format, rows []models.ProductRecord, fields []string) (*Output, error) {
	columns := models.Columns(fields)
	stamp := time.Now().UnixMilli()

	switch format {
	case FormatJSON:
		projected := make([]map[string]string, 0, len(rows))
		for _, r := range rows {
			projected = append(projected, r.Project(fields))
		}
		body, err := json.MarshalIndent(projected, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("failed to encode JSON: %w", err)
		}
		return &Output{Body: body, ContentType: "application/json", Filename: filename(stamp, "json")}, nil

	case FormatCSV:
		body, err := renderCSV(columns, rows)
		if err != nil {
			return nil, err
		}
		return &Output{Body: body, ContentType: "text/csv; charset=utf-8", Filename: filename(stamp, "csv")}, nil

	case FormatMarkdown:
		return &Output{
			Body:        []byte(newTable(columns, rows).RenderMarkdown() + "\n"),
			ContentType: "text/markdown; charset=utf-8",
			Filename:    filename(stamp, "md"),
		}, nil

	case FormatHTML:
		return &Output{
			Body:        []byte(newTable(columns, rows).RenderHTML() + "\n"),
			ContentType: "text/html; charset=utf-8",
			Filename:    filename(stamp, "html"),
		}, nil

	case FormatXLSX:
		body, err := renderXLSX(columns, rows)
		if err != nil {
			return nil, err
		}
		return &Output{
			Body:        body,
			ContentType: "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
			Filename:    filename(stamp, "xlsx"),
		}, nil

	case FormatPDF:
		return nil, fmt.Errorf("%w: %s", ErrNotImplemented, format)

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}

func filename(stamp int64, ext string) string {
	return fmt.Sprintf("table_%d.%s", stamp, ext)
}

func newTable(columns []string, rows []models.ProductRecord) table.Writer {
	t := table.NewWriter()
	t.Style().Format.Header = text.FormatDefault

	header := make(table.Row, len(columns))
	for i, c := range columns {
		header[i] = c
	}
	t.AppendHeader(header)

	for _, r := range rows {
		t.AppendRow(rowValues(columns, r))
	}
	return t
}

func rowValues(columns []string, r models.ProductRecord) table.Row {
	row := make(table.Row, len(columns))
	for i, c := range columns {
		v, _ := r.Get(c)
		row[i] = v
	}
	return row
}

// renderCSV uses encoding/csv so fields with commas, quotes or newlines are
// quoted per RFC 4180.
func renderCSV(columns []string, rows []models.ProductRecord) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(columns); err != nil {
		return nil, fmt.Errorf("failed to write CSV header: %w", err)
	}
	line := make([]string, len(columns))
	for _, r := range rows {
		for i, c := range columns {
			line[i], _ = r.Get(c)
		}
		if err := w.Write(line); err != nil {
			return nil, fmt.Errorf("failed to write CSV row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("failed to flush CSV: %w", err)
	}
	return buf.Bytes(), nil
}

func renderXLSX(columns []string, rows []models.ProductRecord) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	header := make([]any, len(columns))
	for i, c := range columns {
		header[i] = c
	}
	if err := f.SetSheetRow(SheetName, "A1", &header); err != nil {
		return nil, fmt.Errorf("failed to write header: %w", err)
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}
	last, err := excelize.CoordinatesToCellName(len(columns), 1)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve header range: %w", err)
	}
	if err := f.SetCellStyle(SheetName, "A1", last, bold); err != nil {
		return nil, fmt.Errorf("failed to style header: %w", err)
	}

	for i, r := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve row %d: %w", i+2, err)
		}
		line := []any(rowValues(columns, r))
		if err := f.SetSheetRow(SheetName, cell, &line); err != nil {
			return nil, fmt.Errorf("failed to write row %d: %w", i+2, err)
		}
	}

	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("failed to write workbook: %w", err)
	}
	return buf.Bytes(), nil
}
