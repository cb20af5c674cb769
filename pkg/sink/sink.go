// Package sink writes exported rows to a tabular destination.
//
// A Sink owns named sheets addressed in A1 notation. Every export begins with
// Prepare, which leaves the sheet holding only a styled, frozen header row;
// data rows are then written in blocks starting at row 2.
//
// Implementations:
//   - Sheets: a Google Sheets spreadsheet (sheets/v4)
//   - XLSX: a local workbook file (excelize), saved on Flush
//   - Memory: an in-process grid used by tests
package sink

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
)

// Layout describes the header of a sheet.
type Layout struct {
	// Name of the sheet (tab).
	Name string

	// Header cells written to row 1, in column order.
	Header []string

	// HeaderColor is the header background as "#rrggbb".
	HeaderColor string
}

// Sink is a tabular destination.
type Sink interface {
	// Prepare creates the sheet if needed, clears it, writes the header row,
	// styles it, freezes it and auto-sizes the header columns.
	Prepare(ctx context.Context, layout Layout) error

	// WriteRows writes a block of rows with its first row at startRow (1-based).
	WriteRows(ctx context.Context, sheet string, startRow int, rows [][]any) error

	// WriteCell writes one value at an A1 reference such as "J1".
	WriteCell(ctx context.Context, sheet, cell string, value any) error

	// ReadColumn returns the non-empty values of column (e.g. "A") from row
	// fromRow downward.
	ReadColumn(ctx context.Context, sheet, column string, fromRow int) ([]string, error)

	// AutoResize fits the width of the first columns columns to their content.
	AutoResize(ctx context.Context, sheet string, columns int) error

	// Flush persists pending changes.
	Flush(ctx context.Context) error
}

// CellName returns the A1 reference of a 1-based column and row.
func CellName(col, row int) (string, error) {
	return excelize.CoordinatesToCellName(col, row)
}

// ColumnName returns the letters of a 1-based column number.
func ColumnName(col int) (string, error) {
	return excelize.ColumnNumberToName(col)
}

// rgb is a color with 0-1 channel intensities.
type rgb struct {
	R, G, B float64
}

// parseHexColor parses "#rrggbb" (the leading # is optional).
func parseHexColor(s string) (rgb, string, error) {
	hex := strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(hex) != 6 {
		return rgb{}, "", fmt.Errorf("invalid color %q", s)
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return rgb{}, "", fmt.Errorf("invalid color %q: %w", s, err)
	}
	c := rgb{
		R: float64((v>>16)&0xff) / 255,
		G: float64((v>>8)&0xff) / 255,
		B: float64(v&0xff) / 255,
	}
	return c, strings.ToUpper(hex), nil
}

// headerRow converts header labels into row values.
func headerRow(header []string) []any {
	row := make([]any, len(header))
	for i, h := range header {
		row[i] = h
	}
	return row
}

// cellText renders a cell value for column reads and width estimation.
func cellText(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprint(t)
	}
}

var (
	_ Sink = (*Sheets)(nil)
	_ Sink = (*XLSX)(nil)
	_ Sink = (*Memory)(nil)
)
