package sink

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/xuri/excelize/v2"
)

const (
	defaultSheet = "Sheet1"
	scratchSheet = "~scratch"

	minColWidth = 8
	maxColWidth = 80
)

// XLSX writes to a local workbook. Changes are kept in memory until Flush.
type XLSX struct {
	mu     sync.Mutex
	file   *excelize.File
	path   string
	fresh  bool
	logger zerolog.Logger
}

// OpenXLSX opens the workbook at path, or starts a new one when the file
// does not exist yet.
func OpenXLSX(path string) (*XLSX, error) {
	x := &XLSX{
		path:   path,
		logger: log.With().Str("component", "sink-xlsx").Str("path", path).Logger(),
	}

	f, err := excelize.OpenFile(path)
	switch {
	case err == nil:
		x.file = f
	case errors.Is(err, fs.ErrNotExist):
		x.file = excelize.NewFile()
		x.fresh = true
	default:
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	return x, nil
}

// Prepare implements Sink.
func (x *XLSX) Prepare(_ context.Context, layout Layout) error {
	_, hex, err := parseHexColor(layout.HeaderColor)
	if err != nil {
		return err
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	if err := x.resetSheet(layout.Name); err != nil {
		return err
	}

	header := headerRow(layout.Header)
	if err := x.file.SetSheetRow(layout.Name, "A1", &header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	style, err := x.file.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{hex}},
	})
	if err != nil {
		return fmt.Errorf("create header style: %w", err)
	}
	last, err := CellName(max(len(layout.Header), 1), 1)
	if err != nil {
		return err
	}
	if err := x.file.SetCellStyle(layout.Name, "A1", last, style); err != nil {
		return fmt.Errorf("style header: %w", err)
	}

	if err := x.file.SetPanes(layout.Name, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return fmt.Errorf("freeze header: %w", err)
	}

	return x.autoResize(layout.Name, len(layout.Header))
}

// resetSheet leaves name as an empty sheet. excelize cannot delete the last
// sheet of a workbook, so a scratch sheet holds its place meanwhile.
func (x *XLSX) resetSheet(name string) error {
	idx, err := x.file.GetSheetIndex(name)
	if err != nil {
		return fmt.Errorf("look up sheet %q: %w", name, err)
	}

	if idx >= 0 {
		if _, err := x.file.NewSheet(scratchSheet); err != nil {
			return fmt.Errorf("create scratch sheet: %w", err)
		}
		if err := x.file.DeleteSheet(name); err != nil {
			return fmt.Errorf("delete sheet %q: %w", name, err)
		}
	}

	idx, err = x.file.NewSheet(name)
	if err != nil {
		return fmt.Errorf("create sheet %q: %w", name, err)
	}
	x.file.SetActiveSheet(idx)

	if x.fresh && name != defaultSheet {
		if err := x.file.DeleteSheet(defaultSheet); err != nil {
			return fmt.Errorf("delete default sheet: %w", err)
		}
		x.fresh = false
	}
	if err := x.file.DeleteSheet(scratchSheet); err != nil {
		return fmt.Errorf("delete scratch sheet: %w", err)
	}

	// Indexes shift after deletions.
	if idx, err = x.file.GetSheetIndex(name); err == nil && idx >= 0 {
		x.file.SetActiveSheet(idx)
	}
	return nil
}

// WriteRows implements Sink.
func (x *XLSX) WriteRows(_ context.Context, sheet string, startRow int, rows [][]any) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	for i := range rows {
		ref, err := CellName(1, startRow+i)
		if err != nil {
			return err
		}
		if err := x.file.SetSheetRow(sheet, ref, &rows[i]); err != nil {
			return fmt.Errorf("write row %s!%s: %w", sheet, ref, err)
		}
	}
	return nil
}

// WriteCell implements Sink.
func (x *XLSX) WriteCell(_ context.Context, sheet, cell string, value any) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	if err := x.file.SetCellValue(sheet, cell, value); err != nil {
		return fmt.Errorf("write cell %s!%s: %w", sheet, cell, err)
	}
	return nil
}

// ReadColumn implements Sink.
func (x *XLSX) ReadColumn(_ context.Context, sheet, column string, fromRow int) ([]string, error) {
	col, err := excelize.ColumnNameToNumber(column)
	if err != nil {
		return nil, err
	}

	x.mu.Lock()
	rows, err := x.file.GetRows(sheet)
	x.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheet, err)
	}

	var values []string
	for i := max(fromRow-1, 0); i < len(rows); i++ {
		if len(rows[i]) < col {
			continue
		}
		if v := strings.TrimSpace(rows[i][col-1]); v != "" {
			values = append(values, v)
		}
	}
	return values, nil
}

// AutoResize implements Sink.
func (x *XLSX) AutoResize(_ context.Context, sheet string, columns int) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.autoResize(sheet, columns)
}

// autoResize sets each column width from its longest rendered value.
func (x *XLSX) autoResize(sheet string, columns int) error {
	rows, err := x.file.GetRows(sheet)
	if err != nil {
		return fmt.Errorf("read sheet %q: %w", sheet, err)
	}

	for col := 1; col <= columns; col++ {
		width := minColWidth
		for _, row := range rows {
			if len(row) >= col {
				width = max(width, utf8.RuneCountInString(row[col-1])+2)
			}
		}
		name, err := ColumnName(col)
		if err != nil {
			return err
		}
		if err := x.file.SetColWidth(sheet, name, name, float64(min(width, maxColWidth))); err != nil {
			return fmt.Errorf("set width of %s!%s: %w", sheet, name, err)
		}
	}
	return nil
}

// Flush implements Sink by saving the workbook to its path.
func (x *XLSX) Flush(context.Context) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	if err := x.file.SaveAs(x.path); err != nil {
		return fmt.Errorf("save workbook: %w", err)
	}
	x.logger.Debug().Msg("Workbook saved")
	return nil
}

// Close releases the workbook without saving.
func (x *XLSX) Close() error {
	return x.file.Close()
}

// Path returns the workbook location.
func (x *XLSX) Path() string {
	return x.path
}
