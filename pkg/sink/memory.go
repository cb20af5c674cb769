package sink

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/xuri/excelize/v2"
)

// Memory is an in-process Sink. It records layouts and cell values so callers
// can inspect exactly what an export wrote.
type Memory struct {
	mu      sync.Mutex
	sheets  map[string]*memorySheet
	flushes int
}

type memorySheet struct {
	layout   Layout
	prepared bool
	rows     [][]any
}

// NewMemory returns an empty Memory sink.
func NewMemory() *Memory {
	return &Memory{sheets: make(map[string]*memorySheet)}
}

func (m *Memory) sheet(name string) *memorySheet {
	sh, ok := m.sheets[name]
	if !ok {
		sh = &memorySheet{}
		m.sheets[name] = sh
	}
	return sh
}

func (sh *memorySheet) set(col, row int, v any) {
	for len(sh.rows) < row {
		sh.rows = append(sh.rows, nil)
	}
	r := sh.rows[row-1]
	for len(r) < col {
		r = append(r, nil)
	}
	r[col-1] = v
	sh.rows[row-1] = r
}

// Seed replaces the content of a sheet, starting at row 1.
func (m *Memory) Seed(name string, rows [][]any) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sh := m.sheet(name)
	sh.rows = nil
	for i, row := range rows {
		for j, v := range row {
			sh.set(j+1, i+1, v)
		}
	}
}

// Prepare implements Sink.
func (m *Memory) Prepare(_ context.Context, layout Layout) error {
	if _, _, err := parseHexColor(layout.HeaderColor); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	sh := m.sheet(layout.Name)
	sh.layout = layout
	sh.prepared = true
	sh.rows = [][]any{headerRow(layout.Header)}
	return nil
}

// WriteRows implements Sink.
func (m *Memory) WriteRows(_ context.Context, name string, startRow int, rows [][]any) error {
	if startRow < 1 {
		return fmt.Errorf("invalid start row %d", startRow)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	sh := m.sheet(name)
	for i, row := range rows {
		for j, v := range row {
			sh.set(j+1, startRow+i, v)
		}
	}
	return nil
}

// WriteCell implements Sink.
func (m *Memory) WriteCell(_ context.Context, name, cell string, value any) error {
	col, row, err := excelize.CellNameToCoordinates(cell)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.sheet(name).set(col, row, value)
	return nil
}

// ReadColumn implements Sink.
func (m *Memory) ReadColumn(_ context.Context, name, column string, fromRow int) ([]string, error) {
	col, err := excelize.ColumnNameToNumber(column)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	sh, ok := m.sheets[name]
	if !ok {
		return nil, fmt.Errorf("sheet %q not found", name)
	}

	var values []string
	for i := max(fromRow-1, 0); i < len(sh.rows); i++ {
		if len(sh.rows[i]) < col {
			continue
		}
		if v := strings.TrimSpace(cellText(sh.rows[i][col-1])); v != "" {
			values = append(values, v)
		}
	}
	return values, nil
}

// AutoResize implements Sink.
func (m *Memory) AutoResize(context.Context, string, int) error {
	return nil
}

// Flush implements Sink.
func (m *Memory) Flush(context.Context) error {
	m.mu.Lock()
	m.flushes++
	m.mu.Unlock()
	return nil
}

// Rows returns a copy of every row of a sheet, header included.
func (m *Memory) Rows(name string) [][]any {
	m.mu.Lock()
	defer m.mu.Unlock()

	sh, ok := m.sheets[name]
	if !ok {
		return nil
	}
	out := make([][]any, len(sh.rows))
	for i, r := range sh.rows {
		out[i] = append([]any(nil), r...)
	}
	return out
}

// Cell returns the value at an A1 reference, or nil.
func (m *Memory) Cell(name, cell string) any {
	col, row, err := excelize.CellNameToCoordinates(cell)
	if err != nil {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	sh, ok := m.sheets[name]
	if !ok || len(sh.rows) < row || len(sh.rows[row-1]) < col {
		return nil
	}
	return sh.rows[row-1][col-1]
}

// Layout returns the layout a sheet was last prepared with.
func (m *Memory) Layout(name string) (Layout, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sh, ok := m.sheets[name]
	if !ok || !sh.prepared {
		return Layout{}, false
	}
	return sh.layout, true
}

// Flushes reports how many times Flush was called.
func (m *Memory) Flushes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.flushes
}
