package sink

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

// Sheets writes to a Google Sheets spreadsheet.
type Sheets struct {
	svc           *sheets.Service
	spreadsheetID string
	logger        zerolog.Logger

	mu       sync.Mutex
	sheetIDs map[string]int64
}

// NewSheets creates a Sheets sink for spreadsheetID. Credentials and
// endpoints are supplied through opts (option.WithCredentialsFile etc.).
func NewSheets(ctx context.Context, spreadsheetID string, opts ...option.ClientOption) (*Sheets, error) {
	if spreadsheetID == "" {
		return nil, fmt.Errorf("spreadsheet id is required")
	}
	svc, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return &Sheets{
		svc:           svc,
		spreadsheetID: spreadsheetID,
		logger:        log.With().Str("component", "sink-sheets").Logger(),
		sheetIDs:      make(map[string]int64),
	}, nil
}

// a1 quotes a sheet name for use in a range.
func a1(sheet, ref string) string {
	return "'" + strings.ReplaceAll(sheet, "'", "''") + "'!" + ref
}

// sheetID returns the numeric id of a sheet, adding the sheet when absent.
func (s *Sheets) sheetID(ctx context.Context, name string) (int64, error) {
	s.mu.Lock()
	id, ok := s.sheetIDs[name]
	s.mu.Unlock()
	if ok {
		return id, nil
	}

	ss, err := s.svc.Spreadsheets.Get(s.spreadsheetID).Fields("sheets.properties").Context(ctx).Do()
	if err != nil {
		return 0, fmt.Errorf("get spreadsheet: %w", err)
	}
	for _, sh := range ss.Sheets {
		if sh.Properties != nil && sh.Properties.Title == name {
			s.remember(name, sh.Properties.SheetId)
			return sh.Properties.SheetId, nil
		}
	}

	resp, err := s.svc.Spreadsheets.BatchUpdate(s.spreadsheetID, &sheets.BatchUpdateSpreadsheetRequest{
		Requests: []*sheets.Request{{
			AddSheet: &sheets.AddSheetRequest{Properties: &sheets.SheetProperties{Title: name}},
		}},
	}).Context(ctx).Do()
	if err != nil {
		return 0, fmt.Errorf("add sheet %q: %w", name, err)
	}
	if len(resp.Replies) == 0 || resp.Replies[0].AddSheet == nil || resp.Replies[0].AddSheet.Properties == nil {
		return 0, fmt.Errorf("add sheet %q: empty reply", name)
	}
	id = resp.Replies[0].AddSheet.Properties.SheetId
	s.remember(name, id)
	s.logger.Info().Str("sheet", name).Int64("sheet_id", id).Msg("Created sheet")
	return id, nil
}

func (s *Sheets) remember(name string, id int64) {
	s.mu.Lock()
	s.sheetIDs[name] = id
	s.mu.Unlock()
}

// gridRange covers a whole sheet; sheet id 0 is valid and must be sent.
func gridRange(sheetID int64) *sheets.GridRange {
	return &sheets.GridRange{SheetId: sheetID, ForceSendFields: []string{"SheetId"}}
}

func (s *Sheets) batch(ctx context.Context, reqs ...*sheets.Request) error {
	_, err := s.svc.Spreadsheets.BatchUpdate(s.spreadsheetID, &sheets.BatchUpdateSpreadsheetRequest{
		Requests: reqs,
	}).Context(ctx).Do()
	return err
}

// Prepare implements Sink.
func (s *Sheets) Prepare(ctx context.Context, layout Layout) error {
	color, _, err := parseHexColor(layout.HeaderColor)
	if err != nil {
		return err
	}
	id, err := s.sheetID(ctx, layout.Name)
	if err != nil {
		return err
	}

	wipe := &sheets.Request{UpdateCells: &sheets.UpdateCellsRequest{
		Range:  gridRange(id),
		Fields: "*",
	}}
	if err := s.batch(ctx, wipe); err != nil {
		return fmt.Errorf("clear sheet %q: %w", layout.Name, err)
	}

	if err := s.WriteRows(ctx, layout.Name, 1, [][]any{headerRow(layout.Header)}); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	columns := int64(len(layout.Header))
	header := gridRange(id)
	header.StartRowIndex, header.EndRowIndex = 0, 1
	header.StartColumnIndex, header.EndColumnIndex = 0, columns

	format := &sheets.Request{RepeatCell: &sheets.RepeatCellRequest{
		Range: header,
		Cell: &sheets.CellData{UserEnteredFormat: &sheets.CellFormat{
			BackgroundColor: &sheets.Color{Red: color.R, Green: color.G, Blue: color.B},
			TextFormat:      &sheets.TextFormat{Bold: true},
		}},
		Fields: "userEnteredFormat(backgroundColor,textFormat)",
	}}
	freeze := &sheets.Request{UpdateSheetProperties: &sheets.UpdateSheetPropertiesRequest{
		Properties: &sheets.SheetProperties{
			SheetId:         id,
			GridProperties:  &sheets.GridProperties{FrozenRowCount: 1},
			ForceSendFields: []string{"SheetId"},
		},
		Fields: "gridProperties.frozenRowCount",
	}}
	if err := s.batch(ctx, format, freeze, autoResizeRequest(id, columns)); err != nil {
		return fmt.Errorf("format header of %q: %w", layout.Name, err)
	}
	return nil
}

func autoResizeRequest(sheetID, columns int64) *sheets.Request {
	return &sheets.Request{AutoResizeDimensions: &sheets.AutoResizeDimensionsRequest{
		Dimensions: &sheets.DimensionRange{
			SheetId:         sheetID,
			Dimension:       "COLUMNS",
			StartIndex:      0,
			EndIndex:        columns,
			ForceSendFields: []string{"SheetId"},
		},
	}}
}

// WriteRows implements Sink.
func (s *Sheets) WriteRows(ctx context.Context, sheet string, startRow int, rows [][]any) error {
	if len(rows) == 0 {
		return nil
	}
	ref, err := CellName(1, startRow)
	if err != nil {
		return err
	}
	_, err = s.svc.Spreadsheets.Values.Update(s.spreadsheetID, a1(sheet, ref), &sheets.ValueRange{
		Values: rows,
	}).ValueInputOption("RAW").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("write %d rows at %s: %w", len(rows), a1(sheet, ref), err)
	}
	return nil
}

// WriteCell implements Sink.
func (s *Sheets) WriteCell(ctx context.Context, sheet, cell string, value any) error {
	_, err := s.svc.Spreadsheets.Values.Update(s.spreadsheetID, a1(sheet, cell), &sheets.ValueRange{
		Values: [][]any{{value}},
	}).ValueInputOption("RAW").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("write cell %s: %w", a1(sheet, cell), err)
	}
	return nil
}

// ReadColumn implements Sink.
func (s *Sheets) ReadColumn(ctx context.Context, sheet, column string, fromRow int) ([]string, error) {
	ref := fmt.Sprintf("%s%d:%s", column, fromRow, column)
	resp, err := s.svc.Spreadsheets.Values.Get(s.spreadsheetID, a1(sheet, ref)).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", a1(sheet, ref), err)
	}

	var values []string
	for _, row := range resp.Values {
		if len(row) == 0 {
			continue
		}
		if v := strings.TrimSpace(cellText(row[0])); v != "" {
			values = append(values, v)
		}
	}
	return values, nil
}

// AutoResize implements Sink.
func (s *Sheets) AutoResize(ctx context.Context, sheet string, columns int) error {
	id, err := s.sheetID(ctx, sheet)
	if err != nil {
		return err
	}
	if err := s.batch(ctx, autoResizeRequest(id, int64(columns))); err != nil {
		return fmt.Errorf("auto-resize %q: %w", sheet, err)
	}
	return nil
}

// Flush implements Sink. Sheets writes are applied immediately.
func (s *Sheets) Flush(context.Context) error {
	return nil
}
