package gsheets

import (
	"context"
	"fmt"

	sheetsv4 "google.golang.org/api/sheets/v4"

	"github.com/nhle/ticketwatch/internal/sheet"
)

var _ sheet.Sheet = (*Service)(nil)

// USER_ENTERED makes the provider parse formula cells (the ticket deep
// links) instead of storing them as literal strings.
const valueInputOption = "USER_ENTERED"

// ReadAllRows returns every row of a worksheet, including the header.
func (s *Service) ReadAllRows(ctx context.Context, worksheet string) ([]sheet.Row, error) {
	resp, err := s.svc.Spreadsheets.Values.Get(s.spreadsheetID, quoteRange(worksheet)).
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("read worksheet %s: %w", worksheet, err)
	}

	rows := make([]sheet.Row, 0, len(resp.Values))
	for _, raw := range resp.Values {
		rows = append(rows, toRow(raw))
	}
	return rows, nil
}

// AppendRow appends a row after the last non-empty row.
func (s *Service) AppendRow(ctx context.Context, worksheet string, row sheet.Row) error {
	_, err := s.svc.Spreadsheets.Values.Append(
		s.spreadsheetID,
		quoteRange(worksheet),
		&sheetsv4.ValueRange{Values: [][]interface{}{toValues(row)}},
	).
		ValueInputOption(valueInputOption).
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("append to worksheet %s: %w", worksheet, err)
	}
	return nil
}

// WriteRow overwrites the given 1-based row in place.
func (s *Service) WriteRow(ctx context.Context, worksheet string, rowNum int, row sheet.Row) error {
	rng := fmt.Sprintf("'%s'!A%d", worksheet, rowNum)
	_, err := s.svc.Spreadsheets.Values.Update(
		s.spreadsheetID,
		rng,
		&sheetsv4.ValueRange{Values: [][]interface{}{toValues(row)}},
	).
		ValueInputOption(valueInputOption).
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("write row %d of worksheet %s: %w", rowNum, worksheet, err)
	}
	return nil
}

// DeleteRow removes the given 1-based row, shifting later rows up.
func (s *Service) DeleteRow(ctx context.Context, worksheet string, rowNum int) error {
	id, ok, err := s.sheetID(ctx, worksheet, false)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("worksheet %s not found", worksheet)
	}

	_, err = s.svc.Spreadsheets.BatchUpdate(s.spreadsheetID, &sheetsv4.BatchUpdateSpreadsheetRequest{
		Requests: []*sheetsv4.Request{{
			DeleteDimension: &sheetsv4.DeleteDimensionRequest{
				Range: &sheetsv4.DimensionRange{
					SheetId:    id,
					Dimension:  "ROWS",
					StartIndex: int64(rowNum - 1),
					EndIndex:   int64(rowNum),
				},
			},
		}},
	}).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("delete row %d of worksheet %s: %w", rowNum, worksheet, err)
	}
	return nil
}

// ReadCell returns a single cell value, or "" when the cell is empty.
func (s *Service) ReadCell(ctx context.Context, worksheet, cell string) (string, error) {
	rng := fmt.Sprintf("'%s'!%s", worksheet, cell)
	resp, err := s.svc.Spreadsheets.Values.Get(s.spreadsheetID, rng).
		Context(ctx).
		Do()
	if err != nil {
		return "", fmt.Errorf("read cell %s of worksheet %s: %w", cell, worksheet, err)
	}

	if len(resp.Values) == 0 || len(resp.Values[0]) == 0 {
		return "", nil
	}
	return fmt.Sprint(resp.Values[0][0]), nil
}

// WriteCell overwrites a single cell.
func (s *Service) WriteCell(ctx context.Context, worksheet, cell, value string) error {
	rng := fmt.Sprintf("'%s'!%s", worksheet, cell)
	_, err := s.svc.Spreadsheets.Values.Update(
		s.spreadsheetID,
		rng,
		&sheetsv4.ValueRange{Values: [][]interface{}{{value}}},
	).
		ValueInputOption(valueInputOption).
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("write cell %s of worksheet %s: %w", cell, worksheet, err)
	}
	return nil
}

// ReplaceAllRows clears a worksheet and rewrites it from A1.
func (s *Service) ReplaceAllRows(ctx context.Context, worksheet string, rows []sheet.Row) error {
	_, err := s.svc.Spreadsheets.Values.Clear(
		s.spreadsheetID,
		quoteRange(worksheet),
		&sheetsv4.ClearValuesRequest{},
	).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("clear worksheet %s: %w", worksheet, err)
	}

	if len(rows) == 0 {
		return nil
	}

	values := make([][]interface{}, 0, len(rows))
	for _, r := range rows {
		values = append(values, toValues(r))
	}

	_, err = s.svc.Spreadsheets.Values.Update(
		s.spreadsheetID,
		fmt.Sprintf("'%s'!A1", worksheet),
		&sheetsv4.ValueRange{Values: values},
	).
		ValueInputOption(valueInputOption).
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("rewrite worksheet %s: %w", worksheet, err)
	}
	return nil
}

// EnsureWorksheet creates a worksheet with the given header row when absent.
func (s *Service) EnsureWorksheet(ctx context.Context, worksheet string, header sheet.Row) error {
	_, ok, err := s.sheetID(ctx, worksheet, true)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}

	_, err = s.svc.Spreadsheets.BatchUpdate(s.spreadsheetID, &sheetsv4.BatchUpdateSpreadsheetRequest{
		Requests: []*sheetsv4.Request{{
			AddSheet: &sheetsv4.AddSheetRequest{
				Properties: &sheetsv4.SheetProperties{Title: worksheet},
			},
		}},
	}).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("create worksheet %s: %w", worksheet, err)
	}
	s.invalidateSheetIDs()

	if len(header) == 0 {
		return nil
	}
	return s.WriteRow(ctx, worksheet, 1, header)
}

// quoteRange quotes a worksheet title for use as an A1 range.
func quoteRange(worksheet string) string {
	return fmt.Sprintf("'%s'", worksheet)
}

func toRow(raw []interface{}) sheet.Row {
	row := make(sheet.Row, len(raw))
	for i, v := range raw {
		row[i] = fmt.Sprint(v)
	}
	return row
}

func toValues(row sheet.Row) []interface{} {
	values := make([]interface{}, len(row))
	for i, v := range row {
		values[i] = v
	}
	return values
}
