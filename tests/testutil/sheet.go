package testutil

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/nhle/ticketwatch/internal/sheet"
)

// FakeSheet is an in-memory sheet.Sheet. Worksheets are created lazily on
// write; reads of absent worksheets return empty results rather than errors,
// matching how tests seed data incrementally.
type FakeSheet struct {
	mu     sync.Mutex
	sheets map[string][]sheet.Row

	// Err, when set, is returned by every operation. Tests use it to
	// simulate provider outages. AppendErr fails only AppendRow, for
	// pinpointing failures on the row-creation path.
	Err       error
	AppendErr error
}

// NewFakeSheet creates an empty fake sheet.
func NewFakeSheet() *FakeSheet {
	return &FakeSheet{sheets: make(map[string][]sheet.Row)}
}

// Seed replaces a worksheet's contents.
func (f *FakeSheet) Seed(worksheet string, rows ...sheet.Row) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sheets[worksheet] = append([]sheet.Row(nil), rows...)
}

// Rows returns a copy of a worksheet's contents.
func (f *FakeSheet) Rows(worksheet string) []sheet.Row {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]sheet.Row, len(f.sheets[worksheet]))
	for i, r := range f.sheets[worksheet] {
		out[i] = append(sheet.Row(nil), r...)
	}
	return out
}

// HasWorksheet reports whether the worksheet exists.
func (f *FakeSheet) HasWorksheet(worksheet string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.sheets[worksheet]
	return ok
}

func (f *FakeSheet) ReadAllRows(_ context.Context, worksheet string) ([]sheet.Row, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	return f.Rows(worksheet), nil
}

func (f *FakeSheet) AppendRow(_ context.Context, worksheet string, row sheet.Row) error {
	if f.Err != nil {
		return f.Err
	}
	if f.AppendErr != nil {
		return f.AppendErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sheets[worksheet] = append(f.sheets[worksheet], append(sheet.Row(nil), row...))
	return nil
}

func (f *FakeSheet) WriteRow(_ context.Context, worksheet string, rowNum int, row sheet.Row) error {
	if f.Err != nil {
		return f.Err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	rows := f.sheets[worksheet]
	for len(rows) < rowNum {
		rows = append(rows, sheet.Row{})
	}
	rows[rowNum-1] = append(sheet.Row(nil), row...)
	f.sheets[worksheet] = rows
	return nil
}

func (f *FakeSheet) DeleteRow(_ context.Context, worksheet string, rowNum int) error {
	if f.Err != nil {
		return f.Err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	rows := f.sheets[worksheet]
	if rowNum < 1 || rowNum > len(rows) {
		return fmt.Errorf("row %d out of range in %s", rowNum, worksheet)
	}
	f.sheets[worksheet] = append(rows[:rowNum-1], rows[rowNum:]...)
	return nil
}

func (f *FakeSheet) ReadCell(_ context.Context, worksheet, cell string) (string, error) {
	if f.Err != nil {
		return "", f.Err
	}
	col, rowNum, err := parseCell(cell)
	if err != nil {
		return "", err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	rows := f.sheets[worksheet]
	if rowNum > len(rows) || col >= len(rows[rowNum-1]) {
		return "", nil
	}
	return rows[rowNum-1][col], nil
}

func (f *FakeSheet) WriteCell(_ context.Context, worksheet, cell, value string) error {
	if f.Err != nil {
		return f.Err
	}
	col, rowNum, err := parseCell(cell)
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	rows := f.sheets[worksheet]
	for len(rows) < rowNum {
		rows = append(rows, sheet.Row{})
	}
	row := rows[rowNum-1]
	for len(row) <= col {
		row = append(row, "")
	}
	row[col] = value
	rows[rowNum-1] = row
	f.sheets[worksheet] = rows
	return nil
}

func (f *FakeSheet) ReplaceAllRows(_ context.Context, worksheet string, rows []sheet.Row) error {
	if f.Err != nil {
		return f.Err
	}
	f.Seed(worksheet, rows...)
	return nil
}

func (f *FakeSheet) EnsureWorksheet(_ context.Context, worksheet string, header sheet.Row) error {
	if f.Err != nil {
		return f.Err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.sheets[worksheet]; !ok {
		f.sheets[worksheet] = []sheet.Row{append(sheet.Row(nil), header...)}
	}
	return nil
}

// parseCell splits an A1-style reference into a 0-based column index and a
// 1-based row number.
func parseCell(cell string) (col, rowNum int, err error) {
	i := 0
	for i < len(cell) && cell[i] >= 'A' && cell[i] <= 'Z' {
		col = col*26 + int(cell[i]-'A'+1)
		i++
	}
	if i == 0 || i == len(cell) {
		return 0, 0, fmt.Errorf("malformed cell reference %q", cell)
	}
	rowNum, err = strconv.Atoi(cell[i:])
	if err != nil || rowNum < 1 {
		return 0, 0, fmt.Errorf("malformed cell reference %q", cell)
	}
	return col - 1, rowNum, nil
}
