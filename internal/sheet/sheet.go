// Package sheet defines the tabular-store capability consumed by the ticket
// store: worksheets of string rows, addressed by 1-based row number, plus
// single cells for counters and state values.
//
// Row-number addressing is deliberately confined to this layer; the core
// keys everything by thread id.
package sheet

import "context"

// Row is one worksheet row as raw cell strings.
type Row []string

// Sheet is the provider contract for the spreadsheet backing the tickets.
type Sheet interface {
	// ReadAllRows returns every row of a worksheet, including the header.
	ReadAllRows(ctx context.Context, worksheet string) ([]Row, error)

	// AppendRow appends a row after the last non-empty row. Formula cells
	// must be evaluated by the provider (USER_ENTERED semantics).
	AppendRow(ctx context.Context, worksheet string, row Row) error

	// WriteRow overwrites the given 1-based row in place.
	WriteRow(ctx context.Context, worksheet string, rowNum int, row Row) error

	// DeleteRow removes the given 1-based row, shifting later rows up.
	DeleteRow(ctx context.Context, worksheet string, rowNum int) error

	// ReadCell returns a single cell value ("" when empty or absent).
	ReadCell(ctx context.Context, worksheet, cell string) (string, error)

	// WriteCell overwrites a single cell.
	WriteCell(ctx context.Context, worksheet, cell, value string) error

	// ReplaceAllRows clears a worksheet and writes rows from A1. Used for
	// wholesale state snapshots.
	ReplaceAllRows(ctx context.Context, worksheet string, rows []Row) error

	// EnsureWorksheet creates a worksheet with the given header row when it
	// does not exist yet. Idempotent.
	EnsureWorksheet(ctx context.Context, worksheet string, header Row) error
}
