// Package ticketstore gives the reconciliation engine typed access to the
// spreadsheet worksheets: ticket rows, the admin list, the shared ticket-id
// counter, and the state-backup sheets.
package ticketstore

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/nhle/ticketwatch/internal/model"
	"github.com/nhle/ticketwatch/internal/sheet"
)

// counterCell holds the last issued ticket number on the config worksheet.
const counterCell = "B1"

// cursorCell holds the sync-cursor snapshot on the sync-state worksheet.
const cursorCell = "B1"

// Store wraps the sheet capability with the worksheet layout.
type Store struct {
	sheet sheet.Sheet
	cfg   model.SheetConfig
}

// NewStore creates a ticket store over the given sheet.
func NewStore(s sheet.Sheet, cfg model.SheetConfig) *Store {
	return &Store{sheet: s, cfg: cfg}
}

// ThreadMap reads the ticket worksheet and maps thread id to its 1-based
// row number. This is the authoritative existing-vs-new source; the engine
// caches it between cycles.
func (s *Store) ThreadMap(ctx context.Context) (map[string]int, error) {
	rows, err := s.sheet.ReadAllRows(ctx, s.cfg.TicketSheet)
	if err != nil {
		return nil, fmt.Errorf("reading ticket rows: %w", err)
	}

	threadMap := make(map[string]int)
	for i, row := range rows {
		if i == 0 {
			continue // header
		}
		if len(row) > colThreadID && row[colThreadID] != "" {
			threadMap[row[colThreadID]] = i + 1
		}
	}
	return threadMap, nil
}

// TicketRowInfo reads the fields of an existing row that must survive
// updates untouched: the assigned ticket id (never regenerated) and the
// new-sender flag (fixed at creation, never recomputed).
func (s *Store) TicketRowInfo(ctx context.Context, rowNum int) (id string, newSender bool, err error) {
	id, err = s.sheet.ReadCell(ctx, s.cfg.TicketSheet, fmt.Sprintf("A%d", rowNum))
	if err != nil {
		return "", false, fmt.Errorf("reading ticket id at row %d: %w", rowNum, err)
	}
	if id == "" {
		return "", false, fmt.Errorf("no ticket id at row %d", rowNum)
	}

	flag, err := s.sheet.ReadCell(ctx, s.cfg.TicketSheet, fmt.Sprintf("G%d", rowNum))
	if err != nil {
		return "", false, fmt.Errorf("reading new-sender flag at row %d: %w", rowNum, err)
	}
	return id, flag == "Yes", nil
}

// AllTickets decodes every ticket row, skipping rows that fail to parse.
// skipped reports how many were dropped so callers can log the anomaly.
func (s *Store) AllTickets(ctx context.Context) (tickets []model.Ticket, skipped int, err error) {
	rows, err := s.sheet.ReadAllRows(ctx, s.cfg.TicketSheet)
	if err != nil {
		return nil, 0, fmt.Errorf("reading ticket rows: %w", err)
	}

	for i, row := range rows {
		if i == 0 {
			continue
		}
		t, err := decodeTicket(row, i+1)
		if err != nil {
			skipped++
			continue
		}
		tickets = append(tickets, t)
	}
	return tickets, skipped, nil
}

// AppendTicket appends a new ticket row.
func (s *Store) AppendTicket(ctx context.Context, t model.Ticket) error {
	if err := s.sheet.AppendRow(ctx, s.cfg.TicketSheet, encodeTicket(t)); err != nil {
		return fmt.Errorf("appending ticket %s: %w", t.ID, err)
	}
	return nil
}

// UpdateTicket overwrites the ticket's row in place, addressed by RowNum.
func (s *Store) UpdateTicket(ctx context.Context, t model.Ticket) error {
	if t.RowNum < 2 {
		return fmt.Errorf("ticket %s has no row number", t.ID)
	}
	if err := s.sheet.WriteRow(ctx, s.cfg.TicketSheet, t.RowNum, encodeTicket(t)); err != nil {
		return fmt.Errorf("updating ticket %s: %w", t.ID, err)
	}
	return nil
}

// DeleteTicketRow removes a ticket row. Later rows shift up, so bulk
// deletions must proceed bottom-to-top.
func (s *Store) DeleteTicketRow(ctx context.Context, rowNum int) error {
	if err := s.sheet.DeleteRow(ctx, s.cfg.TicketSheet, rowNum); err != nil {
		return fmt.Errorf("deleting ticket row %d: %w", rowNum, err)
	}
	return nil
}

// NextTicketID increments the shared counter and returns the formatted id.
// Read-then-write: serialized by the one-cycle-at-a-time execution model,
// best-effort under external concurrent writers.
func (s *Store) NextTicketID(ctx context.Context) (string, error) {
	raw, err := s.sheet.ReadCell(ctx, s.cfg.ConfigSheet, counterCell)
	if err != nil {
		return "", fmt.Errorf("reading ticket counter: %w", err)
	}

	last := 0
	if raw != "" {
		last, err = strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			return "", fmt.Errorf("ticket counter %q: %w", raw, err)
		}
	}

	next := last + 1
	if err := s.sheet.WriteCell(ctx, s.cfg.ConfigSheet, counterCell, strconv.Itoa(next)); err != nil {
		return "", fmt.Errorf("writing ticket counter: %w", err)
	}
	return model.FormatTicketID(next), nil
}

// AdminEmails reads the admin worksheet (column A, header skipped),
// trimmed and lower-cased.
func (s *Store) AdminEmails(ctx context.Context) ([]string, error) {
	rows, err := s.sheet.ReadAllRows(ctx, s.cfg.AdminSheet)
	if err != nil {
		return nil, fmt.Errorf("reading admin emails: %w", err)
	}

	var admins []string
	for i, row := range rows {
		if i == 0 {
			continue
		}
		if len(row) > 0 {
			email := strings.ToLower(strings.TrimSpace(row[0]))
			if email != "" {
				admins = append(admins, email)
			}
		}
	}
	return admins, nil
}

// KnownSenders seeds the known-sender set from the from_email column of
// every existing ticket row.
func (s *Store) KnownSenders(ctx context.Context) (map[string]struct{}, error) {
	rows, err := s.sheet.ReadAllRows(ctx, s.cfg.TicketSheet)
	if err != nil {
		return nil, fmt.Errorf("reading known senders: %w", err)
	}

	senders := make(map[string]struct{})
	for i, row := range rows {
		if i == 0 {
			continue
		}
		if len(row) > colFromEmail && row[colFromEmail] != "" {
			senders[strings.ToLower(row[colFromEmail])] = struct{}{}
		}
	}
	return senders, nil
}

// RecordKnownSender appends a first-contact sender to the known-senders
// worksheet with its first-seen time.
func (s *Store) RecordKnownSender(ctx context.Context, email string, firstSeen time.Time) error {
	row := sheet.Row{email, firstSeen.Format(model.TimestampLayout)}
	if err := s.sheet.AppendRow(ctx, s.cfg.KnownSenderSheet, row); err != nil {
		return fmt.Errorf("recording known sender %s: %w", email, err)
	}
	return nil
}

// InitStateSheets creates the state-backup worksheets if absent. Called
// once per process.
func (s *Store) InitStateSheets(ctx context.Context) error {
	if err := s.sheet.EnsureWorksheet(ctx, s.cfg.SyncStateSheet, sheet.Row{"Last Sync"}); err != nil {
		return fmt.Errorf("initializing sync-state sheet: %w", err)
	}
	if err := s.sheet.EnsureWorksheet(ctx, s.cfg.ThreadStateSheet,
		sheet.Row{"Thread ID", "Last Processed Timestamp"}); err != nil {
		return fmt.Errorf("initializing thread-state sheet: %w", err)
	}
	if err := s.sheet.EnsureWorksheet(ctx, s.cfg.KnownSenderSheet,
		sheet.Row{"Email", "First Seen"}); err != nil {
		return fmt.Errorf("initializing known-senders sheet: %w", err)
	}
	return nil
}

// SheetCursor reads the cursor snapshot, 0 when unset.
func (s *Store) SheetCursor(ctx context.Context) (int64, error) {
	raw, err := s.sheet.ReadCell(ctx, s.cfg.SyncStateSheet, cursorCell)
	if err != nil {
		return 0, fmt.Errorf("reading sync cursor: %w", err)
	}
	if raw == "" {
		return 0, nil
	}

	cursor, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("sync cursor %q: %w", raw, err)
	}
	return cursor, nil
}

// SnapshotCursor writes the cursor backup.
func (s *Store) SnapshotCursor(ctx context.Context, cursor int64) error {
	if err := s.sheet.WriteCell(ctx, s.cfg.SyncStateSheet, cursorCell,
		strconv.FormatInt(cursor, 10)); err != nil {
		return fmt.Errorf("snapshotting sync cursor: %w", err)
	}
	return nil
}

// SnapshotWatermarks rewrites the thread-state worksheet wholesale from
// the given watermark map, in stable thread-id order.
func (s *Store) SnapshotWatermarks(ctx context.Context, watermarks map[string]int64) error {
	ids := make([]string, 0, len(watermarks))
	for id := range watermarks {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	rows := make([]sheet.Row, 0, len(watermarks)+1)
	rows = append(rows, sheet.Row{"Thread ID", "Last Processed Timestamp"})
	for _, id := range ids {
		rows = append(rows, sheet.Row{id, strconv.FormatInt(watermarks[id], 10)})
	}

	if err := s.sheet.ReplaceAllRows(ctx, s.cfg.ThreadStateSheet, rows); err != nil {
		return fmt.Errorf("snapshotting watermarks: %w", err)
	}
	return nil
}

// RestoreWatermarks loads the watermark backup from the thread-state
// worksheet. Malformed rows are skipped.
func (s *Store) RestoreWatermarks(ctx context.Context) (map[string]int64, error) {
	rows, err := s.sheet.ReadAllRows(ctx, s.cfg.ThreadStateSheet)
	if err != nil {
		return nil, fmt.Errorf("restoring watermarks: %w", err)
	}

	watermarks := make(map[string]int64)
	for i, row := range rows {
		if i == 0 || len(row) < 2 || row[0] == "" {
			continue
		}
		ts, err := strconv.ParseInt(strings.TrimSpace(row[1]), 10, 64)
		if err != nil {
			continue
		}
		watermarks[row[0]] = ts
	}
	return watermarks, nil
}
