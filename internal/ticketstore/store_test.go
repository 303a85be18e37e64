package ticketstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/ticketwatch/internal/model"
	"github.com/nhle/ticketwatch/internal/sheet"
	"github.com/nhle/ticketwatch/tests/testutil"
)

var testSheetConfig = model.SheetConfig{
	SpreadsheetID:    "test-spreadsheet",
	TicketSheet:      "Email log",
	AdminSheet:       "Admin emails",
	ConfigSheet:      "Ticket_Config",
	SyncStateSheet:   "Sync_State",
	ThreadStateSheet: "Thread_State",
	KnownSenderSheet: "Known Senders",
}

var ticketHeader = sheet.Row{
	"Ticket ID", "Thread ID", "Timestamp", "From", "Subject", "Status", "New Sender", "Link",
}

func newTestStore(t *testing.T) (*Store, *testutil.FakeSheet) {
	t.Helper()
	fake := testutil.NewFakeSheet()
	fake.Seed(testSheetConfig.TicketSheet, ticketHeader)
	return NewStore(fake, testSheetConfig), fake
}

func ticketRow(id, threadID, ts, from, status, newSender string) sheet.Row {
	return sheet.Row{id, threadID, ts, from, "Subject", status, newSender, "link"}
}

func TestThreadMap(t *testing.T) {
	s, fake := newTestStore(t)
	fake.Seed(testSheetConfig.TicketSheet,
		ticketHeader,
		ticketRow("TCK-000001", "thread-a", "2026-01-02 10:00:00", "a@x.com", "Awaiting admin reply", "No"),
		ticketRow("TCK-000002", "thread-b", "2026-01-02 11:00:00", "b@x.com", "Awaiting admin reply", "Yes"),
	)

	m, err := s.ThreadMap(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"thread-a": 2, "thread-b": 3}, m)
}

func TestThreadMapEmptySheet(t *testing.T) {
	s, _ := newTestStore(t)

	m, err := s.ThreadMap(context.Background())
	require.NoError(t, err)
	assert.Empty(t, m)
}

func TestAppendAndReadBack(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	ts := time.Date(2026, 3, 1, 9, 30, 0, 0, time.Local)
	ticket := model.Ticket{
		ID:        "TCK-000007",
		ThreadID:  "thread-z",
		Timestamp: ts,
		FromEmail: "z@example.com",
		Subject:   "Broken widget",
		Status:    model.StatusAwaitingAdmin,
		NewSender: true,
		Link:      model.ThreadLink("thread-z"),
	}
	require.NoError(t, s.AppendTicket(ctx, ticket))

	tickets, skipped, err := s.AllTickets(ctx)
	require.NoError(t, err)
	assert.Zero(t, skipped)
	require.Len(t, tickets, 1)

	got := tickets[0]
	assert.Equal(t, "TCK-000007", got.ID)
	assert.Equal(t, "thread-z", got.ThreadID)
	assert.True(t, ts.Equal(got.Timestamp))
	assert.Equal(t, model.StatusAwaitingAdmin, got.Status)
	assert.True(t, got.NewSender)
	assert.Equal(t, 2, got.RowNum)
}

func TestAllTicketsSkipsMalformedRows(t *testing.T) {
	s, fake := newTestStore(t)
	fake.Seed(testSheetConfig.TicketSheet,
		ticketHeader,
		ticketRow("TCK-000001", "thread-a", "2026-01-02 10:00:00", "a@x.com", "Awaiting admin reply", "No"),
		sheet.Row{"TCK-000002", "thread-b"}, // truncated
		ticketRow("TCK-000003", "thread-c", "not a timestamp", "c@x.com", "Awaiting admin reply", "No"),
	)

	tickets, skipped, err := s.AllTickets(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, skipped)
	require.Len(t, tickets, 1)
	assert.Equal(t, "TCK-000001", tickets[0].ID)
}

func TestUpdateTicketRequiresRowNum(t *testing.T) {
	s, _ := newTestStore(t)

	err := s.UpdateTicket(context.Background(), model.Ticket{ID: "TCK-000001"})
	assert.Error(t, err)
}

func TestTicketRowInfo(t *testing.T) {
	s, fake := newTestStore(t)
	fake.Seed(testSheetConfig.TicketSheet,
		ticketHeader,
		ticketRow("TCK-000004", "thread-a", "2026-01-02 10:00:00", "a@x.com", "Awaiting admin reply", "Yes"),
	)

	id, newSender, err := s.TicketRowInfo(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, "TCK-000004", id)
	assert.True(t, newSender)
}

func TestNextTicketID(t *testing.T) {
	s, fake := newTestStore(t)
	ctx := context.Background()

	// Empty counter starts from 1.
	id, err := s.NextTicketID(ctx)
	require.NoError(t, err)
	assert.Equal(t, "TCK-000001", id)

	id, err = s.NextTicketID(ctx)
	require.NoError(t, err)
	assert.Equal(t, "TCK-000002", id)

	// Counter is durable in the config worksheet.
	raw, err := fake.ReadCell(ctx, testSheetConfig.ConfigSheet, "B1")
	require.NoError(t, err)
	assert.Equal(t, "2", raw)
}

func TestNextTicketIDRejectsGarbageCounter(t *testing.T) {
	s, fake := newTestStore(t)
	require.NoError(t, fake.WriteCell(context.Background(), testSheetConfig.ConfigSheet, "B1", "many"))

	_, err := s.NextTicketID(context.Background())
	assert.Error(t, err)
}

func TestAdminEmails(t *testing.T) {
	s, fake := newTestStore(t)
	fake.Seed(testSheetConfig.AdminSheet,
		sheet.Row{"Email"},
		sheet.Row{" Admin@Example.com "},
		sheet.Row{""},
		sheet.Row{"ops@example.com"},
	)

	admins, err := s.AdminEmails(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"admin@example.com", "ops@example.com"}, admins)
}

func TestKnownSenders(t *testing.T) {
	s, fake := newTestStore(t)
	fake.Seed(testSheetConfig.TicketSheet,
		ticketHeader,
		ticketRow("TCK-000001", "thread-a", "2026-01-02 10:00:00", "A@x.com", "Awaiting admin reply", "Yes"),
		ticketRow("TCK-000002", "thread-b", "2026-01-02 11:00:00", "b@x.com", "Awaiting admin reply", "No"),
	)

	senders, err := s.KnownSenders(context.Background())
	require.NoError(t, err)
	assert.Contains(t, senders, "a@x.com")
	assert.Contains(t, senders, "b@x.com")
	assert.Len(t, senders, 2)
}

func TestWatermarkSnapshotRoundTrip(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.InitStateSheets(ctx))

	want := map[string]int64{"thread-a": 100, "thread-b": 200}
	require.NoError(t, s.SnapshotWatermarks(ctx, want))

	got, err := s.RestoreWatermarks(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestSnapshotWatermarksReplacesPrevious(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.InitStateSheets(ctx))

	require.NoError(t, s.SnapshotWatermarks(ctx, map[string]int64{"thread-a": 100, "thread-b": 200}))
	require.NoError(t, s.SnapshotWatermarks(ctx, map[string]int64{"thread-a": 300}))

	got, err := s.RestoreWatermarks(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"thread-a": 300}, got)
}

func TestCursorSnapshotRoundTrip(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.InitStateSheets(ctx))

	cursor, err := s.SheetCursor(ctx)
	require.NoError(t, err)
	assert.Zero(t, cursor)

	require.NoError(t, s.SnapshotCursor(ctx, 1700000000))

	cursor, err = s.SheetCursor(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1700000000), cursor)
}

func TestInitStateSheetsIdempotent(t *testing.T) {
	s, fake := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.InitStateSheets(ctx))
	require.NoError(t, s.SnapshotCursor(ctx, 42))
	require.NoError(t, s.InitStateSheets(ctx))

	cursor, err := s.SheetCursor(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(42), cursor)
	assert.True(t, fake.HasWorksheet(testSheetConfig.ThreadStateSheet))
	assert.True(t, fake.HasWorksheet(testSheetConfig.KnownSenderSheet))
}
