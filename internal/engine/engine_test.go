package engine

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/ticketwatch/internal/autoreply"
	"github.com/nhle/ticketwatch/internal/model"
	"github.com/nhle/ticketwatch/internal/sheet"
	"github.com/nhle/ticketwatch/internal/ticketstore"
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

const (
	selfAddr     = "support@example.com"
	adminAddr    = "admin@example.com"
	customerAddr = "jane@example.com"
)

// Local zone: ticket timestamps round-trip through the sheet in local time.
var cycleTime = time.Date(2026, 6, 1, 12, 0, 0, 0, time.Local)

type fixture struct {
	engine  *Engine
	mb      *testutil.FakeMailbox
	sheet   *testutil.FakeSheet
	tickets *ticketstore.Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	fake := testutil.NewFakeSheet()
	fake.Seed(testSheetConfig.TicketSheet, ticketHeader)
	fake.Seed(testSheetConfig.AdminSheet, sheet.Row{"Email"})

	tickets := ticketstore.NewStore(fake, testSheetConfig)
	mb := testutil.NewFakeMailbox(selfAddr)

	eng := New(mb, tickets, testutil.NewTestState(t), nil, Config{
		AdminEmails:      []string{adminAddr},
		LookbackDays:     7,
		CursorSkew:       10 * time.Second,
		MapRefreshEvery:  20,
		StateBackupEvery: 50,
		AutoClose:        model.AutoCloseConfig{Enabled: false},
	}, zerolog.Nop())
	eng.now = func() time.Time { return cycleTime }

	return &fixture{engine: eng, mb: mb, sheet: fake, tickets: tickets}
}

func customerThread(id string, sentAt time.Time) model.Thread {
	return model.Thread{
		ID: id,
		Messages: []model.Message{{
			ID:           id + "-m1",
			InternalDate: sentAt.UnixMilli(),
			From:         "Jane <" + customerAddr + ">",
			Subject:      "Help needed",
		}},
	}
}

func (f *fixture) ticketRows() []sheet.Row {
	rows := f.sheet.Rows(testSheetConfig.TicketSheet)
	if len(rows) == 0 {
		return nil
	}
	return rows[1:]
}

func TestCustomerThreadCreatesTicket(t *testing.T) {
	f := newFixture(t)
	sentAt := cycleTime.Add(-time.Hour)
	f.mb.AddThread(customerThread("thread-a", sentAt))

	require.NoError(t, f.engine.RunCycle(context.Background()))

	rows := f.ticketRows()
	require.Len(t, rows, 1)
	row := rows[0]
	assert.Equal(t, "TCK-000001", row[0])
	assert.Equal(t, "thread-a", row[1])
	assert.Equal(t, customerAddr, row[3])
	assert.Equal(t, "Help needed", row[4])
	assert.Equal(t, string(model.StatusAwaitingAdmin), row[5])
	assert.Equal(t, "Yes", row[6], "first contact is flagged as a new sender")

	// The thread is labeled awaiting-admin, not awaiting-customer.
	require.Len(t, f.mb.LabelChanges, 1)
	change := f.mb.LabelChanges[0]
	assert.Equal(t, []string{f.mb.LabelID(LabelAwaitingAdmin)}, change.Add)
	assert.Equal(t, []string{f.mb.LabelID(LabelAwaitingCustomer)}, change.Remove)

	// Watermark and cursor are durable.
	watermarks, err := f.engine.state.Watermarks(context.Background())
	require.NoError(t, err)
	assert.Equal(t, sentAt.Unix(), watermarks["thread-a"])

	cursor, err := f.engine.state.Cursor(context.Background())
	require.NoError(t, err)
	assert.Equal(t, cycleTime.Add(-10*time.Second).Unix(), cursor)
}

func TestRerunIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.mb.AddThread(customerThread("thread-a", cycleTime.Add(-time.Hour)))
	ctx := context.Background()

	require.NoError(t, f.engine.RunCycle(ctx))
	require.NoError(t, f.engine.RunCycle(ctx))
	require.NoError(t, f.engine.RunCycle(ctx))

	assert.Len(t, f.ticketRows(), 1, "re-delivered thread must not create another row")
	assert.Len(t, f.mb.LabelChanges, 1, "unchanged thread is not re-labeled")
}

func TestAdminReplyFlipsStatus(t *testing.T) {
	f := newFixture(t)
	sentAt := cycleTime.Add(-time.Hour)
	thread := customerThread("thread-a", sentAt)
	f.mb.AddThread(thread)
	ctx := context.Background()

	require.NoError(t, f.engine.RunCycle(ctx))

	thread.Messages = append(thread.Messages, model.Message{
		ID:           "thread-a-m2",
		InternalDate: sentAt.Add(10 * time.Minute).UnixMilli(),
		From:         "Support <" + adminAddr + ">",
		Subject:      "Re: Help needed",
	})
	f.mb.AddThread(thread)

	require.NoError(t, f.engine.RunCycle(ctx))

	rows := f.ticketRows()
	require.Len(t, rows, 1, "update must not create a second row")
	row := rows[0]
	assert.Equal(t, "TCK-000001", row[0], "ticket id survives updates")
	assert.Equal(t, adminAddr, row[3])
	assert.Equal(t, string(model.StatusAwaitingCustomer), row[5])
	assert.Equal(t, "Yes", row[6], "new-sender flag is fixed at creation")

	last := f.mb.LabelChanges[len(f.mb.LabelChanges)-1]
	assert.Equal(t, []string{f.mb.LabelID(LabelAwaitingCustomer)}, last.Add)
	assert.Equal(t, []string{f.mb.LabelID(LabelAwaitingAdmin)}, last.Remove)
}

func TestCustomerReplyFlipsStatusBack(t *testing.T) {
	f := newFixture(t)
	sentAt := cycleTime.Add(-time.Hour)
	thread := customerThread("thread-a", sentAt)
	thread.Messages = append(thread.Messages, model.Message{
		ID:           "thread-a-m2",
		InternalDate: sentAt.Add(5 * time.Minute).UnixMilli(),
		From:         adminAddr,
	})
	f.mb.AddThread(thread)
	ctx := context.Background()

	require.NoError(t, f.engine.RunCycle(ctx))
	require.Equal(t, string(model.StatusAwaitingCustomer), f.ticketRows()[0][5])

	thread.Messages = append(thread.Messages, model.Message{
		ID:           "thread-a-m3",
		InternalDate: sentAt.Add(20 * time.Minute).UnixMilli(),
		From:         customerAddr,
		Subject:      "Re: Help needed",
	})
	f.mb.AddThread(thread)

	require.NoError(t, f.engine.RunCycle(ctx))
	assert.Equal(t, string(model.StatusAwaitingAdmin), f.ticketRows()[0][5])
}

func TestAdminInitiatedThreadCreatesNothing(t *testing.T) {
	f := newFixture(t)
	f.mb.AddThread(model.Thread{
		ID: "thread-out",
		Messages: []model.Message{{
			ID:           "m1",
			InternalDate: cycleTime.Add(-time.Hour).UnixMilli(),
			From:         adminAddr,
			Subject:      "Outbound campaign",
		}},
	})

	require.NoError(t, f.engine.RunCycle(context.Background()))

	assert.Empty(t, f.ticketRows())
	assert.Empty(t, f.mb.LabelChanges)

	// The watermark still advances so the thread is not re-examined.
	watermarks, err := f.engine.state.Watermarks(context.Background())
	require.NoError(t, err)
	assert.Contains(t, watermarks, "thread-out")
}

func TestSelfInitiatedThreadCreatesNothing(t *testing.T) {
	f := newFixture(t)
	f.mb.AddThread(model.Thread{
		ID: "thread-self",
		Messages: []model.Message{{
			ID:           "m1",
			InternalDate: cycleTime.Add(-time.Hour).UnixMilli(),
			From:         selfAddr,
		}},
	})

	require.NoError(t, f.engine.RunCycle(context.Background()))
	assert.Empty(t, f.ticketRows())
}

func TestSheetAdminListIsHonored(t *testing.T) {
	f := newFixture(t)
	f.sheet.Seed(testSheetConfig.AdminSheet,
		sheet.Row{"Email"},
		sheet.Row{"helper@example.com"},
	)
	f.mb.AddThread(model.Thread{
		ID: "thread-a",
		Messages: []model.Message{{
			ID:           "m1",
			InternalDate: cycleTime.Add(-time.Hour).UnixMilli(),
			From:         "helper@example.com",
		}},
	})

	require.NoError(t, f.engine.RunCycle(context.Background()))
	assert.Empty(t, f.ticketRows(), "worksheet admins suppress outbound threads too")
}

func TestTicketIDsAreMonotonic(t *testing.T) {
	f := newFixture(t)
	sentAt := cycleTime.Add(-time.Hour)
	f.mb.AddThread(customerThread("thread-a", sentAt))
	f.mb.AddThread(customerThread("thread-b", sentAt))

	require.NoError(t, f.engine.RunCycle(context.Background()))

	rows := f.ticketRows()
	require.Len(t, rows, 2)
	assert.Equal(t, "TCK-000001", rows[0][0])
	assert.Equal(t, "TCK-000002", rows[1][0])
}

func TestNewSenderFlagOnlyOnFirstContact(t *testing.T) {
	f := newFixture(t)
	sentAt := cycleTime.Add(-time.Hour)
	f.mb.AddThread(customerThread("thread-a", sentAt))
	f.mb.AddThread(customerThread("thread-b", sentAt))

	require.NoError(t, f.engine.RunCycle(context.Background()))

	rows := f.ticketRows()
	require.Len(t, rows, 2)
	assert.Equal(t, "Yes", rows[0][6])
	assert.Equal(t, "No", rows[1][6], "second thread from the same sender is not a new sender")

	// First contact is recorded in the known-senders worksheet.
	known := f.sheet.Rows(testSheetConfig.KnownSenderSheet)
	require.Len(t, known, 2)
	assert.Equal(t, customerAddr, known[1][0])
}

func TestKnownSenderSeededFromExistingRows(t *testing.T) {
	f := newFixture(t)
	f.sheet.Seed(testSheetConfig.TicketSheet,
		ticketHeader,
		sheet.Row{"TCK-000009", "thread-old", "2026-01-02 10:00:00", customerAddr,
			"Old issue", string(model.StatusAwaitingCustomer), "Yes", "link"},
	)
	f.sheet.Seed(testSheetConfig.ConfigSheet, sheet.Row{"Counter", "9"})
	f.mb.AddThread(customerThread("thread-new", cycleTime.Add(-time.Hour)))

	require.NoError(t, f.engine.RunCycle(context.Background()))

	rows := f.ticketRows()
	require.Len(t, rows, 2)
	assert.Equal(t, "TCK-000010", rows[1][0])
	assert.Equal(t, "No", rows[1][6], "sender with a prior ticket is not new")
}

func TestConcurrentlyCreatedTicketIsNotDuplicated(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Bootstrap with an empty sheet so the thread map is cached empty.
	require.NoError(t, f.engine.RunCycle(ctx))

	// An external writer adds the row behind the engine's back.
	require.NoError(t, f.sheet.AppendRow(ctx, testSheetConfig.TicketSheet,
		sheet.Row{"TCK-000050", "thread-a", "2026-06-01 10:00:00", customerAddr,
			"Help needed", string(model.StatusAwaitingAdmin), "Yes", "link"}))
	f.mb.AddThread(customerThread("thread-a", cycleTime.Add(-time.Hour)))

	require.NoError(t, f.engine.RunCycle(ctx))

	assert.Len(t, f.ticketRows(), 1, "last-moment re-check must catch the existing row")

	// No counter value was burned on the abandoned creation.
	raw, err := f.sheet.ReadCell(ctx, testSheetConfig.ConfigSheet, "B1")
	require.NoError(t, err)
	assert.Equal(t, "", raw)
}

func TestEmptyThreadIsSkipped(t *testing.T) {
	f := newFixture(t)
	f.mb.AddThread(model.Thread{ID: "thread-empty"})

	require.NoError(t, f.engine.RunCycle(context.Background()))

	assert.Empty(t, f.ticketRows())
	watermarks, err := f.engine.state.Watermarks(context.Background())
	require.NoError(t, err)
	assert.NotContains(t, watermarks, "thread-empty")
}

func TestQueryUsesLookbackThenCursor(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.engine.RunCycle(ctx))
	require.NoError(t, f.engine.RunCycle(ctx))

	require.Len(t, f.mb.Queries, 2)
	assert.Equal(t, "newer_than:7d", f.mb.Queries[0])
	assert.Equal(t,
		fmt.Sprintf("after:%d", cycleTime.Add(-10*time.Second).Unix()),
		f.mb.Queries[1])
}

func TestStateBackupCadence(t *testing.T) {
	f := newFixture(t)
	f.engine.cfg.StateBackupEvery = 2
	sentAt := cycleTime.Add(-time.Hour)
	f.mb.AddThread(customerThread("thread-a", sentAt))
	ctx := context.Background()

	require.NoError(t, f.engine.RunCycle(ctx))
	restored, err := f.tickets.RestoreWatermarks(ctx)
	require.NoError(t, err)
	assert.Empty(t, restored, "no snapshot before the cadence is reached")

	require.NoError(t, f.engine.RunCycle(ctx))
	restored, err = f.tickets.RestoreWatermarks(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"thread-a": sentAt.Unix()}, restored)

	cursor, err := f.tickets.SheetCursor(ctx)
	require.NoError(t, err)
	assert.Equal(t, cycleTime.Add(-10*time.Second).Unix(), cursor)
}

func TestWatermarksRestoredFromSheetBackup(t *testing.T) {
	f := newFixture(t)
	sentAt := cycleTime.Add(-time.Hour)

	// A previous deployment backed up its watermarks; the local db is fresh.
	require.NoError(t, f.tickets.InitStateSheets(context.Background()))
	require.NoError(t, f.tickets.SnapshotWatermarks(context.Background(),
		map[string]int64{"thread-a": sentAt.Unix()}))
	f.sheet.Seed(testSheetConfig.TicketSheet,
		ticketHeader,
		sheet.Row{"TCK-000001", "thread-a", "2026-06-01 10:00:00", customerAddr,
			"Help needed", string(model.StatusAwaitingAdmin), "Yes", "link"},
	)
	f.mb.AddThread(customerThread("thread-a", sentAt))

	require.NoError(t, f.engine.RunCycle(context.Background()))

	assert.Len(t, f.ticketRows(), 1, "restored watermark prevents reprocessing")
}

func TestLabelSyncFailureAbortsBeforeAnyWrite(t *testing.T) {
	f := newFixture(t)
	sentAt := cycleTime.Add(-time.Hour)
	f.mb.AddThread(customerThread("thread-a", sentAt))
	f.mb.ModifyErr = errors.New("label service unavailable")
	ctx := context.Background()

	require.Error(t, f.engine.RunCycle(ctx))

	// Nothing committed: no row, no watermark, no cursor advance.
	assert.Empty(t, f.ticketRows())
	watermarks, err := f.engine.state.Watermarks(ctx)
	require.NoError(t, err)
	assert.Empty(t, watermarks)
	cursor, err := f.engine.state.Cursor(ctx)
	require.NoError(t, err)
	assert.Zero(t, cursor)

	// Once the provider recovers, the next cycle completes the whole step:
	// labels synced and the ticket created.
	f.mb.ModifyErr = nil
	require.NoError(t, f.engine.RunCycle(ctx))

	rows := f.ticketRows()
	require.Len(t, rows, 1)
	assert.Equal(t, "TCK-000001", rows[0][0])
	require.Len(t, f.mb.LabelChanges, 1)
	assert.Equal(t, []string{f.mb.LabelID(LabelAwaitingAdmin)}, f.mb.LabelChanges[0].Add)
}

func TestThreadFetchFailureAbortsCycle(t *testing.T) {
	f := newFixture(t)
	f.mb.AddThread(customerThread("thread-a", cycleTime.Add(-time.Hour)))
	f.mb.GetErr = errors.New("backend unavailable")
	ctx := context.Background()

	require.Error(t, f.engine.RunCycle(ctx))

	assert.Empty(t, f.ticketRows())
	watermarks, err := f.engine.state.Watermarks(ctx)
	require.NoError(t, err)
	assert.Empty(t, watermarks)
	cursor, err := f.engine.state.Cursor(ctx)
	require.NoError(t, err)
	assert.Zero(t, cursor, "a failed cycle must not advance the cursor")

	f.mb.GetErr = nil
	require.NoError(t, f.engine.RunCycle(ctx))
	assert.Len(t, f.ticketRows(), 1, "the thread is retried on the next cycle")
}

func TestListFailureAbortsCycle(t *testing.T) {
	f := newFixture(t)
	f.mb.ListErr = errors.New("quota exceeded")
	ctx := context.Background()

	require.Error(t, f.engine.RunCycle(ctx))

	cursor, err := f.engine.state.Cursor(ctx)
	require.NoError(t, err)
	assert.Zero(t, cursor)

	// The query window is therefore re-used on the retry.
	f.mb.ListErr = nil
	require.NoError(t, f.engine.RunCycle(ctx))
	require.Len(t, f.mb.Queries, 2)
	assert.Equal(t, f.mb.Queries[0], f.mb.Queries[1])
}

func TestSheetOutageAbortsCycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.engine.RunCycle(ctx))

	f.mb.AddThread(customerThread("thread-a", cycleTime.Add(-time.Hour)))
	f.sheet.Err = errors.New("spreadsheet unavailable")

	require.Error(t, f.engine.RunCycle(ctx))
	watermarks, err := f.engine.state.Watermarks(ctx)
	require.NoError(t, err)
	assert.Empty(t, watermarks)

	f.sheet.Err = nil
	require.NoError(t, f.engine.RunCycle(ctx))
	assert.Len(t, f.ticketRows(), 1, "exactly one row after the retry, no partial duplicates")
}

func TestAppendFailureDoesNotDuplicateOnRetry(t *testing.T) {
	f := newFixture(t)
	sentAt := cycleTime.Add(-time.Hour)
	f.mb.AddThread(customerThread("thread-a", sentAt))
	f.sheet.AppendErr = errors.New("append rejected")
	ctx := context.Background()

	require.Error(t, f.engine.RunCycle(ctx))
	assert.Empty(t, f.ticketRows())

	// The watermark went durable before the failed row write, so the retry
	// skips the thread: a missed row is preferred over a possible duplicate.
	watermarks, err := f.engine.state.Watermarks(ctx)
	require.NoError(t, err)
	assert.Equal(t, sentAt.Unix(), watermarks["thread-a"])

	f.sheet.AppendErr = nil
	require.NoError(t, f.engine.RunCycle(ctx))
	assert.Empty(t, f.ticketRows())

	// A fresh customer message moves the thread past the watermark and the
	// ticket is created once, on the next counter value.
	f.mb.AddThread(model.Thread{
		ID: "thread-a",
		Messages: []model.Message{
			{ID: "thread-a-m1", InternalDate: sentAt.UnixMilli(), From: customerAddr, Subject: "Help needed"},
			{ID: "thread-a-m2", InternalDate: sentAt.Add(time.Minute).UnixMilli(), From: customerAddr, Subject: "Re: Help needed"},
		},
	})
	require.NoError(t, f.engine.RunCycle(ctx))

	rows := f.ticketRows()
	require.Len(t, rows, 1)
	assert.Equal(t, "TCK-000002", rows[0][0], "the counter stays monotonic across the failed attempt")
}

func TestAcknowledgementSentOnCreationOnly(t *testing.T) {
	f := newFixture(t)
	f.engine.responder = autoreply.NewResponder(f.mb, zerolog.Nop())
	sentAt := cycleTime.Add(-time.Hour)
	thread := customerThread("thread-a", sentAt)
	f.mb.AddThread(thread)
	ctx := context.Background()

	require.NoError(t, f.engine.RunCycle(ctx))
	require.Len(t, f.mb.Sent, 1)
	assert.Equal(t, "thread-a", f.mb.Sent[0].ThreadID)

	// An update to the same thread does not re-acknowledge.
	thread.Messages = append(thread.Messages, model.Message{
		ID:           "thread-a-m2",
		InternalDate: sentAt.Add(time.Minute).UnixMilli(),
		From:         customerAddr,
	})
	f.mb.AddThread(thread)

	require.NoError(t, f.engine.RunCycle(ctx))
	assert.Len(t, f.mb.Sent, 1)
}
