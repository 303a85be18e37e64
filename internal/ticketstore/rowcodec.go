package ticketstore

import (
	"fmt"
	"time"

	"github.com/nhle/ticketwatch/internal/model"
	"github.com/nhle/ticketwatch/internal/sheet"
)

// Ticket sheet columns A..H.
const (
	colTicketID = iota
	colThreadID
	colTimestamp
	colFromEmail
	colSubject
	colStatus
	colNewSender
	colLink
	ticketColumns
)

// encodeTicket renders a ticket as its sheet row.
func encodeTicket(t model.Ticket) sheet.Row {
	newSender := "No"
	if t.NewSender {
		newSender = "Yes"
	}

	return sheet.Row{
		t.ID,
		t.ThreadID,
		t.Timestamp.Format(model.TimestampLayout),
		t.FromEmail,
		t.Subject,
		string(t.Status),
		newSender,
		model.ThreadLink(t.ThreadID),
	}
}

// decodeTicket parses a sheet row back into a ticket. Rows with an
// unparseable timestamp are rejected; the caller skips them as data
// anomalies.
func decodeTicket(row sheet.Row, rowNum int) (model.Ticket, error) {
	if len(row) < ticketColumns {
		return model.Ticket{}, fmt.Errorf("row %d has %d columns, want %d",
			rowNum, len(row), ticketColumns)
	}

	ts, err := time.ParseInLocation(model.TimestampLayout, row[colTimestamp], time.Local)
	if err != nil {
		return model.Ticket{}, fmt.Errorf("row %d timestamp %q: %w",
			rowNum, row[colTimestamp], err)
	}

	return model.Ticket{
		ID:        row[colTicketID],
		ThreadID:  row[colThreadID],
		Timestamp: ts,
		FromEmail: row[colFromEmail],
		Subject:   row[colSubject],
		Status:    model.Status(row[colStatus]),
		NewSender: row[colNewSender] == "Yes",
		Link:      row[colLink],
		RowNum:    rowNum,
	}, nil
}
