package model

import (
	"fmt"
	"time"
)

// Status is the reply-state of a ticket, derived from the sender of the
// chronologically last message on its thread.
type Status string

const (
	// StatusAwaitingAdmin means the customer wrote last and support owes a reply.
	StatusAwaitingAdmin Status = "Awaiting admin reply"

	// StatusAwaitingCustomer means support wrote last and the ball is with the customer.
	StatusAwaitingCustomer Status = "Awaiting customer reply"

	// StatusClosedNoResponse is the terminal status written by the auto-closer
	// when a customer never replied within the configured window.
	StatusClosedNoResponse Status = "Closed - No customer response"
)

// TimestampLayout is the cell format for ticket timestamps in the sheet.
const TimestampLayout = "2006-01-02 15:04:05"

// Ticket is one row of the ticket sheet, mirroring a single mailbox thread.
// At most one ticket exists per thread id.
type Ticket struct {
	// ID is the assigned ticket identifier, formatted TCK-%06d from a
	// shared monotonic counter.
	ID string

	// ThreadID is the mailbox thread this ticket mirrors.
	ThreadID string

	// Timestamp is the send time of the last message reflected into this row.
	Timestamp time.Time

	// FromEmail is the normalized sender of that last message.
	FromEmail string

	Subject string
	Status  Status

	// NewSender is fixed at creation time and never recomputed.
	NewSender bool

	// Link is the deep-link formula pointing back at the thread.
	Link string

	// RowNum is the 1-based sheet row this ticket was read from. Zero for
	// tickets that have not been written yet.
	RowNum int
}

// FormatTicketID renders a counter value as a ticket id.
func FormatTicketID(n int) string {
	return fmt.Sprintf("TCK-%06d", n)
}

// ThreadLink builds the deep-link HYPERLINK formula for a thread. The formula
// form requires USER_ENTERED writes on the sheet side to evaluate.
func ThreadLink(threadID string) string {
	return fmt.Sprintf(
		`=HYPERLINK("https://mail.google.com/mail/u/0/#inbox/%s","Open Mail")`,
		threadID,
	)
}
