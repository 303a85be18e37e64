// Package classify derives the fields the reconciliation engine needs from
// a thread: who spoke last, about what, and when.
package classify

import (
	"github.com/nhle/ticketwatch/internal/identity"
	"github.com/nhle/ticketwatch/internal/model"
)

// NoSubject is the placeholder used when the last message carries no Subject.
const NoSubject = "No Subject"

// Result holds the classified fields of a thread's last message.
type Result struct {
	// FromEmail is the normalized sender address.
	FromEmail string

	Subject string

	// Timestamp is the send time in epoch seconds.
	Timestamp int64
}

// LastMessage returns the message with the maximum internal date. Equal
// timestamps are broken by the greater provider message id, so the result
// is deterministic regardless of slice order. ok is false for empty threads.
func LastMessage(t model.Thread) (model.Message, bool) {
	if len(t.Messages) == 0 {
		return model.Message{}, false
	}

	last := t.Messages[0]
	for _, m := range t.Messages[1:] {
		if m.InternalDate > last.InternalDate ||
			(m.InternalDate == last.InternalDate && m.ID > last.ID) {
			last = m
		}
	}
	return last, true
}

// Thread classifies a thread by its last message. ok is false for threads
// with no messages, which callers skip without touching any state.
func Thread(t model.Thread) (Result, bool) {
	last, ok := LastMessage(t)
	if !ok {
		return Result{}, false
	}

	subject := last.Subject
	if subject == "" {
		subject = NoSubject
	}

	return Result{
		FromEmail: identity.ExtractEmail(last.From),
		Subject:   subject,
		Timestamp: last.InternalDate / 1000,
	}, true
}
