// Package autoreply sends a one-time acknowledgement when a ticket is
// created, threaded into the original conversation with the customer's
// attachments re-attached.
package autoreply

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/rs/zerolog"

	"github.com/nhle/ticketwatch/internal/identity"
	"github.com/nhle/ticketwatch/internal/mailbox"
	"github.com/nhle/ticketwatch/internal/metrics"
	"github.com/nhle/ticketwatch/internal/model"
)

// Responder composes and sends acknowledgement replies. Send failures are
// the caller's to log; ticket creation never rolls back on them.
type Responder struct {
	mb     mailbox.Mailbox
	logger zerolog.Logger
	now    func() time.Time
}

// NewResponder creates a responder over the given mailbox.
func NewResponder(mb mailbox.Mailbox, logger zerolog.Logger) *Responder {
	return &Responder{
		mb:     mb,
		logger: logger.With().Str("component", "autoreply").Logger(),
		now:    time.Now,
	}
}

// Acknowledge replies to the first non-self message of the thread,
// re-attaching its attachments. No-reply senders are never acknowledged.
func (r *Responder) Acknowledge(ctx context.Context, thread model.Thread, ticketID, self string) error {
	original, ok := firstExternalMessage(thread, self)
	if !ok {
		r.logger.Debug().Str("thread_id", thread.ID).
			Msg("no customer message to acknowledge")
		return nil
	}

	to := identity.ExtractEmail(original.From)
	if identity.IsNoReply(to) {
		r.logger.Debug().Str("thread_id", thread.ID).Str("to", to).
			Msg("skipping acknowledgement to no-reply sender")
		return nil
	}

	attachments, err := r.fetchAttachments(ctx, original)
	if err != nil {
		return err
	}

	raw, err := r.compose(original, to, self, ticketID, attachments)
	if err != nil {
		return fmt.Errorf("composing acknowledgement: %w", err)
	}

	msgID, err := r.mb.SendMessage(ctx, raw, thread.ID)
	if err != nil {
		return fmt.Errorf("sending acknowledgement: %w", err)
	}

	metrics.AutoRepliesSent.Inc()
	r.logger.Info().
		Str("thread_id", thread.ID).
		Str("ticket_id", ticketID).
		Str("to", to).
		Str("message_id", msgID).
		Int("attachments", len(attachments)).
		Msg("acknowledgement sent")
	return nil
}

// firstExternalMessage returns the earliest message not authored by the
// mailbox's own address. Ties are broken by the lower message id.
func firstExternalMessage(thread model.Thread, self string) (model.Message, bool) {
	var first model.Message
	found := false

	for _, m := range thread.Messages {
		if identity.ExtractEmail(m.From) == strings.ToLower(self) {
			continue
		}
		if !found ||
			m.InternalDate < first.InternalDate ||
			(m.InternalDate == first.InternalDate && m.ID < first.ID) {
			first = m
			found = true
		}
	}
	return first, found
}

func (r *Responder) fetchAttachments(ctx context.Context, msg model.Message) ([]model.Attachment, error) {
	var attachments []model.Attachment
	for _, ref := range msg.Attachments {
		data, err := r.mb.GetAttachment(ctx, ref.MessageID, ref.AttachmentID)
		if err != nil {
			return nil, fmt.Errorf("fetching attachment %s: %w", ref.Filename, err)
		}
		attachments = append(attachments, model.Attachment{
			Filename: ref.Filename,
			MIMEType: ref.MIMEType,
			Data:     data,
		})
	}
	return attachments, nil
}

// compose builds the raw RFC 822 acknowledgement, threaded via the
// original message's Message-ID and References headers.
func (r *Responder) compose(original model.Message, to, self, ticketID string, attachments []model.Attachment) ([]byte, error) {
	var header mail.Header
	header.SetDate(r.now())
	header.SetAddressList("From", []*mail.Address{{Address: self}})
	header.SetAddressList("To", []*mail.Address{{Address: to}})
	header.SetSubject(replySubject(original.Subject))

	if original.MessageID != "" {
		header.Set("In-Reply-To", original.MessageID)
		refs := original.MessageID
		if original.References != "" {
			refs = original.References + " " + original.MessageID
		}
		header.Set("References", refs)
	}

	var buf bytes.Buffer
	mw, err := mail.CreateWriter(&buf, header)
	if err != nil {
		return nil, fmt.Errorf("creating mail writer: %w", err)
	}

	var inlineHeader mail.InlineHeader
	inlineHeader.Set("Content-Type", "text/plain; charset=utf-8")
	iw, err := mw.CreateSingleInline(inlineHeader)
	if err != nil {
		return nil, fmt.Errorf("creating text part: %w", err)
	}
	if _, err := io.WriteString(iw, ackBody(ticketID)); err != nil {
		return nil, fmt.Errorf("writing text part: %w", err)
	}
	if err := iw.Close(); err != nil {
		return nil, fmt.Errorf("closing text part: %w", err)
	}

	for _, att := range attachments {
		var ah mail.AttachmentHeader
		ah.Set("Content-Type", att.MIMEType)
		ah.SetFilename(att.Filename)

		aw, err := mw.CreateAttachment(ah)
		if err != nil {
			return nil, fmt.Errorf("creating attachment %s: %w", att.Filename, err)
		}
		if _, err := aw.Write(att.Data); err != nil {
			return nil, fmt.Errorf("writing attachment %s: %w", att.Filename, err)
		}
		if err := aw.Close(); err != nil {
			return nil, fmt.Errorf("closing attachment %s: %w", att.Filename, err)
		}
	}

	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("closing mail writer: %w", err)
	}
	return buf.Bytes(), nil
}

func replySubject(subject string) string {
	if subject == "" {
		return "Re: your message"
	}
	if strings.HasPrefix(strings.ToLower(subject), "re:") {
		return subject
	}
	return "Re: " + subject
}

func ackBody(ticketID string) string {
	return fmt.Sprintf(
		"Hello,\r\n\r\n"+
			"Thanks for reaching out. We have received your message and opened "+
			"ticket %s for it.\r\n\r\n"+
			"A member of our team will get back to you on this thread. Your "+
			"original attachments are included below for reference.\r\n\r\n"+
			"This is an automated acknowledgement.\r\n",
		ticketID,
	)
}
