package gmail

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	gmailv1 "google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"

	"github.com/nhle/ticketwatch/internal/mailbox"
	"github.com/nhle/ticketwatch/internal/model"
)

const user = "me"

// listPageSize is the Gmail page size; the provider pages beyond it.
const listPageSize = 100

// Service implements mailbox.Mailbox on the Gmail REST API.
type Service struct {
	svc *gmailv1.Service
}

var _ mailbox.Mailbox = (*Service)(nil)

// ListThreadIDs returns the ids of all threads matching the query,
// following pagination until exhausted.
func (s *Service) ListThreadIDs(ctx context.Context, query string) ([]string, error) {
	var ids []string
	token := ""

	for {
		call := s.svc.Users.Threads.List(user).
			Q(query).
			MaxResults(listPageSize).
			Context(ctx)
		if token != "" {
			call = call.PageToken(token)
		}

		resp, err := call.Do()
		if err != nil {
			return nil, wrapErr("list threads", err)
		}

		for _, t := range resp.Threads {
			ids = append(ids, t.Id)
		}

		token = resp.NextPageToken
		if token == "" {
			return ids, nil
		}
	}
}

// GetThread fetches a full thread and maps it to the model types.
func (s *Service) GetThread(ctx context.Context, threadID string) (model.Thread, error) {
	resp, err := s.svc.Users.Threads.Get(user, threadID).
		Format("full").
		Context(ctx).
		Do()
	if err != nil {
		return model.Thread{}, wrapErr(fmt.Sprintf("get thread %s", threadID), err)
	}

	thread := model.Thread{ID: resp.Id}
	for _, m := range resp.Messages {
		thread.Messages = append(thread.Messages, mapMessage(m))
	}
	return thread, nil
}

// ModifyLabels adds and removes label ids on a whole thread.
func (s *Service) ModifyLabels(ctx context.Context, threadID string, add, remove []string) error {
	_, err := s.svc.Users.Threads.Modify(user, threadID, &gmailv1.ModifyThreadRequest{
		AddLabelIds:    add,
		RemoveLabelIds: remove,
	}).Context(ctx).Do()
	if err != nil {
		return wrapErr(fmt.Sprintf("modify labels on thread %s", threadID), err)
	}
	return nil
}

// GetOrCreateLabel resolves a label name to its id, creating it when absent.
func (s *Service) GetOrCreateLabel(ctx context.Context, name string) (string, error) {
	resp, err := s.svc.Users.Labels.List(user).Context(ctx).Do()
	if err != nil {
		return "", wrapErr("list labels", err)
	}

	for _, l := range resp.Labels {
		if l.Name == name {
			return l.Id, nil
		}
	}

	created, err := s.svc.Users.Labels.Create(user, &gmailv1.Label{
		Name:                  name,
		LabelListVisibility:   "labelShow",
		MessageListVisibility: "show",
	}).Context(ctx).Do()
	if err != nil {
		return "", wrapErr(fmt.Sprintf("create label %s", name), err)
	}
	return created.Id, nil
}

// TrashThread moves a thread to the trash.
func (s *Service) TrashThread(ctx context.Context, threadID string) error {
	_, err := s.svc.Users.Threads.Trash(user, threadID).Context(ctx).Do()
	if err != nil {
		return wrapErr(fmt.Sprintf("trash thread %s", threadID), err)
	}
	return nil
}

// GetAttachment fetches and decodes one attachment body.
func (s *Service) GetAttachment(ctx context.Context, messageID, attachmentID string) ([]byte, error) {
	body, err := s.svc.Users.Messages.Attachments.Get(user, messageID, attachmentID).
		Context(ctx).
		Do()
	if err != nil {
		return nil, wrapErr(fmt.Sprintf("get attachment on message %s", messageID), err)
	}

	data, err := base64.URLEncoding.WithPadding(base64.NoPadding).DecodeString(body.Data)
	if err != nil {
		return nil, fmt.Errorf("decode attachment data: %w", err)
	}
	return data, nil
}

// SendMessage submits a raw RFC 822 message threaded into threadID.
func (s *Service) SendMessage(ctx context.Context, raw []byte, threadID string) (string, error) {
	msg := &gmailv1.Message{
		Raw:      base64.RawURLEncoding.EncodeToString(raw),
		ThreadId: threadID,
	}

	sent, err := s.svc.Users.Messages.Send(user, msg).Context(ctx).Do()
	if err != nil {
		return "", wrapErr("send message", err)
	}
	return sent.Id, nil
}

// SelfAddress returns the authenticated account's address, lower-cased.
func (s *Service) SelfAddress(ctx context.Context) (string, error) {
	profile, err := s.svc.Users.GetProfile(user).Context(ctx).Do()
	if err != nil {
		return "", wrapErr("get profile", err)
	}
	return strings.ToLower(profile.EmailAddress), nil
}

// mapMessage converts a Gmail API message into the model type, pulling the
// headers the classifier and responder need and indexing attachment parts.
func mapMessage(m *gmailv1.Message) model.Message {
	msg := model.Message{
		ID:           m.Id,
		InternalDate: m.InternalDate,
	}

	if m.Payload == nil {
		return msg
	}

	for _, h := range m.Payload.Headers {
		switch strings.ToLower(h.Name) {
		case "from":
			msg.From = h.Value
		case "to":
			msg.To = h.Value
		case "subject":
			msg.Subject = h.Value
		case "message-id":
			msg.MessageID = h.Value
		case "references":
			msg.References = h.Value
		}
	}

	collectAttachments(m.Id, m.Payload, &msg.Attachments)
	return msg
}

// collectAttachments walks the MIME part tree for parts with an attachment id.
func collectAttachments(messageID string, part *gmailv1.MessagePart, out *[]model.AttachmentRef) {
	if part == nil {
		return
	}

	if part.Filename != "" && part.Body != nil && part.Body.AttachmentId != "" {
		*out = append(*out, model.AttachmentRef{
			MessageID:    messageID,
			AttachmentID: part.Body.AttachmentId,
			Filename:     part.Filename,
			MIMEType:     part.MimeType,
		})
	}

	for _, p := range part.Parts {
		collectAttachments(messageID, p, out)
	}
}

// wrapErr converts 401s into mailbox.AuthError and wraps everything else.
func wrapErr(op string, err error) error {
	if apiErr, ok := err.(*googleapi.Error); ok && apiErr.Code == 401 {
		return &mailbox.AuthError{Message: fmt.Sprintf("%s: %v", op, err)}
	}
	return fmt.Errorf("%s: %w", op, err)
}
