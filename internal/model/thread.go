package model

// Thread is a provider-grouped conversation. Threads are never owned by this
// system; labels are modified in place but messages are read-only.
type Thread struct {
	// ID is the provider-assigned identifier, stable for the life of the
	// conversation.
	ID string

	Messages []Message
}

// Message is a single mail message inside a thread.
type Message struct {
	// ID is the provider-assigned message identifier.
	ID string

	// InternalDate is the provider receive time in epoch milliseconds.
	// Comparisons truncate to seconds.
	InternalDate int64

	// From is the raw From header (free text, normalize before use).
	From string

	To      string
	Subject string

	// MessageID is the RFC 5322 Message-ID header, used for reply threading.
	MessageID string

	// References is the RFC 5322 References header, if present.
	References string

	Attachments []AttachmentRef
}

// AttachmentRef points at an attachment body held by the provider.
// The payload is fetched separately on demand.
type AttachmentRef struct {
	MessageID    string
	AttachmentID string
	Filename     string
	MIMEType     string
}

// Attachment is a fully fetched attachment.
type Attachment struct {
	Filename string
	MIMEType string
	Data     []byte
}
