// Package mailbox defines the capability this system consumes from the mail
// provider. The provider owns threads and labels; this system only reads
// threads and mirrors ticket status into labels.
package mailbox

import (
	"context"
	"errors"
	"fmt"

	"github.com/nhle/ticketwatch/internal/model"
)

// AuthError indicates that authentication has failed or expired for the
// mailbox provider.
type AuthError struct {
	Message string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("mailbox auth error: %s", e.Message)
}

// IsAuthError reports whether err (or any error in its chain) is an AuthError.
func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}

// Mailbox is the provider contract. All calls are synchronous and may block
// on the network; a failed call aborts the caller's cycle.
type Mailbox interface {
	// ListThreadIDs returns the ids of threads matching a provider-specific
	// query string (e.g. "after:1700000000" or "newer_than:7d"). Listings
	// are paginated internally and may contain duplicates; callers must
	// de-duplicate.
	ListThreadIDs(ctx context.Context, query string) ([]string, error)

	// GetThread fetches the full message list of a thread.
	GetThread(ctx context.Context, threadID string) (model.Thread, error)

	// ModifyLabels adds and removes label ids on a whole thread.
	ModifyLabels(ctx context.Context, threadID string, add, remove []string) error

	// GetOrCreateLabel resolves a label name to its id, creating the label
	// when it does not exist yet.
	GetOrCreateLabel(ctx context.Context, name string) (string, error)

	// TrashThread moves a thread to the provider's trash.
	TrashThread(ctx context.Context, threadID string) error

	// GetAttachment fetches one attachment body.
	GetAttachment(ctx context.Context, messageID, attachmentID string) ([]byte, error)

	// SendMessage submits a raw RFC 822 message, threaded into threadID,
	// and returns the new message id.
	SendMessage(ctx context.Context, raw []byte, threadID string) (string, error)

	// SelfAddress returns the authenticated account's own address.
	SelfAddress(ctx context.Context) (string, error)
}
