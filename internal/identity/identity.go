// Package identity normalizes free-form address headers and classifies
// senders as support-side (admin) or external.
package identity

import (
	"regexp"
	"strings"
)

var angleAddr = regexp.MustCompile(`<(.+?)>`)

// ExtractEmail pulls the address out of a header shaped like
// "Display Name <addr@example.com>". It never fails: without an
// angle-bracket form the trimmed, lower-cased input is returned verbatim.
func ExtractEmail(raw string) string {
	if m := angleAddr.FindStringSubmatch(raw); m != nil {
		return strings.ToLower(strings.TrimSpace(m[1]))
	}
	return strings.ToLower(strings.TrimSpace(raw))
}

// noReplyPrefixes are local-part prefixes of automated senders that must
// never receive an acknowledgement (mail-loop guard).
var noReplyPrefixes = []string{
	"noreply@",
	"no-reply@",
	"no_reply@",
	"donotreply@",
	"do-not-reply@",
	"do_not_reply@",
	"notifications@",
	"notification@",
	"automated@",
	"automation@",
	"mailer@",
	"daemon@",
	"bounce@",
	"bounces@",
}

// IsNoReply reports whether the address looks like an automated no-reply
// sender.
func IsNoReply(addr string) bool {
	lower := strings.ToLower(addr)
	for _, p := range noReplyPrefixes {
		if strings.HasPrefix(lower, p) {
			return true
		}
	}
	return false
}

// Classifier decides whether an address belongs to the support side.
// Admin membership can change between cycles, so a fresh Classifier is
// built per cycle from the configured set, the admin worksheet, and the
// mailbox's own authenticated address.
type Classifier struct {
	admins map[string]struct{}
	self   string
}

// NewClassifier builds a classifier over the union of the given admin
// addresses and the authenticated self address. The self address is
// appended idempotently; duplicates in the input collapse.
func NewClassifier(adminEmails []string, self string) *Classifier {
	admins := make(map[string]struct{}, len(adminEmails)+1)
	for _, a := range adminEmails {
		a = strings.ToLower(strings.TrimSpace(a))
		if a != "" {
			admins[a] = struct{}{}
		}
	}
	self = strings.ToLower(strings.TrimSpace(self))
	if self != "" {
		admins[self] = struct{}{}
	}
	return &Classifier{admins: admins, self: self}
}

// IsAdmin reports whether addr case-insensitively matches an admin entry
// or the authenticated address.
func (c *Classifier) IsAdmin(addr string) bool {
	_, ok := c.admins[strings.ToLower(strings.TrimSpace(addr))]
	return ok
}

// Self returns the mailbox's own authenticated address.
func (c *Classifier) Self() string {
	return c.self
}
