package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractEmail(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"display name form", "Jane Doe <jane@example.com>", "jane@example.com"},
		{"bare address", "jane@example.com", "jane@example.com"},
		{"upper case folded", "Jane <JANE@Example.COM>", "jane@example.com"},
		{"surrounding whitespace", "  jane@example.com  ", "jane@example.com"},
		{"quoted display name", `"Doe, Jane" <jane@example.com>`, "jane@example.com"},
		{"first bracket pair wins", "a <one@example.com> b <two@example.com>", "one@example.com"},
		{"garbage passes through", "not an address", "not an address"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractEmail(tt.raw))
		})
	}
}

func TestIsNoReply(t *testing.T) {
	assert.True(t, IsNoReply("noreply@example.com"))
	assert.True(t, IsNoReply("No-Reply@Example.com"))
	assert.True(t, IsNoReply("do_not_reply@corp.io"))
	assert.True(t, IsNoReply("notifications@github.com"))

	assert.False(t, IsNoReply("jane@example.com"))
	assert.False(t, IsNoReply("support@example.com"))
	// Prefix matching is on the local part start only.
	assert.False(t, IsNoReply("jane.noreply@example.com"))
}

func TestClassifier(t *testing.T) {
	c := NewClassifier([]string{"Admin@Example.com", " ops@example.com ", ""}, "me@example.com")

	assert.True(t, c.IsAdmin("admin@example.com"))
	assert.True(t, c.IsAdmin("ADMIN@EXAMPLE.COM"))
	assert.True(t, c.IsAdmin("ops@example.com"))
	assert.True(t, c.IsAdmin("me@example.com"), "self address is always an admin")
	assert.False(t, c.IsAdmin("customer@example.com"))
	assert.False(t, c.IsAdmin(""))

	assert.Equal(t, "me@example.com", c.Self())
}

func TestClassifierSelfAlreadyListed(t *testing.T) {
	c := NewClassifier([]string{"me@example.com"}, "me@example.com")
	assert.True(t, c.IsAdmin("me@example.com"))
}
