// Package testutil provides in-memory doubles for the engine's external
// dependencies: the local state store, the mailbox provider, and the sheet.
package testutil

import (
	"testing"

	"github.com/nhle/ticketwatch/internal/state"
)

// NewTestState creates an in-memory state store with all migrations applied.
// It is closed automatically when the test completes.
func NewTestState(t *testing.T) *state.Store {
	t.Helper()

	s, err := state.NewStore(":memory:")
	if err != nil {
		t.Fatalf("creating test state store: %v", err)
	}

	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("closing test state store: %v", err)
		}
	})

	return s
}
