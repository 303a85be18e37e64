package classify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/ticketwatch/internal/model"
)

func msg(id string, internalDate int64, from, subject string) model.Message {
	return model.Message{ID: id, InternalDate: internalDate, From: from, Subject: subject}
}

func TestLastMessagePicksMaxInternalDate(t *testing.T) {
	thread := model.Thread{
		ID: "t1",
		Messages: []model.Message{
			msg("m1", 1000, "a@example.com", "first"),
			msg("m3", 3000, "c@example.com", "third"),
			msg("m2", 2000, "b@example.com", "second"),
		},
	}

	last, ok := LastMessage(thread)
	require.True(t, ok)
	assert.Equal(t, "m3", last.ID)
}

func TestLastMessageTieBrokenByGreaterID(t *testing.T) {
	// Same timestamp in both orders must yield the same winner.
	a := msg("m-aaa", 5000, "a@example.com", "")
	b := msg("m-bbb", 5000, "b@example.com", "")

	for _, messages := range [][]model.Message{{a, b}, {b, a}} {
		last, ok := LastMessage(model.Thread{ID: "t1", Messages: messages})
		require.True(t, ok)
		assert.Equal(t, "m-bbb", last.ID)
	}
}

func TestLastMessageEmptyThread(t *testing.T) {
	_, ok := LastMessage(model.Thread{ID: "t1"})
	assert.False(t, ok)
}

func TestThread(t *testing.T) {
	thread := model.Thread{
		ID: "t1",
		Messages: []model.Message{
			msg("m1", 1_000_000, "Jane <JANE@Example.com>", "Hello"),
			msg("m2", 2_000_500, "Bob <bob@example.com>", "Re: Hello"),
		},
	}

	res, ok := Thread(thread)
	require.True(t, ok)
	assert.Equal(t, "bob@example.com", res.FromEmail)
	assert.Equal(t, "Re: Hello", res.Subject)
	// Millisecond internal dates truncate to seconds.
	assert.Equal(t, int64(2000), res.Timestamp)
}

func TestThreadMissingSubject(t *testing.T) {
	thread := model.Thread{
		ID:       "t1",
		Messages: []model.Message{msg("m1", 1000, "jane@example.com", "")},
	}

	res, ok := Thread(thread)
	require.True(t, ok)
	assert.Equal(t, NoSubject, res.Subject)
}

func TestThreadEmpty(t *testing.T) {
	_, ok := Thread(model.Thread{ID: "t1"})
	assert.False(t, ok)
}
