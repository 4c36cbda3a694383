package cachetrack

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1jehuang/jcode-sub000/internal/message"
)

func TestAppendOnlyNoViolation(t *testing.T) {
	tr := New()

	msgs1 := []message.Message{message.NewUserMessage("Hello")}
	require.Nil(t, tr.RecordRequest(msgs1))

	msgs2 := []message.Message{
		message.NewUserMessage("Hello"),
		message.NewAssistantText("Hi there!"),
		message.NewUserMessage("How are you?"),
	}
	require.Nil(t, tr.RecordRequest(msgs2))

	msgs3 := append(append([]message.Message{}, msgs2...),
		message.NewAssistantText("I'm doing well!"), message.NewUserMessage("Great!"))
	require.Nil(t, tr.RecordRequest(msgs3))
}

func TestPrefixModificationViolation(t *testing.T) {
	tr := New()

	require.Nil(t, tr.RecordRequest([]message.Message{message.NewUserMessage("Hello")}))

	v := tr.RecordRequest([]message.Message{
		message.NewUserMessage("Hello MODIFIED"),
		message.NewAssistantText("Hi there!"),
	})
	require.NotNil(t, v)
	assert.Contains(t, v.Reason, "Prefix modified")
}

func TestMessageRemovalViolation(t *testing.T) {
	tr := New()

	require.Nil(t, tr.RecordRequest([]message.Message{
		message.NewUserMessage("Hello"),
		message.NewAssistantText("Hi there!"),
		message.NewUserMessage("How are you?"),
	}))

	v := tr.RecordRequest([]message.Message{message.NewUserMessage("Hello")})
	require.NotNil(t, v)
	assert.Contains(t, v.Reason, "Messages removed")
}

func TestReset(t *testing.T) {
	tr := New()
	tr.RecordRequest([]message.Message{message.NewUserMessage("Hello")})
	tr.Reset()
	require.Nil(t, tr.RecordRequest([]message.Message{message.NewUserMessage("Different message")}))
}

// TestNoFalsePositiveOnNormalGrowth mirrors the real multi-turn pattern:
// each turn appends a new assistant response and user message onto the
// unchanged prior history.
func TestNoFalsePositiveOnNormalGrowth(t *testing.T) {
	tr := New()

	turn1 := []message.Message{message.NewUserMessage("Q1")}
	require.Nil(t, tr.RecordRequest(turn1))

	turn2 := []message.Message{
		message.NewUserMessage("Q1"),
		message.NewAssistantText("A1"),
		message.NewUserMessage("Q2"),
	}
	require.Nil(t, tr.RecordRequest(turn2))

	turn3 := append(append([]message.Message{}, turn2...),
		message.NewAssistantText("A2"), message.NewUserMessage("Q3"))
	require.Nil(t, tr.RecordRequest(turn3))
}

// TestNoFalsePositiveWhenMemoryExcluded verifies that an ephemeral suffix
// (e.g. relevant-memory injection) never enters the tracked view: callers
// must record the base messages, not the memory-augmented ones.
func TestNoFalsePositiveWhenMemoryExcluded(t *testing.T) {
	tr := New()

	base1 := []message.Message{message.NewUserMessage("Q1")}
	require.Nil(t, tr.RecordRequest(base1))

	base2 := []message.Message{
		message.NewUserMessage("Q1"),
		message.NewAssistantText("A1"),
		message.NewUserMessage("Q2"),
	}
	require.Nil(t, tr.RecordRequest(base2))

	base3 := append(append([]message.Message{}, base2...),
		message.NewAssistantText("A2"), message.NewUserMessage("Q3"))
	require.Nil(t, tr.RecordRequest(base3))
}
