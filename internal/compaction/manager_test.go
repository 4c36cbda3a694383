package compaction

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1jehuang/jcode-sub000/internal/message"
)

type stubCompleter struct {
	contextWindow int
	response      string
	err           error
}

func (s *stubCompleter) CompleteSimple(ctx context.Context, prompt, system string) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return s.response, nil
}

func (s *stubCompleter) ContextWindow() int { return s.contextWindow }

func buildToolPair(useID string) []message.Message {
	return []message.Message{
		{Role: message.RoleAssistant, Content: []message.ContentBlock{message.ToolUse(useID, "read_file", nil)}},
		message.NewToolResultMessage(useID, "contents", false),
	}
}

func TestSelectCutoffTooShort(t *testing.T) {
	msgs := []message.Message{message.NewUserMessage("hi")}
	_, err := SelectCutoff(msgs)
	assert.ErrorIs(t, err, ErrMessagesTooShort)
}

func TestSelectCutoffPreservesToolPairs(t *testing.T) {
	var msgs []message.Message
	for i := 0; i < 3; i++ {
		msgs = append(msgs, message.NewUserMessage("q"))
	}
	// A tool pair straddling where the naive cutoff would land.
	msgs = append(msgs, buildToolPair("call-1")...)
	for i := 0; i < 9; i++ {
		msgs = append(msgs, message.NewUserMessage("filler"))
	}

	cutoff, err := SelectCutoff(msgs)
	require.NoError(t, err)

	tail := msgs[cutoff:]
	useIDs := map[string]bool{}
	for _, m := range tail {
		for _, id := range m.ToolUseIDs() {
			useIDs[id] = true
		}
	}
	for _, m := range tail {
		for _, id := range m.ToolResultIDs() {
			assert.True(t, useIDs[id], "tool_result %s in tail without matching tool_use", id)
		}
	}
}

func TestNeedsCompactionThreshold(t *testing.T) {
	m := NewManager(DefaultConfig(1000)) // 4 chars/token budget, 80% = 800 tokens = 3200 chars
	var msgs []message.Message
	for i := 0; i < 20; i++ {
		msgs = append(msgs, message.NewUserMessage(strings.Repeat("x", 500)))
	}
	assert.True(t, m.NeedsCompaction(msgs))
}

func TestNeedsCompactionNotEnoughMessages(t *testing.T) {
	m := NewManager(DefaultConfig(1000))
	msgs := []message.Message{message.NewUserMessage("hi")}
	assert.False(t, m.NeedsCompaction(msgs))
}

func TestHardCompactProducesDropReport(t *testing.T) {
	m := NewManager(DefaultConfig(1000))
	var msgs []message.Message
	for i := 0; i < 15; i++ {
		msgs = append(msgs, message.NewUserMessage("hello world"))
	}

	result, err := m.HardCompact(msgs)
	require.NoError(t, err)
	assert.Contains(t, result.Summary, "Dropped")
	assert.Equal(t, result.CompactedCount, m.CompactedCount())
}

func TestMessagesForAPINoSummary(t *testing.T) {
	m := NewManager(DefaultConfig(1000))
	full := []message.Message{message.NewUserMessage("a"), message.NewUserMessage("b")}
	out := m.MessagesForAPI(full)
	assert.Len(t, out, 2)
}

func TestMessagesForAPIWithSummary(t *testing.T) {
	m := NewManager(DefaultConfig(1000))
	var msgs []message.Message
	for i := 0; i < 15; i++ {
		msgs = append(msgs, message.NewUserMessage("hello world"))
	}
	_, err := m.HardCompact(msgs)
	require.NoError(t, err)

	out := m.MessagesForAPI(msgs)
	require.NotEmpty(t, out)
	assert.Contains(t, out[0].PlainText(), "compacted")
}

func TestMaybeStartAppliesSummaryAsynchronously(t *testing.T) {
	m := NewManager(DefaultConfig(1000))
	var msgs []message.Message
	for i := 0; i < 20; i++ {
		msgs = append(msgs, message.NewUserMessage(strings.Repeat("x", 500)))
	}
	completer := &stubCompleter{contextWindow: 1000, response: "Context: x\nWhat we did: y"}

	done := make(chan struct{})
	go func() {
		m.MaybeStart(context.Background(), msgs, completer)
		close(done)
	}()
	<-done

	// Poll until the background goroutine has applied its result: 20
	// messages minus the 10 kept verbatim leaves a cutoff of 10.
	require.Eventually(t, func() bool { return !m.PollApply() }, time.Second, time.Millisecond)
	assert.Equal(t, 10, m.CompactedCount())
}

func TestReset(t *testing.T) {
	m := NewManager(DefaultConfig(1000))
	var msgs []message.Message
	for i := 0; i < 15; i++ {
		msgs = append(msgs, message.NewUserMessage("hello world"))
	}
	_, err := m.HardCompact(msgs)
	require.NoError(t, err)
	require.NotZero(t, m.CompactedCount())

	m.Reset()
	assert.Zero(t, m.CompactedCount())
}
