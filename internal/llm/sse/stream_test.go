package sse

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1jehuang/jcode-sub000/internal/message"
)

type nopCloser struct{ io.Reader }

func (nopCloser) Close() error { return nil }

func TestProcessStreamTextAndUsage(t *testing.T) {
	body := `data: {"choices":[{"delta":{"content":"hello"}}]}` + "\n" +
		`data: {"choices":[{"delta":{},"finish_reason":"stop"}],"usage":{"prompt_tokens":10,"completion_tokens":5}}` + "\n" +
		`data: [DONE]` + "\n"

	events := collect(t, body)

	require.NotEmpty(t, events)
	assert.Equal(t, message.EventTextDelta, events[0].Kind)
	assert.Equal(t, "hello", events[0].TextDelta)

	var sawUsage, sawEnd bool
	for _, e := range events {
		if e.Kind == message.EventTokenUsage {
			sawUsage = true
			assert.Equal(t, uint64(10), e.Usage.InputTokens)
		}
		if e.Kind == message.EventMessageEnd {
			sawEnd = true
		}
	}
	assert.True(t, sawUsage)
	assert.True(t, sawEnd)
}

func TestProcessStreamToolCallFraming(t *testing.T) {
	body := `data: {"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call_1","function":{"name":"read_file","arguments":""}}]}}]}` + "\n" +
		`data: {"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"{\"path\":"}}]}}]}` + "\n" +
		`data: {"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"\"a.go\"}"}}]}}],"finish_reason":"tool_calls"}` + "\n" +
		`data: [DONE]` + "\n"

	events := collect(t, body)

	require.GreaterOrEqual(t, len(events), 4)
	assert.Equal(t, message.EventToolUseStart, events[0].Kind)
	assert.Equal(t, "call_1", events[0].ToolID)

	var sawEnd bool
	for _, e := range events {
		if e.Kind == message.EventToolUseEnd {
			sawEnd = true
		}
	}
	assert.True(t, sawEnd)
}

func TestProcessStreamErrorEvent(t *testing.T) {
	body := `data: {"error":{"type":"rate_limit","message":"too many requests"}}` + "\n"
	events := collect(t, body)
	require.Len(t, events, 1)
	assert.Equal(t, message.EventError, events[0].Kind)
}

func collect(t *testing.T, body string) []message.StreamEvent {
	t.Helper()
	ch := ProcessStream(nopCloser{strings.NewReader(body)})
	var out []message.StreamEvent
	for e := range ch {
		out = append(out, e)
	}
	return out
}
