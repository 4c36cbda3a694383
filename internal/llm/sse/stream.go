// Package sse implements the HTTP-SSE provider adapter family: direct
// HTTPS requests against an OpenAI-compatible chat completions endpoint,
// with server-sent events parsed into normalized message.StreamEvents.
package sse

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/1jehuang/jcode-sub000/internal/message"
)

// chatStreamChunk is the OpenAI-compatible per-line SSE payload shape
// shared by the GLM- and Ollama-style backends this package adapts.
type chatStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content          string `json:"content"`
			ReasoningContent string `json:"reasoning_content"`
			ToolCalls        []struct {
				Index    int    `json:"index"`
				ID       string `json:"id"`
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     uint64 `json:"prompt_tokens"`
		CompletionTokens uint64 `json:"completion_tokens"`
		CacheReadTokens  uint64 `json:"prompt_cache_hit_tokens"`
	} `json:"usage"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// toolCallState tracks one in-flight tool call's synthesized
// ToolUseStart/ToolInputDelta/ToolUseEnd framing, keyed by the
// provider's delta index (OpenAI-style deltas identify a tool call by
// position, not a stable id, until the first delta for it arrives).
type toolCallState struct {
	id      string
	name    string
	started bool
}

// ProcessStream reads an OpenAI-compatible SSE body and emits normalized
// StreamEvents. Each "data: " line carries one JSON chunk; the stream
// ends at "data: [DONE]".
func ProcessStream(reader io.ReadCloser) <-chan message.StreamEvent {
	events := make(chan message.StreamEvent, 32)

	go func() {
		defer close(events)
		defer reader.Close()

		scanner := bufio.NewScanner(reader)
		buf := make([]byte, 0, 64*1024)
		scanner.Buffer(buf, 1024*1024)

		tools := map[int]*toolCallState{}
		sawFinish := false

		// open is the started tool call whose ToolUseEnd is still owed.
		var open *toolCallState
		endOpen := func() {
			if open != nil {
				events <- message.StreamEvent{Kind: message.EventToolUseEnd}
				open = nil
			}
		}

		for scanner.Scan() {
			line := scanner.Text()
			if line == "" || strings.HasPrefix(line, ":") {
				continue
			}
			if !strings.HasPrefix(line, "data:") {
				continue
			}

			data := strings.TrimSpace(strings.TrimPrefix(strings.TrimPrefix(line, "data: "), "data:"))
			if data == "[DONE]" {
				if !sawFinish {
					endOpen()
					events <- message.StreamEvent{Kind: message.EventMessageEnd}
				}
				return
			}

			var chunk chatStreamChunk
			if err := json.Unmarshal([]byte(data), &chunk); err != nil {
				continue
			}

			if chunk.Error != nil {
				events <- message.StreamEvent{
					Kind: message.EventError,
					Err:  fmt.Sprintf("[%s] %s", chunk.Error.Type, chunk.Error.Message),
				}
				return
			}

			if len(chunk.Choices) == 0 {
				continue
			}
			choice := chunk.Choices[0]
			delta := choice.Delta

			if delta.ReasoningContent != "" {
				events <- message.StreamEvent{Kind: message.EventThinkingStart}
				events <- message.StreamEvent{Kind: message.EventTextDelta, TextDelta: delta.ReasoningContent}
				events <- message.StreamEvent{Kind: message.EventThinkingEnd}
			}

			if delta.Content != "" {
				events <- message.StreamEvent{Kind: message.EventTextDelta, TextDelta: delta.Content}
			}

			for _, tc := range delta.ToolCalls {
				state, ok := tools[tc.Index]
				if !ok {
					state = &toolCallState{id: tc.ID, name: tc.Function.Name}
					tools[tc.Index] = state
				}
				if !state.started && (state.id != "" && state.name != "") {
					endOpen()
					events <- message.StreamEvent{
						Kind: message.EventToolUseStart, ToolID: state.id, ToolName: state.name,
					}
					state.started = true
					open = state
				}
				if tc.Function.Arguments != "" {
					events <- message.StreamEvent{Kind: message.EventToolInputDelta, ToolInputDelta: tc.Function.Arguments}
				}
			}

			if chunk.Usage != nil {
				events <- message.StreamEvent{
					Kind: message.EventTokenUsage,
					Usage: &message.Usage{
						InputTokens:    chunk.Usage.PromptTokens,
						OutputTokens:   chunk.Usage.CompletionTokens,
						CacheReadInput: chunk.Usage.CacheReadTokens,
					},
				}
			}

			switch choice.FinishReason {
			case "stop", "tool_calls", "length", "content_filter":
				endOpen()
				events <- message.StreamEvent{Kind: message.EventMessageEnd, StopReason: choice.FinishReason}
				sawFinish = true
				return
			}
		}

		if err := scanner.Err(); err != nil {
			events <- message.StreamEvent{Kind: message.EventError, Err: err.Error()}
		}
	}()

	return events
}
