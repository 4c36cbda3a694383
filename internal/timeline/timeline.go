// Package timeline flattens a session's stored messages into an ordered
// list of replay events: one entry per user turn, assistant text run,
// tool call, and tool result. It exists so a client can render or replay
// a session's history without re-deriving turn boundaries from the raw
// content-block stream itself.
package timeline

import (
	"encoding/json"

	"github.com/1jehuang/jcode-sub000/internal/message"
	"github.com/1jehuang/jcode-sub000/internal/store"
)

// Kind tags the variant of an Event.
type Kind string

const (
	KindUserText      Kind = "user_text"
	KindAssistantText Kind = "assistant_text"
	KindReasoning     Kind = "reasoning"
	KindToolCall      Kind = "tool_call"
	KindToolResult    Kind = "tool_result"
)

// Event is one flattened step in a session's history.
type Event struct {
	Seq       int             `json:"seq"`
	MessageID string          `json:"message_id"`
	Kind      Kind            `json:"kind"`
	Text      string          `json:"text,omitempty"`
	ToolID    string          `json:"tool_id,omitempty"`
	ToolName  string          `json:"tool_name,omitempty"`
	ToolInput json.RawMessage `json:"tool_input,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
	DurationSecs float64      `json:"duration_secs,omitempty"`
}

// Build flattens sess's stored messages into a chronological Event list.
// Ordering is exactly the order content blocks were appended by the turn
// engine (see internal/agent.Engine.runLoop), which appends one
// StoredMessage per AddMessage call and never reorders or rewrites
// existing ones — so array order already is turn order.
func Build(sess *store.Session) []Event {
	var events []Event
	seq := 0

	for _, sm := range sess.Messages {
		msg := sm.ToMessage()
		for _, block := range msg.Content {
			ev := Event{Seq: seq, MessageID: sm.ID}
			switch block.Type {
			case message.BlockText:
				if msg.Role == message.RoleUser {
					ev.Kind = KindUserText
				} else {
					ev.Kind = KindAssistantText
				}
				ev.Text = block.Text
			case message.BlockReasoning:
				ev.Kind = KindReasoning
				ev.Text = block.Text
				ev.DurationSecs = block.DurationSecs
			case message.BlockToolUse:
				ev.Kind = KindToolCall
				ev.ToolID = block.ID
				ev.ToolName = block.Name
				ev.ToolInput = block.Input
			case message.BlockToolResult:
				ev.Kind = KindToolResult
				ev.ToolID = block.ToolUseID
				ev.Text = block.Content
				ev.IsError = block.IsError
			default:
				continue
			}
			events = append(events, ev)
			seq++
		}
	}

	return events
}

// Since returns every event in the timeline with Seq >= afterSeq,
// letting a client resume a live view without re-fetching history it
// already rendered.
func Since(events []Event, afterSeq int) []Event {
	for i, ev := range events {
		if ev.Seq >= afterSeq {
			return events[i:]
		}
	}
	return nil
}
