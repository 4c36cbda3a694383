// Package message defines the conversation data model shared by the agent
// turn engine, the compaction manager, and the session store.
package message

import (
	"encoding/json"
	"fmt"
	"time"
)

// Role identifies who produced a Message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// BlockType tags the kind of data carried by a ContentBlock.
type BlockType string

const (
	BlockText       BlockType = "text"
	BlockToolUse    BlockType = "tool_use"
	BlockToolResult BlockType = "tool_result"
	BlockReasoning  BlockType = "reasoning"
	BlockImage      BlockType = "image"
)

// ContentBlock is one tagged-union element of a Message's content.
//
// Only the fields relevant to Type are populated; the rest are zero. This
// mirrors the discriminated-union shape used on the wire (see
// internal/ipc) and in the normative session JSON file.
type ContentBlock struct {
	Type BlockType `json:"type"`

	// Text / Reasoning
	Text string `json:"text,omitempty"`

	// ToolUse
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	// ToolResult
	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   string `json:"content,omitempty"`
	IsError   bool   `json:"is_error,omitempty"`

	// Reasoning
	DurationSecs float64 `json:"duration_secs,omitempty"`

	// Image
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data,omitempty"`

	// CacheControl marks this block as an explicit prompt-cache boundary
	// for providers that support it (e.g. Anthropic's cache_control).
	CacheControl string `json:"cache_control,omitempty"`
}

// Text returns a text content block.
func Text(text string) ContentBlock {
	return ContentBlock{Type: BlockText, Text: text}
}

// ToolUse returns a tool_use content block.
func ToolUse(id, name string, input json.RawMessage) ContentBlock {
	return ContentBlock{Type: BlockToolUse, ID: id, Name: name, Input: input}
}

// ToolResult returns a tool_result content block.
func ToolResult(toolUseID, content string, isError bool) ContentBlock {
	return ContentBlock{Type: BlockToolResult, ToolUseID: toolUseID, Content: content, IsError: isError}
}

// Message is one turn in the conversation: a role and an ordered list of
// content blocks.
type Message struct {
	Role      Role           `json:"role"`
	Content   []ContentBlock `json:"content"`
	Timestamp time.Time      `json:"timestamp,omitempty"`
}

// NewUserMessage builds a plain-text user message.
func NewUserMessage(text string) Message {
	return Message{Role: RoleUser, Content: []ContentBlock{Text(text)}, Timestamp: time.Now()}
}

// NewAssistantText builds a plain-text assistant message.
func NewAssistantText(text string) Message {
	return Message{Role: RoleAssistant, Content: []ContentBlock{Text(text)}, Timestamp: time.Now()}
}

// NewToolResultMessage wraps a single tool result in a user-role message,
// matching the convention providers expect for tool-result turns.
func NewToolResultMessage(toolUseID, content string, isError bool) Message {
	return Message{
		Role:      RoleUser,
		Content:   []ContentBlock{ToolResult(toolUseID, content, isError)},
		Timestamp: time.Now(),
	}
}

// ToolUseIDs returns the ids of every tool_use block in the message.
func (m Message) ToolUseIDs() []string {
	var ids []string
	for _, b := range m.Content {
		if b.Type == BlockToolUse {
			ids = append(ids, b.ID)
		}
	}
	return ids
}

// ToolResultIDs returns the tool_use_id referenced by every tool_result
// block in the message.
func (m Message) ToolResultIDs() []string {
	var ids []string
	for _, b := range m.Content {
		if b.Type == BlockToolResult {
			ids = append(ids, b.ToolUseID)
		}
	}
	return ids
}

// PlainText concatenates every text block's content, ignoring tool/image
// blocks. Used for summarization prompts and byte-budget estimation.
func (m Message) PlainText() string {
	var s string
	for _, b := range m.Content {
		if b.Type == BlockText {
			s += b.Text
		}
	}
	return s
}

// ToolDefinition describes a callable tool for the provider's API.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

// ToolCall is a single invocation the model requested.
type ToolCall struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

func (t ToolCall) String() string {
	return fmt.Sprintf("%s(%s)", t.Name, string(t.Input))
}

// Usage reports token accounting for a single provider response.
type Usage struct {
	InputTokens         uint64 `json:"input_tokens"`
	OutputTokens        uint64 `json:"output_tokens"`
	CacheReadInput      uint64 `json:"cache_read_input,omitempty"`
	CacheCreationInput  uint64 `json:"cache_creation_input,omitempty"`
}

// StreamEvent is the normalized, provider-agnostic event emitted while a
// turn streams. Every adapter in internal/llm translates its
// wire-specific framing into this shape.
type StreamEvent struct {
	Kind StreamEventKind `json:"kind"`

	TextDelta string `json:"text_delta,omitempty"`

	ToolID   string `json:"tool_id,omitempty"`
	ToolName string `json:"tool_name,omitempty"`

	ToolInputDelta string `json:"tool_input_delta,omitempty"`

	Usage *Usage `json:"usage,omitempty"`

	StopReason string `json:"stop_reason,omitempty"`

	SessionID string `json:"session_id,omitempty"`

	ConnectionType string `json:"connection_type,omitempty"`

	ThinkingDurationSecs float64 `json:"thinking_duration_secs,omitempty"`

	Err string `json:"err,omitempty"`
}

// StreamEventKind tags the variant of a StreamEvent.
type StreamEventKind string

const (
	EventTextDelta      StreamEventKind = "text_delta"
	EventToolUseStart   StreamEventKind = "tool_use_start"
	EventToolInputDelta StreamEventKind = "tool_input_delta"
	EventToolUseEnd     StreamEventKind = "tool_use_end"
	EventTokenUsage     StreamEventKind = "token_usage"
	EventMessageEnd     StreamEventKind = "message_end"
	EventSessionID      StreamEventKind = "session_id"
	EventConnectionType StreamEventKind = "connection_type"
	EventThinkingStart  StreamEventKind = "thinking_start"
	EventThinkingEnd    StreamEventKind = "thinking_end"
	EventThinkingDone   StreamEventKind = "thinking_done"
	EventError          StreamEventKind = "error"

	// Turn-engine level events, emitted around tool execution rather than
	// by a provider adapter.
	EventToolExecStart StreamEventKind = "tool_exec_start"
	EventToolExecDone  StreamEventKind = "tool_exec_done"
	EventCompacting    StreamEventKind = "compacting"
	EventCompacted     StreamEventKind = "compacted"
	EventTurnDone      StreamEventKind = "turn_done"
)
