// Package ipc implements the local NDJSON protocol between jcodectl
// clients and the jcoded agent server: one JSON object per line, in
// both directions, over a Unix domain socket (a named pipe on Windows).
package ipc

import (
	"encoding/json"

	"github.com/1jehuang/jcode-sub000/internal/message"
)

const (
	// SocketPath is the default Unix Domain Socket path.
	SocketPath = "/tmp/jcoded.sock"

	// WindowsPipeName is the default Windows named pipe path.
	WindowsPipeName = `\\.\pipe\jcoded`

	// ProtocolVersion is the current wire protocol version.
	ProtocolVersion = "1.0"

	// MaxLineBytes is a 4 MiB line size. The codec does not use it: line
	// size is bounded by MaxMessageSize (see codec.go).
	MaxLineBytes = 4 * 1024 * 1024
)

// RequestType tags the variant of a client-to-server Request.
type RequestType string

const (
	ReqMessage      RequestType = "message"
	ReqCancel       RequestType = "cancel"
	ReqSoftInterrupt RequestType = "soft_interrupt"
	ReqClear        RequestType = "clear"
	ReqPing         RequestType = "ping"
	ReqState        RequestType = "state"
	ReqSubscribe    RequestType = "subscribe"
	ReqGetHistory   RequestType = "get_history"
	ReqReload       RequestType = "reload"
	ReqResumeSession RequestType = "resume_session"
	ReqCycleModel   RequestType = "cycle_model"
	ReqSetModel     RequestType = "set_model"
	ReqTimeline     RequestType = "timeline"
)

// Request is one client-to-server line. Only the fields relevant to Type
// are populated.
type Request struct {
	Type      RequestType `json:"type"`
	ID        string      `json:"id,omitempty"`
	SessionID string      `json:"session_id,omitempty"`

	// message
	Text string `json:"text,omitempty"`

	// soft_interrupt
	Urgent bool `json:"urgent,omitempty"`

	// set_model
	Model string `json:"model,omitempty"`

	// get_history
	Limit int `json:"limit,omitempty"`

	// timeline: only return events with seq >= Since
	Since int `json:"since,omitempty"`
}

// ServerEventType tags the variant of a server-to-client ServerEvent.
type ServerEventType string

const (
	EvtAck           ServerEventType = "ack"
	EvtTextDelta     ServerEventType = "text_delta"
	EvtToolStart     ServerEventType = "tool_start"
	EvtToolInput     ServerEventType = "tool_input"
	EvtToolExec      ServerEventType = "tool_exec"
	EvtToolDone      ServerEventType = "tool_done"
	EvtTokens        ServerEventType = "tokens"
	EvtDone          ServerEventType = "done"
	EvtError         ServerEventType = "error"
	EvtPong          ServerEventType = "pong"
	EvtState         ServerEventType = "state"
	EvtSession       ServerEventType = "session"
	EvtHistory       ServerEventType = "history"
	EvtReloading     ServerEventType = "reloading"
	EvtModelChanged  ServerEventType = "model_changed"
	EvtTimeline      ServerEventType = "timeline"
)

// ServerEvent is one server-to-client line.
type ServerEvent struct {
	Type      ServerEventType `json:"type"`
	SessionID string          `json:"session_id,omitempty"`
	ReplyTo   string          `json:"reply_to,omitempty"`

	Text  string `json:"text,omitempty"`
	Error string `json:"error,omitempty"`

	ToolID    string `json:"tool_id,omitempty"`
	ToolName  string `json:"tool_name,omitempty"`
	ToolInput string `json:"tool_input,omitempty"`

	Usage *message.Usage `json:"usage,omitempty"`

	State json.RawMessage `json:"state,omitempty"`

	Messages []message.Message `json:"messages,omitempty"`

	Model string `json:"model,omitempty"`

	// timeline
	Timeline json.RawMessage `json:"timeline,omitempty"`
}

// FromStreamEvent translates an engine-level StreamEvent into the wire
// ServerEvent shape for sessionID. Kinds with no wire representation
// (e.g. internal bookkeeping events the client doesn't need) map to the
// zero ServerEventType and should be dropped by the caller.
func FromStreamEvent(sessionID string, ev message.StreamEvent) ServerEvent {
	out := ServerEvent{SessionID: sessionID}
	switch ev.Kind {
	case message.EventTextDelta:
		out.Type = EvtTextDelta
		out.Text = ev.TextDelta
	case message.EventToolUseStart:
		out.Type = EvtToolStart
		out.ToolID = ev.ToolID
		out.ToolName = ev.ToolName
	case message.EventToolInputDelta:
		out.Type = EvtToolInput
		out.ToolID = ev.ToolID
		out.ToolInput = ev.ToolInputDelta
	case message.EventToolExecStart:
		out.Type = EvtToolExec
		out.ToolID = ev.ToolID
		out.ToolName = ev.ToolName
	case message.EventToolExecDone:
		out.Type = EvtToolDone
		out.ToolID = ev.ToolID
		out.ToolName = ev.ToolName
	case message.EventTokenUsage:
		out.Type = EvtTokens
		out.Usage = ev.Usage
	case message.EventTurnDone:
		out.Type = EvtDone
	case message.EventError:
		out.Type = EvtError
		out.Error = ev.Err
	}
	return out
}
