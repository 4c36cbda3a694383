// Package sdkbridge implements the SDK-bridge provider adapter family:
// a helper subprocess is spawned for each turn, one JSON request is
// written to its stdin, and its stdout is read as
// line-delimited JSON tagged "stream_event", "assistant_message",
// "result", or "error".
package sdkbridge

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"

	"github.com/1jehuang/jcode-sub000/internal/llm"
	"github.com/1jehuang/jcode-sub000/internal/message"
)

// Config configures one bridge subprocess.
type Config struct {
	// Name is the provider identity, e.g. "agent-cli", "copilot".
	Name string
	// BinPath is the executable to spawn. Resolved once at NewBridge
	// time; a missing binary is a construction error, not a per-turn one.
	BinPath string
	// Args are extra arguments always passed to BinPath.
	Args   []string
	Model  string
	Models []string
}

// bridgeRequest is written to the subprocess's stdin, one line per turn.
type bridgeRequest struct {
	Messages     []message.Message       `json:"messages"`
	Tools        []message.ToolDefinition `json:"tools"`
	SystemPrompt string                   `json:"system_prompt"`
	SessionID    string                   `json:"session_id,omitempty"`
}

// bridgeLine is the tagged union of lines the subprocess writes to
// stdout.
type bridgeLine struct {
	Type string `json:"type"` // "stream_event" | "assistant_message" | "result" | "error"

	// stream_event: fine-grained pass-through, already shaped like
	// message.StreamEvent.
	Event *message.StreamEvent `json:"event,omitempty"`

	// assistant_message: a coarse, already-complete message (fallback
	// path for bridges that don't support fine-grained streaming).
	Message *message.Message `json:"message,omitempty"`

	// result: final usage + provider session id.
	Usage     *message.Usage `json:"usage,omitempty"`
	SessionID string         `json:"session_id,omitempty"`

	// error
	Error string `json:"error,omitempty"`

	// thinking: wall-clock duration of a reasoning pass, reported only
	// when the bridge tracked one.
	ThinkingDurationSecs float64 `json:"thinking_duration_secs,omitempty"`
}

// Bridge is a subprocess-backed llm.Provider.
type Bridge struct {
	cfg   Config
	model string

	mu sync.Mutex
}

// NewBridge verifies the configured binary resolves and returns a Bridge.
func NewBridge(cfg Config) (*Bridge, error) {
	if _, err := exec.LookPath(cfg.BinPath); err != nil {
		return nil, fmt.Errorf("sdkbridge: resolve %q: %w", cfg.BinPath, err)
	}
	return &Bridge{cfg: cfg, model: cfg.Model}, nil
}

func (b *Bridge) Name() string             { return b.cfg.Name }
func (b *Bridge) Model() string            { b.mu.Lock(); defer b.mu.Unlock(); return b.model }
func (b *Bridge) AvailableModels() []string { return b.cfg.Models }

func (b *Bridge) SetModel(model string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, m := range b.cfg.Models {
		if m == model {
			b.model = model
			return nil
		}
	}
	return fmt.Errorf("sdkbridge: unknown model %q for provider %q", model, b.cfg.Name)
}

// Fork returns an independent Bridge sharing the same immutable
// configuration but its own per-call subprocess state (each Complete call
// spawns its own subprocess already, so Fork is a cheap value copy).
func (b *Bridge) Fork() (llm.Provider, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return &Bridge{cfg: b.cfg, model: b.model}, nil
}

// Complete spawns one subprocess for this turn, writes the request as a
// single JSON line on stdin, and translates stdout lines into normalized
// StreamEvents per the state machine in the specification: once a
// stream_event line has been seen, later assistant_message lines are
// ignored as redundant summaries; if none were seen, the assistant_message
// (or the result line, absent that) synthesizes the event sequence.
func (b *Bridge) Complete(ctx context.Context, req llm.ChatRequest) (<-chan message.StreamEvent, error) {
	model := b.Model()
	cmd := exec.CommandContext(ctx, b.cfg.BinPath, b.cfg.Args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("sdkbridge: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("sdkbridge: stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("sdkbridge: stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("sdkbridge: start %q: %w", b.cfg.BinPath, err)
	}

	payload := bridgeRequest{
		Messages:     req.Messages,
		Tools:        req.Tools,
		SystemPrompt: req.SystemPrompt,
		SessionID:    req.ResumeSessionID,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		cmd.Process.Kill()
		return nil, fmt.Errorf("sdkbridge: marshal request: %w", err)
	}

	go func() {
		defer stdin.Close()
		fmt.Fprintf(stdin, "%s\n", data)
	}()

	// One task per stderr reader, logging only — per the concurrency
	// model, stdout and stderr are drained by independent tasks.
	go func() {
		sc := bufio.NewScanner(stderr)
		for sc.Scan() {
			slog.Debug("sdkbridge: stderr", "provider", b.cfg.Name, "line", sc.Text())
		}
	}()

	events := make(chan message.StreamEvent, 32)
	go b.runStdoutReader(cmd, stdout, model, events)

	return events, nil
}

func (b *Bridge) runStdoutReader(cmd *exec.Cmd, stdout io.ReadCloser, model string, events chan<- message.StreamEvent) {
	defer close(events)
	defer cmd.Wait()

	scanner := bufio.NewScanner(stdout)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 4*1024*1024)

	sawStreamEvent := false
	sawMessageEnd := false
	var pendingSessionID string

	for scanner.Scan() {
		var line bridgeLine
		if err := json.Unmarshal(scanner.Bytes(), &line); err != nil {
			continue
		}

		switch line.Type {
		case "stream_event":
			if line.Event == nil {
				continue
			}
			sawStreamEvent = true
			if line.Event.Kind == message.EventMessageEnd {
				sawMessageEnd = true
			}
			if line.Event.Kind == message.EventSessionID {
				pendingSessionID = line.Event.SessionID
			}
			events <- *line.Event

		case "assistant_message":
			if sawStreamEvent || line.Message == nil {
				continue // redundant summary once fine-grained events arrived
			}
			synthesizeFromMessage(*line.Message, events)

		case "result":
			if line.Usage != nil {
				events <- message.StreamEvent{Kind: message.EventTokenUsage, Usage: line.Usage}
			}
			sid := line.SessionID
			if sid == "" {
				sid = pendingSessionID
			}
			if sid != "" {
				events <- message.StreamEvent{Kind: message.EventSessionID, SessionID: sid}
			}
			if line.ThinkingDurationSecs > 0 {
				events <- message.StreamEvent{Kind: message.EventThinkingDone, ThinkingDurationSecs: line.ThinkingDurationSecs}
			}
			if !sawMessageEnd {
				events <- message.StreamEvent{Kind: message.EventMessageEnd}
			}
			return

		case "error":
			events <- message.StreamEvent{Kind: message.EventError, Err: line.Error}
			return
		}
	}

	if err := scanner.Err(); err != nil {
		events <- message.StreamEvent{Kind: message.EventError, Err: err.Error()}
	}
}

// synthesizeFromMessage emits ToolUseStart/InputDelta/ToolUseEnd framing
// for an already-complete message, used when the bridge only supports the
// coarse assistant_message fallback.
func synthesizeFromMessage(m message.Message, events chan<- message.StreamEvent) {
	for _, b := range m.Content {
		switch b.Type {
		case message.BlockText:
			events <- message.StreamEvent{Kind: message.EventTextDelta, TextDelta: b.Text}
		case message.BlockToolUse:
			events <- message.StreamEvent{Kind: message.EventToolUseStart, ToolID: b.ID, ToolName: b.Name}
			if len(b.Input) > 0 {
				events <- message.StreamEvent{Kind: message.EventToolInputDelta, ToolInputDelta: string(b.Input)}
			}
			events <- message.StreamEvent{Kind: message.EventToolUseEnd}
		}
	}
}

// Factory returns an llm.Factory for a bridge configured with binPath and
// args, used for both the generic agent-cli bridge and a Copilot-named
// peer reusing the same transport with a different binary.
func Factory(name, binPath string, args []string, models []string) llm.Factory {
	return func(model string) (llm.Provider, error) {
		return NewBridge(Config{Name: name, BinPath: binPath, Args: args, Model: model, Models: models})
	}
}
