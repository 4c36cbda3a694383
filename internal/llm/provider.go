// Package llm defines the provider-agnostic LLM interface and the pool
// that creates and caches provider instances per model. Concrete
// transports live in the sdkbridge, sse, and cliexec subpackages.
package llm

import (
	"context"

	"github.com/1jehuang/jcode-sub000/internal/message"
)

// ChatRequest is the provider-agnostic request shape every adapter
// accepts.
type ChatRequest struct {
	Messages          []message.Message
	Tools             []message.ToolDefinition
	SystemPrompt      string
	ResumeSessionID   string
}

// Provider is the capability set any LLM backend must implement: a
// streaming chat completion plus metadata accessors. Optional
// capabilities are surfaced via the Simple/Windowed/Compactable/Forker
// interfaces below so adapters that can't support them simply don't
// implement the extra method.
type Provider interface {
	// Complete streams normalized events for one turn. The returned
	// channel is closed when the stream ends (after a MessageEnd or
	// Error event).
	Complete(ctx context.Context, req ChatRequest) (<-chan message.StreamEvent, error)

	Name() string
	Model() string
	SetModel(model string) error
	AvailableModels() []string
}

// Simple is implemented by providers that can also answer a one-shot,
// non-streaming completion — used by the compaction manager for
// background summarization.
type Simple interface {
	CompleteSimple(ctx context.Context, prompt, system string) (string, error)
}

// Windowed is implemented by providers that know their context window
// size in tokens.
type Windowed interface {
	ContextWindow() int
}

// Compactable is implemented by providers whose wire format benefits from
// (or requires) compaction-aware message shaping.
type Compactable interface {
	SupportsCompaction() bool
}

// Forker is implemented by providers that can produce an independent copy
// sharing immutable configuration but owning independent per-call state
// (used by the task tool to give a sub-agent its own provider instance).
type Forker interface {
	Fork() (Provider, error)
}
