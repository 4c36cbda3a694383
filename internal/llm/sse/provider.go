package sse

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/1jehuang/jcode-sub000/internal/message"
	"github.com/1jehuang/jcode-sub000/internal/llm"
)

// Config configures one OpenAI-compatible HTTP-SSE provider instance.
type Config struct {
	// Name is the provider identity reported by Name(), e.g. "glm", "ollama".
	Name string
	// Endpoint is the base URL, e.g. "https://open.bigmodel.cn/api/paas/v4".
	Endpoint string
	// APIKey is sent as a Bearer token; empty for local backends like Ollama.
	APIKey string
	// Model is the initial model name.
	Model  string
	Models []string
	// ContextWindowTokens is reported via Windowed.ContextWindow.
	ContextWindowTokens int
	Client              *http.Client
}

// Provider is an OpenAI-compatible chat-completions client. It implements
// llm.Provider, llm.Simple, and llm.Windowed.
type Provider struct {
	cfg    Config
	client *http.Client
	model  string
}

// New returns a Provider for cfg.
func New(cfg Config) *Provider {
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Minute}
	}
	return &Provider{cfg: cfg, client: client, model: cfg.Model}
}

func (p *Provider) Name() string              { return p.cfg.Name }
func (p *Provider) Model() string              { return p.model }
func (p *Provider) AvailableModels() []string  { return p.cfg.Models }
func (p *Provider) ContextWindow() int         { return p.cfg.ContextWindowTokens }
func (p *Provider) SupportsCompaction() bool   { return true }

func (p *Provider) SetModel(model string) error {
	for _, m := range p.cfg.Models {
		if m == model {
			p.model = model
			return nil
		}
	}
	return fmt.Errorf("sse: unknown model %q for provider %q", model, p.cfg.Name)
}

type chatRequestBody struct {
	Model    string        `json:"model"`
	Messages []wireMessage `json:"messages"`
	Tools    []wireTool    `json:"tools,omitempty"`
	Stream   bool          `json:"stream"`
}

type wireMessage struct {
	Role       string     `json:"role"`
	Content    string     `json:"content,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolCalls  []wireCall `json:"tool_calls,omitempty"`
}

type wireCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type wireTool struct {
	Type     string `json:"type"`
	Function struct {
		Name        string          `json:"name"`
		Description string          `json:"description"`
		Parameters  json.RawMessage `json:"parameters"`
	} `json:"function"`
}

// toWireMessages flattens the internal message model into OpenAI-style
// chat messages: a tool_use block becomes an assistant tool_calls entry,
// a tool_result block becomes a "tool" role message.
func toWireMessages(msgs []message.Message, system string) []wireMessage {
	out := make([]wireMessage, 0, len(msgs)+1)
	if system != "" {
		out = append(out, wireMessage{Role: "system", Content: system})
	}
	for _, m := range msgs {
		role := string(m.Role)
		var text string
		var calls []wireCall
		for _, b := range m.Content {
			switch b.Type {
			case message.BlockText, message.BlockReasoning:
				text += b.Text
			case message.BlockToolUse:
				c := wireCall{ID: b.ID, Type: "function"}
				c.Function.Name = b.Name
				c.Function.Arguments = string(b.Input)
				calls = append(calls, c)
			case message.BlockToolResult:
				out = append(out, wireMessage{Role: "tool", ToolCallID: b.ToolUseID, Content: b.Content})
			}
		}
		if text != "" || len(calls) > 0 {
			out = append(out, wireMessage{Role: role, Content: text, ToolCalls: calls})
		}
	}
	return out
}

func toWireTools(defs []message.ToolDefinition) []wireTool {
	out := make([]wireTool, len(defs))
	for i, d := range defs {
		out[i].Type = "function"
		out[i].Function.Name = d.Name
		out[i].Function.Description = d.Description
		out[i].Function.Parameters = d.InputSchema
	}
	return out
}

// Complete issues a streaming chat completion and adapts the SSE body
// into normalized StreamEvents.
func (p *Provider) Complete(ctx context.Context, req llm.ChatRequest) (<-chan message.StreamEvent, error) {
	body := chatRequestBody{
		Model:    p.model,
		Messages: toWireMessages(req.Messages, req.SystemPrompt),
		Tools:    toWireTools(req.Tools),
		Stream:   true,
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("sse: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.Endpoint+"/chat/completions", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("sse: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("sse: request failed: %w", err)
	}
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		resp.Body.Close()
		events := make(chan message.StreamEvent, 1)
		events <- message.StreamEvent{Kind: message.EventError, Err: fmt.Sprintf("sse: upstream status %d", resp.StatusCode)}
		close(events)
		return events, nil
	}
	if resp.StatusCode >= 400 {
		resp.Body.Close()
		return nil, fmt.Errorf("sse: upstream status %d", resp.StatusCode)
	}

	return ProcessStream(resp.Body), nil
}

// CompleteSimple issues a non-streaming completion for the compaction
// manager's background summarization call.
func (p *Provider) CompleteSimple(ctx context.Context, prompt, system string) (string, error) {
	body := chatRequestBody{
		Model: p.model,
		Messages: toWireMessages([]message.Message{message.NewUserMessage(prompt)}, system),
		Stream: false,
	}
	data, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("sse: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.Endpoint+"/chat/completions", bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("sse: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("sse: request failed: %w", err)
	}
	defer resp.Body.Close()

	var parsed struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("sse: decode response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("sse: empty choices in response")
	}
	return parsed.Choices[0].Message.Content, nil
}

// GLMFactory returns an llm.Factory for the GLM-shaped OpenAI-compatible
// backend (open.bigmodel.cn).
func GLMFactory(apiKey string) llm.Factory {
	return func(model string) (llm.Provider, error) {
		return New(Config{
			Name:                "glm",
			Endpoint:            "https://open.bigmodel.cn/api/paas/v4",
			APIKey:              apiKey,
			Model:               model,
			ContextWindowTokens: 128_000,
		}), nil
	}
}

// OllamaFactory returns an llm.Factory for a local Ollama server.
func OllamaFactory(endpoint string) llm.Factory {
	if endpoint == "" {
		endpoint = "http://localhost:11434/v1"
	}
	return func(model string) (llm.Provider, error) {
		return New(Config{
			Name:                "ollama",
			Endpoint:            endpoint,
			Model:               model,
			ContextWindowTokens: 32_000,
		}), nil
	}
}
