// Package cliexec implements the CLI-subprocess provider adapter family:
// a CLI binary is invoked once per turn with the prompt passed as a flag,
// and stdout is captured as a single text completion. No tool support.
package cliexec

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/1jehuang/jcode-sub000/internal/llm"
	"github.com/1jehuang/jcode-sub000/internal/message"
)

// maxPromptChars bounds how much prompt text is passed on the command
// line before truncating with a leading marker, avoiding ARG_MAX issues
// and runaway local-inference latency.
const maxPromptChars = 24_000

// Config configures one CLI-subprocess provider instance.
type Config struct {
	Name    string
	BinPath string
	// PromptFlag is prepended to the flattened prompt, e.g. "--prompt".
	PromptFlag string
	ExtraArgs  []string
	Model      string
	Models     []string
}

// Provider shells out to a local inference binary per turn.
type Provider struct {
	cfg   Config
	model string
}

// New returns a Provider for cfg. Construction does not verify the binary
// resolves; a missing binary surfaces as a Complete-time error, since CLI
// backends are commonly installed lazily by the user.
func New(cfg Config) *Provider {
	return &Provider{cfg: cfg, model: cfg.Model}
}

func (p *Provider) Name() string             { return p.cfg.Name }
func (p *Provider) Model() string            { return p.model }
func (p *Provider) AvailableModels() []string { return p.cfg.Models }

func (p *Provider) SetModel(model string) error {
	for _, m := range p.cfg.Models {
		if m == model {
			p.model = model
			return nil
		}
	}
	return fmt.Errorf("cliexec: unknown model %q for provider %q", model, p.cfg.Name)
}

func flattenPrompt(req llm.ChatRequest) string {
	var b strings.Builder
	if req.SystemPrompt != "" {
		b.WriteString(req.SystemPrompt)
		b.WriteString("\n\n")
	}
	for _, m := range req.Messages {
		b.WriteString(string(m.Role))
		b.WriteString(": ")
		b.WriteString(m.PlainText())
		b.WriteString("\n")
	}
	prompt := b.String()
	if len(prompt) > maxPromptChars {
		prompt = "[...truncated...]\n" + prompt[len(prompt)-maxPromptChars:]
	}
	return prompt
}

// Complete invokes the CLI binary synchronously (CLI backends have no
// incremental streaming) and delivers the captured stdout as a single
// TextDelta followed by MessageEnd.
func (p *Provider) Complete(ctx context.Context, req llm.ChatRequest) (<-chan message.StreamEvent, error) {
	prompt := flattenPrompt(req)

	args := append([]string{}, p.cfg.ExtraArgs...)
	if p.cfg.PromptFlag != "" {
		args = append(args, p.cfg.PromptFlag, prompt)
	} else {
		args = append(args, prompt)
	}
	args = append(args, "--model", p.model)

	cmd := exec.CommandContext(ctx, p.cfg.BinPath, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	events := make(chan message.StreamEvent, 2)
	if err := cmd.Run(); err != nil {
		events <- message.StreamEvent{Kind: message.EventError, Err: fmt.Sprintf("cliexec: %v: %s", err, stderr.String())}
		close(events)
		return events, nil
	}

	events <- message.StreamEvent{Kind: message.EventTextDelta, TextDelta: stdout.String()}
	events <- message.StreamEvent{Kind: message.EventMessageEnd, StopReason: "stop"}
	close(events)
	return events, nil
}

// Factory returns an llm.Factory for a vLLM-style local inference binary.
func Factory(binPath string, models []string) llm.Factory {
	return func(model string) (llm.Provider, error) {
		return New(Config{Name: "vllm", BinPath: binPath, PromptFlag: "--prompt", Model: model, Models: models}), nil
	}
}
