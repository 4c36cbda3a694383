// Command jcoded is the jcode agent daemon: it loads sessions from disk,
// dispatches turns through the tool-executing turn engine, and exposes
// both to any number of local clients over a Unix domain socket (or
// named pipe on Windows).
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/1jehuang/jcode-sub000/internal/agent"
	"github.com/1jehuang/jcode-sub000/internal/ipc"
	"github.com/1jehuang/jcode-sub000/internal/llm"
	"github.com/1jehuang/jcode-sub000/internal/llm/cliexec"
	"github.com/1jehuang/jcode-sub000/internal/llm/sdkbridge"
	"github.com/1jehuang/jcode-sub000/internal/llm/sse"
	"github.com/1jehuang/jcode-sub000/internal/mcp/client"
	"github.com/1jehuang/jcode-sub000/internal/message"
	"github.com/1jehuang/jcode-sub000/internal/store"
	"github.com/1jehuang/jcode-sub000/internal/tools/builtin"
	"github.com/1jehuang/jcode-sub000/pkg/logger"
)

var (
	socketPath = flag.String("socket", "", "override the default socket/pipe path")
	model      = flag.String("model", "glm-4.6", "default chat model name")
	endpoint   = flag.String("endpoint", os.Getenv("JCODE_API_BASE"), "OpenAI-compatible endpoint for the default model")
	apiKey     = flag.String("api-key", os.Getenv("JCODE_API_KEY"), "API key for the default model")
	cliBin     = flag.String("cli-bin", "", "binary for cli:<name> models (cliexec adapter)")
	bridgeBin  = flag.String("bridge-bin", "", "binary for bridge:<name> models (sdkbridge adapter)")
)

// newFactory returns the llm.Factory jcoded uses to create providers on
// demand. Model names are looked up verbatim against the SSE backend
// unless prefixed "cli:" or "bridge:", in which case the remainder is the
// model passed to the corresponding subprocess adapter.
func newFactory() llm.Factory {
	return func(m string) (llm.Provider, error) {
		switch {
		case strings.HasPrefix(m, "cli:"):
			name := strings.TrimPrefix(m, "cli:")
			if *cliBin == "" {
				return nil, fmt.Errorf("model %q requires -cli-bin", m)
			}
			return cliexec.New(cliexec.Config{
				Name:       "cli",
				BinPath:    *cliBin,
				PromptFlag: "--prompt",
				Model:      name,
				Models:     []string{name},
			}), nil
		case strings.HasPrefix(m, "bridge:"):
			name := strings.TrimPrefix(m, "bridge:")
			if *bridgeBin == "" {
				return nil, fmt.Errorf("model %q requires -bridge-bin", m)
			}
			return sdkbridge.NewBridge(sdkbridge.Config{
				Name:    "bridge",
				BinPath: *bridgeBin,
				Model:   name,
				Models:  []string{name},
			})
		default:
			return sse.New(sse.Config{
				Name:                "default",
				Endpoint:            *endpoint,
				APIKey:              *apiKey,
				Model:               m,
				Models:              []string{m},
				ContextWindowTokens: 128_000,
			}), nil
		}
	}
}

func main() {
	flag.Parse()

	if err := logger.Init(logger.LogConfig{Level: "info", Format: "console"}); err != nil {
		fmt.Fprintf(os.Stderr, "jcoded: init logger: %v\n", err)
		os.Exit(1)
	}

	root, err := store.Root()
	if err != nil {
		slog.Error("resolve jcode root", "error", err)
		os.Exit(1)
	}
	st := store.New(root)

	builtin.SetMCPConfigRoot(root)
	mcpManager := client.NewManager(nil)
	builtin.SetMCPManager(mcpManager)
	for _, err := range client.LoadSavedServers(context.Background(), root, mcpManager) {
		slog.Warn("jcoded: reconnect saved mcp server", "error", err)
	}

	registry := builtin.NewRegistryWithBuiltins()

	pool := llm.NewPool(newFactory())
	pool.SetDefault("chat", *model)
	pool.SetDefault("task", *model)

	eng := agent.New(st, registry, pool, defaultSystemPrompt)

	builtin.SetTaskRunner(func(ctx context.Context, prompt string, allowedTools []string) (string, error) {
		sub := registry.Clone()
		if len(allowedTools) > 0 {
			sub.Filter(allowedTools)
		}
		sub.Remove("task")
		subEng := agent.New(st, sub, pool, defaultSystemPrompt)

		sess := st.Create(nil, nil)
		if err := sess.Save(); err != nil {
			return "", fmt.Errorf("create sub-agent session: %w", err)
		}

		prov, err := pool.GetOrDefault("", "task")
		if err != nil {
			return "", err
		}

		events, err := subEng.RunTurn(ctx, sess.ID, prompt, prov)
		if err != nil {
			return "", err
		}

		var out strings.Builder
		for ev := range events {
			switch ev.Kind {
			case message.EventTextDelta:
				out.WriteString(ev.TextDelta)
			case message.EventError:
				return out.String(), fmt.Errorf("sub-agent: %s", ev.Err)
			}
		}
		return out.String(), nil
	})

	srv := ipc.NewServer(st, pool, eng)
	if err := srv.Start(); err != nil {
		slog.Error("start ipc server", "error", err)
		os.Exit(1)
	}
	if *socketPath != "" {
		slog.Warn("-socket override not wired to a custom listen address; using default", "requested", *socketPath)
	}

	slog.Info("jcoded listening", "socket", srv.SocketPath())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	slog.Info("jcoded shutting down")
	if err := srv.Stop(); err != nil {
		slog.Error("stop ipc server", "error", err)
	}
}

const defaultSystemPrompt = `You are jcode, a terminal coding agent. Use the available tools to read, search, and edit files, and run shell commands, to accomplish the user's request.`
