// Package agent implements the turn engine: the per-session state machine
// that drives one provider round, executes any tool calls it requests, and
// loops until the model produces a final answer with no pending calls.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/1jehuang/jcode-sub000/internal/cachetrack"
	"github.com/1jehuang/jcode-sub000/internal/compaction"
	"github.com/1jehuang/jcode-sub000/internal/llm"
	"github.com/1jehuang/jcode-sub000/internal/message"
	"github.com/1jehuang/jcode-sub000/internal/store"
	"github.com/1jehuang/jcode-sub000/internal/tools"
)

// Hook lets callers observe or veto a turn at its natural pause points
// without the engine needing to know about policy, approval, or hook
// subsystems directly. Returning ok=false at PreTool skips that call.
type Hook interface {
	PreTurn(ctx context.Context, sessionID, userInput string) (string, bool)
	PreTool(ctx context.Context, sessionID string, call message.ToolCall) bool
}

// sessionState is the per-session mutable state the engine keeps between
// turns: a session only ever has one turn running at a time (enforced by
// the per-session turn lock at the ipc layer), but the cache tracker and
// compaction manager must persist across turns.
type sessionState struct {
	tracker    *cachetrack.Tracker
	compactor  *compaction.Manager
	interrupts *interruptBox
	cancel     context.CancelFunc
}

// Engine runs turns for any number of sessions concurrently, one
// goroutine per in-flight turn.
type Engine struct {
	store    *store.Store
	registry *tools.Registry
	pool     *llm.Pool

	systemPrompt string
	hooks        []Hook

	mu    sync.Mutex
	state map[string]*sessionState
}

// New returns an Engine backed by st for persistence, reg for tool
// dispatch, and pool for provider lookup.
func New(st *store.Store, reg *tools.Registry, pool *llm.Pool, systemPrompt string) *Engine {
	return &Engine{
		store:        st,
		registry:     reg,
		pool:         pool,
		systemPrompt: systemPrompt,
		state:        make(map[string]*sessionState),
	}
}

// AddHook registers a Hook invoked at every turn's pause points, in
// registration order.
func (e *Engine) AddHook(h Hook) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.hooks = append(e.hooks, h)
}

func (e *Engine) sessionStateFor(id string, contextWindow int) *sessionState {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.state[id]
	if !ok {
		st = &sessionState{
			tracker:    cachetrack.New(),
			compactor:  compaction.NewManager(compaction.DefaultConfig(contextWindow)),
			interrupts: newInterruptBox(),
		}
		e.state[id] = st
	}
	return st
}

// Interrupt injects a soft steering message into an in-flight turn for
// sessionID. It is a no-op if no turn is running.
func (e *Engine) Interrupt(sessionID string, in Interrupt) {
	e.mu.Lock()
	st, ok := e.state[sessionID]
	e.mu.Unlock()
	if ok {
		st.interrupts.Send(in)
	}
}

// Cancel requests the in-flight turn for sessionID stop as soon as
// possible. It is a no-op if no turn is running.
func (e *Engine) Cancel(sessionID string) {
	e.mu.Lock()
	st, ok := e.state[sessionID]
	e.mu.Unlock()
	if ok && st.cancel != nil {
		st.cancel()
	}
}

// RunTurn starts one turn for sessionID against prov and returns a
// channel of normalized events. The channel is closed once the turn
// completes (successfully, on error, or on cancellation).
func (e *Engine) RunTurn(ctx context.Context, sessionID, userInput string, prov llm.Provider) (<-chan message.StreamEvent, error) {
	sess, err := e.store.Load(sessionID)
	if err != nil {
		return nil, fmt.Errorf("agent: load session %s: %w", sessionID, err)
	}

	contextWindow := 128_000
	if w, ok := prov.(llm.Windowed); ok {
		contextWindow = w.ContextWindow()
	}
	st := e.sessionStateFor(sessionID, contextWindow)

	turnCtx, cancel := context.WithCancel(ctx)
	e.mu.Lock()
	st.cancel = cancel
	e.mu.Unlock()

	out := make(chan message.StreamEvent, 64)
	go func() {
		defer close(out)
		defer cancel()
		e.runLoop(turnCtx, sess, st, userInput, prov, out)
	}()
	return out, nil
}

func (e *Engine) runLoop(ctx context.Context, sess *store.Session, st *sessionState, userInput string, prov llm.Provider, out chan<- message.StreamEvent) {
	for _, h := range e.hooks {
		var ok bool
		userInput, ok = h.PreTurn(ctx, sess.ID, userInput)
		if !ok {
			out <- message.StreamEvent{Kind: message.EventError, Err: "turn blocked by hook"}
			return
		}
	}

	sess.AddMessage(message.RoleUser, []message.ContentBlock{message.Text(userInput)})
	if err := sess.Save(); err != nil {
		slog.Warn("agent: save session after user message", "session", sess.ID, "error", err)
	}

	for {
		active := st.compactor.MessagesForAPI(sess.MessagesForProvider())
		if v := st.tracker.RecordRequest(active); v != nil {
			slog.Warn("agent: prefix cache violation", "session", sess.ID, "reason", v.Reason)
		}

		defs, err := e.registry.Definitions()
		if err != nil {
			out <- message.StreamEvent{Kind: message.EventError, Err: err.Error()}
			return
		}

		events, err := prov.Complete(ctx, llm.ChatRequest{
			Messages:     active,
			Tools:        defs,
			SystemPrompt: e.systemPrompt,
		})
		if err != nil {
			out <- message.StreamEvent{Kind: message.EventError, Err: err.Error()}
			return
		}

		assistantBlocks, toolCalls, stopped := e.drainStream(ctx, events, st, out)
		if stopped {
			return
		}

		sess.AddMessage(message.RoleAssistant, assistantBlocks)
		if err := sess.Save(); err != nil {
			slog.Warn("agent: save session after assistant message", "session", sess.ID, "error", err)
		}

		// Injection point A: after the stream, before any tools run.
		e.applyInterrupt(sess, st)

		if len(toolCalls) == 0 {
			// Injection point B: no tools requested, turn about to end.
			e.applyInterrupt(sess, st)
			break
		}

		resultBlocks, abandoned := e.executeTools(ctx, sess, st, toolCalls, out)
		sess.AddMessage(message.RoleUser, resultBlocks)
		if err := sess.Save(); err != nil {
			slog.Warn("agent: save session after tool results", "session", sess.ID, "error", err)
		}

		// Injection point D: after all tools (or an urgent abandonment),
		// before re-looping.
		e.applyInterrupt(sess, st)

		if abandoned {
			break
		}

		e.maybeCompact(ctx, sess, st, prov, out)
	}

	out <- message.StreamEvent{Kind: message.EventTurnDone}
}

// drainStream consumes one provider response, forwarding every event
// downstream while accumulating the assistant message's content blocks
// and any tool calls requested. Returns stopped=true if the stream ended
// in error or the context was cancelled before a MessageEnd arrived.
func (e *Engine) drainStream(ctx context.Context, events <-chan message.StreamEvent, st *sessionState, out chan<- message.StreamEvent) ([]message.ContentBlock, []message.ToolCall, bool) {
	var blocks []message.ContentBlock
	var textBuf string
	var calls []message.ToolCall

	type pendingCall struct {
		id, name string
		inputBuf string
	}
	var current *pendingCall

	flushText := func() {
		if textBuf != "" {
			blocks = append(blocks, message.Text(textBuf))
			textBuf = ""
		}
	}

	for ev := range events {
		select {
		case <-ctx.Done():
			return blocks, calls, true
		default:
		}

		switch ev.Kind {
		case message.EventTextDelta:
			textBuf += ev.TextDelta
			out <- ev
		case message.EventToolUseStart:
			flushText()
			current = &pendingCall{id: ev.ToolID, name: ev.ToolName}
			out <- ev
		case message.EventToolInputDelta:
			if current != nil {
				current.inputBuf += ev.ToolInputDelta
			}
			out <- ev
		case message.EventToolUseEnd:
			if current != nil {
				input := json.RawMessage(current.inputBuf)
				if len(input) == 0 {
					input = json.RawMessage("{}")
				}
				calls = append(calls, message.ToolCall{ID: current.id, Name: current.name, Input: input})
				blocks = append(blocks, message.ToolUse(current.id, current.name, input))
				current = nil
			}
			out <- ev
		case message.EventTokenUsage:
			if ev.Usage != nil {
				st.compactor.ObserveTokens(int(ev.Usage.InputTokens))
			}
			out <- ev
		case message.EventMessageEnd:
			flushText()
			out <- ev
			return blocks, calls, false
		case message.EventError:
			flushText()
			out <- ev
			return blocks, calls, true
		default:
			out <- ev
		}
	}

	flushText()
	return blocks, calls, false
}

// executeTools runs each requested tool in order. Before each call it
// checks for cancellation and for an urgent interrupt (injection point C);
// either one abandons whatever calls remain.
func (e *Engine) executeTools(ctx context.Context, sess *store.Session, st *sessionState, calls []message.ToolCall, out chan<- message.StreamEvent) ([]message.ContentBlock, bool) {
	var results []message.ContentBlock

	for i, call := range calls {
		if ctx.Err() != nil {
			// Cancelled: dispatch nothing further this turn.
			for _, skipped := range calls[i:] {
				results = append(results, message.ToolResult(skipped.ID, "skipped: turn cancelled", true))
			}
			return results, true
		}

		if in, ok := st.interrupts.Drain(); ok {
			if in.Urgent {
				// Urgent: abandon this and every remaining queued call.
				for _, skipped := range calls[i:] {
					results = append(results, message.ToolResult(skipped.ID, "skipped: interrupted by user", true))
				}
				sess.AddMessage(message.RoleUser, []message.ContentBlock{message.Text(in.Text)})
				return results, true
			}
			st.interrupts.Send(in) // not urgent: put it back for point D
		}

		allowed := true
		for _, h := range e.hooks {
			if !h.PreTool(ctx, sess.ID, call) {
				allowed = false
				break
			}
		}
		if !allowed {
			results = append(results, message.ToolResult(call.ID, "blocked by hook", true))
			continue
		}

		out <- message.StreamEvent{Kind: message.EventToolExecStart, ToolID: call.ID, ToolName: call.Name}

		var args map[string]any
		if err := json.Unmarshal(call.Input, &args); err != nil {
			args = map[string]any{}
		}
		res, err := e.registry.Execute(ctx, call.Name, args)
		if err != nil {
			res = tools.NewErrorResult(err.Error())
		}

		out <- message.StreamEvent{Kind: message.EventToolExecDone, ToolID: call.ID, ToolName: call.Name}
		results = append(results, message.ToolResult(call.ID, res.Content, res.IsError))
	}

	return results, false
}

// applyInterrupt folds in a pending interrupt, urgent or not, as an extra
// user message, used at pause points A, B, and D.
func (e *Engine) applyInterrupt(sess *store.Session, st *sessionState) {
	in, ok := st.interrupts.Drain()
	if !ok {
		return
	}
	sess.AddMessage(message.RoleUser, []message.ContentBlock{message.Text(in.Text)})
}

func (e *Engine) maybeCompact(ctx context.Context, sess *store.Session, st *sessionState, prov llm.Provider, out chan<- message.StreamEvent) {
	active := sess.MessagesForProvider()
	if st.compactor.PollApply() {
		out <- message.StreamEvent{Kind: message.EventCompacted}
	}

	completer, ok := prov.(compaction.SimpleCompleter)
	if !ok {
		return
	}
	if !st.compactor.NeedsCompaction(active) {
		return
	}
	out <- message.StreamEvent{Kind: message.EventCompacting}
	st.compactor.MaybeStart(ctx, active, completer)
}
