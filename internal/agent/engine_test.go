package agent

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/1jehuang/jcode-sub000/internal/llm"
	"github.com/1jehuang/jcode-sub000/internal/message"
	"github.com/1jehuang/jcode-sub000/internal/store"
	"github.com/1jehuang/jcode-sub000/internal/tools"
)

// fakeProvider replays a fixed sequence of turns, each a slice of
// StreamEvents, one turn consumed per Complete call.
type fakeProvider struct {
	turns [][]message.StreamEvent
	calls int
}

func (p *fakeProvider) Complete(ctx context.Context, req llm.ChatRequest) (<-chan message.StreamEvent, error) {
	turn := p.turns[p.calls]
	p.calls++
	ch := make(chan message.StreamEvent, len(turn))
	for _, ev := range turn {
		ch <- ev
	}
	close(ch)
	return ch, nil
}

func (p *fakeProvider) Name() string              { return "fake" }
func (p *fakeProvider) Model() string              { return "fake-model" }
func (p *fakeProvider) SetModel(string) error      { return nil }
func (p *fakeProvider) AvailableModels() []string  { return nil }

type fakeTool struct {
	name string
	fn   func(ctx context.Context, args map[string]any) (tools.ToolResult, error)
}

func (f *fakeTool) Name() string               { return f.name }
func (f *fakeTool) Description() string        { return "test tool" }
func (f *fakeTool) Parameters() map[string]any  { return map[string]any{"type": "object"} }
func (f *fakeTool) Execute(ctx context.Context, args map[string]any) (tools.ToolResult, error) {
	return f.fn(ctx, args)
}

func TestEngineSingleTurnNoTools(t *testing.T) {
	dir := t.TempDir()
	st := store.New(dir)
	sess := st.Create(nil, nil)
	require.NoError(t, sess.Save())

	reg := tools.NewRegistry()
	eng := New(st, reg, nil, "system prompt")

	prov := &fakeProvider{
		turns: [][]message.StreamEvent{
			{
				{Kind: message.EventTextDelta, TextDelta: "hello"},
				{Kind: message.EventMessageEnd},
			},
		},
	}

	ch, err := eng.RunTurn(context.Background(), sess.ID, "hi", prov)
	require.NoError(t, err)

	var sawText, sawDone bool
	for ev := range ch {
		if ev.Kind == message.EventTextDelta {
			sawText = true
		}
		if ev.Kind == message.EventTurnDone {
			sawDone = true
		}
	}
	require.True(t, sawText)
	require.True(t, sawDone)

	reloaded, err := st.Load(sess.ID)
	require.NoError(t, err)
	require.Len(t, reloaded.Messages, 2) // user + assistant
}

func TestEngineRunsToolAndLoops(t *testing.T) {
	dir := t.TempDir()
	st := store.New(dir)
	sess := st.Create(nil, nil)
	require.NoError(t, sess.Save())

	reg := tools.NewRegistry()
	var executed bool
	reg.MustRegister(&fakeTool{
		name: "echo",
		fn: func(ctx context.Context, args map[string]any) (tools.ToolResult, error) {
			executed = true
			return tools.NewSuccessResult("echoed"), nil
		},
	})

	eng := New(st, reg, nil, "system")

	input, _ := json.Marshal(map[string]any{"text": "hi"})
	prov := &fakeProvider{
		turns: [][]message.StreamEvent{
			{
				{Kind: message.EventToolUseStart, ToolID: "call_1", ToolName: "echo"},
				{Kind: message.EventToolInputDelta, ToolInputDelta: string(input)},
				{Kind: message.EventToolUseEnd},
				{Kind: message.EventMessageEnd},
			},
			{
				{Kind: message.EventTextDelta, TextDelta: "done"},
				{Kind: message.EventMessageEnd},
			},
		},
	}

	ch, err := eng.RunTurn(context.Background(), sess.ID, "go", prov)
	require.NoError(t, err)
	for range ch {
	}

	require.True(t, executed)
	require.Equal(t, 2, prov.calls)

	reloaded, err := st.Load(sess.ID)
	require.NoError(t, err)
	// user, assistant(tool_use), user(tool_result), assistant(text)
	require.Len(t, reloaded.Messages, 4)
}

func TestEngineInterruptInjectsMessage(t *testing.T) {
	dir := t.TempDir()
	st := store.New(dir)
	sess := st.Create(nil, nil)
	require.NoError(t, sess.Save())

	reg := tools.NewRegistry()
	eng := New(st, reg, nil, "system")

	prov := &fakeProvider{
		turns: [][]message.StreamEvent{
			{
				{Kind: message.EventTextDelta, TextDelta: "working"},
				{Kind: message.EventMessageEnd},
			},
		},
	}

	eng.Interrupt(sess.ID, Interrupt{Text: "placeholder"}) // no-op, no turn running yet

	ch, err := eng.RunTurn(context.Background(), sess.ID, "hi", prov)
	require.NoError(t, err)
	eng.Interrupt(sess.ID, Interrupt{Text: "also check the tests"})
	for range ch {
	}

	reloaded, err := st.Load(sess.ID)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(reloaded.Messages), 2)
}
