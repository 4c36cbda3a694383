package builtin

import (
	"context"
	"fmt"

	"github.com/1jehuang/jcode-sub000/internal/tools"
)

// TaskRunner executes one isolated sub-agent turn to completion and
// returns its final assistant text. jcoded wires this to a real
// agent.Engine/store.Store/llm.Pool triple at startup (see cmd/jcoded);
// until SetTaskRunner is called the task tool reports itself unavailable
// rather than silently doing nothing.
type TaskRunner func(ctx context.Context, prompt string, allowedTools []string) (string, error)

var taskRunner TaskRunner

// SetTaskRunner installs the function the task tool delegates to.
func SetTaskRunner(r TaskRunner) {
	taskRunner = r
}

// TaskArgs defines the parameters for the task tool.
type TaskArgs struct {
	Description string   `json:"description" jsonschema:"description=Short (3-5 word) summary of the task, shown in logs,required"`
	Prompt      string   `json:"prompt" jsonschema:"description=The complete task for the sub-agent to carry out. Include every detail it needs: it starts with no context beyond this prompt.,required"`
	Tools       []string `json:"tools" jsonschema:"description=Optional allow-list of tool names the sub-agent may use. Omit to grant every tool except task itself."`
}

// TaskTool delegates a self-contained unit of work to a sub-agent running
// in its own session, with its own (optionally restricted) tool set.
type TaskTool struct {
	tools.BaseTool
}

// NewTaskTool creates a new task tool.
func NewTaskTool() *TaskTool {
	return &TaskTool{
		BaseTool: tools.BaseTool{
			ToolName: "task",
			ToolDescription: `Delegate a self-contained unit of work to a sub-agent.

Use this when a piece of work can be described completely up front and doesn't
need the rest of this conversation's context: searching a codebase for
something specific, running a multi-step verification, or any task whose
result you just need the final answer from.

The sub-agent runs in its own session with no access to this conversation's
history beyond the prompt you give it. It can use the same tools you do
(or a restricted subset via the 'tools' parameter) and returns only its
final text response, not a transcript of every step it took.`,
			ToolParameters: tools.BuildSchema(TaskArgs{}),
		},
	}
}

// Execute runs the sub-agent turn to completion and returns its final text.
func (t *TaskTool) Execute(ctx context.Context, args map[string]any) (tools.ToolResult, error) {
	if taskRunner == nil {
		return tools.NewErrorResult("task tool is not wired to a sub-agent runner"), nil
	}

	prompt, _ := args["prompt"].(string)
	if prompt == "" {
		return tools.ToolResult{}, tools.NewInvalidArgsError(t.Name(), "prompt is required", nil)
	}

	var allowed []string
	if raw, ok := args["tools"].([]any); ok {
		for _, v := range raw {
			if s, ok := v.(string); ok {
				allowed = append(allowed, s)
			}
		}
	}

	result, err := taskRunner(ctx, prompt, allowed)
	if err != nil {
		return tools.NewErrorResult(fmt.Sprintf("sub-agent task failed: %v", err)), nil
	}
	return tools.NewSuccessResult(result), nil
}
