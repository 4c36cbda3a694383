package compaction

const (
	// recentToKeep is the number of trailing messages the cutoff
	// selection never considers for removal.
	recentToKeep = 10

	// summaryReserveTokens is subtracted from a provider's context window
	// before pre-truncating conversation text for the summarization
	// prompt, leaving headroom for the summary instruction and response.
	summaryReserveTokens = 4000

	// manualMinFraction is the minimum fraction of budget above which a
	// manual compaction trigger is honored even if the automatic
	// threshold hasn't been reached.
	manualMinFraction = 0.10

	// autoThresholdFraction is the fraction of budget at which
	// compaction triggers automatically.
	autoThresholdFraction = 0.80

	// maxDropReportFiles bounds the number of unique file paths surfaced
	// in a hard-compaction drop report.
	maxDropReportFiles = 30
)

// Config tunes a Manager's trigger policy and context-window budget.
type Config struct {
	// ContextWindow is the provider's context size in tokens, used both
	// for the trigger threshold and to pre-truncate summarization input.
	ContextWindow int

	// SummaryPrompt is the fixed instruction sent to the provider for
	// background summarization.
	SummaryPrompt string

	// SummarySystemPrompt is the system prompt paired with SummaryPrompt.
	SummarySystemPrompt string
}

const defaultSummaryPrompt = `Summarize the conversation above so it can replace the full history. Use these sections:

Context: what the user is trying to accomplish.
What we did: concrete actions taken and their outcomes.
Current state: where things stand right now.
User preferences: any stated preferences or constraints to keep honoring.

Be concise. Do not include conversational filler.`

const defaultSummarySystemPrompt = `You are producing a compaction summary of a coding-agent conversation. Output only the structured summary, no preamble.`

// DefaultConfig returns a Config with the specification's default
// thresholds and prompt text.
func DefaultConfig(contextWindow int) Config {
	return Config{
		ContextWindow:        contextWindow,
		SummaryPrompt:        defaultSummaryPrompt,
		SummarySystemPrompt:  defaultSummarySystemPrompt,
	}
}
