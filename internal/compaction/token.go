package compaction

import "github.com/1jehuang/jcode-sub000/internal/message"

// TokenCounter estimates token counts with a 4-characters-per-token
// heuristic. It deliberately does not tokenize: the estimate only needs
// to be good enough to decide when to trigger compaction and how much of
// the conversation fits in a model's context window.
type TokenCounter struct{}

// NewTokenCounter returns a TokenCounter.
func NewTokenCounter() *TokenCounter { return &TokenCounter{} }

// EstimateText estimates the token count of a string.
func (tc *TokenCounter) EstimateText(text string) int {
	if len(text) == 0 {
		return 0
	}
	return (len(text) + 3) / 4
}

// EstimateMessage estimates the token count of a single message,
// including a small per-message role overhead.
func (tc *TokenCounter) EstimateMessage(m message.Message) int {
	total := 4 // role + separators overhead
	for _, b := range m.Content {
		switch b.Type {
		case message.BlockText, message.BlockReasoning:
			total += tc.EstimateText(b.Text)
		case message.BlockToolUse:
			total += tc.EstimateText(b.Name) + tc.EstimateText(string(b.Input))
		case message.BlockToolResult:
			total += tc.EstimateText(b.Content)
		}
	}
	return total
}

// EstimateMessages sums EstimateMessage over a slice.
func (tc *TokenCounter) EstimateMessages(messages []message.Message) int {
	total := 0
	for _, m := range messages {
		total += tc.EstimateMessage(m)
	}
	return total
}
