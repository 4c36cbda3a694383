// Package compaction keeps a conversation's transcript within a
// provider's context window by summarizing or truncating older messages
// while preserving the most recent turns verbatim.
package compaction

import "errors"

var (
	// ErrSummaryFailed indicates the summarization call to the provider failed.
	ErrSummaryFailed = errors.New("compaction: summary generation failed")

	// ErrNoProvider indicates no provider is configured for summarization.
	ErrNoProvider = errors.New("compaction: provider not configured")

	// ErrMessagesTooShort indicates there are not enough messages to compact.
	ErrMessagesTooShort = errors.New("compaction: not enough messages to compact")

	// ErrWouldSplitToolPairs indicates no cutoff exists that keeps every
	// ToolUse/ToolResult pair on the same side of the cut.
	ErrWouldSplitToolPairs = errors.New("compaction: would split tool pairs")
)
