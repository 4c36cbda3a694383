package compaction

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/1jehuang/jcode-sub000/internal/message"
)

// SimpleCompleter is the subset of the provider interface compaction
// needs: a non-streaming completion call used for background
// summarization.
type SimpleCompleter interface {
	CompleteSimple(ctx context.Context, prompt, system string) (string, error)
	ContextWindow() int
}

// Manager tracks a single session's compaction state: how many of the
// full message history have been folded into ActiveSummary, and the
// in-flight background summarization task, if any.
type Manager struct {
	cfg     Config
	counter *TokenCounter

	mu             sync.Mutex
	compactedCount int
	activeSummary  string
	observedTokens int

	pending int32 // atomic: 1 while a background summarization task is in flight
}

// NewManager returns a Manager for one session.
func NewManager(cfg Config) *Manager {
	return &Manager{cfg: cfg, counter: NewTokenCounter()}
}

// CompactedCount returns how many of the caller's full message slice have
// already been folded into the active summary.
func (m *Manager) CompactedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.compactedCount
}

// ObserveTokens records the provider-reported input token count for the
// most recent turn, used as the "observed" half of the effective-token
// calculation.
func (m *Manager) ObserveTokens(input int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observedTokens = input
}

// effectiveTokens is max(heuristic estimate, observed input tokens).
func (m *Manager) effectiveTokens(active []message.Message) int {
	heuristic := m.counter.EstimateMessages(active)
	m.mu.Lock()
	observed := m.observedTokens
	m.mu.Unlock()
	if observed > heuristic {
		return observed
	}
	return heuristic
}

// NeedsCompaction reports whether the automatic trigger threshold has
// been crossed: effective tokens at or above 80% of the context window,
// no compaction already pending, and more than recentToKeep uncompacted
// messages.
func (m *Manager) NeedsCompaction(active []message.Message) bool {
	if atomic.LoadInt32(&m.pending) == 1 {
		return false
	}
	if len(active) <= recentToKeep {
		return false
	}
	effective := m.effectiveTokens(active)
	threshold := int(float64(m.cfg.ContextWindow) * autoThresholdFraction)
	return effective >= threshold
}

// CanManualTrigger reports whether a manual compaction request should be
// honored: effective tokens above manualMinFraction of budget.
func (m *Manager) CanManualTrigger(active []message.Message) bool {
	effective := m.effectiveTokens(active)
	minTokens := int(float64(m.cfg.ContextWindow) * manualMinFraction)
	return effective >= minTokens
}

// SelectCutoff implements the tool-pair-preserving cutoff selection
// algorithm: starting from len(active)-recentToKeep, walk backward until
// every ToolUse referenced by a ToolResult in the kept tail is also
// present in the kept tail.
func SelectCutoff(active []message.Message) (int, error) {
	if len(active) <= recentToKeep {
		return 0, ErrMessagesTooShort
	}

	cutoff := len(active) - recentToKeep

	for {
		tailResultIDs := map[string]bool{}
		tailUseIDs := map[string]bool{}
		for _, m := range active[cutoff:] {
			for _, id := range m.ToolResultIDs() {
				tailResultIDs[id] = true
			}
			for _, id := range m.ToolUseIDs() {
				tailUseIDs[id] = true
			}
		}

		missing := map[string]bool{}
		for id := range tailResultIDs {
			if !tailUseIDs[id] {
				missing[id] = true
			}
		}
		if len(missing) == 0 {
			return cutoff, nil
		}

		newCutoff := -1
		for i := cutoff - 1; i >= 0; i-- {
			m := active[i]
			found := false
			for _, id := range m.ToolUseIDs() {
				if missing[id] {
					found = true
					break
				}
			}
			if !found {
				for _, id := range m.ToolResultIDs() {
					if missing[id] {
						found = true
						break
					}
				}
			}
			if found {
				newCutoff = i
				break
			}
		}
		if newCutoff < 0 {
			return 0, ErrWouldSplitToolPairs
		}
		cutoff = newCutoff
	}
}

// CompactionResult is what a successful background or hard compaction
// produces for the turn engine to apply.
type CompactionResult struct {
	CompactedCount int
	Summary        string
}

// MaybeStart launches a background summarization task if one isn't
// already in flight and NeedsCompaction holds. It is non-blocking: the
// caller polls PollApply on a later turn to pick up the result.
func (m *Manager) MaybeStart(ctx context.Context, active []message.Message, prov SimpleCompleter) {
	if !m.NeedsCompaction(active) {
		return
	}
	if !atomic.CompareAndSwapInt32(&m.pending, 0, 1) {
		return
	}

	go func() {
		defer atomic.StoreInt32(&m.pending, 0)
		defer func() {
			if r := recover(); r != nil {
				slog.Error("compaction: background summarization panicked", "panic", r)
			}
		}()

		result, err := m.summarize(ctx, active, prov)
		if err != nil {
			slog.Warn("compaction: background summarization failed", "err", err)
			return
		}

		m.mu.Lock()
		m.compactedCount = result.CompactedCount
		m.activeSummary = result.Summary
		m.observedTokens = 0
		m.mu.Unlock()
	}()
}

// PollApply is a no-op placeholder for callers that want an explicit,
// named point between turns to "apply" compaction results. Because
// MaybeStart already applies results under mu as soon as they're ready,
// PollApply simply reports whether a task is currently pending.
func (m *Manager) PollApply() (pending bool) {
	return atomic.LoadInt32(&m.pending) == 1
}

func (m *Manager) summarize(ctx context.Context, active []message.Message, prov SimpleCompleter) (CompactionResult, error) {
	if prov == nil {
		return CompactionResult{}, ErrNoProvider
	}

	cutoff, err := SelectCutoff(active)
	if err != nil {
		return CompactionResult{}, err
	}

	toSummarize := active[:cutoff]

	budget := prov.ContextWindow()*4 - summaryReserveTokens*4
	if budget < 0 {
		budget = 0
	}

	m.mu.Lock()
	previous := m.activeSummary
	m.mu.Unlock()

	text := formatForSummary(toSummarize)
	if previous != "" {
		text = previous + "\n\n---\n\n" + text
	}
	if len(text) > budget {
		text = text[:budget]
	}

	prompt := text + "\n\n" + m.cfg.SummaryPrompt
	summary, err := prov.CompleteSimple(ctx, prompt, m.cfg.SummarySystemPrompt)
	if err != nil {
		return CompactionResult{}, fmt.Errorf("%w: %v", ErrSummaryFailed, err)
	}

	return CompactionResult{CompactedCount: cutoff, Summary: summary}, nil
}

func formatForSummary(msgs []message.Message) string {
	var b strings.Builder
	for _, m := range msgs {
		b.WriteString(string(m.Role))
		b.WriteString(": ")
		b.WriteString(m.PlainText())
		b.WriteString("\n")
	}
	return b.String()
}

// HardCompact performs synchronous, non-LLM emergency compaction: it
// reuses the same tool-pair-preserving cutoff, but builds the summary
// locally from a drop report instead of calling the model. Used when an
// upstream context-overflow error must be recovered from immediately.
func (m *Manager) HardCompact(active []message.Message) (CompactionResult, error) {
	cutoff, err := SelectCutoff(active)
	if err != nil {
		return CompactionResult{}, err
	}

	dropped := active[:cutoff]
	report := buildDropReport(dropped)

	m.mu.Lock()
	previous := m.activeSummary
	m.mu.Unlock()

	summary := report
	if previous != "" {
		summary = previous + "\n\n" + report
	}

	m.mu.Lock()
	m.compactedCount = cutoff
	m.activeSummary = summary
	m.observedTokens = 0
	m.mu.Unlock()

	return CompactionResult{CompactedCount: cutoff, Summary: summary}, nil
}

func buildDropReport(dropped []message.Message) string {
	toolNames := map[string]bool{}
	filePaths := map[string]bool{}

	for _, m := range dropped {
		for _, b := range m.Content {
			if b.Type == message.BlockToolUse {
				toolNames[b.Name] = true
			}
			for _, path := range extractFilePaths(b.Text + " " + b.Content + " " + string(b.Input)) {
				filePaths[path] = true
			}
		}
	}

	names := sortedKeys(toolNames)
	paths := sortedKeys(filePaths)
	if len(paths) > maxDropReportFiles {
		paths = paths[:maxDropReportFiles]
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Dropped %d messages.", len(dropped))
	if len(names) > 0 {
		fmt.Fprintf(&b, " Tools used: %s.", strings.Join(names, ", "))
	}
	if len(paths) > 0 {
		fmt.Fprintf(&b, " Files mentioned: %s.", strings.Join(paths, ", "))
	}
	return b.String()
}

func sortedKeys(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// extractFilePaths is a narrow heuristic: any whitespace-delimited token
// that looks like a path (contains a slash or a common source extension).
func extractFilePaths(text string) []string {
	var out []string
	for _, tok := range strings.Fields(text) {
		tok = strings.Trim(tok, `"',.;:()[]{}`)
		if tok == "" {
			continue
		}
		if strings.Contains(tok, "/") || hasSourceExt(tok) {
			out = append(out, tok)
		}
	}
	return out
}

func hasSourceExt(tok string) bool {
	for _, ext := range []string{".go", ".rs", ".ts", ".tsx", ".js", ".py", ".md", ".json", ".yaml", ".yml"} {
		if strings.HasSuffix(tok, ext) {
			return true
		}
	}
	return false
}

// MessagesForAPI builds the payload shipped to the provider: if a summary
// exists, prepend a single synthetic User message carrying it, then
// append full[compactedCount:]. Stateless with respect to full's
// ownership — it never mutates full.
func (m *Manager) MessagesForAPI(full []message.Message) []message.Message {
	m.mu.Lock()
	summary := m.activeSummary
	compacted := m.compactedCount
	m.mu.Unlock()

	if compacted > len(full) {
		compacted = len(full)
	}

	tail := full[compacted:]
	if summary == "" {
		out := make([]message.Message, len(tail))
		copy(out, tail)
		return out
	}

	out := make([]message.Message, 0, len(tail)+1)
	out = append(out, message.NewUserMessage("Conversation summary (earlier history was compacted):\n\n"+summary))
	out = append(out, tail...)
	return out
}

// Reset clears all compaction state, e.g. on session clear.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.compactedCount = 0
	m.activeSummary = ""
	m.observedTokens = 0
}
