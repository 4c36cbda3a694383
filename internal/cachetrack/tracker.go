// Package cachetrack detects violations of the append-only prompt-cache
// property for providers that silently drop cache hits when the prefix
// sent to the model changes between turns.
package cachetrack

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/1jehuang/jcode-sub000/internal/message"
)

// maxHistory bounds the hash_history ring buffer.
const maxHistory = 10

// Violation describes a single append-only property break.
type Violation struct {
	Turn         uint32
	MessageCount int
	ExpectedHash string
	ActualHash   string
	Reason       string
}

// Tracker records message-prefix hashes across turns and reports
// append-only violations. Not safe for concurrent use; callers serialize
// per-session access (the turn engine already does this).
type Tracker struct {
	previousPrefixHash  string
	previousMessageCount int
	turnCount           uint32
	hashHistory         []string
	lastViolation       *Violation
}

// New returns a fresh Tracker.
func New() *Tracker {
	return &Tracker{}
}

// computeHash hashes role + stable content-block serialization for every
// message, returning the first 16 hex chars of the SHA-256 digest.
func computeHash(messages []message.Message) string {
	h := sha256.New()
	for _, m := range messages {
		fmt.Fprintf(h, "%s", m.Role)
		for _, b := range m.Content {
			fmt.Fprintf(h, "%s|%s|%s|%s|%s|%s|%v",
				b.Type, b.Text, b.ID, b.Name, string(b.Input), b.ToolUseID+b.Content, b.IsError)
		}
	}
	sum := h.Sum(nil)
	return hex.EncodeToString(sum[:8])
}

func (t *Tracker) pushHistory(hash string) {
	t.hashHistory = append(t.hashHistory, hash)
	if len(t.hashHistory) > maxHistory {
		t.hashHistory = t.hashHistory[1:]
	}
}

// RecordRequest records the exact message sequence about to be sent to
// the provider and returns a Violation if the append-only property was
// broken since the previous call.
//
// Callers MUST invoke this before sending the request, with the same
// sequence that will be sent — ephemeral suffixes (relevant-memory
// injection, etc.) must be excluded or every later turn false-positives.
func (t *Tracker) RecordRequest(messages []message.Message) *Violation {
	t.turnCount++

	if t.turnCount == 1 || t.previousPrefixHash == "" {
		hash := computeHash(messages)
		t.previousPrefixHash = hash
		t.previousMessageCount = len(messages)
		t.pushHistory(hash)
		t.lastViolation = nil
		return nil
	}

	previousHash := t.previousPrefixHash
	previousCount := t.previousMessageCount

	if len(messages) < previousCount {
		currentHash := computeHash(messages)
		v := &Violation{
			Turn:         t.turnCount,
			MessageCount: len(messages),
			ExpectedHash: previousHash,
			ActualHash:   currentHash,
			Reason: fmt.Sprintf("Messages removed: had %d messages, now have %d",
				previousCount, len(messages)),
		}
		t.previousPrefixHash = currentHash
		t.previousMessageCount = len(messages)
		t.pushHistory(currentHash)
		t.lastViolation = v
		return v
	}

	prefix := messages[:previousCount]
	prefixHash := computeHash(prefix)

	if prefixHash != previousHash {
		fullHash := computeHash(messages)
		v := &Violation{
			Turn:         t.turnCount,
			MessageCount: len(messages),
			ExpectedHash: previousHash,
			ActualHash:   prefixHash,
			Reason: fmt.Sprintf("Prefix modified: first %d messages changed (hash %s -> %s)",
				previousCount, previousHash, prefixHash),
		}
		t.previousPrefixHash = fullHash
		t.previousMessageCount = len(messages)
		t.pushHistory(fullHash)
		t.lastViolation = v
		return v
	}

	fullHash := computeHash(messages)
	t.previousPrefixHash = fullHash
	t.previousMessageCount = len(messages)
	t.pushHistory(fullHash)
	t.lastViolation = nil
	return nil
}

// LastViolation returns the violation recorded on the most recent call to
// RecordRequest, or nil if there was none.
func (t *Tracker) LastViolation() *Violation { return t.lastViolation }

// TurnCount returns the number of completed record_request cycles.
func (t *Tracker) TurnCount() uint32 { return t.turnCount }

// HadViolation reports whether the last RecordRequest call found a
// violation.
func (t *Tracker) HadViolation() bool { return t.lastViolation != nil }

// Reset clears all tracked state. Call on model change or after
// compaction rewrites the message prefix out from under the tracker.
func (t *Tracker) Reset() {
	t.previousPrefixHash = ""
	t.previousMessageCount = 0
	t.turnCount = 0
	t.hashHistory = nil
	t.lastViolation = nil
}
