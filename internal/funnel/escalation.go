package funnel

import (
	"log/slog"
	"sync"
)

// MaxEscalationLevel is the terminal escalation level. Reaching it means the
// caller must abandon the conversation.
const MaxEscalationLevel = 3

// EscalationTracker counts consecutive invalid responses per conversation.
// It is a constructed instance with explicit lifecycle, not a package global,
// so services can own and dispose of their own tracker state. The tracker
// only reports levels; abandonment is the state machine's responsibility.
//
// State is ephemeral and keyed by conversation id; it does not survive
// process restarts.
type EscalationTracker struct {
	mu     sync.Mutex
	levels map[string]int
}

// NewEscalationTracker creates an empty tracker.
func NewEscalationTracker() *EscalationTracker {
	return &EscalationTracker{levels: make(map[string]int)}
}

// RecordInvalid increments the conversation's escalation level and returns
// the new level, clamped to MaxEscalationLevel.
func (t *EscalationTracker) RecordInvalid(conversationID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	level := t.levels[conversationID] + 1
	if level > MaxEscalationLevel {
		level = MaxEscalationLevel
	}
	t.levels[conversationID] = level
	slog.Debug("EscalationTracker recorded invalid response", "conversationID", conversationID, "level", level)
	return level
}

// RecordValid resets the conversation's escalation level to zero.
func (t *EscalationTracker) RecordValid(conversationID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.levels[conversationID]; ok {
		delete(t.levels, conversationID)
		slog.Debug("EscalationTracker reset on valid response", "conversationID", conversationID)
	}
}

// CurrentLevel returns the conversation's current escalation level.
func (t *EscalationTracker) CurrentLevel(conversationID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.levels[conversationID]
}

// Clear removes all state for a conversation. Called on abandonment and when
// a conversation terminates.
func (t *EscalationTracker) Clear(conversationID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.levels, conversationID)
}
