package funnel

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/MichaelRobotics/Hustler-sub005/internal/models"
)

// Escalation ladder texts. Level 1 repeats the option list, level 2 warns
// that a human is being looped in, level 3 is the terminal notice sent right
// before the conversation is abandoned.
const (
	escalationRepeatPrefix = "I didn't catch that. Please reply with one of the options below:"
	escalationOwnerNotice  = "I'm still not sure what you meant, so I've notified the owner to step in. In the meantime, you can pick one of these options:"
	escalationFinalNotice  = "It looks like we're not getting anywhere, so I'll pause here. The owner has been notified and will reach out to you directly."
)

// StateMachine orchestrates one conversation's transition from its current
// block to the next. It combines the phase classifier, response matcher, and
// escalation tracker, and emits side-effect instructions in the Outcome; it
// holds no conversation storage and touches no scheduler.
type StateMachine struct {
	matcher *Matcher
	tracker *EscalationTracker
}

// NewStateMachine creates a StateMachine with the given matcher and tracker.
func NewStateMachine(matcher *Matcher, tracker *EscalationTracker) *StateMachine {
	slog.Debug("Creating StateMachine", "strictness", matcher.Strictness())
	return &StateMachine{matcher: matcher, tracker: tracker}
}

// Tracker exposes the escalation tracker so owners can clear state when a
// conversation terminates outside the machine (e.g., the timeout reaper).
func (sm *StateMachine) Tracker() *EscalationTracker {
	return sm.tracker
}

// Advance processes one user reply for the conversation against the graph
// and returns the resulting outcome. All persistence and message delivery is
// left to the caller, driven by the outcome fields.
func (sm *StateMachine) Advance(conv *models.Conversation, graph *models.FunnelGraph, userText string) models.Outcome {
	currentBlock, ok := graph.Block(conv.CurrentBlockID)
	if !ok {
		slog.Error("StateMachine current block not found", "conversationID", conv.ID, "blockID", conv.CurrentBlockID)
		return models.Outcome{Kind: models.OutcomeFailed, ErrorKind: models.ErrorKindNotFound}
	}

	result := sm.matcher.Match(userText, currentBlock)
	if !result.Matched {
		return sm.escalate(conv, currentBlock)
	}

	sm.tracker.RecordValid(conv.ID)

	nextBlockID := result.Option.NextBlockID
	oldPhase := PhaseForBlock(conv.CurrentBlockID, graph)
	newPhase := PhaseForBlock(nextBlockID, graph)

	outcome := models.Outcome{
		Kind:           models.OutcomeTransitioned,
		NextBlockID:    nextBlockID,
		SelectedOption: result.Option.Text,
	}

	if nextBlockID == "" {
		// Terminal edge: no further navigation. The caller marks the
		// conversation completed and stops any polling session.
		outcome.StopMonitoring = true
		slog.Info("StateMachine reached funnel end", "conversationID", conv.ID, "fromBlock", conv.CurrentBlockID)
		return outcome
	}

	nextBlock, ok := graph.Block(nextBlockID)
	if !ok {
		slog.Error("StateMachine next block not found", "conversationID", conv.ID, "blockID", nextBlockID)
		return models.Outcome{Kind: models.OutcomeFailed, ErrorKind: models.ErrorKindNotFound}
	}
	outcome.BotMessage = FormatBlockMessage(nextBlock)

	if oldPhase != newPhase {
		outcome.PhaseTransition = newPhase
		if oldPhase == models.PhaseOne && newPhase == models.PhaseTwo {
			outcome.Phase2Entered = true
		}
		slog.Info("StateMachine phase transition", "conversationID", conv.ID, "from", oldPhase, "to", newPhase)
	}
	if newPhase == models.PhaseTransition {
		// Send-then-stop: the caller delivers BotMessage first, then stops
		// the polling session.
		outcome.StopMonitoring = true
	}

	slog.Debug("StateMachine transitioned", "conversationID", conv.ID, "from", conv.CurrentBlockID, "to", nextBlockID)
	return outcome
}

// escalate records an invalid response and returns either an escalation
// ladder message or, at the terminal level, an abandonment instruction.
func (sm *StateMachine) escalate(conv *models.Conversation, block models.Block) models.Outcome {
	level := sm.tracker.RecordInvalid(conv.ID)
	if level >= MaxEscalationLevel {
		sm.tracker.Clear(conv.ID)
		slog.Info("StateMachine escalation exhausted", "conversationID", conv.ID)
		return models.Outcome{
			Kind:       models.OutcomeAbandoned,
			Reason:     models.AbandonReasonMaxInvalidResponses,
			BotMessage: escalationFinalNotice,
		}
	}

	var msg string
	switch level {
	case 1:
		msg = joinMessageAndOptions(escalationRepeatPrefix, block.Options)
	default:
		msg = joinMessageAndOptions(escalationOwnerNotice, block.Options)
	}

	slog.Debug("StateMachine escalated", "conversationID", conv.ID, "level", level)
	return models.Outcome{Kind: models.OutcomeEscalated, EscalationLevel: level, BotMessage: msg}
}

// FormatBlockMessage renders a block's message with a numbered list of its
// options (1-based) appended when options are present.
func FormatBlockMessage(block models.Block) string {
	return joinMessageAndOptions(block.Message, block.Options)
}

func joinMessageAndOptions(message string, options []models.Option) string {
	if len(options) == 0 {
		return message
	}
	var sb strings.Builder
	sb.WriteString(message)
	for i, opt := range options {
		sb.WriteString(fmt.Sprintf("\n%d. %s", i+1, opt.Text))
	}
	return sb.String()
}
