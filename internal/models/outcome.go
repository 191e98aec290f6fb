// Package models defines state machine outcomes for conversation advancement.
package models

// OutcomeKind discriminates the result of advancing a conversation.
type OutcomeKind string

const (
	// OutcomeTransitioned means the user's reply matched an option and the
	// conversation moved to the next block (or the funnel end, when
	// NextBlockID is empty).
	OutcomeTransitioned OutcomeKind = "transitioned"
	// OutcomeEscalated means the reply was invalid and an escalation ladder
	// message should be sent.
	OutcomeEscalated OutcomeKind = "escalated"
	// OutcomeAbandoned means the escalation ladder was exhausted and the
	// conversation must be abandoned.
	OutcomeAbandoned OutcomeKind = "abandoned"
	// OutcomeFailed means the machine could not advance at all.
	OutcomeFailed OutcomeKind = "failed"
)

// Outcome is the result of one ConversationStateMachine advance. Exactly the
// fields relevant to Kind are populated.
type Outcome struct {
	Kind OutcomeKind `json:"kind"`

	// Transitioned fields. An empty NextBlockID on a transitioned outcome
	// means the funnel ended; callers mark the conversation completed rather
	// than treating it as an error.
	NextBlockID     string `json:"next_block_id,omitempty"`
	SelectedOption  string `json:"selected_option,omitempty"`
	BotMessage      string `json:"bot_message,omitempty"`
	PhaseTransition Phase  `json:"phase_transition,omitempty"`
	// Phase2Entered is set when the transition crossed PHASE1 -> PHASE2;
	// callers stamp phase2_start_time atomically with the block transition.
	Phase2Entered bool `json:"phase2_entered,omitempty"`
	// StopMonitoring is set when the new block lies in the TRANSITION stage
	// or the funnel ended; the polling session must stop after sending
	// BotMessage (send-then-stop).
	StopMonitoring bool `json:"stop_monitoring,omitempty"`

	// Escalated fields.
	EscalationLevel int `json:"escalation_level,omitempty"`

	// Abandoned fields.
	Reason string `json:"reason,omitempty"`

	// Failed fields.
	ErrorKind ErrorKind `json:"error_kind,omitempty"`
}

// IsTerminal reports whether the outcome ends the conversation.
func (o Outcome) IsTerminal() bool {
	switch o.Kind {
	case OutcomeAbandoned:
		return true
	case OutcomeTransitioned:
		return o.NextBlockID == ""
	default:
		return false
	}
}
