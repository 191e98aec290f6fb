// Package models defines conversation records tracked by the funnel engine.
package models

import (
	"errors"
	"time"
)

// ConversationStatus represents the lifecycle status of a conversation.
type ConversationStatus string

const (
	// ConversationStatusActive indicates the conversation is in progress.
	ConversationStatusActive ConversationStatus = "active"
	// ConversationStatusCompleted indicates the user reached a funnel end block.
	ConversationStatusCompleted ConversationStatus = "completed"
	// ConversationStatusClosed indicates the conversation was closed externally.
	ConversationStatusClosed ConversationStatus = "closed"
	// ConversationStatusAbandoned indicates the conversation was given up on.
	ConversationStatusAbandoned ConversationStatus = "abandoned"
)

// IsValidConversationStatus checks if the given status is supported.
func IsValidConversationStatus(status ConversationStatus) bool {
	switch status {
	case ConversationStatusActive, ConversationStatusCompleted,
		ConversationStatusClosed, ConversationStatusAbandoned:
		return true
	default:
		return false
	}
}

// Abandonment reason tags recorded when a conversation is abandoned.
const (
	// AbandonReasonMaxInvalidResponses marks escalation ladder exhaustion.
	AbandonReasonMaxInvalidResponses = "max_invalid_responses"
	// AbandonReasonTimeout marks inactivity beyond the reaper threshold.
	AbandonReasonTimeout = "timeout"
)

// Validation errors for conversation records.
var (
	ErrEmptyExperienceID   = errors.New("experience_id cannot be empty")
	ErrEmptyConversationID = errors.New("conversation_id cannot be empty")
	ErrEmptyUserID         = errors.New("user_id cannot be empty")
	ErrEmptyFunnelID       = errors.New("funnel_id cannot be empty")
)

// Conversation is one user's walk through a funnel. ExperienceID is the
// tenant key; all monitoring and rate-limit state is partitioned by it.
// UserPath is append-only and, whenever CurrentBlockID is non-empty, ends
// with CurrentBlockID.
type Conversation struct {
	ID              string             `json:"id"`
	ExperienceID    string             `json:"experience_id"`
	FunnelID        string             `json:"funnel_id"`
	UserID          string             `json:"user_id"`
	Status          ConversationStatus `json:"status"`
	CurrentBlockID  string             `json:"current_block_id,omitempty"`
	UserPath        []string           `json:"user_path"`
	AbandonReason   string             `json:"abandon_reason,omitempty"`
	Phase2StartTime *time.Time         `json:"phase2_start_time,omitempty"`
	CreatedAt       time.Time          `json:"created_at"`
	UpdatedAt       time.Time          `json:"updated_at"`
}

// MessageAuthor identifies who wrote a conversation message.
type MessageAuthor string

const (
	// MessageAuthorUser marks a message written by the end user.
	MessageAuthorUser MessageAuthor = "user"
	// MessageAuthorBot marks a message written by the funnel bot.
	MessageAuthorBot MessageAuthor = "bot"
)

// ConversationMessage is one persisted message in a conversation.
type ConversationMessage struct {
	ID             string        `json:"id"`
	ConversationID string        `json:"conversation_id"`
	Author         MessageAuthor `json:"author"`
	Content        string        `json:"content"`
	CreatedAt      time.Time     `json:"created_at"`
}

// FunnelInteraction records one resolved block transition for analytics.
// Failures writing interactions never abort the state machine.
type FunnelInteraction struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	BlockID        string    `json:"block_id"`
	OptionText     string    `json:"option_text"`
	NextBlockID    string    `json:"next_block_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Funnel milestone tags tracked as best-effort analytics events.
const (
	MilestonePhase2Reached   = "phase2_reached"
	MilestoneTransitionStage = "transition_reached"
	MilestoneFunnelCompleted = "funnel_completed"
)

// InboundMessage is the latest user message observed on the external DM feed.
type InboundMessage struct {
	ID      string    `json:"id"`
	UserID  string    `json:"user_id"`
	Content string    `json:"content"`
	SentAt  time.Time `json:"sent_at"`
}

// Response represents an incoming message pushed by a messaging provider
// (e.g., a webhook), as opposed to one pulled from the DM feed.
type Response struct {
	From string `json:"from"`
	Body string `json:"body"`
	Time int64  `json:"time"`
}
