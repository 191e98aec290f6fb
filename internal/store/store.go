// Package store provides storage backends for the funnel engine.
//
// It includes an in-memory store for tests and development, plus SQLite and
// PostgreSQL backends with embedded migrations.
package store

import (
	"strings"
	"time"

	"github.com/MichaelRobotics/Hustler-sub005/internal/models"
)

// Store is the persistence interface consumed by the state machine, the
// monitoring manager, and the timeout reaper. Lookups return (nil, nil) when
// the row is absent; callers translate that to models.ErrConversationNotFound
// where the taxonomy requires it.
type Store interface {
	// Funnels.
	SaveFunnel(f models.Funnel) error
	GetFunnelGraph(funnelID string) (*models.FunnelGraph, error)

	// Conversations.
	CreateConversation(c models.Conversation) error
	GetConversation(experienceID, conversationID string) (*models.Conversation, error)
	FindActiveConversationByUser(experienceID, userID string) (*models.Conversation, error)
	ListActiveConversations() ([]models.Conversation, error)
	ListActiveConversationsOlderThan(cutoff time.Time) ([]models.Conversation, error)
	// UpdateConversationTransition persists a block transition atomically:
	// the new current block, the appended path, and (when the transition
	// crossed into phase 2) the phase2 start time, in one write.
	UpdateConversationTransition(conversationID, nextBlockID string, path []string, phase2Start *time.Time) error
	UpdateConversationStatus(conversationID string, status models.ConversationStatus, reason string) error

	// Messages and analytics.
	AddMessage(m models.ConversationMessage) error
	GetMessages(conversationID string) ([]models.ConversationMessage, error)
	RecordInteraction(i models.FunnelInteraction) error
	// TrackMilestone is best-effort analytics; failures never abort callers.
	TrackMilestone(experienceID, funnelID, milestone string) error

	Close() error
}

// Opts holds configuration options for store backends.
type Opts struct {
	DSN string
}

// Option defines a configuration option for store backends.
type Option func(*Opts)

// WithDSN sets the database DSN (file path for SQLite, URL for Postgres).
func WithDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// DetectDSNType classifies a DSN as "postgres" or "sqlite". PostgreSQL DSNs
// use URL or key=value form; anything else is treated as a SQLite file path.
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") ||
		strings.Contains(dsn, "host=") || strings.Contains(dsn, "dbname=") {
		return "postgres"
	}
	return "sqlite"
}
