// This file implements the PostgreSQL-backed store.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/MichaelRobotics/Hustler-sub005/internal/models"
	"github.com/google/uuid"
	_ "github.com/lib/pq"
)

//go:embed migrations_postgres.sql
var postgresMigrations string

// PostgresStore is a Store backed by a PostgreSQL database.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL store with the given DSN.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewPostgresStore invoked", "DSN_set", cfg.DSN != "")

	if cfg.DSN == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		slog.Error("Failed to open PostgreSQL connection", "error", err)
		return nil, err
	}
	if err := db.Ping(); err != nil {
		slog.Error("PostgreSQL ping failed", "error", err)
		return nil, err
	}

	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("PostgreSQL migrations applied successfully")

	return &PostgresStore{db: db}, nil
}

// SaveFunnel stores or replaces a funnel and its serialized graph.
func (s *PostgresStore) SaveFunnel(f models.Funnel) error {
	graphJSON, err := json.Marshal(f.Graph)
	if err != nil {
		slog.Error("PostgresStore SaveFunnel marshal failed", "error", err, "funnelID", f.ID)
		return fmt.Errorf("failed to marshal funnel graph: %w", err)
	}
	_, err = s.db.Exec(`INSERT INTO funnels (id, experience_id, name, graph_json) VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET experience_id = $2, name = $3, graph_json = $4`,
		f.ID, f.ExperienceID, f.Name, string(graphJSON))
	if err != nil {
		slog.Error("PostgresStore SaveFunnel failed", "error", err, "funnelID", f.ID)
		return fmt.Errorf("failed to save funnel %s: %w", f.ID, err)
	}
	slog.Debug("PostgresStore SaveFunnel succeeded", "funnelID", f.ID)
	return nil
}

// GetFunnelGraph loads and deserializes a funnel graph, or (nil, nil) if the
// funnel does not exist.
func (s *PostgresStore) GetFunnelGraph(funnelID string) (*models.FunnelGraph, error) {
	var graphJSON string
	err := s.db.QueryRow(`SELECT graph_json FROM funnels WHERE id = $1`, funnelID).Scan(&graphJSON)
	if err == sql.ErrNoRows {
		slog.Debug("PostgresStore GetFunnelGraph not found", "funnelID", funnelID)
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetFunnelGraph failed", "error", err, "funnelID", funnelID)
		return nil, err
	}
	var graph models.FunnelGraph
	if err := json.Unmarshal([]byte(graphJSON), &graph); err != nil {
		slog.Error("PostgresStore GetFunnelGraph unmarshal failed", "error", err, "funnelID", funnelID)
		return nil, fmt.Errorf("failed to unmarshal funnel graph: %w", err)
	}
	return &graph, nil
}

// CreateConversation inserts a new conversation row.
func (s *PostgresStore) CreateConversation(c models.Conversation) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	now := time.Now()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = now
	}
	pathJSON, err := json.Marshal(c.UserPath)
	if err != nil {
		return fmt.Errorf("failed to marshal user path: %w", err)
	}
	_, err = s.db.Exec(`INSERT INTO conversations
		(id, experience_id, funnel_id, user_id, status, current_block_id, user_path, abandon_reason, phase2_start_time, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		c.ID, c.ExperienceID, c.FunnelID, c.UserID, c.Status, nilIfEmpty(c.CurrentBlockID),
		string(pathJSON), nilIfEmpty(c.AbandonReason), c.Phase2StartTime, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		slog.Error("PostgresStore CreateConversation failed", "error", err, "conversationID", c.ID)
		return fmt.Errorf("failed to insert conversation %s: %w", c.ID, err)
	}
	slog.Debug("PostgresStore CreateConversation succeeded", "conversationID", c.ID, "experienceID", c.ExperienceID)
	return nil
}

// GetConversation returns the conversation if it belongs to the tenant.
func (s *PostgresStore) GetConversation(experienceID, conversationID string) (*models.Conversation, error) {
	row := s.db.QueryRow(`SELECT `+conversationColumns+` FROM conversations WHERE id = $1 AND experience_id = $2`,
		conversationID, experienceID)
	return scanConversationRow(row)
}

// FindActiveConversationByUser returns the tenant's active conversation for
// the user, or (nil, nil) if there is none.
func (s *PostgresStore) FindActiveConversationByUser(experienceID, userID string) (*models.Conversation, error) {
	row := s.db.QueryRow(`SELECT `+conversationColumns+` FROM conversations
		WHERE experience_id = $1 AND user_id = $2 AND status = $3 LIMIT 1`,
		experienceID, userID, models.ConversationStatusActive)
	return scanConversationRow(row)
}

// ListActiveConversations returns all active conversations across tenants.
func (s *PostgresStore) ListActiveConversations() ([]models.Conversation, error) {
	rows, err := s.db.Query(`SELECT `+conversationColumns+` FROM conversations WHERE status = $1`,
		models.ConversationStatusActive)
	if err != nil {
		slog.Error("PostgresStore ListActiveConversations failed", "error", err)
		return nil, err
	}
	defer rows.Close()
	return scanConversations(rows)
}

// ListActiveConversationsOlderThan returns active conversations whose
// updated_at predates the cutoff.
func (s *PostgresStore) ListActiveConversationsOlderThan(cutoff time.Time) ([]models.Conversation, error) {
	rows, err := s.db.Query(`SELECT `+conversationColumns+` FROM conversations WHERE status = $1 AND updated_at < $2`,
		models.ConversationStatusActive, cutoff)
	if err != nil {
		slog.Error("PostgresStore ListActiveConversationsOlderThan failed", "error", err)
		return nil, err
	}
	defer rows.Close()
	return scanConversations(rows)
}

// UpdateConversationTransition applies a block transition in one statement so
// the phase2 start time can never disagree with the block it was stamped for.
func (s *PostgresStore) UpdateConversationTransition(conversationID, nextBlockID string, path []string, phase2Start *time.Time) error {
	pathJSON, err := json.Marshal(path)
	if err != nil {
		return fmt.Errorf("failed to marshal user path: %w", err)
	}
	var res sql.Result
	if phase2Start != nil {
		res, err = s.db.Exec(`UPDATE conversations SET current_block_id = $1, user_path = $2, phase2_start_time = $3, updated_at = $4 WHERE id = $5`,
			nilIfEmpty(nextBlockID), string(pathJSON), *phase2Start, time.Now(), conversationID)
	} else {
		res, err = s.db.Exec(`UPDATE conversations SET current_block_id = $1, user_path = $2, updated_at = $3 WHERE id = $4`,
			nilIfEmpty(nextBlockID), string(pathJSON), time.Now(), conversationID)
	}
	if err != nil {
		slog.Error("PostgresStore UpdateConversationTransition failed", "error", err, "conversationID", conversationID)
		return fmt.Errorf("failed to update conversation %s: %w", conversationID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.ErrConversationNotFound
	}
	slog.Debug("PostgresStore UpdateConversationTransition succeeded", "conversationID", conversationID, "nextBlockID", nextBlockID)
	return nil
}

// UpdateConversationStatus updates status and the optional abandonment reason.
func (s *PostgresStore) UpdateConversationStatus(conversationID string, status models.ConversationStatus, reason string) error {
	res, err := s.db.Exec(`UPDATE conversations SET status = $1, abandon_reason = $2, updated_at = $3 WHERE id = $4`,
		status, nilIfEmpty(reason), time.Now(), conversationID)
	if err != nil {
		slog.Error("PostgresStore UpdateConversationStatus failed", "error", err, "conversationID", conversationID)
		return fmt.Errorf("failed to update conversation status %s: %w", conversationID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.ErrConversationNotFound
	}
	slog.Debug("PostgresStore UpdateConversationStatus succeeded", "conversationID", conversationID, "status", status)
	return nil
}

// AddMessage appends a message to a conversation.
func (s *PostgresStore) AddMessage(m models.ConversationMessage) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	_, err := s.db.Exec(`INSERT INTO conversation_messages (id, conversation_id, author, content, created_at) VALUES ($1, $2, $3, $4, $5)`,
		m.ID, m.ConversationID, m.Author, m.Content, m.CreatedAt)
	if err != nil {
		slog.Error("PostgresStore AddMessage failed", "error", err, "conversationID", m.ConversationID)
		return fmt.Errorf("failed to insert message for %s: %w", m.ConversationID, err)
	}
	return nil
}

// GetMessages returns a conversation's messages ordered by creation time.
func (s *PostgresStore) GetMessages(conversationID string) ([]models.ConversationMessage, error) {
	rows, err := s.db.Query(`SELECT id, conversation_id, author, content, created_at FROM conversation_messages
		WHERE conversation_id = $1 ORDER BY created_at`, conversationID)
	if err != nil {
		slog.Error("PostgresStore GetMessages failed", "error", err, "conversationID", conversationID)
		return nil, err
	}
	defer rows.Close()

	var messages []models.ConversationMessage
	for rows.Next() {
		var m models.ConversationMessage
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Author, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// RecordInteraction records one resolved transition for analytics.
func (s *PostgresStore) RecordInteraction(i models.FunnelInteraction) error {
	if i.ID == "" {
		i.ID = uuid.NewString()
	}
	if i.CreatedAt.IsZero() {
		i.CreatedAt = time.Now()
	}
	_, err := s.db.Exec(`INSERT INTO funnel_interactions (id, conversation_id, block_id, option_text, next_block_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		i.ID, i.ConversationID, i.BlockID, i.OptionText, nilIfEmpty(i.NextBlockID), i.CreatedAt)
	if err != nil {
		slog.Error("PostgresStore RecordInteraction failed", "error", err, "conversationID", i.ConversationID)
		return fmt.Errorf("failed to insert interaction for %s: %w", i.ConversationID, err)
	}
	return nil
}

// TrackMilestone records a best-effort milestone event.
func (s *PostgresStore) TrackMilestone(experienceID, funnelID, milestone string) error {
	_, err := s.db.Exec(`INSERT INTO funnel_milestones (experience_id, funnel_id, milestone, created_at) VALUES ($1, $2, $3, $4)`,
		experienceID, funnelID, milestone, time.Now())
	if err != nil {
		slog.Error("PostgresStore TrackMilestone failed", "error", err, "experienceID", experienceID, "milestone", milestone)
		return fmt.Errorf("failed to insert milestone: %w", err)
	}
	return nil
}

// Close closes the PostgreSQL database connection.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing PostgreSQL database connection")
	return s.db.Close()
}
