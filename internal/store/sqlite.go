// Package store provides storage backends for the funnel engine.
//
// This file implements the SQLite-backed store.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	"github.com/MichaelRobotics/Hustler-sub005/internal/models"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// DefaultDirPermissions defines the default permissions for database directories.
const DefaultDirPermissions = 0755

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// SQLiteStore is a Store backed by a local SQLite database file.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN (a file path).
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	if cfg.DSN == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(cfg.DSN)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", cfg.DSN)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}

	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db}, nil
}

// SaveFunnel stores or replaces a funnel and its serialized graph.
func (s *SQLiteStore) SaveFunnel(f models.Funnel) error {
	graphJSON, err := json.Marshal(f.Graph)
	if err != nil {
		slog.Error("SQLiteStore SaveFunnel marshal failed", "error", err, "funnelID", f.ID)
		return fmt.Errorf("failed to marshal funnel graph: %w", err)
	}
	_, err = s.db.Exec(`INSERT OR REPLACE INTO funnels (id, experience_id, name, graph_json) VALUES (?, ?, ?, ?)`,
		f.ID, f.ExperienceID, f.Name, string(graphJSON))
	if err != nil {
		slog.Error("SQLiteStore SaveFunnel failed", "error", err, "funnelID", f.ID)
		return fmt.Errorf("failed to save funnel %s: %w", f.ID, err)
	}
	slog.Debug("SQLiteStore SaveFunnel succeeded", "funnelID", f.ID)
	return nil
}

// GetFunnelGraph loads and deserializes a funnel graph, or (nil, nil) if the
// funnel does not exist.
func (s *SQLiteStore) GetFunnelGraph(funnelID string) (*models.FunnelGraph, error) {
	var graphJSON string
	err := s.db.QueryRow(`SELECT graph_json FROM funnels WHERE id = ?`, funnelID).Scan(&graphJSON)
	if err == sql.ErrNoRows {
		slog.Debug("SQLiteStore GetFunnelGraph not found", "funnelID", funnelID)
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetFunnelGraph failed", "error", err, "funnelID", funnelID)
		return nil, err
	}
	var graph models.FunnelGraph
	if err := json.Unmarshal([]byte(graphJSON), &graph); err != nil {
		slog.Error("SQLiteStore GetFunnelGraph unmarshal failed", "error", err, "funnelID", funnelID)
		return nil, fmt.Errorf("failed to unmarshal funnel graph: %w", err)
	}
	return &graph, nil
}

// CreateConversation inserts a new conversation row.
func (s *SQLiteStore) CreateConversation(c models.Conversation) error {
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
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.ExperienceID, c.FunnelID, c.UserID, c.Status, nilIfEmpty(c.CurrentBlockID),
		string(pathJSON), nilIfEmpty(c.AbandonReason), c.Phase2StartTime, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		slog.Error("SQLiteStore CreateConversation failed", "error", err, "conversationID", c.ID)
		return fmt.Errorf("failed to insert conversation %s: %w", c.ID, err)
	}
	slog.Debug("SQLiteStore CreateConversation succeeded", "conversationID", c.ID, "experienceID", c.ExperienceID)
	return nil
}

const conversationColumns = `id, experience_id, funnel_id, user_id, status, current_block_id, user_path, abandon_reason, phase2_start_time, created_at, updated_at`

// GetConversation returns the conversation if it belongs to the tenant.
func (s *SQLiteStore) GetConversation(experienceID, conversationID string) (*models.Conversation, error) {
	row := s.db.QueryRow(`SELECT `+conversationColumns+` FROM conversations WHERE id = ? AND experience_id = ?`,
		conversationID, experienceID)
	return scanConversationRow(row)
}

// FindActiveConversationByUser returns the tenant's active conversation for
// the user, or (nil, nil) if there is none.
func (s *SQLiteStore) FindActiveConversationByUser(experienceID, userID string) (*models.Conversation, error) {
	row := s.db.QueryRow(`SELECT `+conversationColumns+` FROM conversations
		WHERE experience_id = ? AND user_id = ? AND status = ? LIMIT 1`,
		experienceID, userID, models.ConversationStatusActive)
	return scanConversationRow(row)
}

// ListActiveConversations returns all active conversations across tenants.
func (s *SQLiteStore) ListActiveConversations() ([]models.Conversation, error) {
	rows, err := s.db.Query(`SELECT `+conversationColumns+` FROM conversations WHERE status = ?`,
		models.ConversationStatusActive)
	if err != nil {
		slog.Error("SQLiteStore ListActiveConversations failed", "error", err)
		return nil, err
	}
	defer rows.Close()
	return scanConversations(rows)
}

// ListActiveConversationsOlderThan returns active conversations whose
// updated_at predates the cutoff.
func (s *SQLiteStore) ListActiveConversationsOlderThan(cutoff time.Time) ([]models.Conversation, error) {
	rows, err := s.db.Query(`SELECT `+conversationColumns+` FROM conversations WHERE status = ? AND updated_at < ?`,
		models.ConversationStatusActive, cutoff)
	if err != nil {
		slog.Error("SQLiteStore ListActiveConversationsOlderThan failed", "error", err)
		return nil, err
	}
	defer rows.Close()
	return scanConversations(rows)
}

// UpdateConversationTransition applies a block transition in one statement so
// the phase2 start time can never disagree with the block it was stamped for.
func (s *SQLiteStore) UpdateConversationTransition(conversationID, nextBlockID string, path []string, phase2Start *time.Time) error {
	pathJSON, err := json.Marshal(path)
	if err != nil {
		return fmt.Errorf("failed to marshal user path: %w", err)
	}
	var res sql.Result
	if phase2Start != nil {
		res, err = s.db.Exec(`UPDATE conversations SET current_block_id = ?, user_path = ?, phase2_start_time = ?, updated_at = ? WHERE id = ?`,
			nilIfEmpty(nextBlockID), string(pathJSON), *phase2Start, time.Now(), conversationID)
	} else {
		res, err = s.db.Exec(`UPDATE conversations SET current_block_id = ?, user_path = ?, updated_at = ? WHERE id = ?`,
			nilIfEmpty(nextBlockID), string(pathJSON), time.Now(), conversationID)
	}
	if err != nil {
		slog.Error("SQLiteStore UpdateConversationTransition failed", "error", err, "conversationID", conversationID)
		return fmt.Errorf("failed to update conversation %s: %w", conversationID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.ErrConversationNotFound
	}
	slog.Debug("SQLiteStore UpdateConversationTransition succeeded", "conversationID", conversationID, "nextBlockID", nextBlockID)
	return nil
}

// UpdateConversationStatus updates status and the optional abandonment reason.
func (s *SQLiteStore) UpdateConversationStatus(conversationID string, status models.ConversationStatus, reason string) error {
	res, err := s.db.Exec(`UPDATE conversations SET status = ?, abandon_reason = ?, updated_at = ? WHERE id = ?`,
		status, nilIfEmpty(reason), time.Now(), conversationID)
	if err != nil {
		slog.Error("SQLiteStore UpdateConversationStatus failed", "error", err, "conversationID", conversationID)
		return fmt.Errorf("failed to update conversation status %s: %w", conversationID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.ErrConversationNotFound
	}
	slog.Debug("SQLiteStore UpdateConversationStatus succeeded", "conversationID", conversationID, "status", status)
	return nil
}

// AddMessage appends a message to a conversation.
func (s *SQLiteStore) AddMessage(m models.ConversationMessage) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	_, err := s.db.Exec(`INSERT INTO conversation_messages (id, conversation_id, author, content, created_at) VALUES (?, ?, ?, ?, ?)`,
		m.ID, m.ConversationID, m.Author, m.Content, m.CreatedAt)
	if err != nil {
		slog.Error("SQLiteStore AddMessage failed", "error", err, "conversationID", m.ConversationID)
		return fmt.Errorf("failed to insert message for %s: %w", m.ConversationID, err)
	}
	return nil
}

// GetMessages returns a conversation's messages ordered by creation time.
func (s *SQLiteStore) GetMessages(conversationID string) ([]models.ConversationMessage, error) {
	rows, err := s.db.Query(`SELECT id, conversation_id, author, content, created_at FROM conversation_messages
		WHERE conversation_id = ? ORDER BY created_at`, conversationID)
	if err != nil {
		slog.Error("SQLiteStore GetMessages failed", "error", err, "conversationID", conversationID)
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
func (s *SQLiteStore) RecordInteraction(i models.FunnelInteraction) error {
	if i.ID == "" {
		i.ID = uuid.NewString()
	}
	if i.CreatedAt.IsZero() {
		i.CreatedAt = time.Now()
	}
	_, err := s.db.Exec(`INSERT INTO funnel_interactions (id, conversation_id, block_id, option_text, next_block_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		i.ID, i.ConversationID, i.BlockID, i.OptionText, nilIfEmpty(i.NextBlockID), i.CreatedAt)
	if err != nil {
		slog.Error("SQLiteStore RecordInteraction failed", "error", err, "conversationID", i.ConversationID)
		return fmt.Errorf("failed to insert interaction for %s: %w", i.ConversationID, err)
	}
	return nil
}

// TrackMilestone records a best-effort milestone event.
func (s *SQLiteStore) TrackMilestone(experienceID, funnelID, milestone string) error {
	_, err := s.db.Exec(`INSERT INTO funnel_milestones (experience_id, funnel_id, milestone, created_at) VALUES (?, ?, ?, ?)`,
		experienceID, funnelID, milestone, time.Now())
	if err != nil {
		slog.Error("SQLiteStore TrackMilestone failed", "error", err, "experienceID", experienceID, "milestone", milestone)
		return fmt.Errorf("failed to insert milestone: %w", err)
	}
	return nil
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	return s.db.Close()
}
