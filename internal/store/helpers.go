package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/MichaelRobotics/Hustler-sub005/internal/models"
)

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// scanConversationRow scans a Conversation from a single sql.Row, returning
// (nil, nil) on sql.ErrNoRows.
func scanConversationRow(row *sql.Row) (*models.Conversation, error) {
	var c models.Conversation
	var currentBlock, pathJSON, reason sql.NullString
	var phase2Start sql.NullTime
	err := row.Scan(&c.ID, &c.ExperienceID, &c.FunnelID, &c.UserID, &c.Status,
		&currentBlock, &pathJSON, &reason, &phase2Start, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan conversation failed: %w", err)
	}
	fillConversation(&c, currentBlock, pathJSON, reason, phase2Start)
	return &c, nil
}

// scanConversations scans all Conversation rows from a result set.
func scanConversations(rows *sql.Rows) ([]models.Conversation, error) {
	var out []models.Conversation
	for rows.Next() {
		var c models.Conversation
		var currentBlock, pathJSON, reason sql.NullString
		var phase2Start sql.NullTime
		err := rows.Scan(&c.ID, &c.ExperienceID, &c.FunnelID, &c.UserID, &c.Status,
			&currentBlock, &pathJSON, &reason, &phase2Start, &c.CreatedAt, &c.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan conversation row failed: %w", err)
		}
		fillConversation(&c, currentBlock, pathJSON, reason, phase2Start)
		out = append(out, c)
	}
	return out, rows.Err()
}

func fillConversation(c *models.Conversation, currentBlock, pathJSON, reason sql.NullString, phase2Start sql.NullTime) {
	c.CurrentBlockID = currentBlock.String
	c.AbandonReason = reason.String
	if phase2Start.Valid {
		t := phase2Start.Time
		c.Phase2StartTime = &t
	}
	if pathJSON.String != "" {
		if err := json.Unmarshal([]byte(pathJSON.String), &c.UserPath); err != nil {
			slog.Error("Failed to unmarshal user path", "error", err, "conversationID", c.ID)
			c.UserPath = nil
		}
	}
}
