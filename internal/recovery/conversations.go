package recovery

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/MichaelRobotics/Hustler-sub005/internal/store"
)

// MonitoringStarter is the slice of the monitoring manager recovery needs.
type MonitoringStarter interface {
	StartMonitoring(ctx context.Context, experienceID, conversationID, userID string) error
}

// ConversationRecoverer restarts polling sessions for every conversation that
// was active when the process last stopped.
type ConversationRecoverer struct {
	store   store.Store
	monitor MonitoringStarter
}

// NewConversationRecoverer creates a ConversationRecoverer.
func NewConversationRecoverer(st store.Store, monitor MonitoringStarter) *ConversationRecoverer {
	return &ConversationRecoverer{store: st, monitor: monitor}
}

// RecoverState scans active conversations and restarts monitoring for each.
// Individual failures are logged and skipped so one bad row cannot block the
// rest; the timeout reaper eventually cleans up anything unrecoverable.
func (r *ConversationRecoverer) RecoverState(ctx context.Context) error {
	convs, err := r.store.ListActiveConversations()
	if err != nil {
		return fmt.Errorf("failed to list active conversations for recovery: %w", err)
	}
	if len(convs) == 0 {
		slog.Debug("ConversationRecoverer found no active conversations")
		return nil
	}

	slog.Info("ConversationRecoverer restarting polling sessions", "count", len(convs))
	restarted := 0
	for _, conv := range convs {
		if err := r.monitor.StartMonitoring(ctx, conv.ExperienceID, conv.ID, conv.UserID); err != nil {
			slog.Error("ConversationRecoverer failed to restart monitoring", "error", err, "conversationID", conv.ID, "experienceID", conv.ExperienceID)
			continue
		}
		restarted++
	}
	slog.Info("ConversationRecoverer finished", "restarted", restarted, "total", len(convs))
	return nil
}
