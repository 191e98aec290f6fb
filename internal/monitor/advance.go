package monitor

import (
	"context"
	"log/slog"
	"time"

	"github.com/MichaelRobotics/Hustler-sub005/internal/funnel"
	"github.com/MichaelRobotics/Hustler-sub005/internal/messaging"
	"github.com/MichaelRobotics/Hustler-sub005/internal/models"
	"github.com/MichaelRobotics/Hustler-sub005/internal/ratelimit"
	"github.com/MichaelRobotics/Hustler-sub005/internal/store"
)

// Advancer executes one state-machine step with all of its side effects:
// persisting the transition, appending messages, recording analytics, and
// delivering the bot reply under the tenant's send rate limit. It is shared
// by the polling loop and the synchronous advance API so both paths behave
// identically.
type Advancer struct {
	store   store.Store
	machine *funnel.StateMachine
	svc     messaging.Service
	limiter ratelimit.Limiter
	metrics *MetricsCollector

	// stopSession is invoked after the outbound message is delivered when the
	// outcome asks for monitoring to stop (send-then-stop ordering).
	stopSession func(experienceID, conversationID string)
}

// NewAdvancer creates an Advancer. stopSession may be nil when there is no
// polling session to stop (e.g., in isolated tests).
func NewAdvancer(st store.Store, machine *funnel.StateMachine, svc messaging.Service, limiter ratelimit.Limiter, metrics *MetricsCollector, stopSession func(experienceID, conversationID string)) *Advancer {
	return &Advancer{
		store:       st,
		machine:     machine,
		svc:         svc,
		limiter:     limiter,
		metrics:     metrics,
		stopSession: stopSession,
	}
}

// AdvanceConversation runs the state machine for one user reply and executes
// the resulting side effects. The returned outcome describes what happened;
// the error is non-nil only when persistence of the transition itself failed.
func (a *Advancer) AdvanceConversation(ctx context.Context, conv *models.Conversation, userText string) (models.Outcome, error) {
	graph, err := a.store.GetFunnelGraph(conv.FunnelID)
	if err != nil {
		slog.Error("Advancer failed to load funnel graph", "error", err, "funnelID", conv.FunnelID)
		a.metrics.RecordError(conv.ExperienceID)
		return models.Outcome{Kind: models.OutcomeFailed, ErrorKind: models.ClassifyError(err)}, err
	}
	if graph == nil {
		slog.Error("Advancer funnel not found", "funnelID", conv.FunnelID, "conversationID", conv.ID)
		return models.Outcome{Kind: models.OutcomeFailed, ErrorKind: models.ErrorKindNotFound}, models.ErrFunnelNotFound
	}

	if err := a.store.AddMessage(models.ConversationMessage{
		ConversationID: conv.ID,
		Author:         models.MessageAuthorUser,
		Content:        userText,
	}); err != nil {
		slog.Error("Advancer failed to append user message", "error", err, "conversationID", conv.ID)
	}

	outcome := a.machine.Advance(conv, graph, userText)

	switch outcome.Kind {
	case models.OutcomeTransitioned:
		if err := a.applyTransition(ctx, conv, outcome); err != nil {
			return outcome, err
		}
	case models.OutcomeEscalated:
		a.deliverReply(ctx, conv, outcome.BotMessage)
	case models.OutcomeAbandoned:
		a.deliverReply(ctx, conv, outcome.BotMessage)
		if err := a.store.UpdateConversationStatus(conv.ID, models.ConversationStatusAbandoned, outcome.Reason); err != nil {
			slog.Error("Advancer failed to mark conversation abandoned", "error", err, "conversationID", conv.ID)
			return outcome, err
		}
		a.stop(conv)
	case models.OutcomeFailed:
		a.metrics.RecordError(conv.ExperienceID)
	}

	return outcome, nil
}

// applyTransition persists the block transition atomically with the phase2
// start time, records analytics, delivers the reply, and finally stops the
// session when the outcome asks for it.
func (a *Advancer) applyTransition(ctx context.Context, conv *models.Conversation, outcome models.Outcome) error {
	var phase2Start *time.Time
	if outcome.Phase2Entered {
		now := time.Now()
		phase2Start = &now
	}

	if outcome.NextBlockID != "" {
		newPath := append(append([]string(nil), conv.UserPath...), outcome.NextBlockID)
		if err := a.store.UpdateConversationTransition(conv.ID, outcome.NextBlockID, newPath, phase2Start); err != nil {
			slog.Error("Advancer failed to persist transition", "error", err, "conversationID", conv.ID, "nextBlockID", outcome.NextBlockID)
			a.metrics.RecordError(conv.ExperienceID)
			return err
		}
	} else {
		// Terminal edge: the funnel ended, there is no next block to record.
		if err := a.store.UpdateConversationStatus(conv.ID, models.ConversationStatusCompleted, ""); err != nil {
			slog.Error("Advancer failed to mark conversation completed", "error", err, "conversationID", conv.ID)
			a.metrics.RecordError(conv.ExperienceID)
			return err
		}
	}

	if err := a.store.RecordInteraction(models.FunnelInteraction{
		ConversationID: conv.ID,
		BlockID:        conv.CurrentBlockID,
		OptionText:     outcome.SelectedOption,
		NextBlockID:    outcome.NextBlockID,
	}); err != nil {
		slog.Error("Advancer failed to record interaction", "error", err, "conversationID", conv.ID)
	}

	a.trackMilestones(conv, outcome)

	if outcome.BotMessage != "" {
		a.deliverReply(ctx, conv, outcome.BotMessage)
	}
	if outcome.StopMonitoring {
		a.stop(conv)
	}
	return nil
}

// trackMilestones fires best-effort analytics events. Failures never abort
// the state machine.
func (a *Advancer) trackMilestones(conv *models.Conversation, outcome models.Outcome) {
	track := func(milestone string) {
		if err := a.store.TrackMilestone(conv.ExperienceID, conv.FunnelID, milestone); err != nil {
			slog.Debug("Advancer milestone tracking failed", "error", err, "milestone", milestone, "experienceID", conv.ExperienceID)
		}
	}
	if outcome.Phase2Entered {
		track(models.MilestonePhase2Reached)
	}
	if outcome.PhaseTransition == models.PhaseTransition {
		track(models.MilestoneTransitionStage)
	}
	if outcome.NextBlockID == "" {
		track(models.MilestoneFunnelCompleted)
	}
}

// deliverReply sends the bot message under the tenant's sending rate limit
// and appends it to the conversation history. Denial skips the send; the
// escalation ladder or next poll cycle will re-prompt.
func (a *Advancer) deliverReply(ctx context.Context, conv *models.Conversation, message string) {
	if message == "" {
		return
	}

	admitted, err := a.limiter.Admit(ctx, conv.ExperienceID, ratelimit.OpMessageSending)
	if err != nil {
		slog.Error("Advancer send admission check failed", "error", err, "experienceID", conv.ExperienceID)
		a.metrics.RecordError(conv.ExperienceID)
		return
	}
	if !admitted {
		a.metrics.RecordRateLimitHit(conv.ExperienceID)
		slog.Debug("Advancer send rate limited", "experienceID", conv.ExperienceID, "conversationID", conv.ID)
		return
	}

	if err := a.svc.SendMessage(ctx, conv.UserID, message); err != nil {
		slog.Error("Advancer failed to send reply", "error", err, "conversationID", conv.ID)
		a.metrics.RecordError(conv.ExperienceID)
		return
	}
	if err := a.store.AddMessage(models.ConversationMessage{
		ConversationID: conv.ID,
		Author:         models.MessageAuthorBot,
		Content:        message,
	}); err != nil {
		slog.Error("Advancer failed to append bot message", "error", err, "conversationID", conv.ID)
	}
}

// DeliverMessage sends a standalone bot message (e.g. the welcome block on
// conversation creation) under the tenant's send rate limit and appends it to
// the conversation history.
func (a *Advancer) DeliverMessage(ctx context.Context, conv *models.Conversation, message string) {
	a.deliverReply(ctx, conv, message)
}

func (a *Advancer) stop(conv *models.Conversation) {
	if a.stopSession == nil {
		return
	}
	a.stopSession(conv.ExperienceID, conv.ID)
}
