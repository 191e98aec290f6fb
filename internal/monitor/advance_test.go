package monitor

import (
	"context"
	"testing"

	"github.com/MichaelRobotics/Hustler-sub005/internal/models"
)

func TestAdvancePersistsTransitionAndReplies(t *testing.T) {
	h := newHarness(t)
	conv := h.createConversation(t, "conv-1", "welcome_1")
	adv := h.newAdvancer(nil)

	outcome, err := adv.AdvanceConversation(context.Background(), conv, "1")
	if err != nil {
		t.Fatalf("AdvanceConversation: %v", err)
	}
	if outcome.Kind != models.OutcomeTransitioned || outcome.NextBlockID != "value_1" {
		t.Fatalf("outcome = %+v", outcome)
	}

	got, _ := h.store.GetConversation(testExperienceID, "conv-1")
	if got.CurrentBlockID != "value_1" {
		t.Errorf("CurrentBlockID = %q, want value_1", got.CurrentBlockID)
	}
	if len(got.UserPath) != 2 || got.UserPath[1] != "value_1" {
		t.Errorf("UserPath = %v", got.UserPath)
	}

	// User message and bot reply both recorded, plus the DM went out.
	msgs, _ := h.store.GetMessages("conv-1")
	if len(msgs) != 2 {
		t.Fatalf("message count = %d, want 2", len(msgs))
	}
	if msgs[0].Author != models.MessageAuthorUser || msgs[1].Author != models.MessageAuthorBot {
		t.Errorf("message authors = %v, %v", msgs[0].Author, msgs[1].Author)
	}
	sent := h.whop.Sent()
	if len(sent) != 1 || sent[0].ToUserID != testUserID {
		t.Errorf("sent = %+v", sent)
	}

	interactions := h.store.GetInteractions()
	if len(interactions) != 1 || interactions[0].NextBlockID != "value_1" {
		t.Errorf("interactions = %+v", interactions)
	}
}

func TestAdvanceTerminalEdgeCompletesConversation(t *testing.T) {
	h := newHarness(t)
	conv := h.createConversation(t, "conv-1", "welcome_1")

	var stopped []string
	adv := h.newAdvancer(func(exp, id string) { stopped = append(stopped, id) })

	// "Just exploring" has a null next block.
	outcome, err := adv.AdvanceConversation(context.Background(), conv, "2")
	if err != nil {
		t.Fatalf("AdvanceConversation: %v", err)
	}
	if outcome.Kind != models.OutcomeTransitioned || outcome.NextBlockID != "" {
		t.Fatalf("outcome = %+v", outcome)
	}
	if !outcome.StopMonitoring {
		t.Error("terminal edge must signal monitoring stop")
	}

	got, _ := h.store.GetConversation(testExperienceID, "conv-1")
	if got.Status != models.ConversationStatusCompleted {
		t.Errorf("Status = %q, want completed", got.Status)
	}
	if len(stopped) != 1 || stopped[0] != "conv-1" {
		t.Errorf("stopped = %v", stopped)
	}
	if n := h.store.MilestoneCount(testExperienceID, models.MilestoneFunnelCompleted); n != 1 {
		t.Errorf("funnel_completed milestones = %d, want 1", n)
	}
}

func TestAdvancePhase2StampedWithTransition(t *testing.T) {
	h := newHarness(t)
	conv := h.createConversation(t, "conv-1", "transition_1")
	adv := h.newAdvancer(nil)

	outcome, err := adv.AdvanceConversation(context.Background(), conv, "1")
	if err != nil {
		t.Fatalf("AdvanceConversation: %v", err)
	}
	if outcome.NextBlockID != "offer_1" {
		t.Fatalf("outcome = %+v", outcome)
	}
	// TRANSITION -> PHASE2 is not a PHASE1 origin, so no phase2 stamp.
	got, _ := h.store.GetConversation(testExperienceID, "conv-1")
	if got.Phase2StartTime != nil {
		t.Error("Phase2StartTime must only be stamped on PHASE1->PHASE2")
	}
}

func TestAdvanceIntoTransitionStageSendsThenStops(t *testing.T) {
	h := newHarness(t)
	conv := h.createConversation(t, "conv-1", "value_1")

	// Record ordering: DM send happens through the mock client, stop through
	// the callback.
	var order []string
	adv := h.newAdvancer(func(exp, id string) { order = append(order, "stop") })

	outcome, err := adv.AdvanceConversation(context.Background(), conv, "continue")
	if err != nil {
		t.Fatalf("AdvanceConversation: %v", err)
	}
	if outcome.PhaseTransition != models.PhaseTransition || !outcome.StopMonitoring {
		t.Fatalf("outcome = %+v", outcome)
	}

	if len(h.whop.Sent()) != 1 {
		t.Fatal("transition message must be delivered before stopping")
	}
	if len(order) != 1 || order[0] != "stop" {
		t.Errorf("stop callback order = %v", order)
	}
	if n := h.store.MilestoneCount(testExperienceID, models.MilestoneTransitionStage); n != 1 {
		t.Errorf("transition milestones = %d, want 1", n)
	}
}

func TestAdvanceEscalationLadderToAbandonment(t *testing.T) {
	h := newHarness(t)
	conv := h.createConversation(t, "conv-1", "value_1")

	var stopped int
	adv := h.newAdvancer(func(exp, id string) { stopped++ })

	for i, wantKind := range []models.OutcomeKind{models.OutcomeEscalated, models.OutcomeEscalated, models.OutcomeAbandoned} {
		outcome, err := adv.AdvanceConversation(context.Background(), conv, "gibberish")
		if err != nil {
			t.Fatalf("attempt %d: %v", i+1, err)
		}
		if outcome.Kind != wantKind {
			t.Fatalf("attempt %d: kind = %q, want %q", i+1, outcome.Kind, wantKind)
		}
	}

	got, _ := h.store.GetConversation(testExperienceID, "conv-1")
	if got.Status != models.ConversationStatusAbandoned {
		t.Errorf("Status = %q, want abandoned", got.Status)
	}
	if got.AbandonReason != models.AbandonReasonMaxInvalidResponses {
		t.Errorf("AbandonReason = %q", got.AbandonReason)
	}
	if stopped != 1 {
		t.Errorf("stop callback fired %d times, want 1", stopped)
	}
	// Ladder messages for levels 1 and 2, plus the final notice.
	if sent := h.whop.Sent(); len(sent) != 3 {
		t.Errorf("sent count = %d, want 3", len(sent))
	}
}

func TestAdvanceSendSkippedWhenRateLimited(t *testing.T) {
	h := newHarness(t)
	conv := h.createConversation(t, "conv-1", "welcome_1")
	adv := h.newAdvancer(nil)

	// Exhaust the sending budget.
	for i := 0; i < 10; i++ {
		admitted, err := h.limiter.Admit(context.Background(), testExperienceID, "message_sending")
		if err != nil || !admitted {
			t.Fatalf("priming admit %d: %v %v", i, admitted, err)
		}
	}

	outcome, err := adv.AdvanceConversation(context.Background(), conv, "1")
	if err != nil {
		t.Fatalf("AdvanceConversation: %v", err)
	}
	if outcome.Kind != models.OutcomeTransitioned {
		t.Fatalf("outcome = %+v", outcome)
	}

	// The transition still persisted, but no DM went out.
	got, _ := h.store.GetConversation(testExperienceID, "conv-1")
	if got.CurrentBlockID != "value_1" {
		t.Errorf("CurrentBlockID = %q", got.CurrentBlockID)
	}
	if len(h.whop.Sent()) != 0 {
		t.Error("send should be skipped under rate limit")
	}
	if h.metrics.Snapshot(testExperienceID).RateLimitHits != 1 {
		t.Error("rate limit hit not counted")
	}
}

func TestAdvanceUnknownFunnelFails(t *testing.T) {
	h := newHarness(t)
	conv := h.createConversation(t, "conv-1", "welcome_1")
	conv.FunnelID = "missing"
	adv := h.newAdvancer(nil)

	outcome, err := adv.AdvanceConversation(context.Background(), conv, "1")
	if err == nil {
		t.Fatal("expected error for unknown funnel")
	}
	if outcome.Kind != models.OutcomeFailed || outcome.ErrorKind != models.ErrorKindNotFound {
		t.Errorf("outcome = %+v", outcome)
	}
}
