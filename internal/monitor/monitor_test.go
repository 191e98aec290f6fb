package monitor

import (
	"testing"
	"time"

	"github.com/MichaelRobotics/Hustler-sub005/internal/funnel"
	"github.com/MichaelRobotics/Hustler-sub005/internal/messaging"
	"github.com/MichaelRobotics/Hustler-sub005/internal/models"
	"github.com/MichaelRobotics/Hustler-sub005/internal/ratelimit"
	"github.com/MichaelRobotics/Hustler-sub005/internal/scheduler"
	"github.com/MichaelRobotics/Hustler-sub005/internal/store"
	"github.com/MichaelRobotics/Hustler-sub005/internal/whop"
)

const (
	testExperienceID = "exp-1"
	testFunnelID     = "fun-1"
	testUserID       = "user_123"
	testAgentID      = "user_agent"
)

// harness bundles the collaborators every monitor test needs.
type harness struct {
	store   *store.InMemoryStore
	whop    *whop.MockClient
	svc     *messaging.WhopService
	limiter *ratelimit.SlidingWindow
	machine *funnel.StateMachine
	metrics *MetricsCollector
	timer   *scheduler.SimpleTimer
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	st := store.NewInMemoryStore()
	mock := whop.NewMockClient()
	svc := messaging.NewWhopService(mock, testAgentID)
	machine := funnel.NewStateMachine(funnel.NewMatcher(funnel.StrictnessExact), funnel.NewEscalationTracker())
	h := &harness{
		store:   st,
		whop:    mock,
		svc:     svc,
		limiter: ratelimit.NewSlidingWindow(nil),
		machine: machine,
		metrics: NewMetricsCollector(),
		timer:   scheduler.NewSimpleTimer(),
	}
	t.Cleanup(h.timer.Stop)

	graph := models.FunnelGraph{
		StartBlockID: "welcome_1",
		Stages: []models.Stage{
			{ID: "s1", Name: models.StageWelcome, BlockIDs: []string{"welcome_1"}},
			{ID: "s2", Name: models.StageValueDelivery, BlockIDs: []string{"value_1"}},
			{ID: "s3", Name: models.StageTransition, BlockIDs: []string{"transition_1"}},
			{ID: "s4", Name: models.StageOffer, BlockIDs: []string{"offer_1"}},
		},
		Blocks: map[string]models.Block{
			"welcome_1": {ID: "welcome_1", Message: "Welcome! What brings you here?", Options: []models.Option{
				{Text: "Trading", NextBlockID: "value_1"},
				{Text: "Just exploring", NextBlockID: ""},
			}},
			"value_1": {ID: "value_1", Message: "Here is your free guide.", Options: []models.Option{
				{Text: "Continue", NextBlockID: "transition_1"},
			}},
			"transition_1": {ID: "transition_1", Message: "Let's move to a private chat.", Options: []models.Option{
				{Text: "Ready", NextBlockID: "offer_1"},
			}},
			"offer_1": {ID: "offer_1", Message: "Here is the offer.", Options: []models.Option{
				{Text: "Buy", NextBlockID: ""},
			}},
		},
	}
	if err := graph.Validate(); err != nil {
		t.Fatalf("fixture graph invalid: %v", err)
	}
	if err := st.SaveFunnel(models.Funnel{ID: testFunnelID, ExperienceID: testExperienceID, Name: "test", Graph: graph}); err != nil {
		t.Fatalf("SaveFunnel: %v", err)
	}
	return h
}

// createConversation seeds an active conversation at the given block.
func (h *harness) createConversation(t *testing.T, id, blockID string) *models.Conversation {
	t.Helper()
	return h.createConversationIn(t, testExperienceID, id, blockID)
}

func (h *harness) createConversationIn(t *testing.T, experienceID, id, blockID string) *models.Conversation {
	t.Helper()
	conv := models.Conversation{
		ID:             id,
		ExperienceID:   experienceID,
		FunnelID:       testFunnelID,
		UserID:         testUserID,
		Status:         models.ConversationStatusActive,
		CurrentBlockID: blockID,
		UserPath:       []string{blockID},
	}
	if err := h.store.CreateConversation(conv); err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}
	got, err := h.store.GetConversation(experienceID, id)
	if err != nil || got == nil {
		t.Fatalf("GetConversation: %v, %v", got, err)
	}
	return got
}

// setUserReply makes the DM feed report the user as having just sent content.
func (h *harness) setUserReply(msgID, content string) {
	h.whop.SetConversations([]whop.DMConversation{
		{
			ID:      "dm-1",
			Members: []whop.DMMember{{ID: testAgentID}, {ID: testUserID}},
			LastPost: &whop.DMPost{
				ID: msgID, UserID: testUserID, Content: content, CreatedAt: time.Now(),
			},
		},
	})
}

func (h *harness) newAdvancer(stopSession func(experienceID, conversationID string)) *Advancer {
	return NewAdvancer(h.store, h.machine, h.svc, h.limiter, h.metrics, stopSession)
}
