package store

import (
	"log/slog"
	"sync"
	"time"

	"github.com/MichaelRobotics/Hustler-sub005/internal/models"
	"github.com/MichaelRobotics/Hustler-sub005/internal/util"
)

// InMemoryStore is a mutex-guarded Store used in tests and development runs.
type InMemoryStore struct {
	mu            sync.RWMutex
	funnels       map[string]models.Funnel
	conversations map[string]models.Conversation
	messages      map[string][]models.ConversationMessage
	interactions  []models.FunnelInteraction
	milestones    []milestoneEvent
}

type milestoneEvent struct {
	ExperienceID string
	FunnelID     string
	Milestone    string
	At           time.Time
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		funnels:       make(map[string]models.Funnel),
		conversations: make(map[string]models.Conversation),
		messages:      make(map[string][]models.ConversationMessage),
	}
}

// SaveFunnel stores or replaces a funnel and its graph.
func (s *InMemoryStore) SaveFunnel(f models.Funnel) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.funnels[f.ID] = f
	return nil
}

// GetFunnelGraph returns the graph for a funnel, or (nil, nil) if absent.
func (s *InMemoryStore) GetFunnelGraph(funnelID string) (*models.FunnelGraph, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.funnels[funnelID]
	if !ok {
		return nil, nil
	}
	graph := f.Graph
	return &graph, nil
}

// CreateConversation stores a new conversation row.
func (s *InMemoryStore) CreateConversation(c models.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == "" {
		c.ID = util.GenerateConversationID()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = c.CreatedAt
	}
	s.conversations[c.ID] = c
	return nil
}

// GetConversation returns the conversation if it exists and belongs to the
// tenant, or (nil, nil) otherwise.
func (s *InMemoryStore) GetConversation(experienceID, conversationID string) (*models.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conversations[conversationID]
	if !ok || c.ExperienceID != experienceID {
		return nil, nil
	}
	out := cloneConversation(c)
	return &out, nil
}

// FindActiveConversationByUser returns the tenant's active conversation for
// the user, or (nil, nil) if there is none.
func (s *InMemoryStore) FindActiveConversationByUser(experienceID, userID string) (*models.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.conversations {
		if c.ExperienceID == experienceID && c.UserID == userID && c.Status == models.ConversationStatusActive {
			out := cloneConversation(c)
			return &out, nil
		}
	}
	return nil, nil
}

// ListActiveConversations returns all active conversations across tenants.
func (s *InMemoryStore) ListActiveConversations() ([]models.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Conversation
	for _, c := range s.conversations {
		if c.Status == models.ConversationStatusActive {
			out = append(out, cloneConversation(c))
		}
	}
	return out, nil
}

// ListActiveConversationsOlderThan returns active conversations whose
// UpdatedAt predates the cutoff.
func (s *InMemoryStore) ListActiveConversationsOlderThan(cutoff time.Time) ([]models.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Conversation
	for _, c := range s.conversations {
		if c.Status == models.ConversationStatusActive && c.UpdatedAt.Before(cutoff) {
			out = append(out, cloneConversation(c))
		}
	}
	return out, nil
}

// UpdateConversationTransition applies a block transition in one write.
func (s *InMemoryStore) UpdateConversationTransition(conversationID, nextBlockID string, path []string, phase2Start *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[conversationID]
	if !ok {
		return models.ErrConversationNotFound
	}
	c.CurrentBlockID = nextBlockID
	c.UserPath = append([]string(nil), path...)
	if phase2Start != nil {
		c.Phase2StartTime = phase2Start
	}
	c.UpdatedAt = time.Now()
	s.conversations[conversationID] = c
	return nil
}

// UpdateConversationStatus updates status and the optional abandonment reason.
func (s *InMemoryStore) UpdateConversationStatus(conversationID string, status models.ConversationStatus, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[conversationID]
	if !ok {
		return models.ErrConversationNotFound
	}
	c.Status = status
	c.AbandonReason = reason
	c.UpdatedAt = time.Now()
	s.conversations[conversationID] = c
	return nil
}

// AddMessage appends a message to a conversation.
func (s *InMemoryStore) AddMessage(m models.ConversationMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.ID == "" {
		m.ID = util.GenerateMessageID()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	s.messages[m.ConversationID] = append(s.messages[m.ConversationID], m)
	return nil
}

// GetMessages returns a conversation's messages in insertion order.
func (s *InMemoryStore) GetMessages(conversationID string) ([]models.ConversationMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.ConversationMessage(nil), s.messages[conversationID]...), nil
}

// RecordInteraction records one resolved transition for analytics.
func (s *InMemoryStore) RecordInteraction(i models.FunnelInteraction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i.CreatedAt.IsZero() {
		i.CreatedAt = time.Now()
	}
	s.interactions = append(s.interactions, i)
	return nil
}

// GetInteractions returns all recorded interactions (for tests).
func (s *InMemoryStore) GetInteractions() []models.FunnelInteraction {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.FunnelInteraction(nil), s.interactions...)
}

// TrackMilestone records a best-effort milestone event.
func (s *InMemoryStore) TrackMilestone(experienceID, funnelID, milestone string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.milestones = append(s.milestones, milestoneEvent{
		ExperienceID: experienceID,
		FunnelID:     funnelID,
		Milestone:    milestone,
		At:           time.Now(),
	})
	return nil
}

// MilestoneCount returns how many times a milestone was tracked (for tests).
func (s *InMemoryStore) MilestoneCount(experienceID, milestone string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, m := range s.milestones {
		if m.ExperienceID == experienceID && m.Milestone == milestone {
			count++
		}
	}
	return count
}

// Close releases nothing for the in-memory store.
func (s *InMemoryStore) Close() error {
	slog.Debug("InMemoryStore closed")
	return nil
}

func cloneConversation(c models.Conversation) models.Conversation {
	c.UserPath = append([]string(nil), c.UserPath...)
	if c.Phase2StartTime != nil {
		t := *c.Phase2StartTime
		c.Phase2StartTime = &t
	}
	return c
}
