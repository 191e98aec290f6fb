package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/MichaelRobotics/Hustler-sub005/internal/models"
	"github.com/MichaelRobotics/Hustler-sub005/internal/whop"
)

// WhopService implements Service using the Whop DM API. Inbound messages are
// pulled from the DM feed rather than pushed, so Responses() stays idle.
type WhopService struct {
	client      whop.Client
	agentUserID string
	responses   chan models.Response
	done        chan struct{}
	mu          sync.RWMutex
	stopped     bool
}

// NewWhopService creates a new WhopService wrapping the given Whop client.
// agentUserID identifies the bot's own user so its posts are never mistaken
// for user replies.
func NewWhopService(client whop.Client, agentUserID string) *WhopService {
	return &WhopService{
		client:      client,
		agentUserID: agentUserID,
		responses:   make(chan models.Response, DefaultChannelBufferSize),
		done:        make(chan struct{}),
	}
}

// ValidateAndCanonicalizeRecipient validates and canonicalizes a Whop user ID.
func (s *WhopService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	canonical := strings.TrimSpace(recipient)
	if canonical == "" {
		return "", fmt.Errorf("recipient cannot be empty")
	}
	if strings.ContainsAny(canonical, " \t\n") {
		return "", fmt.Errorf("invalid user ID: %q contains whitespace", recipient)
	}
	if canonical != recipient {
		slog.Debug("WhopService canonicalized recipient", "original", recipient, "canonical", canonical)
	}
	return canonical, nil
}

// Start is a no-op for Whop (messages are pulled, not pushed).
func (s *WhopService) Start(ctx context.Context) error {
	slog.Debug("WhopService Start invoked")
	return nil
}

// Stop closes channels and stops the service.
func (s *WhopService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	s.stopped = true
	close(s.done)
	close(s.responses)
	slog.Info("WhopService stopped and channels closed")
	return nil
}

// SendMessage sends a direct message to the user's DM feed.
func (s *WhopService) SendMessage(ctx context.Context, to string, body string) error {
	s.mu.RLock()
	if s.stopped {
		s.mu.RUnlock()
		return models.ErrServiceStopped
	}
	s.mu.RUnlock()

	canonicalTo, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		slog.Error("WhopService SendMessage validation error", "error", err, "to", to)
		return err
	}

	_, err = s.client.SendDirectMessage(ctx, canonicalTo, body)
	if err != nil {
		slog.Error("WhopService SendMessage error", "error", err, "to", canonicalTo)
		return err
	}
	slog.Debug("WhopService message sent", "to", canonicalTo, "body_length", len(body))
	return nil
}

// FetchLatestUserMessage scans the agent's DM feed for the conversation with
// the given user and returns its newest post if the user authored it. A user
// is matched either by conversation membership or by being the author of the
// last post, since the feed listing can lag membership on brand-new DMs.
func (s *WhopService) FetchLatestUserMessage(ctx context.Context, userID string) (*models.InboundMessage, error) {
	s.mu.RLock()
	if s.stopped {
		s.mu.RUnlock()
		return nil, models.ErrServiceStopped
	}
	s.mu.RUnlock()

	canonicalUser, err := s.ValidateAndCanonicalizeRecipient(userID)
	if err != nil {
		return nil, err
	}

	convs, err := s.client.ListDMConversations(ctx)
	if err != nil {
		return nil, err
	}

	for _, conv := range convs {
		if !s.conversationMatchesUser(conv, canonicalUser) {
			continue
		}
		if conv.LastPost == nil {
			slog.Debug("WhopService DM conversation has no posts", "userID", canonicalUser, "dmID", conv.ID)
			return nil, nil
		}
		if conv.LastPost.UserID == s.agentUserID {
			// Bot spoke last; the user has not replied yet.
			return nil, nil
		}
		msg := &models.InboundMessage{
			ID:      conv.LastPost.ID,
			UserID:  conv.LastPost.UserID,
			Content: conv.LastPost.Content,
			SentAt:  conv.LastPost.CreatedAt,
		}
		slog.Debug("WhopService fetched latest user message", "userID", canonicalUser, "messageID", msg.ID)
		return msg, nil
	}

	slog.Debug("WhopService no DM conversation found for user", "userID", canonicalUser)
	return nil, nil
}

// conversationMatchesUser applies dual identity matching: the user appears as
// a member, or authored the conversation's last post.
func (s *WhopService) conversationMatchesUser(conv whop.DMConversation, userID string) bool {
	for _, m := range conv.Members {
		if m.ID == userID {
			return true
		}
	}
	return conv.LastPost != nil && conv.LastPost.UserID == userID
}

// Responses returns a channel of incoming response events. Whop delivers no
// push events, so the channel only closes on Stop.
func (s *WhopService) Responses() <-chan models.Response {
	return s.responses
}
