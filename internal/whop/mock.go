package whop

import (
	"context"
	"sync"
)

// MockClient implements the Client interface without network calls (for tests).
// In tests, use whop.NewMockClient() instead of NewClient to avoid real API
// connections.
type MockClient struct {
	mu sync.Mutex

	// Conversations is returned by ListDMConversations unless ListErr is set.
	Conversations []DMConversation
	ListErr       error

	// SendErr, when set, is returned by SendDirectMessage.
	SendErr error

	sent []SentMessage
}

// SentMessage records one SendDirectMessage call for assertions.
type SentMessage struct {
	ToUserID string
	Message  string
}

func NewMockClient() *MockClient {
	return &MockClient{}
}

func (m *MockClient) ListDMConversations(ctx context.Context) ([]DMConversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ListErr != nil {
		return nil, m.ListErr
	}
	out := make([]DMConversation, len(m.Conversations))
	copy(out, m.Conversations)
	return out, nil
}

func (m *MockClient) SendDirectMessage(ctx context.Context, toUserID, message string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SendErr != nil {
		return "", m.SendErr
	}
	m.sent = append(m.sent, SentMessage{ToUserID: toUserID, Message: message})
	return "post_mock", nil
}

// Sent returns a copy of the messages sent so far.
func (m *MockClient) Sent() []SentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SentMessage, len(m.sent))
	copy(out, m.sent)
	return out
}

// SetConversations replaces the conversation list the mock serves.
func (m *MockClient) SetConversations(convs []DMConversation) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Conversations = convs
}
