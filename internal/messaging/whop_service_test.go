package messaging

import (
	"context"
	"testing"
	"time"

	"github.com/MichaelRobotics/Hustler-sub005/internal/models"
	"github.com/MichaelRobotics/Hustler-sub005/internal/whop"
)

const testAgentID = "user_agent"

func newWhopServiceForTest() (*WhopService, *whop.MockClient) {
	mock := whop.NewMockClient()
	return NewWhopService(mock, testAgentID), mock
}

func TestWhopServiceValidateRecipient(t *testing.T) {
	svc, _ := newWhopServiceForTest()

	got, err := svc.ValidateAndCanonicalizeRecipient("  user_123  ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "user_123" {
		t.Errorf("canonical = %q, want user_123", got)
	}

	if _, err := svc.ValidateAndCanonicalizeRecipient(""); err == nil {
		t.Error("expected error for empty recipient")
	}
	if _, err := svc.ValidateAndCanonicalizeRecipient("user 123"); err == nil {
		t.Error("expected error for recipient with embedded whitespace")
	}
}

func TestWhopServiceSendMessage(t *testing.T) {
	svc, mock := newWhopServiceForTest()

	if err := svc.SendMessage(context.Background(), "user_123", "hello"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	sent := mock.Sent()
	if len(sent) != 1 || sent[0].ToUserID != "user_123" || sent[0].Message != "hello" {
		t.Errorf("sent = %+v", sent)
	}
}

func TestWhopServiceSendAfterStop(t *testing.T) {
	svc, _ := newWhopServiceForTest()
	if err := svc.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := svc.SendMessage(context.Background(), "user_123", "hello"); err != models.ErrServiceStopped {
		t.Errorf("err = %v, want ErrServiceStopped", err)
	}
	// Stop is idempotent.
	if err := svc.Stop(); err != nil {
		t.Errorf("second Stop: %v", err)
	}
}

func TestFetchLatestUserMessageByMembership(t *testing.T) {
	svc, mock := newWhopServiceForTest()
	mock.SetConversations([]whop.DMConversation{
		{
			ID:      "dm-1",
			Members: []whop.DMMember{{ID: testAgentID}, {ID: "user_123"}},
			LastPost: &whop.DMPost{
				ID: "post-1", UserID: "user_123", Content: "1", CreatedAt: time.Now(),
			},
		},
	})

	msg, err := svc.FetchLatestUserMessage(context.Background(), "user_123")
	if err != nil {
		t.Fatalf("FetchLatestUserMessage: %v", err)
	}
	if msg == nil || msg.Content != "1" || msg.ID != "post-1" {
		t.Errorf("msg = %+v", msg)
	}
}

func TestFetchLatestUserMessageByAuthor(t *testing.T) {
	// Membership listing lags on fresh DMs; the author of the last post still
	// identifies the conversation.
	svc, mock := newWhopServiceForTest()
	mock.SetConversations([]whop.DMConversation{
		{
			ID:      "dm-2",
			Members: []whop.DMMember{{ID: testAgentID}},
			LastPost: &whop.DMPost{
				ID: "post-9", UserID: "user_456", Content: "hey", CreatedAt: time.Now(),
			},
		},
	})

	msg, err := svc.FetchLatestUserMessage(context.Background(), "user_456")
	if err != nil {
		t.Fatalf("FetchLatestUserMessage: %v", err)
	}
	if msg == nil || msg.UserID != "user_456" {
		t.Errorf("msg = %+v", msg)
	}
}

func TestFetchLatestUserMessageBotSpokeLast(t *testing.T) {
	svc, mock := newWhopServiceForTest()
	mock.SetConversations([]whop.DMConversation{
		{
			ID:      "dm-1",
			Members: []whop.DMMember{{ID: testAgentID}, {ID: "user_123"}},
			LastPost: &whop.DMPost{
				ID: "post-2", UserID: testAgentID, Content: "pick an option", CreatedAt: time.Now(),
			},
		},
	})

	msg, err := svc.FetchLatestUserMessage(context.Background(), "user_123")
	if err != nil {
		t.Fatalf("FetchLatestUserMessage: %v", err)
	}
	if msg != nil {
		t.Errorf("expected nil message when bot spoke last, got %+v", msg)
	}
}

func TestFetchLatestUserMessageNoConversation(t *testing.T) {
	svc, _ := newWhopServiceForTest()

	msg, err := svc.FetchLatestUserMessage(context.Background(), "user_999")
	if err != nil {
		t.Fatalf("FetchLatestUserMessage: %v", err)
	}
	if msg != nil {
		t.Errorf("expected nil message for unknown user, got %+v", msg)
	}
}

func TestFetchLatestUserMessagePropagatesFeedError(t *testing.T) {
	svc, mock := newWhopServiceForTest()
	mock.ListErr = models.ErrRateLimited

	_, err := svc.FetchLatestUserMessage(context.Background(), "user_123")
	if err != models.ErrRateLimited {
		t.Errorf("err = %v, want ErrRateLimited", err)
	}
}
