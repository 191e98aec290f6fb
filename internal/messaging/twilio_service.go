package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"sync"
	"time"

	"github.com/MichaelRobotics/Hustler-sub005/internal/models"
	"github.com/MichaelRobotics/Hustler-sub005/internal/twiliosms"
)

// phoneNumberRegex matches every character that is not a digit.
var phoneNumberRegex = regexp.MustCompile(`[^0-9]`)

// TwilioService implements the Service interface using the Twilio API. It is
// push-based: inbound messages arrive through the webhook handler and are
// emitted on the Responses channel.
type TwilioService struct {
	client    twiliosms.TwilioSender
	responses chan models.Response
	done      chan struct{}
	mu        sync.RWMutex
	stopped   bool
}

// NewTwilioService creates a new TwilioService with the given Twilio client.
func NewTwilioService(client twiliosms.TwilioSender) *TwilioService {
	return &TwilioService{
		client:    client,
		responses: make(chan models.Response, DefaultChannelBufferSize),
		done:      make(chan struct{}),
	}
}

// ValidateAndCanonicalizeRecipient validates and canonicalizes a phone number.
// It removes all non-numeric characters and validates the result has at least
// 6 digits.
func (s *TwilioService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	if recipient == "" {
		return "", fmt.Errorf("recipient cannot be empty")
	}

	canonical := phoneNumberRegex.ReplaceAllString(recipient, "")
	wasModified := recipient != canonical

	if canonical == "" {
		return "", fmt.Errorf("invalid phone number: no digits found in recipient %q", recipient)
	}
	if len(canonical) < 6 {
		return "", fmt.Errorf("invalid phone number: %q is too short (minimum 6 digits required)", canonical)
	}

	if wasModified {
		slog.Debug("TwilioService canonicalized recipient", "original", recipient, "canonical", canonical)
	}

	return canonical, nil
}

// Start is a no-op for Twilio (inbound traffic arrives via webhook).
func (s *TwilioService) Start(ctx context.Context) error {
	return nil
}

// Stop closes channels and stops the service.
func (s *TwilioService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	s.stopped = true
	close(s.done)

	go func() {
		time.Sleep(50 * time.Millisecond)
		close(s.responses)
	}()

	return nil
}

// SendMessage sends an SMS via Twilio.
func (s *TwilioService) SendMessage(ctx context.Context, to string, body string) error {
	s.mu.RLock()
	if s.stopped {
		s.mu.RUnlock()
		return models.ErrServiceStopped
	}
	s.mu.RUnlock()

	canonicalTo, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		slog.Error("TwilioService SendMessage validation error", "error", err, "to", to)
		return err
	}

	if err := s.client.SendMessage(ctx, "+"+canonicalTo, body); err != nil {
		return err
	}
	slog.Debug("TwilioService message sent", "to", canonicalTo)
	return nil
}

// FetchLatestUserMessage always returns (nil, nil): Twilio pushes inbound
// messages through the webhook instead of exposing a pollable feed.
func (s *TwilioService) FetchLatestUserMessage(ctx context.Context, userID string) (*models.InboundMessage, error) {
	return nil, nil
}

// Responses returns the channel for incoming webhook messages.
func (s *TwilioService) Responses() <-chan models.Response {
	return s.responses
}

// TwilioWebhookHandler handles inbound Twilio webhook requests.
// It parses incoming messages and emits them as models.Response into the
// Responses() channel.
func (s *TwilioService) TwilioWebhookHandler(w http.ResponseWriter, r *http.Request) {
	slog.Info("Twilio webhook received")

	if err := r.ParseForm(); err != nil {
		slog.Error("Failed to parse Twilio webhook form", "error", err)
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}

	from := r.FormValue("From")
	body := r.FormValue("Body")

	if from == "" || body == "" {
		slog.Warn("Twilio webhook missing fields", "from", from, "body", body)
		http.Error(w, "Missing required fields", http.StatusBadRequest)
		return
	}

	slog.Info("Inbound SMS from Twilio", "from", from, "body_length", len(body))

	s.safeEmitResponse(models.Response{
		From: from,
		Body: body,
		Time: time.Now().Unix(),
	})

	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "OK")
}

// safeEmitResponse safely pushes responses into the responses channel.
func (s *TwilioService) safeEmitResponse(response models.Response) {
	s.mu.RLock()
	stopped := s.stopped
	s.mu.RUnlock()
	if stopped {
		slog.Warn("TwilioService dropping inbound response (service stopped)", "from", response.From)
		return
	}

	select {
	case s.responses <- response:
		slog.Debug("TwilioService emitted inbound response", "from", response.From)
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("TwilioService responses channel blocked, dropping message", "from", response.From)
	}
}
