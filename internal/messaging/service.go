package messaging

import (
	"context"
	"time"

	"github.com/MichaelRobotics/Hustler-sub005/internal/models"
)

// Constants for messaging service configuration
const (
	// DefaultChannelBufferSize defines the default buffer size for response channels
	DefaultChannelBufferSize = 100
	// DefaultChannelTimeout defines the default timeout for non-blocking channel operations
	DefaultChannelTimeout = 1 * time.Second
)

// Service defines a pluggable message delivery abstraction.
// It supports sending messages, pulling the latest inbound user message from a
// feed, and provides a channel for push-delivered response events.
type Service interface {
	// ValidateAndCanonicalizeRecipient validates and canonicalizes a recipient identifier.
	// Returns the canonicalized recipient and an error if validation fails.
	// This allows each service to implement its own recipient validation rules.
	ValidateAndCanonicalizeRecipient(recipient string) (string, error)

	// SendMessage sends a message to a recipient.
	SendMessage(ctx context.Context, to string, body string) error

	// FetchLatestUserMessage pulls the newest message the user sent that the
	// bot has not authored. Returns (nil, nil) when the user has not replied.
	// Push-only services return (nil, nil) unconditionally.
	FetchLatestUserMessage(ctx context.Context, userID string) (*models.InboundMessage, error)

	// Start begins any background processing (e.g., polling for events).
	Start(ctx context.Context) error

	// Stop stops background processing and cleans up resources.
	Stop() error

	// Responses returns a channel of incoming push-delivered responses.
	Responses() <-chan models.Response
}
