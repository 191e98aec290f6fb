// Package twiliosms wraps the Twilio API for SMS notifications.
//
// It backs the alternate notification channel used for escalation notices
// when a tenant opts into owner alerts by phone.
package twiliosms

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

// TwilioSender is an interface for sending Twilio SMS messages (for production and testing).
type TwilioSender interface {
	SendMessage(ctx context.Context, to string, body string) error
}

// Opts holds configuration options for the Twilio client.
type Opts struct {
	AccountSID string
	AuthToken  string
	FromNumber string
}

// Option defines a configuration option for the Twilio client.
type Option func(*Opts)

// WithAccountSID sets the Twilio account SID.
func WithAccountSID(sid string) Option {
	return func(o *Opts) { o.AccountSID = sid }
}

// WithAuthToken sets the Twilio auth token.
func WithAuthToken(token string) Option {
	return func(o *Opts) { o.AuthToken = token }
}

// WithFromNumber sets the sender phone number in E.164 format.
func WithFromNumber(from string) Option {
	return func(o *Opts) { o.FromNumber = from }
}

// Client wraps the Twilio REST API for SMS.
type Client struct {
	client     *twilio.RestClient
	fromNumber string
}

// NewClient creates a new Twilio client, falling back to the standard Twilio
// environment variables for any option not provided.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.AccountSID == "" {
		cfg.AccountSID = os.Getenv("TWILIO_ACCOUNT_SID")
	}
	if cfg.AuthToken == "" {
		cfg.AuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	}
	if cfg.FromNumber == "" {
		cfg.FromNumber = os.Getenv("TWILIO_FROM_NUMBER")
	}
	slog.Debug("Twilio client config loaded",
		"AccountSID_set", cfg.AccountSID != "",
		"AuthToken_set", cfg.AuthToken != "",
		"FromNumber_set", cfg.FromNumber != "")

	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, fmt.Errorf("account SID and auth token must be provided")
	}
	if cfg.FromNumber == "" {
		return nil, fmt.Errorf("from number must be provided")
	}

	client := twilio.NewRestClientWithParams(
		twilio.ClientParams{
			Username: cfg.AccountSID,
			Password: cfg.AuthToken,
		},
	)

	return &Client{
		client:     client,
		fromNumber: cfg.FromNumber,
	}, nil
}

// SendMessage sends an SMS using the Twilio API.
func (c *Client) SendMessage(ctx context.Context, to string, body string) error {
	params := &twilioApi.CreateMessageParams{}
	params.SetTo(to)
	params.SetFrom(c.fromNumber)
	params.SetBody(body)

	_, err := c.client.Api.CreateMessage(params)
	if err != nil {
		slog.Error("Twilio SendMessage failed", "to", to, "error", err)
		return fmt.Errorf("failed to send message to %s: %w", to, err)
	}

	slog.Debug("Twilio message sent", "to", to)
	return nil
}

// MockClient records sent messages without calling the Twilio API (for tests).
type MockClient struct {
	SentMessages []SentMessage
}

// SentMessage records one SendMessage call.
type SentMessage struct {
	To   string
	Body string
}

func NewMockClient() *MockClient {
	return &MockClient{SentMessages: []SentMessage{}}
}

func (m *MockClient) SendMessage(ctx context.Context, to string, body string) error {
	m.SentMessages = append(m.SentMessages, SentMessage{To: to, Body: body})
	return nil
}
