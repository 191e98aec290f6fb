// Package whop wraps the Whop REST API for direct-message feeds.
//
// It provides methods for listing DM conversations and sending direct
// messages on behalf of a tenant's agent user.
package whop

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/MichaelRobotics/Hustler-sub005/internal/models"
)

// DefaultBaseURL is the default Whop API endpoint.
const DefaultBaseURL = "https://api.whop.com/api/v5"

// DefaultHTTPTimeout bounds every API call that has no tighter context deadline.
const DefaultHTTPTimeout = 15 * time.Second

// DMMember identifies a participant of a DM conversation.
type DMMember struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// DMPost is a single message inside a DM conversation.
type DMPost struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// DMConversation is a DM feed between the tenant's agent and a user.
type DMConversation struct {
	ID       string     `json:"id"`
	FeedID   string     `json:"feed_id"`
	Members  []DMMember `json:"members"`
	LastPost *DMPost    `json:"last_post,omitempty"`
}

// Client is the interface for the Whop DM API, for production use and testing.
type Client interface {
	// ListDMConversations returns the agent's DM conversations, newest first.
	ListDMConversations(ctx context.Context) ([]DMConversation, error)
	// SendDirectMessage posts a message to the user's DM feed and returns the
	// created post ID.
	SendDirectMessage(ctx context.Context, toUserID, message string) (string, error)
}

// Opts holds configuration options for the Whop client.
type Opts struct {
	APIKey      string
	AgentUserID string
	BaseURL     string
	HTTPClient  *http.Client
}

// Option defines a configuration option for the Whop client.
type Option func(*Opts)

// WithAPIKey sets the tenant's Whop API key.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithAgentUserID sets the agent user the client acts as.
func WithAgentUserID(id string) Option {
	return func(o *Opts) { o.AgentUserID = id }
}

// WithBaseURL overrides the API endpoint (used in tests).
func WithBaseURL(u string) Option {
	return func(o *Opts) { o.BaseURL = u }
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(o *Opts) { o.HTTPClient = c }
}

// HTTPClient talks to the Whop REST API.
type HTTPClient struct {
	apiKey      string
	agentUserID string
	baseURL     string
	httpClient  *http.Client
}

// NewClient creates a new Whop API client, applying any provided options.
func NewClient(opts ...Option) (*HTTPClient, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("Whop NewClient options set", "APIKey_set", cfg.APIKey != "", "AgentUserID", cfg.AgentUserID)

	if cfg.APIKey == "" {
		slog.Error("Whop API key not set")
		return nil, fmt.Errorf("whop API key not set")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}

	return &HTTPClient{
		apiKey:      cfg.APIKey,
		agentUserID: cfg.AgentUserID,
		baseURL:     cfg.BaseURL,
		httpClient:  cfg.HTTPClient,
	}, nil
}

// AgentUserID returns the agent user this client acts as.
func (c *HTTPClient) AgentUserID() string {
	return c.agentUserID
}

// ListDMConversations returns the agent's DM conversations.
func (c *HTTPClient) ListDMConversations(ctx context.Context) ([]DMConversation, error) {
	endpoint := c.baseURL + "/me/dms/conversations"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build DM list request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		slog.Error("Whop ListDMConversations request failed", "error", err)
		return nil, fmt.Errorf("whop DM list request: %v: %w", err, models.ErrNetwork)
	}
	defer resp.Body.Close()

	if err := classifyStatus(resp); err != nil {
		slog.Error("Whop ListDMConversations rejected", "status", resp.StatusCode)
		return nil, err
	}

	var payload struct {
		Data []DMConversation `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		slog.Error("Whop ListDMConversations decode failed", "error", err)
		return nil, fmt.Errorf("failed to decode DM list response: %w", err)
	}
	slog.Debug("Whop ListDMConversations succeeded", "count", len(payload.Data))
	return payload.Data, nil
}

// SendDirectMessage posts a message to the user's DM feed.
func (c *HTTPClient) SendDirectMessage(ctx context.Context, toUserID, message string) (string, error) {
	if toUserID == "" {
		return "", fmt.Errorf("recipient cannot be empty: %w", models.ErrInvalidInput)
	}
	if message == "" {
		return "", fmt.Errorf("message body cannot be empty: %w", models.ErrInvalidInput)
	}

	body, err := json.Marshal(map[string]string{
		"to_user_id": toUserID,
		"message":    message,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal DM payload: %w", err)
	}

	endpoint := c.baseURL + "/me/dms/" + url.PathEscape(toUserID) + "/messages"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build DM send request: %w", err)
	}
	c.setHeaders(req)
	req.Header.Set("Content-Type", "application/json")

	slog.Debug("Sending Whop direct message", "to", toUserID, "body_length", len(message))
	resp, err := c.httpClient.Do(req)
	if err != nil {
		slog.Error("Whop SendDirectMessage request failed", "error", err, "to", toUserID)
		return "", fmt.Errorf("whop DM send request: %v: %w", err, models.ErrNetwork)
	}
	defer resp.Body.Close()

	if err := classifyStatus(resp); err != nil {
		slog.Error("Whop SendDirectMessage rejected", "status", resp.StatusCode, "to", toUserID)
		return "", err
	}

	var payload struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		slog.Error("Whop SendDirectMessage decode failed", "error", err)
		return "", fmt.Errorf("failed to decode DM send response: %w", err)
	}
	slog.Debug("Whop direct message sent successfully", "to", toUserID, "postID", payload.ID)
	return payload.ID, nil
}

func (c *HTTPClient) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")
	if c.agentUserID != "" {
		req.Header.Set("X-On-Behalf-Of", c.agentUserID)
	}
}

// classifyStatus maps HTTP error statuses onto the shared error taxonomy so
// callers can branch with errors.Is instead of parsing status codes.
func classifyStatus(resp *http.Response) error {
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("whop API status %d: %w", resp.StatusCode, models.ErrUnauthorized)
	case resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("whop API status %d: %w", resp.StatusCode, models.ErrRateLimited)
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("whop API status %d: %w", resp.StatusCode, models.ErrConversationNotFound)
	case resp.StatusCode >= 500:
		return fmt.Errorf("whop API status %d: %w", resp.StatusCode, models.ErrNetwork)
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("whop API status %d: %s: %w", resp.StatusCode, string(body), models.ErrInvalidInput)
	}
}
