// Package models defines API payloads and response envelopes shared across
// modules.
package models

// APIStatus represents the status of an API response.
type APIStatus string

const (
	// APIStatusOK indicates an API request completed successfully.
	APIStatusOK APIStatus = "ok"
	// APIStatusError indicates an API request failed with an error.
	APIStatusError APIStatus = "error"
)

// APIResponse represents a standard API response with a status and optional data.
type APIResponse struct {
	Status  string      `json:"status"`            // status of the API response
	Message string      `json:"message,omitempty"` // optional message for error responses or additional info
	Result  interface{} `json:"result,omitempty"`  // optional result data for successful responses
}

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Result: result}
}

// SuccessWithMessage creates a successful API response with a message and optional result data.
func SuccessWithMessage(message string, result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Message: message, Result: result}
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return APIResponse{Status: string(APIStatusError), Message: message}
}

// TenantHealth is the per-tenant monitoring snapshot exposed by the API and
// consumed by the manager's eviction decisions. Informational only.
type TenantHealth struct {
	ExperienceID          string `json:"experience_id"`
	Requests              int64  `json:"requests"`
	Errors                int64  `json:"errors"`
	RateLimitHits         int64  `json:"rate_limit_hits"`
	UpstreamRateLimitHits int64  `json:"upstream_rate_limit_hits"`
	AvgResponseTimeMs     int64  `json:"avg_response_time_ms"`
	ActiveSessions        int    `json:"active_sessions"`
	HealthScore           int    `json:"health_score"`
}

// StartMonitoringRequest is the payload for POST /monitor/start.
type StartMonitoringRequest struct {
	ExperienceID   string `json:"experience_id"`
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
}

// Validate checks required fields of a StartMonitoringRequest.
func (r *StartMonitoringRequest) Validate() error {
	if r.ExperienceID == "" {
		return ErrEmptyExperienceID
	}
	if r.ConversationID == "" {
		return ErrEmptyConversationID
	}
	if r.UserID == "" {
		return ErrEmptyUserID
	}
	return nil
}

// StopMonitoringRequest is the payload for POST /monitor/stop.
type StopMonitoringRequest struct {
	ExperienceID   string `json:"experience_id"`
	ConversationID string `json:"conversation_id"`
}

// Validate checks required fields of a StopMonitoringRequest.
func (r *StopMonitoringRequest) Validate() error {
	if r.ExperienceID == "" {
		return ErrEmptyExperienceID
	}
	if r.ConversationID == "" {
		return ErrEmptyConversationID
	}
	return nil
}

// CreateConversationRequest is the payload for POST /conversations. A user
// may hold at most one active conversation per experience; creation is
// rejected while one exists.
type CreateConversationRequest struct {
	ExperienceID string `json:"experience_id"`
	FunnelID     string `json:"funnel_id"`
	UserID       string `json:"user_id"`
	// StartMonitoring also begins DM polling for the new conversation.
	StartMonitoring bool `json:"start_monitoring,omitempty"`
}

// Validate checks required fields of a CreateConversationRequest.
func (r *CreateConversationRequest) Validate() error {
	if r.ExperienceID == "" {
		return ErrEmptyExperienceID
	}
	if r.FunnelID == "" {
		return ErrEmptyFunnelID
	}
	if r.UserID == "" {
		return ErrEmptyUserID
	}
	return nil
}

// AdvanceConversationRequest is the payload for POST /conversations/advance,
// the synchronous chat path used outside polling.
type AdvanceConversationRequest struct {
	ExperienceID   string `json:"experience_id"`
	ConversationID string `json:"conversation_id"`
	Message        string `json:"message"`
}

// Validate checks required fields of an AdvanceConversationRequest.
func (r *AdvanceConversationRequest) Validate() error {
	if r.ExperienceID == "" {
		return ErrEmptyExperienceID
	}
	if r.ConversationID == "" {
		return ErrEmptyConversationID
	}
	return nil
}
