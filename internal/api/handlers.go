// Package api provides HTTP handlers for the funnel engine endpoints.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/MichaelRobotics/Hustler-sub005/internal/models"
)

func (s *Server) startMonitoringHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	slog.Debug("Server.startMonitoringHandler: processing start request", "method", r.Method, "path", r.URL.Path)
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		slog.Warn("Server.startMonitoringHandler: method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req models.StartMonitoringRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.startMonitoringHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if err := req.Validate(); err != nil {
		slog.Warn("Server.startMonitoringHandler: validation failed", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}

	conv, err := s.st.GetConversation(req.ExperienceID, req.ConversationID)
	if err != nil {
		slog.Error("Server.startMonitoringHandler: conversation lookup failed", "error", err, "conversationID", req.ConversationID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to look up conversation"))
		return
	}
	if conv == nil {
		slog.Warn("Server.startMonitoringHandler: conversation not found", "experienceID", req.ExperienceID, "conversationID", req.ConversationID)
		writeJSONResponse(w, http.StatusNotFound, models.Error("Conversation not found"))
		return
	}
	if conv.Status != models.ConversationStatusActive {
		slog.Warn("Server.startMonitoringHandler: conversation not active", "conversationID", req.ConversationID, "status", conv.Status)
		writeJSONResponse(w, http.StatusConflict, models.Error("Conversation is not active"))
		return
	}

	// The polling session outlives this request, so it must not inherit the
	// request context.
	if err := s.mgr.StartMonitoring(context.Background(), req.ExperienceID, req.ConversationID, req.UserID); err != nil {
		slog.Error("Server.startMonitoringHandler: failed to start monitoring", "error", err, "conversationID", req.ConversationID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to start monitoring"))
		return
	}

	slog.Info("Server.startMonitoringHandler: monitoring started", "experienceID", req.ExperienceID, "conversationID", req.ConversationID)
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Monitoring started", nil))
}

func (s *Server) stopMonitoringHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	slog.Debug("Server.stopMonitoringHandler: processing stop request", "method", r.Method, "path", r.URL.Path)
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		slog.Warn("Server.stopMonitoringHandler: method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req models.StopMonitoringRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.stopMonitoringHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if err := req.Validate(); err != nil {
		slog.Warn("Server.stopMonitoringHandler: validation failed", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}

	// Stopping an unmonitored conversation is a no-op, not an error.
	s.mgr.StopMonitoring(req.ExperienceID, req.ConversationID)

	slog.Info("Server.stopMonitoringHandler: monitoring stopped", "experienceID", req.ExperienceID, "conversationID", req.ConversationID)
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Monitoring stopped", nil))
}

func (s *Server) advanceConversationHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	slog.Debug("Server.advanceConversationHandler: processing advance request", "method", r.Method, "path", r.URL.Path)
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		slog.Warn("Server.advanceConversationHandler: method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req models.AdvanceConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.advanceConversationHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if err := req.Validate(); err != nil {
		slog.Warn("Server.advanceConversationHandler: validation failed", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}

	conv, err := s.st.GetConversation(req.ExperienceID, req.ConversationID)
	if err != nil {
		slog.Error("Server.advanceConversationHandler: conversation lookup failed", "error", err, "conversationID", req.ConversationID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to look up conversation"))
		return
	}
	if conv == nil {
		slog.Warn("Server.advanceConversationHandler: conversation not found", "experienceID", req.ExperienceID, "conversationID", req.ConversationID)
		writeJSONResponse(w, http.StatusNotFound, models.Error("Conversation not found"))
		return
	}
	if conv.Status != models.ConversationStatusActive {
		slog.Warn("Server.advanceConversationHandler: conversation not active", "conversationID", req.ConversationID, "status", conv.Status)
		writeJSONResponse(w, http.StatusConflict, models.Error("Conversation is not active"))
		return
	}

	advancer, err := s.mgr.AdvancerFor(req.ExperienceID)
	if err != nil {
		slog.Error("Server.advanceConversationHandler: failed to resolve tenant", "error", err, "experienceID", req.ExperienceID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to resolve tenant"))
		return
	}

	outcome, err := advancer.AdvanceConversation(r.Context(), conv, req.Message)
	if err != nil {
		slog.Error("Server.advanceConversationHandler: advance failed", "error", err, "conversationID", req.ConversationID)
		writeClassifiedError(w, err)
		return
	}

	slog.Info("Server.advanceConversationHandler: conversation advanced", "conversationID", req.ConversationID, "outcome", outcome.Kind)
	writeJSONResponse(w, http.StatusOK, models.Success(outcome))
}

// tenantHealthHandler returns the monitoring snapshot for one tenant
// (GET /tenants/health?experience_id=...).
func (s *Server) tenantHealthHandler(w http.ResponseWriter, r *http.Request) {
	slog.Debug("Server.tenantHealthHandler: processing health request", "method", r.Method, "path", r.URL.Path)
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		slog.Warn("Server.tenantHealthHandler: method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	experienceID := r.URL.Query().Get("experience_id")
	if experienceID == "" {
		slog.Warn("Server.tenantHealthHandler: missing experience_id")
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Missing required query parameter: experience_id"))
		return
	}

	health := s.mgr.TenantHealth(experienceID)
	slog.Debug("Server.tenantHealthHandler: snapshot built", "experienceID", experienceID, "health_score", health.HealthScore)
	writeJSONResponse(w, http.StatusOK, models.Success(health))
}

// conversationsHandler lists active conversations for a tenant
// (GET /conversations?experience_id=...).
func (s *Server) conversationsHandler(w http.ResponseWriter, r *http.Request) {
	slog.Debug("Server.conversationsHandler: processing list request", "method", r.Method, "path", r.URL.Path)
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		slog.Warn("Server.conversationsHandler: method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	experienceID := r.URL.Query().Get("experience_id")
	if experienceID == "" {
		slog.Warn("Server.conversationsHandler: missing experience_id")
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Missing required query parameter: experience_id"))
		return
	}

	all, err := s.st.ListActiveConversations()
	if err != nil {
		slog.Error("Server.conversationsHandler: failed to list conversations", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to list conversations"))
		return
	}
	conversations := make([]models.Conversation, 0, len(all))
	for _, conv := range all {
		if conv.ExperienceID == experienceID {
			conversations = append(conversations, conv)
		}
	}

	slog.Debug("Server.conversationsHandler: conversations listed", "experienceID", experienceID, "count", len(conversations))
	writeJSONResponse(w, http.StatusOK, models.Success(conversations))
}

// healthHandler provides a health check endpoint for monitoring and load balancing
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	healthData := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	writeJSONResponse(w, http.StatusOK, healthData)
}

// twilioWebhookHandler forwards inbound SMS webhooks to the Twilio service
// when the alternate channel is configured.
func (s *Server) twilioWebhookHandler(w http.ResponseWriter, r *http.Request) {
	if s.twilioSvc == nil {
		slog.Warn("Server.twilioWebhookHandler: Twilio channel not configured")
		writeJSONResponse(w, http.StatusNotFound, models.Error("Twilio channel not configured"))
		return
	}
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		slog.Warn("Server.twilioWebhookHandler: method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	s.twilioSvc.TwilioWebhookHandler(w, r)
}
