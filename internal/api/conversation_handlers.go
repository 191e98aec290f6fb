// Package api provides conversation lifecycle handlers for the funnel engine.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/MichaelRobotics/Hustler-sub005/internal/funnel"
	"github.com/MichaelRobotics/Hustler-sub005/internal/models"
)

// createConversationHandler handles POST /conversations. It enforces the
// one-active-conversation-per-user rule, places the new conversation on the
// funnel's start block, and delivers the welcome message.
func (s *Server) createConversationHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	slog.Debug("Server.createConversationHandler: processing create request", "method", r.Method, "path", r.URL.Path)

	var req models.CreateConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.createConversationHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if err := req.Validate(); err != nil {
		slog.Warn("Server.createConversationHandler: validation failed", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}

	graph, err := s.st.GetFunnelGraph(req.FunnelID)
	if err != nil {
		slog.Error("Server.createConversationHandler: funnel lookup failed", "error", err, "funnelID", req.FunnelID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to look up funnel"))
		return
	}
	if graph == nil {
		slog.Warn("Server.createConversationHandler: funnel not found", "funnelID", req.FunnelID)
		writeJSONResponse(w, http.StatusNotFound, models.Error("Funnel not found"))
		return
	}

	existing, err := s.st.FindActiveConversationByUser(req.ExperienceID, req.UserID)
	if err != nil {
		slog.Error("Server.createConversationHandler: active conversation check failed", "error", err, "userID", req.UserID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to check existing conversations"))
		return
	}
	if existing != nil {
		slog.Warn("Server.createConversationHandler: user already has an active conversation", "userID", req.UserID, "conversationID", existing.ID)
		writeJSONResponse(w, http.StatusConflict, models.Error("User already has an active conversation"))
		return
	}

	conv := models.Conversation{
		ID:             uuid.NewString(),
		ExperienceID:   req.ExperienceID,
		FunnelID:       req.FunnelID,
		UserID:         req.UserID,
		Status:         models.ConversationStatusActive,
		CurrentBlockID: graph.StartBlockID,
		UserPath:       []string{graph.StartBlockID},
	}
	if err := s.st.CreateConversation(conv); err != nil {
		slog.Error("Server.createConversationHandler: failed to create conversation", "error", err, "userID", req.UserID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to create conversation"))
		return
	}

	advancer, err := s.mgr.AdvancerFor(req.ExperienceID)
	if err != nil {
		slog.Error("Server.createConversationHandler: failed to resolve tenant", "error", err, "experienceID", req.ExperienceID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to resolve tenant"))
		return
	}
	// Welcome delivery is best-effort: the first poll cycle re-engages the
	// user if the send was rate limited.
	welcome := funnel.FormatBlockMessage(graph.Blocks[graph.StartBlockID])
	advancer.DeliverMessage(r.Context(), &conv, welcome)

	if req.StartMonitoring {
		// The polling session outlives this request, so it must not inherit
		// the request context.
		if err := s.mgr.StartMonitoring(context.Background(), conv.ExperienceID, conv.ID, conv.UserID); err != nil {
			slog.Error("Server.createConversationHandler: failed to start monitoring", "error", err, "conversationID", conv.ID)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Conversation created but monitoring failed to start"))
			return
		}
	}

	slog.Info("Server.createConversationHandler: conversation created", "conversationID", conv.ID, "experienceID", conv.ExperienceID, "monitoring", req.StartMonitoring)
	writeJSONResponse(w, http.StatusCreated, models.SuccessWithMessage("Conversation created", conv))
}

// conversationsRootHandler dispatches /conversations by method: GET lists a
// tenant's active conversations, POST creates one.
func (s *Server) conversationsRootHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.conversationsHandler(w, r)
	case http.MethodPost:
		s.createConversationHandler(w, r)
	default:
		w.Header().Set("Allow", "GET, POST")
		slog.Warn("Server.conversationsRootHandler: method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}
