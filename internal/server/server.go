// Package server exposes the chat pipeline over HTTP: an NDJSON streaming
// chat endpoint, conversation management, the agent catalog, and the
// rate-limited middleware stack around them.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/clearcart/support-agents/internal/agents"
	"github.com/clearcart/support-agents/internal/conversation"
	"github.com/clearcart/support-agents/internal/models"
	"github.com/clearcart/support-agents/internal/orchestrator"
	"github.com/clearcart/support-agents/internal/storage"
)

const (
	maxMessageChars = 4000
	maxListLimit    = 100
)

type Options struct {
	Addr         string
	UserIDHeader string
}

type Server struct {
	opts          Options
	orchestrator  *orchestrator.Orchestrator
	conversations *conversation.Service
	catalog       *agents.Catalog
	limiter       *RateLimiter
	adapter       *StreamAdapter
	logger        *zap.Logger
	httpServer    *http.Server
}

func New(opts Options, orch *orchestrator.Orchestrator, conversations *conversation.Service, catalog *agents.Catalog, limiter *RateLimiter, logger *zap.Logger) *Server {
	return &Server{
		opts:          opts,
		orchestrator:  orch,
		conversations: conversations,
		catalog:       catalog,
		limiter:       limiter,
		adapter:       NewStreamAdapter(conversations, logger),
		logger:        logger,
	}
}

// Handler builds the full route and middleware stack.
func (s *Server) Handler() http.Handler {
	router := mux.NewRouter()

	router.HandleFunc("/api/chat/messages", s.handleChat).Methods("POST")
	router.HandleFunc("/api/chat/conversations", s.handleListConversations).Methods("GET")
	router.HandleFunc("/api/chat/conversations/{id}", s.handleGetConversation).Methods("GET")
	router.HandleFunc("/api/chat/conversations/{id}", s.handleDeleteConversation).Methods("DELETE")
	router.HandleFunc("/api/agents", s.handleListAgents).Methods("GET")
	router.HandleFunc("/api/agents/{type}/capabilities", s.handleAgentCapabilities).Methods("GET")

	// Origin throttling covers unauthenticated traffic too, so it wraps
	// identity; the per-user window needs the resolved identity beneath it.
	var handler http.Handler = router
	handler = s.limiter.UserMiddleware(handler)
	handler = identityMiddleware(s.opts.UserIDHeader, handler)
	handler = s.limiter.OriginMiddleware(handler)
	handler = loggingMiddleware(s.logger, handler)

	// Health stays outside identity and rate limiting
	root := mux.NewRouter()
	root.HandleFunc("/api/health", s.handleHealth).Methods("GET")
	root.PathPrefix("/api/").Handler(handler)
	return root
}

func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:        s.opts.Addr,
		Handler:     s.Handler(),
		ReadTimeout: time.Minute,
		// Chat responses stream for as long as the model produces output
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  time.Minute,
	}

	s.logger.Info("Server starting", zap.String("addr", s.opts.Addr))
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type chatRequest struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversationId"`
}

func (s *Server) handleChat(w http.ResponseWriter, req *http.Request) {
	userID := UserIDFromContext(req.Context())

	var body chatRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if body.Message == "" {
		writeError(w, http.StatusBadRequest, "Message is required")
		return
	}
	if len(body.Message) > maxMessageChars {
		writeError(w, http.StatusBadRequest, "Message exceeds maximum length")
		return
	}

	result, err := s.orchestrator.ProcessMessage(req.Context(), userID, body.Message, body.ConversationID)
	if err != nil {
		s.logger.Error("Failed to process message", zap.Error(err), zap.String("user_id", userID))
		writeError(w, http.StatusInternalServerError, "Failed to process message")
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	s.adapter.Drain(req.Context(), w, result)
}

func (s *Server) handleListConversations(w http.ResponseWriter, req *http.Request) {
	userID := UserIDFromContext(req.Context())

	limit := 20
	if raw := req.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	items, err := s.conversations.ListConversations(req.Context(), userID, limit)
	if err != nil {
		s.logger.Error("Failed to list conversations", zap.Error(err), zap.String("user_id", userID))
		writeError(w, http.StatusInternalServerError, "Failed to list conversations")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"conversations": items})
}

func (s *Server) handleGetConversation(w http.ResponseWriter, req *http.Request) {
	userID := UserIDFromContext(req.Context())
	conversationID := mux.Vars(req)["id"]

	history, err := s.conversations.GetConversationHistory(req.Context(), conversationID, userID)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Conversation not found")
		return
	}
	if err != nil {
		s.logger.Error("Failed to load conversation", zap.Error(err),
			zap.String("conversation_id", conversationID))
		writeError(w, http.StatusInternalServerError, "Failed to load conversation")
		return
	}

	var summary any
	if history.HasSummary {
		summary = history.Summary
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"conversation": history.Conversation,
		"messages":     history.Messages,
		"summary":      summary,
	})
}

func (s *Server) handleDeleteConversation(w http.ResponseWriter, req *http.Request) {
	userID := UserIDFromContext(req.Context())
	conversationID := mux.Vars(req)["id"]

	err := s.conversations.DeleteConversation(req.Context(), conversationID, userID)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Conversation not found or access denied")
		return
	}
	if err != nil {
		s.logger.Error("Failed to delete conversation", zap.Error(err),
			zap.String("conversation_id", conversationID))
		writeError(w, http.StatusInternalServerError, "Failed to delete conversation")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleListAgents(w http.ResponseWriter, _ *http.Request) {
	type agentInfo struct {
		Type         models.AgentType `json:"type"`
		Name         string           `json:"name"`
		Description  string           `json:"description"`
		Capabilities []string         `json:"capabilities"`
	}

	all := s.catalog.All()
	infos := make([]agentInfo, 0, len(all))
	for _, agent := range all {
		caps := agent.Capabilities()
		names := make([]string, 0, len(caps))
		for _, tool := range caps {
			names = append(names, tool.Name)
		}
		infos = append(infos, agentInfo{
			Type:         agent.Type,
			Name:         agent.Name,
			Description:  agent.Description,
			Capabilities: names,
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{"agents": infos})
}

func (s *Server) handleAgentCapabilities(w http.ResponseWriter, req *http.Request) {
	agentType := models.AgentType(mux.Vars(req)["type"])

	agent, ok := s.catalog.Lookup(agentType)
	if !ok {
		writeError(w, http.StatusNotFound, "Agent type not found")
		return
	}

	type toolInfo struct {
		Name        string          `json:"name"`
		Description string          `json:"description"`
		Parameters  json.RawMessage `json:"parameters"`
	}

	caps := agent.Capabilities()
	toolInfos := make([]toolInfo, 0, len(caps))
	for _, tool := range caps {
		toolInfos = append(toolInfos, toolInfo{
			Name:        tool.Name,
			Description: tool.Description,
			Parameters:  tool.Parameters,
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"type":        agent.Type,
		"name":        agent.Name,
		"description": agent.Description,
		"tools":       toolInfos,
	})
}
