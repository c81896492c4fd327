package orchestrator

import (
	"context"
	"fmt"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/clearcart/support-agents/internal/agents"
	"github.com/clearcart/support-agents/internal/conversation"
	"github.com/clearcart/support-agents/internal/models"
	"github.com/clearcart/support-agents/internal/router"
)

// Result hands the caller everything needed to drain one turn: the chunk
// stream, the conversation it belongs to, and the debug trace started here
// (tool names are appended by the stream adapter as they happen).
type Result struct {
	Stream       <-chan agents.Chunk
	Conversation *models.Conversation
	AgentType    models.AgentType
	DebugTrace   *models.DebugTrace
}

// Orchestrator composes routing, history compaction and specialist dispatch
// into the single processMessage pipeline.
type Orchestrator struct {
	conversations *conversation.Service
	router        *router.Router
	catalog       *agents.Catalog
	logger        *zap.Logger
}

func New(conversations *conversation.Service, intentRouter *router.Router, catalog *agents.Catalog, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		conversations: conversations,
		router:        intentRouter,
		catalog:       catalog,
		logger:        logger,
	}
}

// ProcessMessage resolves the conversation, compacts history, classifies
// the message, persists the user turn and dispatches to the specialist.
func (o *Orchestrator) ProcessMessage(ctx context.Context, userID, message, conversationID string) (*Result, error) {
	conv, err := o.conversations.GetOrCreateConversation(ctx, userID, conversationID)
	if err != nil {
		return nil, fmt.Errorf("resolving conversation: %w", err)
	}

	history, err := o.conversations.GetConversationHistory(ctx, conv.ID, userID)
	if err != nil {
		return nil, fmt.Errorf("loading history: %w", err)
	}

	routed := o.router.Classify(ctx, message)
	o.logger.Info("Routed message",
		zap.String("agent_type", string(routed.AgentType)),
		zap.String("rationale", routed.Rationale),
		zap.String("conversation_id", conv.ID))

	modelContext := make([]openai.ChatCompletionMessage, 0, len(history.Messages)+2)
	if history.HasSummary && history.Summary != "" {
		modelContext = append(modelContext, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: "[Previous conversation summary]: " + history.Summary,
		})
	}
	for _, msg := range history.Messages {
		switch msg.Role {
		case models.RoleUser, models.RoleAssistant, models.RoleSystem:
			modelContext = append(modelContext, openai.ChatCompletionMessage{
				Role:    string(msg.Role),
				Content: msg.Content,
			})
		}
	}

	if _, err := o.conversations.AddMessage(ctx, conversation.AddMessageParams{
		ConversationID: conv.ID,
		Role:           models.RoleUser,
		Content:        message,
	}); err != nil {
		return nil, fmt.Errorf("persisting user message: %w", err)
	}

	modelContext = append(modelContext, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: message,
	})

	agent := o.catalog.Get(routed.AgentType)

	return &Result{
		Stream:       agent.HandleQuery(ctx, modelContext, userID, conv.ID),
		Conversation: conv,
		AgentType:    agent.Type,
		DebugTrace: &models.DebugTrace{
			SelectedAgent:    agent.Type,
			Rationale:        routed.Rationale,
			ContextCompacted: history.HasSummary,
			ToolsCalled:      []string{},
		},
	}, nil
}
