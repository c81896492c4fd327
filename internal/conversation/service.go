package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/clearcart/support-agents/internal/llm"
	"github.com/clearcart/support-agents/internal/models"
	"github.com/clearcart/support-agents/internal/storage"
)

// SummarizationThreshold is the message count above which older history is
// compacted into a cached summary.
const SummarizationThreshold = 10

const (
	defaultTitle  = "New conversation"
	titleMaxChars = 50

	// fallbackSummary is stored when the model cannot produce a summary, so
	// a history fetch never fails on compaction alone.
	fallbackSummary = "Previous conversation context (summarization failed)"

	summarizerInstruction = "Summarize the following conversation history concisely, " +
		"preserving key context, user preferences, and unresolved issues. Keep it under 200 words."
)

// History is a conversation's context ready for an agent: the recent
// messages plus, once the conversation outgrows the threshold, a summary
// of everything older.
type History struct {
	Conversation *models.Conversation
	Messages     []*models.Message
	Summary      string
	HasSummary   bool
}

// ListItem pairs a conversation with its latest message for list views.
type ListItem struct {
	Conversation *models.Conversation `json:"conversation"`
	LastMessage  *models.Message      `json:"last_message,omitempty"`
}

// AddMessageParams carries one turn to persist.
type AddMessageParams struct {
	ConversationID string
	Role           models.Role
	Content        string
	AgentType      models.AgentType
	ToolCalls      []models.ToolCallRecord
	DebugTrace     *models.DebugTrace
}

type Service struct {
	store  storage.ConversationStorage
	llm    llm.Client
	logger *zap.Logger
}

func NewService(store storage.ConversationStorage, llmClient llm.Client, logger *zap.Logger) *Service {
	return &Service{
		store:  store,
		llm:    llmClient,
		logger: logger,
	}
}

// GetOrCreateConversation returns the conversation when the id is supplied
// and owned by userID, and otherwise starts a fresh one.
func (s *Service) GetOrCreateConversation(ctx context.Context, userID, conversationID string) (*models.Conversation, error) {
	if conversationID != "" {
		existing, err := s.store.GetConversationForUser(ctx, conversationID, userID)
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return nil, err
		}
	}

	conv := &models.Conversation{
		ID:     uuid.New().String(),
		UserID: userID,
		Title:  defaultTitle,
	}
	if err := s.store.CreateConversation(ctx, conv); err != nil {
		return nil, err
	}

	return conv, nil
}

// GetConversationHistory loads the conversation's context for userID.
// Conversations at or under the threshold come back whole; longer ones are
// split and the older part replaced with a cached summary, regenerated only
// when the cached copy no longer covers exactly the old messages.
func (s *Service) GetConversationHistory(ctx context.Context, conversationID, userID string) (*History, error) {
	conv, err := s.store.GetConversationForUser(ctx, conversationID, userID)
	if err != nil {
		return nil, err
	}

	messages, err := s.store.GetMessages(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	if len(messages) <= SummarizationThreshold {
		return &History{Conversation: conv, Messages: messages}, nil
	}

	old := messages[:len(messages)-SummarizationThreshold]
	recent := messages[len(messages)-SummarizationThreshold:]

	summary, err := s.store.GetSummary(ctx, conversationID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}

	if summary == nil || summary.MessageCount != len(old) {
		text := s.generateSummary(ctx, old)
		summary = &models.ConversationSummary{
			ConversationID: conversationID,
			Summary:        text,
			MessageCount:   len(old),
		}
		if err := s.store.UpsertSummary(ctx, summary); err != nil {
			return nil, err
		}
	}

	return &History{
		Conversation: conv,
		Messages:     recent,
		Summary:      summary.Summary,
		HasSummary:   true,
	}, nil
}

func (s *Service) generateSummary(ctx context.Context, messages []*models.Message) string {
	var b strings.Builder
	for _, msg := range messages {
		fmt.Fprintf(&b, "%s: %s\n", msg.Role, msg.Content)
	}

	resp, err := s.llm.Complete(ctx, openai.ChatCompletionRequest{
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: summarizerInstruction},
			{Role: openai.ChatMessageRoleUser, Content: b.String()},
		},
	})
	if err != nil || len(resp.Choices) == 0 {
		s.logger.Error("Failed to summarize conversation", zap.Error(err))
		return fallbackSummary
	}

	return strings.TrimSpace(resp.Choices[0].Message.Content)
}

// AddMessage appends a turn, bumps the conversation's update timestamp and,
// on the conversation's very first user message, rewrites the placeholder
// title to a truncated prefix of that message.
func (s *Service) AddMessage(ctx context.Context, params AddMessageParams) (*models.Message, error) {
	msg := &models.Message{
		ID:             uuid.New().String(),
		ConversationID: params.ConversationID,
		Role:           params.Role,
		Content:        params.Content,
		AgentType:      params.AgentType,
		ToolCalls:      params.ToolCalls,
		DebugTrace:     params.DebugTrace,
	}

	if err := s.store.CreateMessage(ctx, msg); err != nil {
		return nil, err
	}

	if err := s.store.TouchConversation(ctx, params.ConversationID); err != nil {
		s.logger.Error("Failed to touch conversation",
			zap.Error(err),
			zap.String("conversation_id", params.ConversationID))
	}

	if params.Role == models.RoleUser {
		s.maybeSetTitle(ctx, params.ConversationID, params.Content)
	}

	return msg, nil
}

func (s *Service) maybeSetTitle(ctx context.Context, conversationID, content string) {
	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil || conv.Title != defaultTitle {
		return
	}

	userCount, err := s.store.CountMessagesByRole(ctx, conversationID, models.RoleUser)
	if err != nil || userCount != 1 {
		return
	}

	title := content
	if runes := []rune(title); len(runes) > titleMaxChars {
		// Truncate on a rune boundary; a byte slice could split a
		// multibyte character and Postgres rejects invalid UTF-8.
		title = string(runes[:titleMaxChars]) + "..."
	}
	if err := s.store.UpdateConversationTitle(ctx, conversationID, title); err != nil {
		s.logger.Error("Failed to set conversation title",
			zap.Error(err),
			zap.String("conversation_id", conversationID))
	}
}

// ListConversations returns the user's conversations, most recently updated
// first, each with its latest message as a preview.
func (s *Service) ListConversations(ctx context.Context, userID string, limit int) ([]ListItem, error) {
	convs, err := s.store.ListConversations(ctx, userID, limit)
	if err != nil {
		return nil, err
	}

	items := make([]ListItem, 0, len(convs))
	for _, conv := range convs {
		item := ListItem{Conversation: conv}
		last, err := s.store.LatestMessage(ctx, conv.ID)
		if err == nil {
			item.LastMessage = last
		} else if !errors.Is(err, storage.ErrNotFound) {
			return nil, err
		}
		items = append(items, item)
	}

	return items, nil
}

// DeleteConversation removes the conversation and everything under it.
// A conversation owned by someone else is indistinguishable from a missing
// one: both report ErrNotFound.
func (s *Service) DeleteConversation(ctx context.Context, conversationID, userID string) error {
	if _, err := s.store.GetConversationForUser(ctx, conversationID, userID); err != nil {
		return err
	}
	return s.store.DeleteConversation(ctx, conversationID)
}

// UserOwnsConversation gates tool access to conversation data, so it never
// fails: any lookup error reads as "not yours".
func (s *Service) UserOwnsConversation(ctx context.Context, conversationID, userID string) bool {
	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return false
	}
	return conv.UserID == userID
}
