package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/clearcart/support-agents/internal/agents"
	"github.com/clearcart/support-agents/internal/conversation"
	"github.com/clearcart/support-agents/internal/llm"
	"github.com/clearcart/support-agents/internal/models"
	"github.com/clearcart/support-agents/internal/router"
	"github.com/clearcart/support-agents/internal/storage"
	"github.com/clearcart/support-agents/internal/tools"
)

// scriptedStream replays deltas and then EOF.
type scriptedStream struct {
	responses []openai.ChatCompletionStreamResponse
	pos       int
}

func (s *scriptedStream) Recv() (openai.ChatCompletionStreamResponse, error) {
	if s.pos >= len(s.responses) {
		return openai.ChatCompletionStreamResponse{}, io.EOF
	}
	resp := s.responses[s.pos]
	s.pos++
	return resp, nil
}

func (s *scriptedStream) Close() error { return nil }

// scriptedLLM serves queued Complete responses and queued streams in order,
// recording every streaming request.
type scriptedLLM struct {
	completions    []string
	completionPos  int
	streams        []*scriptedStream
	streamRequests []openai.ChatCompletionRequest
}

func (f *scriptedLLM) Complete(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	if f.completionPos >= len(f.completions) {
		return openai.ChatCompletionResponse{}, errors.New("completion script exhausted")
	}
	content := f.completions[f.completionPos]
	f.completionPos++
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: content}},
		},
	}, nil
}

func (f *scriptedLLM) StreamChat(ctx context.Context, req openai.ChatCompletionRequest) (llm.Stream, error) {
	f.streamRequests = append(f.streamRequests, req)
	if len(f.streamRequests) > len(f.streams) {
		return nil, errors.New("stream script exhausted")
	}
	return f.streams[len(f.streamRequests)-1], nil
}

func textDelta(content string) openai.ChatCompletionStreamResponse {
	return openai.ChatCompletionStreamResponse{
		Choices: []openai.ChatCompletionStreamChoice{
			{Delta: openai.ChatCompletionStreamChoiceDelta{Content: content}},
		},
	}
}

func toolDelta(index int, id, name, args string) openai.ChatCompletionStreamResponse {
	idx := index
	return openai.ChatCompletionStreamResponse{
		Choices: []openai.ChatCompletionStreamChoice{
			{Delta: openai.ChatCompletionStreamChoiceDelta{
				ToolCalls: []openai.ToolCall{
					{Index: &idx, ID: id, Function: openai.FunctionCall{Name: name, Arguments: args}},
				},
			}},
		},
	}
}

func newTestOrchestrator(t *testing.T, model llm.Client) (*Orchestrator, *storage.MemoryStorage) {
	t.Helper()
	logger := zap.NewNop()
	store := storage.NewMemoryStorage()

	conversations := conversation.NewService(store, model, logger)
	intentRouter := router.New(model, logger)
	catalog := agents.NewCatalog(tools.NewService(store, logger), model, logger)

	return New(conversations, intentRouter, catalog, logger), store
}

func collect(stream <-chan agents.Chunk) []agents.Chunk {
	var chunks []agents.Chunk
	for chunk := range stream {
		chunks = append(chunks, chunk)
	}
	return chunks
}

func TestProcessMessageOrderLookup(t *testing.T) {
	model := &scriptedLLM{
		completions: []string{
			`{"agentType": "order", "rationale": "Asks where an order is."}`,
		},
		streams: []*scriptedStream{
			{responses: []openai.ChatCompletionStreamResponse{
				toolDelta(0, "call_1", "orderDetails", `{"orderNumber": "ORD-1002"}`),
			}},
			{responses: []openai.ChatCompletionStreamResponse{
				textDelta("Your order ORD-1002 has shipped, tracking TRK11223344."),
			}},
		},
	}
	orch, store := newTestOrchestrator(t, model)
	store.PutOrder(&models.Order{
		ID:             "order-1",
		OrderNumber:    "ORD-1002",
		UserID:         "alice",
		Status:         models.OrderShipped,
		TrackingNumber: "TRK11223344",
	})

	result, err := orch.ProcessMessage(context.Background(), "alice", "Where is my order ORD-1002?", "")
	require.NoError(t, err)
	assert.Equal(t, models.AgentOrder, result.AgentType)
	assert.Equal(t, models.AgentOrder, result.DebugTrace.SelectedAgent)
	assert.Equal(t, "Asks where an order is.", result.DebugTrace.Rationale)
	assert.False(t, result.DebugTrace.ContextCompacted)

	chunks := collect(result.Stream)

	var toolNames []string
	var text string
	for _, chunk := range chunks {
		switch chunk.Type {
		case agents.ChunkToolCall:
			toolNames = append(toolNames, chunk.ToolName)
		case agents.ChunkText:
			text += chunk.TextDelta
		}
	}
	assert.Equal(t, []string{"orderDetails"}, toolNames)
	assert.Contains(t, text, "TRK11223344")

	// The tool saw the real order
	var sawFound bool
	for _, chunk := range chunks {
		if chunk.Type == agents.ChunkToolResult {
			result, ok := chunk.Result.(tools.LookupResult)
			require.True(t, ok)
			sawFound = result.Found
		}
	}
	assert.True(t, sawFound)

	// The user turn was persisted and titled the conversation
	msgs, err := store.GetMessages(context.Background(), result.Conversation.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, models.RoleUser, msgs[0].Role)
	assert.Equal(t, "Where is my order ORD-1002?", msgs[0].Content)

	conv, err := store.GetConversation(context.Background(), result.Conversation.ID)
	require.NoError(t, err)
	assert.Equal(t, "Where is my order ORD-1002?", conv.Title)
}

func TestProcessMessageBillingAsksForTransactionID(t *testing.T) {
	model := &scriptedLLM{
		completions: []string{
			`{"agentType": "billing", "rationale": "Refund request."}`,
		},
		streams: []*scriptedStream{
			{responses: []openai.ChatCompletionStreamResponse{
				textDelta("Could you share the Transaction ID for the payment you want refunded?"),
			}},
		},
	}
	orch, _ := newTestOrchestrator(t, model)

	result, err := orch.ProcessMessage(context.Background(), "alice", "I want my refund", "")
	require.NoError(t, err)
	assert.Equal(t, models.AgentBilling, result.AgentType)

	chunks := collect(result.Stream)
	for _, chunk := range chunks {
		assert.NotEqual(t, agents.ChunkToolCall, chunk.Type, "no tool may run without a transaction id")
	}
}

func TestProcessMessageClassifierGarbageFallsBackToSupport(t *testing.T) {
	model := &scriptedLLM{
		completions: []string{"I am not sure what you mean."},
		streams: []*scriptedStream{
			{responses: []openai.ChatCompletionStreamResponse{textDelta("Happy to help!")}},
		},
	}
	orch, _ := newTestOrchestrator(t, model)

	result, err := orch.ProcessMessage(context.Background(), "alice", "hello?", "")
	require.NoError(t, err)
	assert.Equal(t, models.AgentSupport, result.AgentType)
	collect(result.Stream)
}

func TestProcessMessageInjectsSummary(t *testing.T) {
	model := &scriptedLLM{
		completions: []string{
			"Earlier the user asked about shipping times.", // summarizer
			`{"agentType": "support", "rationale": "General question."}`,
		},
		streams: []*scriptedStream{
			{responses: []openai.ChatCompletionStreamResponse{textDelta("Of course.")}},
		},
	}
	orch, store := newTestOrchestrator(t, model)

	conversations := conversation.NewService(store, model, zap.NewNop())
	conv, err := conversations.GetOrCreateConversation(context.Background(), "alice", "")
	require.NoError(t, err)
	for i := 0; i < conversation.SummarizationThreshold+1; i++ {
		_, err := conversations.AddMessage(context.Background(), conversation.AddMessageParams{
			ConversationID: conv.ID,
			Role:           models.RoleAssistant,
			Content:        fmt.Sprintf("turn %d", i),
		})
		require.NoError(t, err)
	}

	result, err := orch.ProcessMessage(context.Background(), "alice", "One more question", conv.ID)
	require.NoError(t, err)
	assert.True(t, result.DebugTrace.ContextCompacted)
	collect(result.Stream)

	require.Len(t, model.streamRequests, 1)
	var sawSummary bool
	for _, msg := range model.streamRequests[0].Messages {
		if msg.Role == openai.ChatMessageRoleSystem &&
			msg.Content == "[Previous conversation summary]: Earlier the user asked about shipping times." {
			sawSummary = true
		}
	}
	assert.True(t, sawSummary, "compacted context must reach the specialist as a system turn")
}

func TestProcessMessageReusesConversation(t *testing.T) {
	model := &scriptedLLM{
		completions: []string{
			`{"agentType": "support", "rationale": "Greeting."}`,
			`{"agentType": "support", "rationale": "Greeting."}`,
		},
		streams: []*scriptedStream{
			{responses: []openai.ChatCompletionStreamResponse{textDelta("Hello!")}},
			{responses: []openai.ChatCompletionStreamResponse{textDelta("Hello again!")}},
		},
	}
	orch, _ := newTestOrchestrator(t, model)

	first, err := orch.ProcessMessage(context.Background(), "alice", "hi", "")
	require.NoError(t, err)
	collect(first.Stream)

	second, err := orch.ProcessMessage(context.Background(), "alice", "hi again", first.Conversation.ID)
	require.NoError(t, err)
	collect(second.Stream)

	assert.Equal(t, first.Conversation.ID, second.Conversation.ID)

	// A different user presenting the same id gets a fresh conversation
	model.completions = append(model.completions, `{"agentType": "support", "rationale": "Greeting."}`)
	model.streams = append(model.streams, &scriptedStream{
		responses: []openai.ChatCompletionStreamResponse{textDelta("Hi!")},
	})
	third, err := orch.ProcessMessage(context.Background(), "mallory", "hi", first.Conversation.ID)
	require.NoError(t, err)
	collect(third.Stream)
	assert.NotEqual(t, first.Conversation.ID, third.Conversation.ID)
}
