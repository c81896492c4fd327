package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/clearcart/support-agents/internal/agents"
	"github.com/clearcart/support-agents/internal/conversation"
	"github.com/clearcart/support-agents/internal/models"
	"github.com/clearcart/support-agents/internal/orchestrator"
)

// emptyResponseFallback replaces an assistant turn that produced neither
// text nor tool calls, so the client never sees an empty message.
const emptyResponseFallback = "I wasn't able to generate a response for that. Could you rephrase your question?"

const persistTimeout = 15 * time.Second

// streamErrorText is shown when the agent stream fails mid-turn. It joins
// the accumulated content so the persisted transcript matches what the
// client saw.
const streamErrorText = "\n\n[System Error]: The response could not be completed."

// streamEvent is one unit of the client-facing protocol, written as one
// JSON object per line.
type streamEvent struct {
	Type           string                  `json:"type"`
	Status         string                  `json:"status,omitempty"`
	AgentType      models.AgentType        `json:"agentType,omitempty"`
	Content        string                  `json:"content,omitempty"`
	Message        string                  `json:"message,omitempty"`
	ConversationID string                  `json:"conversationId,omitempty"`
	DebugTrace     *models.DebugTrace      `json:"debugTrace,omitempty"`
	ToolCalls      []models.ToolCallRecord `json:"toolCalls,omitempty"`
}

// StreamAdapter turns a specialist's chunk stream into the normalized event
// sequence, accumulates the final content, persists the assistant turn and
// guarantees the stream ends with exactly one done event.
type StreamAdapter struct {
	conversations *conversation.Service
	logger        *zap.Logger
}

func NewStreamAdapter(conversations *conversation.Service, logger *zap.Logger) *StreamAdapter {
	return &StreamAdapter{conversations: conversations, logger: logger}
}

// eventWriter emits newline-delimited JSON events. Once the client is gone
// it swallows writes so draining and persistence can continue.
type eventWriter struct {
	ctx        context.Context
	w          http.ResponseWriter
	flusher    http.Flusher
	clientGone bool
}

func (ew *eventWriter) emit(event streamEvent) {
	if ew.clientGone || ew.ctx.Err() != nil {
		ew.clientGone = true
		return
	}

	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	if _, err := ew.w.Write(append(data, '\n')); err != nil {
		ew.clientGone = true
		return
	}
	if ew.flusher != nil {
		ew.flusher.Flush()
	}
}

// Drain consumes the agent stream to completion. Chunk types it does not
// recognize are skipped, keeping the protocol open to new chunk kinds.
func (a *StreamAdapter) Drain(ctx context.Context, w http.ResponseWriter, result *orchestrator.Result) {
	flusher, _ := w.(http.Flusher)
	ew := &eventWriter{ctx: ctx, w: w, flusher: flusher}

	ew.emit(streamEvent{
		Type:      "thinking",
		Status:    fmt.Sprintf("Routing to %s agent...", result.AgentType),
		AgentType: result.AgentType,
	})

	var content string
	var toolCalls []models.ToolCallRecord

	for chunk := range result.Stream {
		switch chunk.Type {
		case agents.ChunkText:
			content += chunk.TextDelta
			ew.emit(streamEvent{Type: "text", Content: chunk.TextDelta})

		case agents.ChunkToolCall:
			toolCalls = append(toolCalls, models.ToolCallRecord{
				Tool: chunk.ToolName,
				Args: chunk.Args,
			})
			ew.emit(streamEvent{
				Type:   "thinking",
				Status: fmt.Sprintf("Using %s...", chunk.ToolName),
			})

		case agents.ChunkToolResult:
			ew.emit(streamEvent{Type: "thinking", Status: "Composing response..."})

		case agents.ChunkError:
			a.logger.Error("Agent stream failed",
				zap.Error(chunk.Err),
				zap.String("conversation_id", result.Conversation.ID))
			content += streamErrorText
			ew.emit(streamEvent{Type: "text", Content: streamErrorText})

		default:
			// Unknown chunk kinds are skipped for forward compatibility.
		}
	}

	if content == "" && len(toolCalls) == 0 {
		content = emptyResponseFallback
		ew.emit(streamEvent{Type: "text", Content: content})
	}

	trace := result.DebugTrace
	trace.ToolsCalled = make([]string, 0, len(toolCalls))
	for _, call := range toolCalls {
		trace.ToolsCalled = append(trace.ToolsCalled, call.Tool)
	}

	// Persist with a detached context: an aborted client must not lose the
	// generated content.
	persistCtx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	if _, err := a.conversations.AddMessage(persistCtx, conversation.AddMessageParams{
		ConversationID: result.Conversation.ID,
		Role:           models.RoleAssistant,
		Content:        content,
		AgentType:      result.AgentType,
		ToolCalls:      toolCalls,
		DebugTrace:     trace,
	}); err != nil {
		// Content already reached the client; log and close out normally.
		a.logger.Error("Failed to persist assistant message",
			zap.Error(err),
			zap.String("conversation_id", result.Conversation.ID))
	}

	ew.emit(streamEvent{
		Type:           "done",
		ConversationID: result.Conversation.ID,
		AgentType:      result.AgentType,
		DebugTrace:     trace,
		ToolCalls:      toolCalls,
	})
}
