package agents

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/clearcart/support-agents/internal/llm"
	"github.com/clearcart/support-agents/internal/models"
	"github.com/clearcart/support-agents/internal/tools"
)

// ChunkType tags one unit of an agent's incremental output.
type ChunkType string

const (
	ChunkText       ChunkType = "text-delta"
	ChunkToolCall   ChunkType = "tool-call"
	ChunkToolResult ChunkType = "tool-result"
	ChunkError      ChunkType = "error"
)

// Chunk is the tagged union flowing from the agent loop to the stream
// adapter. Consumers must ignore types they do not recognize.
type Chunk struct {
	Type      ChunkType
	TextDelta string
	ToolName  string
	Args      string
	Result    any
	Err       error
}

// Agent is one specialist: a persona prompt, a bounded tool budget, and a
// binder that closes its tool set over the caller's identity.
type Agent struct {
	Type        models.AgentType
	Name        string
	Description string

	systemPrompt string
	maxSteps     int
	llm          llm.Client
	logger       *zap.Logger
	bindTools    func(userID, conversationID string) *tools.Registry
}

// Capabilities lists the agent's tools without binding them to anyone.
func (a *Agent) Capabilities() []tools.Tool {
	return a.bindTools("", "").List()
}

// HandleQuery starts the agent on the assembled context and returns the
// chunk stream. The channel is closed when the model produces a final
// text-only turn, the step budget runs out, or an error chunk is emitted.
func (a *Agent) HandleQuery(ctx context.Context, history []openai.ChatCompletionMessage, userID, conversationID string) <-chan Chunk {
	ch := make(chan Chunk, 16)
	go a.run(ctx, ch, history, userID, conversationID)
	return ch
}

func (a *Agent) run(ctx context.Context, ch chan<- Chunk, history []openai.ChatCompletionMessage, userID, conversationID string) {
	defer close(ch)

	registry := a.bindTools(userID, conversationID)

	messages := make([]openai.ChatCompletionMessage, 0, len(history)+1)
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: a.systemPrompt,
	})
	messages = append(messages, history...)

	for step := 0; step < a.maxSteps; step++ {
		stream, err := a.llm.StreamChat(ctx, openai.ChatCompletionRequest{
			Messages: messages,
			Tools:    registry.OpenAITools(),
		})
		if err != nil {
			a.logger.Error("Failed to start model stream",
				zap.Error(err),
				zap.String("agent_type", string(a.Type)))
			ch <- Chunk{Type: ChunkError, Err: err}
			return
		}

		content, calls, err := a.drainModelStream(stream, ch)
		if err != nil {
			a.logger.Error("Model stream failed",
				zap.Error(err),
				zap.String("agent_type", string(a.Type)))
			ch <- Chunk{Type: ChunkError, Err: err}
			return
		}

		if len(calls) == 0 {
			// Final text-only turn
			return
		}

		messages = append(messages, openai.ChatCompletionMessage{
			Role:      openai.ChatMessageRoleAssistant,
			Content:   content,
			ToolCalls: calls,
		})

		for _, call := range calls {
			ch <- Chunk{
				Type:     ChunkToolCall,
				ToolName: call.Function.Name,
				Args:     call.Function.Arguments,
			}

			result := a.dispatch(ctx, registry, call)
			ch <- Chunk{Type: ChunkToolResult, ToolName: call.Function.Name, Result: result}

			resultJSON, err := json.Marshal(result)
			if err != nil {
				resultJSON = []byte(`{"success":false,"message":"Tool result could not be encoded."}`)
			}
			messages = append(messages, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    string(resultJSON),
				ToolCallID: call.ID,
			})
		}
	}

	a.logger.Warn("Agent step budget exhausted",
		zap.String("agent_type", string(a.Type)),
		zap.Int("max_steps", a.maxSteps))
}

// drainModelStream consumes one model turn, forwarding text deltas as they
// arrive and assembling any tool calls from their argument fragments.
func (a *Agent) drainModelStream(stream llm.Stream, ch chan<- Chunk) (string, []openai.ToolCall, error) {
	defer stream.Close()

	var content string
	pending := make(map[int]*openai.ToolCall)

	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return content, nil, err
		}
		if len(resp.Choices) == 0 {
			continue
		}

		delta := resp.Choices[0].Delta
		if delta.Content != "" {
			content += delta.Content
			ch <- Chunk{Type: ChunkText, TextDelta: delta.Content}
		}

		for _, tc := range delta.ToolCalls {
			idx := 0
			if tc.Index != nil {
				idx = *tc.Index
			}
			call, ok := pending[idx]
			if !ok {
				call = &openai.ToolCall{Type: openai.ToolTypeFunction}
				pending[idx] = call
			}
			if tc.ID != "" {
				call.ID = tc.ID
			}
			if tc.Function.Name != "" {
				call.Function.Name = tc.Function.Name
			}
			call.Function.Arguments += tc.Function.Arguments
		}
	}

	if len(pending) == 0 {
		return content, nil, nil
	}

	indexes := make([]int, 0, len(pending))
	for idx := range pending {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)

	calls := make([]openai.ToolCall, 0, len(pending))
	for _, idx := range indexes {
		calls = append(calls, *pending[idx])
	}
	return content, calls, nil
}

// dispatch resolves the named tool and runs it. An unknown name or bad
// arguments come back as a structured failure for the model to recover from.
func (a *Agent) dispatch(ctx context.Context, registry *tools.Registry, call openai.ToolCall) any {
	tool, ok := registry.Get(call.Function.Name)
	if !ok {
		a.logger.Warn("Model requested unknown tool",
			zap.String("tool", call.Function.Name),
			zap.String("agent_type", string(a.Type)))
		return tools.ActionResult{
			Success: false,
			Message: fmt.Sprintf("Unknown tool: %s", call.Function.Name),
		}
	}

	return tool.Execute(ctx, json.RawMessage(call.Function.Arguments))
}
