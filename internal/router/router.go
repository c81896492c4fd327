package router

import (
	"context"
	"encoding/json"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/clearcart/support-agents/internal/llm"
	"github.com/clearcart/support-agents/internal/models"
)

const fallbackRationale = "Error during classification, defaulting to support agent."

const systemInstruction = `You are a routing agent for a customer support system. Analyze the user's message and determine which specialized agent should handle it.

Available agents:
- "support": General support questions, FAQs, product information, return policies, warranties, account issues
- "order": Order tracking, delivery status, order cancellation, shipping questions
- "billing": Payment issues, refunds, invoices, subscription queries, transaction status

Respond with a JSON object: {"agentType": "support" | "order" | "billing", "rationale": "one sentence"}`

// Router classifies a message into one of the specialist categories.
type Router struct {
	llm    llm.Client
	logger *zap.Logger
}

func New(llmClient llm.Client, logger *zap.Logger) *Router {
	return &Router{llm: llmClient, logger: logger}
}

// Classify never fails: a model error, a response without a JSON object, or
// an unknown agent type all fall open to the support agent. Misrouting to
// the general agent beats blocking the pipeline.
func (r *Router) Classify(ctx context.Context, message string) models.RouterResult {
	fallback := models.RouterResult{
		AgentType: models.AgentSupport,
		Rationale: fallbackRationale,
	}

	resp, err := r.llm.Complete(ctx, openai.ChatCompletionRequest{
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemInstruction},
			{Role: openai.ChatMessageRoleUser, Content: message},
		},
	})
	if err != nil || len(resp.Choices) == 0 {
		r.logger.Error("Failed to get routing response", zap.Error(err))
		return fallback
	}

	raw := extractJSONObject(resp.Choices[0].Message.Content)
	if raw == "" {
		r.logger.Error("No JSON object in routing response",
			zap.String("response", resp.Choices[0].Message.Content))
		return fallback
	}

	var result models.RouterResult
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		r.logger.Error("Failed to parse routing response",
			zap.Error(err),
			zap.String("response", raw))
		return fallback
	}

	if !result.AgentType.Valid() {
		r.logger.Warn("Unknown agent type in routing response",
			zap.String("agent_type", string(result.AgentType)))
		return fallback
	}
	if result.Rationale == "" {
		result.Rationale = "No rationale provided."
	}

	r.logger.Info("Classified message",
		zap.String("agent_type", string(result.AgentType)),
		zap.String("rationale", result.Rationale))
	return result
}

// extractJSONObject returns the first balanced brace-delimited object in s,
// or "" if none exists. Models often wrap the object in prose or fences.
func extractJSONObject(s string) string {
	start := -1
	depth := 0
	inString := false
	escaped := false

	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}

		switch c {
		case '"':
			if start >= 0 {
				inString = true
			}
		case '{':
			if start < 0 {
				start = i
			}
			depth++
		case '}':
			if start >= 0 {
				depth--
				if depth == 0 {
					return s[start : i+1]
				}
			}
		}
	}

	return ""
}
