package router

import (
	"context"
	"errors"
	"testing"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/clearcart/support-agents/internal/llm"
	"github.com/clearcart/support-agents/internal/models"
)

type fakeLLM struct {
	content string
	err     error
}

func (f *fakeLLM) Complete(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	if f.err != nil {
		return openai.ChatCompletionResponse{}, f.err
	}
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: f.content}},
		},
	}, nil
}

func (f *fakeLLM) StreamChat(ctx context.Context, req openai.ChatCompletionRequest) (llm.Stream, error) {
	return nil, errors.New("not implemented")
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name          string
		content       string
		err           error
		wantAgent     models.AgentType
		wantRationale string
	}{
		{
			name:      "clean JSON",
			content:   `{"agentType": "order", "rationale": "Asks about a delivery."}`,
			wantAgent: models.AgentOrder,
		},
		{
			name:      "JSON wrapped in prose",
			content:   "Sure! Here is the classification:\n```json\n{\"agentType\": \"billing\", \"rationale\": \"Refund request.\"}\n```\nLet me know.",
			wantAgent: models.AgentBilling,
		},
		{
			name:          "model error falls open to support",
			err:           errors.New("upstream timeout"),
			wantAgent:     models.AgentSupport,
			wantRationale: fallbackRationale,
		},
		{
			name:          "no JSON object at all",
			content:       "I think this is about orders.",
			wantAgent:     models.AgentSupport,
			wantRationale: fallbackRationale,
		},
		{
			name:          "malformed JSON",
			content:       `{"agentType": "order", "rationale": `,
			wantAgent:     models.AgentSupport,
			wantRationale: fallbackRationale,
		},
		{
			name:          "unknown agent type",
			content:       `{"agentType": "shipping", "rationale": "Sounds logistical."}`,
			wantAgent:     models.AgentSupport,
			wantRationale: fallbackRationale,
		},
		{
			name:      "missing rationale still classifies",
			content:   `{"agentType": "support"}`,
			wantAgent: models.AgentSupport,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := New(&fakeLLM{content: tt.content, err: tt.err}, zap.NewNop())

			result := r.Classify(context.Background(), "some message")

			assert.True(t, result.AgentType.Valid(), "agent type must always be valid")
			assert.Equal(t, tt.wantAgent, result.AgentType)
			assert.NotEmpty(t, result.Rationale, "rationale must never be empty")
			if tt.wantRationale != "" {
				assert.Equal(t, tt.wantRationale, result.Rationale)
			}
		})
	}
}

func TestExtractJSONObject(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"bare object", `{"a": 1}`, `{"a": 1}`},
		{"nested object", `text {"a": {"b": 2}} tail`, `{"a": {"b": 2}}`},
		{"braces inside strings", `{"a": "{not a brace}"}`, `{"a": "{not a brace}"}`},
		{"escaped quote in string", `{"a": "say \"hi\" {"}`, `{"a": "say \"hi\" {"}`},
		{"no object", "plain text", ""},
		{"unterminated", `{"a": 1`, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, extractJSONObject(tt.in))
		})
	}
}
