package llm

import (
	"context"

	"github.com/sashabaranov/go-openai"
)

// Stream is the incremental side of a chat completion. It is satisfied by
// *openai.ChatCompletionStream and by scripted fakes in tests.
type Stream interface {
	Recv() (openai.ChatCompletionStreamResponse, error)
	Close() error
}

// Client is the language-model capability. Given a prompt and an optional
// tool schema it produces text and/or tool invocations, atomically via
// Complete or incrementally via StreamChat.
type Client interface {
	Complete(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
	StreamChat(ctx context.Context, req openai.ChatCompletionRequest) (Stream, error)
}

// OpenAIClient calls the OpenAI chat completion API. Requests that leave
// model or sampling parameters unset get the configured defaults.
type OpenAIClient struct {
	client      *openai.Client
	model       string
	maxTokens   int
	temperature float64
}

func NewOpenAIClient(apiKey string, model string, maxTokens int, temperature float64) *OpenAIClient {
	return &OpenAIClient{
		client:      openai.NewClient(apiKey),
		model:       model,
		maxTokens:   maxTokens,
		temperature: temperature,
	}
}

func (c *OpenAIClient) applyDefaults(req *openai.ChatCompletionRequest) {
	if req.Model == "" {
		req.Model = c.model
	}
	if req.MaxTokens == 0 {
		req.MaxTokens = c.maxTokens
	}
	if req.Temperature == 0 {
		req.Temperature = float32(c.temperature)
	}
}

func (c *OpenAIClient) Complete(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	c.applyDefaults(&req)
	return c.client.CreateChatCompletion(ctx, req)
}

func (c *OpenAIClient) StreamChat(ctx context.Context, req openai.ChatCompletionRequest) (Stream, error) {
	c.applyDefaults(&req)
	return c.client.CreateChatCompletionStream(ctx, req)
}
