package agents

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/clearcart/support-agents/internal/llm"
	"github.com/clearcart/support-agents/internal/models"
	"github.com/clearcart/support-agents/internal/tools"
)

const supportPrompt = `You are a Support Specialist.
- Use searchFAQ to find answers.
- Use conversationHistory when the user refers to something discussed earlier.
- Be concise and helpful.`

// NewSupportAgent handles general questions backed by the FAQ database and
// the caller's own conversation history.
func NewSupportAgent(svc *tools.Service, llmClient llm.Client, logger *zap.Logger) *Agent {
	return &Agent{
		Type:         models.AgentSupport,
		Name:         "Support Specialist",
		Description:  "General support questions, FAQs, product information, return policies, warranties, account issues",
		systemPrompt: supportPrompt,
		maxSteps:     5,
		llm:          llmClient,
		logger:       logger,
		bindTools: func(userID, conversationID string) *tools.Registry {
			return tools.NewRegistry(
				tools.Tool{
					Name:        "searchFAQ",
					Description: "Search the FAQ database",
					Parameters: json.RawMessage(`{
						"type": "object",
						"properties": {
							"query": {"type": "string", "description": "Search terms"}
						},
						"required": ["query"]
					}`),
					Execute: func(ctx context.Context, args json.RawMessage) any {
						var p struct {
							Query string `json:"query"`
						}
						if err := json.Unmarshal(args, &p); err != nil || p.Query == "" {
							return tools.LookupResult{Found: false, Message: "Invalid arguments: query is required."}
						}
						return svc.SearchFAQ(ctx, p.Query)
					},
				},
				tools.Tool{
					Name:        "conversationHistory",
					Description: "Look up earlier messages from this conversation",
					Parameters: json.RawMessage(`{
						"type": "object",
						"properties": {
							"limit": {"type": "integer", "description": "Maximum number of messages to return"}
						}
					}`),
					Execute: func(ctx context.Context, args json.RawMessage) any {
						var p struct {
							Limit int `json:"limit"`
						}
						// Optional argument; a decode failure just means defaults.
						_ = json.Unmarshal(args, &p)
						return svc.QueryConversationHistory(ctx, conversationID, userID, p.Limit)
					},
				},
			)
		},
	}
}
