package agents

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/clearcart/support-agents/internal/llm"
	"github.com/clearcart/support-agents/internal/models"
	"github.com/clearcart/support-agents/internal/tools"
)

const billingPrompt = `You are an expert Billing Specialist.
Your goal is to assist users with payments, refunds, and invoices.
1. ALWAYS acknowledge the user's request immediately in your first response.
2. If the user wants a refund, you MUST ask for the Transaction ID if they haven't provided it.
3. Use the tools available to check facts before making promises.
4. Keep your responses concise but professional.`

// NewBillingAgent handles payments, refunds and invoices.
func NewBillingAgent(svc *tools.Service, llmClient llm.Client, logger *zap.Logger) *Agent {
	return &Agent{
		Type:         models.AgentBilling,
		Name:         "Billing Specialist",
		Description:  "Payment issues, refunds, invoices, subscription queries, transaction status",
		systemPrompt: billingPrompt,
		maxSteps:     5,
		llm:          llmClient,
		logger:       logger,
		bindTools: func(userID, conversationID string) *tools.Registry {
			return tools.NewRegistry(
				tools.Tool{
					Name:        "processRefund",
					Description: "Initiate a refund. Requires a valid transactionId.",
					Parameters: json.RawMessage(`{
						"type": "object",
						"properties": {
							"transactionId": {"type": "string", "description": "The unique ID of the transaction to refund"},
							"amount": {"type": "number", "description": "The amount to refund"}
						},
						"required": ["transactionId", "amount"]
					}`),
					Execute: func(ctx context.Context, args json.RawMessage) any {
						var p struct {
							TransactionID string  `json:"transactionId"`
							Amount        float64 `json:"amount"`
						}
						if err := json.Unmarshal(args, &p); err != nil || p.TransactionID == "" {
							return tools.ActionResult{Success: false, Message: "Invalid arguments: transactionId and amount are required."}
						}
						return svc.ProcessRefund(ctx, p.TransactionID, p.Amount, userID)
					},
				},
				tools.Tool{
					Name:        "refundStatus",
					Description: "Check the refund status of a transaction",
					Parameters: json.RawMessage(`{
						"type": "object",
						"properties": {
							"transactionId": {"type": "string", "description": "The transaction ID to check"}
						},
						"required": ["transactionId"]
					}`),
					Execute: func(ctx context.Context, args json.RawMessage) any {
						var p struct {
							TransactionID string `json:"transactionId"`
						}
						if err := json.Unmarshal(args, &p); err != nil || p.TransactionID == "" {
							return tools.LookupResult{Found: false, Message: "Invalid arguments: transactionId is required."}
						}
						return svc.CheckRefundStatus(ctx, p.TransactionID, userID)
					},
				},
				tools.Tool{
					Name:        "invoiceDetails",
					Description: "Fetch an invoice by its number",
					Parameters: json.RawMessage(`{
						"type": "object",
						"properties": {
							"invoiceNumber": {"type": "string", "description": "The invoice number, e.g. INV-2001"}
						},
						"required": ["invoiceNumber"]
					}`),
					Execute: func(ctx context.Context, args json.RawMessage) any {
						var p struct {
							InvoiceNumber string `json:"invoiceNumber"`
						}
						if err := json.Unmarshal(args, &p); err != nil || p.InvoiceNumber == "" {
							return tools.LookupResult{Found: false, Message: "Invalid arguments: invoiceNumber is required."}
						}
						return svc.GetInvoiceDetails(ctx, p.InvoiceNumber, userID)
					},
				},
				tools.Tool{
					Name:        "paymentHistory",
					Description: "Fetch the user payment history.",
					Parameters: json.RawMessage(`{
						"type": "object",
						"properties": {
							"limit": {"type": "integer", "description": "Maximum number of payments to return"}
						}
					}`),
					Execute: func(ctx context.Context, args json.RawMessage) any {
						var p struct {
							Limit int `json:"limit"`
						}
						// Optional argument; a decode failure just means defaults.
						_ = json.Unmarshal(args, &p)
						if p.Limit <= 0 {
							p.Limit = 5
						}
						return svc.GetPaymentHistory(ctx, userID, p.Limit)
					},
				},
			)
		},
	}
}
