package agents

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/clearcart/support-agents/internal/llm"
	"github.com/clearcart/support-agents/internal/models"
	"github.com/clearcart/support-agents/internal/tools"
)

const orderPrompt = `You are an Order Specialist.
- Help check order status and manage deliveries.
- Use orderDetails first.
- Never promise a cancellation before cancelOrder succeeds.`

// NewOrderAgent handles order tracking, delivery status and cancellations.
func NewOrderAgent(svc *tools.Service, llmClient llm.Client, logger *zap.Logger) *Agent {
	orderNumberParams := json.RawMessage(`{
		"type": "object",
		"properties": {
			"orderNumber": {"type": "string", "description": "The order number, e.g. ORD-1001"}
		},
		"required": ["orderNumber"]
	}`)

	decodeOrderNumber := func(args json.RawMessage) (string, bool) {
		var p struct {
			OrderNumber string `json:"orderNumber"`
		}
		if err := json.Unmarshal(args, &p); err != nil || p.OrderNumber == "" {
			return "", false
		}
		return p.OrderNumber, true
	}

	return &Agent{
		Type:         models.AgentOrder,
		Name:         "Order Specialist",
		Description:  "Order tracking, delivery status, order cancellation, shipping questions",
		systemPrompt: orderPrompt,
		maxSteps:     5,
		llm:          llmClient,
		logger:       logger,
		bindTools: func(userID, conversationID string) *tools.Registry {
			return tools.NewRegistry(
				tools.Tool{
					Name:        "orderDetails",
					Description: "Get order details",
					Parameters:  orderNumberParams,
					Execute: func(ctx context.Context, args json.RawMessage) any {
						orderNumber, ok := decodeOrderNumber(args)
						if !ok {
							return tools.LookupResult{Found: false, Message: "Invalid arguments: orderNumber is required."}
						}
						return svc.GetOrderDetails(ctx, orderNumber, userID)
					},
				},
				tools.Tool{
					Name:        "deliveryStatus",
					Description: "Check the delivery status of an order",
					Parameters:  orderNumberParams,
					Execute: func(ctx context.Context, args json.RawMessage) any {
						orderNumber, ok := decodeOrderNumber(args)
						if !ok {
							return tools.LookupResult{Found: false, Message: "Invalid arguments: orderNumber is required."}
						}
						return svc.CheckDeliveryStatus(ctx, orderNumber, userID)
					},
				},
				tools.Tool{
					Name:        "cancelOrder",
					Description: "Cancel an order that has not shipped yet",
					Parameters:  orderNumberParams,
					Execute: func(ctx context.Context, args json.RawMessage) any {
						orderNumber, ok := decodeOrderNumber(args)
						if !ok {
							return tools.ActionResult{Success: false, Message: "Invalid arguments: orderNumber is required."}
						}
						return svc.CancelOrder(ctx, orderNumber, userID)
					},
				},
			)
		},
	}
}
