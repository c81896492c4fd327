package tools

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/clearcart/support-agents/internal/models"
	"github.com/clearcart/support-agents/internal/storage"
)

// Service executes capability tools against the durable store. Every method
// takes the caller's userID from the surrounding request, never from model
// output, and encodes failure in the returned value instead of an error.
type Service struct {
	store  storage.Storage
	logger *zap.Logger
}

func NewService(store storage.Storage, logger *zap.Logger) *Service {
	return &Service{store: store, logger: logger}
}

// LookupResult is the common shape for fetch-style tools.
type LookupResult struct {
	Found   bool   `json:"found"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// ActionResult is the common shape for mutate-style tools.
type ActionResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func (s *Service) SearchFAQ(ctx context.Context, query string) LookupResult {
	articles, err := s.store.SearchFAQ(ctx, query, 3)
	if err != nil {
		s.logger.Error("FAQ search failed", zap.Error(err), zap.String("query", query))
		return LookupResult{Found: false, Message: "Error searching FAQ database."}
	}
	if len(articles) == 0 {
		return LookupResult{Found: false, Message: "No FAQ articles found matching your query."}
	}
	return LookupResult{Found: true, Data: articles}
}

func (s *Service) GetOrderDetails(ctx context.Context, orderNumber, userID string) LookupResult {
	order, err := s.store.GetOrderByNumber(ctx, orderNumber, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return LookupResult{
			Found:   false,
			Message: fmt.Sprintf("Order %s not found or does not belong to you.", orderNumber),
		}
	}
	if err != nil {
		s.logger.Error("Order lookup failed", zap.Error(err), zap.String("order_number", orderNumber))
		return LookupResult{Found: false, Message: fmt.Sprintf("Error retrieving order %s.", orderNumber)}
	}
	return LookupResult{Found: true, Data: order}
}

func (s *Service) CheckDeliveryStatus(ctx context.Context, orderNumber, userID string) LookupResult {
	order, err := s.store.GetOrderByNumber(ctx, orderNumber, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return LookupResult{Found: false, Message: fmt.Sprintf("Order %s not found.", orderNumber)}
	}
	if err != nil {
		s.logger.Error("Delivery status check failed", zap.Error(err), zap.String("order_number", orderNumber))
		return LookupResult{Found: false, Message: fmt.Sprintf("Error checking delivery status for %s.", orderNumber)}
	}

	message := fmt.Sprintf("Your order is currently %s.", order.Status)
	if order.TrackingNumber != "" {
		message += fmt.Sprintf(" Tracking number: %s.", order.TrackingNumber)
	}
	if order.EstimatedDelivery != nil {
		message += fmt.Sprintf(" Estimated delivery: %s.", order.EstimatedDelivery.Format("Jan 2, 2006"))
	}

	return LookupResult{
		Found:   true,
		Message: message,
		Data: map[string]any{
			"status":             order.Status,
			"tracking_number":    order.TrackingNumber,
			"estimated_delivery": order.EstimatedDelivery,
		},
	}
}

func (s *Service) CancelOrder(ctx context.Context, orderNumber, userID string) ActionResult {
	order, err := s.store.GetOrderByNumber(ctx, orderNumber, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return ActionResult{Success: false, Message: fmt.Sprintf("Order %s not found.", orderNumber)}
	}
	if err != nil {
		s.logger.Error("Order cancellation lookup failed", zap.Error(err), zap.String("order_number", orderNumber))
		return ActionResult{Success: false, Message: fmt.Sprintf("Error cancelling order %s.", orderNumber)}
	}

	switch order.Status {
	case models.OrderCancelled:
		return ActionResult{Success: false, Message: "This order is already cancelled."}
	case models.OrderDelivered:
		return ActionResult{Success: false, Message: "Cannot cancel a delivered order. Please request a return instead."}
	case models.OrderShipped:
		return ActionResult{
			Success: false,
			Message: "Order has already shipped. Cancellation is no longer possible. Contact support for assistance.",
		}
	}

	if err := s.store.UpdateOrderStatus(ctx, order.ID, models.OrderCancelled); err != nil {
		s.logger.Error("Order cancellation failed", zap.Error(err), zap.String("order_number", orderNumber))
		return ActionResult{Success: false, Message: fmt.Sprintf("Error cancelling order %s.", orderNumber)}
	}

	return ActionResult{
		Success: true,
		Message: fmt.Sprintf("Order %s has been successfully cancelled. Refund will be processed within 5-7 business days.", orderNumber),
	}
}

func (s *Service) GetInvoiceDetails(ctx context.Context, invoiceNumber, userID string) LookupResult {
	invoice, err := s.store.GetInvoiceByNumber(ctx, invoiceNumber, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return LookupResult{Found: false, Message: fmt.Sprintf("Invoice %s not found.", invoiceNumber)}
	}
	if err != nil {
		s.logger.Error("Invoice lookup failed", zap.Error(err), zap.String("invoice_number", invoiceNumber))
		return LookupResult{Found: false, Message: fmt.Sprintf("Error retrieving invoice %s.", invoiceNumber)}
	}
	return LookupResult{Found: true, Data: invoice}
}

func (s *Service) CheckRefundStatus(ctx context.Context, transactionID, userID string) LookupResult {
	payment, err := s.store.GetPaymentForUser(ctx, transactionID, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return LookupResult{Found: false, Message: fmt.Sprintf("Transaction %s not found.", transactionID)}
	}
	if err != nil {
		s.logger.Error("Refund status check failed", zap.Error(err), zap.String("transaction_id", transactionID))
		return LookupResult{Found: false, Message: fmt.Sprintf("Error checking refund status for %s.", transactionID)}
	}

	var message string
	switch {
	case payment.Status == models.PaymentRefunded:
		message = fmt.Sprintf("Your refund of $%.2f has been processed. Status: %s", payment.Amount, payment.RefundStatus)
	case payment.RefundStatus != "":
		message = fmt.Sprintf("Refund in progress. Status: %s", payment.RefundStatus)
	default:
		message = "No refund has been initiated for this transaction."
	}

	return LookupResult{Found: true, Message: message, Data: payment}
}

func (s *Service) GetPaymentHistory(ctx context.Context, userID string, limit int) LookupResult {
	if limit <= 0 {
		limit = 10
	}
	payments, err := s.store.ListPayments(ctx, userID, limit)
	if err != nil {
		s.logger.Error("Payment history lookup failed", zap.Error(err), zap.String("user_id", userID))
		return LookupResult{Found: false, Message: "Error retrieving payment history."}
	}
	return LookupResult{Found: len(payments) > 0, Data: payments}
}

// ProcessRefund re-verifies that the transaction belongs to userID before
// touching it. The model supplies the transaction id, so a well-formed id
// proves nothing; ownership is a hard authorization boundary here.
func (s *Service) ProcessRefund(ctx context.Context, transactionID string, amount float64, userID string) ActionResult {
	if !s.verifyTransactionOwnership(ctx, transactionID, userID) {
		return ActionResult{Success: false, Message: "Unauthorized: You do not own this transaction."}
	}

	if err := s.runRefundWorkflow(ctx, transactionID, amount); err != nil {
		return ActionResult{Success: false, Message: err.Error()}
	}

	return ActionResult{
		Success: true,
		Message: fmt.Sprintf("Refund of $%.2f for %s has been queued.", amount, transactionID),
	}
}

// verifyTransactionOwnership never fails open: any lookup error counts as
// not owned.
func (s *Service) verifyTransactionOwnership(ctx context.Context, transactionID, userID string) bool {
	payment, err := s.store.GetPaymentByTransactionID(ctx, transactionID)
	if err != nil {
		return false
	}
	return payment.UserID == userID
}

// HistoryEntry is a prior turn as exposed to the conversation-history tool.
type HistoryEntry struct {
	Role      models.Role      `json:"role"`
	Content   string           `json:"content"`
	AgentType models.AgentType `json:"agentType,omitempty"`
	CreatedAt string           `json:"createdAt"`
}

// QueryConversationHistory returns the last messages of a conversation the
// caller owns. Ownership failures and lookup errors both come back as an
// empty list.
func (s *Service) QueryConversationHistory(ctx context.Context, conversationID, userID string, limit int) []HistoryEntry {
	if limit <= 0 {
		limit = 10
	}

	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil || conv.UserID != userID {
		return []HistoryEntry{}
	}

	messages, err := s.store.GetMessages(ctx, conversationID)
	if err != nil {
		s.logger.Error("Conversation history lookup failed", zap.Error(err),
			zap.String("conversation_id", conversationID))
		return []HistoryEntry{}
	}

	if len(messages) > limit {
		messages = messages[len(messages)-limit:]
	}

	entries := make([]HistoryEntry, 0, len(messages))
	for _, msg := range messages {
		entries = append(entries, HistoryEntry{
			Role:      msg.Role,
			Content:   msg.Content,
			AgentType: msg.AgentType,
			CreatedAt: msg.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		})
	}
	return entries
}
