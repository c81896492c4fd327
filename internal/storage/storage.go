package storage

import (
	"context"
	"errors"

	"github.com/clearcart/support-agents/internal/models"
)

// ErrNotFound is returned when a lookup matches no row for the given scope.
var ErrNotFound = errors.New("not found")

type Storage interface {
	ConversationStorage
	CommerceStorage
	Close() error
}

// ConversationStorage persists conversations, messages and cached summaries.
type ConversationStorage interface {
	CreateConversation(ctx context.Context, conv *models.Conversation) error
	GetConversation(ctx context.Context, id string) (*models.Conversation, error)
	GetConversationForUser(ctx context.Context, id, userID string) (*models.Conversation, error)
	ListConversations(ctx context.Context, userID string, limit int) ([]*models.Conversation, error)
	UpdateConversationTitle(ctx context.Context, id, title string) error
	TouchConversation(ctx context.Context, id string) error
	DeleteConversation(ctx context.Context, id string) error

	CreateMessage(ctx context.Context, msg *models.Message) error
	GetMessages(ctx context.Context, conversationID string) ([]*models.Message, error)
	CountMessagesByRole(ctx context.Context, conversationID string, role models.Role) (int, error)
	LatestMessage(ctx context.Context, conversationID string) (*models.Message, error)

	GetSummary(ctx context.Context, conversationID string) (*models.ConversationSummary, error)
	UpsertSummary(ctx context.Context, summary *models.ConversationSummary) error
}

// CommerceStorage is the external data the capability tools operate on.
type CommerceStorage interface {
	GetOrderByNumber(ctx context.Context, orderNumber, userID string) (*models.Order, error)
	UpdateOrderStatus(ctx context.Context, orderID string, status models.OrderStatus) error

	GetPaymentByTransactionID(ctx context.Context, transactionID string) (*models.Payment, error)
	GetPaymentForUser(ctx context.Context, transactionID, userID string) (*models.Payment, error)
	ListPayments(ctx context.Context, userID string, limit int) ([]*models.Payment, error)
	UpdatePaymentRefund(ctx context.Context, paymentID string, status models.PaymentStatus, refundStatus string) error

	GetInvoiceByNumber(ctx context.Context, invoiceNumber, userID string) (*models.Invoice, error)

	SearchFAQ(ctx context.Context, query string, limit int) ([]*models.FAQArticle, error)
}
