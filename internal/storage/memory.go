package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/clearcart/support-agents/internal/models"
)

// MemoryStorage keeps everything in process memory. It backs local
// development and the test suite; append order doubles as creation order
// so racing clock readings cannot reorder a conversation.
type MemoryStorage struct {
	mu            sync.RWMutex
	conversations map[string]*models.Conversation
	messages      map[string][]*models.Message
	summaries     map[string]*models.ConversationSummary
	orders        map[string]*models.Order
	payments      map[string]*models.Payment
	invoices      map[string]*models.Invoice
	faqs          []*models.FAQArticle
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		conversations: make(map[string]*models.Conversation),
		messages:      make(map[string][]*models.Message),
		summaries:     make(map[string]*models.ConversationSummary),
		orders:        make(map[string]*models.Order),
		payments:      make(map[string]*models.Payment),
		invoices:      make(map[string]*models.Invoice),
	}
}

func (s *MemoryStorage) CreateConversation(ctx context.Context, conv *models.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	conv.CreatedAt = now
	conv.UpdatedAt = now
	s.conversations[conv.ID] = conv
	return nil
}

func (s *MemoryStorage) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if conv, exists := s.conversations[id]; exists {
		return conv, nil
	}
	return nil, ErrNotFound
}

func (s *MemoryStorage) GetConversationForUser(ctx context.Context, id, userID string) (*models.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if conv, exists := s.conversations[id]; exists && conv.UserID == userID {
		return conv, nil
	}
	return nil, ErrNotFound
}

func (s *MemoryStorage) ListConversations(ctx context.Context, userID string, limit int) ([]*models.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var convs []*models.Conversation
	for _, conv := range s.conversations {
		if conv.UserID == userID {
			convs = append(convs, conv)
		}
	}

	sort.Slice(convs, func(i, j int) bool {
		return convs[i].UpdatedAt.After(convs[j].UpdatedAt)
	})

	if limit > 0 && len(convs) > limit {
		convs = convs[:limit]
	}
	return convs, nil
}

func (s *MemoryStorage) UpdateConversationTitle(ctx context.Context, id, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, exists := s.conversations[id]
	if !exists {
		return ErrNotFound
	}
	conv.Title = title
	conv.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStorage) TouchConversation(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, exists := s.conversations[id]
	if !exists {
		return ErrNotFound
	}
	conv.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStorage) DeleteConversation(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.conversations[id]; !exists {
		return ErrNotFound
	}

	delete(s.conversations, id)
	delete(s.messages, id)
	delete(s.summaries, id)
	return nil
}

func (s *MemoryStorage) CreateMessage(ctx context.Context, msg *models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	s.messages[msg.ConversationID] = append(s.messages[msg.ConversationID], msg)
	return nil
}

func (s *MemoryStorage) GetMessages(ctx context.Context, conversationID string) ([]*models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msgs := s.messages[conversationID]
	out := make([]*models.Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

func (s *MemoryStorage) CountMessagesByRole(ctx context.Context, conversationID string, role models.Role) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, msg := range s.messages[conversationID] {
		if msg.Role == role {
			count++
		}
	}
	return count, nil
}

func (s *MemoryStorage) LatestMessage(ctx context.Context, conversationID string) (*models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msgs := s.messages[conversationID]
	if len(msgs) == 0 {
		return nil, ErrNotFound
	}
	return msgs[len(msgs)-1], nil
}

func (s *MemoryStorage) GetSummary(ctx context.Context, conversationID string) (*models.ConversationSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if summary, exists := s.summaries[conversationID]; exists {
		return summary, nil
	}
	return nil, ErrNotFound
}

func (s *MemoryStorage) UpsertSummary(ctx context.Context, summary *models.ConversationSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	summary.UpdatedAt = time.Now()
	s.summaries[summary.ConversationID] = summary
	return nil
}

// PutOrder seeds an order. Used by tests and local development fixtures.
func (s *MemoryStorage) PutOrder(order *models.Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[order.OrderNumber] = order
}

func (s *MemoryStorage) GetOrderByNumber(ctx context.Context, orderNumber, userID string) (*models.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if order, exists := s.orders[orderNumber]; exists && order.UserID == userID {
		return order, nil
	}
	return nil, ErrNotFound
}

func (s *MemoryStorage) UpdateOrderStatus(ctx context.Context, orderID string, status models.OrderStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, order := range s.orders {
		if order.ID == orderID {
			order.Status = status
			return nil
		}
	}
	return ErrNotFound
}

// PutPayment seeds a payment. Used by tests and local development fixtures.
func (s *MemoryStorage) PutPayment(payment *models.Payment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payments[payment.TransactionID] = payment
}

func (s *MemoryStorage) GetPaymentByTransactionID(ctx context.Context, transactionID string) (*models.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if payment, exists := s.payments[transactionID]; exists {
		return payment, nil
	}
	return nil, ErrNotFound
}

func (s *MemoryStorage) GetPaymentForUser(ctx context.Context, transactionID, userID string) (*models.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if payment, exists := s.payments[transactionID]; exists && payment.UserID == userID {
		return payment, nil
	}
	return nil, ErrNotFound
}

func (s *MemoryStorage) ListPayments(ctx context.Context, userID string, limit int) ([]*models.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var payments []*models.Payment
	for _, payment := range s.payments {
		if payment.UserID == userID {
			payments = append(payments, payment)
		}
	}

	sort.Slice(payments, func(i, j int) bool {
		return payments[i].CreatedAt.After(payments[j].CreatedAt)
	})

	if limit > 0 && len(payments) > limit {
		payments = payments[:limit]
	}
	return payments, nil
}

func (s *MemoryStorage) UpdatePaymentRefund(ctx context.Context, paymentID string, status models.PaymentStatus, refundStatus string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, payment := range s.payments {
		if payment.ID == paymentID {
			payment.Status = status
			payment.RefundStatus = refundStatus
			return nil
		}
	}
	return ErrNotFound
}

// PutInvoice seeds an invoice. Used by tests and local development fixtures.
func (s *MemoryStorage) PutInvoice(invoice *models.Invoice) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.invoices[invoice.InvoiceNumber] = invoice
}

func (s *MemoryStorage) GetInvoiceByNumber(ctx context.Context, invoiceNumber, userID string) (*models.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if invoice, exists := s.invoices[invoiceNumber]; exists && invoice.UserID == userID {
		return invoice, nil
	}
	return nil, ErrNotFound
}

// PutFAQ seeds an FAQ article. Used by tests and local development fixtures.
func (s *MemoryStorage) PutFAQ(article *models.FAQArticle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faqs = append(s.faqs, article)
}

func (s *MemoryStorage) SearchFAQ(ctx context.Context, query string, limit int) ([]*models.FAQArticle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	lower := strings.ToLower(query)
	var articles []*models.FAQArticle
	for _, article := range s.faqs {
		if len(articles) >= limit && limit > 0 {
			break
		}
		if strings.Contains(strings.ToLower(article.Title), lower) ||
			strings.Contains(strings.ToLower(article.Content), lower) {
			articles = append(articles, article)
			continue
		}
		for _, tag := range article.Tags {
			if tag == lower {
				articles = append(articles, article)
				break
			}
		}
	}

	return articles, nil
}

func (s *MemoryStorage) Close() error {
	// Nothing to close for in-memory storage
	return nil
}
