package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/clearcart/support-agents/internal/models"
)

//go:embed migrations.sql
var migrations embed.FS

type DatabaseConfig struct {
	Host        string
	Port        int
	User        string
	Password    string
	DBName      string
	SSLMode     string
	UseInMemory bool
}

type PostgresStorage struct {
	db *sql.DB
}

func NewPostgresStorage(config DatabaseConfig) (*PostgresStorage, error) {
	connStr := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		config.Host, config.Port, config.User, config.Password, config.DBName, config.SSLMode)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %v", err)
	}

	// Test the connection
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("error connecting to the database: %v", err)
	}

	storage := &PostgresStorage{db: db}

	// Initialize database schema
	if err := storage.initializeSchema(); err != nil {
		return nil, fmt.Errorf("error initializing database schema: %v", err)
	}

	return storage, nil
}

func (s *PostgresStorage) initializeSchema() error {
	migrationSQL, err := migrations.ReadFile("migrations.sql")
	if err != nil {
		return fmt.Errorf("error reading migrations file: %v", err)
	}

	_, err = s.db.Exec(string(migrationSQL))
	if err != nil {
		return fmt.Errorf("error executing migrations: %v", err)
	}

	return nil
}

func (s *PostgresStorage) CreateConversation(ctx context.Context, conv *models.Conversation) error {
	query := `
		INSERT INTO conversations (id, user_id, title)
		VALUES ($1, $2, $3)
		RETURNING created_at, updated_at`

	err := s.db.QueryRowContext(ctx, query, conv.ID, conv.UserID, conv.Title).
		Scan(&conv.CreatedAt, &conv.UpdatedAt)
	if err != nil {
		return fmt.Errorf("error creating conversation: %v", err)
	}

	return nil
}

func (s *PostgresStorage) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	query := `
		SELECT id, user_id, title, created_at, updated_at
		FROM conversations
		WHERE id = $1`

	conv := &models.Conversation{}
	err := s.db.QueryRowContext(ctx, query, id).
		Scan(&conv.ID, &conv.UserID, &conv.Title, &conv.CreatedAt, &conv.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("error querying conversation: %v", err)
	}

	return conv, nil
}

func (s *PostgresStorage) GetConversationForUser(ctx context.Context, id, userID string) (*models.Conversation, error) {
	query := `
		SELECT id, user_id, title, created_at, updated_at
		FROM conversations
		WHERE id = $1 AND user_id = $2`

	conv := &models.Conversation{}
	err := s.db.QueryRowContext(ctx, query, id, userID).
		Scan(&conv.ID, &conv.UserID, &conv.Title, &conv.CreatedAt, &conv.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("error querying conversation: %v", err)
	}

	return conv, nil
}

func (s *PostgresStorage) ListConversations(ctx context.Context, userID string, limit int) ([]*models.Conversation, error) {
	query := `
		SELECT id, user_id, title, created_at, updated_at
		FROM conversations
		WHERE user_id = $1
		ORDER BY updated_at DESC
		LIMIT $2`

	rows, err := s.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("error querying conversations: %v", err)
	}
	defer rows.Close()

	var convs []*models.Conversation
	for rows.Next() {
		conv := &models.Conversation{}
		if err := rows.Scan(&conv.ID, &conv.UserID, &conv.Title, &conv.CreatedAt, &conv.UpdatedAt); err != nil {
			return nil, fmt.Errorf("error scanning conversation: %v", err)
		}
		convs = append(convs, conv)
	}

	return convs, nil
}

func (s *PostgresStorage) UpdateConversationTitle(ctx context.Context, id, title string) error {
	query := `UPDATE conversations SET title = $1, updated_at = $2 WHERE id = $3`

	_, err := s.db.ExecContext(ctx, query, title, time.Now(), id)
	if err != nil {
		return fmt.Errorf("error updating conversation title: %v", err)
	}

	return nil
}

func (s *PostgresStorage) TouchConversation(ctx context.Context, id string) error {
	query := `UPDATE conversations SET updated_at = $1 WHERE id = $2`

	_, err := s.db.ExecContext(ctx, query, time.Now(), id)
	if err != nil {
		return fmt.Errorf("error touching conversation: %v", err)
	}

	return nil
}

func (s *PostgresStorage) DeleteConversation(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("error deleting conversation: %v", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("error getting rows affected: %v", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

func (s *PostgresStorage) CreateMessage(ctx context.Context, msg *models.Message) error {
	var toolCalls, debugTrace any
	if msg.ToolCalls != nil {
		data, err := json.Marshal(msg.ToolCalls)
		if err != nil {
			return fmt.Errorf("error encoding tool calls: %v", err)
		}
		toolCalls = data
	}
	if msg.DebugTrace != nil {
		data, err := json.Marshal(msg.DebugTrace)
		if err != nil {
			return fmt.Errorf("error encoding debug trace: %v", err)
		}
		debugTrace = data
	}

	var agentType any
	if msg.AgentType != "" {
		agentType = string(msg.AgentType)
	}

	query := `
		INSERT INTO messages (id, conversation_id, role, content, agent_type, tool_calls, debug_trace)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at`

	err := s.db.QueryRowContext(ctx, query,
		msg.ID, msg.ConversationID, msg.Role, msg.Content, agentType, toolCalls, debugTrace,
	).Scan(&msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("error creating message: %v", err)
	}

	return nil
}

func (s *PostgresStorage) GetMessages(ctx context.Context, conversationID string) ([]*models.Message, error) {
	query := `
		SELECT id, conversation_id, role, content, agent_type, tool_calls, debug_trace, created_at
		FROM messages
		WHERE conversation_id = $1
		ORDER BY created_at ASC`

	rows, err := s.db.QueryContext(ctx, query, conversationID)
	if err != nil {
		return nil, fmt.Errorf("error querying messages: %v", err)
	}
	defer rows.Close()

	var msgs []*models.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, msg)
	}

	return msgs, nil
}

func (s *PostgresStorage) CountMessagesByRole(ctx context.Context, conversationID string, role models.Role) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE conversation_id = $1 AND role = $2`,
		conversationID, role,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("error counting messages: %v", err)
	}

	return count, nil
}

func (s *PostgresStorage) LatestMessage(ctx context.Context, conversationID string) (*models.Message, error) {
	query := `
		SELECT id, conversation_id, role, content, agent_type, tool_calls, debug_trace, created_at
		FROM messages
		WHERE conversation_id = $1
		ORDER BY created_at DESC
		LIMIT 1`

	rows, err := s.db.QueryContext(ctx, query, conversationID)
	if err != nil {
		return nil, fmt.Errorf("error querying latest message: %v", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, ErrNotFound
	}

	return scanMessage(rows)
}

func scanMessage(rows *sql.Rows) (*models.Message, error) {
	msg := &models.Message{}
	var agentType sql.NullString
	var toolCalls, debugTrace []byte

	err := rows.Scan(&msg.ID, &msg.ConversationID, &msg.Role, &msg.Content,
		&agentType, &toolCalls, &debugTrace, &msg.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("error scanning message: %v", err)
	}

	if agentType.Valid {
		msg.AgentType = models.AgentType(agentType.String)
	}
	if len(toolCalls) > 0 {
		// Stored by this service, so a decode failure means corruption;
		// surface it instead of silently dropping the log.
		if err := json.Unmarshal(toolCalls, &msg.ToolCalls); err != nil {
			return nil, fmt.Errorf("error decoding tool calls: %v", err)
		}
	}
	if len(debugTrace) > 0 {
		if err := json.Unmarshal(debugTrace, &msg.DebugTrace); err != nil {
			return nil, fmt.Errorf("error decoding debug trace: %v", err)
		}
	}

	return msg, nil
}

func (s *PostgresStorage) GetSummary(ctx context.Context, conversationID string) (*models.ConversationSummary, error) {
	query := `
		SELECT conversation_id, summary, message_count, updated_at
		FROM conversation_summaries
		WHERE conversation_id = $1`

	summary := &models.ConversationSummary{}
	err := s.db.QueryRowContext(ctx, query, conversationID).
		Scan(&summary.ConversationID, &summary.Summary, &summary.MessageCount, &summary.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("error querying summary: %v", err)
	}

	return summary, nil
}

func (s *PostgresStorage) UpsertSummary(ctx context.Context, summary *models.ConversationSummary) error {
	query := `
		INSERT INTO conversation_summaries (conversation_id, summary, message_count, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (conversation_id)
		DO UPDATE SET summary = $2, message_count = $3, updated_at = NOW()`

	_, err := s.db.ExecContext(ctx, query, summary.ConversationID, summary.Summary, summary.MessageCount)
	if err != nil {
		return fmt.Errorf("error upserting summary: %v", err)
	}

	return nil
}

func (s *PostgresStorage) GetOrderByNumber(ctx context.Context, orderNumber, userID string) (*models.Order, error) {
	query := `
		SELECT id, order_number, user_id, status, total, items, tracking_number, estimated_delivery, created_at
		FROM orders
		WHERE order_number = $1 AND user_id = $2`

	order := &models.Order{}
	var items []byte
	var tracking sql.NullString
	var delivery sql.NullTime

	err := s.db.QueryRowContext(ctx, query, orderNumber, userID).
		Scan(&order.ID, &order.OrderNumber, &order.UserID, &order.Status, &order.Total,
			&items, &tracking, &delivery, &order.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("error querying order: %v", err)
	}

	if len(items) > 0 {
		if err := json.Unmarshal(items, &order.Items); err != nil {
			return nil, fmt.Errorf("error decoding order items: %v", err)
		}
	}
	if tracking.Valid {
		order.TrackingNumber = tracking.String
	}
	if delivery.Valid {
		order.EstimatedDelivery = &delivery.Time
	}

	return order, nil
}

func (s *PostgresStorage) UpdateOrderStatus(ctx context.Context, orderID string, status models.OrderStatus) error {
	result, err := s.db.ExecContext(ctx, `UPDATE orders SET status = $1 WHERE id = $2`, status, orderID)
	if err != nil {
		return fmt.Errorf("error updating order status: %v", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("error getting rows affected: %v", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

const paymentColumns = `id, transaction_id, user_id, order_number, amount, currency, method, status, refund_status, created_at`

func (s *PostgresStorage) GetPaymentByTransactionID(ctx context.Context, transactionID string) (*models.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE transaction_id = $1`
	return s.queryPayment(ctx, query, transactionID)
}

func (s *PostgresStorage) GetPaymentForUser(ctx context.Context, transactionID, userID string) (*models.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE transaction_id = $1 AND user_id = $2`
	return s.queryPayment(ctx, query, transactionID, userID)
}

func (s *PostgresStorage) queryPayment(ctx context.Context, query string, args ...any) (*models.Payment, error) {
	payment := &models.Payment{}
	var orderNumber, refundStatus sql.NullString

	err := s.db.QueryRowContext(ctx, query, args...).
		Scan(&payment.ID, &payment.TransactionID, &payment.UserID, &orderNumber,
			&payment.Amount, &payment.Currency, &payment.Method, &payment.Status,
			&refundStatus, &payment.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("error querying payment: %v", err)
	}

	payment.OrderNumber = orderNumber.String
	payment.RefundStatus = refundStatus.String
	return payment, nil
}

func (s *PostgresStorage) ListPayments(ctx context.Context, userID string, limit int) ([]*models.Payment, error) {
	query := `SELECT ` + paymentColumns + `
		FROM payments
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2`

	rows, err := s.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("error querying payments: %v", err)
	}
	defer rows.Close()

	var payments []*models.Payment
	for rows.Next() {
		payment := &models.Payment{}
		var orderNumber, refundStatus sql.NullString
		err := rows.Scan(&payment.ID, &payment.TransactionID, &payment.UserID, &orderNumber,
			&payment.Amount, &payment.Currency, &payment.Method, &payment.Status,
			&refundStatus, &payment.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("error scanning payment: %v", err)
		}
		payment.OrderNumber = orderNumber.String
		payment.RefundStatus = refundStatus.String
		payments = append(payments, payment)
	}

	return payments, nil
}

func (s *PostgresStorage) UpdatePaymentRefund(ctx context.Context, paymentID string, status models.PaymentStatus, refundStatus string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE payments SET status = $1, refund_status = $2 WHERE id = $3`,
		status, refundStatus, paymentID)
	if err != nil {
		return fmt.Errorf("error updating payment refund: %v", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("error getting rows affected: %v", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

func (s *PostgresStorage) GetInvoiceByNumber(ctx context.Context, invoiceNumber, userID string) (*models.Invoice, error) {
	query := `
		SELECT id, invoice_number, user_id, order_number, amount, status, due_date, paid_at, pdf_url
		FROM invoices
		WHERE invoice_number = $1 AND user_id = $2`

	invoice := &models.Invoice{}
	var orderNumber, pdfURL sql.NullString
	var dueDate, paidAt sql.NullTime

	err := s.db.QueryRowContext(ctx, query, invoiceNumber, userID).
		Scan(&invoice.ID, &invoice.InvoiceNumber, &invoice.UserID, &orderNumber,
			&invoice.Amount, &invoice.Status, &dueDate, &paidAt, &pdfURL)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("error querying invoice: %v", err)
	}

	invoice.OrderNumber = orderNumber.String
	invoice.PDFURL = pdfURL.String
	if dueDate.Valid {
		invoice.DueDate = &dueDate.Time
	}
	if paidAt.Valid {
		invoice.PaidAt = &paidAt.Time
	}

	return invoice, nil
}

func (s *PostgresStorage) SearchFAQ(ctx context.Context, query string, limit int) ([]*models.FAQArticle, error) {
	sqlQuery := `
		SELECT slug, title, content, tags
		FROM faq_articles
		WHERE title ILIKE '%' || $1 || '%'
		   OR content ILIKE '%' || $1 || '%'
		   OR LOWER($1) = ANY(tags)
		LIMIT $2`

	rows, err := s.db.QueryContext(ctx, sqlQuery, query, limit)
	if err != nil {
		return nil, fmt.Errorf("error querying FAQ articles: %v", err)
	}
	defer rows.Close()

	var articles []*models.FAQArticle
	for rows.Next() {
		article := &models.FAQArticle{}
		if err := rows.Scan(&article.Slug, &article.Title, &article.Content, pq.Array(&article.Tags)); err != nil {
			return nil, fmt.Errorf("error scanning FAQ article: %v", err)
		}
		articles = append(articles, article)
	}

	return articles, nil
}

func (s *PostgresStorage) Close() error {
	return s.db.Close()
}
