package models

import "time"

type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderShipped   OrderStatus = "shipped"
	OrderDelivered OrderStatus = "delivered"
	OrderCancelled OrderStatus = "cancelled"
)

type PaymentStatus string

const (
	PaymentCompleted PaymentStatus = "completed"
	PaymentPending   PaymentStatus = "pending"
	PaymentFailed    PaymentStatus = "failed"
	PaymentRefunded  PaymentStatus = "refunded"
)

type InvoiceStatus string

const (
	InvoicePaid    InvoiceStatus = "paid"
	InvoicePending InvoiceStatus = "pending"
	InvoiceOverdue InvoiceStatus = "overdue"
)

type OrderItem struct {
	Name     string  `json:"name"`
	Quantity int     `json:"quantity"`
	Price    float64 `json:"price"`
}

type Order struct {
	ID                string      `json:"id"`
	OrderNumber       string      `json:"order_number"`
	UserID            string      `json:"user_id"`
	Status            OrderStatus `json:"status"`
	Total             float64     `json:"total"`
	Items             []OrderItem `json:"items"`
	TrackingNumber    string      `json:"tracking_number,omitempty"`
	EstimatedDelivery *time.Time  `json:"estimated_delivery,omitempty"`
	CreatedAt         time.Time   `json:"created_at"`
}

type Payment struct {
	ID            string        `json:"id"`
	TransactionID string        `json:"transaction_id"`
	UserID        string        `json:"user_id"`
	OrderNumber   string        `json:"order_number,omitempty"`
	Amount        float64       `json:"amount"`
	Currency      string        `json:"currency"`
	Method        string        `json:"method"`
	Status        PaymentStatus `json:"status"`
	RefundStatus  string        `json:"refund_status,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
}

type Invoice struct {
	ID            string        `json:"id"`
	InvoiceNumber string        `json:"invoice_number"`
	UserID        string        `json:"user_id"`
	OrderNumber   string        `json:"order_number,omitempty"`
	Amount        float64       `json:"amount"`
	Status        InvoiceStatus `json:"status"`
	DueDate       *time.Time    `json:"due_date,omitempty"`
	PaidAt        *time.Time    `json:"paid_at,omitempty"`
	PDFURL        string        `json:"pdf_url,omitempty"`
}

type FAQArticle struct {
	Slug    string   `json:"slug"`
	Title   string   `json:"title"`
	Content string   `json:"content"`
	Tags    []string `json:"tags"`
}
