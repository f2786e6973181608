package storage

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/NurluhanKakpanAitu/order-manager/pkg/types"
)

// Storage defines the persistence operations used by the order workflow and catalog
type Storage interface {
	// Category operations
	CreateCategory(ctx context.Context, category *types.Category) error
	GetCategory(ctx context.Context, id string) (*types.Category, error)
	UpdateCategory(ctx context.Context, category *types.Category) error
	DeleteCategory(ctx context.Context, id string) error
	ListCategories(ctx context.Context, filter CategoryFilter) ([]*types.Category, int, error)
	CountProductsByCategory(ctx context.Context, categoryID string) (int, error)

	// Product operations
	CreateProduct(ctx context.Context, product *types.Product) error
	GetProduct(ctx context.Context, id string) (*types.Product, error)
	UpdateProduct(ctx context.Context, product *types.Product) error
	DeleteProduct(ctx context.Context, id string) error
	ListProducts(ctx context.Context, filter ProductFilter) ([]*types.Product, int, error)
	CountOrderItemsByProduct(ctx context.Context, productID string) (int, error)

	// Order operations
	CreateOrder(ctx context.Context, order *types.Order) error
	GetOrder(ctx context.Context, id string) (*types.Order, error)
	UpdateOrder(ctx context.Context, order *types.Order) error
	ListOrders(ctx context.Context, filter OrderFilter) ([]*types.Order, int, error)

	// Payment operations
	RecordPayment(ctx context.Context, payment *Payment) error
	GetPayment(ctx context.Context, orderID string) (*Payment, error)
	UpdatePayment(ctx context.Context, payment *Payment) error

	// Outbox operations
	EnqueueEvent(ctx context.Context, event *OutboxEvent) error
	FetchPendingEvents(ctx context.Context, limit int) ([]*OutboxEvent, error)
	MarkEventSent(ctx context.Context, id int64) error

	// Database operations
	Close() error
	BeginTx(ctx context.Context) (Tx, error)
}

// Tx represents a database transaction
type Tx interface {
	Commit() error
	Rollback() error
	Storage // Embed Storage interface for transaction operations
}

// CategoryFilter narrows a category listing
type CategoryFilter struct {
	Search string // matched against the name in Locale, or any locale when empty
	Locale string
	Limit  int
	Offset int
}

// ProductFilter narrows a product listing
type ProductFilter struct {
	Search     string // matched against the name in Locale, or any locale when empty
	Locale     string
	CategoryID string
	MinPrice   *decimal.Decimal
	MaxPrice   *decimal.Decimal
	Limit      int
	Offset     int
}

// OrderFilter narrows an order listing
type OrderFilter struct {
	Status *types.OrderStatus
	Limit  int
	Offset int
}

// PaymentStatus is the state of a recorded payment
type PaymentStatus string

const (
	PaymentCaptured PaymentStatus = "captured"
	PaymentRefunded PaymentStatus = "refunded"
)

// Payment records money taken for an order
type Payment struct {
	ID         int64
	OrderID    string
	Amount     decimal.Decimal
	Status     PaymentStatus
	Provider   string
	CapturedAt time.Time
	RefundedAt *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// OutboxEvent is a domain event waiting to be published
type OutboxEvent struct {
	ID        int64
	EventID   string
	Topic     string
	Key       string
	Payload   []byte
	CreatedAt time.Time
	SentAt    *time.Time
}
