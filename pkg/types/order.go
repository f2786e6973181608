package types

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OrderStatus represents the lifecycle state of an order
type OrderStatus string

const (
	StatusNew       OrderStatus = "New"
	StatusPaid      OrderStatus = "Paid"
	StatusCancelled OrderStatus = "Cancelled"
)

// ParseOrderStatus converts a string into a known status, ignoring case
func ParseOrderStatus(s string) (OrderStatus, error) {
	for _, status := range []OrderStatus{StatusNew, StatusPaid, StatusCancelled} {
		if strings.EqualFold(strings.TrimSpace(s), string(status)) {
			return status, nil
		}
	}
	return "", validationError("unknown order status %q", s)
}

// IsTerminal reports whether no transition leaves this status
func (s OrderStatus) IsTerminal() bool {
	return s == StatusPaid || s == StatusCancelled
}

// OrderItem is a line of an order. Price is the unit price captured when
// the order was created, not a live reference to the product.
type OrderItem struct {
	ID        string
	ProductID string
	Quantity  int
	Price     decimal.Decimal
}

// NewOrderItem creates a line item, enforcing quantity > 0 and price >= 0
func NewOrderItem(productID string, quantity int, price decimal.Decimal) (*OrderItem, error) {
	item := &OrderItem{
		ID:        uuid.NewString(),
		ProductID: productID,
		Quantity:  quantity,
		Price:     price,
	}
	if err := item.Validate(); err != nil {
		return nil, err
	}
	return item, nil
}

// Validate checks the item invariants
func (i OrderItem) Validate() error {
	if i.ProductID == "" {
		return validationError("product id is required")
	}
	if i.Quantity <= 0 {
		return validationError("quantity must be greater than zero")
	}
	if i.Price.IsNegative() {
		return validationError("price cannot be negative")
	}
	return nil
}

// Total returns price * quantity
func (i OrderItem) Total() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// Order is the aggregate root for a customer order.
// Status, items and total are only reachable through methods so the total
// always matches the items and transitions follow the state machine.
type Order struct {
	ID        string
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time

	status OrderStatus
	items  []OrderItem
	total  decimal.Decimal
}

// NewOrder creates a New order from items
func NewOrder(items []OrderItem) (*Order, error) {
	o := &Order{
		ID:     uuid.NewString(),
		status: StatusNew,
	}
	for idx, item := range items {
		if err := item.Validate(); err != nil {
			return nil, fmt.Errorf("item %d: %w", idx+1, err)
		}
		o.items = append(o.items, item)
	}
	o.recalculateTotal()
	return o, nil
}

// RestoreOrder rebuilds an order loaded from storage.
// The total is recomputed from items.
func RestoreOrder(id string, status OrderStatus, items []OrderItem, version int64, createdAt, updatedAt time.Time) (*Order, error) {
	if _, err := ParseOrderStatus(string(status)); err != nil {
		return nil, err
	}
	for idx, item := range items {
		if err := item.Validate(); err != nil {
			return nil, fmt.Errorf("item %d: %w", idx+1, err)
		}
	}
	o := &Order{
		ID:        id,
		Version:   version,
		CreatedAt: createdAt,
		UpdatedAt: updatedAt,
		status:    status,
		items:     append([]OrderItem(nil), items...),
	}
	o.recalculateTotal()
	return o, nil
}

// Status returns the current status
func (o *Order) Status() OrderStatus {
	return o.status
}

// Total returns the sum of price * quantity over all items
func (o *Order) Total() decimal.Decimal {
	return o.total
}

// Items returns a copy of the order lines
func (o *Order) Items() []OrderItem {
	return append([]OrderItem(nil), o.items...)
}

// AddItem appends a line while the order is New
func (o *Order) AddItem(item OrderItem) error {
	if o.status != StatusNew {
		return fmt.Errorf("%w: cannot modify order in %s status", ErrInvalidTransition, o.status)
	}
	if err := item.Validate(); err != nil {
		return err
	}
	o.items = append(o.items, item)
	o.recalculateTotal()
	return nil
}

// RemoveItem drops the first line for productID while the order is New.
// Removing a product that is not on the order is a no-op.
func (o *Order) RemoveItem(productID string) error {
	if o.status != StatusNew {
		return fmt.Errorf("%w: cannot modify order in %s status", ErrInvalidTransition, o.status)
	}
	for i, item := range o.items {
		if item.ProductID == productID {
			o.items = append(o.items[:i], o.items[i+1:]...)
			o.recalculateTotal()
			return nil
		}
	}
	return nil
}

// CanPay reports whether Pay would succeed
func (o *Order) CanPay() bool {
	return o.status == StatusNew
}

// Pay moves a New order to Paid
func (o *Order) Pay() error {
	if o.status != StatusNew {
		return fmt.Errorf("%w: only new orders can be paid (status %s)", ErrInvalidTransition, o.status)
	}
	o.status = StatusPaid
	return nil
}

// Cancel moves a New order to Cancelled
func (o *Order) Cancel() error {
	if o.status != StatusNew {
		return fmt.Errorf("%w: only new orders can be cancelled (status %s)", ErrInvalidTransition, o.status)
	}
	o.status = StatusCancelled
	return nil
}

func (o *Order) recalculateTotal() {
	total := decimal.Zero
	for _, item := range o.items {
		total = total.Add(item.Total())
	}
	o.total = total
}
