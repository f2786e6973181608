package types

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Category groups products in the catalog
type Category struct {
	ID          string
	Name        Translation
	Description *Translation
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// NewCategory creates a category with a fresh id
func NewCategory(name Translation, description *Translation) (*Category, error) {
	if err := name.Validate(); err != nil {
		return nil, err
	}
	return &Category{
		ID:          uuid.NewString(),
		Name:        name,
		Description: description,
	}, nil
}

// Update replaces the name and description, leaving c unchanged on error
func (c *Category) Update(name Translation, description *Translation) error {
	if err := name.Validate(); err != nil {
		return err
	}
	c.Name = name
	c.Description = description
	return nil
}

// Product is a catalog entry carrying on-hand stock.
// Version is bumped by storage on every successful update and guards
// concurrent stock changes.
type Product struct {
	ID          string
	Name        Translation
	Description *Translation
	Price       decimal.Decimal
	Quantity    int
	CategoryID  string
	Version     int64
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// NewProduct creates a product with a fresh id
func NewProduct(name Translation, description *Translation, price decimal.Decimal, quantity int, categoryID string) (*Product, error) {
	p := &Product{
		ID:          uuid.NewString(),
		Name:        name,
		Description: description,
		Price:       price,
		Quantity:    quantity,
		CategoryID:  categoryID,
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// Validate checks the product invariants
func (p *Product) Validate() error {
	if err := p.Name.Validate(); err != nil {
		return err
	}
	if p.Price.IsNegative() {
		return validationError("price cannot be negative")
	}
	if p.Quantity < 0 {
		return validationError("quantity cannot be negative")
	}
	if p.CategoryID == "" {
		return validationError("category id is required")
	}
	return nil
}

// Update replaces the editable attributes of the product
func (p *Product) Update(name Translation, description *Translation, price decimal.Decimal, quantity int) error {
	candidate := *p
	candidate.Name = name
	candidate.Description = description
	candidate.Price = price
	candidate.Quantity = quantity
	if err := candidate.Validate(); err != nil {
		return err
	}
	*p = candidate
	return nil
}

// HasStock reports whether quantity can be reserved
func (p *Product) HasStock(quantity int) bool {
	return p.Quantity >= quantity
}

// IsAvailable reports whether any stock is on hand
func (p *Product) IsAvailable() bool {
	return p.Quantity > 0
}

// ReduceStock reserves quantity, never driving stock below zero
func (p *Product) ReduceStock(by int) error {
	if by <= 0 {
		return validationError("quantity must be greater than zero")
	}
	if !p.HasStock(by) {
		return &InsufficientStockError{
			ProductID:   p.ID,
			ProductName: p.Name.Display(LocaleEn),
			Requested:   by,
			Available:   p.Quantity,
		}
	}
	p.Quantity -= by
	return nil
}

// RestoreStock returns quantity to stock. No upper bound is enforced.
func (p *Product) RestoreStock(by int) error {
	if by <= 0 {
		return validationError("quantity must be greater than zero")
	}
	p.Quantity += by
	return nil
}
