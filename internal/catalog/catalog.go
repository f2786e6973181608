package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/NurluhanKakpanAitu/order-manager/internal/observability"
	"github.com/NurluhanKakpanAitu/order-manager/internal/retry"
	"github.com/NurluhanKakpanAitu/order-manager/internal/storage"
	"github.com/NurluhanKakpanAitu/order-manager/pkg/types"
)

var (
	// ErrNotFound is storage.ErrNotFound
	ErrNotFound = storage.ErrNotFound
	// ErrProductInUse is returned when deleting a product that order items reference
	ErrProductInUse = errors.New("product is referenced by orders")
	// ErrCategoryInUse is returned when deleting a category that still has products
	ErrCategoryInUse = errors.New("category has products")
)

// Service manages categories and products
type Service struct {
	store  storage.Storage
	logger *zap.Logger
	tracer trace.Tracer
	retry  retry.Config
}

// Option configures a Service
type Option func(*Service)

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithTracer sets the tracer
func WithTracer(tracer trace.Tracer) Option {
	return func(s *Service) {
		if tracer != nil {
			s.tracer = tracer
		}
	}
}

// New creates a catalog service
func New(store storage.Storage, opts ...Option) *Service {
	s := &Service{
		store:  store,
		logger: zap.NewNop(),
		tracer: observability.Tracer("catalog"),
		retry:  retry.DefaultConfig(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ProductInput carries the editable attributes of a product
type ProductInput struct {
	Name        types.Translation
	Description *types.Translation
	Price       decimal.Decimal
	Quantity    int
	CategoryID  string // ignored by UpdateProduct
}

// CategoryQuery selects a page of categories
type CategoryQuery struct {
	Page     int
	PageSize int
	Search   string
	Locale   string
}

// ProductQuery selects a page of products
type ProductQuery struct {
	Page       int
	PageSize   int
	Search     string
	Locale     string
	CategoryID string
	MinPrice   *decimal.Decimal
	MaxPrice   *decimal.Decimal
}

// CreateCategory adds a category
func (s *Service) CreateCategory(ctx context.Context, name types.Translation, description *types.Translation) (category *types.Category, err error) {
	ctx, span := s.tracer.Start(ctx, "catalog.create_category")
	defer func() { endSpan(span, err) }()

	category, err = types.NewCategory(name, description)
	if err != nil {
		return nil, err
	}
	err = s.inTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		return tx.CreateCategory(ctx, category)
	})
	if err != nil {
		return nil, fmt.Errorf("create category: %w", err)
	}

	s.logger.Info("category created", zap.String("category_id", category.ID), zap.String("name", category.Name.Display(types.LocaleEn)))
	return category, nil
}

// GetCategory loads a category
func (s *Service) GetCategory(ctx context.Context, id string) (*types.Category, error) {
	category, err := s.store.GetCategory(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("category %s: %w", id, err)
	}
	return category, nil
}

// UpdateCategory replaces the name and description of a category
func (s *Service) UpdateCategory(ctx context.Context, id string, name types.Translation, description *types.Translation) (category *types.Category, err error) {
	ctx, span := s.tracer.Start(ctx, "catalog.update_category", trace.WithAttributes(
		attribute.String("category.id", id),
	))
	defer func() { endSpan(span, err) }()

	err = s.inTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		current, err := tx.GetCategory(ctx, id)
		if err != nil {
			return fmt.Errorf("category %s: %w", id, err)
		}
		if err := current.Update(name, description); err != nil {
			return err
		}
		if err := tx.UpdateCategory(ctx, current); err != nil {
			return err
		}
		category = current
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("category updated", zap.String("category_id", category.ID))
	return category, nil
}

// DeleteCategory removes a category that has no products
func (s *Service) DeleteCategory(ctx context.Context, id string) (err error) {
	ctx, span := s.tracer.Start(ctx, "catalog.delete_category", trace.WithAttributes(
		attribute.String("category.id", id),
	))
	defer func() { endSpan(span, err) }()

	err = s.inTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		if _, err := tx.GetCategory(ctx, id); err != nil {
			return fmt.Errorf("category %s: %w", id, err)
		}
		products, err := tx.CountProductsByCategory(ctx, id)
		if err != nil {
			return err
		}
		if products > 0 {
			return fmt.Errorf("%w: %d products in category %s", ErrCategoryInUse, products, id)
		}
		return tx.DeleteCategory(ctx, id)
	})
	if err != nil {
		return err
	}

	s.logger.Info("category deleted", zap.String("category_id", id))
	return nil
}

// ListCategories returns one page of categories whose name matches q.Search
func (s *Service) ListCategories(ctx context.Context, q CategoryQuery) (types.Page[*types.Category], error) {
	var result types.Page[*types.Category]

	req, err := types.PageRequest{Number: q.Page, Size: q.PageSize}.Normalize()
	if err != nil {
		return result, err
	}
	locale, err := normalizeLocale(q.Locale)
	if err != nil {
		return result, err
	}

	categories, total, err := s.store.ListCategories(ctx, storage.CategoryFilter{
		Search: strings.TrimSpace(q.Search),
		Locale: locale,
		Limit:  req.Size,
		Offset: req.Offset(),
	})
	if err != nil {
		return result, fmt.Errorf("list categories: %w", err)
	}
	return types.NewPage(categories, req, total), nil
}

// CreateProduct adds a product to an existing category
func (s *Service) CreateProduct(ctx context.Context, in ProductInput) (product *types.Product, err error) {
	ctx, span := s.tracer.Start(ctx, "catalog.create_product", trace.WithAttributes(
		attribute.String("category.id", in.CategoryID),
	))
	defer func() { endSpan(span, err) }()

	product, err = types.NewProduct(in.Name, in.Description, in.Price, in.Quantity, in.CategoryID)
	if err != nil {
		return nil, err
	}

	err = s.inTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		if _, err := tx.GetCategory(ctx, in.CategoryID); err != nil {
			return fmt.Errorf("category %s: %w", in.CategoryID, err)
		}
		return tx.CreateProduct(ctx, product)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("product created",
		zap.String("product_id", product.ID),
		zap.String("price", product.Price.String()),
		zap.Int("quantity", product.Quantity),
	)
	return product, nil
}

// GetProduct loads a product
func (s *Service) GetProduct(ctx context.Context, id string) (*types.Product, error) {
	product, err := s.store.GetProduct(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("product %s: %w", id, err)
	}
	return product, nil
}

// UpdateProduct replaces the name, description, price and quantity of a
// product. A write that loses to a concurrent update is retried.
func (s *Service) UpdateProduct(ctx context.Context, id string, in ProductInput) (product *types.Product, err error) {
	ctx, span := s.tracer.Start(ctx, "catalog.update_product", trace.WithAttributes(
		attribute.String("product.id", id),
	))
	defer func() { endSpan(span, err) }()

	err = retry.Run(ctx, s.retry, isConflict, func(int) error {
		return s.inTx(ctx, func(ctx context.Context, tx storage.Tx) error {
			current, err := tx.GetProduct(ctx, id)
			if err != nil {
				return fmt.Errorf("product %s: %w", id, err)
			}
			if err := current.Update(in.Name, in.Description, in.Price, in.Quantity); err != nil {
				return err
			}
			if err := tx.UpdateProduct(ctx, current); err != nil {
				return err
			}
			product = current
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("product updated",
		zap.String("product_id", product.ID),
		zap.Int64("version", product.Version),
	)
	return product, nil
}

// DeleteProduct removes a product that no order references
func (s *Service) DeleteProduct(ctx context.Context, id string) (err error) {
	ctx, span := s.tracer.Start(ctx, "catalog.delete_product", trace.WithAttributes(
		attribute.String("product.id", id),
	))
	defer func() { endSpan(span, err) }()

	err = s.inTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		if _, err := tx.GetProduct(ctx, id); err != nil {
			return fmt.Errorf("product %s: %w", id, err)
		}
		refs, err := tx.CountOrderItemsByProduct(ctx, id)
		if err != nil {
			return err
		}
		if refs > 0 {
			return fmt.Errorf("%w: %d order items reference product %s", ErrProductInUse, refs, id)
		}
		return tx.DeleteProduct(ctx, id)
	})
	if err != nil {
		return err
	}

	s.logger.Info("product deleted", zap.String("product_id", id))
	return nil
}

// ListProducts returns one page of products matching q
func (s *Service) ListProducts(ctx context.Context, q ProductQuery) (types.Page[*types.Product], error) {
	var result types.Page[*types.Product]

	req, err := types.PageRequest{Number: q.Page, Size: q.PageSize}.Normalize()
	if err != nil {
		return result, err
	}

	locale, err := normalizeLocale(q.Locale)
	if err != nil {
		return result, err
	}
	if q.MinPrice != nil && q.MinPrice.IsNegative() {
		return result, fmt.Errorf("%w: min price cannot be negative", types.ErrValidation)
	}
	if q.MinPrice != nil && q.MaxPrice != nil && q.MinPrice.GreaterThan(*q.MaxPrice) {
		return result, fmt.Errorf("%w: min price exceeds max price", types.ErrValidation)
	}

	products, total, err := s.store.ListProducts(ctx, storage.ProductFilter{
		Search:     strings.TrimSpace(q.Search),
		Locale:     locale,
		CategoryID: q.CategoryID,
		MinPrice:   q.MinPrice,
		MaxPrice:   q.MaxPrice,
		Limit:      req.Size,
		Offset:     req.Offset(),
	})
	if err != nil {
		return result, fmt.Errorf("list products: %w", err)
	}
	return types.NewPage(products, req, total), nil
}

// inTx runs fn in a transaction and commits when it returns nil
func (s *Service) inTx(ctx context.Context, fn func(ctx context.Context, tx storage.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ctx = context.WithoutCancel(ctx)

	tx, err := s.store.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(ctx, tx); err != nil {
		return err
	}
	return tx.Commit()
}

// normalizeLocale lowercases locale and rejects unknown values; "" means all locales
func normalizeLocale(locale string) (string, error) {
	locale = strings.ToLower(strings.TrimSpace(locale))
	if locale != "" && !types.ValidLocale(locale) {
		return "", fmt.Errorf("%w: unsupported locale %q", types.ErrValidation, locale)
	}
	return locale, nil
}

func isConflict(err error) bool {
	return errors.Is(err, storage.ErrConflict)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
