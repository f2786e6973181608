package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/NurluhanKakpanAitu/order-manager/pkg/types"
)

var (
	// ErrNotFound is returned when a requested entity doesn't exist
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists is returned when trying to create a duplicate entity
	ErrAlreadyExists = errors.New("already exists")
	// ErrConflict is returned when a row changed since it was read or the database is busy
	ErrConflict = errors.New("concurrent modification")
	// ErrNestedTransaction is returned by BeginTx on a transaction
	ErrNestedTransaction = errors.New("nested transactions not supported")
)

// busyTimeoutMs bounds how long a connection waits on a locked database file
const busyTimeoutMs = 5000

// SQLiteStorage implements the Storage interface using SQLite
type SQLiteStorage struct {
	db *sql.DB
}

// openDatabase opens a SQLite database with appropriate settings
func openDatabase(dbPath string) (*sql.DB, error) {
	db, err := sql.Open(DriverName, dataSourceName(dbPath))
	if err != nil {
		return nil, err
	}

	// Single writer connection: transactions in this process are serialized
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	// Enable WAL mode for better concurrency; the mode is stored in the file
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	return db, nil
}

// NewSQLiteStorage creates a new SQLite storage instance
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	db, err := openDatabase(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Apply migrations
	if err := ApplyMigrations(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// BeginTx starts a new transaction. The DSN makes it BEGIN IMMEDIATE, so the
// write lock is held from the first read and no other process can commit
// between a read and the write that depends on it.
func (s *SQLiteStorage) BeginTx(ctx context.Context) (Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, classifyError(err)
	}
	return &sqliteTx{tx: tx, storage: s}, nil
}

// inTx runs fn in its own transaction for multi-statement writes issued outside a Tx
func (s *SQLiteStorage) inTx(ctx context.Context, fn func(q querier) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classifyError(err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return classifyError(tx.Commit())
}

// querier is an interface that both *sql.DB and *sql.Tx implement
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// sqliteTx wraps a SQL transaction
type sqliteTx struct {
	tx      *sql.Tx
	storage *SQLiteStorage
}

func (t *sqliteTx) Commit() error {
	return classifyError(t.tx.Commit())
}

func (t *sqliteTx) Rollback() error {
	return t.tx.Rollback()
}

// querier returns the transaction querier
func (t *sqliteTx) querier() querier {
	return t.tx
}

// querier returns the DB querier
func (s *SQLiteStorage) querier() querier {
	return s.db
}

// classifyError maps driver errors onto storage sentinels
func classifyError(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "database is locked"), strings.Contains(msg, "SQLITE_BUSY"):
		return fmt.Errorf("%w: %v", ErrConflict, err)
	case strings.Contains(msg, "UNIQUE constraint failed"):
		return fmt.Errorf("%w: %v", ErrAlreadyExists, err)
	default:
		return err
	}
}

func marshalTranslation(t *types.Translation) (sql.NullString, error) {
	if t == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(t)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func unmarshalTranslation(s sql.NullString) (*types.Translation, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	var t types.Translation
	if err := json.Unmarshal([]byte(s.String), &t); err != nil {
		return nil, fmt.Errorf("decode translation: %w", err)
	}
	return &t, nil
}

// Category operations

// createCategoryWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) createCategoryWithQuerier(ctx context.Context, q querier, category *types.Category) error {
	description, err := marshalTranslation(category.Description)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO categories (id, name_kz, name_ru, name_en, description, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	now := time.Now().UTC()
	_, err = q.ExecContext(ctx, query,
		category.ID, category.Name.Kz, category.Name.Ru, category.Name.En,
		description, now, now)
	if err != nil {
		return fmt.Errorf("failed to create category: %w", classifyError(err))
	}
	category.CreatedAt = now
	category.UpdatedAt = now
	return nil
}

func (s *SQLiteStorage) CreateCategory(ctx context.Context, category *types.Category) error {
	return s.createCategoryWithQuerier(ctx, s.querier(), category)
}

const categoryColumns = `id, name_kz, name_ru, name_en, description, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanCategory(row rowScanner) (*types.Category, error) {
	var c types.Category
	var description sql.NullString
	if err := row.Scan(&c.ID, &c.Name.Kz, &c.Name.Ru, &c.Name.En, &description, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	desc, err := unmarshalTranslation(description)
	if err != nil {
		return nil, err
	}
	c.Description = desc
	return &c, nil
}

// getCategoryWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) getCategoryWithQuerier(ctx context.Context, q querier, id string) (*types.Category, error) {
	query := `SELECT ` + categoryColumns + ` FROM categories WHERE id = ?`
	category, err := scanCategory(q.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return category, nil
}

func (s *SQLiteStorage) GetCategory(ctx context.Context, id string) (*types.Category, error) {
	return s.getCategoryWithQuerier(ctx, s.querier(), id)
}

// updateCategoryWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) updateCategoryWithQuerier(ctx context.Context, q querier, category *types.Category) error {
	description, err := marshalTranslation(category.Description)
	if err != nil {
		return err
	}
	query := `
		UPDATE categories
		SET name_kz = ?, name_ru = ?, name_en = ?, description = ?, updated_at = ?
		WHERE id = ?
	`
	now := time.Now().UTC()
	result, err := q.ExecContext(ctx, query,
		category.Name.Kz, category.Name.Ru, category.Name.En, description, now, category.ID)
	if err != nil {
		return fmt.Errorf("failed to update category: %w", classifyError(err))
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	category.UpdatedAt = now
	return nil
}

func (s *SQLiteStorage) UpdateCategory(ctx context.Context, category *types.Category) error {
	return s.updateCategoryWithQuerier(ctx, s.querier(), category)
}

// deleteCategoryWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) deleteCategoryWithQuerier(ctx context.Context, q querier, id string) error {
	result, err := q.ExecContext(ctx, "DELETE FROM categories WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete category: %w", classifyError(err))
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStorage) DeleteCategory(ctx context.Context, id string) error {
	return s.deleteCategoryWithQuerier(ctx, s.querier(), id)
}

// listCategoriesWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) listCategoriesWithQuerier(ctx context.Context, q querier, filter CategoryFilter) ([]*types.Category, int, error) {
	var clause string
	var args []interface{}
	if filter.Search != "" {
		var cond string
		cond, args = nameSearchCondition(filter.Search, filter.Locale)
		clause = " WHERE " + cond
	}

	var total int
	if err := q.QueryRowContext(ctx, "SELECT COUNT(*) FROM categories"+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count categories: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = -1
	}
	query := `SELECT ` + categoryColumns + ` FROM categories` + clause + ` ORDER BY created_at, rowid LIMIT ? OFFSET ?`
	rows, err := q.QueryContext(ctx, query, append(args, limit, filter.Offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list categories: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var categories []*types.Category
	for rows.Next() {
		category, err := scanCategory(rows)
		if err != nil {
			return nil, 0, err
		}
		categories = append(categories, category)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return categories, total, nil
}

func (s *SQLiteStorage) ListCategories(ctx context.Context, filter CategoryFilter) ([]*types.Category, int, error) {
	return s.listCategoriesWithQuerier(ctx, s.querier(), filter)
}

// countProductsByCategoryWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) countProductsByCategoryWithQuerier(ctx context.Context, q querier, categoryID string) (int, error) {
	var n int
	err := q.QueryRowContext(ctx, "SELECT COUNT(*) FROM products WHERE category_id = ?", categoryID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count products: %w", err)
	}
	return n, nil
}

func (s *SQLiteStorage) CountProductsByCategory(ctx context.Context, categoryID string) (int, error) {
	return s.countProductsByCategoryWithQuerier(ctx, s.querier(), categoryID)
}

// Product operations

const productColumns = `id, name_kz, name_ru, name_en, description, price, quantity, category_id, version, created_at, updated_at`

func scanProduct(row rowScanner) (*types.Product, error) {
	var p types.Product
	var description sql.NullString
	err := row.Scan(&p.ID, &p.Name.Kz, &p.Name.Ru, &p.Name.En, &description,
		&p.Price, &p.Quantity, &p.CategoryID, &p.Version, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	desc, err := unmarshalTranslation(description)
	if err != nil {
		return nil, err
	}
	p.Description = desc
	return &p, nil
}

// createProductWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) createProductWithQuerier(ctx context.Context, q querier, product *types.Product) error {
	description, err := marshalTranslation(product.Description)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO products (id, name_kz, name_ru, name_en, description, price, quantity,
		                      category_id, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)
	`
	now := time.Now().UTC()
	_, err = q.ExecContext(ctx, query,
		product.ID, product.Name.Kz, product.Name.Ru, product.Name.En, description,
		product.Price.String(), product.Quantity, product.CategoryID, now, now)
	if err != nil {
		return fmt.Errorf("failed to create product: %w", classifyError(err))
	}
	product.Version = 1
	product.CreatedAt = now
	product.UpdatedAt = now
	return nil
}

func (s *SQLiteStorage) CreateProduct(ctx context.Context, product *types.Product) error {
	return s.createProductWithQuerier(ctx, s.querier(), product)
}

// getProductWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) getProductWithQuerier(ctx context.Context, q querier, id string) (*types.Product, error) {
	query := `SELECT ` + productColumns + ` FROM products WHERE id = ?`
	product, err := scanProduct(q.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return product, nil
}

func (s *SQLiteStorage) GetProduct(ctx context.Context, id string) (*types.Product, error) {
	return s.getProductWithQuerier(ctx, s.querier(), id)
}

// updateProductWithQuerier writes the product if its version is unchanged since it was read
func (s *SQLiteStorage) updateProductWithQuerier(ctx context.Context, q querier, product *types.Product) error {
	description, err := marshalTranslation(product.Description)
	if err != nil {
		return err
	}
	query := `
		UPDATE products
		SET name_kz = ?, name_ru = ?, name_en = ?, description = ?, price = ?, quantity = ?,
		    category_id = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?
	`
	now := time.Now().UTC()
	result, err := q.ExecContext(ctx, query,
		product.Name.Kz, product.Name.Ru, product.Name.En, description,
		product.Price.String(), product.Quantity, product.CategoryID, now,
		product.ID, product.Version)
	if err != nil {
		return fmt.Errorf("failed to update product: %w", classifyError(err))
	}
	if err := s.checkVersionedUpdate(ctx, q, result, "products", product.ID); err != nil {
		return err
	}
	product.Version++
	product.UpdatedAt = now
	return nil
}

func (s *SQLiteStorage) UpdateProduct(ctx context.Context, product *types.Product) error {
	return s.updateProductWithQuerier(ctx, s.querier(), product)
}

// checkVersionedUpdate distinguishes a missing row from a stale version
func (s *SQLiteStorage) checkVersionedUpdate(ctx context.Context, q querier, result sql.Result, table, id string) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected > 0 {
		return nil
	}

	var exists int
	err = q.QueryRowContext(ctx, "SELECT 1 FROM "+table+" WHERE id = ?", id).Scan(&exists)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: %s %s", ErrConflict, strings.TrimSuffix(table, "s"), id)
}

// deleteProductWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) deleteProductWithQuerier(ctx context.Context, q querier, id string) error {
	result, err := q.ExecContext(ctx, "DELETE FROM products WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete product: %w", classifyError(err))
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStorage) DeleteProduct(ctx context.Context, id string) error {
	return s.deleteProductWithQuerier(ctx, s.querier(), id)
}

// nameColumn returns the name column for a locale, or "" for all locales
func nameColumn(locale string) string {
	switch strings.ToLower(locale) {
	case types.LocaleKz:
		return "name_kz"
	case types.LocaleRu:
		return "name_ru"
	case types.LocaleEn:
		return "name_en"
	default:
		return ""
	}
}

// nameSearchCondition matches search against the name in locale, or in any locale
func nameSearchCondition(search, locale string) (string, []interface{}) {
	if col := nameColumn(locale); col != "" {
		return col + " LIKE '%' || ? || '%'", []interface{}{search}
	}
	return "(name_kz LIKE '%' || ? || '%' OR name_ru LIKE '%' || ? || '%' OR name_en LIKE '%' || ? || '%')",
		[]interface{}{search, search, search}
}

// listProductsWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) listProductsWithQuerier(ctx context.Context, q querier, filter ProductFilter) ([]*types.Product, int, error) {
	var where []string
	var args []interface{}

	if filter.Search != "" {
		cond, condArgs := nameSearchCondition(filter.Search, filter.Locale)
		where = append(where, cond)
		args = append(args, condArgs...)
	}
	if filter.CategoryID != "" {
		where = append(where, "category_id = ?")
		args = append(args, filter.CategoryID)
	}
	if filter.MinPrice != nil {
		where = append(where, "CAST(price AS REAL) >= ?")
		args = append(args, filter.MinPrice.InexactFloat64())
	}
	if filter.MaxPrice != nil {
		where = append(where, "CAST(price AS REAL) <= ?")
		args = append(args, filter.MaxPrice.InexactFloat64())
	}

	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := q.QueryRowContext(ctx, "SELECT COUNT(*) FROM products"+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count products: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = -1
	}
	query := `SELECT ` + productColumns + ` FROM products` + clause + ` ORDER BY created_at, rowid LIMIT ? OFFSET ?`
	rows, err := q.QueryContext(ctx, query, append(args, limit, filter.Offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list products: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var products []*types.Product
	for rows.Next() {
		product, err := scanProduct(rows)
		if err != nil {
			return nil, 0, err
		}
		products = append(products, product)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return products, total, nil
}

func (s *SQLiteStorage) ListProducts(ctx context.Context, filter ProductFilter) ([]*types.Product, int, error) {
	return s.listProductsWithQuerier(ctx, s.querier(), filter)
}

// countOrderItemsByProductWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) countOrderItemsByProductWithQuerier(ctx context.Context, q querier, productID string) (int, error) {
	var count int
	err := q.QueryRowContext(ctx, "SELECT COUNT(*) FROM order_items WHERE product_id = ?", productID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count order items: %w", err)
	}
	return count, nil
}

func (s *SQLiteStorage) CountOrderItemsByProduct(ctx context.Context, productID string) (int, error) {
	return s.countOrderItemsByProductWithQuerier(ctx, s.querier(), productID)
}

// Order operations

// insertOrderItems writes the order lines in their original sequence
func (s *SQLiteStorage) insertOrderItems(ctx context.Context, q querier, order *types.Order) error {
	query := `
		INSERT INTO order_items (id, order_id, product_id, position, quantity, price)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	for pos, item := range order.Items() {
		_, err := q.ExecContext(ctx, query, item.ID, order.ID, item.ProductID, pos, item.Quantity, item.Price.String())
		if err != nil {
			return fmt.Errorf("failed to insert order item: %w", classifyError(err))
		}
	}
	return nil
}

// createOrderWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) createOrderWithQuerier(ctx context.Context, q querier, order *types.Order) error {
	query := `
		INSERT INTO orders (id, status, total_amount, version, created_at, updated_at)
		VALUES (?, ?, ?, 1, ?, ?)
	`
	now := time.Now().UTC()
	_, err := q.ExecContext(ctx, query, order.ID, string(order.Status()), order.Total().String(), now, now)
	if err != nil {
		return fmt.Errorf("failed to create order: %w", classifyError(err))
	}
	if err := s.insertOrderItems(ctx, q, order); err != nil {
		return err
	}
	order.Version = 1
	order.CreatedAt = now
	order.UpdatedAt = now
	return nil
}

func (s *SQLiteStorage) CreateOrder(ctx context.Context, order *types.Order) error {
	return s.inTx(ctx, func(q querier) error {
		return s.createOrderWithQuerier(ctx, q, order)
	})
}

type orderHeader struct {
	id        string
	status    string
	version   int64
	createdAt time.Time
	updatedAt time.Time
}

const orderColumns = `id, status, version, created_at, updated_at`

func scanOrderHeader(row rowScanner) (orderHeader, error) {
	var h orderHeader
	err := row.Scan(&h.id, &h.status, &h.version, &h.createdAt, &h.updatedAt)
	return h, err
}

// loadOrderItems reads the lines of an order in their original sequence
func (s *SQLiteStorage) loadOrderItems(ctx context.Context, q querier, orderID string) ([]types.OrderItem, error) {
	query := `
		SELECT id, product_id, quantity, price
		FROM order_items
		WHERE order_id = ?
		ORDER BY position
	`
	rows, err := q.QueryContext(ctx, query, orderID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var items []types.OrderItem
	for rows.Next() {
		var item types.OrderItem
		var price decimal.Decimal
		if err := rows.Scan(&item.ID, &item.ProductID, &item.Quantity, &price); err != nil {
			return nil, err
		}
		item.Price = price
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *SQLiteStorage) buildOrder(ctx context.Context, q querier, h orderHeader) (*types.Order, error) {
	items, err := s.loadOrderItems(ctx, q, h.id)
	if err != nil {
		return nil, fmt.Errorf("failed to load items for order %s: %w", h.id, err)
	}
	return types.RestoreOrder(h.id, types.OrderStatus(h.status), items, h.version, h.createdAt, h.updatedAt)
}

// getOrderWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) getOrderWithQuerier(ctx context.Context, q querier, id string) (*types.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = ?`
	h, err := scanOrderHeader(q.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return s.buildOrder(ctx, q, h)
}

func (s *SQLiteStorage) GetOrder(ctx context.Context, id string) (*types.Order, error) {
	return s.getOrderWithQuerier(ctx, s.querier(), id)
}

// updateOrderWithQuerier writes status, total and items if the version is unchanged
func (s *SQLiteStorage) updateOrderWithQuerier(ctx context.Context, q querier, order *types.Order) error {
	query := `
		UPDATE orders
		SET status = ?, total_amount = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?
	`
	now := time.Now().UTC()
	result, err := q.ExecContext(ctx, query, string(order.Status()), order.Total().String(), now, order.ID, order.Version)
	if err != nil {
		return fmt.Errorf("failed to update order: %w", classifyError(err))
	}
	if err := s.checkVersionedUpdate(ctx, q, result, "orders", order.ID); err != nil {
		return err
	}

	if _, err := q.ExecContext(ctx, "DELETE FROM order_items WHERE order_id = ?", order.ID); err != nil {
		return fmt.Errorf("failed to replace order items: %w", classifyError(err))
	}
	if err := s.insertOrderItems(ctx, q, order); err != nil {
		return err
	}

	order.Version++
	order.UpdatedAt = now
	return nil
}

func (s *SQLiteStorage) UpdateOrder(ctx context.Context, order *types.Order) error {
	return s.inTx(ctx, func(q querier) error {
		return s.updateOrderWithQuerier(ctx, q, order)
	})
}

// listOrdersWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) listOrdersWithQuerier(ctx context.Context, q querier, filter OrderFilter) ([]*types.Order, int, error) {
	clause := ""
	var args []interface{}
	if filter.Status != nil {
		clause = " WHERE status = ?"
		args = append(args, string(*filter.Status))
	}

	var total int
	if err := q.QueryRowContext(ctx, "SELECT COUNT(*) FROM orders"+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count orders: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = -1
	}
	query := `SELECT ` + orderColumns + ` FROM orders` + clause + ` ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?`

	// Headers are collected first so the rows are closed before items are
	// queried on the same (single) connection.
	headers, err := func() ([]orderHeader, error) {
		rows, err := q.QueryContext(ctx, query, append(args, limit, filter.Offset)...)
		if err != nil {
			return nil, err
		}
		defer func() { _ = rows.Close() }()

		var out []orderHeader
		for rows.Next() {
			h, err := scanOrderHeader(rows)
			if err != nil {
				return nil, err
			}
			out = append(out, h)
		}
		return out, rows.Err()
	}()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list orders: %w", err)
	}

	orders := make([]*types.Order, 0, len(headers))
	for _, h := range headers {
		order, err := s.buildOrder(ctx, q, h)
		if err != nil {
			return nil, 0, err
		}
		orders = append(orders, order)
	}
	return orders, total, nil
}

func (s *SQLiteStorage) ListOrders(ctx context.Context, filter OrderFilter) ([]*types.Order, int, error) {
	return s.listOrdersWithQuerier(ctx, s.querier(), filter)
}

// Payment operations

// recordPaymentWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) recordPaymentWithQuerier(ctx context.Context, q querier, payment *Payment) error {
	query := `
		INSERT INTO payments (order_id, amount, status, provider, captured_at, refunded_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	now := time.Now().UTC()
	if payment.CapturedAt.IsZero() {
		payment.CapturedAt = now
	}
	result, err := q.ExecContext(ctx, query,
		payment.OrderID, payment.Amount.String(), string(payment.Status), payment.Provider,
		payment.CapturedAt, payment.RefundedAt, now, now)
	if err != nil {
		return fmt.Errorf("failed to record payment: %w", classifyError(err))
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	payment.ID = id
	payment.CreatedAt = now
	payment.UpdatedAt = now
	return nil
}

func (s *SQLiteStorage) RecordPayment(ctx context.Context, payment *Payment) error {
	return s.recordPaymentWithQuerier(ctx, s.querier(), payment)
}

// getPaymentWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) getPaymentWithQuerier(ctx context.Context, q querier, orderID string) (*Payment, error) {
	query := `
		SELECT id, order_id, amount, status, provider, captured_at, refunded_at, created_at, updated_at
		FROM payments
		WHERE order_id = ?
	`
	var p Payment
	var status string
	var refundedAt sql.NullTime
	err := q.QueryRowContext(ctx, query, orderID).Scan(
		&p.ID, &p.OrderID, &p.Amount, &status, &p.Provider,
		&p.CapturedAt, &refundedAt, &p.CreatedAt, &p.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	p.Status = PaymentStatus(status)
	if refundedAt.Valid {
		t := refundedAt.Time
		p.RefundedAt = &t
	}
	return &p, nil
}

func (s *SQLiteStorage) GetPayment(ctx context.Context, orderID string) (*Payment, error) {
	return s.getPaymentWithQuerier(ctx, s.querier(), orderID)
}

// updatePaymentWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) updatePaymentWithQuerier(ctx context.Context, q querier, payment *Payment) error {
	query := `
		UPDATE payments
		SET status = ?, refunded_at = ?, updated_at = ?
		WHERE id = ?
	`
	now := time.Now().UTC()
	result, err := q.ExecContext(ctx, query, string(payment.Status), payment.RefundedAt, now, payment.ID)
	if err != nil {
		return fmt.Errorf("failed to update payment: %w", classifyError(err))
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	payment.UpdatedAt = now
	return nil
}

func (s *SQLiteStorage) UpdatePayment(ctx context.Context, payment *Payment) error {
	return s.updatePaymentWithQuerier(ctx, s.querier(), payment)
}

// Outbox operations

// enqueueEventWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) enqueueEventWithQuerier(ctx context.Context, q querier, event *OutboxEvent) error {
	query := `
		INSERT INTO outbox (event_id, topic, key, payload, created_at)
		VALUES (?, ?, ?, ?, ?)
	`
	now := time.Now().UTC()
	result, err := q.ExecContext(ctx, query, event.EventID, event.Topic, event.Key, event.Payload, now)
	if err != nil {
		return fmt.Errorf("failed to enqueue event: %w", classifyError(err))
	}
	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	event.ID = id
	event.CreatedAt = now
	return nil
}

func (s *SQLiteStorage) EnqueueEvent(ctx context.Context, event *OutboxEvent) error {
	return s.enqueueEventWithQuerier(ctx, s.querier(), event)
}

// fetchPendingEventsWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) fetchPendingEventsWithQuerier(ctx context.Context, q querier, limit int) ([]*OutboxEvent, error) {
	if limit <= 0 {
		limit = -1
	}
	query := `
		SELECT id, event_id, topic, key, payload, created_at
		FROM outbox
		WHERE sent_at IS NULL
		ORDER BY id
		LIMIT ?
	`
	rows, err := q.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch pending events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []*OutboxEvent
	for rows.Next() {
		var e OutboxEvent
		if err := rows.Scan(&e.ID, &e.EventID, &e.Topic, &e.Key, &e.Payload, &e.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, &e)
	}
	return events, rows.Err()
}

func (s *SQLiteStorage) FetchPendingEvents(ctx context.Context, limit int) ([]*OutboxEvent, error) {
	return s.fetchPendingEventsWithQuerier(ctx, s.querier(), limit)
}

// markEventSentWithQuerier is the internal implementation that uses a querier.
// Marking an already sent event is a no-op.
func (s *SQLiteStorage) markEventSentWithQuerier(ctx context.Context, q querier, id int64) error {
	result, err := q.ExecContext(ctx, "UPDATE outbox SET sent_at = ? WHERE id = ? AND sent_at IS NULL", time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to mark event sent: %w", classifyError(err))
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected > 0 {
		return nil
	}

	var exists int
	err = q.QueryRowContext(ctx, "SELECT 1 FROM outbox WHERE id = ?", id).Scan(&exists)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	return err
}

func (s *SQLiteStorage) MarkEventSent(ctx context.Context, id int64) error {
	return s.markEventSentWithQuerier(ctx, s.querier(), id)
}

// Transaction implementations delegate to the querier-based helpers so every
// read and write participates in the transaction.

func (t *sqliteTx) CreateCategory(ctx context.Context, category *types.Category) error {
	return t.storage.createCategoryWithQuerier(ctx, t.querier(), category)
}

func (t *sqliteTx) GetCategory(ctx context.Context, id string) (*types.Category, error) {
	return t.storage.getCategoryWithQuerier(ctx, t.querier(), id)
}

func (t *sqliteTx) UpdateCategory(ctx context.Context, category *types.Category) error {
	return t.storage.updateCategoryWithQuerier(ctx, t.querier(), category)
}

func (t *sqliteTx) DeleteCategory(ctx context.Context, id string) error {
	return t.storage.deleteCategoryWithQuerier(ctx, t.querier(), id)
}

func (t *sqliteTx) CountProductsByCategory(ctx context.Context, categoryID string) (int, error) {
	return t.storage.countProductsByCategoryWithQuerier(ctx, t.querier(), categoryID)
}

func (t *sqliteTx) ListCategories(ctx context.Context, filter CategoryFilter) ([]*types.Category, int, error) {
	return t.storage.listCategoriesWithQuerier(ctx, t.querier(), filter)
}

func (t *sqliteTx) CreateProduct(ctx context.Context, product *types.Product) error {
	return t.storage.createProductWithQuerier(ctx, t.querier(), product)
}

func (t *sqliteTx) GetProduct(ctx context.Context, id string) (*types.Product, error) {
	return t.storage.getProductWithQuerier(ctx, t.querier(), id)
}

func (t *sqliteTx) UpdateProduct(ctx context.Context, product *types.Product) error {
	return t.storage.updateProductWithQuerier(ctx, t.querier(), product)
}

func (t *sqliteTx) DeleteProduct(ctx context.Context, id string) error {
	return t.storage.deleteProductWithQuerier(ctx, t.querier(), id)
}

func (t *sqliteTx) ListProducts(ctx context.Context, filter ProductFilter) ([]*types.Product, int, error) {
	return t.storage.listProductsWithQuerier(ctx, t.querier(), filter)
}

func (t *sqliteTx) CountOrderItemsByProduct(ctx context.Context, productID string) (int, error) {
	return t.storage.countOrderItemsByProductWithQuerier(ctx, t.querier(), productID)
}

func (t *sqliteTx) CreateOrder(ctx context.Context, order *types.Order) error {
	return t.storage.createOrderWithQuerier(ctx, t.querier(), order)
}

func (t *sqliteTx) GetOrder(ctx context.Context, id string) (*types.Order, error) {
	return t.storage.getOrderWithQuerier(ctx, t.querier(), id)
}

func (t *sqliteTx) UpdateOrder(ctx context.Context, order *types.Order) error {
	return t.storage.updateOrderWithQuerier(ctx, t.querier(), order)
}

func (t *sqliteTx) ListOrders(ctx context.Context, filter OrderFilter) ([]*types.Order, int, error) {
	return t.storage.listOrdersWithQuerier(ctx, t.querier(), filter)
}

func (t *sqliteTx) RecordPayment(ctx context.Context, payment *Payment) error {
	return t.storage.recordPaymentWithQuerier(ctx, t.querier(), payment)
}

func (t *sqliteTx) GetPayment(ctx context.Context, orderID string) (*Payment, error) {
	return t.storage.getPaymentWithQuerier(ctx, t.querier(), orderID)
}

func (t *sqliteTx) UpdatePayment(ctx context.Context, payment *Payment) error {
	return t.storage.updatePaymentWithQuerier(ctx, t.querier(), payment)
}

func (t *sqliteTx) EnqueueEvent(ctx context.Context, event *OutboxEvent) error {
	return t.storage.enqueueEventWithQuerier(ctx, t.querier(), event)
}

func (t *sqliteTx) FetchPendingEvents(ctx context.Context, limit int) ([]*OutboxEvent, error) {
	return t.storage.fetchPendingEventsWithQuerier(ctx, t.querier(), limit)
}

func (t *sqliteTx) MarkEventSent(ctx context.Context, id int64) error {
	return t.storage.markEventSentWithQuerier(ctx, t.querier(), id)
}

func (t *sqliteTx) Close() error {
	// Transactions don't close the underlying connection
	return nil
}

func (t *sqliteTx) BeginTx(ctx context.Context) (Tx, error) {
	// One workflow call is one transaction; savepoints are not offered
	return nil, ErrNestedTransaction
}
