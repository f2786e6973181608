package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/shopspring/decimal"

	"github.com/NurluhanKakpanAitu/order-manager/internal/catalog"
	"github.com/NurluhanKakpanAitu/order-manager/internal/orders"
	"github.com/NurluhanKakpanAitu/order-manager/internal/storage"
	"github.com/NurluhanKakpanAitu/order-manager/pkg/types"
)

// MCP error codes
const (
	ErrorCodeInvalidParams          = -32602 // Invalid method parameters or validation failure
	ErrorCodeInternalError          = -32603 // Internal error or transaction failure
	ErrorCodeNotFound               = -32001 // Order, product or category does not exist
	ErrorCodeInsufficientStock      = -32002 // Requested quantity exceeds stock on hand
	ErrorCodeInvalidTransition      = -32003 // Operation not allowed in the order's status
	ErrorCodePaymentFailed          = -32004 // Gateway declined or could not be reached
	ErrorCodeContentionExceeded     = -32005 // Concurrent updates exhausted retries
	ErrorCodeReconciliationRequired = -32006 // Money moved but the local commit failed
	ErrorCodePaymentInProgress      = -32007 // Another payment for the order is running
	ErrorCodeProductInUse           = -32008 // Product is referenced by orders
	ErrorCodeRefundFailed           = -32009 // Gateway did not refund
	ErrorCodeCategoryInUse          = -32010 // Category still has products
)

// handleCreateOrder handles the create_order tool invocation
func (s *Server) handleCreateOrder(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := arguments(request)
	if err != nil {
		return nil, err
	}

	rawItems, ok := args["items"].([]interface{})
	if !ok || len(rawItems) == 0 {
		return nil, newMCPError(ErrorCodeInvalidParams, "items parameter is required", map[string]interface{}{
			"param":  "items",
			"reason": "missing or empty",
		})
	}

	lines := make([]orders.OrderLine, 0, len(rawItems))
	for i, raw := range rawItems {
		item, ok := raw.(map[string]interface{})
		if !ok {
			return nil, newMCPError(ErrorCodeInvalidParams, "item must be an object", map[string]interface{}{
				"param": fmt.Sprintf("items[%d]", i),
			})
		}
		productID, err := requiredString(item, "product_id")
		if err != nil {
			return nil, err
		}
		quantity, err := requiredInt(item, "quantity")
		if err != nil {
			return nil, err
		}
		lines = append(lines, orders.OrderLine{ProductID: productID, Quantity: quantity})
	}

	order, err := s.orders.CreateOrder(ctx, lines)
	if err != nil {
		return nil, toolError(err)
	}
	return mcp.NewToolResultText(formatJSON(orderJSON(order))), nil
}

// handlePayOrder handles the pay_order tool invocation
func (s *Server) handlePayOrder(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	orderID, err := orderIDArg(request)
	if err != nil {
		return nil, err
	}

	order, err := s.orders.PayOrder(ctx, orderID)
	if err != nil {
		return nil, toolError(err)
	}
	return mcp.NewToolResultText(formatJSON(orderJSON(order))), nil
}

// handleCancelOrder handles the cancel_order tool invocation
func (s *Server) handleCancelOrder(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	orderID, err := orderIDArg(request)
	if err != nil {
		return nil, err
	}

	order, err := s.orders.CancelOrder(ctx, orderID)
	if err != nil {
		return nil, toolError(err)
	}
	return mcp.NewToolResultText(formatJSON(orderJSON(order))), nil
}

// handleRefundOrder handles the refund_order tool invocation
func (s *Server) handleRefundOrder(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	orderID, err := orderIDArg(request)
	if err != nil {
		return nil, err
	}

	refund, err := s.orders.RefundOrder(ctx, orderID)
	if err != nil {
		return nil, toolError(err)
	}
	return mcp.NewToolResultText(formatJSON(paymentJSON(refund))), nil
}

// handleGetOrder handles the get_order tool invocation
func (s *Server) handleGetOrder(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	orderID, err := orderIDArg(request)
	if err != nil {
		return nil, err
	}

	order, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		return nil, toolError(err)
	}
	return mcp.NewToolResultText(formatJSON(orderJSON(order))), nil
}

// handleListOrders handles the list_orders tool invocation
func (s *Server) handleListOrders(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := arguments(request)
	if err != nil {
		return nil, err
	}

	page := getIntDefault(args, "page", 1)
	pageSize := getIntDefault(args, "page_size", types.DefaultPageSize)

	var status *types.OrderStatus
	if raw := getStringDefault(args, "status", ""); raw != "" {
		parsed, err := types.ParseOrderStatus(raw)
		if err != nil {
			return nil, newMCPError(ErrorCodeInvalidParams, "invalid status", map[string]interface{}{
				"param":   "status",
				"value":   raw,
				"allowed": []string{string(types.StatusNew), string(types.StatusPaid), string(types.StatusCancelled)},
			})
		}
		status = &parsed
	}

	result, err := s.orders.ListOrders(ctx, page, pageSize, status)
	if err != nil {
		return nil, toolError(err)
	}

	items := make([]interface{}, 0, len(result.Items))
	for _, order := range result.Items {
		items = append(items, orderJSON(order))
	}
	return mcp.NewToolResultText(formatJSON(pageJSON(items, result.PageNumber, result.PageSize, result.TotalCount, result.TotalPages(), result.HasNext()))), nil
}

// handleCreateCategory handles the create_category tool invocation
func (s *Server) handleCreateCategory(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := arguments(request)
	if err != nil {
		return nil, err
	}

	name, err := requiredTranslation(args, "name")
	if err != nil {
		return nil, err
	}
	description, err := optionalTranslation(args, "description")
	if err != nil {
		return nil, err
	}

	category, err := s.catalog.CreateCategory(ctx, name, description)
	if err != nil {
		return nil, toolError(err)
	}
	return mcp.NewToolResultText(formatJSON(categoryJSON(category))), nil
}

// handleListCategories handles the list_categories tool invocation
func (s *Server) handleListCategories(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := arguments(request)
	if err != nil {
		return nil, err
	}

	result, err := s.catalog.ListCategories(ctx, catalog.CategoryQuery{
		Page:     getIntDefault(args, "page", 1),
		PageSize: getIntDefault(args, "page_size", types.DefaultPageSize),
		Search:   getStringDefault(args, "search", ""),
		Locale:   getStringDefault(args, "locale", ""),
	})
	if err != nil {
		return nil, toolError(err)
	}

	items := make([]interface{}, 0, len(result.Items))
	for _, category := range result.Items {
		items = append(items, categoryJSON(category))
	}
	return mcp.NewToolResultText(formatJSON(pageJSON(items, result.PageNumber, result.PageSize, result.TotalCount, result.TotalPages(), result.HasNext()))), nil
}

// handleUpdateCategory handles the update_category tool invocation
func (s *Server) handleUpdateCategory(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := arguments(request)
	if err != nil {
		return nil, err
	}
	categoryID, err := requiredString(args, "category_id")
	if err != nil {
		return nil, err
	}
	name, err := requiredTranslation(args, "name")
	if err != nil {
		return nil, err
	}
	description, err := optionalTranslation(args, "description")
	if err != nil {
		return nil, err
	}

	category, err := s.catalog.UpdateCategory(ctx, categoryID, name, description)
	if err != nil {
		return nil, toolError(err)
	}
	return mcp.NewToolResultText(formatJSON(categoryJSON(category))), nil
}

// handleDeleteCategory handles the delete_category tool invocation
func (s *Server) handleDeleteCategory(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := arguments(request)
	if err != nil {
		return nil, err
	}
	categoryID, err := requiredString(args, "category_id")
	if err != nil {
		return nil, err
	}

	if err := s.catalog.DeleteCategory(ctx, categoryID); err != nil {
		return nil, toolError(err)
	}
	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"deleted":     true,
		"category_id": categoryID,
	})), nil
}

// handleCreateProduct handles the create_product tool invocation
func (s *Server) handleCreateProduct(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := arguments(request)
	if err != nil {
		return nil, err
	}

	input, err := productInput(args)
	if err != nil {
		return nil, err
	}
	input.CategoryID, err = requiredString(args, "category_id")
	if err != nil {
		return nil, err
	}

	product, err := s.catalog.CreateProduct(ctx, input)
	if err != nil {
		return nil, toolError(err)
	}
	return mcp.NewToolResultText(formatJSON(productJSON(product))), nil
}

// handleGetProduct handles the get_product tool invocation
func (s *Server) handleGetProduct(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := arguments(request)
	if err != nil {
		return nil, err
	}
	productID, err := requiredString(args, "product_id")
	if err != nil {
		return nil, err
	}

	product, err := s.catalog.GetProduct(ctx, productID)
	if err != nil {
		return nil, toolError(err)
	}
	return mcp.NewToolResultText(formatJSON(productJSON(product))), nil
}

// handleListProducts handles the list_products tool invocation
func (s *Server) handleListProducts(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := arguments(request)
	if err != nil {
		return nil, err
	}

	query := catalog.ProductQuery{
		Page:       getIntDefault(args, "page", 1),
		PageSize:   getIntDefault(args, "page_size", types.DefaultPageSize),
		Search:     getStringDefault(args, "search", ""),
		Locale:     getStringDefault(args, "locale", ""),
		CategoryID: getStringDefault(args, "category_id", ""),
	}
	if query.MinPrice, err = optionalDecimal(args, "min_price"); err != nil {
		return nil, err
	}
	if query.MaxPrice, err = optionalDecimal(args, "max_price"); err != nil {
		return nil, err
	}

	result, err := s.catalog.ListProducts(ctx, query)
	if err != nil {
		return nil, toolError(err)
	}

	items := make([]interface{}, 0, len(result.Items))
	for _, product := range result.Items {
		items = append(items, productJSON(product))
	}
	return mcp.NewToolResultText(formatJSON(pageJSON(items, result.PageNumber, result.PageSize, result.TotalCount, result.TotalPages(), result.HasNext()))), nil
}

// handleUpdateProduct handles the update_product tool invocation
func (s *Server) handleUpdateProduct(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := arguments(request)
	if err != nil {
		return nil, err
	}
	productID, err := requiredString(args, "product_id")
	if err != nil {
		return nil, err
	}
	input, err := productInput(args)
	if err != nil {
		return nil, err
	}

	product, err := s.catalog.UpdateProduct(ctx, productID, input)
	if err != nil {
		return nil, toolError(err)
	}
	return mcp.NewToolResultText(formatJSON(productJSON(product))), nil
}

// handleDeleteProduct handles the delete_product tool invocation
func (s *Server) handleDeleteProduct(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := arguments(request)
	if err != nil {
		return nil, err
	}
	productID, err := requiredString(args, "product_id")
	if err != nil {
		return nil, err
	}

	if err := s.catalog.DeleteProduct(ctx, productID); err != nil {
		return nil, toolError(err)
	}
	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"deleted":    true,
		"product_id": productID,
	})), nil
}

// Helper functions

// newMCPError creates a properly formatted MCP error
func newMCPError(code int, message string, data interface{}) error {
	// MCP errors are returned as regular errors, the framework handles encoding
	return &MCPError{
		Code:    code,
		Message: message,
		Data:    data,
	}
}

// MCPError represents an MCP protocol error
type MCPError struct {
	Code    int
	Message string
	Data    interface{}
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// toolError maps a service error to its MCP error code
func toolError(err error) error {
	data := map[string]interface{}{
		"outcome": orders.Outcome(err),
	}

	var code int
	switch {
	case errors.Is(err, orders.ErrReconciliationRequired):
		code = ErrorCodeReconciliationRequired
		var rec *orders.ReconciliationError
		if errors.As(err, &rec) {
			data["order_id"] = rec.OrderID
			data["amount"] = rec.Amount.String()
		}
	case errors.Is(err, orders.ErrContentionExceeded):
		code = ErrorCodeContentionExceeded
	case errors.Is(err, orders.ErrTransactionFailure):
		code = ErrorCodeInternalError
	case errors.Is(err, types.ErrValidation):
		code = ErrorCodeInvalidParams
	case errors.Is(err, storage.ErrNotFound):
		code = ErrorCodeNotFound
	case errors.Is(err, types.ErrInsufficientStock):
		code = ErrorCodeInsufficientStock
		var stock *types.InsufficientStockError
		if errors.As(err, &stock) {
			data["product_id"] = stock.ProductID
			data["requested"] = stock.Requested
			data["available"] = stock.Available
		}
	case errors.Is(err, types.ErrInvalidTransition):
		code = ErrorCodeInvalidTransition
	case errors.Is(err, orders.ErrPaymentInProgress):
		code = ErrorCodePaymentInProgress
	case errors.Is(err, orders.ErrPaymentFailed):
		code = ErrorCodePaymentFailed
	case errors.Is(err, orders.ErrRefundFailed):
		code = ErrorCodeRefundFailed
	case errors.Is(err, catalog.ErrProductInUse):
		code = ErrorCodeProductInUse
	case errors.Is(err, catalog.ErrCategoryInUse):
		code = ErrorCodeCategoryInUse
	default:
		code = ErrorCodeInternalError
	}

	return newMCPError(code, err.Error(), data)
}

// arguments extracts the argument object of a tool call
func arguments(request mcp.CallToolRequest) (map[string]interface{}, error) {
	if request.Params.Arguments == nil {
		return map[string]interface{}{}, nil
	}
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}
	return args, nil
}

func orderIDArg(request mcp.CallToolRequest) (string, error) {
	args, err := arguments(request)
	if err != nil {
		return "", err
	}
	return requiredString(args, "order_id")
}

func requiredString(args map[string]interface{}, key string) (string, error) {
	val, ok := args[key].(string)
	if !ok || strings.TrimSpace(val) == "" {
		return "", newMCPError(ErrorCodeInvalidParams, key+" parameter is required", map[string]interface{}{
			"param":  key,
			"reason": "missing or empty",
		})
	}
	return strings.TrimSpace(val), nil
}

func requiredInt(args map[string]interface{}, key string) (int, error) {
	switch val := args[key].(type) {
	case float64:
		if val != math.Trunc(val) {
			return 0, newMCPError(ErrorCodeInvalidParams, key+" must be an integer", map[string]interface{}{
				"param": key,
				"value": val,
			})
		}
		return int(val), nil
	case int:
		return val, nil
	default:
		return 0, newMCPError(ErrorCodeInvalidParams, key+" parameter is required", map[string]interface{}{
			"param":  key,
			"reason": "missing or not a number",
		})
	}
}

func parseDecimal(key string, raw interface{}) (decimal.Decimal, error) {
	switch val := raw.(type) {
	case string:
		d, err := decimal.NewFromString(strings.TrimSpace(val))
		if err != nil {
			return decimal.Zero, newMCPError(ErrorCodeInvalidParams, key+" must be a decimal number", map[string]interface{}{
				"param": key,
				"value": val,
			})
		}
		return d, nil
	case float64:
		return decimal.NewFromFloat(val), nil
	default:
		return decimal.Zero, newMCPError(ErrorCodeInvalidParams, key+" parameter is required", map[string]interface{}{
			"param":  key,
			"reason": "missing or not a number",
		})
	}
}

func optionalDecimal(args map[string]interface{}, key string) (*decimal.Decimal, error) {
	raw, ok := args[key]
	if !ok || raw == nil {
		return nil, nil
	}
	d, err := parseDecimal(key, raw)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func translationArg(key string, raw interface{}) (types.Translation, error) {
	obj, ok := raw.(map[string]interface{})
	if !ok {
		return types.Translation{}, newMCPError(ErrorCodeInvalidParams, key+" must be an object with kz, ru or en", map[string]interface{}{
			"param": key,
		})
	}
	t, err := types.NewTranslation(
		getStringDefault(obj, "kz", ""),
		getStringDefault(obj, "ru", ""),
		getStringDefault(obj, "en", ""),
	)
	if err != nil {
		return types.Translation{}, newMCPError(ErrorCodeInvalidParams, key+": "+err.Error(), map[string]interface{}{
			"param": key,
		})
	}
	return t, nil
}

func requiredTranslation(args map[string]interface{}, key string) (types.Translation, error) {
	raw, ok := args[key]
	if !ok || raw == nil {
		return types.Translation{}, newMCPError(ErrorCodeInvalidParams, key+" parameter is required", map[string]interface{}{
			"param":  key,
			"reason": "missing",
		})
	}
	return translationArg(key, raw)
}

func optionalTranslation(args map[string]interface{}, key string) (*types.Translation, error) {
	raw, ok := args[key]
	if !ok || raw == nil {
		return nil, nil
	}
	t, err := translationArg(key, raw)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func productInput(args map[string]interface{}) (catalog.ProductInput, error) {
	var in catalog.ProductInput
	var err error

	if in.Name, err = requiredTranslation(args, "name"); err != nil {
		return in, err
	}
	if in.Description, err = optionalTranslation(args, "description"); err != nil {
		return in, err
	}
	if in.Price, err = parseDecimal("price", args["price"]); err != nil {
		return in, err
	}
	if in.Quantity, err = requiredInt(args, "quantity"); err != nil {
		return in, err
	}
	return in, nil
}

// JSON views

func timeJSON(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func translationJSON(t *types.Translation) interface{} {
	if t == nil {
		return nil
	}
	return map[string]interface{}{
		"kz": t.Kz,
		"ru": t.Ru,
		"en": t.En,
	}
}

func orderJSON(order *types.Order) map[string]interface{} {
	items := make([]interface{}, 0, len(order.Items()))
	for _, item := range order.Items() {
		items = append(items, map[string]interface{}{
			"id":         item.ID,
			"product_id": item.ProductID,
			"quantity":   item.Quantity,
			"price":      item.Price.String(),
			"total":      item.Total().String(),
		})
	}
	return map[string]interface{}{
		"id":           order.ID,
		"status":       string(order.Status()),
		"total_amount": order.Total().String(),
		"version":      order.Version,
		"created_at":   timeJSON(order.CreatedAt),
		"updated_at":   timeJSON(order.UpdatedAt),
		"items":        items,
	}
}

func categoryJSON(category *types.Category) map[string]interface{} {
	return map[string]interface{}{
		"id":          category.ID,
		"name":        translationJSON(&category.Name),
		"description": translationJSON(category.Description),
		"created_at":  timeJSON(category.CreatedAt),
	}
}

func productJSON(product *types.Product) map[string]interface{} {
	return map[string]interface{}{
		"id":          product.ID,
		"name":        translationJSON(&product.Name),
		"description": translationJSON(product.Description),
		"price":       product.Price.String(),
		"quantity":    product.Quantity,
		"available":   product.IsAvailable(),
		"category_id": product.CategoryID,
		"version":     product.Version,
		"updated_at":  timeJSON(product.UpdatedAt),
	}
}

func paymentJSON(p *storage.Payment) map[string]interface{} {
	out := map[string]interface{}{
		"order_id":    p.OrderID,
		"amount":      p.Amount.String(),
		"status":      string(p.Status),
		"provider":    p.Provider,
		"captured_at": timeJSON(p.CapturedAt),
	}
	if p.RefundedAt != nil {
		out["refunded_at"] = timeJSON(*p.RefundedAt)
	}
	return out
}

func pageJSON(items []interface{}, page, pageSize, total, totalPages int, hasNext bool) map[string]interface{} {
	return map[string]interface{}{
		"items":       items,
		"page":        page,
		"page_size":   pageSize,
		"total_count": total,
		"total_pages": totalPages,
		"has_next":    hasNext,
	}
}

// formatJSON formats a map as indented JSON
func formatJSON(data map[string]interface{}) string {
	bytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", data)
	}
	return string(bytes)
}

// getIntDefault extracts an integer parameter with a default value
func getIntDefault(args map[string]interface{}, key string, defaultValue int) int {
	if val, ok := args[key].(float64); ok {
		return int(val)
	}
	if val, ok := args[key].(int); ok {
		return val
	}
	return defaultValue
}

// getStringDefault extracts a string parameter with a default value
func getStringDefault(args map[string]interface{}, key string, defaultValue string) string {
	if val, ok := args[key].(string); ok {
		return val
	}
	return defaultValue
}
