package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
)

// Tool names
const (
	ToolCreateOrder    = "create_order"
	ToolPayOrder       = "pay_order"
	ToolCancelOrder    = "cancel_order"
	ToolRefundOrder    = "refund_order"
	ToolGetOrder       = "get_order"
	ToolListOrders     = "list_orders"
	ToolCreateCategory = "create_category"
	ToolListCategories = "list_categories"
	ToolUpdateCategory = "update_category"
	ToolDeleteCategory = "delete_category"
	ToolCreateProduct  = "create_product"
	ToolGetProduct     = "get_product"
	ToolListProducts   = "list_products"
	ToolUpdateProduct  = "update_product"
	ToolDeleteProduct  = "delete_product"
)

func translationSchema(description string) map[string]interface{} {
	return map[string]interface{}{
		"type":        "object",
		"description": description,
		"properties": map[string]interface{}{
			"kz": map[string]interface{}{"type": "string", "description": "Kazakh text"},
			"ru": map[string]interface{}{"type": "string", "description": "Russian text"},
			"en": map[string]interface{}{"type": "string", "description": "English text"},
		},
	}
}

func idSchema(description string) map[string]interface{} {
	return map[string]interface{}{
		"type":        "string",
		"description": description,
	}
}

func priceSchema(description string) map[string]interface{} {
	return map[string]interface{}{
		"type":        []string{"string", "number"},
		"description": description + " (decimal string such as \"19.99\" preferred)",
	}
}

func pagingProperties() map[string]interface{} {
	return map[string]interface{}{
		"page": map[string]interface{}{
			"type":        "integer",
			"description": "Page number starting at 1",
			"default":     1,
			"minimum":     1,
		},
		"page_size": map[string]interface{}{
			"type":        "integer",
			"description": "Items per page (1-100)",
			"default":     10,
			"minimum":     1,
			"maximum":     100,
		},
	}
}

// createOrderTool returns the tool definition for create_order
func createOrderTool() mcp.Tool {
	return mcp.Tool{
		Name:        ToolCreateOrder,
		Description: "Create an order, reserving stock for every item. Fails as a whole if any item cannot be reserved.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"items": map[string]interface{}{
					"type":        "array",
					"description": "Order lines, processed in the given order",
					"minItems":    1,
					"items": map[string]interface{}{
						"type": "object",
						"properties": map[string]interface{}{
							"product_id": idSchema("Product to order"),
							"quantity": map[string]interface{}{
								"type":        "integer",
								"description": "Units to reserve",
								"minimum":     1,
							},
						},
						"required": []string{"product_id", "quantity"},
					},
				},
			},
			Required: []string{"items"},
		},
	}
}

// payOrderTool returns the tool definition for pay_order
func payOrderTool() mcp.Tool {
	return mcp.Tool{
		Name:        ToolPayOrder,
		Description: "Charge a New order's total through the payment gateway and mark it Paid",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"order_id": idSchema("Order to pay"),
			},
			Required: []string{"order_id"},
		},
	}
}

// cancelOrderTool returns the tool definition for cancel_order
func cancelOrderTool() mcp.Tool {
	return mcp.Tool{
		Name:        ToolCancelOrder,
		Description: "Cancel a New order and return its items to stock",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"order_id": idSchema("Order to cancel"),
			},
			Required: []string{"order_id"},
		},
	}
}

// refundOrderTool returns the tool definition for refund_order
func refundOrderTool() mcp.Tool {
	return mcp.Tool{
		Name:        ToolRefundOrder,
		Description: "Refund the captured payment of a Paid order (operator action, stock is not restored)",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"order_id": idSchema("Order to refund"),
			},
			Required: []string{"order_id"},
		},
	}
}

// getOrderTool returns the tool definition for get_order
func getOrderTool() mcp.Tool {
	return mcp.Tool{
		Name:        ToolGetOrder,
		Description: "Get an order with its items",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"order_id": idSchema("Order to load"),
			},
			Required: []string{"order_id"},
		},
	}
}

// listOrdersTool returns the tool definition for list_orders
func listOrdersTool() mcp.Tool {
	props := pagingProperties()
	props["status"] = map[string]interface{}{
		"type":        "string",
		"description": "Only return orders in this status",
		"enum":        []string{"New", "Paid", "Cancelled"},
	}
	return mcp.Tool{
		Name:        ToolListOrders,
		Description: "List orders, newest first",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: props,
		},
	}
}

// createCategoryTool returns the tool definition for create_category
func createCategoryTool() mcp.Tool {
	return mcp.Tool{
		Name:        ToolCreateCategory,
		Description: "Create a product category",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"name":        translationSchema("Category name, at least one locale required"),
				"description": translationSchema("Optional category description"),
			},
			Required: []string{"name"},
		},
	}
}

// listCategoriesTool returns the tool definition for list_categories
func listCategoriesTool() mcp.Tool {
	props := pagingProperties()
	props["search"] = map[string]interface{}{
		"type":        "string",
		"description": "Substring matched against the category name",
	}
	props["locale"] = map[string]interface{}{
		"type":        "string",
		"description": "Locale to search names in; all locales when omitted",
		"enum":        []string{"kz", "ru", "en"},
	}

	return mcp.Tool{
		Name:        ToolListCategories,
		Description: "List product categories with optional name search",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: props,
		},
	}
}

// updateCategoryTool returns the tool definition for update_category
func updateCategoryTool() mcp.Tool {
	return mcp.Tool{
		Name:        ToolUpdateCategory,
		Description: "Replace a category's name and description",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"category_id": idSchema("Category to update"),
				"name":        translationSchema("Category name, at least one locale required"),
				"description": translationSchema("Optional category description; omitted clears it"),
			},
			Required: []string{"category_id", "name"},
		},
	}
}

// deleteCategoryTool returns the tool definition for delete_category
func deleteCategoryTool() mcp.Tool {
	return mcp.Tool{
		Name:        ToolDeleteCategory,
		Description: "Delete a category that has no products",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"category_id": idSchema("Category to delete"),
			},
			Required: []string{"category_id"},
		},
	}
}

// createProductTool returns the tool definition for create_product
func createProductTool() mcp.Tool {
	return mcp.Tool{
		Name:        ToolCreateProduct,
		Description: "Create a product with initial stock in an existing category",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"name":        translationSchema("Product name, at least one locale required"),
				"description": translationSchema("Optional product description"),
				"price":       priceSchema("Unit price, zero or more"),
				"quantity": map[string]interface{}{
					"type":        "integer",
					"description": "Units on hand",
					"minimum":     0,
				},
				"category_id": idSchema("Category the product belongs to"),
			},
			Required: []string{"name", "price", "quantity", "category_id"},
		},
	}
}

// getProductTool returns the tool definition for get_product
func getProductTool() mcp.Tool {
	return mcp.Tool{
		Name:        ToolGetProduct,
		Description: "Get a product with its current stock",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"product_id": idSchema("Product to load"),
			},
			Required: []string{"product_id"},
		},
	}
}

// listProductsTool returns the tool definition for list_products
func listProductsTool() mcp.Tool {
	props := pagingProperties()
	props["search"] = map[string]interface{}{
		"type":        "string",
		"description": "Substring matched against the product name",
	}
	props["locale"] = map[string]interface{}{
		"type":        "string",
		"description": "Locale to search names in; all locales when omitted",
		"enum":        []string{"kz", "ru", "en"},
	}
	props["category_id"] = idSchema("Only return products in this category")
	props["min_price"] = priceSchema("Lowest unit price")
	props["max_price"] = priceSchema("Highest unit price")

	return mcp.Tool{
		Name:        ToolListProducts,
		Description: "List products with optional name search, category and price filters",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: props,
		},
	}
}

// updateProductTool returns the tool definition for update_product
func updateProductTool() mcp.Tool {
	return mcp.Tool{
		Name:        ToolUpdateProduct,
		Description: "Replace a product's name, description, price and stock",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"product_id":  idSchema("Product to update"),
				"name":        translationSchema("Product name, at least one locale required"),
				"description": translationSchema("Optional product description; omitted clears it"),
				"price":       priceSchema("Unit price, zero or more"),
				"quantity": map[string]interface{}{
					"type":        "integer",
					"description": "Units on hand",
					"minimum":     0,
				},
			},
			Required: []string{"product_id", "name", "price", "quantity"},
		},
	}
}

// deleteProductTool returns the tool definition for delete_product
func deleteProductTool() mcp.Tool {
	return mcp.Tool{
		Name:        ToolDeleteProduct,
		Description: "Delete a product that no order references",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"product_id": idSchema("Product to delete"),
			},
			Required: []string{"product_id"},
		},
	}
}
