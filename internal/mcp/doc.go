// Package mcp implements the Model Context Protocol (MCP) server for the order manager.
//
// The server exposes the order workflow and the catalog as MCP tools:
//   - create_order, pay_order, cancel_order, refund_order: order lifecycle
//   - get_order, list_orders: order queries
//   - create_category, list_categories, update_category, delete_category: categories
//   - create_product, get_product, list_products, update_product, delete_product: products
//
// # Protocol Overview
//
// MCP is a JSON-RPC 2.0 protocol over stdio transport:
//
//	Client → Server: {"method": "tools/call", "params": {...}}
//	Server → Client: {"result": {...}}
//
// Logs go to stderr; stdout carries protocol messages only.
//
// # Tool: create_order
//
//	Request:
//	{
//	  "name": "create_order",
//	  "arguments": {
//	    "items": [
//	      {"product_id": "7c1e...", "quantity": 2},
//	      {"product_id": "a90b...", "quantity": 1}
//	    ]
//	  }
//	}
//
//	Response:
//	{
//	  "id": "5f0d...",
//	  "status": "New",
//	  "total_amount": "130",
//	  "items": [
//	    {"product_id": "7c1e...", "quantity": 2, "price": "50", "total": "100"},
//	    {"product_id": "a90b...", "quantity": 1, "price": "30", "total": "30"}
//	  ]
//	}
//
// Money is always rendered as a decimal string.
//
// # Tool: list_orders
//
//	Request:
//	{
//	  "name": "list_orders",
//	  "arguments": {"page": 1, "page_size": 10, "status": "New"}
//	}
//
//	Response:
//	{
//	  "items": [...],
//	  "page": 1,
//	  "page_size": 10,
//	  "total_count": 23,
//	  "total_pages": 3,
//	  "has_next": true
//	}
//
// # Error Handling
//
// Each failure kind has its own error code:
//
//	-32602  Invalid params or validation failure
//	-32603  Internal error or transaction failure
//	-32001  Not found
//	-32002  Insufficient stock (data carries product_id, requested, available)
//	-32003  Invalid state transition
//	-32004  Payment failed; the order stays New and may be paid again
//	-32005  Contention retries exhausted; the whole call may be retried
//	-32006  Reconciliation required; the gateway charged but the order was not
//	        committed. Calling pay_order again completes it without a second charge.
//	-32007  Payment already in progress for the order
//	-32008  Product is referenced by orders
//	-32009  Refund failed
//	-32010  Category still has products
//
// Error data always includes an "outcome" label.
package mcp
