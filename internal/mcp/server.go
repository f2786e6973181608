package mcp

import (
	"context"
	"io"
	"log"

	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/NurluhanKakpanAitu/order-manager/internal/catalog"
	"github.com/NurluhanKakpanAitu/order-manager/internal/orders"
)

const (
	// ServerName is the MCP server name
	ServerName = "ordermanager"
)

// ServerVersion is the reported server version, overridden at build time
var ServerVersion = "1.0.0"

// Server wraps the MCP server with application dependencies
type Server struct {
	mcp     *server.MCPServer
	orders  *orders.Service
	catalog *catalog.Service
	logger  *zap.Logger
}

// NewServer creates a new MCP server exposing the order and catalog operations
func NewServer(orderSvc *orders.Service, catalogSvc *catalog.Service, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}

	mcpServer := server.NewMCPServer(
		ServerName,
		ServerVersion,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)

	s := &Server{
		mcp:     mcpServer,
		orders:  orderSvc,
		catalog: catalogSvc,
		logger:  logger,
	}

	s.registerTools()
	return s
}

// Serve reads MCP messages from in and writes responses to out until ctx is
// cancelled or in is closed
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	stdio := server.NewStdioServer(s.mcp)
	stdio.SetErrorLogger(log.New(&zapWriter{logger: s.logger}, "", 0))

	s.logger.Info("mcp server listening on stdio", zap.String("version", ServerVersion))
	err := stdio.Listen(ctx, in, out)
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// registerTools registers all MCP tools
func (s *Server) registerTools() {
	// Order workflow
	s.mcp.AddTool(createOrderTool(), s.handleCreateOrder)
	s.mcp.AddTool(payOrderTool(), s.handlePayOrder)
	s.mcp.AddTool(cancelOrderTool(), s.handleCancelOrder)
	s.mcp.AddTool(refundOrderTool(), s.handleRefundOrder)
	s.mcp.AddTool(getOrderTool(), s.handleGetOrder)
	s.mcp.AddTool(listOrdersTool(), s.handleListOrders)

	// Catalog
	s.mcp.AddTool(createCategoryTool(), s.handleCreateCategory)
	s.mcp.AddTool(listCategoriesTool(), s.handleListCategories)
	s.mcp.AddTool(updateCategoryTool(), s.handleUpdateCategory)
	s.mcp.AddTool(deleteCategoryTool(), s.handleDeleteCategory)
	s.mcp.AddTool(createProductTool(), s.handleCreateProduct)
	s.mcp.AddTool(getProductTool(), s.handleGetProduct)
	s.mcp.AddTool(listProductsTool(), s.handleListProducts)
	s.mcp.AddTool(updateProductTool(), s.handleUpdateProduct)
	s.mcp.AddTool(deleteProductTool(), s.handleDeleteProduct)
}

// zapWriter adapts the stdio server's error logger to zap
type zapWriter struct {
	logger *zap.Logger
}

func (w *zapWriter) Write(p []byte) (int, error) {
	w.logger.Warn("mcp transport", zap.ByteString("message", p))
	return len(p), nil
}
