package orders

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/NurluhanKakpanAitu/order-manager/internal/events"
	"github.com/NurluhanKakpanAitu/order-manager/internal/payment"
	"github.com/NurluhanKakpanAitu/order-manager/internal/storage"
	"github.com/NurluhanKakpanAitu/order-manager/pkg/types"
)

// WorkflowTestSuite covers the order workflows against in-memory storage
type WorkflowTestSuite struct {
	suite.Suite
	ctx      context.Context
	store    *storage.SQLiteStorage
	gateway  *payment.Fake
	logs     *observer.ObservedLogs
	svc      *Service
	category *types.Category
}

func (s *WorkflowTestSuite) SetupTest() {
	s.ctx = context.Background()

	store, err := storage.NewSQLiteStorage(":memory:")
	s.Require().NoError(err)
	s.store = store

	s.gateway = payment.NewFake(true)

	core, logs := observer.New(zap.DebugLevel)
	s.logs = logs
	s.svc = New(s.store, s.gateway, WithLogger(zap.New(core)))

	category, err := types.NewCategory(types.Translation{En: "Hardware"}, nil)
	s.Require().NoError(err)
	s.Require().NoError(s.store.CreateCategory(s.ctx, category))
	s.category = category
}

func (s *WorkflowTestSuite) TearDownTest() {
	if s.store != nil {
		_ = s.store.Close()
	}
}

func (s *WorkflowTestSuite) product(name, price string, qty int) *types.Product {
	p, err := types.NewProduct(types.Translation{En: name}, nil, decimal.RequireFromString(price), qty, s.category.ID)
	s.Require().NoError(err)
	s.Require().NoError(s.store.CreateProduct(s.ctx, p))
	return p
}

func (s *WorkflowTestSuite) stock(id string) int {
	p, err := s.store.GetProduct(s.ctx, id)
	s.Require().NoError(err)
	return p.Quantity
}

func (s *WorkflowTestSuite) topics() []string {
	pending, err := s.store.FetchPendingEvents(s.ctx, 100)
	s.Require().NoError(err)
	out := make([]string, 0, len(pending))
	for _, e := range pending {
		out = append(out, e.Topic)
	}
	return out
}

func (s *WorkflowTestSuite) TestCreateOrder_ReservesStock() {
	p1 := s.product("Keyboard", "50", 10)
	p2 := s.product("Mouse", "30", 5)

	order, err := s.svc.CreateOrder(s.ctx, []OrderLine{
		{ProductID: p1.ID, Quantity: 2},
		{ProductID: p2.ID, Quantity: 1},
	})
	s.Require().NoError(err)

	s.Equal(types.StatusNew, order.Status())
	s.True(decimal.NewFromInt(130).Equal(order.Total()), "total = %s", order.Total())
	s.Equal(8, s.stock(p1.ID))
	s.Equal(4, s.stock(p2.ID))

	loaded, err := s.svc.GetOrder(s.ctx, order.ID)
	s.Require().NoError(err)
	items := loaded.Items()
	s.Require().Len(items, 2)
	s.Equal(p1.ID, items[0].ProductID)
	s.True(decimal.NewFromInt(50).Equal(items[0].Price))
	s.Equal(p2.ID, items[1].ProductID)

	s.Equal([]string{events.EventOrderCreated}, s.topics())
	s.Equal(1, s.logs.FilterMessage("order created").Len())
}

func (s *WorkflowTestSuite) TestCreateOrder_PriceSnapshot() {
	p := s.product("Monitor", "200", 3)

	order, err := s.svc.CreateOrder(s.ctx, []OrderLine{{ProductID: p.ID, Quantity: 1}})
	s.Require().NoError(err)

	current, err := s.store.GetProduct(s.ctx, p.ID)
	s.Require().NoError(err)
	s.Require().NoError(current.Update(current.Name, nil, decimal.RequireFromString("250"), current.Quantity))
	s.Require().NoError(s.store.UpdateProduct(s.ctx, current))

	loaded, err := s.svc.GetOrder(s.ctx, order.ID)
	s.Require().NoError(err)
	s.True(decimal.NewFromInt(200).Equal(loaded.Total()))
}

func (s *WorkflowTestSuite) TestCreateOrder_InsufficientStock() {
	p := s.product("Webcam", "40", 2)

	_, err := s.svc.CreateOrder(s.ctx, []OrderLine{{ProductID: p.ID, Quantity: 5}})
	s.Require().Error(err)
	s.ErrorIs(err, types.ErrInsufficientStock)

	var stockErr *types.InsufficientStockError
	s.Require().True(errors.As(err, &stockErr))
	s.Equal(p.ID, stockErr.ProductID)
	s.Equal("Webcam", stockErr.ProductName)
	s.Equal(5, stockErr.Requested)
	s.Equal(2, stockErr.Available)

	s.Equal(2, s.stock(p.ID))
	page, err := s.svc.ListOrders(s.ctx, 1, 10, nil)
	s.Require().NoError(err)
	s.Equal(0, page.TotalCount)
	s.Empty(s.topics())
	s.Equal(1, s.logs.FilterMessage("order operation failed").Len())
}

func (s *WorkflowTestSuite) TestCreateOrder_FailingLineRollsBackEarlierLines() {
	p1 := s.product("Cable", "5", 10)
	p2 := s.product("Hub", "25", 1)

	_, err := s.svc.CreateOrder(s.ctx, []OrderLine{
		{ProductID: p1.ID, Quantity: 4},
		{ProductID: p2.ID, Quantity: 2},
	})
	s.ErrorIs(err, types.ErrInsufficientStock)
	s.Equal(10, s.stock(p1.ID))
	s.Equal(1, s.stock(p2.ID))

	_, err = s.svc.CreateOrder(s.ctx, []OrderLine{
		{ProductID: p1.ID, Quantity: 4},
		{ProductID: "missing", Quantity: 1},
	})
	s.ErrorIs(err, ErrNotFound)
	s.ErrorIs(err, storage.ErrNotFound)
	s.Equal(10, s.stock(p1.ID))
}

func (s *WorkflowTestSuite) TestCreateOrder_SameProductTwice() {
	p := s.product("Pen", "2", 5)

	order, err := s.svc.CreateOrder(s.ctx, []OrderLine{
		{ProductID: p.ID, Quantity: 2},
		{ProductID: p.ID, Quantity: 3},
	})
	s.Require().NoError(err)
	s.Equal(0, s.stock(p.ID))
	s.True(decimal.NewFromInt(10).Equal(order.Total()))

	_, err = s.svc.CreateOrder(s.ctx, []OrderLine{
		{ProductID: p.ID, Quantity: 0},
	})
	s.ErrorIs(err, types.ErrValidation)
}

func (s *WorkflowTestSuite) TestCreateOrder_Validation() {
	_, err := s.svc.CreateOrder(s.ctx, nil)
	s.ErrorIs(err, types.ErrValidation)

	_, err = s.svc.CreateOrder(s.ctx, []OrderLine{{ProductID: "", Quantity: 1}})
	s.ErrorIs(err, types.ErrValidation)

	_, err = s.svc.CreateOrder(s.ctx, []OrderLine{{ProductID: "p", Quantity: -1}})
	s.ErrorIs(err, types.ErrValidation)
}

func (s *WorkflowTestSuite) TestCreateOrder_CancelledContext() {
	p := s.product("Desk", "300", 4)

	ctx, cancel := context.WithCancel(s.ctx)
	cancel()

	_, err := s.svc.CreateOrder(ctx, []OrderLine{{ProductID: p.ID, Quantity: 1}})
	s.ErrorIs(err, context.Canceled)
	s.Equal(4, s.stock(p.ID))
	s.Empty(s.topics())
}

func (s *WorkflowTestSuite) TestPayOrder_Approved() {
	p := s.product("Chair", "120", 3)
	order, err := s.svc.CreateOrder(s.ctx, []OrderLine{{ProductID: p.ID, Quantity: 1}})
	s.Require().NoError(err)

	paid, err := s.svc.PayOrder(s.ctx, order.ID)
	s.Require().NoError(err)
	s.Equal(types.StatusPaid, paid.Status())

	loaded, err := s.svc.GetOrder(s.ctx, order.ID)
	s.Require().NoError(err)
	s.Equal(types.StatusPaid, loaded.Status())

	captured, err := s.store.GetPayment(s.ctx, order.ID)
	s.Require().NoError(err)
	s.Equal(storage.PaymentCaptured, captured.Status)
	s.True(decimal.NewFromInt(120).Equal(captured.Amount))
	s.Equal("fake", captured.Provider)

	s.Equal([]string{order.ID}, s.gateway.Charges())
	s.Empty(s.svc.PendingSettlements())
	s.Equal([]string{events.EventOrderCreated, events.EventOrderPaid}, s.topics())

	// Paid is terminal
	_, err = s.svc.PayOrder(s.ctx, order.ID)
	s.ErrorIs(err, types.ErrInvalidTransition)
	_, err = s.svc.CancelOrder(s.ctx, order.ID)
	s.ErrorIs(err, types.ErrInvalidTransition)
	s.Len(s.gateway.Charges(), 1)
	s.Equal(2, s.stock(p.ID))
}

func (s *WorkflowTestSuite) TestPayOrder_Declined() {
	p := s.product("Lamp", "15", 3)
	order, err := s.svc.CreateOrder(s.ctx, []OrderLine{{ProductID: p.ID, Quantity: 1}})
	s.Require().NoError(err)

	s.gateway.SetResult(false, nil)
	_, err = s.svc.PayOrder(s.ctx, order.ID)
	s.ErrorIs(err, ErrPaymentFailed)
	s.Equal(OutcomePaymentFailed, Outcome(err))

	loaded, err := s.svc.GetOrder(s.ctx, order.ID)
	s.Require().NoError(err)
	s.Equal(types.StatusNew, loaded.Status())
	_, err = s.store.GetPayment(s.ctx, order.ID)
	s.ErrorIs(err, storage.ErrNotFound)

	// Caller may retry later
	s.gateway.SetResult(true, nil)
	_, err = s.svc.PayOrder(s.ctx, order.ID)
	s.NoError(err)
	s.Len(s.gateway.Charges(), 2)
}

func (s *WorkflowTestSuite) TestPayOrder_GatewayError() {
	p := s.product("Stand", "35", 1)
	order, err := s.svc.CreateOrder(s.ctx, []OrderLine{{ProductID: p.ID, Quantity: 1}})
	s.Require().NoError(err)

	s.gateway.SetResult(false, payment.ErrGatewayFailed)
	_, err = s.svc.PayOrder(s.ctx, order.ID)
	s.ErrorIs(err, ErrPaymentFailed)
	s.ErrorIs(err, payment.ErrGatewayFailed)
	s.Empty(s.svc.PendingSettlements())
}

func (s *WorkflowTestSuite) TestPayOrder_NotFound() {
	_, err := s.svc.PayOrder(s.ctx, "missing")
	s.ErrorIs(err, ErrNotFound)
	s.Empty(s.gateway.Charges())
}

func (s *WorkflowTestSuite) TestPayOrder_InProgress() {
	p := s.product("Tablet", "400", 2)
	order, err := s.svc.CreateOrder(s.ctx, []OrderLine{{ProductID: p.ID, Quantity: 1}})
	s.Require().NoError(err)

	s.Require().True(s.svc.locks.TryAcquire(order.ID))
	_, err = s.svc.PayOrder(s.ctx, order.ID)
	s.ErrorIs(err, ErrPaymentInProgress)
	_, err = s.svc.RefundOrder(s.ctx, order.ID)
	s.ErrorIs(err, ErrPaymentInProgress)
	s.Empty(s.gateway.Charges())

	s.svc.locks.Release(order.ID)
	_, err = s.svc.PayOrder(s.ctx, order.ID)
	s.NoError(err)
}

func (s *WorkflowTestSuite) TestCancelOrder_RestoresStock() {
	p := s.product("Speaker", "80", 10)
	order, err := s.svc.CreateOrder(s.ctx, []OrderLine{{ProductID: p.ID, Quantity: 2}})
	s.Require().NoError(err)
	s.Equal(8, s.stock(p.ID))

	cancelled, err := s.svc.CancelOrder(s.ctx, order.ID)
	s.Require().NoError(err)
	s.Equal(types.StatusCancelled, cancelled.Status())
	s.Equal(10, s.stock(p.ID))

	// Second cancel fails and does not restore twice
	_, err = s.svc.CancelOrder(s.ctx, order.ID)
	s.ErrorIs(err, types.ErrInvalidTransition)
	s.Equal(10, s.stock(p.ID))

	_, err = s.svc.PayOrder(s.ctx, order.ID)
	s.ErrorIs(err, types.ErrInvalidTransition)
	s.Empty(s.gateway.Charges())

	s.Equal([]string{events.EventOrderCreated, events.EventOrderCancelled}, s.topics())
}

func (s *WorkflowTestSuite) TestCancelOrder_SkipsMissingProduct() {
	kept := s.product("Router", "60", 5)
	gone := s.product("Modem", "45", 5)
	order, err := s.svc.CreateOrder(s.ctx, []OrderLine{
		{ProductID: kept.ID, Quantity: 1},
		{ProductID: gone.ID, Quantity: 2},
	})
	s.Require().NoError(err)
	s.Require().NoError(s.store.DeleteProduct(s.ctx, gone.ID))

	_, err = s.svc.CancelOrder(s.ctx, order.ID)
	s.Require().NoError(err)
	s.Equal(5, s.stock(kept.ID))

	skipped := s.logs.FilterMessage("product missing, stock not restored").All()
	s.Require().Len(skipped, 1)
	s.Equal(zap.WarnLevel, skipped[0].Level)
	s.Equal(gone.ID, skipped[0].ContextMap()["product_id"])
}

func (s *WorkflowTestSuite) TestCancelOrder_NotFound() {
	_, err := s.svc.CancelOrder(s.ctx, "missing")
	s.ErrorIs(err, ErrNotFound)
	s.Equal(OutcomeNotFound, Outcome(err))
}

func (s *WorkflowTestSuite) TestRefundOrder() {
	p := s.product("Printer", "150", 2)
	order, err := s.svc.CreateOrder(s.ctx, []OrderLine{{ProductID: p.ID, Quantity: 1}})
	s.Require().NoError(err)

	_, err = s.svc.RefundOrder(s.ctx, order.ID)
	s.ErrorIs(err, types.ErrInvalidTransition, "new orders cannot be refunded")

	_, err = s.svc.PayOrder(s.ctx, order.ID)
	s.Require().NoError(err)

	s.gateway.SetRefundResult(false, nil)
	_, err = s.svc.RefundOrder(s.ctx, order.ID)
	s.ErrorIs(err, ErrRefundFailed)
	captured, err := s.store.GetPayment(s.ctx, order.ID)
	s.Require().NoError(err)
	s.Equal(storage.PaymentCaptured, captured.Status)

	s.gateway.SetRefundResult(true, nil)
	refund, err := s.svc.RefundOrder(s.ctx, order.ID)
	s.Require().NoError(err)
	s.Equal(storage.PaymentRefunded, refund.Status)
	s.NotNil(refund.RefundedAt)

	loaded, err := s.svc.GetOrder(s.ctx, order.ID)
	s.Require().NoError(err)
	s.Equal(types.StatusPaid, loaded.Status())

	_, err = s.svc.RefundOrder(s.ctx, order.ID)
	s.ErrorIs(err, types.ErrInvalidTransition, "already refunded")
	s.Equal([]string{order.ID, order.ID}, s.gateway.Refunds())

	s.Equal([]string{events.EventOrderCreated, events.EventOrderPaid, events.EventPaymentRefunded}, s.topics())
}

func (s *WorkflowTestSuite) TestListOrders() {
	p := s.product("Notebook", "3", 100)
	var ids []string
	for i := 0; i < 5; i++ {
		order, err := s.svc.CreateOrder(s.ctx, []OrderLine{{ProductID: p.ID, Quantity: 1}})
		s.Require().NoError(err)
		ids = append(ids, order.ID)
	}
	_, err := s.svc.PayOrder(s.ctx, ids[0])
	s.Require().NoError(err)
	_, err = s.svc.CancelOrder(s.ctx, ids[1])
	s.Require().NoError(err)

	page, err := s.svc.ListOrders(s.ctx, 1, 2, nil)
	s.Require().NoError(err)
	s.Equal(5, page.TotalCount)
	s.Len(page.Items, 2)
	s.Equal(3, page.TotalPages())
	s.True(page.HasNext())

	last, err := s.svc.ListOrders(s.ctx, 3, 2, nil)
	s.Require().NoError(err)
	s.Len(last.Items, 1)
	s.False(last.HasNext())

	status := types.StatusNew
	fresh, err := s.svc.ListOrders(s.ctx, 0, 0, &status)
	s.Require().NoError(err)
	s.Equal(3, fresh.TotalCount)
	s.Equal(types.DefaultPageSize, fresh.PageSize)
	for _, o := range fresh.Items {
		s.Equal(types.StatusNew, o.Status())
	}

	_, err = s.svc.ListOrders(s.ctx, 1, types.MaxPageSize+1, nil)
	s.ErrorIs(err, types.ErrValidation)
}

func TestWorkflowTestSuite(t *testing.T) {
	suite.Run(t, new(WorkflowTestSuite))
}
