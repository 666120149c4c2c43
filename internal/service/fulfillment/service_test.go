package fulfillment_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/vladislavdragonenkov/orderengine/internal/domain"
	"github.com/vladislavdragonenkov/orderengine/internal/metrics"
	"github.com/vladislavdragonenkov/orderengine/internal/service/checkout"
	"github.com/vladislavdragonenkov/orderengine/internal/service/fulfillment"
	"github.com/vladislavdragonenkov/orderengine/internal/storage/memory"
)

type FulfillmentSuite struct {
	suite.Suite

	ctx   context.Context
	store *memory.Store
	svc   *fulfillment.Service
	order domain.Order
}

func TestFulfillmentSuite(t *testing.T) {
	suite.Run(t, new(FulfillmentSuite))
}

func (s *FulfillmentSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = memory.NewStore()
	s.store.UpsertProduct(domain.Product{ID: "A", SellerID: "seller-1", Name: "Lamp", PriceMinor: 100, Currency: "USD", Stock: 10})
	s.store.UpsertProduct(domain.Product{ID: "B", SellerID: "seller-2", Name: "Chair", PriceMinor: 200, Currency: "USD", Stock: 10})
	s.store.UpsertProduct(domain.Product{ID: "C", SellerID: "seller-1", Name: "Rug", PriceMinor: 300, Currency: "USD", Stock: 10})

	order, err := checkout.NewService(s.store).CreateFromItems(s.ctx, checkout.CreateOrderRequest{
		BuyerID: "buyer-1",
		Lines: []domain.OrderLine{
			{ProductID: "A", Quantity: 2},
			{ProductID: "B", Quantity: 1},
			{ProductID: "C", Quantity: 3},
		},
	})
	s.Require().NoError(err)
	s.order = order
	s.svc = fulfillment.NewService(s.store, s.store)
}

func (s *FulfillmentSuite) item(productID string) domain.OrderItem {
	for _, item := range s.order.Items {
		if item.ProductID == productID {
			current, err := s.store.GetOrderItem(s.ctx, item.ID)
			s.Require().NoError(err)
			return current
		}
	}
	s.FailNow("no item for product " + productID)
	return domain.OrderItem{}
}

func (s *FulfillmentSuite) stock(productID string) int64 {
	p, ok := s.store.Product(productID)
	s.Require().True(ok)
	return p.Stock
}

func (s *FulfillmentSuite) advance(productID string, statuses ...domain.ItemStatus) {
	item := s.item(productID)
	seller := domain.Seller(item.SellerID)
	for _, status := range statuses {
		s.Require().NoError(s.svc.UpdateStatus(s.ctx, seller, item.ID, status))
	}
}

func (s *FulfillmentSuite) TestCancelRestoresExactQuantity() {
	s.Equal(int64(8), s.stock("A"))

	s.Require().NoError(s.svc.Cancel(s.ctx, domain.Buyer("buyer-1"), s.item("A").ID))

	s.Equal(domain.ItemStatusCancelled, s.item("A").Status)
	s.Equal(int64(10), s.stock("A"))

	err := s.svc.Cancel(s.ctx, domain.Buyer("buyer-1"), s.item("A").ID)
	var transitionErr *domain.InvalidTransitionError
	s.Require().ErrorAs(err, &transitionErr)
	s.Equal(domain.ItemStatusCancelled, transitionErr.From)
	s.Contains(err.Error(), "already cancelled")
	s.Equal(int64(10), s.stock("A"), "second cancel must not restore again")
}

func (s *FulfillmentSuite) TestCancelFromProcessing() {
	s.advance("C", domain.ItemStatusProcessing)

	s.Require().NoError(s.svc.Cancel(s.ctx, domain.Seller("seller-1"), s.item("C").ID))
	s.Equal(int64(10), s.stock("C"))
}

func (s *FulfillmentSuite) TestBulkCancelIsAllOrNothing() {
	s.advance("B", domain.ItemStatusProcessing, domain.ItemStatusShipped, domain.ItemStatusDelivered)

	ids := []string{s.item("A").ID, s.item("B").ID, s.item("C").ID}
	err := s.svc.BulkCancel(s.ctx, domain.Buyer("buyer-1"), ids)

	var bulk *domain.BulkTransitionError
	s.Require().ErrorAs(err, &bulk)
	s.Require().Len(bulk.Failures, 1)
	s.Equal(s.item("B").ID, bulk.Failures[0].ItemID)
	s.Equal(domain.ItemStatusDelivered, bulk.Failures[0].From)
	s.Equal(domain.ItemStatusCancelled, bulk.Failures[0].To)

	s.Equal(domain.ItemStatusPending, s.item("A").Status)
	s.Equal(domain.ItemStatusPending, s.item("C").Status)
	s.Equal(int64(8), s.stock("A"))
	s.Equal(int64(7), s.stock("C"))
}

func (s *FulfillmentSuite) TestBulkReportsEveryFailure() {
	ids := []string{s.item("A").ID, s.item("C").ID}
	err := s.svc.BulkUpdateStatus(s.ctx, domain.Seller("seller-1"), ids, domain.ItemStatusShipped)

	var bulk *domain.BulkTransitionError
	s.Require().ErrorAs(err, &bulk)
	s.ElementsMatch(ids, bulk.ItemIDs())
	s.ErrorIs(err, domain.ErrInvalidStatusTransition)
}

func (s *FulfillmentSuite) TestMissingItemsAreReported() {
	err := s.svc.BulkCancel(s.ctx, domain.Buyer("buyer-1"), []string{s.item("A").ID, "ghost-1", "ghost-2"})

	var notFound *domain.ItemsNotFoundError
	s.Require().ErrorAs(err, &notFound)
	s.Equal([]string{"ghost-1", "ghost-2"}, notFound.IDs)
	s.Equal(domain.ItemStatusPending, s.item("A").Status)
}

func (s *FulfillmentSuite) TestSellerCannotTouchForeignItems() {
	err := s.svc.UpdateStatus(s.ctx, domain.Seller("seller-2"), s.item("A").ID, domain.ItemStatusProcessing)

	s.Require().ErrorIs(err, domain.ErrOrderItemNotFound)
	s.Equal(domain.ItemStatusPending, s.item("A").Status)
}

func (s *FulfillmentSuite) TestForeignBuyerSeesNotFound() {
	err := s.svc.Cancel(s.ctx, domain.Buyer("buyer-2"), s.item("A").ID)
	s.Require().ErrorIs(err, domain.ErrOrderItemNotFound)
}

func (s *FulfillmentSuite) TestBuyerMayOnlyCancel() {
	err := s.svc.UpdateStatus(s.ctx, domain.Buyer("buyer-1"), s.item("A").ID, domain.ItemStatusShipped)
	s.Require().ErrorIs(err, domain.ErrForbidden)
}

func (s *FulfillmentSuite) TestInputValidation() {
	s.ErrorIs(s.svc.BulkCancel(s.ctx, domain.Buyer("buyer-1"), nil), domain.ErrOrderItemIDsRequired)
	s.ErrorIs(s.svc.BulkCancel(s.ctx, domain.Buyer("buyer-1"), []string{" ", ""}), domain.ErrOrderItemIDsRequired)
	s.ErrorIs(s.svc.BulkUpdateStatus(s.ctx, domain.Seller("seller-1"), []string{"x"}, "lost"), domain.ErrInvalidStatus)
	s.ErrorIs(s.svc.Cancel(s.ctx, domain.Viewer{Role: domain.RoleBuyer}, "x"), domain.ErrUnauthenticated)
}

func (s *FulfillmentSuite) TestDuplicateIDsAreCollapsed() {
	id := s.item("A").ID
	s.Require().NoError(s.svc.BulkCancel(s.ctx, domain.Buyer("buyer-1"), []string{id, id}))
	s.Equal(int64(10), s.stock("A"))
}

func (s *FulfillmentSuite) TestSellerCancelOrderOnlyTouchesOwnItems() {
	s.Require().NoError(s.svc.CancelOrder(s.ctx, domain.Seller("seller-1"), s.order.ID))

	s.Equal(domain.ItemStatusCancelled, s.item("A").Status)
	s.Equal(domain.ItemStatusCancelled, s.item("C").Status)
	s.Equal(domain.ItemStatusPending, s.item("B").Status)
	s.Equal(int64(10), s.stock("A"))
	s.Equal(int64(10), s.stock("C"))
	s.Equal(int64(9), s.stock("B"))
}

func (s *FulfillmentSuite) TestCancelOrderHidesForeignOrders() {
	s.ErrorIs(s.svc.CancelOrder(s.ctx, domain.Buyer("buyer-2"), s.order.ID), domain.ErrOrderNotFound)
	s.ErrorIs(s.svc.CancelOrder(s.ctx, domain.Seller("seller-9"), s.order.ID), domain.ErrOrderNotFound)
	s.ErrorIs(s.svc.CancelOrder(s.ctx, domain.Buyer("buyer-1"), "missing"), domain.ErrOrderNotFound)
}

func (s *FulfillmentSuite) TestStatusChangeWritesTimelineAndOutbox() {
	s.Require().NoError(s.svc.CancelOrder(s.ctx, domain.Buyer("buyer-1"), s.order.ID))

	events, err := s.store.TimelineRepository().List(s.ctx, s.order.ID)
	s.Require().NoError(err)
	s.Require().Len(events, 2)
	s.Equal(domain.TimelineOrderCreated, events[0].Type)
	s.Equal(domain.TimelineItemsCancelled, events[1].Type)

	msgs := s.store.OutboxRepository().Messages()
	s.Require().Len(msgs, 2)
	s.Equal(domain.EventItemsStatusChanged, msgs[1].EventType)
	s.Contains(string(msgs[1].Payload), `"restocked":true`)
}

type failingTx struct{ domain.TxManager }

func (failingTx) WithinTx(context.Context, func(context.Context, domain.Tx) error) error {
	return errors.New("connection refused")
}

func TestBulkUpdateStatus_WrapsStorageFailures(t *testing.T) {
	svc := fulfillment.NewService(failingTx{}, nil)

	err := svc.BulkCancel(context.Background(), domain.Buyer("b"), []string{"i1"})
	require.ErrorIs(t, err, domain.ErrPersistence)
	assert.Contains(t, err.Error(), "connection refused")
}

// statusWriteFails откатывает транзакцию уже после возврата остатков.
type statusWriteFails struct{ domain.TxManager }

func (m statusWriteFails) WithinTx(ctx context.Context, fn func(context.Context, domain.Tx) error) error {
	return m.TxManager.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		return fn(ctx, brokenOrdersTx{tx})
	})
}

type brokenOrdersTx struct{ domain.Tx }

func (t brokenOrdersTx) Orders() domain.OrderWriter { return brokenOrders{t.Tx.Orders()} }

type brokenOrders struct{ domain.OrderWriter }

func (brokenOrders) UpdateItemStatuses(context.Context, []string, domain.ItemStatus, time.Time) (int, error) {
	return 0, errors.New("disk full")
}

func TestBulkCancel_RestockMetricsOnlyAfterCommit(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	store.UpsertProduct(domain.Product{ID: "A", SellerID: "seller-1", Name: "Lamp", PriceMinor: 100, Currency: "USD", Stock: 5})
	order, err := checkout.NewService(store).CreateFromItems(ctx, checkout.CreateOrderRequest{
		BuyerID: "buyer-1",
		Lines:   []domain.OrderLine{{ProductID: "A", Quantity: 2}},
	})
	require.NoError(t, err)
	itemIDs := order.ItemIDs()

	reg := prometheus.NewRegistry()
	m := metrics.NewEngineMetricsWithRegisterer(reg)

	broken := fulfillment.NewService(statusWriteFails{store}, store, fulfillment.WithMetrics(m))
	err = broken.BulkCancel(ctx, domain.Buyer("buyer-1"), itemIDs)
	require.ErrorIs(t, err, domain.ErrPersistence)
	product, _ := store.Product("A")
	assert.EqualValues(t, 3, product.Stock, "restore is rolled back")

	count, err := testutil.GatherAndCount(reg, "orderengine_stock_units_total")
	require.NoError(t, err)
	assert.Zero(t, count)

	svc := fulfillment.NewService(store, store, fulfillment.WithMetrics(m))
	require.NoError(t, svc.BulkCancel(ctx, domain.Buyer("buyer-1"), itemIDs))

	expected := `
# HELP orderengine_stock_units_total Total number of stock units moved grouped by direction
# TYPE orderengine_stock_units_total counter
orderengine_stock_units_total{direction="restore"} 2
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "orderengine_stock_units_total"))
}
