// Package orderquery — путь чтения заказов с учётом роли вызывающего.
package orderquery

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/vladislavdragonenkov/orderengine/internal/domain"
)

// statsTimeout ограничивает общий запрос агрегатов, который больше не
// привязан к отмене первого вызывающего.
const statsTimeout = 10 * time.Second

// Option настраивает Service.
type Option func(*Service)

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithTimeline подключает хронологию заказов.
func WithTimeline(repo domain.TimelineRepository) Option {
	return func(s *Service) {
		s.timeline = repo
	}
}

// Service отдаёт заказы, позиции и агрегаты. Продавец видит только свои позиции,
// а недоступный заказ неотличим от несуществующего.
type Service struct {
	orders   domain.OrderReader
	timeline domain.TimelineRepository
	logger   *log.Entry
	stats    singleflight.Group
}

// NewService создаёт сервис запросов.
func NewService(orders domain.OrderReader, opts ...Option) *Service {
	s := &Service{
		orders: orders,
		logger: log.WithField("component", "order-query"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetOrder возвращает заказ в видимой вызывающему форме.
func (s *Service) GetOrder(ctx context.Context, viewer domain.Viewer, orderID string) (domain.Order, error) {
	if err := viewer.Validate(); err != nil {
		return domain.Order{}, err
	}

	order, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		return domain.Order{}, domain.Persistence("get order", err)
	}
	scoped, ok := viewer.Scope(order)
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return scoped, nil
}

// ListOrders возвращает страницу заказов, новые первыми.
func (s *Service) ListOrders(ctx context.Context, viewer domain.Viewer, filter domain.OrderFilter) (domain.OrderPage, error) {
	if err := viewer.Validate(); err != nil {
		return domain.OrderPage{}, err
	}
	filter, err := filter.Normalize()
	if err != nil {
		return domain.OrderPage{}, err
	}

	orders, total, err := s.orders.ListOrders(ctx, domain.OrderQuery{Viewer: viewer, OrderFilter: filter})
	if err != nil {
		return domain.OrderPage{}, domain.Persistence("list orders", err)
	}
	if orders == nil {
		orders = []domain.Order{}
	}
	return domain.OrderPage{
		Orders:   orders,
		Total:    total,
		Page:     filter.Page,
		PageSize: filter.PageSize,
	}, nil
}

// SellerOrderItems возвращает позиции продавца в заказе. Покупателю недоступно.
func (s *Service) SellerOrderItems(ctx context.Context, viewer domain.Viewer, orderID string) ([]domain.OrderItem, error) {
	if err := viewer.Validate(); err != nil {
		return nil, err
	}
	if viewer.Role != domain.RoleSeller {
		return nil, fmt.Errorf("%w: only sellers list their order items", domain.ErrForbidden)
	}

	order, err := s.GetOrder(ctx, viewer, orderID)
	if err != nil {
		return nil, err
	}
	return order.Items, nil
}

// GetOrderItem возвращает позицию, если она принадлежит вызывающему.
func (s *Service) GetOrderItem(ctx context.Context, viewer domain.Viewer, itemID string) (domain.OrderItem, error) {
	if err := viewer.Validate(); err != nil {
		return domain.OrderItem{}, err
	}

	item, err := s.orders.GetOrderItem(ctx, itemID)
	if err != nil {
		return domain.OrderItem{}, domain.Persistence("get order item", err)
	}
	if !viewer.Owns(item) {
		return domain.OrderItem{}, domain.ErrOrderItemNotFound
	}
	return item, nil
}

// Stats считает агрегаты по видимым позициям. Одинаковые одновременные запросы
// одного вызывающего схлопываются в один поход в хранилище.
func (s *Service) Stats(ctx context.Context, viewer domain.Viewer) (domain.OrderStats, error) {
	if err := viewer.Validate(); err != nil {
		return domain.OrderStats{}, err
	}

	key := viewer.Role.String() + ":" + viewer.UserID
	flight := s.stats.DoChan(key, func() (any, error) {
		flightCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), statsTimeout)
		defer cancel()
		return s.orders.Stats(flightCtx, viewer)
	})

	var res singleflight.Result
	select {
	case <-ctx.Done():
		return domain.OrderStats{}, ctx.Err()
	case res = <-flight:
	}
	if res.Err != nil {
		return domain.OrderStats{}, domain.Persistence("order stats", res.Err)
	}
	if res.Shared {
		s.logger.WithField("viewer_id", viewer.UserID).Debug("order stats shared between concurrent callers")
	}

	stats := res.Val.(domain.OrderStats)
	byStatus := make(map[domain.ItemStatus]int, len(stats.ByStatus))
	for status, n := range stats.ByStatus {
		byStatus[status] = n
	}
	stats.ByStatus = byStatus
	return stats, nil
}

// CanCancelOrder истинно, если каждая видимая позиция ещё в pending или processing.
func (s *Service) CanCancelOrder(ctx context.Context, viewer domain.Viewer, orderID string) (bool, error) {
	order, err := s.GetOrder(ctx, viewer, orderID)
	if err != nil {
		return false, err
	}
	return order.CanCancel(), nil
}

// Timeline возвращает события видимого заказа в хронологическом порядке.
func (s *Service) Timeline(ctx context.Context, viewer domain.Viewer, orderID string) ([]domain.TimelineEvent, error) {
	if _, err := s.GetOrder(ctx, viewer, orderID); err != nil {
		return nil, err
	}
	if s.timeline == nil {
		return []domain.TimelineEvent{}, nil
	}

	events, err := s.timeline.List(ctx, orderID)
	if err != nil {
		return nil, domain.Persistence("list timeline", err)
	}
	if events == nil {
		events = []domain.TimelineEvent{}
	}
	return events, nil
}
