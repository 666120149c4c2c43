// Package fulfillment меняет статусы позиций заказа пакетно и атомарно.
package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vladislavdragonenkov/orderengine/internal/domain"
	"github.com/vladislavdragonenkov/orderengine/internal/metrics"
	"github.com/vladislavdragonenkov/orderengine/internal/service/inventory"
)

const tracerName = "github.com/vladislavdragonenkov/orderengine/internal/service/fulfillment"

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

// WithMetrics задаёт метрики.
func WithMetrics(m *metrics.EngineMetrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithTracer задаёт OpenTelemetry tracer.
func WithTracer(tracer trace.Tracer) Option {
	return func(s *Service) {
		if tracer != nil {
			s.tracer = tracer
		}
	}
}

// Service координирует смену статусов и отмену позиций.
//
// Каждый вызов — одна транзакция из двух проходов: сначала проверяются все
// позиции, и только если проверка прошла целиком, выполняются возврат остатков,
// запись статусов и события.
type Service struct {
	txm     domain.TxManager
	orders  domain.OrderReader
	logger  *log.Entry
	metrics *metrics.EngineMetrics
	tracer  trace.Tracer
	now     func() time.Time
}

// NewService создаёт координатор. orders нужен только для CancelOrder.
func NewService(txm domain.TxManager, orders domain.OrderReader, opts ...Option) *Service {
	s := &Service{
		txm:    txm,
		orders: orders,
		logger: log.WithField("component", "fulfillment"),
		tracer: otel.Tracer(tracerName),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// BulkUpdateStatus переводит все позиции в target или не меняет ни одной.
func (s *Service) BulkUpdateStatus(ctx context.Context, viewer domain.Viewer, itemIDs []string, target domain.ItemStatus) error {
	ctx, span := s.tracer.Start(ctx, "fulfillment.BulkUpdateStatus", trace.WithAttributes(
		attribute.String("viewer.role", viewer.Role.String()),
		attribute.String("item.target_status", string(target)),
		attribute.Int("item.count", len(itemIDs)),
	))
	defer span.End()

	err := s.bulkUpdate(ctx, viewer, itemIDs, target)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

// BulkCancel отменяет позиции и возвращает их количество на склад.
func (s *Service) BulkCancel(ctx context.Context, viewer domain.Viewer, itemIDs []string) error {
	return s.BulkUpdateStatus(ctx, viewer, itemIDs, domain.ItemStatusCancelled)
}

// UpdateStatus меняет статус одной позиции. Отказ машины состояний
// возвращается как *domain.InvalidTransitionError.
func (s *Service) UpdateStatus(ctx context.Context, viewer domain.Viewer, itemID string, target domain.ItemStatus) error {
	return single(s.BulkUpdateStatus(ctx, viewer, []string{itemID}, target))
}

// Cancel отменяет одну позицию.
func (s *Service) Cancel(ctx context.Context, viewer domain.Viewer, itemID string) error {
	return s.UpdateStatus(ctx, viewer, itemID, domain.ItemStatusCancelled)
}

// CancelOrder отменяет все видимые вызывающему позиции заказа.
func (s *Service) CancelOrder(ctx context.Context, viewer domain.Viewer, orderID string) error {
	if err := viewer.Validate(); err != nil {
		return err
	}
	if s.orders == nil {
		return fmt.Errorf("%w: order reader is not configured", domain.ErrPersistence)
	}

	order, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		return domain.Persistence("load order", err)
	}
	scoped, ok := viewer.Scope(order)
	if !ok {
		return domain.ErrOrderNotFound
	}
	return s.BulkCancel(ctx, viewer, scoped.ItemIDs())
}

func (s *Service) bulkUpdate(ctx context.Context, viewer domain.Viewer, itemIDs []string, target domain.ItemStatus) error {
	if err := viewer.Validate(); err != nil {
		return err
	}
	if !target.Valid() {
		return fmt.Errorf("%w: %q", domain.ErrInvalidStatus, string(target))
	}
	ids := dedupe(itemIDs)
	if len(ids) == 0 {
		return domain.ErrOrderItemIDsRequired
	}

	started := time.Now()
	var (
		touched map[string][]string
		ledger  *inventory.Ledger
	)
	err := s.txm.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		items, err := s.validate(ctx, tx, viewer, ids, target)
		if err != nil {
			return err
		}
		ledger = inventory.NewLedger(tx.Stock(), inventory.WithLogger(s.logger), inventory.WithMetrics(s.metrics))
		touched, err = s.apply(ctx, tx, ledger, viewer, items, target)
		return err
	})
	s.metrics.RecordOperationDuration("fulfillment", time.Since(started))

	logger := s.logger.WithFields(log.Fields{
		"viewer_id":     viewer.UserID,
		"viewer_role":   viewer.Role.String(),
		"target_status": string(target),
		"items":         len(ids),
	})
	if err != nil {
		err = domain.Persistence("update item statuses", err)
		if errors.Is(err, domain.ErrPersistence) {
			logger.WithError(err).Error("bulk status update failed")
		} else {
			logger.WithError(err).Info("bulk status update rejected")
		}
		return err
	}

	ledger.RecordCommitted()
	s.metrics.RecordItemTransitions(string(target), len(ids))
	for range touched {
		s.metrics.RecordTimelineEvent()
		s.metrics.RecordOutboxEvent()
	}
	logger.WithField("orders", len(touched)).Info("item statuses updated")
	return nil
}

// validate выполняет первый проход: ничего не пишет, только блокирует строки и проверяет.
func (s *Service) validate(ctx context.Context, tx domain.Tx, viewer domain.Viewer, ids []string, target domain.ItemStatus) ([]domain.OrderItem, error) {
	loaded, err := tx.Orders().GetItemsForUpdate(ctx, ids)
	if err != nil {
		return nil, domain.Persistence("lock order items", err)
	}
	byID := make(map[string]domain.OrderItem, len(loaded))
	for _, item := range loaded {
		byID[item.ID] = item
	}

	items := make([]domain.OrderItem, 0, len(ids))
	var missing []string
	for _, id := range ids {
		item, ok := byID[id]
		// Чужая позиция неотличима от несуществующей.
		if !ok || !viewer.Owns(item) {
			missing = append(missing, id)
			continue
		}
		items = append(items, item)
	}
	if len(missing) > 0 {
		return nil, &domain.ItemsNotFoundError{IDs: missing}
	}

	if viewer.Role == domain.RoleBuyer && target != domain.ItemStatusCancelled {
		return nil, fmt.Errorf("%w: buyers may only cancel items", domain.ErrForbidden)
	}

	var failures []domain.InvalidTransitionError
	for _, item := range items {
		if !domain.CanTransition(item.Status, target) {
			failures = append(failures, domain.InvalidTransitionError{ItemID: item.ID, From: item.Status, To: target})
		}
	}
	if len(failures) > 0 {
		return nil, &domain.BulkTransitionError{Failures: failures}
	}
	return items, nil
}

// apply выполняет второй проход: возвращает остатки, пишет статусы и события заказов.
func (s *Service) apply(ctx context.Context, tx domain.Tx, ledger *inventory.Ledger, viewer domain.Viewer, items []domain.OrderItem, target domain.ItemStatus) (map[string][]string, error) {
	cancelling := target == domain.ItemStatusCancelled
	if cancelling {
		adjustments := make([]domain.StockAdjustment, 0, len(items))
		for _, item := range items {
			adjustments = append(adjustments, domain.RestoreFor(item))
		}
		if err := ledger.BulkRestore(ctx, adjustments); err != nil {
			return nil, err
		}
	}

	ids := make([]string, 0, len(items))
	byOrder := make(map[string][]string)
	for _, item := range items {
		ids = append(ids, item.ID)
		byOrder[item.OrderID] = append(byOrder[item.OrderID], item.ID)
	}

	changedAt := s.now()
	updated, err := tx.Orders().UpdateItemStatuses(ctx, ids, target, changedAt)
	if err != nil {
		return nil, domain.Persistence("write item statuses", err)
	}
	if updated != len(ids) {
		return nil, fmt.Errorf("%w: updated %d of %d items", domain.ErrPersistence, updated, len(ids))
	}

	orderIDs := make([]string, 0, len(byOrder))
	for orderID := range byOrder {
		orderIDs = append(orderIDs, orderID)
	}
	sort.Strings(orderIDs)

	eventType := domain.TimelineItemStatusChanged
	if cancelling {
		eventType = domain.TimelineItemsCancelled
	}
	for _, orderID := range orderIDs {
		itemIDs := byOrder[orderID]
		if err := tx.Timeline().Append(ctx, domain.TimelineEvent{
			OrderID:  orderID,
			Type:     eventType,
			Reason:   fmt.Sprintf("%d items moved to %s by %s %s", len(itemIDs), target, viewer.Role, viewer.UserID),
			Occurred: changedAt,
		}); err != nil {
			return nil, domain.Persistence("append timeline", err)
		}

		msg, err := domain.NewItemsStatusChangedMessage(domain.ItemsStatusChangedEvent{
			OrderID:   orderID,
			ItemIDs:   itemIDs,
			Status:    target,
			Restocked: cancelling,
			ChangedAt: changedAt,
		})
		if err != nil {
			return nil, err
		}
		if _, err := tx.Outbox().Enqueue(ctx, msg); err != nil {
			return nil, domain.Persistence("enqueue status event", err)
		}
	}

	return byOrder, nil
}

// single разворачивает пакетную ошибку из одной позиции в обычную ошибку перехода.
func single(err error) error {
	var bulk *domain.BulkTransitionError
	if errors.As(err, &bulk) && len(bulk.Failures) == 1 {
		failure := bulk.Failures[0]
		return &failure
	}
	return err
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	result := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		result = append(result, id)
	}
	return result
}
