package memory

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/orderengine/internal/domain"
)

func (tx *memTx) OrderNumberExists(ctx context.Context, number string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	_, ok := tx.s.orderByNumber[number]
	return ok, nil
}

// CreateOrder сохраняет копию заказа. Занятый номер — ErrConflict, как unique-индекс в postgres.
func (tx *memTx) CreateOrder(ctx context.Context, order domain.Order) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if _, exists := tx.s.orderByNumber[order.OrderNumber]; exists {
		return domain.ErrConflict
	}
	if _, exists := tx.s.orders[order.ID]; exists {
		return domain.ErrConflict
	}

	stored := order.Clone()
	for i := range stored.Items {
		stored.Items[i].OrderID = stored.ID
		stored.Items[i].BuyerID = stored.BuyerID
	}

	tx.s.orders[stored.ID] = &stored
	tx.s.orderByNumber[stored.OrderNumber] = stored.ID
	for _, item := range stored.Items {
		tx.s.itemOrder[item.ID] = stored.ID
	}

	tx.onRollback(func() {
		delete(tx.s.orders, stored.ID)
		delete(tx.s.orderByNumber, stored.OrderNumber)
		for _, item := range stored.Items {
			delete(tx.s.itemOrder, item.ID)
		}
	})

	return nil
}

func (tx *memTx) GetItemsForUpdate(ctx context.Context, ids []string) ([]domain.OrderItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	items := make([]domain.OrderItem, 0, len(ids))
	for _, id := range ids {
		if item, ok := tx.s.lookupItem(id); ok {
			items = append(items, item)
		}
	}
	return items, nil
}

func (tx *memTx) UpdateItemStatuses(ctx context.Context, ids []string, status domain.ItemStatus, updatedAt time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	affected := 0
	for _, id := range ids {
		orderID, ok := tx.s.itemOrder[id]
		if !ok {
			continue
		}
		order := tx.s.orders[orderID]
		for i := range order.Items {
			if order.Items[i].ID != id {
				continue
			}
			prevItem := order.Items[i]
			prevUpdated := order.UpdatedAt
			idx := i

			order.Items[i].Status = status
			order.Items[i].UpdatedAt = updatedAt
			order.UpdatedAt = updatedAt
			affected++

			tx.onRollback(func() {
				order.Items[idx] = prevItem
				order.UpdatedAt = prevUpdated
			})
		}
	}

	return affected, nil
}

func (s *Store) lookupItem(id string) (domain.OrderItem, bool) {
	orderID, ok := s.itemOrder[id]
	if !ok {
		return domain.OrderItem{}, false
	}
	for _, item := range s.orders[orderID].Items {
		if item.ID == id {
			return item, true
		}
	}
	return domain.OrderItem{}, false
}

// GetOrder возвращает заказ или ErrOrderNotFound, если его нет.
func (s *Store) GetOrder(ctx context.Context, id string) (domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return domain.Order{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	order, ok := s.orders[id]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return order.Clone(), nil
}

func (s *Store) GetOrderItem(ctx context.Context, id string) (domain.OrderItem, error) {
	if err := ctx.Err(); err != nil {
		return domain.OrderItem{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.lookupItem(id)
	if !ok {
		return domain.OrderItem{}, domain.ErrOrderItemNotFound
	}
	return item, nil
}

// ListOrders фильтрует заказы по области видимости и фильтру, новые первыми.
func (s *Store) ListOrders(ctx context.Context, q domain.OrderQuery) ([]domain.Order, int, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}

	s.mu.RLock()
	matched := make([]domain.Order, 0)
	for _, stored := range s.orders {
		scoped, ok := q.Viewer.Scope(stored.Clone())
		if !ok || !matchesFilter(scoped, q.OrderFilter) {
			continue
		}
		matched = append(matched, scoped)
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID > matched[j].ID
	})

	total := len(matched)
	offset := q.Offset()
	if offset < 0 || offset >= total {
		return []domain.Order{}, total, nil
	}
	end := offset + q.PageSize
	if q.PageSize <= 0 || end > total {
		end = total
	}
	return matched[offset:end], total, nil
}

func matchesFilter(order domain.Order, f domain.OrderFilter) bool {
	if !f.CreatedFrom.IsZero() && order.CreatedAt.Before(f.CreatedFrom) {
		return false
	}
	if !f.CreatedTo.IsZero() && order.CreatedAt.After(f.CreatedTo) {
		return false
	}
	if f.Status == "" && f.Search == "" {
		return true
	}

	search := strings.ToLower(strings.TrimSpace(f.Search))
	for _, item := range order.Items {
		if f.Status != "" && item.Status != f.Status {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(item.ProductName), search) {
			continue
		}
		return true
	}
	return false
}

// Stats считает агрегаты по позициям, видимым вызывающему.
func (s *Store) Stats(ctx context.Context, viewer domain.Viewer) (domain.OrderStats, error) {
	if err := ctx.Err(); err != nil {
		return domain.OrderStats{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := domain.OrderStats{ByStatus: make(map[domain.ItemStatus]int)}
	for _, stored := range s.orders {
		scoped, ok := viewer.Scope(*stored)
		if !ok {
			continue
		}
		stats.Orders++
		for _, item := range scoped.Items {
			stats.Items++
			stats.ByStatus[item.Status]++
			if item.Status != domain.ItemStatusCancelled {
				stats.GrossMinor += item.LineTotalMinor
			}
		}
	}
	return stats, nil
}

var (
	_ domain.OrderWriter = (*memTx)(nil)
	_ domain.OrderReader = (*Store)(nil)
)
