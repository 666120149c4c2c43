package memory

import (
	"context"
	"sort"

	"github.com/vladislavdragonenkov/orderengine/internal/domain"
)

// Append дописывает событие заказа в рамках транзакции.
func (tx *memTx) Append(ctx context.Context, event domain.TimelineEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if event.Occurred.IsZero() {
		event.Occurred = tx.s.now()
	}

	prev := tx.s.timeline[event.OrderID]
	next := make([]domain.TimelineEvent, len(prev), len(prev)+1)
	copy(next, prev)
	next = append(next, event)
	sort.SliceStable(next, func(i, j int) bool { return next[i].Occurred.Before(next[j].Occurred) })

	tx.s.timeline[event.OrderID] = next
	tx.onRollback(func() {
		if prev == nil {
			delete(tx.s.timeline, event.OrderID)
			return
		}
		tx.s.timeline[event.OrderID] = prev
	})
	return nil
}

// TimelineRepository читает хронологию заказов Store.
type TimelineRepository struct {
	s *Store
}

// TimelineRepository возвращает репозиторий событий поверх хранилища.
func (s *Store) TimelineRepository() *TimelineRepository {
	return &TimelineRepository{s: s}
}

// Append дописывает событие вне транзакции.
func (r *TimelineRepository) Append(ctx context.Context, event domain.TimelineEvent) error {
	return r.s.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		return tx.Timeline().Append(ctx, event)
	})
}

// List возвращает события заказа в хронологическом порядке.
func (r *TimelineRepository) List(ctx context.Context, orderID string) ([]domain.TimelineEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	return append([]domain.TimelineEvent(nil), r.s.timeline[orderID]...), nil
}

var (
	_ domain.TimelineWriter     = (*memTx)(nil)
	_ domain.TimelineRepository = (*TimelineRepository)(nil)
)
