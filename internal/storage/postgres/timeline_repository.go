package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/orderengine/internal/domain"
)

func (tx *pgTx) Append(ctx context.Context, event domain.TimelineEvent) error {
	return appendTimeline(ctx, tx.q, event, tx.now)
}

// TimelineRepository читает журнал событий заказа вне транзакций.
type TimelineRepository struct {
	s *Store
}

// TimelineRepository возвращает PostgreSQL-реализацию domain.TimelineRepository.
func (s *Store) TimelineRepository() *TimelineRepository {
	return &TimelineRepository{s: s}
}

func (r *TimelineRepository) Append(ctx context.Context, event domain.TimelineEvent) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	return appendTimeline(ctx, r.s.db, event, r.s.now)
}

func appendTimeline(ctx context.Context, q querier, event domain.TimelineEvent, now func() time.Time) error {
	if event.Occurred.IsZero() {
		event.Occurred = now()
	}

	if _, err := q.ExecContext(ctx, `
		INSERT INTO timeline_events (order_id, type, reason, occurred)
		VALUES ($1,$2,$3,$4)
	`, event.OrderID, event.Type, event.Reason, event.Occurred); err != nil {
		return fmt.Errorf("append timeline event: %w", err)
	}

	return nil
}

func (r *TimelineRepository) List(ctx context.Context, orderID string) ([]domain.TimelineEvent, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := r.s.db.QueryContext(ctx, `
		SELECT order_id, type, reason, occurred
		FROM timeline_events
		WHERE order_id = $1
		ORDER BY occurred ASC, id ASC
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("list timeline events: %w", err)
	}
	defer rows.Close()

	events := make([]domain.TimelineEvent, 0)
	for rows.Next() {
		var event domain.TimelineEvent
		if err := rows.Scan(&event.OrderID, &event.Type, &event.Reason, &event.Occurred); err != nil {
			return nil, fmt.Errorf("scan timeline event: %w", err)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate timeline events: %w", err)
	}

	return events, nil
}

var (
	_ domain.TimelineWriter     = (*pgTx)(nil)
	_ domain.TimelineRepository = (*TimelineRepository)(nil)
)
