package domain

import "time"

const (
	TimelineOrderCreated      = "order.created"
	TimelineItemStatusChanged = "item.status_changed"
	TimelineItemsCancelled    = "items.cancelled"
)

// TimelineEvent описывает событие в жизненном цикле заказа.
type TimelineEvent struct {
	OrderID  string
	Type     string
	Reason   string
	Occurred time.Time
}
