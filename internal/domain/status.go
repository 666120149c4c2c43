package domain

import (
	"fmt"
	"strings"
)

// ItemStatus описывает жизненный цикл позиции заказа.
type ItemStatus string

const (
	// ItemStatusPending — позиция создана, остаток уже списан.
	ItemStatusPending ItemStatus = "pending"
	// ItemStatusProcessing — продавец принял позицию в работу.
	ItemStatusProcessing ItemStatus = "processing"
	// ItemStatusShipped — позиция передана в доставку.
	ItemStatusShipped ItemStatus = "shipped"
	// ItemStatusDelivered — терминальный статус успешной доставки.
	ItemStatusDelivered ItemStatus = "delivered"
	// ItemStatusCancelled — терминальный статус отмены, остаток возвращён.
	ItemStatusCancelled ItemStatus = "cancelled"
)

var allItemStatuses = []ItemStatus{
	ItemStatusPending,
	ItemStatusProcessing,
	ItemStatusShipped,
	ItemStatusDelivered,
	ItemStatusCancelled,
}

// itemTransitions перечисляет все допустимые переходы.
var itemTransitions = map[ItemStatus][]ItemStatus{
	ItemStatusPending:    {ItemStatusProcessing, ItemStatusCancelled},
	ItemStatusProcessing: {ItemStatusShipped, ItemStatusCancelled},
	ItemStatusShipped:    {ItemStatusDelivered},
	ItemStatusDelivered:  nil,
	ItemStatusCancelled:  nil,
}

// AllItemStatuses возвращает все статусы в порядке жизненного цикла.
func AllItemStatuses() []ItemStatus {
	return append([]ItemStatus(nil), allItemStatuses...)
}

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s ItemStatus) Valid() bool {
	_, ok := itemTransitions[s]
	return ok
}

// Terminal сообщает, что из статуса нет выходов.
func (s ItemStatus) Terminal() bool {
	return s.Valid() && len(itemTransitions[s]) == 0
}

// Cancellable сообщает, что позицию ещё можно отменить.
func (s ItemStatus) Cancellable() bool {
	return CanTransition(s, ItemStatusCancelled)
}

func (s ItemStatus) String() string { return string(s) }

// ParseItemStatus разбирает статус без учёта регистра. "canceled" принимается как синоним.
func ParseItemStatus(raw string) (ItemStatus, error) {
	value := strings.ToLower(strings.TrimSpace(raw))
	if value == "canceled" {
		value = string(ItemStatusCancelled)
	}
	status := ItemStatus(value)
	if !status.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, raw)
	}
	return status, nil
}

// CanTransition сообщает, разрешён ли переход from -> to.
func CanTransition(from, to ItemStatus) bool {
	for _, next := range itemTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ValidNextStates возвращает допустимые целевые статусы.
func ValidNextStates(from ItemStatus) []ItemStatus {
	return append([]ItemStatus(nil), itemTransitions[from]...)
}

// TransitionError формирует сообщение об отклонённом переходе.
func TransitionError(from, to ItemStatus) string {
	switch {
	case !from.Valid():
		return fmt.Sprintf("unknown current status %q", string(from))
	case !to.Valid():
		return fmt.Sprintf("unknown target status %q", string(to))
	case from == to:
		return fmt.Sprintf("item is already %s", from)
	case from.Terminal():
		return fmt.Sprintf("cannot change status from %s to %s: %s is final", from, to, from)
	case CanTransition(from, to):
		return ""
	}

	next := itemTransitions[from]
	allowed := make([]string, 0, len(next))
	for _, s := range next {
		allowed = append(allowed, string(s))
	}
	return fmt.Sprintf("cannot change status from %s to %s: allowed %s", from, to, strings.Join(allowed, ", "))
}
