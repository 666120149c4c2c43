package domain

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrOrderNotFound возвращается, если заказ не найден или не виден вызывающему.
	ErrOrderNotFound = errors.New("order not found")
	// ErrOrderItemNotFound возвращается, если позиция заказа не найдена.
	ErrOrderItemNotFound = errors.New("order item not found")
	// ErrProductNotFound — товар отсутствует в каталоге.
	ErrProductNotFound = errors.New("product not found")
	// ErrInsufficientStock — условное списание остатка не затронуло ни одной строки.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrInvalidStatusTransition — машина состояний отклонила переход.
	ErrInvalidStatusTransition = errors.New("invalid status transition")
	// ErrEmptyCart — у покупателя нет позиций в корзине.
	ErrEmptyCart = errors.New("cart is empty")
	// ErrConflict — коллизия номера заказа или иное нарушение уникальности.
	ErrConflict = errors.New("conflict")
	// ErrPersistence — непредвиденная ошибка хранилища.
	ErrPersistence = errors.New("persistence failure")
	// ErrForbidden — роль вызывающего не допускает операцию.
	ErrForbidden = errors.New("operation is not allowed for this role")
	// ErrUnauthenticated — не удалось определить вызывающего.
	ErrUnauthenticated = errors.New("caller identity is required")

	ErrBuyerRequired          = errors.New("buyer_id is required")
	ErrItemsRequired          = errors.New("order must contain at least one item")
	ErrItemQtyInvalid         = errors.New("item quantity must be greater than zero")
	ErrItemPriceInvalid       = errors.New("item price must be non-negative")
	ErrProductIDRequired      = errors.New("product_id is required")
	ErrOrderItemIDsRequired   = errors.New("at least one order item id is required")
	ErrInvalidStatus          = errors.New("unknown order item status")
	ErrInvalidRole            = errors.New("unknown role")
	ErrInvalidPagination      = errors.New("invalid pagination parameters")
	ErrInvalidDateRange       = errors.New("created_to must not precede created_from")
	ErrStockAdjustmentInvalid = errors.New("stock adjustment must reference a product and a positive quantity")
	ErrCurrencyMismatch       = errors.New("all order items must share one currency")
	ErrAmountOverflow         = errors.New("order amount overflows minor units")
	ErrAmountMismatch         = errors.New("order amounts do not match items")

	// Ошибки idempotency-ключей.
	ErrIdempotencyKeyRequired         = errors.New("idempotency key is required")
	ErrIdempotencyRequestHashRequired = errors.New("idempotency request hash is required")
	ErrIdempotencyKeyAlreadyExists    = errors.New("idempotency key already exists")
	ErrIdempotencyKeyNotFound         = errors.New("idempotency key not found")
	ErrIdempotencyHashMismatch        = errors.New("idempotency key reused with a different request")

	// ErrOutboxPublish возвращается при ошибке публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")
)

var validationErrors = []error{
	ErrBuyerRequired,
	ErrItemsRequired,
	ErrItemQtyInvalid,
	ErrItemPriceInvalid,
	ErrProductIDRequired,
	ErrOrderItemIDsRequired,
	ErrInvalidStatus,
	ErrInvalidRole,
	ErrInvalidPagination,
	ErrInvalidDateRange,
	ErrStockAdjustmentInvalid,
	ErrCurrencyMismatch,
	ErrAmountOverflow,
	ErrAmountMismatch,
}

// IsValidation сообщает, что ошибка вызвана некорректным вводом.
func IsValidation(err error) bool {
	for _, target := range validationErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// IsDomainError сообщает, что ошибка относится к ожидаемой таксономии движка
// и не должна оборачиваться как ErrPersistence.
func IsDomainError(err error) bool {
	if IsValidation(err) {
		return true
	}
	for _, target := range []error{
		ErrOrderNotFound,
		ErrOrderItemNotFound,
		ErrProductNotFound,
		ErrInsufficientStock,
		ErrInvalidStatusTransition,
		ErrEmptyCart,
		ErrConflict,
		ErrPersistence,
		ErrForbidden,
		ErrUnauthenticated,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// InsufficientStockError описывает товар, по которому не хватило остатка.
type InsufficientStockError struct {
	ProductID string
	Requested int64
	Available int64
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s: requested %d, available %d", e.ProductID, e.Requested, e.Available)
}

func (e *InsufficientStockError) Is(target error) bool { return target == ErrInsufficientStock }

// ProductNotFoundError указывает на отсутствующий товар.
type ProductNotFoundError struct {
	ProductID string
}

func (e *ProductNotFoundError) Error() string {
	return fmt.Sprintf("product %s not found", e.ProductID)
}

func (e *ProductNotFoundError) Is(target error) bool { return target == ErrProductNotFound }

// ItemsNotFoundError перечисляет идентификаторы позиций, которые не удалось загрузить.
type ItemsNotFoundError struct {
	IDs []string
}

func (e *ItemsNotFoundError) Error() string {
	return fmt.Sprintf("order items not found: %s", strings.Join(e.IDs, ", "))
}

func (e *ItemsNotFoundError) Is(target error) bool { return target == ErrOrderItemNotFound }

// InvalidTransitionError описывает отказ машины состояний для конкретной позиции.
type InvalidTransitionError struct {
	ItemID string
	From   ItemStatus
	To     ItemStatus
}

func (e *InvalidTransitionError) Error() string {
	if e.ItemID == "" {
		return TransitionError(e.From, e.To)
	}
	return fmt.Sprintf("item %s: %s", e.ItemID, TransitionError(e.From, e.To))
}

func (e *InvalidTransitionError) Is(target error) bool { return target == ErrInvalidStatusTransition }

// BulkTransitionError агрегирует все отказы пакетной операции.
type BulkTransitionError struct {
	Failures []InvalidTransitionError
}

func (e *BulkTransitionError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for i := range e.Failures {
		parts = append(parts, e.Failures[i].Error())
	}
	return fmt.Sprintf("%d order items cannot change status: %s", len(e.Failures), strings.Join(parts, "; "))
}

func (e *BulkTransitionError) Is(target error) bool { return target == ErrInvalidStatusTransition }

// ItemIDs возвращает идентификаторы всех отклонённых позиций.
func (e *BulkTransitionError) ItemIDs() []string {
	ids := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		ids = append(ids, f.ItemID)
	}
	return ids
}

// Persistence оборачивает неожиданную ошибку хранилища в ErrPersistence.
// Доменные ошибки и отмена контекста возвращаются без изменений.
func Persistence(op string, err error) error {
	if err == nil {
		return nil
	}
	if IsDomainError(err) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%s: %w: %w", op, ErrPersistence, err)
}
