package domain

import "time"

// Product — товар с остатком. Каталог владеет товаром, а остаток меняет только Stock Ledger.
type Product struct {
	ID         string
	SellerID   string
	Name       string
	PriceMinor int64
	Currency   string
	// Stock никогда не бывает отрицательным: это гарантирует условный UPDATE.
	Stock     int64
	UpdatedAt time.Time
}

// StockDirection задаёт направление изменения остатка.
type StockDirection string

const (
	// StockDecrement — списание под заказ.
	StockDecrement StockDirection = "decrement"
	// StockRestore — компенсирующий возврат при отмене.
	StockRestore StockDirection = "restore"
)

// StockAdjustment описывает эфемерную операцию над остатком, в хранилище она не сохраняется.
type StockAdjustment struct {
	ProductID string
	Quantity  int64
	Direction StockDirection
}

// Validate проверяет, корректно ли заполнены ключевые поля операции.
func (a StockAdjustment) Validate() error {
	if a.ProductID == "" || a.Quantity <= 0 {
		return ErrStockAdjustmentInvalid
	}
	switch a.Direction {
	case StockDecrement, StockRestore:
		return nil
	default:
		return ErrStockAdjustmentInvalid
	}
}

// RestoreFor строит компенсацию из неизменяемого количества позиции.
func RestoreFor(item OrderItem) StockAdjustment {
	return StockAdjustment{
		ProductID: item.ProductID,
		Quantity:  item.Quantity,
		Direction: StockRestore,
	}
}
