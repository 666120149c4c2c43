package domain

import "time"

// CartItem — строка корзины покупателя. Корзиной владеет внешний сервис,
// движок лишь потребляет её при оформлении заказа.
type CartItem struct {
	ID        string
	BuyerID   string
	ProductID string
	Quantity  int64
	AddedAt   time.Time
}

// CartLines превращает строки корзины во входные строки заказа.
func CartLines(items []CartItem) []OrderLine {
	lines := make([]OrderLine, 0, len(items))
	for _, item := range items {
		lines = append(lines, OrderLine{ProductID: item.ProductID, Quantity: item.Quantity})
	}
	return lines
}
