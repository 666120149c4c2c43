package memory

import (
	"context"
	"fmt"
	"sort"

	"github.com/vladislavdragonenkov/orderengine/internal/domain"
)

// DecrementIfAvailable повторяет условный UPDATE: проверка и списание под одной блокировкой.
func (tx *memTx) DecrementIfAvailable(ctx context.Context, productID string, qty int64) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	product, ok := tx.s.products[productID]
	if !ok || product.Stock < qty {
		return false, nil
	}

	prev := product
	product.Stock -= qty
	product.UpdatedAt = tx.s.now()
	tx.s.products[productID] = product
	tx.onRollback(func() { tx.s.products[productID] = prev })

	return true, nil
}

func (tx *memTx) Increment(ctx context.Context, productID string, qty int64) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	product, ok := tx.s.products[productID]
	if !ok {
		return false, nil
	}

	prev := product
	product.Stock += qty
	product.UpdatedAt = tx.s.now()
	tx.s.products[productID] = product
	tx.onRollback(func() { tx.s.products[productID] = prev })

	return true, nil
}

func (tx *memTx) StockLevel(ctx context.Context, productID string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	product, ok := tx.s.products[productID]
	if !ok {
		return 0, domain.ErrProductNotFound
	}
	return product.Stock, nil
}

func (tx *memTx) GetProduct(ctx context.Context, id string) (domain.Product, error) {
	if err := ctx.Err(); err != nil {
		return domain.Product{}, err
	}
	product, ok := tx.s.products[id]
	if !ok {
		return domain.Product{}, &domain.ProductNotFoundError{ProductID: id}
	}
	return product, nil
}

func (tx *memTx) GetProducts(ctx context.Context, ids []string) (map[string]domain.Product, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	result := make(map[string]domain.Product, len(ids))
	for _, id := range ids {
		if product, ok := tx.s.products[id]; ok {
			result[id] = product
		}
	}
	return result, nil
}

func (tx *memTx) GetItems(ctx context.Context, buyerID string) ([]domain.CartItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return append([]domain.CartItem(nil), tx.s.carts[buyerID]...), nil
}

func (tx *memTx) RemoveItems(ctx context.Context, buyerID string, itemIDs []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	drop := make(map[string]struct{}, len(itemIDs))
	for _, id := range itemIDs {
		drop[id] = struct{}{}
	}

	prev := tx.s.carts[buyerID]
	kept := make([]domain.CartItem, 0, len(prev))
	for _, item := range prev {
		if _, ok := drop[item.ID]; !ok {
			kept = append(kept, item)
		}
	}
	if removed := len(prev) - len(kept); removed != len(drop) {
		return fmt.Errorf("%w: removed %d of %d cart items", domain.ErrConflict, removed, len(drop))
	}
	tx.setCart(buyerID, prev, kept)
	return nil
}

func (tx *memTx) ClearItems(ctx context.Context, buyerID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tx.setCart(buyerID, tx.s.carts[buyerID], nil)
	return nil
}

func (tx *memTx) setCart(buyerID string, prev, next []domain.CartItem) {
	if len(next) == 0 {
		delete(tx.s.carts, buyerID)
	} else {
		tx.s.carts[buyerID] = next
	}
	tx.onRollback(func() {
		if prev == nil {
			delete(tx.s.carts, buyerID)
			return
		}
		tx.s.carts[buyerID] = prev
	})
}

// UpsertProduct заводит или заменяет товар. Используется для загрузки каталога и в тестах.
func (s *Store) UpsertProduct(product domain.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if product.UpdatedAt.IsZero() {
		product.UpdatedAt = s.now()
	}
	s.products[product.ID] = product
}

// Product возвращает текущее состояние товара.
func (s *Store) Product(id string) (domain.Product, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, ok := s.products[id]
	return product, ok
}

// AddCartItem добавляет строку корзины. Сама корзина — внешний сервис, здесь только заготовка данных.
func (s *Store) AddCartItem(item domain.CartItem) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if item.AddedAt.IsZero() {
		item.AddedAt = s.now()
	}
	items := append(s.carts[item.BuyerID], item)
	sort.SliceStable(items, func(i, j int) bool { return items[i].AddedAt.Before(items[j].AddedAt) })
	s.carts[item.BuyerID] = items
}

// CartItems возвращает копию корзины покупателя.
func (s *Store) CartItems(buyerID string) []domain.CartItem {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]domain.CartItem(nil), s.carts[buyerID]...)
}
