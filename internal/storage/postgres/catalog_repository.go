package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vladislavdragonenkov/orderengine/internal/domain"
)

// DecrementIfAvailable выполняет условный UPDATE: проверка и списание в одном выражении.
func (tx *pgTx) DecrementIfAvailable(ctx context.Context, productID string, qty int64) (bool, error) {
	res, err := tx.q.ExecContext(ctx, `
		UPDATE products
		SET stock = stock - $2,
		    updated_at = $3
		WHERE id = $1
		  AND stock >= $2
	`, productID, qty, tx.now())
	if err != nil {
		return false, fmt.Errorf("decrement stock: %w", err)
	}
	return singleRowAffected(res, "decrement stock")
}

func (tx *pgTx) Increment(ctx context.Context, productID string, qty int64) (bool, error) {
	res, err := tx.q.ExecContext(ctx, `
		UPDATE products
		SET stock = stock + $2,
		    updated_at = $3
		WHERE id = $1
	`, productID, qty, tx.now())
	if err != nil {
		return false, fmt.Errorf("increment stock: %w", err)
	}
	return singleRowAffected(res, "increment stock")
}

func (tx *pgTx) StockLevel(ctx context.Context, productID string) (int64, error) {
	var stock int64
	err := tx.q.QueryRowContext(ctx, `SELECT stock FROM products WHERE id = $1`, productID).Scan(&stock)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, domain.ErrProductNotFound
		}
		return 0, fmt.Errorf("select stock level: %w", err)
	}
	return stock, nil
}

func (tx *pgTx) GetProduct(ctx context.Context, id string) (domain.Product, error) {
	product, err := scanProduct(tx.q.QueryRowContext(ctx, selectProductSQL+` WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Product{}, &domain.ProductNotFoundError{ProductID: id}
		}
		return domain.Product{}, fmt.Errorf("select product: %w", err)
	}
	return product, nil
}

func (tx *pgTx) GetProducts(ctx context.Context, ids []string) (map[string]domain.Product, error) {
	result := make(map[string]domain.Product, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	rows, err := tx.q.QueryContext(ctx, selectProductSQL+` WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("select products: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		product, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		result[product.ID] = product
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate products: %w", err)
	}
	return result, nil
}

func (tx *pgTx) GetItems(ctx context.Context, buyerID string) ([]domain.CartItem, error) {
	rows, err := tx.q.QueryContext(ctx, `
		SELECT id, buyer_id, product_id, quantity, added_at
		FROM cart_items
		WHERE buyer_id = $1
		ORDER BY added_at ASC, id ASC
		FOR UPDATE
	`, buyerID)
	if err != nil {
		return nil, fmt.Errorf("select cart items: %w", err)
	}
	defer rows.Close()

	items := make([]domain.CartItem, 0)
	for rows.Next() {
		var item domain.CartItem
		if err := rows.Scan(&item.ID, &item.BuyerID, &item.ProductID, &item.Quantity, &item.AddedAt); err != nil {
			return nil, fmt.Errorf("scan cart item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cart items: %w", err)
	}
	return items, nil
}

func (tx *pgTx) RemoveItems(ctx context.Context, buyerID string, itemIDs []string) error {
	if len(itemIDs) == 0 {
		return nil
	}
	res, err := tx.q.ExecContext(ctx, `
		DELETE FROM cart_items
		WHERE buyer_id = $1
		  AND id = ANY($2)
	`, buyerID, itemIDs)
	if err != nil {
		return fmt.Errorf("remove cart items: %w", err)
	}
	removed, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("remove cart items rows affected: %w", err)
	}
	if removed != int64(len(itemIDs)) {
		return fmt.Errorf("%w: removed %d of %d cart items", domain.ErrConflict, removed, len(itemIDs))
	}
	return nil
}

func (tx *pgTx) ClearItems(ctx context.Context, buyerID string) error {
	if _, err := tx.q.ExecContext(ctx, `DELETE FROM cart_items WHERE buyer_id = $1`, buyerID); err != nil {
		return fmt.Errorf("clear cart: %w", err)
	}
	return nil
}

// UpsertProduct заводит или заменяет товар. Используется для загрузки каталога.
func (s *Store) UpsertProduct(ctx context.Context, product domain.Product) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if product.UpdatedAt.IsZero() {
		product.UpdatedAt = s.now()
	}

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO products (id, seller_id, name, price_minor, currency, stock, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (id) DO UPDATE
		SET seller_id = EXCLUDED.seller_id,
		    name = EXCLUDED.name,
		    price_minor = EXCLUDED.price_minor,
		    currency = EXCLUDED.currency,
		    stock = EXCLUDED.stock,
		    updated_at = EXCLUDED.updated_at
	`,
		product.ID, product.SellerID, product.Name, product.PriceMinor,
		product.Currency, product.Stock, product.UpdatedAt,
	); err != nil {
		return fmt.Errorf("upsert product: %w", err)
	}
	return nil
}

// Product возвращает текущее состояние товара.
func (s *Store) Product(ctx context.Context, id string) (domain.Product, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	product, err := scanProduct(s.db.QueryRowContext(ctx, selectProductSQL+` WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Product{}, &domain.ProductNotFoundError{ProductID: id}
		}
		return domain.Product{}, fmt.Errorf("select product: %w", err)
	}
	return product, nil
}

// AddCartItem добавляет строку корзины. Корзиной владеет внешний сервис, здесь только заготовка данных.
func (s *Store) AddCartItem(ctx context.Context, item domain.CartItem) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if item.AddedAt.IsZero() {
		item.AddedAt = s.now()
	}

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO cart_items (id, buyer_id, product_id, quantity, added_at)
		VALUES ($1,$2,$3,$4,$5)
	`, item.ID, item.BuyerID, item.ProductID, item.Quantity, item.AddedAt); err != nil {
		if isUniqueViolation(err) {
			return domain.ErrConflict
		}
		return fmt.Errorf("insert cart item: %w", err)
	}
	return nil
}

const selectProductSQL = `
	SELECT id, seller_id, name, price_minor, currency, stock, updated_at
	FROM products`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (domain.Product, error) {
	var p domain.Product
	err := row.Scan(&p.ID, &p.SellerID, &p.Name, &p.PriceMinor, &p.Currency, &p.Stock, &p.UpdatedAt)
	return p, err
}

func singleRowAffected(res sql.Result, op string) (bool, error) {
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected for %s: %w", op, err)
	}
	return affected == 1, nil
}

var (
	_ domain.StockStore     = (*pgTx)(nil)
	_ domain.ProductCatalog = (*pgTx)(nil)
	_ domain.CartRepository = (*pgTx)(nil)
)
