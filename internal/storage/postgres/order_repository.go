package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/orderengine/internal/domain"
)

const selectItemSQL = `
	SELECT oi.id, oi.order_id, o.buyer_id, oi.product_id, oi.product_name, oi.seller_id,
	       oi.quantity, oi.price_at_order_minor, oi.line_total_minor, oi.status,
	       oi.created_at, oi.updated_at
	FROM order_items oi
	JOIN orders o ON o.id = oi.order_id`

const selectOrderSQL = `
	SELECT o.id, o.buyer_id, o.order_number, o.currency, o.shipping_address,
	       o.subtotal_minor, o.tax_minor, o.total_minor, o.created_at, o.updated_at`

func (tx *pgTx) OrderNumberExists(ctx context.Context, number string) (bool, error) {
	var exists bool
	if err := tx.q.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM orders WHERE order_number = $1)
	`, number).Scan(&exists); err != nil {
		return false, fmt.Errorf("check order number: %w", err)
	}
	return exists, nil
}

// CreateOrder сохраняет заказ и позиции. Нарушение уникальности номера или id — ErrConflict.
func (tx *pgTx) CreateOrder(ctx context.Context, order domain.Order) error {
	address, err := json.Marshal(order.ShippingAddress)
	if err != nil {
		return fmt.Errorf("marshal shipping address: %w", err)
	}

	if _, err := tx.q.ExecContext(ctx, `
		INSERT INTO orders (
			id, buyer_id, order_number, currency, shipping_address,
			subtotal_minor, tax_minor, total_minor, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`,
		order.ID, order.BuyerID, order.OrderNumber, order.Currency, address,
		order.SubtotalMinor, order.TaxMinor, order.TotalMinor, order.CreatedAt, order.UpdatedAt,
	); err != nil {
		if isUniqueViolation(err) {
			return domain.ErrConflict
		}
		return fmt.Errorf("insert order: %w", err)
	}

	for position, item := range order.Items {
		if _, err := tx.q.ExecContext(ctx, `
			INSERT INTO order_items (
				id, order_id, position, product_id, product_name, seller_id, quantity,
				price_at_order_minor, line_total_minor, status, created_at, updated_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		`,
			item.ID, order.ID, position, item.ProductID, item.ProductName, item.SellerID, item.Quantity,
			item.PriceAtOrderMinor, item.LineTotalMinor, string(item.Status), item.CreatedAt, item.UpdatedAt,
		); err != nil {
			if isUniqueViolation(err) {
				return domain.ErrConflict
			}
			return fmt.Errorf("insert order item: %w", err)
		}
	}

	return nil
}

// GetItemsForUpdate блокирует строки позиций до конца транзакции. Порядок по id
// одинаков у всех транзакций, поэтому блокировки берутся без взаимоблокировок.
func (tx *pgTx) GetItemsForUpdate(ctx context.Context, ids []string) ([]domain.OrderItem, error) {
	if len(ids) == 0 {
		return []domain.OrderItem{}, nil
	}

	rows, err := tx.q.QueryContext(ctx, selectItemSQL+`
		WHERE oi.id = ANY($1)
		ORDER BY oi.id
		FOR UPDATE OF oi
	`, ids)
	if err != nil {
		return nil, fmt.Errorf("select items for update: %w", err)
	}
	defer rows.Close()

	return scanItems(rows)
}

func (tx *pgTx) UpdateItemStatuses(ctx context.Context, ids []string, status domain.ItemStatus, updatedAt time.Time) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	res, err := tx.q.ExecContext(ctx, `
		UPDATE order_items
		SET status = $1,
		    updated_at = $2
		WHERE id = ANY($3)
	`, string(status), updatedAt, ids)
	if err != nil {
		return 0, fmt.Errorf("update item statuses: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected for item statuses: %w", err)
	}

	if _, err := tx.q.ExecContext(ctx, `
		UPDATE orders
		SET updated_at = $1
		WHERE id IN (SELECT DISTINCT order_id FROM order_items WHERE id = ANY($2))
	`, updatedAt, ids); err != nil {
		return 0, fmt.Errorf("touch orders: %w", err)
	}

	return int(affected), nil
}

// GetOrder возвращает заказ или ErrOrderNotFound, если его нет.
func (s *Store) GetOrder(ctx context.Context, id string) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	order, err := scanOrder(s.db.QueryRowContext(ctx, selectOrderSQL+` FROM orders o WHERE o.id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, fmt.Errorf("select order: %w", err)
	}

	byOrder, err := s.loadItems(ctx, []string{order.ID}, "")
	if err != nil {
		return domain.Order{}, err
	}
	order.Items = byOrder[order.ID]
	return order, nil
}

func (s *Store) GetOrderItem(ctx context.Context, id string) (domain.OrderItem, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, selectItemSQL+` WHERE oi.id = $1`, id)
	if err != nil {
		return domain.OrderItem{}, fmt.Errorf("select order item: %w", err)
	}
	defer rows.Close()

	items, err := scanItems(rows)
	if err != nil {
		return domain.OrderItem{}, err
	}
	if len(items) == 0 {
		return domain.OrderItem{}, domain.ErrOrderItemNotFound
	}
	return items[0], nil
}

// ListOrders фильтрует заказы по области видимости и фильтру, новые первыми.
// Фильтры статуса и поиска должны совпасть на одной и той же видимой позиции.
func (s *Store) ListOrders(ctx context.Context, q domain.OrderQuery) ([]domain.Order, int, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	where, args, sellerID, err := buildOrderWhere(q)
	if err != nil {
		return nil, 0, err
	}

	pageArgs := append(append([]any(nil), args...), q.PageSize, q.Offset())
	query := selectOrderSQL + `, COUNT(*) OVER()
		FROM orders o
		WHERE ` + where + `
		ORDER BY o.created_at DESC, o.id DESC
		LIMIT $` + fmt.Sprint(len(args)+1) + ` OFFSET $` + fmt.Sprint(len(args)+2)

	rows, err := s.db.QueryContext(ctx, query, pageArgs...)
	if err != nil {
		return nil, 0, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	var (
		orders = make([]domain.Order, 0, q.PageSize)
		ids    = make([]string, 0, q.PageSize)
		total  int
	)
	for rows.Next() {
		order, err := scanOrderWithTotal(rows, &total)
		if err != nil {
			return nil, 0, fmt.Errorf("scan order row: %w", err)
		}
		orders = append(orders, order)
		ids = append(ids, order.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate order rows: %w", err)
	}

	if len(orders) == 0 {
		// Страница за пределами выборки: окно не вернуло строк, total считаем отдельно.
		if q.Offset() == 0 {
			return orders, 0, nil
		}
		if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM orders o WHERE `+where, args...).Scan(&total); err != nil {
			return nil, 0, fmt.Errorf("count orders: %w", err)
		}
		return orders, total, nil
	}

	byOrder, err := s.loadItems(ctx, ids, sellerID)
	if err != nil {
		return nil, 0, err
	}
	for i := range orders {
		orders[i].Items = byOrder[orders[i].ID]
	}
	return orders, total, nil
}

// buildOrderWhere строит условие выборки и возвращает id продавца, если позиции нужно сузить.
func buildOrderWhere(q domain.OrderQuery) (string, []any, string, error) {
	var (
		conds     []string
		itemConds []string
		args      []any
		sellerID  string
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	switch q.Viewer.Role {
	case domain.RoleBuyer:
		conds = append(conds, "o.buyer_id = "+arg(q.Viewer.UserID))
	case domain.RoleSeller:
		sellerID = q.Viewer.UserID
		itemConds = append(itemConds, "oi.seller_id = "+arg(sellerID))
	default:
		return "", nil, "", domain.ErrInvalidRole
	}

	if q.Status != "" {
		itemConds = append(itemConds, "oi.status = "+arg(string(q.Status)))
	}
	if search := strings.TrimSpace(q.Search); search != "" {
		itemConds = append(itemConds, "oi.product_name ILIKE "+arg("%"+escapeLike(search)+"%"))
	}
	if len(itemConds) > 0 {
		conds = append(conds, "EXISTS (SELECT 1 FROM order_items oi WHERE oi.order_id = o.id AND "+
			strings.Join(itemConds, " AND ")+")")
	}
	if !q.CreatedFrom.IsZero() {
		conds = append(conds, "o.created_at >= "+arg(q.CreatedFrom))
	}
	if !q.CreatedTo.IsZero() {
		conds = append(conds, "o.created_at <= "+arg(q.CreatedTo))
	}

	return strings.Join(conds, " AND "), args, sellerID, nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// Stats считает агрегаты по позициям, видимым вызывающему.
func (s *Store) Stats(ctx context.Context, viewer domain.Viewer) (domain.OrderStats, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var scope string
	switch viewer.Role {
	case domain.RoleBuyer:
		scope = "o.buyer_id = $1"
	case domain.RoleSeller:
		scope = "oi.seller_id = $1"
	default:
		return domain.OrderStats{}, domain.ErrInvalidRole
	}

	stats := domain.OrderStats{ByStatus: make(map[domain.ItemStatus]int)}
	rows, err := s.db.QueryContext(ctx, `
		SELECT oi.status,
		       COUNT(*),
		       COALESCE(SUM(oi.line_total_minor), 0)
		FROM order_items oi
		JOIN orders o ON o.id = oi.order_id
		WHERE `+scope+`
		GROUP BY oi.status
	`, viewer.UserID)
	if err != nil {
		return domain.OrderStats{}, fmt.Errorf("stats by status: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			status string
			count  int
			sum    int64
		)
		if err := rows.Scan(&status, &count, &sum); err != nil {
			return domain.OrderStats{}, fmt.Errorf("scan stats row: %w", err)
		}
		itemStatus := domain.ItemStatus(status)
		stats.ByStatus[itemStatus] = count
		stats.Items += count
		if itemStatus != domain.ItemStatusCancelled {
			stats.GrossMinor += sum
		}
	}
	if err := rows.Err(); err != nil {
		return domain.OrderStats{}, fmt.Errorf("iterate stats rows: %w", err)
	}

	if err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(DISTINCT oi.order_id)
		FROM order_items oi
		JOIN orders o ON o.id = oi.order_id
		WHERE `+scope, viewer.UserID).Scan(&stats.Orders); err != nil {
		return domain.OrderStats{}, fmt.Errorf("stats orders count: %w", err)
	}

	return stats, nil
}

// loadItems загружает позиции заказов в порядке оформления. sellerID сужает их до позиций продавца.
func (s *Store) loadItems(ctx context.Context, orderIDs []string, sellerID string) (map[string][]domain.OrderItem, error) {
	query := selectItemSQL + ` WHERE oi.order_id = ANY($1)`
	args := []any{orderIDs}
	if sellerID != "" {
		query += ` AND oi.seller_id = $2`
		args = append(args, sellerID)
	}
	query += ` ORDER BY oi.order_id, oi.position`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("load order items: %w", err)
	}
	defer rows.Close()

	items, err := scanItems(rows)
	if err != nil {
		return nil, err
	}

	byOrder := make(map[string][]domain.OrderItem, len(orderIDs))
	for _, item := range items {
		byOrder[item.OrderID] = append(byOrder[item.OrderID], item)
	}
	return byOrder, nil
}

func scanItems(rows *sql.Rows) ([]domain.OrderItem, error) {
	items := make([]domain.OrderItem, 0)
	for rows.Next() {
		var (
			item   domain.OrderItem
			status string
		)
		if err := rows.Scan(
			&item.ID, &item.OrderID, &item.BuyerID, &item.ProductID, &item.ProductName, &item.SellerID,
			&item.Quantity, &item.PriceAtOrderMinor, &item.LineTotalMinor, &status,
			&item.CreatedAt, &item.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		item.Status = domain.ItemStatus(status)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order items: %w", err)
	}
	return items, nil
}

func scanOrder(row rowScanner) (domain.Order, error) {
	return scanOrderWithTotal(row, nil)
}

func scanOrderWithTotal(row rowScanner, total *int) (domain.Order, error) {
	var (
		order   domain.Order
		address []byte
	)
	dest := []any{
		&order.ID, &order.BuyerID, &order.OrderNumber, &order.Currency, &address,
		&order.SubtotalMinor, &order.TaxMinor, &order.TotalMinor, &order.CreatedAt, &order.UpdatedAt,
	}
	if total != nil {
		dest = append(dest, total)
	}
	if err := row.Scan(dest...); err != nil {
		return domain.Order{}, err
	}
	if len(address) > 0 {
		if err := json.Unmarshal(address, &order.ShippingAddress); err != nil {
			return domain.Order{}, fmt.Errorf("unmarshal shipping address: %w", err)
		}
	}
	order.Items = []domain.OrderItem{}
	return order, nil
}

var (
	_ domain.OrderWriter = (*pgTx)(nil)
	_ domain.OrderReader = (*Store)(nil)
)
