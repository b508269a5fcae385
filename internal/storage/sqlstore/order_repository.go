package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/vladislavdragonenkov/mall/internal/domain"
)

const orderColumns = `order_id, user_id, total_amount, created_date, last_modified_date`

// GetOrder возвращает заказ с позициями.
func (s *Store) GetOrder(ctx context.Context, orderID int64) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	row := s.queryRow(ctx, s.db, `SELECT `+orderColumns+` FROM orders WHERE order_id = ?`, orderID)
	order, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	if err != nil {
		return domain.Order{}, fmt.Errorf("get order %d: %w", orderID, err)
	}

	items, err := s.loadItems(ctx, []int64{orderID})
	if err != nil {
		return domain.Order{}, err
	}
	order.Items = items[orderID]
	return order, nil
}

// ListOrdersByUser возвращает страницу заказов пользователя, новые первыми.
func (s *Store) ListOrdersByUser(ctx context.Context, query domain.OrderQuery) ([]domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := s.query(ctx, s.db, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE user_id = ?
		ORDER BY created_date DESC, order_id DESC
		LIMIT ? OFFSET ?
	`, query.UserID, query.Limit, query.Offset)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}

	// Курсор закрываем до загрузки позиций: одно подключение не держит два запроса.
	orders := make([]domain.Order, 0, query.Limit)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterate orders: %w", err)
	}
	rows.Close()

	if len(orders) == 0 {
		return orders, nil
	}

	ids := make([]int64, 0, len(orders))
	for _, order := range orders {
		ids = append(ids, order.OrderID)
	}
	items, err := s.loadItems(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range orders {
		orders[i].Items = items[orders[i].OrderID]
	}
	return orders, nil
}

// CountOrdersByUser считает заказы пользователя.
func (s *Store) CountOrdersByUser(ctx context.Context, userID int64) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var total int
	if err := s.queryRow(ctx, s.db, `SELECT COUNT(*) FROM orders WHERE user_id = ?`, userID).Scan(&total); err != nil {
		return 0, fmt.Errorf("count orders: %w", err)
	}
	return total, nil
}

// loadItems читает позиции заказов вместе с названием и картинкой товара.
// Если товар уже удалён из каталога, эти поля остаются пустыми.
func (s *Store) loadItems(ctx context.Context, orderIDs []int64) (map[int64][]domain.OrderItem, error) {
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(orderIDs)), ", ")
	args := make([]any, 0, len(orderIDs))
	for _, id := range orderIDs {
		args = append(args, id)
	}

	rows, err := s.query(ctx, s.db, `
		SELECT oi.order_item_id, oi.order_id, oi.product_id, oi.quantity, oi.unit_price, oi.amount,
		       COALESCE(p.product_name, ''), COALESCE(p.image_url, '')
		FROM order_item oi
		LEFT JOIN product p ON p.product_id = oi.product_id
		WHERE oi.order_id IN (`+placeholders+`)
		ORDER BY oi.order_id, oi.order_item_id
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("load order items: %w", err)
	}
	defer rows.Close()

	items := make(map[int64][]domain.OrderItem, len(orderIDs))
	for rows.Next() {
		var item domain.OrderItem
		if err := rows.Scan(
			&item.OrderItemID,
			&item.OrderID,
			&item.ProductID,
			&item.Quantity,
			&item.UnitPrice,
			&item.Amount,
			&item.ProductName,
			&item.ImageURL,
		); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		items[item.OrderID] = append(items[item.OrderID], item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order items: %w", err)
	}
	return items, nil
}

// createOrder сохраняет заказ и позиции в транзакции и проставляет идентификаторы.
func (s *Store) createOrder(ctx context.Context, q querier, order *domain.Order) error {
	err := s.queryRow(ctx, q, `
		INSERT INTO orders (user_id, total_amount, created_date, last_modified_date)
		VALUES (?, ?, ?, ?)
		RETURNING order_id
	`, order.UserID, order.TotalAmount, order.CreatedDate.UTC(), order.LastModifiedDate.UTC()).Scan(&order.OrderID)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}

	for i := range order.Items {
		item := &order.Items[i]
		item.OrderID = order.OrderID
		err := s.queryRow(ctx, q, `
			INSERT INTO order_item (order_id, product_id, quantity, unit_price, amount)
			VALUES (?, ?, ?, ?, ?)
			RETURNING order_item_id
		`, item.OrderID, item.ProductID, item.Quantity, item.UnitPrice, item.Amount).Scan(&item.OrderItemID)
		if err != nil {
			return fmt.Errorf("insert order item %d: %w", i, err)
		}
	}
	return nil
}

func scanOrder(row rowScanner) (domain.Order, error) {
	var o domain.Order
	if err := row.Scan(&o.OrderID, &o.UserID, &o.TotalAmount, &o.CreatedDate, &o.LastModifiedDate); err != nil {
		return domain.Order{}, err
	}
	o.CreatedDate = o.CreatedDate.UTC()
	o.LastModifiedDate = o.LastModifiedDate.UTC()
	return o, nil
}
