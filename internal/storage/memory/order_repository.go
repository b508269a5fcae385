package memory

import (
	"context"
	"sort"

	"github.com/vladislavdragonenkov/mall/internal/domain"
)

// GetOrder возвращает заказ с позициями, дополненными данными каталога.
func (s *Store) GetOrder(_ context.Context, orderID int64) (domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	order, ok := s.orders[orderID]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return s.withCatalogData(order), nil
}

// ListOrdersByUser возвращает заказы пользователя по убыванию даты создания.
func (s *Store) ListOrdersByUser(_ context.Context, query domain.OrderQuery) ([]domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Order, 0)
	for _, order := range s.orders {
		if order.UserID != query.UserID {
			continue
		}
		result = append(result, order)
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedDate.Equal(result[j].CreatedDate) {
			return result[i].CreatedDate.After(result[j].CreatedDate)
		}
		return result[i].OrderID > result[j].OrderID
	})

	if query.Offset >= len(result) {
		return []domain.Order{}, nil
	}
	result = result[query.Offset:]
	if query.Limit >= 0 && len(result) > query.Limit {
		result = result[:query.Limit]
	}

	for i := range result {
		result[i] = s.withCatalogData(result[i])
	}
	return result, nil
}

// CountOrdersByUser считает все заказы пользователя.
func (s *Store) CountOrdersByUser(_ context.Context, userID int64) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, order := range s.orders {
		if order.UserID == userID {
			count++
		}
	}
	return count, nil
}

// withCatalogData копирует заказ и подставляет имя и картинку товара.
// Вызывается под s.mu.
func (s *Store) withCatalogData(order domain.Order) domain.Order {
	items := make([]domain.OrderItem, len(order.Items))
	for i, item := range order.Items {
		if product, ok := s.products[item.ProductID]; ok {
			item.ProductName = product.ProductName
			item.ImageURL = product.ImageURL
		}
		items[i] = item
	}
	order.Items = items
	return order
}

var _ domain.OrderReader = (*Store)(nil)
