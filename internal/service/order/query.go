package order

import (
	"context"
	"errors"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/mall/internal/domain"
)

const (
	// DefaultListLimit - размер страницы заказов по умолчанию.
	DefaultListLimit = 10
	// MaxListLimit - верхняя граница limit.
	MaxListLimit = 1000
)

// QueryService отдаёт заказы на чтение.
type QueryService struct {
	orders domain.OrderReader
	logger *log.Entry
}

// NewQueryService создаёт сервис чтения заказов.
func NewQueryService(orders domain.OrderReader, logger *log.Entry) *QueryService {
	if logger == nil {
		logger = log.WithField("component", "order-query")
	}
	return &QueryService{orders: orders, logger: logger}
}

// ListOrders возвращает страницу заказов пользователя, новые первыми.
// Для пользователя без заказов (в том числе несуществующего) это пустая страница.
func (s *QueryService) ListOrders(ctx context.Context, query domain.OrderQuery) (domain.Page[domain.Order], error) {
	if query.Limit < 0 || query.Limit > MaxListLimit {
		return domain.Page[domain.Order]{}, domain.InvalidArgument(domain.ErrInvalidPage, "limit must be between 0 and %d", MaxListLimit)
	}
	if query.Offset < 0 {
		return domain.Page[domain.Order]{}, domain.InvalidArgument(domain.ErrInvalidPage, "offset must be non-negative")
	}

	total, err := s.orders.CountOrdersByUser(ctx, query.UserID)
	if err != nil {
		s.logger.WithError(err).WithField("user_id", query.UserID).Error("failed to count orders")
		return domain.Page[domain.Order]{}, domain.Internal(err, "failed to count orders")
	}

	result := make([]domain.Order, 0)
	if total > 0 && query.Limit > 0 && query.Offset < total {
		result, err = s.orders.ListOrdersByUser(ctx, query)
		if err != nil {
			s.logger.WithError(err).WithField("user_id", query.UserID).Error("failed to list orders")
			return domain.Page[domain.Order]{}, domain.Internal(err, "failed to list orders")
		}
	}

	return domain.Page[domain.Order]{
		Limit:  query.Limit,
		Offset: query.Offset,
		Total:  total,
		Result: result,
	}, nil
}

// GetOrder возвращает заказ целиком, с позициями.
func (s *QueryService) GetOrder(ctx context.Context, orderID int64) (domain.Order, error) {
	order, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, domain.ErrOrderNotFound) {
			return domain.Order{}, domain.NotFound(domain.ErrOrderNotFound, "order %d not found", orderID)
		}
		s.logger.WithError(err).WithField("order_id", orderID).Error("failed to load order")
		return domain.Order{}, domain.Internal(err, "failed to load order")
	}
	return order, nil
}

// GetUserOrder возвращает заказ, только если он принадлежит пользователю.
func (s *QueryService) GetUserOrder(ctx context.Context, userID, orderID int64) (domain.Order, error) {
	order, err := s.GetOrder(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	if order.UserID != userID {
		return domain.Order{}, domain.NotFound(domain.ErrOrderNotFound, "order %d not found", orderID)
	}
	return order, nil
}
