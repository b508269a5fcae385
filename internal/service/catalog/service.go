package catalog

import (
	"context"
	"errors"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/mall/internal/domain"
)

const (
	// DefaultListLimit - размер страницы каталога по умолчанию.
	DefaultListLimit = 5
	// MaxListLimit - верхняя граница limit.
	MaxListLimit = 100
)

// Service - CRUD каталога и постраничный поиск товаров.
type Service struct {
	repo   domain.ProductRepository
	logger *log.Entry
}

// NewService создаёт сервис каталога.
func NewService(repo domain.ProductRepository, logger *log.Entry) *Service {
	if logger == nil {
		logger = log.WithField("component", "catalog-service")
	}
	return &Service{repo: repo, logger: logger}
}

// ListProducts возвращает страницу товаров и общее количество под фильтром.
func (s *Service) ListProducts(ctx context.Context, query domain.ProductQuery) (domain.Page[domain.Product], error) {
	query, err := normalizeQuery(query)
	if err != nil {
		return domain.Page[domain.Product]{}, err
	}

	total, err := s.repo.CountProducts(ctx, query)
	if err != nil {
		s.logger.WithError(err).Error("failed to count products")
		return domain.Page[domain.Product]{}, domain.Internal(err, "failed to count products")
	}

	products := make([]domain.Product, 0)
	if total > 0 && query.Limit > 0 && query.Offset < total {
		products, err = s.repo.ListProducts(ctx, query)
		if err != nil {
			s.logger.WithError(err).Error("failed to list products")
			return domain.Page[domain.Product]{}, domain.Internal(err, "failed to list products")
		}
	}

	return domain.Page[domain.Product]{
		Limit:  query.Limit,
		Offset: query.Offset,
		Total:  total,
		Result: products,
	}, nil
}

// GetProduct возвращает товар или NotFound.
func (s *Service) GetProduct(ctx context.Context, productID int64) (domain.Product, error) {
	product, err := s.repo.GetProduct(ctx, productID)
	if err != nil {
		return domain.Product{}, s.mapError(err, productID, "load")
	}
	return product, nil
}

// CreateProduct проверяет запрос, сохраняет товар и возвращает его из хранилища.
func (s *Service) CreateProduct(ctx context.Context, req domain.ProductRequest) (domain.Product, error) {
	if err := req.Validate(); err != nil {
		return domain.Product{}, err
	}

	productID, err := s.repo.CreateProduct(ctx, req)
	if err != nil {
		s.logger.WithError(err).Error("failed to create product")
		return domain.Product{}, domain.Internal(err, "failed to create product")
	}

	s.logger.WithField("product_id", productID).Info("product created")
	return s.GetProduct(ctx, productID)
}

// UpdateProduct перезаписывает товар целиком.
func (s *Service) UpdateProduct(ctx context.Context, productID int64, req domain.ProductRequest) (domain.Product, error) {
	if err := req.Validate(); err != nil {
		return domain.Product{}, err
	}

	if err := s.repo.UpdateProduct(ctx, productID, req); err != nil {
		return domain.Product{}, s.mapError(err, productID, "update")
	}
	return s.GetProduct(ctx, productID)
}

// DeleteProduct удаляет товар. Повторное удаление не ошибка.
func (s *Service) DeleteProduct(ctx context.Context, productID int64) error {
	if err := s.repo.DeleteProduct(ctx, productID); err != nil {
		s.logger.WithError(err).WithField("product_id", productID).Error("failed to delete product")
		return domain.Internal(err, "failed to delete product")
	}
	return nil
}

func (s *Service) mapError(err error, productID int64, operation string) error {
	if errors.Is(err, domain.ErrProductNotFound) {
		return domain.NotFound(domain.ErrProductNotFound, "product %d not found", productID)
	}
	s.logger.WithError(err).WithFields(log.Fields{
		"product_id": productID,
		"operation":  operation,
	}).Error("catalog storage failure")
	return domain.Internal(err, "failed to %s product", operation)
}

// normalizeQuery подставляет сортировку по умолчанию и проверяет границы.
func normalizeQuery(query domain.ProductQuery) (domain.ProductQuery, error) {
	if query.OrderBy == "" {
		query.OrderBy = domain.SortByCreatedDate
	}
	if query.Sort == "" {
		query.Sort = domain.SortDesc
	}

	switch {
	case query.Category != "" && !query.Category.Valid():
		return query, domain.InvalidArgument(domain.ErrInvalidProduct, "unknown category %q", query.Category)
	case !query.OrderBy.Valid():
		return query, domain.InvalidArgument(domain.ErrInvalidPage, "unsupported orderBy %q", query.OrderBy)
	case query.Sort != domain.SortAsc && query.Sort != domain.SortDesc:
		return query, domain.InvalidArgument(domain.ErrInvalidPage, "sort must be asc or desc")
	case query.Limit < 0 || query.Limit > MaxListLimit:
		return query, domain.InvalidArgument(domain.ErrInvalidPage, "limit must be between 0 and %d", MaxListLimit)
	case query.Offset < 0:
		return query, domain.InvalidArgument(domain.ErrInvalidPage, "offset must be non-negative")
	}
	return query, nil
}
