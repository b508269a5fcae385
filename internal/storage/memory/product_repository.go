package memory

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/mall/internal/domain"
)

// GetProduct возвращает товар или ErrProductNotFound.
func (s *Store) GetProduct(_ context.Context, productID int64) (domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, ok := s.products[productID]
	if !ok {
		return domain.Product{}, domain.ErrProductNotFound
	}
	return product, nil
}

// ListProducts фильтрует, сортирует и режет каталог так же, как SQL-реализации.
func (s *Store) ListProducts(_ context.Context, query domain.ProductQuery) ([]domain.Product, error) {
	s.mu.RLock()
	matched := s.matchProducts(query)
	s.mu.RUnlock()

	sortProducts(matched, query.OrderBy, query.Sort)

	if query.Offset >= len(matched) {
		return []domain.Product{}, nil
	}
	matched = matched[query.Offset:]
	if query.Limit >= 0 && len(matched) > query.Limit {
		matched = matched[:query.Limit]
	}
	return matched, nil
}

// CountProducts возвращает число товаров под фильтром без учёта пагинации.
func (s *Store) CountProducts(_ context.Context, query domain.ProductQuery) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.matchProducts(query)), nil
}

// CreateProduct добавляет товар и возвращает его идентификатор.
func (s *Store) CreateProduct(_ context.Context, req domain.ProductRequest) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextProductID++
	now := s.now()
	s.products[s.nextProductID] = productFromRequest(s.nextProductID, req, now)
	return s.nextProductID, nil
}

// UpdateProduct перезаписывает поля товара, сохраняя дату создания.
func (s *Store) UpdateProduct(_ context.Context, productID int64, req domain.ProductRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.products[productID]
	if !ok {
		return domain.ErrProductNotFound
	}
	updated := productFromRequest(productID, req, s.now())
	updated.CreatedDate = current.CreatedDate
	s.products[productID] = updated
	return nil
}

// DeleteProduct удаляет товар; отсутствие товара не ошибка.
func (s *Store) DeleteProduct(_ context.Context, productID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.products, productID)
	return nil
}

func (s *Store) matchProducts(query domain.ProductQuery) []domain.Product {
	search := strings.ToLower(strings.TrimSpace(query.Search))
	result := make([]domain.Product, 0, len(s.products))
	for _, product := range s.products {
		if query.Category != "" && product.Category != query.Category {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(product.ProductName), search) {
			continue
		}
		result = append(result, product)
	}
	return result
}

func sortProducts(products []domain.Product, orderBy domain.ProductSortField, dir domain.SortDirection) {
	less := func(a, b domain.Product) int {
		switch orderBy {
		case domain.SortByPrice:
			return compareInt64(a.Price, b.Price)
		case domain.SortByProductName:
			return strings.Compare(a.ProductName, b.ProductName)
		case domain.SortByLastModifiedDate:
			return a.LastModifiedDate.Compare(b.LastModifiedDate)
		default:
			return a.CreatedDate.Compare(b.CreatedDate)
		}
	}

	sort.SliceStable(products, func(i, j int) bool {
		c := less(products[i], products[j])
		if c == 0 {
			c = compareInt64(products[i].ProductID, products[j].ProductID)
		}
		if dir == domain.SortAsc {
			return c < 0
		}
		return c > 0
	})
}

func compareInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func productFromRequest(id int64, req domain.ProductRequest, now time.Time) domain.Product {
	return domain.Product{
		ProductID:        id,
		ProductName:      req.ProductName,
		Category:         req.Category,
		ImageURL:         req.ImageURL,
		Price:            req.Price,
		Stock:            req.Stock,
		Description:      req.Description,
		CreatedDate:      now,
		LastModifiedDate: now,
	}
}

var _ domain.ProductRepository = (*Store)(nil)
