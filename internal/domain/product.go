package domain

import (
	"strings"
	"time"
)

// ProductCategory - категория товара в каталоге.
type ProductCategory string

const (
	CategoryFood  ProductCategory = "FOOD"
	CategoryCar   ProductCategory = "CAR"
	CategoryEBook ProductCategory = "E_BOOK"
)

// Valid проверяет, что категория относится к поддерживаемым значениям.
func (c ProductCategory) Valid() bool {
	switch c {
	case CategoryFood, CategoryCar, CategoryEBook:
		return true
	default:
		return false
	}
}

// Product - товар каталога. Цена в минимальных денежных единицах.
type Product struct {
	ProductID        int64
	ProductName      string
	Category         ProductCategory
	ImageURL         string
	Price            int64
	Stock            int
	Description      string
	CreatedDate      time.Time
	LastModifiedDate time.Time
}

// ProductRequest - данные для создания и обновления товара.
type ProductRequest struct {
	ProductName string
	Category    ProductCategory
	ImageURL    string
	Price       int64
	Stock       int
	Description string
}

// Validate проверяет входные данные товара.
func (in ProductRequest) Validate() error {
	switch {
	case strings.TrimSpace(in.ProductName) == "":
		return InvalidArgument(ErrInvalidProduct, "productName is required")
	case !in.Category.Valid():
		return InvalidArgument(ErrInvalidProduct, "unknown category %q", in.Category)
	case strings.TrimSpace(in.ImageURL) == "":
		return InvalidArgument(ErrInvalidProduct, "imageUrl is required")
	case in.Price <= 0:
		return InvalidArgument(ErrInvalidProduct, "price must be positive")
	case in.Stock < 0:
		return InvalidArgument(ErrInvalidProduct, "stock must be non-negative")
	}
	return nil
}

// ProductSortField - поле сортировки списка товаров.
type ProductSortField string

const (
	SortByCreatedDate      ProductSortField = "created_date"
	SortByLastModifiedDate ProductSortField = "last_modified_date"
	SortByPrice            ProductSortField = "price"
	SortByProductName      ProductSortField = "product_name"
)

// Valid проверяет поле сортировки.
func (f ProductSortField) Valid() bool {
	switch f {
	case SortByCreatedDate, SortByLastModifiedDate, SortByPrice, SortByProductName:
		return true
	default:
		return false
	}
}

// SortDirection - направление сортировки.
type SortDirection string

const (
	SortAsc  SortDirection = "asc"
	SortDesc SortDirection = "desc"
)

// ProductQuery описывает фильтрацию, сортировку и пагинацию каталога.
type ProductQuery struct {
	Category ProductCategory
	Search   string
	OrderBy  ProductSortField
	Sort     SortDirection
	Limit    int
	Offset   int
}

// Page - страница результата вместе с общим количеством записей.
type Page[T any] struct {
	Limit  int
	Offset int
	Total  int
	Result []T
}
