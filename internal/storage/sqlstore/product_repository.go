package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/vladislavdragonenkov/mall/internal/domain"
)

const productColumns = `product_id, product_name, category, image_url, price, stock, description, created_date, last_modified_date`

var productOrderColumns = map[domain.ProductSortField]string{
	domain.SortByCreatedDate:      "created_date",
	domain.SortByLastModifiedDate: "last_modified_date",
	domain.SortByPrice:            "price",
	domain.SortByProductName:      "product_name",
}

var sortDirections = map[domain.SortDirection]string{
	domain.SortAsc:  "ASC",
	domain.SortDesc: "DESC",
}

type rowScanner interface {
	Scan(dest ...any) error
}

// GetProduct возвращает товар по идентификатору.
func (s *Store) GetProduct(ctx context.Context, productID int64) (domain.Product, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	return s.getProduct(ctx, s.db, productID)
}

func (s *Store) getProduct(ctx context.Context, q querier, productID int64) (domain.Product, error) {
	row := s.queryRow(ctx, q, `SELECT `+productColumns+` FROM product WHERE product_id = ?`, productID)
	product, err := scanProduct(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Product{}, domain.ErrProductNotFound
	}
	if err != nil {
		return domain.Product{}, fmt.Errorf("get product %d: %w", productID, err)
	}
	return product, nil
}

// ListProducts возвращает страницу каталога. Поля сортировки берутся
// только из белого списка, поэтому их можно подставлять в текст запроса.
func (s *Store) ListProducts(ctx context.Context, query domain.ProductQuery) ([]domain.Product, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	column, ok := productOrderColumns[query.OrderBy]
	if !ok {
		column = productOrderColumns[domain.SortByCreatedDate]
	}
	direction, ok := sortDirections[query.Sort]
	if !ok {
		direction = sortDirections[domain.SortDesc]
	}

	where, args := productFilter(query)
	stmt := `SELECT ` + productColumns + ` FROM product` + where +
		fmt.Sprintf(` ORDER BY %s %s, product_id %s LIMIT ? OFFSET ?`, column, direction, direction)
	args = append(args, query.Limit, query.Offset)

	rows, err := s.query(ctx, s.db, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	products := make([]domain.Product, 0, query.Limit)
	for rows.Next() {
		product, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		products = append(products, product)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate products: %w", err)
	}
	return products, nil
}

// CountProducts считает товары с тем же фильтром, что и ListProducts.
func (s *Store) CountProducts(ctx context.Context, query domain.ProductQuery) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	where, args := productFilter(query)
	var total int
	if err := s.queryRow(ctx, s.db, `SELECT COUNT(*) FROM product`+where, args...).Scan(&total); err != nil {
		return 0, fmt.Errorf("count products: %w", err)
	}
	return total, nil
}

// CreateProduct добавляет товар и возвращает его идентификатор.
func (s *Store) CreateProduct(ctx context.Context, req domain.ProductRequest) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	now := s.now()
	var id int64
	err := s.queryRow(ctx, s.db, `
		INSERT INTO product (product_name, category, image_url, price, stock, description, created_date, last_modified_date)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING product_id
	`, req.ProductName, string(req.Category), req.ImageURL, req.Price, req.Stock, req.Description, now, now).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert product: %w", err)
	}
	return id, nil
}

// UpdateProduct перезаписывает изменяемые поля товара.
func (s *Store) UpdateProduct(ctx context.Context, productID int64, req domain.ProductRequest) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := s.exec(ctx, s.db, `
		UPDATE product
		SET product_name = ?, category = ?, image_url = ?, price = ?, stock = ?, description = ?, last_modified_date = ?
		WHERE product_id = ?
	`, req.ProductName, string(req.Category), req.ImageURL, req.Price, req.Stock, req.Description, s.now(), productID)
	if err != nil {
		return fmt.Errorf("update product %d: %w", productID, err)
	}
	return requireAffected(res, domain.ErrProductNotFound)
}

// DeleteProduct удаляет товар; отсутствие строки не считается ошибкой.
// Позиции заказов ссылаются на товар без внешнего ключа и остаются в истории.
func (s *Store) DeleteProduct(ctx context.Context, productID int64) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if _, err := s.exec(ctx, s.db, `DELETE FROM product WHERE product_id = ?`, productID); err != nil {
		return fmt.Errorf("delete product %d: %w", productID, err)
	}
	return nil
}

func productFilter(query domain.ProductQuery) (string, []any) {
	var (
		conds []string
		args  []any
	)
	if query.Category != "" {
		conds = append(conds, "category = ?")
		args = append(args, string(query.Category))
	}
	if search := strings.TrimSpace(query.Search); search != "" {
		conds = append(conds, `LOWER(product_name) LIKE ? ESCAPE '\'`)
		args = append(args, likePattern(search))
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// likePattern строит шаблон «содержит» без учёта регистра.
func likePattern(search string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(strings.ToLower(search)) + "%"
}

func scanProduct(row rowScanner) (domain.Product, error) {
	var (
		p        domain.Product
		category string
	)
	if err := row.Scan(
		&p.ProductID,
		&p.ProductName,
		&category,
		&p.ImageURL,
		&p.Price,
		&p.Stock,
		&p.Description,
		&p.CreatedDate,
		&p.LastModifiedDate,
	); err != nil {
		return domain.Product{}, err
	}
	p.Category = domain.ProductCategory(category)
	p.CreatedDate = p.CreatedDate.UTC()
	p.LastModifiedDate = p.LastModifiedDate.UTC()
	return p, nil
}
