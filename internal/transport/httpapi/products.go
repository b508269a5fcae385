package httpapi

import (
	"net/http"
	"time"

	"github.com/vladislavdragonenkov/mall/internal/domain"
	"github.com/vladislavdragonenkov/mall/internal/service/catalog"
)

type productRequest struct {
	ProductName string `json:"productName"`
	Category    string `json:"category"`
	ImageURL    string `json:"imageUrl"`
	Price       int64  `json:"price"`
	Stock       int    `json:"stock"`
	Description string `json:"description"`
}

type productResponse struct {
	ProductID        int64     `json:"productId"`
	ProductName      string    `json:"productName"`
	Category         string    `json:"category"`
	ImageURL         string    `json:"imageUrl"`
	Price            int64     `json:"price"`
	Stock            int       `json:"stock"`
	Description      string    `json:"description,omitempty"`
	CreatedDate      time.Time `json:"createdDate"`
	LastModifiedDate time.Time `json:"lastModifiedDate"`
}

func (in productRequest) toDomain() domain.ProductRequest {
	return domain.ProductRequest{
		ProductName: in.ProductName,
		Category:    domain.ProductCategory(in.Category),
		ImageURL:    in.ImageURL,
		Price:       in.Price,
		Stock:       in.Stock,
		Description: in.Description,
	}
}

func toProductResponse(p domain.Product) productResponse {
	return productResponse{
		ProductID:        p.ProductID,
		ProductName:      p.ProductName,
		Category:         string(p.Category),
		ImageURL:         p.ImageURL,
		Price:            p.Price,
		Stock:            p.Stock,
		Description:      p.Description,
		CreatedDate:      p.CreatedDate,
		LastModifiedDate: p.LastModifiedDate,
	}
}

// GET /products
func (a *api) listProducts(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", catalog.DefaultListLimit)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	q := r.URL.Query()
	page, err := a.catalog.ListProducts(r.Context(), domain.ProductQuery{
		Category: domain.ProductCategory(q.Get("category")),
		Search:   q.Get("search"),
		OrderBy:  domain.ProductSortField(q.Get("orderBy")),
		Sort:     domain.SortDirection(q.Get("sort")),
		Limit:    limit,
		Offset:   offset,
	})
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	result := make([]productResponse, 0, len(page.Result))
	for _, p := range page.Result {
		result = append(result, toProductResponse(p))
	}
	writeJSON(w, http.StatusOK, pageResponse[productResponse]{
		Limit:  page.Limit,
		Offset: page.Offset,
		Total:  page.Total,
		Result: result,
	})
}

// GET /products/{productId}
func (a *api) getProduct(w http.ResponseWriter, r *http.Request) {
	productID, err := pathID(r, "productId")
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	p, err := a.catalog.GetProduct(r.Context(), productID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toProductResponse(p))
}

// POST /products
func (a *api) createProduct(w http.ResponseWriter, r *http.Request) {
	var req productRequest
	if err := decodeJSON(w, r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	p, err := a.catalog.CreateProduct(r.Context(), req.toDomain())
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toProductResponse(p))
}

// PUT /products/{productId}
func (a *api) updateProduct(w http.ResponseWriter, r *http.Request) {
	productID, err := pathID(r, "productId")
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	var req productRequest
	if err := decodeJSON(w, r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	p, err := a.catalog.UpdateProduct(r.Context(), productID, req.toDomain())
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toProductResponse(p))
}

// DELETE /products/{productId}
func (a *api) deleteProduct(w http.ResponseWriter, r *http.Request) {
	productID, err := pathID(r, "productId")
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if err := a.catalog.DeleteProduct(r.Context(), productID); err != nil {
		a.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
