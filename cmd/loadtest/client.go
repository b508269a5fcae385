package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/vladislavdragonenkov/mall/internal/transport/httpapi"
)

// shopClient - минимальный клиент REST API магазина для нагрузочного прогона.
type shopClient struct {
	http    *http.Client
	baseURL string
}

func newHTTPClient(cfg config) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConnsPerHost = cfg.concurrency
	return &http.Client{Transport: transport, Timeout: cfg.timeout}
}

type buyItem struct {
	ProductID int64 `json:"productId"`
	Quantity  int   `json:"quantity"`
}

// placeOrder возвращает HTTP-статус и id заказа при 201.
// Статус statusNoResponse означает, что ответа не было.
func (c *shopClient) placeOrder(ctx context.Context, userID int64, items []buyItem, key string) (int, int64) {
	body, err := json.Marshal(map[string][]buyItem{"buyItemList": items})
	if err != nil {
		return statusNoResponse, 0
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf("%s/users/%d/orders", c.baseURL, userID), bytes.NewReader(body))
	if err != nil {
		return statusNoResponse, 0
	}
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set(httpapi.IdempotencyKeyHeader, key)
	}

	var created struct {
		OrderID int64 `json:"orderId"`
	}
	status := c.do(req, http.StatusCreated, &created)
	return status, created.OrderID
}

func (c *shopClient) getOrder(ctx context.Context, userID, orderID int64) int {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/users/%d/orders/%d", c.baseURL, userID, orderID), nil)
	if err != nil {
		return statusNoResponse
	}
	return c.do(req, http.StatusOK, nil)
}

func (c *shopClient) productStock(ctx context.Context, productID int64) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/products/%d", c.baseURL, productID), nil)
	if err != nil {
		return 0, err
	}
	var product struct {
		Stock int `json:"stock"`
	}
	switch status := c.do(req, http.StatusOK, &product); status {
	case http.StatusOK:
		return product.Stock, nil
	case statusNoResponse:
		return 0, fmt.Errorf("get product %d: no response", productID)
	default:
		return 0, fmt.Errorf("get product %d: status %d", productID, status)
	}
}

// do выполняет запрос и декодирует тело в out, если статус равен want.
// Остальные тела вычитываются, чтобы соединение вернулось в пул.
func (c *shopClient) do(req *http.Request, want int, out any) int {
	resp, err := c.http.Do(req)
	if err != nil {
		return statusNoResponse
	}
	defer resp.Body.Close()

	if resp.StatusCode == want && out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return statusNoResponse
		}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode
}
