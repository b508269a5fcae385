package httpapi

import (
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/mall/internal/domain"
	"github.com/vladislavdragonenkov/mall/internal/service/order"
)

type buyItemRequest struct {
	ProductID int64 `json:"productId"`
	Quantity  int   `json:"quantity"`
}

type createOrderRequest struct {
	BuyItemList []buyItemRequest `json:"buyItemList"`
}

type orderItemResponse struct {
	OrderItemID int64  `json:"orderItemId"`
	OrderID     int64  `json:"orderId"`
	ProductID   int64  `json:"productId"`
	Quantity    int    `json:"quantity"`
	UnitPrice   int64  `json:"unitPrice"`
	Amount      int64  `json:"amount"`
	ProductName string `json:"productName,omitempty"`
	ImageURL    string `json:"imageUrl,omitempty"`
}

type orderResponse struct {
	OrderID          int64               `json:"orderId"`
	UserID           int64               `json:"userId"`
	TotalAmount      int64               `json:"totalAmount"`
	OrderItemList    []orderItemResponse `json:"orderItemList"`
	CreateDate       time.Time           `json:"createDate"`
	LastModifiedDate time.Time           `json:"lastModifiedDate"`
}

type pageResponse[T any] struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
	Total  int `json:"total"`
	Result []T `json:"result"`
}

func toOrderResponse(o domain.Order) orderResponse {
	items := make([]orderItemResponse, 0, len(o.Items))
	for _, item := range o.Items {
		items = append(items, orderItemResponse{
			OrderItemID: item.OrderItemID,
			OrderID:     item.OrderID,
			ProductID:   item.ProductID,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
			Amount:      item.Amount,
			ProductName: item.ProductName,
			ImageURL:    item.ImageURL,
		})
	}
	return orderResponse{
		OrderID:          o.OrderID,
		UserID:           o.UserID,
		TotalAmount:      o.TotalAmount,
		OrderItemList:    items,
		CreateDate:       o.CreatedDate,
		LastModifiedDate: o.LastModifiedDate,
	}
}

// POST /users/{userId}/orders
func (a *api) createOrder(w http.ResponseWriter, r *http.Request) {
	userID, err := pathID(r, "userId")
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	var req createOrderRequest
	if err := decodeJSON(w, r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}

	items := make([]domain.BuyItem, 0, len(req.BuyItemList))
	for _, item := range req.BuyItemList {
		items = append(items, domain.BuyItem{ProductID: item.ProductID, Quantity: item.Quantity})
	}

	orderID, err := a.orders.PlaceOrder(r.Context(), userID, items)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	created, err := a.queries.GetOrder(r.Context(), orderID)
	if err != nil {
		// Заказ уже закоммичен, поэтому отвечаем 201 хотя бы с идентификатором.
		a.logger.WithError(err).WithFields(log.Fields{
			"order_id": orderID,
			"user_id":  userID,
		}).Warn("failed to reload placed order")
		writeJSON(w, http.StatusCreated, orderResponse{OrderID: orderID, UserID: userID, OrderItemList: []orderItemResponse{}})
		return
	}

	writeJSON(w, http.StatusCreated, toOrderResponse(created))
}

// GET /users/{userId}/orders
func (a *api) listOrders(w http.ResponseWriter, r *http.Request) {
	userID, err := pathID(r, "userId")
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	limit, err := queryInt(r, "limit", order.DefaultListLimit)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	page, err := a.queries.ListOrders(r.Context(), domain.OrderQuery{UserID: userID, Limit: limit, Offset: offset})
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	result := make([]orderResponse, 0, len(page.Result))
	for _, o := range page.Result {
		result = append(result, toOrderResponse(o))
	}
	writeJSON(w, http.StatusOK, pageResponse[orderResponse]{
		Limit:  page.Limit,
		Offset: page.Offset,
		Total:  page.Total,
		Result: result,
	})
}

// GET /users/{userId}/orders/{orderId}
func (a *api) getOrder(w http.ResponseWriter, r *http.Request) {
	userID, err := pathID(r, "userId")
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	orderID, err := pathID(r, "orderId")
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	o, err := a.queries.GetUserOrder(r.Context(), userID, orderID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(o))
}
