package order_test

import (
	"context"
	"errors"
	"testing"

	"github.com/vladislavdragonenkov/mall/internal/domain"
	"github.com/vladislavdragonenkov/mall/internal/service/order"
)

func TestListOrders_EmptyForUserWithoutOrders(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	query := order.NewQueryService(f.store, nil)

	for _, userID := range []int64{f.userID, 424242} {
		page, err := query.ListOrders(context.Background(), domain.OrderQuery{UserID: userID, Limit: order.DefaultListLimit})
		if err != nil {
			t.Fatalf("ListOrders(%d) failed: %v", userID, err)
		}
		if page.Total != 0 || page.Result == nil || len(page.Result) != 0 {
			t.Fatalf("expected empty non-nil page, got %+v", page)
		}
	}
}

func TestListOrders_PaginatesNewestFirst(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	coordinator := newCoordinator(f.store)

	ids := make([]int64, 0, 3)
	for i := 0; i < 3; i++ {
		id, err := coordinator.PlaceOrder(ctx, f.userID, []domain.BuyItem{{ProductID: f.products["apple"], Quantity: 1}})
		if err != nil {
			t.Fatalf("place order %d: %v", i, err)
		}
		ids = append(ids, id)
	}

	query := order.NewQueryService(f.store, nil)
	page, err := query.ListOrders(ctx, domain.OrderQuery{UserID: f.userID, Limit: 2, Offset: 1})
	if err != nil {
		t.Fatalf("ListOrders failed: %v", err)
	}
	if page.Total != 3 || page.Limit != 2 || page.Offset != 1 {
		t.Fatalf("unexpected page meta %+v", page)
	}
	if len(page.Result) != 2 {
		t.Fatalf("expected 2 orders, got %d", len(page.Result))
	}
	if page.Result[0].OrderID != ids[1] || page.Result[1].OrderID != ids[0] {
		t.Fatalf("expected orders %d,%d got %d,%d", ids[1], ids[0], page.Result[0].OrderID, page.Result[1].OrderID)
	}
}

func TestListOrders_RejectsBadPaging(t *testing.T) {
	t.Parallel()

	query := order.NewQueryService(newFixture(t).store, nil)
	for _, q := range []domain.OrderQuery{
		{UserID: 1, Limit: -1},
		{UserID: 1, Limit: order.MaxListLimit + 1},
		{UserID: 1, Limit: 10, Offset: -1},
	} {
		_, err := query.ListOrders(context.Background(), q)
		if domain.KindOf(err) != domain.KindInvalidArgument || !errors.Is(err, domain.ErrInvalidPage) {
			t.Fatalf("query %+v: expected invalid page, got %v", q, err)
		}
	}
}

func TestGetUserOrder(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	orderID, err := newCoordinator(f.store).PlaceOrder(ctx, f.userID, []domain.BuyItem{{ProductID: f.products["bread"], Quantity: 2}})
	if err != nil {
		t.Fatalf("PlaceOrder failed: %v", err)
	}

	query := order.NewQueryService(f.store, nil)
	got, err := query.GetUserOrder(ctx, f.userID, orderID)
	if err != nil {
		t.Fatalf("GetUserOrder failed: %v", err)
	}
	if got.TotalAmount != 250 || got.Items[0].ProductName != "bread" {
		t.Fatalf("unexpected order %+v", got)
	}

	if _, err := query.GetUserOrder(ctx, f.userID+1, orderID); domain.KindOf(err) != domain.KindNotFound {
		t.Fatalf("foreign order must be not found, got %v", err)
	}
	if _, err := query.GetOrder(ctx, 777); domain.KindOf(err) != domain.KindNotFound {
		t.Fatalf("missing order must be not found, got %v", err)
	}
}
