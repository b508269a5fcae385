// Package storagetest содержит общие проверки для всех реализаций хранилища:
// in-memory, SQLite и PostgreSQL должны вести себя одинаково.
package storagetest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/mall/internal/domain"
	"github.com/vladislavdragonenkov/mall/internal/service/order"
)

// Backend - то, что приложение ожидает от хранилища.
type Backend interface {
	domain.Transactor
	domain.ProductRepository
	domain.OrderReader
	domain.UserDirectory
	CreateUser(ctx context.Context, email string) (int64, error)
	Outbox() domain.OutboxRepository
}

// Opener открывает пустое хранилище для одного теста.
type Opener func(t *testing.T) Backend

var errAbort = errors.New("abort transaction")

// RunBackendTests прогоняет общий набор проверок хранилища.
func RunBackendTests(t *testing.T, open Opener) {
	t.Run("commit persists order stock and outbox", func(t *testing.T) { testCommit(t, open(t)) })
	t.Run("error rolls back everything", func(t *testing.T) { testRollback(t, open(t)) })
	t.Run("decrement beyond stock conflicts", func(t *testing.T) { testDecrementConflict(t, open(t)) })
	t.Run("crossing carts never fail internally", func(t *testing.T) { testCrossingCarts(t, open(t)) })
	t.Run("orders listed newest first", func(t *testing.T) { testListOrders(t, open(t)) })
	t.Run("catalog filter sort and page", func(t *testing.T) { testCatalog(t, open(t)) })
	t.Run("catalog update and delete", func(t *testing.T) { testCatalogMutations(t, open(t)) })
	t.Run("outbox pending lifecycle", func(t *testing.T) { testOutbox(t, open(t)) })
}

// RunIdempotencyTests прогоняет общий набор проверок репозитория ключей идемпотентности.
func RunIdempotencyTests(t *testing.T, open func(t *testing.T) domain.IdempotencyRepository) {
	t.Run("create get and mark done", func(t *testing.T) {
		repo := open(t)
		ctx := context.Background()
		ttl := time.Now().UTC().Add(2 * time.Hour).Truncate(time.Second)

		created, err := repo.CreateProcessing(ctx, "idem-done", "req-hash-1", ttl)
		require.NoError(t, err)
		require.Equal(t, domain.IdempotencyStatusProcessing, created.Status)

		require.NoError(t, repo.MarkDone(ctx, "idem-done", []byte(`{"orderId":1}`), 201))

		got, err := repo.Get(ctx, "idem-done")
		require.NoError(t, err)
		require.Equal(t, "req-hash-1", got.RequestHash)
		require.Equal(t, domain.IdempotencyStatusDone, got.Status)
		require.Equal(t, 201, got.HTTPStatus)
		require.JSONEq(t, `{"orderId":1}`, string(got.ResponseBody))
		require.True(t, got.TTLAt.Equal(ttl), "ttl mismatch: expected %s, got %s", ttl, got.TTLAt)
		require.True(t, got.Replayable())
	})

	t.Run("conflict and hash mismatch", func(t *testing.T) {
		repo := open(t)
		ctx := context.Background()
		ttl := time.Now().UTC().Add(time.Hour)

		_, err := repo.CreateProcessing(ctx, "idem-conflict", "req-hash-a", ttl)
		require.NoError(t, err)

		_, err = repo.CreateProcessing(ctx, "idem-conflict", "req-hash-a", ttl)
		require.ErrorIs(t, err, domain.ErrIdempotencyKeyAlreadyExists)

		_, err = repo.CreateProcessing(ctx, "idem-conflict", "req-hash-b", ttl)
		require.ErrorIs(t, err, domain.ErrIdempotencyHashMismatch)
	})

	t.Run("expired key can be reused", func(t *testing.T) {
		repo := open(t)
		ctx := context.Background()

		_, err := repo.CreateProcessing(ctx, "idem-reuse", "old-hash", time.Now().UTC().Add(-time.Minute))
		require.NoError(t, err)

		created, err := repo.CreateProcessing(ctx, "idem-reuse", "new-hash", time.Now().UTC().Add(time.Hour))
		require.NoError(t, err)
		require.Equal(t, "new-hash", created.RequestHash)
	})

	t.Run("release frees only processing key", func(t *testing.T) {
		repo := open(t)
		ctx := context.Background()
		ttl := time.Now().UTC().Add(time.Hour)

		_, err := repo.CreateProcessing(ctx, "idem-release", "req-hash", ttl)
		require.NoError(t, err)
		require.NoError(t, repo.Release(ctx, " idem-release "))

		_, err = repo.Get(ctx, "idem-release")
		require.ErrorIs(t, err, domain.ErrIdempotencyKeyNotFound)

		_, err = repo.CreateProcessing(ctx, "idem-release", "req-hash", ttl)
		require.NoError(t, err, "released key must be usable again")
		require.NoError(t, repo.MarkDone(ctx, "idem-release", []byte(`{}`), 201))

		require.ErrorIs(t, repo.Release(ctx, "idem-release"), domain.ErrIdempotencyKeyNotFound)
		got, err := repo.Get(ctx, "idem-release")
		require.NoError(t, err)
		require.Equal(t, domain.IdempotencyStatusDone, got.Status)

		require.ErrorIs(t, repo.Release(ctx, "idem-never"), domain.ErrIdempotencyKeyNotFound)
	})

	t.Run("mark unknown key", func(t *testing.T) {
		repo := open(t)

		err := repo.MarkFailed(context.Background(), "idem-missing", []byte(`{}`), 400)
		require.ErrorIs(t, err, domain.ErrIdempotencyKeyNotFound)

		_, err = repo.Get(context.Background(), "  ")
		require.ErrorIs(t, err, domain.ErrIdempotencyKeyRequired)
	})

	t.Run("delete expired respects limit", func(t *testing.T) {
		repo := open(t)
		ctx := context.Background()
		now := time.Now().UTC()

		for i, key := range []string{"idem-expired-1", "idem-expired-2", "idem-expired-3"} {
			_, err := repo.CreateProcessing(ctx, key, "h", now.Add(-time.Duration(5-i)*time.Minute))
			require.NoError(t, err)
		}
		_, err := repo.CreateProcessing(ctx, "idem-active", "h", now.Add(time.Hour))
		require.NoError(t, err)

		removed, err := repo.DeleteExpired(ctx, now, 2)
		require.NoError(t, err)
		require.Equal(t, 2, removed)

		removed, err = repo.DeleteExpired(ctx, now, 10)
		require.NoError(t, err)
		require.Equal(t, 1, removed)

		_, err = repo.Get(ctx, "idem-active")
		require.NoError(t, err)
	})
}

type fixture struct {
	userID int64
	apple  int64
	bread  int64
}

func seed(t *testing.T, b Backend) fixture {
	t.Helper()
	ctx := context.Background()

	userID, err := b.CreateUser(ctx, "buyer@example.com")
	require.NoError(t, err)

	apple, err := b.CreateProduct(ctx, domain.ProductRequest{
		ProductName: "Apple", Category: domain.CategoryFood, ImageURL: "https://img/apple.png", Price: 100, Stock: 10,
	})
	require.NoError(t, err)
	bread, err := b.CreateProduct(ctx, domain.ProductRequest{
		ProductName: "Bread", Category: domain.CategoryFood, ImageURL: "https://img/bread.png", Price: 125, Stock: 3,
	})
	require.NoError(t, err)

	return fixture{userID: userID, apple: apple, bread: bread}
}

func newOrder(userID int64, at time.Time, lines ...domain.OrderItem) domain.Order {
	order := domain.Order{UserID: userID, CreatedDate: at, LastModifiedDate: at, Items: lines}
	for _, line := range lines {
		order.TotalAmount += line.Amount
	}
	return order
}

func line(productID int64, qty int, price int64) domain.OrderItem {
	return domain.OrderItem{ProductID: productID, Quantity: qty, UnitPrice: price, Amount: int64(qty) * price}
}

func placeInTx(ctx context.Context, tx domain.Tx, order *domain.Order) error {
	if err := tx.Orders().CreateOrder(ctx, order); err != nil {
		return err
	}
	for _, item := range order.Items {
		if err := tx.Inventory().DecrementStock(ctx, item.ProductID, item.Quantity); err != nil {
			return err
		}
	}
	msg, err := domain.NewOrderCreatedMessage(*order)
	if err != nil {
		return err
	}
	_, err = tx.Outbox().Enqueue(ctx, msg)
	return err
}

func stockOf(t *testing.T, b Backend, productID int64) int {
	t.Helper()
	product, err := b.GetProduct(context.Background(), productID)
	require.NoError(t, err)
	return product.Stock
}

func testCommit(t *testing.T, b Backend) {
	ctx := context.Background()
	f := seed(t, b)

	exists, err := b.UserExists(ctx, f.userID)
	require.NoError(t, err)
	require.True(t, exists)
	exists, err = b.UserExists(ctx, f.userID+1000)
	require.NoError(t, err)
	require.False(t, exists)

	order := newOrder(f.userID, time.Now().UTC().Truncate(time.Second), line(f.apple, 5, 100), line(f.bread, 2, 125))
	err = b.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		price, err := tx.Pricing().UnitPrice(ctx, f.apple)
		require.NoError(t, err)
		require.Equal(t, int64(100), price)
		return placeInTx(ctx, tx, &order)
	})
	require.NoError(t, err)
	require.Positive(t, order.OrderID)
	for _, item := range order.Items {
		require.Equal(t, order.OrderID, item.OrderID)
		require.Positive(t, item.OrderItemID)
	}

	got, err := b.GetOrder(ctx, order.OrderID)
	require.NoError(t, err)
	require.Equal(t, f.userID, got.UserID)
	require.Equal(t, int64(750), got.TotalAmount)
	require.Len(t, got.Items, 2)
	require.Equal(t, f.apple, got.Items[0].ProductID)
	require.Equal(t, "Apple", got.Items[0].ProductName)
	require.Equal(t, "https://img/bread.png", got.Items[1].ImageURL)
	require.Empty(t, got.ValidateInvariants())

	require.Equal(t, 5, stockOf(t, b, f.apple))
	require.Equal(t, 1, stockOf(t, b, f.bread))

	stats, err := b.Outbox().Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, stats.PendingCount)

	_, err = b.GetOrder(ctx, order.OrderID+1000)
	require.ErrorIs(t, err, domain.ErrOrderNotFound)
}

func testRollback(t *testing.T, b Backend) {
	ctx := context.Background()
	f := seed(t, b)

	order := newOrder(f.userID, time.Now().UTC(), line(f.apple, 4, 100))
	err := b.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		if err := placeInTx(ctx, tx, &order); err != nil {
			return err
		}
		return errAbort
	})
	require.ErrorIs(t, err, errAbort)

	total, err := b.CountOrdersByUser(ctx, f.userID)
	require.NoError(t, err)
	require.Zero(t, total)
	require.Equal(t, 10, stockOf(t, b, f.apple))

	stats, err := b.Outbox().Stats(ctx)
	require.NoError(t, err)
	require.Zero(t, stats.PendingCount)
}

func testDecrementConflict(t *testing.T, b Backend) {
	ctx := context.Background()
	f := seed(t, b)

	err := b.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		if err := tx.Inventory().DecrementStock(ctx, f.bread, 2); err != nil {
			return err
		}
		stock, err := tx.Inventory().Stock(ctx, f.bread)
		require.NoError(t, err)
		require.Equal(t, 1, stock)
		return tx.Inventory().DecrementStock(ctx, f.bread, 2)
	})
	require.ErrorIs(t, err, domain.ErrStockConflict)
	require.Equal(t, 3, stockOf(t, b, f.bread))
}

// testCrossingCarts оформляет встречные корзины [apple, bread] и [bread, apple]
// параллельно. Гонка за остаток - это Conflict или нехватка стока, но не сбой хранилища.
func testCrossingCarts(t *testing.T, b Backend) {
	f := seed(t, b)

	quiet := log.New()
	quiet.SetLevel(log.PanicLevel)
	coordinator := order.NewCoordinator(b, order.WithLogger(quiet.WithField("component", "storagetest")))

	const buyers = 8
	carts := [][]domain.BuyItem{
		{{ProductID: f.apple, Quantity: 1}, {ProductID: f.bread, Quantity: 1}},
		{{ProductID: f.bread, Quantity: 1}, {ProductID: f.apple, Quantity: 1}},
	}

	errs := make([]error, buyers)
	var wg sync.WaitGroup
	for i := range buyers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = coordinator.PlaceOrder(context.Background(), f.userID, carts[i%2])
		}()
	}
	wg.Wait()

	placed := 0
	for _, err := range errs {
		switch kind := domain.KindOf(err); kind {
		case "":
			placed++
		case domain.KindConflict, domain.KindInvalidArgument:
		default:
			t.Fatalf("crossing carts must not fail with %s: %v", kind, err)
		}
	}

	require.Equal(t, 3, placed, "bread stock allows exactly three carts")
	require.Equal(t, 0, stockOf(t, b, f.bread))
	require.Equal(t, 10-placed, stockOf(t, b, f.apple))

	count, err := b.CountOrdersByUser(context.Background(), f.userID)
	require.NoError(t, err)
	require.Equal(t, placed, count)
}

func testListOrders(t *testing.T, b Backend) {
	ctx := context.Background()
	f := seed(t, b)
	base := time.Now().UTC().Truncate(time.Second)

	var ids []int64
	for i := 0; i < 3; i++ {
		order := newOrder(f.userID, base.Add(time.Duration(i)*time.Minute), line(f.apple, 1, 100))
		require.NoError(t, b.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
			return placeInTx(ctx, tx, &order)
		}))
		ids = append(ids, order.OrderID)
	}

	total, err := b.CountOrdersByUser(ctx, f.userID)
	require.NoError(t, err)
	require.Equal(t, 3, total)

	page, err := b.ListOrdersByUser(ctx, domain.OrderQuery{UserID: f.userID, Limit: 2, Offset: 0})
	require.NoError(t, err)
	require.Len(t, page, 2)
	require.Equal(t, ids[2], page[0].OrderID)
	require.Equal(t, ids[1], page[1].OrderID)
	require.Len(t, page[0].Items, 1)

	page, err = b.ListOrdersByUser(ctx, domain.OrderQuery{UserID: f.userID, Limit: 2, Offset: 2})
	require.NoError(t, err)
	require.Len(t, page, 1)
	require.Equal(t, ids[0], page[0].OrderID)

	other, err := b.ListOrdersByUser(ctx, domain.OrderQuery{UserID: f.userID + 1000, Limit: 10})
	require.NoError(t, err)
	require.Empty(t, other)
}

func testCatalog(t *testing.T, b Backend) {
	ctx := context.Background()
	f := seed(t, b)

	_, err := b.CreateProduct(ctx, domain.ProductRequest{
		ProductName: "Golang Book 100%", Category: domain.CategoryEBook, ImageURL: "https://img/book.png", Price: 500, Stock: 1,
	})
	require.NoError(t, err)

	food := domain.ProductQuery{Category: domain.CategoryFood, OrderBy: domain.SortByPrice, Sort: domain.SortDesc, Limit: 10}
	products, err := b.ListProducts(ctx, food)
	require.NoError(t, err)
	require.Len(t, products, 2)
	require.Equal(t, f.bread, products[0].ProductID)
	require.Equal(t, f.apple, products[1].ProductID)

	count, err := b.CountProducts(ctx, food)
	require.NoError(t, err)
	require.Equal(t, 2, count)

	search := domain.ProductQuery{Search: "BOOK 100%", OrderBy: domain.SortByCreatedDate, Sort: domain.SortAsc, Limit: 10}
	products, err = b.ListProducts(ctx, search)
	require.NoError(t, err)
	require.Len(t, products, 1)
	require.Equal(t, domain.CategoryEBook, products[0].Category)

	none, err := b.CountProducts(ctx, domain.ProductQuery{Search: "_"})
	require.NoError(t, err)
	require.Zero(t, none)

	paged, err := b.ListProducts(ctx, domain.ProductQuery{OrderBy: domain.SortByProductName, Sort: domain.SortAsc, Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, paged, 1)
	require.Equal(t, "Bread", paged[0].ProductName)
}

func testCatalogMutations(t *testing.T, b Backend) {
	ctx := context.Background()
	f := seed(t, b)

	before, err := b.GetProduct(ctx, f.apple)
	require.NoError(t, err)

	update := domain.ProductRequest{
		ProductName: "Green Apple", Category: domain.CategoryFood, ImageURL: "https://img/green.png", Price: 150, Stock: 7, Description: "sour",
	}
	require.NoError(t, b.UpdateProduct(ctx, f.apple, update))

	after, err := b.GetProduct(ctx, f.apple)
	require.NoError(t, err)
	require.Equal(t, "Green Apple", after.ProductName)
	require.Equal(t, int64(150), after.Price)
	require.Equal(t, 7, after.Stock)
	require.Equal(t, "sour", after.Description)
	require.True(t, after.CreatedDate.Equal(before.CreatedDate))

	require.ErrorIs(t, b.UpdateProduct(ctx, f.apple+1000, update), domain.ErrProductNotFound)

	require.NoError(t, b.DeleteProduct(ctx, f.apple))
	require.NoError(t, b.DeleteProduct(ctx, f.apple))
	_, err = b.GetProduct(ctx, f.apple)
	require.ErrorIs(t, err, domain.ErrProductNotFound)
}

func testOutbox(t *testing.T, b Backend) {
	ctx := context.Background()
	repo := b.Outbox()
	base := time.Now().UTC().Truncate(time.Second)

	first, err := repo.Enqueue(ctx, domain.OutboxMessage{
		AggregateType: domain.AggregateOrder, AggregateID: "1", EventType: domain.EventOrderCreated,
		Payload: []byte(`{"orderId":1}`), CreatedAt: base,
	})
	require.NoError(t, err)
	require.NotEmpty(t, first.ID)
	second, err := repo.Enqueue(ctx, domain.OutboxMessage{
		AggregateType: domain.AggregateOrder, AggregateID: "2", EventType: domain.EventOrderCreated,
		Payload: []byte(`{"orderId":2}`), CreatedAt: base.Add(time.Second),
	})
	require.NoError(t, err)

	stats, err := repo.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, stats.PendingCount)
	require.True(t, stats.OldestPendingAt.Equal(base), "oldest pending: %s", stats.OldestPendingAt)

	pending, err := repo.PullPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	require.Equal(t, first.ID, pending[0].ID)
	require.JSONEq(t, `{"orderId":1}`, string(pending[0].Payload))

	require.NoError(t, repo.MarkSent(ctx, first.ID))
	require.NoError(t, repo.MarkFailed(ctx, second.ID))

	stats, err = repo.Stats(ctx)
	require.NoError(t, err)
	require.Zero(t, stats.PendingCount)

	pending, err = repo.PullPending(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, pending)
}
