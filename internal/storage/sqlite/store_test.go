package sqlite

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/mall/internal/domain"
	"github.com/vladislavdragonenkov/mall/internal/storage/storagetest"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	store, err := Open(ctx, filepath.Join(t.TempDir(), "mall.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = store.Close()
	})

	require.NoError(t, store.MigrateUp(ctx, 0))
	return store
}

func TestStore_Backend(t *testing.T) {
	storagetest.RunBackendTests(t, func(t *testing.T) storagetest.Backend {
		return openTestStore(t)
	})
}

func TestStore_Idempotency(t *testing.T) {
	storagetest.RunIdempotencyTests(t, func(t *testing.T) domain.IdempotencyRepository {
		return openTestStore(t).Idempotency()
	})
}

func TestStore_MigrationStatusAndRollback(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	version, dirty, err := store.MigrationStatus(ctx)
	require.NoError(t, err)
	require.Equal(t, uint(2), version)
	require.False(t, dirty)

	require.NoError(t, store.EnsureSchema(ctx))

	require.NoError(t, store.MigrateDown(ctx, 0))
	version, _, err = store.MigrationStatus(ctx)
	require.NoError(t, err)
	require.Equal(t, uint(1), version)

	require.NoError(t, store.MigrateUp(ctx, 1))
	version, _, err = store.MigrationStatus(ctx)
	require.NoError(t, err)
	require.Equal(t, uint(2), version)

	require.NoError(t, store.Ping(ctx))
}

func TestStore_OpenRequiresPath(t *testing.T) {
	_, err := Open(context.Background(), "  ")
	require.Error(t, err)

	var store *Store
	require.Error(t, store.Ping(context.Background()))
	require.NoError(t, store.Close())
}

func TestStore_ConcurrentOrdersDoNotOversell(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	userID, err := store.CreateUser(ctx, "race@example.com")
	require.NoError(t, err)
	productID, err := store.CreateProduct(ctx, domain.ProductRequest{
		ProductName: "Last Item", Category: domain.CategoryCar, ImageURL: "https://img/car.png", Price: 1000, Stock: 1,
	})
	require.NoError(t, err)

	const buyers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		failures  []error
	)
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := store.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
				order := domain.Order{
					UserID:      userID,
					TotalAmount: 1000,
					Items:       []domain.OrderItem{{ProductID: productID, Quantity: 1, UnitPrice: 1000, Amount: 1000}},
					CreatedDate: time.Now().UTC(),
				}
				order.LastModifiedDate = order.CreatedDate
				if err := tx.Orders().CreateOrder(ctx, &order); err != nil {
					return err
				}
				return tx.Inventory().DecrementStock(ctx, productID, 1)
			})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures = append(failures, err)
				return
			}
			successes++
		}()
	}
	wg.Wait()

	require.Equal(t, 1, successes)
	require.Len(t, failures, buyers-1)
	for _, err := range failures {
		require.ErrorIs(t, err, domain.ErrStockConflict)
	}
	total, err := store.CountOrdersByUser(ctx, userID)
	require.NoError(t, err)
	require.Equal(t, 1, total)

	product, err := store.GetProduct(ctx, productID)
	require.NoError(t, err)
	require.Zero(t, product.Stock)
}
