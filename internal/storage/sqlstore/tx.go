package sqlstore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/vladislavdragonenkov/mall/internal/domain"
)

// WithinTx выполняет fn в одной SQL-транзакции. Коммит только при nil из fn,
// в остальных случаях (включая панику) транзакция откатывается.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx domain.Tx) error) error {
	ctx, cancel := context.WithTimeout(ctx, txTimeout)
	defer cancel()

	return s.inTx(ctx, func(sqlTx *sql.Tx) error {
		return fn(ctx, &txScope{store: s, tx: sqlTx})
	})
}

func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = sqlTx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = sqlTx.Rollback()
		}
	}()

	if err = fn(sqlTx); err != nil {
		return err
	}
	if err = sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// txScope отдаёт все порты оформления заказа поверх одной *sql.Tx.
type txScope struct {
	store *Store
	tx    *sql.Tx
}

func (t *txScope) Users() domain.UserDirectory      { return t }
func (t *txScope) Products() domain.ProductReader   { return t }
func (t *txScope) Pricing() domain.PricingResolver  { return t }
func (t *txScope) Inventory() domain.InventoryStore { return t }
func (t *txScope) Orders() domain.OrderWriter       { return t }
func (t *txScope) Outbox() domain.OutboxWriter      { return t }

func (t *txScope) UserExists(ctx context.Context, userID int64) (bool, error) {
	return t.store.userExists(ctx, t.tx, userID)
}

func (t *txScope) GetProduct(ctx context.Context, productID int64) (domain.Product, error) {
	return t.store.getProduct(ctx, t.tx, productID)
}

func (t *txScope) UnitPrice(ctx context.Context, productID int64) (int64, error) {
	product, err := t.store.getProduct(ctx, t.tx, productID)
	if err != nil {
		return 0, err
	}
	return product.Price, nil
}

func (t *txScope) Stock(ctx context.Context, productID int64) (int, error) {
	product, err := t.store.getProduct(ctx, t.tx, productID)
	if err != nil {
		return 0, err
	}
	return product.Stock, nil
}

// DecrementStock списывает остаток одним условным UPDATE.
// Ноль затронутых строк значит, что остаток уже забрал конкурентный заказ.
func (t *txScope) DecrementStock(ctx context.Context, productID int64, quantity int) error {
	res, err := t.store.exec(ctx, t.tx, `
		UPDATE product
		SET stock = stock - ?, last_modified_date = ?
		WHERE product_id = ? AND stock >= ?
	`, quantity, t.store.now(), productID, quantity)
	if t.store.dialect.lockConflict(err) {
		return fmt.Errorf("decrement stock of product %d: %w: %w", productID, domain.ErrStockConflict, err)
	}
	if err != nil {
		return fmt.Errorf("decrement stock of product %d: %w", productID, err)
	}
	return requireAffected(res, domain.ErrStockConflict)
}

func (t *txScope) CreateOrder(ctx context.Context, order *domain.Order) error {
	return t.store.createOrder(ctx, t.tx, order)
}

func (t *txScope) Enqueue(ctx context.Context, msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	return t.store.enqueue(ctx, t.tx, msg)
}

var _ domain.Tx = (*txScope)(nil)
