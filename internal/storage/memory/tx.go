package memory

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/mall/internal/domain"
)

// WithinTx выполняет fn в оптимистичной транзакции.
//
// Чтения идут по закоммиченному состоянию, записи копятся в буфере.
// На коммите под эксклюзивной блокировкой каждое списание проверяется
// заново (stock >= накопленное списание); если хоть одно не проходит,
// не применяется ничего и возвращается ErrStockConflict.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx domain.Tx) error) error {
	uow := &unitOfWork{
		store:      s,
		decrements: make(map[int64]int),
	}
	if err := fn(ctx, uow); err != nil {
		return err
	}
	return uow.commit()
}

type unitOfWork struct {
	store      *Store
	decrements map[int64]int
	orders     []domain.Order
	outbox     []domain.OutboxMessage
}

func (u *unitOfWork) Users() domain.UserDirectory      { return u.store }
func (u *unitOfWork) Products() domain.ProductReader   { return u.store }
func (u *unitOfWork) Pricing() domain.PricingResolver  { return u }
func (u *unitOfWork) Inventory() domain.InventoryStore { return u }
func (u *unitOfWork) Orders() domain.OrderWriter       { return u }
func (u *unitOfWork) Outbox() domain.OutboxWriter      { return u }

func (u *unitOfWork) UnitPrice(ctx context.Context, productID int64) (int64, error) {
	product, err := u.store.GetProduct(ctx, productID)
	if err != nil {
		return 0, err
	}
	return product.Price, nil
}

// Stock учитывает списания, уже сделанные в этой транзакции.
func (u *unitOfWork) Stock(ctx context.Context, productID int64) (int, error) {
	product, err := u.store.GetProduct(ctx, productID)
	if err != nil {
		return 0, err
	}
	return product.Stock - u.decrements[productID], nil
}

func (u *unitOfWork) DecrementStock(ctx context.Context, productID int64, quantity int) error {
	stock, err := u.Stock(ctx, productID)
	if err != nil {
		return err
	}
	if stock < quantity {
		return domain.ErrStockConflict
	}
	u.decrements[productID] += quantity
	return nil
}

func (u *unitOfWork) CreateOrder(_ context.Context, order *domain.Order) error {
	order.OrderID = u.store.nextOrderID.Add(1)
	items := make([]domain.OrderItem, len(order.Items))
	for i, item := range order.Items {
		item.OrderItemID = u.store.nextItemID.Add(1)
		item.OrderID = order.OrderID
		items[i] = item
		order.Items[i] = item
	}

	saved := *order
	saved.Items = items
	u.orders = append(u.orders, saved)
	return nil
}

func (u *unitOfWork) Enqueue(_ context.Context, msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	u.outbox = append(u.outbox, msg)
	return msg, nil
}

func (u *unitOfWork) commit() error {
	s := u.store
	s.mu.Lock()
	defer s.mu.Unlock()

	for productID, quantity := range u.decrements {
		product, ok := s.products[productID]
		if !ok || product.Stock < quantity {
			return domain.ErrStockConflict
		}
	}

	now := s.now()
	for productID, quantity := range u.decrements {
		product := s.products[productID]
		product.Stock -= quantity
		product.LastModifiedDate = now
		s.products[productID] = product
	}
	for _, order := range u.orders {
		s.orders[order.OrderID] = order
	}
	for _, msg := range u.outbox {
		s.outbox[msg.ID] = &outboxRecord{
			msg:       msg,
			status:    outboxStatusPending,
			createdAt: msg.CreatedAt,
			updatedAt: msg.CreatedAt,
		}
	}
	return nil
}

var _ domain.Transactor = (*Store)(nil)
