package order

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/vladislavdragonenkov/mall/internal/domain"
)

// Assembler строит агрегат заказа из уже проверенной корзины.
// Остатки здесь не перепроверяются: это делает условное списание в транзакции.
type Assembler struct {
	pricing domain.PricingResolver
	now     func() time.Time
}

// NewAssembler создаёт сборщик заказа. now может быть nil.
func NewAssembler(pricing domain.PricingResolver, now func() time.Time) *Assembler {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Assembler{pricing: pricing, now: now}
}

// Assemble фиксирует цену за единицу на момент оформления и считает суммы в int64.
func (a *Assembler) Assemble(ctx context.Context, userID int64, items []domain.BuyItem) (domain.Order, error) {
	now := a.now()
	order := domain.Order{
		UserID:           userID,
		Items:            make([]domain.OrderItem, 0, len(items)),
		CreatedDate:      now,
		LastModifiedDate: now,
	}

	for _, item := range items {
		price, err := a.pricing.UnitPrice(ctx, item.ProductID)
		if err != nil {
			if errors.Is(err, domain.ErrProductNotFound) {
				return domain.Order{}, domain.InvalidArgument(domain.ErrProductNotFound, "product %d not found", item.ProductID)
			}
			return domain.Order{}, domain.Internal(err, "resolve price of product %d", item.ProductID)
		}

		amount, ok := domain.LineAmount(item.Quantity, price)
		if !ok {
			return domain.Order{}, domain.InvalidArgument(domain.ErrAmountOverflow,
				"product %d: amount of %d x %d overflows", item.ProductID, item.Quantity, price)
		}
		if order.TotalAmount > math.MaxInt64-amount {
			return domain.Order{}, domain.InvalidArgument(domain.ErrAmountOverflow, "order total overflows")
		}

		order.TotalAmount += amount
		order.Items = append(order.Items, domain.OrderItem{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitPrice: price,
			Amount:    amount,
		})
	}

	return order, nil
}
