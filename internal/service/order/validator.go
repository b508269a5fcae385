package order

import (
	"context"
	"errors"

	"github.com/vladislavdragonenkov/mall/internal/domain"
)

// Validator проверяет корзину против текущих остатков. Побочных эффектов нет.
type Validator struct {
	users     domain.UserDirectory
	inventory domain.InventoryStore
}

// NewValidator создаёт валидатор поверх читающих портов транзакции.
func NewValidator(users domain.UserDirectory, inventory domain.InventoryStore) *Validator {
	return &Validator{users: users, inventory: inventory}
}

// Validate останавливается на первой ошибке, позиции проверяются в порядке запроса.
// Количества повторяющихся позиций одного товара суммируются.
func (v *Validator) Validate(ctx context.Context, userID int64, items []domain.BuyItem) error {
	if len(items) == 0 {
		return domain.InvalidArgument(domain.ErrEmptyCart, "empty cart")
	}
	for idx, item := range items {
		if item.ProductID <= 0 {
			return domain.InvalidArgument(domain.ErrInvalidBuyItem, "buyItemList[%d]: productId must be positive", idx)
		}
		if item.Quantity <= 0 {
			return domain.InvalidArgument(domain.ErrInvalidBuyItem, "buyItemList[%d]: quantity must be positive", idx)
		}
	}

	exists, err := v.users.UserExists(ctx, userID)
	if err != nil {
		return domain.Internal(err, "check user %d", userID)
	}
	if !exists {
		return domain.InvalidArgument(domain.ErrUserNotFound, "user %d not found", userID)
	}

	requested := make(map[int64]int, len(items))
	for _, item := range items {
		stock, err := v.inventory.Stock(ctx, item.ProductID)
		if err != nil {
			if errors.Is(err, domain.ErrProductNotFound) {
				return domain.InvalidArgument(domain.ErrProductNotFound, "product %d not found", item.ProductID)
			}
			return domain.Internal(err, "read stock of product %d", item.ProductID)
		}

		requested[item.ProductID] += item.Quantity
		if need := requested[item.ProductID]; need > stock {
			return domain.InvalidArgument(domain.ErrStockNotEnough,
				"product %d: stock not enough, requested %d, available %d, short by %d",
				item.ProductID, need, stock, need-stock)
		}
	}

	return nil
}
