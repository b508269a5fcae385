package domain

import (
	"math"
	"time"
)

// BuyItem - строка корзины из запроса на создание заказа.
type BuyItem struct {
	ProductID int64
	Quantity  int
}

// OrderItem представляет одну позицию заказа.
type OrderItem struct {
	OrderItemID int64
	OrderID     int64
	ProductID   int64
	// Quantity - количество единиц товара.
	Quantity int
	// UnitPrice - цена за единицу на момент оформления, дальше не меняется.
	UnitPrice int64
	// Amount = Quantity * UnitPrice.
	Amount int64

	// ProductName и ImageURL подтягиваются из каталога при чтении.
	ProductName string
	ImageURL    string
}

// Order агрегирует заказ и его позиции в порядке корзины.
type Order struct {
	OrderID          int64
	UserID           int64
	TotalAmount      int64
	Items            []OrderItem
	CreatedDate      time.Time
	LastModifiedDate time.Time
}

// OrderQuery задаёт выборку заказов пользователя.
type OrderQuery struct {
	UserID int64
	Limit  int
	Offset int
}

// LineAmount считает qty * price с проверкой переполнения.
func LineAmount(quantity int, unitPrice int64) (int64, bool) {
	if quantity < 0 || unitPrice < 0 {
		return 0, false
	}
	if quantity == 0 || unitPrice == 0 {
		return 0, true
	}
	if unitPrice > math.MaxInt64/int64(quantity) {
		return 0, false
	}
	return int64(quantity) * unitPrice, true
}

// ValidateInvariants проверяет базовые инварианты заказа и возвращает список замечаний.
func (o *Order) ValidateInvariants() []error {
	var errs []error

	if o.UserID <= 0 {
		errs = append(errs, ErrUserRequired)
	}
	if len(o.Items) == 0 {
		errs = append(errs, ErrItemsRequired)
	}

	// Сверяем сумму заказа с суммой позиций: qty * price.
	var calc int64
	for _, item := range o.Items {
		if item.Quantity <= 0 {
			errs = append(errs, ErrItemQtyInvalid)
		}
		if item.UnitPrice <= 0 {
			errs = append(errs, ErrItemPriceInvalid)
		}
		if amount, ok := LineAmount(item.Quantity, item.UnitPrice); !ok || amount != item.Amount {
			errs = append(errs, ErrItemAmountMismatch)
		}
		calc += item.Amount
	}
	if calc != o.TotalAmount {
		errs = append(errs, ErrAmountMismatch)
	}

	return errs
}
