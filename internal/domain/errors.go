package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyCart - в запросе на создание заказа нет ни одной позиции.
	ErrEmptyCart = errors.New("empty cart")
	// ErrInvalidBuyItem - позиция корзины с некорректным productId или количеством.
	ErrInvalidBuyItem = errors.New("invalid buy item")
	// ErrUserNotFound - владелец заказа не найден.
	ErrUserNotFound = errors.New("user not found")
	// ErrProductNotFound - товар не найден в каталоге.
	ErrProductNotFound = errors.New("product not found")
	// ErrStockNotEnough - на момент проверки запрошено больше, чем есть на складе.
	ErrStockNotEnough = errors.New("stock not enough")
	// ErrStockConflict - условное списание не прошло: сток забрала конкурирующая транзакция.
	ErrStockConflict = errors.New("stock exhausted by concurrent order")
	// ErrAmountOverflow - сумма позиции или заказа не помещается в int64.
	ErrAmountOverflow = errors.New("order amount overflows")
	// ErrOrderNotFound возвращается, если заказ не найден в репозитории.
	ErrOrderNotFound = errors.New("order not found")
	// ErrInvalidProduct - некорректные данные товара в запросе каталога.
	ErrInvalidProduct = errors.New("invalid product")
	// ErrInvalidPage - некорректные limit/offset.
	ErrInvalidPage = errors.New("invalid pagination")
	// ErrInvalidRequest - некорректный путь или тело запроса.
	ErrInvalidRequest = errors.New("invalid request")

	// Ошибка отсутствия хотя бы одного товара в заказе.
	ErrItemsRequired = errors.New("order must contain at least one item")
	// Ошибка при некорректном количестве товара (<= 0).
	ErrItemQtyInvalid = errors.New("item quantity must be greater than zero")
	// Ошибка, если цена позиции не положительная.
	ErrItemPriceInvalid = errors.New("item unit price must be positive")
	// Ошибка несоответствия суммы позиции и qty * price.
	ErrItemAmountMismatch = errors.New("item amount does not match quantity * unit price")
	// Ошибка несоответствия суммы заказа и сумм позиций.
	ErrAmountMismatch = errors.New("order amount does not match items sum")
	// Ошибка отсутствующего владельца заказа.
	ErrUserRequired = errors.New("user_id is required")

	// ErrOutboxPublish - ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")

	// ErrIdempotencyKeyRequired - пустой idempotency key.
	ErrIdempotencyKeyRequired = errors.New("idempotency key is required")
	// ErrIdempotencyRequestHashRequired - пустой hash запроса.
	ErrIdempotencyRequestHashRequired = errors.New("idempotency request hash is required")
	// ErrIdempotencyKeyAlreadyExists - ключ уже использован тем же запросом.
	ErrIdempotencyKeyAlreadyExists = errors.New("idempotency key already exists")
	// ErrIdempotencyHashMismatch - ключ уже использован с другим телом запроса.
	ErrIdempotencyHashMismatch = errors.New("idempotency key reused with different request")
	// ErrIdempotencyKeyNotFound - записи по ключу нет.
	ErrIdempotencyKeyNotFound = errors.New("idempotency key not found")
)

// ErrorKind классифицирует ошибки для транспортного слоя.
type ErrorKind string

const (
	KindInvalidArgument ErrorKind = "invalid_argument"
	KindNotFound        ErrorKind = "not_found"
	KindConflict        ErrorKind = "conflict"
	KindInternal        ErrorKind = "internal"
)

// Error - ошибка с типом, понятным вызывающей стороне.
// Err хранит sentinel-причину, чтобы работал errors.Is.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind ErrorKind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: cause}
}

// InvalidArgument - ошибка клиента (HTTP 400).
func InvalidArgument(cause error, format string, args ...any) *Error {
	return newError(KindInvalidArgument, cause, format, args...)
}

// NotFound - запрошенная сущность отсутствует (HTTP 404).
func NotFound(cause error, format string, args ...any) *Error {
	return newError(KindNotFound, cause, format, args...)
}

// Conflict - повторяемая клиентская ошибка (HTTP 409).
func Conflict(cause error, format string, args ...any) *Error {
	return newError(KindConflict, cause, format, args...)
}

// Internal - сбой хранилища или инфраструктуры (HTTP 500).
func Internal(cause error, format string, args ...any) *Error {
	return newError(KindInternal, cause, format, args...)
}

// KindOf возвращает тип ошибки; ошибки без типа считаются внутренними.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var typed *Error
	if errors.As(err, &typed) {
		return typed.Kind
	}
	return KindInternal
}

// IsIdempotencyConflict проверяет, что ключ уже занят (тем же или другим запросом).
func IsIdempotencyConflict(err error) bool {
	return errors.Is(err, ErrIdempotencyKeyAlreadyExists) || errors.Is(err, ErrIdempotencyHashMismatch)
}
