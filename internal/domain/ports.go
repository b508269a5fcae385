package domain

import (
	"context"
	"time"
)

// UserDirectory отвечает на вопрос, существует ли пользователь.
type UserDirectory interface {
	UserExists(ctx context.Context, userID int64) (bool, error)
}

// ProductReader читает товар каталога по идентификатору.
type ProductReader interface {
	// GetProduct возвращает товар или ErrProductNotFound.
	GetProduct(ctx context.Context, productID int64) (Product, error)
}

// PricingResolver отдаёт текущую цену за единицу товара.
type PricingResolver interface {
	UnitPrice(ctx context.Context, productID int64) (int64, error)
}

// InventoryStore читает и списывает складской остаток.
type InventoryStore interface {
	// Stock возвращает текущий остаток или ErrProductNotFound.
	Stock(ctx context.Context, productID int64) (int, error)
	// DecrementStock условно уменьшает остаток: только если stock >= quantity.
	// Если условие не выполнено, возвращает ErrStockConflict.
	DecrementStock(ctx context.Context, productID int64, quantity int) error
}

// OrderWriter сохраняет новый заказ вместе с позициями.
type OrderWriter interface {
	// CreateOrder проставляет OrderID, OrderItemID и OrderID позиций.
	CreateOrder(ctx context.Context, order *Order) error
}

// OrderReader отдаёт заказы для чтения.
type OrderReader interface {
	// GetOrder возвращает заказ с позициями или ErrOrderNotFound.
	GetOrder(ctx context.Context, orderID int64) (Order, error)
	// ListOrdersByUser возвращает заказы пользователя, новые первыми.
	ListOrdersByUser(ctx context.Context, query OrderQuery) ([]Order, error)
	// CountOrdersByUser возвращает общее число заказов пользователя.
	CountOrdersByUser(ctx context.Context, userID int64) (int, error)
}

// ProductRepository описывает хранилище каталога.
type ProductRepository interface {
	ProductReader
	ListProducts(ctx context.Context, query ProductQuery) ([]Product, error)
	CountProducts(ctx context.Context, query ProductQuery) (int, error)
	CreateProduct(ctx context.Context, req ProductRequest) (int64, error)
	// UpdateProduct возвращает ErrProductNotFound, если товара нет.
	UpdateProduct(ctx context.Context, productID int64, req ProductRequest) error
	// DeleteProduct идемпотентен: удаление отсутствующего товара не ошибка.
	DeleteProduct(ctx context.Context, productID int64) error
}

// OutboxWriter кладёт событие в outbox в рамках текущей транзакции.
type OutboxWriter interface {
	Enqueue(ctx context.Context, msg OutboxMessage) (OutboxMessage, error)
}

// Tx - единица работы. Все изменения, сделанные через Tx, применяются
// атомарно при коммите или не применяются вовсе.
type Tx interface {
	Users() UserDirectory
	Products() ProductReader
	Pricing() PricingResolver
	Inventory() InventoryStore
	Orders() OrderWriter
	Outbox() OutboxWriter
}

// Transactor открывает транзакцию, выполняет fn и коммитит её, если fn вернула nil.
// При любой ошибке или панике транзакция откатывается.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// OutboxPublisher публикует события из transactional outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(ctx context.Context, event OutboxMessage) error
}

// OutboxRepository обслуживает фоновую публикацию outbox.
type OutboxRepository interface {
	OutboxWriter
	PullPending(ctx context.Context, limit int) ([]OutboxMessage, error)
	Stats(ctx context.Context) (OutboxStats, error)
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string) error
}

// IdempotencyRepository хранит состояние обработки запросов по idempotency-key.
type IdempotencyRepository interface {
	CreateProcessing(ctx context.Context, key, requestHash string, ttlAt time.Time) (IdempotencyRecord, error)
	Get(ctx context.Context, key string) (IdempotencyRecord, error)
	MarkDone(ctx context.Context, key string, responseBody []byte, httpStatus int) error
	MarkFailed(ctx context.Context, key string, responseBody []byte, httpStatus int) error
	// Release освобождает ключ, пока он в статусе processing, чтобы повтор
	// с тем же ключом выполнился заново. Завершённые записи не трогает.
	Release(ctx context.Context, key string) error
	DeleteExpired(ctx context.Context, before time.Time, limit int) (int, error)
}

// OutboxMessage хранит данные для публикуемого события.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
	CreatedAt     time.Time
}

// OutboxStats описывает текущее состояние backlog transactional outbox.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}
