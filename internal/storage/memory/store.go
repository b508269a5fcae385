package memory

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vladislavdragonenkov/mall/internal/domain"
)

// Store - in-memory хранилище каталога, пользователей, заказов и outbox
// для локальной разработки и тестов. Все изменения при оформлении заказа
// проходят через WithinTx и применяются атомично под одной блокировкой.
type Store struct {
	mu       sync.RWMutex
	products map[int64]domain.Product
	users    map[int64]domain.User
	orders   map[int64]domain.Order
	outbox   map[string]*outboxRecord

	nextProductID int64
	nextUserID    int64
	// Идентификаторы заказов и позиций выдаются до коммита,
	// поэтому откаченные транзакции оставляют пропуски.
	nextOrderID atomic.Int64
	nextItemID  atomic.Int64

	now func() time.Time
}

// NewStore создаёт пустое хранилище.
func NewStore() *Store {
	return &Store{
		products: make(map[int64]domain.Product),
		users:    make(map[int64]domain.User),
		orders:   make(map[int64]domain.Order),
		outbox:   make(map[string]*outboxRecord),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Ping всегда успешен; нужен для health-checker.
func (s *Store) Ping(context.Context) error {
	return nil
}

// Close ничего не освобождает.
func (s *Store) Close() error {
	return nil
}

// CreateUser регистрирует пользователя и возвращает его идентификатор.
func (s *Store) CreateUser(_ context.Context, email string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextUserID++
	now := s.now()
	s.users[s.nextUserID] = domain.User{
		UserID:           s.nextUserID,
		Email:            email,
		CreatedDate:      now,
		LastModifiedDate: now,
	}
	return s.nextUserID, nil
}

// UserExists реализует domain.UserDirectory.
func (s *Store) UserExists(_ context.Context, userID int64) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.users[userID]
	return ok, nil
}

var _ domain.UserDirectory = (*Store)(nil)
