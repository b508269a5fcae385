package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/mall/internal/domain"
)

// IdempotencyRepository хранит ключи Idempotency-Key в памяти процесса.
// Используется в тестах и в режиме STORAGE_DRIVER=memory.
type IdempotencyRepository struct {
	mu      sync.Mutex
	records map[string]domain.IdempotencyRecord
	now     func() time.Time
}

var _ domain.IdempotencyRepository = (*IdempotencyRepository)(nil)

// NewIdempotencyRepository создаёт пустое хранилище на системных часах.
func NewIdempotencyRepository() *IdempotencyRepository {
	return NewIdempotencyRepositoryWithClock(nil)
}

// NewIdempotencyRepositoryWithClock позволяет подменить часы,
// по которым считаются created_at, updated_at и истечение TTL.
func NewIdempotencyRepositoryWithClock(now func() time.Time) *IdempotencyRepository {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &IdempotencyRepository{
		records: make(map[string]domain.IdempotencyRecord),
		now:     now,
	}
}

// CreateProcessing занимает ключ под новый запрос. Ключ с истёкшим TTL,
// который ещё не вычистил cleanup, считается свободным.
func (r *IdempotencyRepository) CreateProcessing(_ context.Context, key, requestHash string, ttlAt time.Time) (domain.IdempotencyRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, err := domain.NewProcessingRecord(key, requestHash, ttlAt, r.now())
	if err != nil {
		return domain.IdempotencyRecord{}, err
	}
	if current, taken := r.records[record.Key]; taken && !current.Expired(record.CreatedAt) {
		return copyRecord(current), current.ConflictWith(record.RequestHash)
	}
	r.records[record.Key] = record
	return copyRecord(record), nil
}

// Get возвращает запись по ключу, в том числе просроченную.
func (r *IdempotencyRepository) Get(_ context.Context, key string) (domain.IdempotencyRecord, error) {
	key, err := domain.NormalizeIdempotencyKey(key)
	if err != nil {
		return domain.IdempotencyRecord{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.records[key]
	if !ok {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyNotFound
	}
	return copyRecord(record), nil
}

// MarkDone сохраняет успешный ответ.
func (r *IdempotencyRepository) MarkDone(_ context.Context, key string, responseBody []byte, httpStatus int) error {
	return r.finish(key, domain.IdempotencyStatusDone, responseBody, httpStatus)
}

// MarkFailed сохраняет ответ с ошибкой.
func (r *IdempotencyRepository) MarkFailed(_ context.Context, key string, responseBody []byte, httpStatus int) error {
	return r.finish(key, domain.IdempotencyStatusFailed, responseBody, httpStatus)
}

// Release удаляет ключ в статусе processing.
func (r *IdempotencyRepository) Release(_ context.Context, key string) error {
	key, err := domain.NormalizeIdempotencyKey(key)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.records[key]
	if !ok || record.Status != domain.IdempotencyStatusProcessing {
		return domain.ErrIdempotencyKeyNotFound
	}
	delete(r.records, key)
	return nil
}

// DeleteExpired удаляет до limit записей с ttl_at <= before, начиная с самых
// старых. limit <= 0 снимает ограничение.
func (r *IdempotencyRepository) DeleteExpired(_ context.Context, before time.Time, limit int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if before.IsZero() {
		before = r.now()
	}

	expired := make([]domain.IdempotencyRecord, 0)
	for _, record := range r.records {
		if record.Expired(before) {
			expired = append(expired, record)
		}
	}
	sort.Slice(expired, func(i, j int) bool {
		if expired[i].TTLAt.Equal(expired[j].TTLAt) {
			return expired[i].Key < expired[j].Key
		}
		return expired[i].TTLAt.Before(expired[j].TTLAt)
	})
	if limit > 0 && len(expired) > limit {
		expired = expired[:limit]
	}

	for _, record := range expired {
		delete(r.records, record.Key)
	}
	return len(expired), nil
}

// Len возвращает число хранимых ключей вместе с просроченными.
func (r *IdempotencyRepository) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

func (r *IdempotencyRepository) finish(key string, status domain.IdempotencyStatus, responseBody []byte, httpStatus int) error {
	key, err := domain.NormalizeIdempotencyKey(key)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.records[key]
	if !ok {
		return domain.ErrIdempotencyKeyNotFound
	}
	record.Status = status
	record.HTTPStatus = httpStatus
	record.ResponseBody = append([]byte(nil), responseBody...)
	record.UpdatedAt = r.now()
	r.records[key] = record
	return nil
}

// copyRecord не даёт вызывающему коду менять тело ответа внутри хранилища.
func copyRecord(record domain.IdempotencyRecord) domain.IdempotencyRecord {
	if record.ResponseBody != nil {
		record.ResponseBody = append([]byte(nil), record.ResponseBody...)
	}
	return record
}
