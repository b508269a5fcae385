// Package redisstore хранит ключи идемпотентности в Redis.
// Истечение TTL обслуживает сам Redis, поэтому фоновая очистка не нужна.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vladislavdragonenkov/mall/internal/domain"
)

const defaultKeyPrefix = "mall:idempotency:"

type idempotencyRepository struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

type storedRecord struct {
	Key          string                   `json:"key"`
	RequestHash  string                   `json:"request_hash"`
	ResponseBody []byte                   `json:"response_body,omitempty"`
	HTTPStatus   int                      `json:"http_status,omitempty"`
	Status       domain.IdempotencyStatus `json:"status"`
	TTLAt        time.Time                `json:"ttl_at"`
	CreatedAt    time.Time                `json:"created_at"`
	UpdatedAt    time.Time                `json:"updated_at"`
}

// NewIdempotencyRepository создаёт Redis-реализацию IdempotencyRepository.
// Пустой prefix заменяется на "mall:idempotency:".
func NewIdempotencyRepository(client redis.UniversalClient, prefix string) domain.IdempotencyRepository {
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &idempotencyRepository{
		client: client,
		prefix: prefix,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (r *idempotencyRepository) CreateProcessing(ctx context.Context, key, requestHash string, ttlAt time.Time) (domain.IdempotencyRecord, error) {
	now := r.now()
	record, err := domain.NewProcessingRecord(key, requestHash, ttlAt, now)
	if err != nil {
		return domain.IdempotencyRecord{}, err
	}

	ttl := record.TTLAt.Sub(now)
	if ttl <= 0 {
		// Ключ уже истёк: Redis его бы сразу удалил, хранить нечего.
		return record, nil
	}

	data, err := json.Marshal(toStored(record))
	if err != nil {
		return domain.IdempotencyRecord{}, fmt.Errorf("marshal idempotency record: %w", err)
	}

	created, err := r.client.SetNX(ctx, r.redisKey(record.Key), data, ttl).Result()
	if err != nil {
		return domain.IdempotencyRecord{}, fmt.Errorf("redis setnx failed: %w", err)
	}
	if created {
		return record, nil
	}

	existing, err := r.Get(ctx, record.Key)
	if err != nil {
		// Ключ истёк между SETNX и GET.
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyAlreadyExists
	}
	return existing, existing.ConflictWith(record.RequestHash)
}

func (r *idempotencyRepository) Get(ctx context.Context, key string) (domain.IdempotencyRecord, error) {
	key, err := domain.NormalizeIdempotencyKey(key)
	if err != nil {
		return domain.IdempotencyRecord{}, err
	}

	data, err := r.client.Get(ctx, r.redisKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyNotFound
	}
	if err != nil {
		return domain.IdempotencyRecord{}, fmt.Errorf("redis get failed: %w", err)
	}

	var stored storedRecord
	if err := json.Unmarshal(data, &stored); err != nil {
		return domain.IdempotencyRecord{}, fmt.Errorf("unmarshal idempotency record: %w", err)
	}
	if !stored.Status.Valid() {
		return domain.IdempotencyRecord{}, fmt.Errorf("invalid idempotency status %q for key %s", stored.Status, key)
	}
	return stored.toDomain(), nil
}

func (r *idempotencyRepository) MarkDone(ctx context.Context, key string, responseBody []byte, httpStatus int) error {
	return r.markStatus(ctx, key, domain.IdempotencyStatusDone, responseBody, httpStatus)
}

func (r *idempotencyRepository) MarkFailed(ctx context.Context, key string, responseBody []byte, httpStatus int) error {
	return r.markStatus(ctx, key, domain.IdempotencyStatusFailed, responseBody, httpStatus)
}

// Release удаляет ключ в статусе processing. Проверка и DEL идут под WATCH:
// если ключ успели завершить, транзакция не применится.
func (r *idempotencyRepository) Release(ctx context.Context, key string) error {
	key, err := domain.NormalizeIdempotencyKey(key)
	if err != nil {
		return err
	}

	redisKey := r.redisKey(key)
	return r.client.Watch(ctx, func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, redisKey).Bytes()
		if errors.Is(err, redis.Nil) {
			return domain.ErrIdempotencyKeyNotFound
		}
		if err != nil {
			return fmt.Errorf("redis get failed: %w", err)
		}

		var stored storedRecord
		if err := json.Unmarshal(data, &stored); err != nil {
			return fmt.Errorf("unmarshal idempotency record: %w", err)
		}
		if stored.Status != domain.IdempotencyStatusProcessing {
			return domain.ErrIdempotencyKeyNotFound
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, redisKey)
			return nil
		})
		if errors.Is(err, redis.TxFailedErr) {
			return domain.ErrIdempotencyKeyNotFound
		}
		return err
	}, redisKey)
}

// DeleteExpired ничего не делает: просроченные ключи Redis удаляет сам.
func (r *idempotencyRepository) DeleteExpired(context.Context, time.Time, int) (int, error) {
	return 0, nil
}

func (r *idempotencyRepository) markStatus(ctx context.Context, key string, status domain.IdempotencyStatus, responseBody []byte, httpStatus int) error {
	record, err := r.Get(ctx, key)
	if err != nil {
		return err
	}

	record.Status = status
	record.ResponseBody = append([]byte(nil), responseBody...)
	record.HTTPStatus = httpStatus
	record.UpdatedAt = r.now()

	data, err := json.Marshal(toStored(record))
	if err != nil {
		return fmt.Errorf("marshal idempotency record: %w", err)
	}

	// XX + KEEPTTL: обновляем только существующий ключ и не продлеваем его жизнь.
	err = r.client.SetArgs(ctx, r.redisKey(record.Key), data, redis.SetArgs{Mode: "XX", KeepTTL: true}).Err()
	if errors.Is(err, redis.Nil) {
		return domain.ErrIdempotencyKeyNotFound
	}
	if err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

func (r *idempotencyRepository) redisKey(key string) string {
	return r.prefix + key
}

func toStored(record domain.IdempotencyRecord) storedRecord {
	return storedRecord{
		Key:          record.Key,
		RequestHash:  record.RequestHash,
		ResponseBody: record.ResponseBody,
		HTTPStatus:   record.HTTPStatus,
		Status:       record.Status,
		TTLAt:        record.TTLAt,
		CreatedAt:    record.CreatedAt,
		UpdatedAt:    record.UpdatedAt,
	}
}

func (s storedRecord) toDomain() domain.IdempotencyRecord {
	return domain.IdempotencyRecord{
		Key:          s.Key,
		RequestHash:  s.RequestHash,
		ResponseBody: append([]byte(nil), s.ResponseBody...),
		HTTPStatus:   s.HTTPStatus,
		Status:       s.Status,
		TTLAt:        s.TTLAt.UTC(),
		CreatedAt:    s.CreatedAt.UTC(),
		UpdatedAt:    s.UpdatedAt.UTC(),
	}
}

var _ domain.IdempotencyRepository = (*idempotencyRepository)(nil)
