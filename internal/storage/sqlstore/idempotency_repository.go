package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/mall/internal/domain"
)

const idempotencyColumns = `key, request_hash, response_body, http_status, status, ttl_at, created_at, updated_at`

type idempotencyRepository struct {
	store *Store
}

var _ domain.IdempotencyRepository = (*idempotencyRepository)(nil)

// Idempotency возвращает SQL-реализацию IdempotencyRepository.
func (s *Store) Idempotency() domain.IdempotencyRepository {
	return &idempotencyRepository{store: s}
}

// CreateProcessing занимает ключ. Просроченная запись с тем же ключом
// удаляется в той же транзакции, поэтому два запроса не могут занять
// освободившийся ключ одновременно: второй получит конфликт.
func (r *idempotencyRepository) CreateProcessing(ctx context.Context, key, requestHash string, ttlAt time.Time) (domain.IdempotencyRecord, error) {
	now := r.store.now()
	record, err := domain.NewProcessingRecord(key, requestHash, ttlAt, now)
	if err != nil {
		return domain.IdempotencyRecord{}, err
	}
	key = record.Key

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	err = r.store.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := r.store.exec(ctx, tx,
			`DELETE FROM idempotency_keys WHERE key = ? AND ttl_at <= ?`, key, now); err != nil {
			return fmt.Errorf("release expired key: %w", err)
		}
		_, err := r.store.exec(ctx, tx,
			`INSERT INTO idempotency_keys (`+idempotencyColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			record.Key, record.RequestHash, nil, nil, string(record.Status), record.TTLAt, now, now)
		return err
	})
	switch {
	case err == nil:
		return record, nil
	case r.store.dialect.uniqueViolation(err):
		return r.conflict(ctx, key, record.RequestHash)
	default:
		return domain.IdempotencyRecord{}, fmt.Errorf("create idempotency record: %w", err)
	}
}

// conflict описывает уже занятый ключ: тот же запрос или чужой.
func (r *idempotencyRepository) conflict(ctx context.Context, key, requestHash string) (domain.IdempotencyRecord, error) {
	current, err := r.Get(ctx, key)
	if err != nil {
		// Запись успели удалить между вставкой и чтением: для клиента это
		// тот же конфликт, повтор запроса займёт ключ.
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyAlreadyExists
	}
	return current, current.ConflictWith(requestHash)
}

func (r *idempotencyRepository) Get(ctx context.Context, key string) (domain.IdempotencyRecord, error) {
	key, err := domain.NormalizeIdempotencyKey(key)
	if err != nil {
		return domain.IdempotencyRecord{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	row := r.store.queryRow(ctx, r.store.db,
		`SELECT `+idempotencyColumns+` FROM idempotency_keys WHERE key = ?`, key)
	record, err := scanIdempotencyRecord(row)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyNotFound
	case err != nil:
		return domain.IdempotencyRecord{}, fmt.Errorf("get idempotency record %s: %w", key, err)
	}
	return record, nil
}

func scanIdempotencyRecord(row *sql.Row) (domain.IdempotencyRecord, error) {
	var (
		record     domain.IdempotencyRecord
		status     string
		body       []byte
		httpStatus sql.NullInt64
	)
	if err := row.Scan(&record.Key, &record.RequestHash, &body, &httpStatus, &status,
		&record.TTLAt, &record.CreatedAt, &record.UpdatedAt); err != nil {
		return domain.IdempotencyRecord{}, err
	}

	record.Status = domain.IdempotencyStatus(status)
	if !record.Status.Valid() {
		return domain.IdempotencyRecord{}, fmt.Errorf("invalid status %q", status)
	}
	if len(body) > 0 {
		record.ResponseBody = append([]byte(nil), body...)
	}
	record.HTTPStatus = int(httpStatus.Int64)
	record.TTLAt = record.TTLAt.UTC()
	record.CreatedAt = record.CreatedAt.UTC()
	record.UpdatedAt = record.UpdatedAt.UTC()
	return record, nil
}

func (r *idempotencyRepository) MarkDone(ctx context.Context, key string, responseBody []byte, httpStatus int) error {
	return r.finish(ctx, key, domain.IdempotencyStatusDone, responseBody, httpStatus)
}

func (r *idempotencyRepository) MarkFailed(ctx context.Context, key string, responseBody []byte, httpStatus int) error {
	return r.finish(ctx, key, domain.IdempotencyStatusFailed, responseBody, httpStatus)
}

func (r *idempotencyRepository) finish(ctx context.Context, key string, status domain.IdempotencyStatus, responseBody []byte, httpStatus int) error {
	key, err := domain.NormalizeIdempotencyKey(key)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.store.exec(ctx, r.store.db,
		`UPDATE idempotency_keys SET response_body = ?, http_status = ?, status = ?, updated_at = ? WHERE key = ?`,
		responseBody, httpStatus, string(status), r.store.now(), key)
	if err != nil {
		return fmt.Errorf("mark idempotency key %s %s: %w", key, status, err)
	}
	return requireAffected(res, domain.ErrIdempotencyKeyNotFound)
}

// Release удаляет ключ, только пока он в статусе processing.
func (r *idempotencyRepository) Release(ctx context.Context, key string) error {
	key, err := domain.NormalizeIdempotencyKey(key)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.store.exec(ctx, r.store.db,
		`DELETE FROM idempotency_keys WHERE key = ? AND status = ?`,
		key, string(domain.IdempotencyStatusProcessing))
	if err != nil {
		return fmt.Errorf("release idempotency key %s: %w", key, err)
	}
	return requireAffected(res, domain.ErrIdempotencyKeyNotFound)
}

// DeleteExpired удаляет записи с ttl_at <= before, самые старые первыми.
// limit <= 0 снимает ограничение, нулевой before означает "сейчас".
func (r *idempotencyRepository) DeleteExpired(ctx context.Context, before time.Time, limit int) (int, error) {
	if before.IsZero() {
		before = r.store.now()
	}
	before = before.UTC()

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	query, args := `DELETE FROM idempotency_keys WHERE ttl_at <= ?`, []any{before}
	if limit > 0 {
		query = `DELETE FROM idempotency_keys WHERE key IN (
			SELECT key FROM idempotency_keys WHERE ttl_at <= ? ORDER BY ttl_at, key LIMIT ?)`
		args = append(args, limit)
	}

	res, err := r.store.exec(ctx, r.store.db, query, args...)
	if err != nil {
		return 0, fmt.Errorf("delete expired idempotency records: %w", err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("idempotency rows affected: %w", err)
	}
	return int(deleted), nil
}
