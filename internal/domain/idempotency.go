package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// IdempotencyStatus - стадия обработки запроса с Idempotency-Key.
type IdempotencyStatus string

const (
	IdempotencyStatusProcessing IdempotencyStatus = "processing"
	// IdempotencyStatusDone - заказ создан, ответ сохранён для повтора.
	IdempotencyStatusDone IdempotencyStatus = "done"
	// IdempotencyStatusFailed - запрос отклонён; повтор получит тот же ответ с ошибкой.
	IdempotencyStatusFailed IdempotencyStatus = "failed"
)

// DefaultIdempotencyTTL применяется, когда срок жизни ключа не задан.
const DefaultIdempotencyTTL = 24 * time.Hour

func (s IdempotencyStatus) Valid() bool {
	return s == IdempotencyStatusProcessing || s.finished()
}

func (s IdempotencyStatus) finished() bool {
	return s == IdempotencyStatusDone || s == IdempotencyStatusFailed
}

// IdempotencyRecord - состояние ключа: чей это запрос, до какого момента
// ключ занят и, после завершения, какой ответ повторять.
type IdempotencyRecord struct {
	Key          string
	RequestHash  string
	ResponseBody []byte
	HTTPStatus   int
	Status       IdempotencyStatus
	TTLAt        time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// NewProcessingRecord проверяет ключ и отпечаток запроса и собирает запись
// в статусе processing. Нулевой ttlAt означает now + DefaultIdempotencyTTL.
func NewProcessingRecord(key, requestHash string, ttlAt, now time.Time) (IdempotencyRecord, error) {
	key, err := NormalizeIdempotencyKey(key)
	if err != nil {
		return IdempotencyRecord{}, err
	}
	requestHash = strings.TrimSpace(requestHash)
	if requestHash == "" {
		return IdempotencyRecord{}, ErrIdempotencyRequestHashRequired
	}
	if ttlAt.IsZero() {
		ttlAt = now.Add(DefaultIdempotencyTTL)
	}
	return IdempotencyRecord{
		Key:         key,
		RequestHash: requestHash,
		Status:      IdempotencyStatusProcessing,
		TTLAt:       ttlAt.UTC(),
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// NormalizeIdempotencyKey обрезает пробелы; пустой ключ - ошибка.
func NormalizeIdempotencyKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", ErrIdempotencyKeyRequired
	}
	return key, nil
}

// ConflictWith объясняет, почему ключ нельзя занять запросом requestHash:
// тот же запрос уже обрабатывается или завершён, либо ключ взят чужим запросом.
func (r IdempotencyRecord) ConflictWith(requestHash string) error {
	if r.RequestHash != strings.TrimSpace(requestHash) {
		return ErrIdempotencyHashMismatch
	}
	return ErrIdempotencyKeyAlreadyExists
}

// Replayable - запрос завершён и есть что вернуть повторно.
func (r IdempotencyRecord) Replayable() bool {
	return r.Status.finished() && r.HTTPStatus > 0
}

// Expired сообщает, что TTL истёк к моменту now. Запись без TTL не истекает.
func (r IdempotencyRecord) Expired(now time.Time) bool {
	return !r.TTLAt.IsZero() && !now.Before(r.TTLAt)
}

// IdempotencyRequestHash - отпечаток запроса, sha256 от "method:path:body".
// Повтор с тем же ключом, но другим телом или адресом даёт другой отпечаток.
func IdempotencyRequestHash(method, path string, body []byte) string {
	sum := sha256.Sum256([]byte(method + ":" + path + ":" + string(body)))
	return hex.EncodeToString(sum[:])
}
