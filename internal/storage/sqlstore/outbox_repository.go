package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/mall/internal/domain"
)

const (
	outboxStatusPending = "pending"
	outboxStatusSent    = "sent"
	outboxStatusFailed  = "failed"

	defaultOutboxPullLimit = 100
)

type outboxRepository struct {
	store *Store
}

// Outbox возвращает репозиторий outbox для фоновой публикации.
func (s *Store) Outbox() domain.OutboxRepository {
	return &outboxRepository{store: s}
}

// Enqueue сохраняет событие вне транзакции заказа.
func (r *outboxRepository) Enqueue(ctx context.Context, msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	return r.store.enqueue(ctx, r.store.db, msg)
}

func (s *Store) enqueue(ctx context.Context, q querier, msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	now := s.now()
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = now
	}
	msg.CreatedAt = msg.CreatedAt.UTC()

	_, err := s.exec(ctx, q, `
		INSERT INTO outbox_messages (id, aggregate_type, aggregate_id, event_type, payload, status, attempt_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, 0, ?, ?)
	`, msg.ID, msg.AggregateType, msg.AggregateID, msg.EventType, msg.Payload, outboxStatusPending, msg.CreatedAt, now)
	if err != nil {
		return domain.OutboxMessage{}, fmt.Errorf("insert outbox message: %w", err)
	}
	return msg, nil
}

// PullPending возвращает до limit pending-сообщений в порядке создания.
func (r *outboxRepository) PullPending(ctx context.Context, limit int) ([]domain.OutboxMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if limit <= 0 {
		limit = defaultOutboxPullLimit
	}

	rows, err := r.store.query(ctx, r.store.db, `
		SELECT id, aggregate_type, aggregate_id, event_type, payload, created_at
		FROM outbox_messages
		WHERE status = ?
		ORDER BY created_at, id
		LIMIT ?
	`, outboxStatusPending, limit)
	if err != nil {
		return nil, fmt.Errorf("pull pending outbox: %w", err)
	}
	defer rows.Close()

	messages := make([]domain.OutboxMessage, 0, limit)
	for rows.Next() {
		var msg domain.OutboxMessage
		if err := rows.Scan(&msg.ID, &msg.AggregateType, &msg.AggregateID, &msg.EventType, &msg.Payload, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan outbox message: %w", err)
		}
		msg.CreatedAt = msg.CreatedAt.UTC()
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outbox messages: %w", err)
	}
	return messages, nil
}

// Stats возвращает размер backlog и время самого старого pending-сообщения.
func (r *outboxRepository) Stats(ctx context.Context) (domain.OutboxStats, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var stats domain.OutboxStats
	if err := r.store.queryRow(ctx, r.store.db,
		`SELECT COUNT(*) FROM outbox_messages WHERE status = ?`, outboxStatusPending,
	).Scan(&stats.PendingCount); err != nil {
		return domain.OutboxStats{}, fmt.Errorf("count pending outbox: %w", err)
	}
	if stats.PendingCount == 0 {
		return stats, nil
	}

	var oldest time.Time
	err := r.store.queryRow(ctx, r.store.db, `
		SELECT created_at FROM outbox_messages
		WHERE status = ?
		ORDER BY created_at
		LIMIT 1
	`, outboxStatusPending).Scan(&oldest)
	if errors.Is(err, sql.ErrNoRows) {
		return stats, nil
	}
	if err != nil {
		return domain.OutboxStats{}, fmt.Errorf("oldest pending outbox: %w", err)
	}
	stats.OldestPendingAt = oldest.UTC()
	return stats, nil
}

// MarkSent обновляет статус события после успешной публикации.
func (r *outboxRepository) MarkSent(ctx context.Context, id string) error {
	return r.markStatus(ctx, id, outboxStatusSent)
}

// MarkFailed фиксирует окончательную ошибку публикации.
func (r *outboxRepository) MarkFailed(ctx context.Context, id string) error {
	return r.markStatus(ctx, id, outboxStatusFailed)
}

func (r *outboxRepository) markStatus(ctx context.Context, id, status string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.store.exec(ctx, r.store.db, `
		UPDATE outbox_messages
		SET status = ?, attempt_count = attempt_count + 1, updated_at = ?
		WHERE id = ?
	`, status, r.store.now(), id)
	if err != nil {
		return fmt.Errorf("update outbox status: %w", err)
	}
	return requireAffected(res, fmt.Errorf("outbox message %s: %w", id, domain.ErrOutboxPublish))
}

var _ domain.OutboxRepository = (*outboxRepository)(nil)
