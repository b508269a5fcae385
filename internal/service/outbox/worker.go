// Package outbox доставляет события заказов из transactional outbox во внешний брокер.
package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/mall/internal/domain"
	"github.com/vladislavdragonenkov/mall/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/mall/internal/metrics"
)

const (
	defaultPollInterval   = time.Second
	defaultBatchSize      = 100
	defaultMaxAttempts    = 3
	defaultRetryBaseDelay = 50 * time.Millisecond
	// maxRetryDelay ограничивает рост паузы между попытками внутри одного цикла.
	maxRetryDelay = 5 * time.Second
)

// Результаты попыток для метрики mall_outbox_publish_attempts_total.
const (
	resultSent       = "sent"
	resultRetryError = "retry_error"
	resultFailed     = "failed"
	resultDLQ        = "dead_lettered"
	resultDLQFailed  = "dlq_failed"
)

// WorkerOptions задаёт параметры outbox worker.
type WorkerOptions struct {
	Logger         *log.Entry
	Metrics        *metrics.OutboxMetrics
	DLQPublisher   domain.OutboxPublisher
	PollInterval   time.Duration
	BatchSize      int
	MaxAttempts    int
	RetryBaseDelay time.Duration
	Now            func() time.Time
}

// Option настраивает Worker.
type Option func(*WorkerOptions)

// WithLogger задаёт logger для воркера.
func WithLogger(logger *log.Entry) Option {
	return func(opts *WorkerOptions) {
		opts.Logger = logger
	}
}

// WithMetrics задаёт метрики публикации.
func WithMetrics(m *metrics.OutboxMetrics) Option {
	return func(opts *WorkerOptions) {
		opts.Metrics = m
	}
}

// WithDLQPublisher включает отправку в DLQ событий, для которых кончились попытки.
func WithDLQPublisher(publisher domain.OutboxPublisher) Option {
	return func(opts *WorkerOptions) {
		opts.DLQPublisher = publisher
	}
}

// WithPollInterval задаёт паузу между циклами опроса.
func WithPollInterval(interval time.Duration) Option {
	return func(opts *WorkerOptions) {
		opts.PollInterval = interval
	}
}

// WithBatchSize задаёт, сколько событий забирается за один цикл.
func WithBatchSize(batchSize int) Option {
	return func(opts *WorkerOptions) {
		opts.BatchSize = batchSize
	}
}

// WithMaxAttempts задаёт число попыток публикации одного события.
func WithMaxAttempts(maxAttempts int) Option {
	return func(opts *WorkerOptions) {
		opts.MaxAttempts = maxAttempts
	}
}

// WithRetryBaseDelay задаёт первую паузу; дальше она удваивается.
func WithRetryBaseDelay(delay time.Duration) Option {
	return func(opts *WorkerOptions) {
		opts.RetryBaseDelay = delay
	}
}

// WithClock подменяет время для отметки dlq_published_at.
func WithClock(now func() time.Time) Option {
	return func(opts *WorkerOptions) {
		opts.Now = now
	}
}

// BatchSummary - итог одного цикла ProcessOnce.
type BatchSummary struct {
	Pulled       int
	Sent         int
	Failed       int
	DeadLettered int
	// Interrupted выставляется, если цикл прервали отменой ctx;
	// необработанные события остаются pending.
	Interrupted bool
}

// retryPolicy описывает экспоненциальные повторы публикации.
type retryPolicy struct {
	attempts  int
	baseDelay time.Duration
}

// delayAfter возвращает паузу после неудачной попытки с номером attempt (с 1).
func (p retryPolicy) delayAfter(attempt int) time.Duration {
	if p.baseDelay <= 0 {
		return 0
	}
	delay := p.baseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maxRetryDelay {
			return maxRetryDelay
		}
	}
	if delay > maxRetryDelay {
		return maxRetryDelay
	}
	return delay
}

// Worker забирает pending-события из outbox и публикует их.
// Событие помечается sent после успешной публикации и failed после
// исчерпания попыток; в последнем случае копия уходит в DLQ.
type Worker struct {
	repo      domain.OutboxRepository
	publisher domain.OutboxPublisher
	dlq       domain.OutboxPublisher
	logger    *log.Entry
	metrics   *metrics.OutboxMetrics
	interval  time.Duration
	batchSize int
	retry     retryPolicy
	now       func() time.Time
}

// NewWorker создаёт outbox worker. Некорректные значения опций
// заменяются значениями по умолчанию.
func NewWorker(repo domain.OutboxRepository, publisher domain.OutboxPublisher, options ...Option) *Worker {
	var opts WorkerOptions
	for _, option := range options {
		option(&opts)
	}

	if opts.Logger == nil {
		opts.Logger = log.WithField("component", "outbox-worker")
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewOutboxMetrics()
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaultMaxAttempts
	}
	if opts.RetryBaseDelay < 0 {
		opts.RetryBaseDelay = 0
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}

	return &Worker{
		repo:      repo,
		publisher: publisher,
		dlq:       opts.DLQPublisher,
		logger:    opts.Logger,
		metrics:   opts.Metrics,
		interval:  opts.PollInterval,
		batchSize: opts.BatchSize,
		retry:     retryPolicy{attempts: opts.MaxAttempts, baseDelay: opts.RetryBaseDelay},
		now:       opts.Now,
	}
}

// Run опрашивает outbox до отмены ctx. Первый цикл выполняется сразу.
func (w *Worker) Run(ctx context.Context) {
	if w.repo == nil || w.publisher == nil {
		w.logger.Warn("outbox worker is disabled: repository or publisher is not configured")
		return
	}

	w.logger.WithFields(log.Fields{
		"poll_interval": w.interval,
		"batch_size":    w.batchSize,
		"max_attempts":  w.retry.attempts,
		"dlq_enabled":   w.dlq != nil,
	}).Info("outbox worker started")
	defer w.logger.Info("outbox worker stopped")

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		w.ProcessOnce(ctx)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// ProcessOnce выполняет один цикл: забирает до batchSize событий
// в порядке создания и пытается опубликовать каждое.
func (w *Worker) ProcessOnce(ctx context.Context) BatchSummary {
	var summary BatchSummary
	if ctx.Err() != nil {
		summary.Interrupted = true
		return summary
	}

	events, err := w.repo.PullPending(ctx, w.batchSize)
	if err != nil {
		w.logger.WithError(err).Warn("failed to pull pending outbox events")
		return summary
	}
	summary.Pulled = len(events)

	for _, event := range events {
		if ctx.Err() != nil {
			summary.Interrupted = true
			break
		}

		entry := w.eventLogger(event)
		publishErr := w.publishWithRetry(ctx, event)
		switch {
		case publishErr == nil:
			summary.Sent++
			if err := w.repo.MarkSent(ctx, event.ID); err != nil {
				entry.WithError(err).Warn("event published but not marked as sent, it will be published again")
			}
		case ctx.Err() != nil:
			summary.Interrupted = true
		default:
			summary.Failed++
			w.metrics.RecordAttempt(resultFailed)
			entry.WithError(publishErr).Error("outbox event is undeliverable")

			if w.deadLetter(ctx, entry, event, publishErr) {
				summary.DeadLettered++
			}
			if err := w.repo.MarkFailed(ctx, event.ID); err != nil {
				entry.WithError(err).Warn("failed to mark outbox event as failed")
			}
		}
		if summary.Interrupted {
			break
		}
	}

	w.refreshBacklog(ctx)
	if summary.Pulled > 0 {
		w.logger.WithFields(log.Fields{
			"pulled":        summary.Pulled,
			"sent":          summary.Sent,
			"failed":        summary.Failed,
			"dead_lettered": summary.DeadLettered,
		}).Debug("outbox batch processed")
	}
	return summary
}

func (w *Worker) publishWithRetry(ctx context.Context, event domain.OutboxMessage) error {
	var lastErr error
	for attempt := 1; attempt <= w.retry.attempts; attempt++ {
		lastErr = w.publisher.Publish(ctx, event)
		if lastErr == nil {
			w.metrics.RecordAttempt(resultSent)
			return nil
		}
		w.metrics.RecordAttempt(resultRetryError)

		if attempt == w.retry.attempts {
			break
		}
		if delay := w.retry.delayAfter(attempt); delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
	}
	return fmt.Errorf("%w: %d attempts: %v", domain.ErrOutboxPublish, w.retry.attempts, lastErr)
}

// deadLetter отправляет событие в DLQ и сообщает, получилось ли.
func (w *Worker) deadLetter(ctx context.Context, entry *log.Entry, event domain.OutboxMessage, publishErr error) bool {
	if w.dlq == nil {
		return false
	}

	msg, err := dlqMessage(event, publishErr, w.now())
	if err == nil {
		err = w.dlq.Publish(ctx, msg)
	}
	if err != nil {
		w.metrics.RecordAttempt(resultDLQFailed)
		entry.WithError(err).Warn("failed to move outbox event to dlq")
		return false
	}

	w.metrics.RecordAttempt(resultDLQ)
	entry.Warn("outbox event moved to dlq")
	return true
}

func (w *Worker) refreshBacklog(ctx context.Context) {
	stats, err := w.repo.Stats(ctx)
	if err != nil {
		w.logger.WithError(err).Warn("failed to collect outbox backlog stats")
		return
	}

	var age time.Duration
	if stats.PendingCount > 0 && !stats.OldestPendingAt.IsZero() {
		age = w.now().Sub(stats.OldestPendingAt)
	}
	w.metrics.SetBacklog(stats.PendingCount, age)
}

func (w *Worker) eventLogger(event domain.OutboxMessage) *log.Entry {
	fields := log.Fields{
		"outbox_id":  event.ID,
		"event_type": event.EventType,
	}
	if event.AggregateType == domain.AggregateOrder {
		fields["order_id"] = event.AggregateID
	}
	return w.logger.WithFields(fields)
}

// dlqMessage заворачивает исходное событие в kafka.DLQRecord.
// ID сохраняется, чтобы повторная отправка из DLQ была идемпотентной.
func dlqMessage(event domain.OutboxMessage, publishErr error, at time.Time) (domain.OutboxMessage, error) {
	var original json.RawMessage
	if len(event.Payload) > 0 {
		original = json.RawMessage(event.Payload)
	}

	payload, err := json.Marshal(kafka.DLQRecord{
		OutboxID:       event.ID,
		AggregateType:  event.AggregateType,
		AggregateID:    event.AggregateID,
		EventType:      event.EventType,
		Payload:        original,
		PublishError:   publishErr.Error(),
		DLQPublishedAt: at,
	})
	if err != nil {
		return domain.OutboxMessage{}, fmt.Errorf("encode dlq record: %w", err)
	}

	return domain.OutboxMessage{
		ID:            event.ID,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		EventType:     event.EventType,
		Payload:       payload,
		CreatedAt:     at,
	}, nil
}
