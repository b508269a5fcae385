// Package idempotency обслуживает ключи Idempotency-Key вне HTTP-запросов.
package idempotency

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/mall/internal/domain"
	"github.com/vladislavdragonenkov/mall/internal/metrics"
)

const (
	defaultCleanupInterval  = 10 * time.Minute
	defaultCleanupBatchSize = 500
	// defaultMaxBatches ограничивает один проход, чтобы большой
	// накопившийся хвост не держал базу занятой надолго.
	defaultMaxBatches = 100
)

// CleanupOptions задаёт параметры очистки.
type CleanupOptions struct {
	Logger     *log.Entry
	Metrics    *metrics.CleanupMetrics
	Interval   time.Duration
	BatchSize  int
	MaxBatches int
	Now        func() time.Time
}

// CleanupOption настраивает CleanupWorker.
type CleanupOption func(*CleanupOptions)

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) CleanupOption {
	return func(opts *CleanupOptions) {
		opts.Logger = logger
	}
}

// WithMetrics задаёт метрики очистки.
func WithMetrics(m *metrics.CleanupMetrics) CleanupOption {
	return func(opts *CleanupOptions) {
		opts.Metrics = m
	}
}

// WithInterval задаёт паузу между проходами.
func WithInterval(interval time.Duration) CleanupOption {
	return func(opts *CleanupOptions) {
		opts.Interval = interval
	}
}

// WithBatchSize задаёт, сколько ключей удаляется одним запросом.
func WithBatchSize(batchSize int) CleanupOption {
	return func(opts *CleanupOptions) {
		opts.BatchSize = batchSize
	}
}

// WithMaxBatches задаёт предел запросов за один проход.
func WithMaxBatches(maxBatches int) CleanupOption {
	return func(opts *CleanupOptions) {
		opts.MaxBatches = maxBatches
	}
}

// WithClock подменяет источник текущего времени.
func WithClock(now func() time.Time) CleanupOption {
	return func(opts *CleanupOptions) {
		opts.Now = now
	}
}

// Sweep - итог одного прохода очистки.
type Sweep struct {
	Deleted int
	Batches int
	// Truncated означает, что проход упёрся в MaxBatches и
	// просроченные ключи ещё остались.
	Truncated bool
}

// CleanupWorker удаляет ключи идемпотентности с истёкшим TTL из SQL и
// memory хранилищ. В Redis ключи истекают сами, поэтому для него
// воркер не запускается.
type CleanupWorker struct {
	repo       domain.IdempotencyRepository
	logger     *log.Entry
	metrics    *metrics.CleanupMetrics
	interval   time.Duration
	batchSize  int
	maxBatches int
	now        func() time.Time
}

// NewCleanupWorker создаёт воркер очистки.
func NewCleanupWorker(repo domain.IdempotencyRepository, options ...CleanupOption) *CleanupWorker {
	var opts CleanupOptions
	for _, option := range options {
		option(&opts)
	}

	if opts.Logger == nil {
		opts.Logger = log.WithField("component", "idempotency-cleanup")
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewCleanupMetrics()
	}
	if opts.Interval <= 0 {
		opts.Interval = defaultCleanupInterval
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultCleanupBatchSize
	}
	if opts.MaxBatches <= 0 {
		opts.MaxBatches = defaultMaxBatches
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}

	return &CleanupWorker{
		repo:       repo,
		logger:     opts.Logger,
		metrics:    opts.Metrics,
		interval:   opts.Interval,
		batchSize:  opts.BatchSize,
		maxBatches: opts.MaxBatches,
		now:        opts.Now,
	}
}

// Run выполняет проход сразу и затем каждые interval до отмены ctx.
func (w *CleanupWorker) Run(ctx context.Context) {
	if w.repo == nil {
		w.logger.Warn("idempotency cleanup is disabled: repository is not configured")
		return
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		w.runOnce(ctx)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (w *CleanupWorker) runOnce(ctx context.Context) {
	sweep, err := w.Purge(ctx)
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return
	case err != nil:
		w.metrics.RecordRun("error", sweep.Deleted)
		w.logger.WithError(err).WithField("deleted", sweep.Deleted).Warn("idempotency cleanup failed")
		return
	}

	w.metrics.RecordRun("ok", sweep.Deleted)
	entry := w.logger.WithFields(log.Fields{
		"deleted": sweep.Deleted,
		"batches": sweep.Batches,
	})
	if sweep.Truncated {
		entry.Warn("idempotency cleanup hit batch limit, the rest is left for the next run")
		return
	}
	if sweep.Deleted > 0 {
		entry.Info("expired idempotency keys removed")
	}
}

// Purge удаляет ключи, у которых ttl_at не позже текущего момента.
// Удаление идёт порциями batchSize, пока порция не окажется неполной.
func (w *CleanupWorker) Purge(ctx context.Context) (Sweep, error) {
	before := w.now()

	var sweep Sweep
	for sweep.Batches < w.maxBatches {
		if err := ctx.Err(); err != nil {
			return sweep, err
		}

		deleted, err := w.repo.DeleteExpired(ctx, before, w.batchSize)
		if err != nil {
			return sweep, err
		}
		sweep.Batches++
		sweep.Deleted += deleted
		w.metrics.AddDeleted(deleted)

		if deleted < w.batchSize {
			return sweep, nil
		}
	}

	sweep.Truncated = true
	return sweep, nil
}
