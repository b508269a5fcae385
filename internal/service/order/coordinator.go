package order

import (
	"context"
	"errors"
	"maps"
	"slices"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vladislavdragonenkov/mall/internal/domain"
	"github.com/vladislavdragonenkov/mall/internal/metrics"
)

const tracerName = "github.com/vladislavdragonenkov/mall/internal/service/order"

// CoordinatorOptions задаёт зависимости координатора, кроме транзакций.
type CoordinatorOptions struct {
	Logger  *log.Entry
	Metrics *metrics.OrderMetrics
	Tracer  trace.Tracer
	Now     func() time.Time
}

// Option настраивает Coordinator.
type Option func(*CoordinatorOptions)

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(opts *CoordinatorOptions) {
		opts.Logger = logger
	}
}

// WithMetrics задаёт метрики оформления.
func WithMetrics(m *metrics.OrderMetrics) Option {
	return func(opts *CoordinatorOptions) {
		opts.Metrics = m
	}
}

// WithTracer задаёт tracer; по умолчанию берётся глобальный провайдер.
func WithTracer(tracer trace.Tracer) Option {
	return func(opts *CoordinatorOptions) {
		opts.Tracer = tracer
	}
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(opts *CoordinatorOptions) {
		opts.Now = now
	}
}

// Coordinator - единственный компонент, который меняет состояние при оформлении заказа.
// Проверка, сборка, запись заказа, списание остатков и outbox-событие
// выполняются в одной транзакции.
type Coordinator struct {
	transactor domain.Transactor
	logger     *log.Entry
	metrics    *metrics.OrderMetrics
	tracer     trace.Tracer
	now        func() time.Time
}

// NewCoordinator создаёт координатор оформления заказов.
func NewCoordinator(transactor domain.Transactor, options ...Option) *Coordinator {
	opts := CoordinatorOptions{}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "order-coordinator")
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}
	now := opts.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}

	return &Coordinator{
		transactor: transactor,
		logger:     logger,
		metrics:    opts.Metrics,
		tracer:     tracer,
		now:        now,
	}
}

// PlaceOrder оформляет заказ и возвращает его идентификатор.
// Ошибки всегда типизированы: InvalidArgument, Conflict или Internal.
// Повторов внутри нет, решение о повторе принимает вызывающая сторона.
func (c *Coordinator) PlaceOrder(ctx context.Context, userID int64, items []domain.BuyItem) (int64, error) {
	ctx, span := c.tracer.Start(ctx, "order.PlaceOrder", trace.WithAttributes(
		attribute.Int64("mall.user_id", userID),
		attribute.Int("mall.order.lines", len(items)),
	))
	defer span.End()

	started := time.Now()
	if c.metrics != nil {
		c.metrics.RecordStarted()
	}

	var orderID int64
	err := c.transactor.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		id, err := c.placeInTx(ctx, tx, userID, items)
		if err != nil {
			return err
		}
		orderID = id
		return nil
	})
	if err != nil {
		err = classify(err)
		c.recordFailure(span, userID, err, time.Since(started))
		return 0, err
	}

	if c.metrics != nil {
		c.metrics.RecordPlaced(len(items), time.Since(started))
	}
	span.SetAttributes(attribute.Int64("mall.order_id", orderID))
	c.logger.WithFields(log.Fields{
		"order_id": orderID,
		"user_id":  userID,
		"lines":    len(items),
	}).Info("order placed")

	return orderID, nil
}

func (c *Coordinator) placeInTx(ctx context.Context, tx domain.Tx, userID int64, items []domain.BuyItem) (int64, error) {
	if err := NewValidator(tx.Users(), tx.Inventory()).Validate(ctx, userID, items); err != nil {
		return 0, err
	}

	order, err := NewAssembler(tx.Pricing(), c.now).Assemble(ctx, userID, items)
	if err != nil {
		return 0, err
	}

	if err := errors.Join(order.ValidateInvariants()...); err != nil {
		return 0, domain.Internal(err, "assembled order is inconsistent")
	}

	if err := tx.Orders().CreateOrder(ctx, &order); err != nil {
		return 0, domain.Internal(err, "persist order")
	}

	for _, demand := range stockDemand(order.Items) {
		if err := tx.Inventory().DecrementStock(ctx, demand.ProductID, demand.Quantity); err != nil {
			switch {
			case errors.Is(err, domain.ErrStockConflict), errors.Is(err, domain.ErrProductNotFound):
				return 0, domain.Conflict(domain.ErrStockConflict,
					"product %d: stock was taken by a concurrent order, retry the request", demand.ProductID)
			default:
				return 0, domain.Internal(err, "decrement stock of product %d", demand.ProductID)
			}
		}
	}

	msg, err := domain.NewOrderCreatedMessage(order)
	if err != nil {
		return 0, domain.Internal(err, "build order.created event")
	}
	if _, err := tx.Outbox().Enqueue(ctx, msg); err != nil {
		return 0, domain.Internal(err, "enqueue order.created event")
	}

	return order.OrderID, nil
}

func (c *Coordinator) recordFailure(span trace.Span, userID int64, err error, elapsed time.Duration) {
	kind := domain.KindOf(err)
	if c.metrics != nil {
		c.metrics.RecordFailed(string(kind), elapsed)
	}

	span.RecordError(err)
	span.SetAttributes(attribute.String("mall.error_kind", string(kind)))

	entry := c.logger.WithError(err).WithFields(log.Fields{
		"user_id": userID,
		"kind":    kind,
	})
	if kind == domain.KindInternal {
		span.SetStatus(codes.Error, "order placement failed")
		entry.Error("order placement failed")
		return
	}
	entry.Warn("order placement rejected")
}

// stockDemand суммирует количества по товару и сортирует по ProductID.
// Общий порядок списаний исключает взаимную блокировку строк у встречных корзин.
func stockDemand(items []domain.OrderItem) []domain.BuyItem {
	total := make(map[int64]int, len(items))
	for _, item := range items {
		total[item.ProductID] += item.Quantity
	}

	demand := make([]domain.BuyItem, 0, len(total))
	for _, productID := range slices.Sorted(maps.Keys(total)) {
		demand = append(demand, domain.BuyItem{ProductID: productID, Quantity: total[productID]})
	}
	return demand
}

// classify приводит ошибку коммита или хранилища к типизированной.
func classify(err error) error {
	var typed *domain.Error
	if errors.As(err, &typed) {
		return err
	}
	if errors.Is(err, domain.ErrStockConflict) {
		return domain.Conflict(domain.ErrStockConflict, "stock was taken by a concurrent order, retry the request")
	}
	return domain.Internal(err, "order transaction failed")
}
