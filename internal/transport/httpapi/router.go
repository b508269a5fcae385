// Package httpapi - REST API сервиса: заказы пользователей и каталог товаров.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/vladislavdragonenkov/mall/internal/domain"
	"github.com/vladislavdragonenkov/mall/internal/metrics"
)

const (
	defaultRequestTimeout = 15 * time.Second
	maxBodyBytes          = 1 << 20
)

// OrderPlacer оформляет заказ.
type OrderPlacer interface {
	PlaceOrder(ctx context.Context, userID int64, items []domain.BuyItem) (int64, error)
}

// OrderQueries читает заказы.
type OrderQueries interface {
	ListOrders(ctx context.Context, query domain.OrderQuery) (domain.Page[domain.Order], error)
	GetOrder(ctx context.Context, orderID int64) (domain.Order, error)
	GetUserOrder(ctx context.Context, userID, orderID int64) (domain.Order, error)
}

// Catalog - операции каталога товаров.
type Catalog interface {
	ListProducts(ctx context.Context, query domain.ProductQuery) (domain.Page[domain.Product], error)
	GetProduct(ctx context.Context, productID int64) (domain.Product, error)
	CreateProduct(ctx context.Context, req domain.ProductRequest) (domain.Product, error)
	UpdateProduct(ctx context.Context, productID int64, req domain.ProductRequest) (domain.Product, error)
	DeleteProduct(ctx context.Context, productID int64) error
}

// Dependencies - сервисы, которые обслуживает API.
// Idempotency может быть nil: тогда заголовок Idempotency-Key игнорируется.
type Dependencies struct {
	Orders      OrderPlacer
	Queries     OrderQueries
	Catalog     Catalog
	Idempotency domain.IdempotencyRepository
}

// Options задаёт необязательные параметры API.
type Options struct {
	Logger         *log.Entry
	Metrics        *metrics.HTTPMetrics
	IdempotencyTTL time.Duration
	RequestTimeout time.Duration
	Now            func() time.Time
}

// Option настраивает API.
type Option func(*Options)

// WithLogger задаёт logger для access log и ошибок.
func WithLogger(logger *log.Entry) Option {
	return func(opts *Options) {
		opts.Logger = logger
	}
}

// WithMetrics задаёт HTTP-метрики.
func WithMetrics(m *metrics.HTTPMetrics) Option {
	return func(opts *Options) {
		opts.Metrics = m
	}
}

// WithIdempotencyTTL задаёт время жизни ключа Idempotency-Key.
func WithIdempotencyTTL(ttl time.Duration) Option {
	return func(opts *Options) {
		opts.IdempotencyTTL = ttl
	}
}

// WithRequestTimeout ограничивает время обработки одного запроса.
func WithRequestTimeout(timeout time.Duration) Option {
	return func(opts *Options) {
		opts.RequestTimeout = timeout
	}
}

// WithClock подменяет источник времени для TTL ключей.
func WithClock(now func() time.Time) Option {
	return func(opts *Options) {
		opts.Now = now
	}
}

type api struct {
	orders  OrderPlacer
	queries OrderQueries
	catalog Catalog
	idem    domain.IdempotencyRepository

	logger  *log.Entry
	metrics *metrics.HTTPMetrics
	idemTTL time.Duration
	now     func() time.Time
}

// NewHandler собирает chi-роутер со всеми маршрутами и middleware.
func NewHandler(deps Dependencies, options ...Option) http.Handler {
	opts := Options{
		IdempotencyTTL: domain.DefaultIdempotencyTTL,
		RequestTimeout: defaultRequestTimeout,
	}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "http-api")
	}
	if opts.IdempotencyTTL <= 0 {
		opts.IdempotencyTTL = domain.DefaultIdempotencyTTL
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = defaultRequestTimeout
	}
	now := opts.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}

	a := &api{
		orders:  deps.Orders,
		queries: deps.Queries,
		catalog: deps.Catalog,
		idem:    deps.Idempotency,
		logger:  logger,
		metrics: opts.Metrics,
		idemTTL: opts.IdempotencyTTL,
		now:     now,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP)
	r.Use(a.accessLog)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(opts.RequestTimeout))

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeErrorBody(w, http.StatusNotFound, domain.KindNotFound, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeErrorBody(w, http.StatusMethodNotAllowed, domain.KindInvalidArgument, "method not allowed")
	})

	r.Route("/users/{userId}/orders", func(r chi.Router) {
		r.With(a.idempotent).Post("/", a.createOrder)
		r.Get("/", a.listOrders)
		r.Get("/{orderId}", a.getOrder)
	})

	r.Route("/products", func(r chi.Router) {
		r.Get("/", a.listProducts)
		r.Post("/", a.createProduct)
		r.Get("/{productId}", a.getProduct)
		r.Put("/{productId}", a.updateProduct)
		r.Delete("/{productId}", a.deleteProduct)
	})

	return otelhttp.NewHandler(r, "mall-api",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	)
}
