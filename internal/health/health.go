// Package health собирает состояние зависимостей сервиса для /healthz,
// /readyz и служебного gRPC health.
package health

import (
	"context"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Status - состояние компонента или сервиса целиком.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

func (s Status) rank() int {
	switch s {
	case StatusUnhealthy:
		return 2
	case StatusDegraded:
		return 1
	default:
		return 0
	}
}

// Worse возвращает худший из двух статусов.
func (s Status) Worse(other Status) Status {
	if other.rank() > s.rank() {
		return other
	}
	return s
}

const (
	defaultCheckTimeout  = 2 * time.Second
	defaultWatchInterval = 10 * time.Second
)

// Probe проверяет одну зависимость; nil означает, что она доступна.
type Probe func(ctx context.Context) error

// Check - результат одной проверки.
type Check struct {
	Name       string `json:"name"`
	Status     Status `json:"status"`
	Message    string `json:"message,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}

// Report - ответ /healthz.
type Report struct {
	Status        Status           `json:"status"`
	Timestamp     time.Time        `json:"timestamp"`
	Checks        map[string]Check `json:"checks,omitempty"`
	Version       string           `json:"version,omitempty"`
	UptimeSeconds int64            `json:"uptime_seconds"`
}

type component struct {
	name string
	// onFailure - статус компонента при ошибке probe.
	onFailure Status
	probe     Probe
}

// Handler хранит зарегистрированные проверки и отдаёт их результат по HTTP.
type Handler struct {
	mu         sync.RWMutex
	components map[string]component
	timeout    time.Duration

	version string
	started time.Time
	now     func() time.Time
}

// Option настраивает Handler.
type Option func(*Handler)

// WithCheckTimeout ограничивает время одной проверки.
func WithCheckTimeout(timeout time.Duration) Option {
	return func(h *Handler) {
		if timeout > 0 {
			h.timeout = timeout
		}
	}
}

// WithClock подменяет часы для timestamp и uptime.
func WithClock(now func() time.Time) Option {
	return func(h *Handler) {
		if now != nil {
			h.now = now
		}
	}
}

// NewHandler создаёт Handler без проверок: пустой набор считается healthy.
func NewHandler(version string, opts ...Option) *Handler {
	h := &Handler{
		components: make(map[string]component),
		timeout:    defaultCheckTimeout,
		version:    version,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	h.started = h.now()
	return h
}

// Critical регистрирует зависимость, без которой сервис не готов принимать
// запросы: ошибка делает его unhealthy.
func (h *Handler) Critical(name string, probe Probe) {
	h.register(name, StatusUnhealthy, probe)
}

// Optional регистрирует зависимость, без которой сервис работает в
// деградированном режиме. Так проверяется брокер, пока outbox копит события.
func (h *Handler) Optional(name string, probe Probe) {
	h.register(name, StatusDegraded, probe)
}

func (h *Handler) register(name string, onFailure Status, probe Probe) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.components[name] = component{name: name, onFailure: onFailure, probe: probe}
}

// Names возвращает имена проверок по алфавиту.
func (h *Handler) Names() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	names := make([]string, 0, len(h.components))
	for name := range h.components {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Evaluate выполняет все проверки параллельно, каждую со своим таймаутом.
func (h *Handler) Evaluate(ctx context.Context) Report {
	h.mu.RLock()
	components := make([]component, 0, len(h.components))
	for _, c := range h.components {
		components = append(components, c)
	}
	timeout := h.timeout
	h.mu.RUnlock()

	results := make([]Check, len(components))
	var g errgroup.Group
	for i, c := range components {
		g.Go(func() error {
			probeCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			results[i] = c.run(probeCtx)
			return nil
		})
	}
	_ = g.Wait()

	now := h.now()
	report := Report{
		Status:        StatusHealthy,
		Timestamp:     now.UTC(),
		Version:       h.version,
		UptimeSeconds: int64(now.Sub(h.started).Seconds()),
	}
	if len(results) > 0 {
		report.Checks = make(map[string]Check, len(results))
	}
	for _, check := range results {
		report.Checks[check.Name] = check
		report.Status = report.Status.Worse(check.Status)
	}
	return report
}

func (c component) run(ctx context.Context) Check {
	start := time.Now()
	err := c.probe(ctx)
	check := Check{
		Name:       c.name,
		Status:     StatusHealthy,
		DurationMs: time.Since(start).Milliseconds(),
	}
	if err != nil {
		check.Status = c.onFailure
		check.Message = err.Error()
	}
	return check
}

// Watch периодически вызывает Evaluate и сообщает статус в notify,
// первый раз сразу. Используется для синхронизации gRPC health.
func (h *Handler) Watch(ctx context.Context, interval time.Duration, notify func(Status)) {
	if interval <= 0 {
		interval = defaultWatchInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		notify(h.Evaluate(ctx).Status)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
