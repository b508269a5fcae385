package main

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

type stockReport struct {
	Before           int   `json:"before"`
	After            int   `json:"after"`
	Quantity         int   `json:"quantity"`
	ExpectedAccepted int   `json:"expected_accepted"`
	Accepted         int64 `json:"accepted"`
	Consistent       bool  `json:"consistent"`
}

type report struct {
	StartedAt         time.Time             `json:"started_at"`
	DurationSeconds   float64               `json:"duration_seconds"`
	TotalScenarios    int64                 `json:"total_scenarios"`
	SuccessScenarios  int64                 `json:"success_scenarios"`
	RejectedScenarios int64                 `json:"rejected_scenarios"`
	FailedScenarios   int64                 `json:"failed_scenarios"`
	ErrorRate         float64               `json:"error_rate"`
	RPS               float64               `json:"rps"`
	ScenarioLatencyMs latencySummary        `json:"scenario_latency_ms"`
	Methods           map[string]callReport `json:"methods"`
	Stock             *stockReport          `json:"stock,omitempty"`
}

// healthy - прогон без сбоев и без расхождения остатка.
func (r report) healthy() bool {
	return r.FailedScenarios == 0 && (r.Stock == nil || r.Stock.Consistent)
}

func newReport(startedAt time.Time, elapsed time.Duration, calls map[string]callReport) report {
	result := report{
		StartedAt:       startedAt.UTC(),
		DurationSeconds: elapsed.Seconds(),
		Methods:         calls,
	}
	if scenarios, ok := calls[callScenario]; ok {
		result.TotalScenarios = scenarios.Calls
		result.SuccessScenarios = scenarios.Success
		result.RejectedScenarios = scenarios.Rejected
		result.FailedScenarios = scenarios.Failed
		result.ErrorRate = scenarios.ErrorRate
		result.ScenarioLatencyMs = scenarios.LatencyMs
	}
	if elapsed > 0 {
		result.RPS = float64(result.TotalScenarios) / elapsed.Seconds()
	}
	return result
}

type runner struct {
	cfg    config
	client *shopClient
	rec    *recorder
}

func newRunner(cfg config, client *shopClient) *runner {
	return &runner{cfg: cfg, client: client, rec: newRecorder()}
}

// run выполняет нагрузку и сверяет остаток товара до и после. Если остаток
// прочитать не удалось, отчёт строится без сверки.
func (r *runner) run(ctx context.Context) report {
	stockBefore, stockErr := r.stock(ctx)

	startedAt := time.Now()
	jobs := make(chan int, r.cfg.concurrency*2)

	var g errgroup.Group
	for range r.cfg.concurrency {
		g.Go(func() error {
			for index := range jobs {
				r.scenario(ctx, index)
			}
			return nil
		})
	}
	r.dispatch(ctx, jobs)
	_ = g.Wait()

	result := newReport(startedAt, time.Since(startedAt), r.rec.reports())
	if stockErr != nil {
		return result
	}
	if stockAfter, err := r.stock(ctx); err == nil {
		accepted := result.Methods[callPlaceOrder].Success
		result.Stock = checkStock(stockBefore, stockAfter, r.cfg.quantity, accepted, result.TotalScenarios)
	}
	return result
}

func (r *runner) stock(ctx context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.cfg.timeout)
	defer cancel()
	return r.client.productStock(ctx, r.cfg.productID)
}

// dispatch раздаёт номера сценариев, пока не исчерпан предел, не вышло
// время прогона или не отменён ctx.
func (r *runner) dispatch(ctx context.Context, jobs chan<- int) {
	defer close(jobs)

	if r.cfg.duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.duration)
		defer cancel()
	}

	limit := r.cfg.maxScenarios()
	for i := 0; limit == 0 || i < limit; i++ {
		select {
		case <-ctx.Done():
			return
		case jobs <- i:
		}
	}
}

// scenario - один заказ и, в режиме place-read, его чтение.
// Статус сценария - статус последнего выполненного шага.
func (r *runner) scenario(ctx context.Context, index int) {
	start := time.Now()

	var key string
	if r.cfg.idempotent {
		key = fmt.Sprintf("lt-%d-%s", index, uuid.NewString())
	}
	items := []buyItem{{ProductID: r.cfg.productID, Quantity: r.cfg.quantity}}

	status, orderID := timed(r.rec, callPlaceOrder, func() (int, int64) {
		callCtx, cancel := context.WithTimeout(ctx, r.cfg.timeout)
		defer cancel()
		return r.client.placeOrder(callCtx, r.cfg.userID, items, key)
	})

	if r.cfg.mode == modePlaceRead && classify(status) == outcomeSuccess {
		status, _ = timed(r.rec, callGetOrder, func() (int, struct{}) {
			callCtx, cancel := context.WithTimeout(ctx, r.cfg.timeout)
			defer cancel()
			return r.client.getOrder(callCtx, r.cfg.userID, orderID), struct{}{}
		})
	}

	r.rec.record(callScenario, time.Since(start), status)
}

func timed[T any](rec *recorder, call string, fn func() (int, T)) (int, T) {
	start := time.Now()
	status, value := fn()
	rec.record(call, time.Since(start), status)
	return status, value
}

// checkStock сверяет число принятых заказов с изменением остатка. Если
// сценариев хватало, чтобы выкупить весь остаток, принятых должно быть
// ровно before/qty: ни overselling, ни лишних отказов.
func checkStock(before, after, qty int, accepted, scenarios int64) *stockReport {
	expected := before / qty
	consistent := before-after == int(accepted)*qty
	if scenarios >= int64(expected) {
		consistent = consistent && accepted == int64(expected)
	}
	return &stockReport{
		Before:           before,
		After:            after,
		Quantity:         qty,
		ExpectedAccepted: expected,
		Accepted:         accepted,
		Consistent:       consistent,
	}
}
