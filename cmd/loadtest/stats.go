package main

import (
	"maps"
	"math"
	"net/http"
	"slices"
	"strconv"
	"sync"
	"time"
)

const (
	callPlaceOrder = "PlaceOrder"
	callGetOrder   = "GetOrder"
	callScenario   = "scenario"

	// statusNoResponse - вызов не получил HTTP-ответа.
	statusNoResponse = 0
	transportError   = "transport_error"
)

type outcome int

const (
	outcomeSuccess outcome = iota
	// outcomeRejected - сервис ответил 4xx: для гонки за остатком это
	// ожидаемый отказ, а не сбой.
	outcomeRejected
	outcomeFailed
)

func classify(status int) outcome {
	switch {
	case status >= http.StatusOK && status < http.StatusMultipleChoices:
		return outcomeSuccess
	case status >= http.StatusBadRequest && status < http.StatusInternalServerError:
		return outcomeRejected
	default:
		return outcomeFailed
	}
}

func statusLabel(status int) string {
	if status == statusNoResponse {
		return transportError
	}
	return strconv.Itoa(status)
}

type latencySummary struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
	Avg float64 `json:"avg"`
	P50 float64 `json:"p50"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
}

type callReport struct {
	Calls     int64            `json:"calls"`
	Success   int64            `json:"success"`
	Rejected  int64            `json:"rejected"`
	Failed    int64            `json:"failed"`
	ErrorRate float64          `json:"error_rate"`
	Codes     map[string]int64 `json:"codes"`
	LatencyMs latencySummary   `json:"latency_ms"`
}

type callStats struct {
	byOutcome [3]int64
	codes     map[string]int64
	// latencies в миллисекундах.
	latencies []float64
}

func (s *callStats) calls() int64 { return int64(len(s.latencies)) }

func (s *callStats) report() callReport {
	return callReport{
		Calls:     s.calls(),
		Success:   s.byOutcome[outcomeSuccess],
		Rejected:  s.byOutcome[outcomeRejected],
		Failed:    s.byOutcome[outcomeFailed],
		ErrorRate: ratio(s.byOutcome[outcomeFailed], s.calls()),
		Codes:     maps.Clone(s.codes),
		LatencyMs: summarize(s.latencies),
	}
}

// recorder копит результаты вызовов от всех воркеров.
type recorder struct {
	mu    sync.Mutex
	calls map[string]*callStats
}

func newRecorder() *recorder {
	return &recorder{calls: make(map[string]*callStats)}
}

func (r *recorder) record(call string, latency time.Duration, status int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stats := r.calls[call]
	if stats == nil {
		stats = &callStats{codes: make(map[string]int64)}
		r.calls[call] = stats
	}
	stats.byOutcome[classify(status)]++
	stats.codes[statusLabel(status)]++
	stats.latencies = append(stats.latencies, float64(latency.Microseconds())/1000)
}

func (r *recorder) reports() map[string]callReport {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]callReport, len(r.calls))
	for name, stats := range r.calls {
		out[name] = stats.report()
	}
	return out
}

func summarize(values []float64) latencySummary {
	if len(values) == 0 {
		return latencySummary{}
	}
	sorted := slices.Clone(values)
	slices.Sort(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}
	return latencySummary{
		Min: sorted[0],
		Max: sorted[len(sorted)-1],
		Avg: sum / float64(len(sorted)),
		P50: percentile(sorted, 0.50),
		P95: percentile(sorted, 0.95),
		P99: percentile(sorted, 0.99),
	}
}

// percentile интерполирует между соседними значениями отсортированного среза.
func percentile(sorted []float64, q float64) float64 {
	switch len(sorted) {
	case 0:
		return 0
	case 1:
		return sorted[0]
	}
	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	return sorted[lo] + (sorted[hi]-sorted[lo])*(pos-float64(lo))
}

func ratio(part, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return float64(part) / float64(total)
}
