package main

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	assert.Equal(t, outcomeSuccess, classify(http.StatusCreated))
	assert.Equal(t, outcomeRejected, classify(http.StatusConflict))
	assert.Equal(t, outcomeRejected, classify(http.StatusNotFound))
	assert.Equal(t, outcomeFailed, classify(http.StatusInternalServerError))
	assert.Equal(t, outcomeFailed, classify(statusNoResponse))
	assert.Equal(t, outcomeFailed, classify(http.StatusFound))
}

func TestStatusLabel(t *testing.T) {
	assert.Equal(t, transportError, statusLabel(statusNoResponse))
	assert.Equal(t, "409", statusLabel(http.StatusConflict))
}

func TestRecorder_Reports(t *testing.T) {
	rec := newRecorder()
	rec.record(callScenario, 10*time.Millisecond, http.StatusCreated)
	rec.record(callScenario, 20*time.Millisecond, http.StatusConflict)
	rec.record(callScenario, 30*time.Millisecond, statusNoResponse)
	rec.record(callPlaceOrder, 15*time.Millisecond, http.StatusCreated)

	reports := rec.reports()
	scenarios := reports[callScenario]
	assert.Equal(t, int64(3), scenarios.Calls)
	assert.Equal(t, int64(1), scenarios.Success)
	assert.Equal(t, int64(1), scenarios.Rejected)
	assert.Equal(t, int64(1), scenarios.Failed)
	assert.InDelta(t, 1.0/3, scenarios.ErrorRate, 1e-9)
	assert.Equal(t, map[string]int64{"201": 1, "409": 1, transportError: 1}, scenarios.Codes)
	assert.Equal(t, 10.0, scenarios.LatencyMs.Min)
	assert.Equal(t, 30.0, scenarios.LatencyMs.Max)

	// Отчёт - снимок: новые вызовы его не меняют.
	rec.record(callScenario, time.Millisecond, http.StatusCreated)
	assert.Equal(t, int64(1), scenarios.Codes["201"])
	assert.Contains(t, reports, callPlaceOrder)
}

func TestSummarize(t *testing.T) {
	assert.Equal(t, latencySummary{}, summarize(nil))

	values := []float64{40, 10, 30, 20}
	s := summarize(values)
	assert.Equal(t, 10.0, s.Min)
	assert.Equal(t, 40.0, s.Max)
	assert.Equal(t, 25.0, s.Avg)
	assert.Equal(t, 25.0, s.P50)
	assert.InDelta(t, 38.5, s.P95, 1e-9)
	assert.Equal(t, []float64{40, 10, 30, 20}, values, "input must stay unsorted")
}

func TestPercentile(t *testing.T) {
	assert.Zero(t, percentile(nil, 0.5))
	assert.Equal(t, 7.0, percentile([]float64{7}, 0.99))
	assert.Equal(t, 2.0, percentile([]float64{1, 2, 3}, 0.5))
	assert.Equal(t, 3.0, percentile([]float64{1, 2, 3}, 1))
}

func TestRatio(t *testing.T) {
	assert.Equal(t, 0.25, ratio(1, 4))
	assert.Zero(t, ratio(1, 0))
}
