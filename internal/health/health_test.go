package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ok(context.Context) error { return nil }

func failing(msg string) Probe {
	return func(context.Context) error { return errors.New(msg) }
}

func TestStatus_Worse(t *testing.T) {
	assert.Equal(t, StatusDegraded, StatusHealthy.Worse(StatusDegraded))
	assert.Equal(t, StatusUnhealthy, StatusDegraded.Worse(StatusUnhealthy))
	assert.Equal(t, StatusUnhealthy, StatusUnhealthy.Worse(StatusDegraded))
	assert.Equal(t, StatusHealthy, StatusHealthy.Worse(StatusHealthy))
}

func TestHandler_Evaluate(t *testing.T) {
	tests := []struct {
		name     string
		critical map[string]Probe
		optional map[string]Probe
		want     Status
	}{
		{name: "no checks", want: StatusHealthy},
		{name: "all healthy", critical: map[string]Probe{"storage": ok}, optional: map[string]Probe{"kafka": ok}, want: StatusHealthy},
		{name: "optional down", critical: map[string]Probe{"storage": ok}, optional: map[string]Probe{"kafka": failing("no brokers")}, want: StatusDegraded},
		{name: "critical down", critical: map[string]Probe{"storage": failing("refused")}, optional: map[string]Probe{"kafka": failing("no brokers")}, want: StatusUnhealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHandler("v1")
			for name, probe := range tt.critical {
				h.Critical(name, probe)
			}
			for name, probe := range tt.optional {
				h.Optional(name, probe)
			}

			report := h.Evaluate(context.Background())
			assert.Equal(t, tt.want, report.Status)
			assert.Len(t, report.Checks, len(tt.critical)+len(tt.optional))
		})
	}
}

func TestHandler_CheckCarriesFailureMessage(t *testing.T) {
	h := NewHandler("v1")
	h.Optional("kafka", failing("kafka: client has run out of available brokers"))

	check := h.Evaluate(context.Background()).Checks["kafka"]
	assert.Equal(t, "kafka", check.Name)
	assert.Equal(t, StatusDegraded, check.Status)
	assert.Equal(t, "kafka: client has run out of available brokers", check.Message)
}

func TestHandler_ProbeTimeout(t *testing.T) {
	h := NewHandler("v1", WithCheckTimeout(20*time.Millisecond))
	h.Critical("slow", func(ctx context.Context) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
			return nil
		}
	})

	started := time.Now()
	report := h.Evaluate(context.Background())
	assert.Less(t, time.Since(started), 500*time.Millisecond)
	assert.Equal(t, StatusUnhealthy, report.Status)
	assert.Contains(t, report.Checks["slow"].Message, context.DeadlineExceeded.Error())
}

func TestHandler_ProbesRunConcurrently(t *testing.T) {
	h := NewHandler("v1", WithCheckTimeout(time.Second))
	release := make(chan struct{})
	var started atomic.Int32
	for _, name := range []string{"a", "b", "c"} {
		h.Critical(name, func(context.Context) error {
			if started.Add(1) == 3 {
				close(release)
			}
			<-release
			return nil
		})
	}

	done := make(chan Report, 1)
	go func() { done <- h.Evaluate(context.Background()) }()

	select {
	case report := <-done:
		assert.Equal(t, StatusHealthy, report.Status)
	case <-time.After(2 * time.Second):
		t.Fatal("probes did not run concurrently")
	}
}

func TestHandler_ReRegisterReplaces(t *testing.T) {
	h := NewHandler("v1")
	h.Critical("redis", failing("down"))
	h.Optional("redis", failing("down"))

	assert.Equal(t, []string{"redis"}, h.Names())
	assert.Equal(t, StatusDegraded, h.Evaluate(context.Background()).Status)
}

func TestHandler_ServeHTTP(t *testing.T) {
	now := time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)
	clock := now
	h := NewHandler("v1.2.3", WithClock(func() time.Time { return clock }))
	h.Critical("storage", ok)
	clock = now.Add(90 * time.Second)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var report Report
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&report))
	assert.Equal(t, StatusHealthy, report.Status)
	assert.Equal(t, "v1.2.3", report.Version)
	assert.Equal(t, int64(90), report.UptimeSeconds)
	assert.True(t, report.Timestamp.Equal(clock))

	h.Critical("storage", failing("refused"))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestReadyAndLive(t *testing.T) {
	h := NewHandler("v1")
	h.Optional("kafka", failing("down"))

	rec := httptest.NewRecorder()
	h.Ready(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rec.Code, "degraded service stays ready")
	assert.Equal(t, "ready", rec.Body.String())

	h.Critical("storage", failing("refused"))
	rec = httptest.NewRecorder()
	h.Ready(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = httptest.NewRecorder()
	Live(rec, httptest.NewRequest(http.MethodGet, "/livez", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestHandler_Watch(t *testing.T) {
	h := NewHandler("v1")
	var healthy atomic.Bool
	h.Critical("storage", func(context.Context) error {
		if healthy.Load() {
			return nil
		}
		return errors.New("starting")
	})

	ctx, cancel := context.WithCancel(context.Background())
	statuses := make(chan Status, 16)
	done := make(chan struct{})
	go func() {
		defer close(done)
		h.Watch(ctx, 5*time.Millisecond, func(s Status) {
			select {
			case statuses <- s:
			default:
			}
		})
	}()

	assert.Equal(t, StatusUnhealthy, <-statuses, "first status is reported immediately")
	healthy.Store(true)
	require.Eventually(t, func() bool {
		select {
		case s := <-statuses:
			return s == StatusHealthy
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("watch did not stop")
	}
}
