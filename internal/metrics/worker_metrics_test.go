package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestOutboxMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewOutboxMetricsWithRegisterer(reg)

	m.RecordAttempt("sent")
	m.RecordAttempt("retry_error")
	m.RecordAttempt("sent")
	m.SetBacklog(3, 90*time.Second)

	if got := findMetric(t, reg, "mall_outbox_publish_attempts_total", map[string]string{"result": "sent"}).GetCounter().GetValue(); got != 2 {
		t.Fatalf("sent=%v, want 2", got)
	}
	if got := findMetric(t, reg, "mall_outbox_pending_records", nil).GetGauge().GetValue(); got != 3 {
		t.Fatalf("pending=%v, want 3", got)
	}
	if got := findMetric(t, reg, "mall_outbox_oldest_pending_age_seconds", nil).GetGauge().GetValue(); got != 90 {
		t.Fatalf("age=%v, want 90", got)
	}

	m.SetBacklog(0, -time.Second)
	if got := findMetric(t, reg, "mall_outbox_oldest_pending_age_seconds", nil).GetGauge().GetValue(); got != 0 {
		t.Fatalf("negative age must clamp to 0, got %v", got)
	}
}

func TestCleanupMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewCleanupMetricsWithRegisterer(reg)

	m.AddDeleted(4)
	m.AddDeleted(0)
	m.RecordRun("ok", 4)
	m.RecordRun("error", 0)

	if got := findMetric(t, reg, "mall_idempotency_cleanup_deleted_total", nil).GetCounter().GetValue(); got != 4 {
		t.Fatalf("deleted=%v, want 4", got)
	}
	if got := findMetric(t, reg, "mall_idempotency_cleanup_last_deleted", nil).GetGauge().GetValue(); got != 4 {
		t.Fatalf("last deleted=%v, want 4", got)
	}
	if got := findMetric(t, reg, "mall_idempotency_cleanup_runs_total", map[string]string{"result": "error"}).GetCounter().GetValue(); got != 1 {
		t.Fatalf("error runs=%v, want 1", got)
	}
}
