package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/vladislavdragonenkov/mall/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/mall/internal/health"
	"github.com/vladislavdragonenkov/mall/internal/storage/memory"
)

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestOpsMux_Endpoints(t *testing.T) {
	h := healthcheck.NewHandler("test")
	h.Critical("storage", func(context.Context) error { return nil })
	h.Optional("kafka", func(context.Context) error { return errors.New("no brokers") })

	srv := httptest.NewServer(opsMux(h))
	defer srv.Close()

	code, body := get(t, srv.URL+"/metrics")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "go_goroutines")

	code, body = get(t, srv.URL+"/healthz")
	assert.Equal(t, http.StatusOK, code, "degraded broker keeps the service up")
	var report healthcheck.Report
	require.NoError(t, json.Unmarshal([]byte(body), &report))
	assert.Equal(t, healthcheck.StatusDegraded, report.Status)
	assert.Equal(t, healthcheck.StatusHealthy, report.Checks["storage"].Status)

	code, body = get(t, srv.URL+"/livez")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body)

	code, body = get(t, srv.URL+"/readyz")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ready", body)
}

func TestOpsMux_ReadyzFollowsCriticalChecks(t *testing.T) {
	h := healthcheck.NewHandler("test")
	h.Critical("storage", func(context.Context) error { return errors.New("connection refused") })

	srv := httptest.NewServer(opsMux(h))
	defer srv.Close()

	code, _ := get(t, srv.URL+"/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	code, _ = get(t, srv.URL+"/healthz")
	assert.Equal(t, http.StatusServiceUnavailable, code)

	code, _ = get(t, srv.URL+"/livez")
	assert.Equal(t, http.StatusOK, code, "liveness must not depend on checks")
}

func TestStartMetricsServer_StopsWithContext(t *testing.T) {
	addr := freeAddr(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	srv := startMetricsServer(ctx, addr, log.WithField("test", "ops-http"), healthcheck.NewHandler("test"))
	require.NotNil(t, srv)

	url := fmt.Sprintf("http://%s/livez", addr)
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err == nil {
			resp.Body.Close()
		}
		return err != nil
	}, 2*time.Second, 20*time.Millisecond)
}

func TestShutdownHTTP(t *testing.T) {
	shutdownHTTP(nil, log.WithField("test", "ops-http"))

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	srv := &http.Server{Handler: http.NotFoundHandler(), ReadHeaderTimeout: time.Second}
	served := make(chan error, 1)
	go func() { served <- srv.Serve(listener) }()

	shutdownHTTP(srv, log.WithField("test", "ops-http"))
	select {
	case err := <-served:
		require.ErrorIs(t, err, http.ErrServerClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestRegisterHealthCheckers(t *testing.T) {
	store := memory.NewStore()
	cfg := DefaultConfig()
	cfg.KafkaBrokers = "127.0.0.1:1"
	cfg.OutboxMaxPending = 1

	h := healthcheck.NewHandler("test", healthcheck.WithCheckTimeout(200*time.Millisecond))
	registerHealthCheckers(h, cfg, runtimeDependencies{
		backend:        store,
		storageChecker: store.Ping,
	})
	assert.Equal(t, []string{"kafka", "outbox", "storage"}, h.Names())

	report := h.Evaluate(context.Background())
	assert.Equal(t, healthcheck.StatusDegraded, report.Status, "unreachable broker only degrades")
	assert.Equal(t, healthcheck.StatusHealthy, report.Checks["outbox"].Status)
}

func TestOutboxBacklogCheck(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	check := outboxBacklogCheck(store.Outbox(), 1)
	require.NoError(t, check(ctx))

	for i := 0; i < 2; i++ {
		_, err := store.Outbox().Enqueue(ctx, domain.OutboxMessage{
			AggregateType: domain.AggregateOrder,
			AggregateID:   fmt.Sprint(i + 1),
			EventType:     domain.EventOrderCreated,
			Payload:       []byte(`{}`),
		})
		require.NoError(t, err)
	}
	require.ErrorContains(t, check(ctx), "exceeds 1")
}

func TestGRPCServingStatus(t *testing.T) {
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, grpcServingStatus(healthcheck.StatusHealthy))
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, grpcServingStatus(healthcheck.StatusDegraded))
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, grpcServingStatus(healthcheck.StatusUnhealthy))
}

func freeAddr(t *testing.T) string {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()
	return listener.Addr().String()
}
