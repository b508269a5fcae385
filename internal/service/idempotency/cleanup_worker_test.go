package idempotency

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/mall/internal/domain"
	"github.com/vladislavdragonenkov/mall/internal/metrics"
	"github.com/vladislavdragonenkov/mall/internal/storage/memory"
)

func testMetrics() *metrics.CleanupMetrics {
	return metrics.NewCleanupMetricsWithRegisterer(prometheus.NewRegistry())
}

func TestCleanupWorker_Purge(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name       string
		results    []int
		errs       []error
		maxBatches int
		want       Sweep
		wantErr    bool
	}{
		{
			name:    "stops on partial batch",
			results: []int{2, 2, 1},
			want:    Sweep{Deleted: 5, Batches: 3},
		},
		{
			name:    "nothing expired",
			results: []int{0},
			want:    Sweep{Batches: 1},
		},
		{
			name:       "batch limit truncates",
			results:    []int{2, 2, 2, 2},
			maxBatches: 2,
			want:       Sweep{Deleted: 4, Batches: 2, Truncated: true},
		},
		{
			name:    "repository error keeps progress",
			results: []int{2},
			errs:    []error{nil, errors.New("db down")},
			want:    Sweep{Deleted: 2, Batches: 1},
			wantErr: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			repo := &stubCleanupRepo{deleteResults: tc.results, deleteErrors: tc.errs}
			worker := NewCleanupWorker(repo,
				WithBatchSize(2),
				WithMaxBatches(tc.maxBatches),
				WithMetrics(testMetrics()),
			)

			sweep, err := worker.Purge(context.Background())
			if tc.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
			require.Equal(t, tc.want, sweep)
		})
	}
}

func TestCleanupWorker_PurgeUsesClock(t *testing.T) {
	t.Parallel()

	at := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	repo := &stubCleanupRepo{}
	worker := NewCleanupWorker(repo, WithClock(func() time.Time { return at }), WithMetrics(testMetrics()))

	_, err := worker.Purge(context.Background())
	require.NoError(t, err)
	require.True(t, repo.lastBefore.Equal(at), "cutoff = %s", repo.lastBefore)
}

func TestCleanupWorker_PurgeCanceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	repo := &stubCleanupRepo{}
	_, err := NewCleanupWorker(repo, WithMetrics(testMetrics())).Purge(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.Zero(t, repo.calls())
}

func TestCleanupWorker_Run_StopsOnContextCancel(t *testing.T) {
	t.Parallel()

	repo := &stubCleanupRepo{}
	worker := NewCleanupWorker(repo,
		WithInterval(5*time.Millisecond),
		WithBatchSize(10),
		WithMetrics(testMetrics()),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		worker.Run(ctx)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop on context cancel")
	}
	require.NotZero(t, repo.calls(), "cleanup must run at least once")
}

func TestCleanupWorker_MemoryRepository(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := memory.NewIdempotencyRepository()
	now := time.Now().UTC()

	for _, key := range []string{"order-a", "order-b", "order-c"} {
		_, err := repo.CreateProcessing(ctx, key, "hash-"+key, now.Add(-time.Minute))
		require.NoError(t, err)
	}
	_, err := repo.CreateProcessing(ctx, "order-alive", "hash-alive", now.Add(time.Hour))
	require.NoError(t, err)

	worker := NewCleanupWorker(repo,
		WithBatchSize(2),
		WithClock(func() time.Time { return now }),
		WithMetrics(testMetrics()),
	)

	sweep, err := worker.Purge(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, sweep.Deleted)
	require.Equal(t, 2, sweep.Batches)

	_, err = repo.Get(ctx, "order-a")
	require.ErrorIs(t, err, domain.ErrIdempotencyKeyNotFound)

	record, err := repo.Get(ctx, "order-alive")
	require.NoError(t, err)
	require.Equal(t, domain.IdempotencyStatusProcessing, record.Status)
}

// stubCleanupRepo отдаёт результаты DeleteExpired по очереди;
// остальные методы интерфейса очистке не нужны.
type stubCleanupRepo struct {
	domain.IdempotencyRepository

	mu            sync.Mutex
	deleteResults []int
	deleteErrors  []error
	callCount     int
	lastBefore    time.Time
}

func (s *stubCleanupRepo) DeleteExpired(_ context.Context, before time.Time, _ int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.callCount++
	s.lastBefore = before

	if len(s.deleteErrors) > 0 {
		err := s.deleteErrors[0]
		s.deleteErrors = s.deleteErrors[1:]
		if err != nil {
			return 0, err
		}
	}
	if len(s.deleteResults) == 0 {
		return 0, nil
	}
	result := s.deleteResults[0]
	s.deleteResults = s.deleteResults[1:]
	return result, nil
}

func (s *stubCleanupRepo) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.callCount
}
