package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/mall/internal/domain"
	"github.com/vladislavdragonenkov/mall/internal/storage/memory"
	"github.com/vladislavdragonenkov/mall/internal/transport/httpapi"
)

type stubPlacer struct {
	err   error
	calls int
}

func (s *stubPlacer) PlaceOrder(context.Context, int64, []domain.BuyItem) (int64, error) {
	s.calls++
	if s.err != nil {
		return 0, s.err
	}
	return 42, nil
}

type stubQueries struct {
	order domain.Order
	err   error
}

func (s stubQueries) ListOrders(context.Context, domain.OrderQuery) (domain.Page[domain.Order], error) {
	return domain.Page[domain.Order]{}, s.err
}

func (s stubQueries) GetOrder(context.Context, int64) (domain.Order, error) {
	return s.order, s.err
}

func (s stubQueries) GetUserOrder(context.Context, int64, int64) (domain.Order, error) {
	return s.order, s.err
}

func TestCreateOrder_ErrorKindsMapToStatus(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"invalid", domain.InvalidArgument(domain.ErrEmptyCart, "empty cart"), http.StatusBadRequest, "invalid_argument"},
		{"conflict", domain.Conflict(domain.ErrStockConflict, "retry"), http.StatusConflict, "conflict"},
		{"internal", domain.Internal(errors.New("db down"), "order transaction failed"), http.StatusInternalServerError, "internal"},
		{"untyped", errors.New("boom"), http.StatusInternalServerError, "internal"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			handler := httpapi.NewHandler(httpapi.Dependencies{
				Orders:  &stubPlacer{err: tc.err},
				Queries: stubQueries{},
			})

			req := httptest.NewRequest(http.MethodPost, "/users/1/orders", bytes.NewBufferString(`{"buyItemList":[]}`))
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			require.Equal(t, tc.status, rec.Code)

			var body struct {
				Error struct {
					Code    string `json:"code"`
					Message string `json:"message"`
				} `json:"error"`
			}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tc.code, body.Error.Code)
			assert.NotContains(t, body.Error.Message, "boom")
		})
	}
}

func TestCreateOrder_ReloadFailureStillCreated(t *testing.T) {
	t.Parallel()

	handler := httpapi.NewHandler(httpapi.Dependencies{
		Orders:  &stubPlacer{},
		Queries: stubQueries{err: domain.Internal(errors.New("replica lag"), "failed to load order")},
	})

	req := httptest.NewRequest(http.MethodPost, "/users/7/orders", bytes.NewBufferString(`{"buyItemList":[{"productId":1,"quantity":1}]}`))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.JSONEq(t, `{"orderId":42,"userId":7,"totalAmount":0,"orderItemList":[],"createDate":"0001-01-01T00:00:00Z","lastModifiedDate":"0001-01-01T00:00:00Z"}`, rec.Body.String())
}

func TestCreateOrder_IdempotencyKeyInFlight(t *testing.T) {
	t.Parallel()

	repo := memory.NewIdempotencyRepository()
	placer := &stubPlacer{}
	handler := httpapi.NewHandler(httpapi.Dependencies{
		Orders:      placer,
		Queries:     stubQueries{},
		Idempotency: repo,
	})

	body := []byte(`{"buyItemList":[{"productId":1,"quantity":1}]}`)
	hash := domain.IdempotencyRequestHash(http.MethodPost, "/users/1/orders", body)
	_, err := repo.CreateProcessing(context.Background(), "in-flight", hash, time.Now().Add(time.Hour))
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/users/1/orders", bytes.NewReader(body))
	req.Header.Set(httpapi.IdempotencyKeyHeader, "in-flight")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Zero(t, placer.calls)
}

func TestCreateOrder_WithoutIdempotencyRepositoryIgnoresHeader(t *testing.T) {
	t.Parallel()

	placer := &stubPlacer{}
	handler := httpapi.NewHandler(httpapi.Dependencies{Orders: placer, Queries: stubQueries{}})

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/users/1/orders", bytes.NewBufferString(`{"buyItemList":[{"productId":1,"quantity":1}]}`))
		req.Header.Set(httpapi.IdempotencyKeyHeader, "same")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		require.Equal(t, http.StatusCreated, rec.Code)
	}
	assert.Equal(t, 2, placer.calls)
}

// sequencePlacer возвращает ошибки по очереди, затем успех.
type sequencePlacer struct {
	errs   []error
	panics bool
	calls  int
}

func (s *sequencePlacer) PlaceOrder(context.Context, int64, []domain.BuyItem) (int64, error) {
	s.calls++
	if s.panics && s.calls == 1 {
		panic("placer exploded")
	}
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		return 0, err
	}
	return 42, nil
}

func postWithKey(t *testing.T, handler http.Handler, key string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/users/1/orders", bytes.NewBufferString(`{"buyItemList":[{"productId":1,"quantity":1}]}`))
	req.Header.Set(httpapi.IdempotencyKeyHeader, key)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestCreateOrder_RetryableOutcomeIsNotCached(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		err    error
		status int
	}{
		{"conflict", domain.Conflict(domain.ErrStockConflict, "stock taken, retry"), http.StatusConflict},
		{"internal", domain.Internal(errors.New("db down"), "order transaction failed"), http.StatusInternalServerError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			repo := memory.NewIdempotencyRepository()
			placer := &sequencePlacer{errs: []error{tc.err}}
			handler := httpapi.NewHandler(httpapi.Dependencies{Orders: placer, Queries: stubQueries{}, Idempotency: repo})

			first := postWithKey(t, handler, "retry-"+tc.name)
			require.Equal(t, tc.status, first.Code)

			_, err := repo.Get(context.Background(), "retry-"+tc.name)
			require.ErrorIs(t, err, domain.ErrIdempotencyKeyNotFound)

			second := postWithKey(t, handler, "retry-"+tc.name)
			require.Equal(t, http.StatusCreated, second.Code, second.Body.String())
			assert.Empty(t, second.Header().Get(httpapi.IdempotentReplayHeader))
			assert.Equal(t, 2, placer.calls)

			third := postWithKey(t, handler, "retry-"+tc.name)
			require.Equal(t, http.StatusCreated, third.Code)
			assert.Equal(t, "true", third.Header().Get(httpapi.IdempotentReplayHeader))
			assert.Equal(t, 2, placer.calls)
		})
	}
}

func TestCreateOrder_PanicReleasesIdempotencyKey(t *testing.T) {
	t.Parallel()

	repo := memory.NewIdempotencyRepository()
	placer := &sequencePlacer{panics: true}
	handler := httpapi.NewHandler(httpapi.Dependencies{Orders: placer, Queries: stubQueries{}, Idempotency: repo})

	first := postWithKey(t, handler, "panicky")
	require.Equal(t, http.StatusInternalServerError, first.Code)

	_, err := repo.Get(context.Background(), "panicky")
	require.ErrorIs(t, err, domain.ErrIdempotencyKeyNotFound, "key must not stay processing")

	second := postWithKey(t, handler, "panicky")
	require.Equal(t, http.StatusCreated, second.Code, second.Body.String())
	assert.Equal(t, 2, placer.calls)
}

func TestCreateOrder_ValidationFailureIsReplayed(t *testing.T) {
	t.Parallel()

	repo := memory.NewIdempotencyRepository()
	placer := &sequencePlacer{errs: []error{domain.InvalidArgument(domain.ErrStockNotEnough, "stock not enough")}}
	handler := httpapi.NewHandler(httpapi.Dependencies{Orders: placer, Queries: stubQueries{}, Idempotency: repo})

	first := postWithKey(t, handler, "rejected")
	require.Equal(t, http.StatusBadRequest, first.Code)

	second := postWithKey(t, handler, "rejected")
	require.Equal(t, http.StatusBadRequest, second.Code)
	assert.Equal(t, "true", second.Header().Get(httpapi.IdempotentReplayHeader))
	assert.Equal(t, 1, placer.calls)
}
