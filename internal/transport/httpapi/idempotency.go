package httpapi

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/mall/internal/domain"
)

const (
	// IdempotencyKeyHeader - заголовок с клиентским ключом повтора.
	IdempotencyKeyHeader = "Idempotency-Key"
	// IdempotentReplayHeader выставляется на ответах, взятых из кеша ключей.
	IdempotentReplayHeader = "Idempotent-Replayed"

	maxIdempotencyKeyLen = 255
)

// idempotent оборачивает мутирующий обработчик: первый запрос с ключом выполняется,
// его ответ сохраняется, повтор с тем же телом получает сохранённый ответ.
// Успех и отказ валидации (4xx) повторяются из кеша. Конфликт (409) и сбой (5xx)
// можно повторить, поэтому ключ освобождается и повтор выполняется заново.
func (a *api) idempotent(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimSpace(r.Header.Get(IdempotencyKeyHeader))
		if a.idem == nil || key == "" {
			next.ServeHTTP(w, r)
			return
		}
		if len(key) > maxIdempotencyKeyLen {
			writeErrorBody(w, http.StatusBadRequest, domain.KindInvalidArgument, "Idempotency-Key is too long")
			return
		}

		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err != nil {
			writeErrorBody(w, http.StatusBadRequest, domain.KindInvalidArgument, "failed to read request body")
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))

		logger := a.logger.WithFields(log.Fields{
			"idempotency_key": key,
			"path":            r.URL.Path,
		})

		hash := domain.IdempotencyRequestHash(r.Method, r.URL.Path, body)
		record, err := a.idem.CreateProcessing(r.Context(), key, hash, a.now().Add(a.idemTTL))
		if err != nil {
			a.replay(w, logger, err, record)
			return
		}

		// Клиент мог уйти, а ответ всё равно нужно зафиксировать.
		ctx := context.WithoutCancel(r.Context())
		defer func() {
			if rec := recover(); rec != nil {
				a.settle(ctx, logger, key, http.StatusInternalServerError, nil)
				panic(rec)
			}
		}()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		var captured bytes.Buffer
		ww.Tee(&captured)

		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		a.settle(ctx, logger, key, status, captured.Bytes())
	})
}

// retryableStatus - ответы, которые не кешируются: повтор может пройти.
func retryableStatus(status int) bool {
	return status == http.StatusConflict || status >= http.StatusInternalServerError
}

func (a *api) settle(ctx context.Context, logger *log.Entry, key string, status int, body []byte) {
	var err error
	switch {
	case status < http.StatusBadRequest:
		err = a.idem.MarkDone(ctx, key, body, status)
	case retryableStatus(status):
		err = a.idem.Release(ctx, key)
	default:
		err = a.idem.MarkFailed(ctx, key, body, status)
	}
	if err != nil {
		logger.WithError(err).WithField("status", status).Warn("failed to store idempotent response")
	}
}

func (a *api) replay(w http.ResponseWriter, logger *log.Entry, createErr error, record domain.IdempotencyRecord) {
	switch {
	case errors.Is(createErr, domain.ErrIdempotencyHashMismatch):
		writeErrorBody(w, http.StatusConflict, domain.KindConflict,
			"idempotency key is already used with different request payload")
	case errors.Is(createErr, domain.ErrIdempotencyKeyAlreadyExists):
		switch {
		case record.Status == domain.IdempotencyStatusProcessing:
			writeErrorBody(w, http.StatusConflict, domain.KindConflict,
				"request with the same idempotency key is already processing")
		case record.Replayable() && len(record.ResponseBody) > 0:
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set(IdempotentReplayHeader, "true")
			w.WriteHeader(record.HTTPStatus)
			if _, err := w.Write(record.ResponseBody); err != nil {
				logger.WithError(err).Warn("failed to write replayed response")
			}
		default:
			logger.WithField("status", record.Status).Warn("idempotency record has no stored response")
			writeErrorBody(w, http.StatusInternalServerError, domain.KindInternal, "idempotency cache is empty")
		}
	default:
		logger.WithError(createErr).Warn("failed to create idempotency record")
		writeErrorBody(w, http.StatusInternalServerError, domain.KindInternal, "failed to initialize idempotency request")
	}
}
