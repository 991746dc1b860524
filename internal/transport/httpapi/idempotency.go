package httpapi

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ordercrud/internal/domain"
)

const (
	// IdempotencyKeyHeader необязателен.
	IdempotencyKeyHeader = "Idempotency-Key"
	// IdempotentReplayedHeader выставляется на ответ, взятый из кэша.
	IdempotentReplayedHeader = "Idempotent-Replayed"

	idempotencyTTL = 24 * time.Hour
)

var panicResponseBody = mustMarshal(errorResponse{
	Error:   codeInternalError,
	Message: "internal server error",
})

// idempotency кэширует ответ на запрос с заголовком Idempotency-Key.
//
// Повтор с тем же ключом и тем же телом получает сохранённый ответ,
// повтор с другим телом получает 409. Запросы без заголовка проходят как есть.
type idempotency struct {
	repo   domain.IdempotencyRepository
	logger *log.Entry
	now    func() time.Time
}

func newIdempotency(repo domain.IdempotencyRepository, logger *log.Entry) *idempotency {
	return &idempotency{
		repo:   repo,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (m *idempotency) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimSpace(r.Header.Get(IdempotencyKeyHeader))
		if m == nil || m.repo == nil || key == "" {
			next.ServeHTTP(w, r)
			return
		}
		logger := m.logger.WithField("idempotency_key", key)

		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err != nil {
			writeError(w, http.StatusBadRequest, codeInvalidRequest, "failed to read request body", err.Error())
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))

		record, err := m.repo.CreateProcessing(r.Context(), key, requestHash(r, body), m.now().Add(idempotencyTTL))
		if err != nil {
			m.replay(w, logger, record, err)
			return
		}

		// Результат сохраняется, даже если клиент отключился.
		ctx := context.WithoutCancel(r.Context())

		// Паника обработчика не должна оставлять ключ в processing до истечения TTL.
		defer func() {
			if rec := recover(); rec != nil {
				if err := m.repo.MarkFailed(ctx, key, panicResponseBody, http.StatusInternalServerError); err != nil {
					logger.WithError(err).Warn("failed to mark idempotency key after panic")
				}
				panic(rec)
			}
		}()

		var captured bytes.Buffer
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		ww.Tee(&captured)

		next.ServeHTTP(ww, r)

		status := statusOf(ww)
		if status < http.StatusBadRequest {
			err = m.repo.MarkDone(ctx, key, captured.Bytes(), status)
		} else {
			err = m.repo.MarkFailed(ctx, key, captured.Bytes(), status)
		}
		if err != nil {
			logger.WithError(err).Warn("failed to store idempotent response")
		}
	})
}

func (m *idempotency) replay(w http.ResponseWriter, logger *log.Entry, record domain.IdempotencyRecord, createErr error) {
	switch {
	case errors.Is(createErr, domain.ErrIdempotencyHashMismatch):
		writeError(w, http.StatusConflict, codeIdempotencyConflict, "idempotency key is already used with different request payload")
	case errors.Is(createErr, domain.ErrIdempotencyKeyAlreadyExists):
		switch record.Status {
		case domain.IdempotencyStatusDone, domain.IdempotencyStatusFailed:
			status := record.HTTPStatus
			if status == 0 {
				status = http.StatusOK
			}
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set(IdempotentReplayedHeader, "true")
			w.WriteHeader(status)
			_, _ = w.Write(record.ResponseBody)
		case domain.IdempotencyStatusProcessing:
			writeError(w, http.StatusConflict, codeRequestInProgress, "request with the same idempotency key is already processing")
		default:
			logger.WithField("status", record.Status).Error("unknown idempotency record status")
			writeError(w, http.StatusInternalServerError, codeInternalError, "internal server error")
		}
	default:
		logger.WithError(createErr).Warn("failed to create idempotency record")
		writeError(w, http.StatusInternalServerError, codeInternalError, "internal server error")
	}
}

// requestHash связывает ключ с методом, путём и телом запроса.
func requestHash(r *http.Request, body []byte) string {
	h := sha256.New()
	h.Write([]byte(r.Method))
	h.Write([]byte{':'})
	h.Write([]byte(r.URL.Path))
	h.Write([]byte{':'})
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

func mustMarshal(v any) []byte {
	body, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return body
}
