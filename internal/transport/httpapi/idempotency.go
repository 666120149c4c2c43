package httpapi

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orderengine/internal/domain"
)

const (
	// HeaderIdempotencyKey передаёт ключ идемпотентности запроса.
	HeaderIdempotencyKey = "Idempotency-Key"
	// HeaderIdempotentReplay помечает ответ, воспроизведённый из сохранённого.
	HeaderIdempotentReplay = "Idempotent-Replayed"

	idempotencyStoreTimeout = 5 * time.Second
)

// idempotent выполняет обработчик не более одного раза на ключ вызывающего.
// Повтор с тем же телом получает сохранённый ответ с исходным статусом,
// с другим телом — 422, пока первый запрос выполняется — 409.
func (h *Handler) idempotent(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimSpace(r.Header.Get(HeaderIdempotencyKey))
		if key == "" || h.idempotency == nil {
			next.ServeHTTP(w, r)
			return
		}

		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err != nil {
			writeProblem(w, http.StatusBadRequest, codeInvalidJSON, "request body is too large or unreadable")
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))

		viewer := viewerFrom(r.Context())
		scopedKey := viewer.UserID + ":" + key
		hash := requestHash(r, viewer, body)
		logger := h.logger.WithFields(log.Fields{
			"idempotency_key": key,
			"user_id":         viewer.UserID,
		})

		record, err := h.idempotency.CreateProcessing(r.Context(), scopedKey, hash, h.now().Add(h.idempotencyTTL))
		if err != nil {
			h.replay(w, r, logger, record, err)
			return
		}

		rec := newBufferedResponse()
		next.ServeHTTP(rec, r)

		// Запись результата не должна зависеть от отмены запроса клиентом.
		ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), idempotencyStoreTimeout)
		defer cancel()
		status := rec.statusCode()
		if status < http.StatusBadRequest {
			err = h.idempotency.MarkDone(ctx, scopedKey, rec.body.Bytes(), status)
		} else {
			err = h.idempotency.MarkFailed(ctx, scopedKey, rec.body.Bytes(), status)
		}
		if err != nil {
			logger.WithError(err).Warn("failed to store idempotent response")
		}

		rec.flush(w)
	})
}

func (h *Handler) replay(w http.ResponseWriter, r *http.Request, logger *log.Entry, record domain.IdempotencyRecord, createErr error) {
	switch {
	case errors.Is(createErr, domain.ErrIdempotencyHashMismatch):
		writeProblem(w, http.StatusUnprocessableEntity, codeIdempotencyReused,
			"idempotency key is already used with a different request")
	case errors.Is(createErr, domain.ErrIdempotencyKeyAlreadyExists):
		switch {
		case record.Completed():
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set(HeaderIdempotentReplay, "true")
			w.WriteHeader(record.ReplayStatus())
			_, _ = w.Write(record.ResponseBody)
		case record.Status == domain.IdempotencyStatusProcessing:
			writeProblem(w, http.StatusConflict, codeIdempotencyPending,
				"request with the same idempotency key is already processing")
		default:
			logger.WithField("status", record.Status).Error("unknown idempotency record status")
			writeProblem(w, http.StatusInternalServerError, codeInternal, "internal error")
		}
	default:
		logger.WithError(createErr).Warn("failed to create idempotency record")
		h.writeError(w, r, createErr)
	}
}

// requestHash отпечаток запроса: метод, путь, вызывающий и тело.
func requestHash(r *http.Request, viewer domain.Viewer, body []byte) string {
	sum := sha256.New()
	for _, part := range []string{r.Method, r.URL.Path, viewer.Role.String(), viewer.UserID} {
		sum.Write([]byte(part))
		sum.Write([]byte{0})
	}
	sum.Write(body)
	return hex.EncodeToString(sum.Sum(nil))
}

// bufferedResponse копит ответ обработчика, чтобы сохранить его до отправки клиенту.
type bufferedResponse struct {
	header http.Header
	status int
	body   bytes.Buffer
}

func newBufferedResponse() *bufferedResponse {
	return &bufferedResponse{header: make(http.Header)}
}

func (b *bufferedResponse) Header() http.Header { return b.header }

func (b *bufferedResponse) WriteHeader(status int) {
	if b.status == 0 {
		b.status = status
	}
}

func (b *bufferedResponse) Write(p []byte) (int, error) {
	if b.status == 0 {
		b.status = http.StatusOK
	}
	return b.body.Write(p)
}

func (b *bufferedResponse) statusCode() int {
	if b.status == 0 {
		return http.StatusOK
	}
	return b.status
}

func (b *bufferedResponse) flush(w http.ResponseWriter) {
	dst := w.Header()
	for k, v := range b.header {
		dst[k] = append([]string(nil), v...)
	}
	w.WriteHeader(b.statusCode())
	_, _ = w.Write(b.body.Bytes())
}
