package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orderengine/internal/domain"
)

// Коды ошибок в теле ответа.
const (
	codeInvalidRequest     = "invalid_request"
	codeInvalidJSON        = "invalid_json"
	codeUnauthenticated    = "unauthenticated"
	codeForbidden          = "forbidden"
	codeOrderNotFound      = "order_not_found"
	codeItemNotFound       = "order_item_not_found"
	codeProductNotFound    = "product_not_found"
	codeInsufficientStock  = "insufficient_stock"
	codeInvalidTransition  = "invalid_status_transition"
	codeEmptyCart          = "empty_cart"
	codeConflict           = "conflict"
	codeIdempotencyReused  = "idempotency_key_reused"
	codeIdempotencyPending = "idempotency_in_progress"
	codeTimeout            = "timeout"
	codeUnavailable        = "unavailable"
	codeInternal           = "internal"
	codeRouteNotFound      = "route_not_found"
	codeMethodNotAllowed   = "method_not_allowed"
)

type errorEnvelope struct {
	Error errorPayload `json:"error"`
}

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type transitionFailure struct {
	ItemID  string `json:"item_id"`
	From    string `json:"from"`
	To      string `json:"to"`
	Message string `json:"message"`
}

// apiError хранит уже классифицированную ошибку, готовую к записи в ответ.
type apiError struct {
	status  int
	code    string
	message string
	details any
}

// classify сопоставляет ошибку движка HTTP-статусу, коду и деталям.
func classify(err error) apiError {
	var (
		bulkErr       *domain.BulkTransitionError
		transitionErr *domain.InvalidTransitionError
		itemsErr      *domain.ItemsNotFoundError
		productErr    *domain.ProductNotFoundError
		stockErr      *domain.InsufficientStockError
	)

	switch {
	case errors.As(err, &bulkErr):
		failures := make([]transitionFailure, 0, len(bulkErr.Failures))
		for i := range bulkErr.Failures {
			failures = append(failures, toTransitionFailure(&bulkErr.Failures[i]))
		}
		return apiError{http.StatusUnprocessableEntity, codeInvalidTransition, err.Error(), map[string]any{"failures": failures}}
	case errors.As(err, &transitionErr):
		return apiError{http.StatusUnprocessableEntity, codeInvalidTransition, err.Error(),
			map[string]any{"failures": []transitionFailure{toTransitionFailure(transitionErr)}}}
	case errors.As(err, &itemsErr):
		return apiError{http.StatusNotFound, codeItemNotFound, err.Error(), map[string]any{"item_ids": itemsErr.IDs}}
	case errors.As(err, &productErr):
		return apiError{http.StatusNotFound, codeProductNotFound, err.Error(), map[string]any{"product_id": productErr.ProductID}}
	case errors.As(err, &stockErr):
		return apiError{http.StatusConflict, codeInsufficientStock, err.Error(), map[string]any{
			"product_id": stockErr.ProductID,
			"requested":  stockErr.Requested,
			"available":  stockErr.Available,
		}}
	case errors.Is(err, domain.ErrOrderNotFound):
		return apiError{status: http.StatusNotFound, code: codeOrderNotFound, message: err.Error()}
	case errors.Is(err, domain.ErrOrderItemNotFound):
		return apiError{status: http.StatusNotFound, code: codeItemNotFound, message: err.Error()}
	case errors.Is(err, domain.ErrProductNotFound):
		return apiError{status: http.StatusNotFound, code: codeProductNotFound, message: err.Error()}
	case errors.Is(err, domain.ErrInsufficientStock):
		return apiError{status: http.StatusConflict, code: codeInsufficientStock, message: err.Error()}
	case errors.Is(err, domain.ErrInvalidStatusTransition):
		return apiError{status: http.StatusUnprocessableEntity, code: codeInvalidTransition, message: err.Error()}
	case errors.Is(err, domain.ErrEmptyCart):
		return apiError{status: http.StatusUnprocessableEntity, code: codeEmptyCart, message: err.Error()}
	case errors.Is(err, domain.ErrIdempotencyHashMismatch):
		return apiError{status: http.StatusUnprocessableEntity, code: codeIdempotencyReused, message: err.Error()}
	case errors.Is(err, domain.ErrConflict):
		return apiError{status: http.StatusConflict, code: codeConflict, message: err.Error()}
	case errors.Is(err, domain.ErrForbidden):
		return apiError{status: http.StatusForbidden, code: codeForbidden, message: err.Error()}
	case errors.Is(err, domain.ErrUnauthenticated):
		return apiError{status: http.StatusUnauthorized, code: codeUnauthenticated, message: err.Error()}
	case domain.IsValidation(err):
		return apiError{status: http.StatusBadRequest, code: codeInvalidRequest, message: err.Error()}
	case errors.Is(err, context.DeadlineExceeded):
		return apiError{status: http.StatusGatewayTimeout, code: codeTimeout, message: "request timed out"}
	case errors.Is(err, context.Canceled):
		return apiError{status: http.StatusServiceUnavailable, code: codeUnavailable, message: "request cancelled"}
	default:
		// ErrPersistence и всё неожиданное: причину пишем в лог, наружу не отдаём.
		return apiError{status: http.StatusInternalServerError, code: codeInternal, message: "internal error"}
	}
}

func toTransitionFailure(e *domain.InvalidTransitionError) transitionFailure {
	return transitionFailure{
		ItemID:  e.ItemID,
		From:    string(e.From),
		To:      string(e.To),
		Message: domain.TransitionError(e.From, e.To),
	}
}

// writeError классифицирует ошибку, логирует серверные сбои и пишет JSON-ответ.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	apiErr := classify(err)
	if apiErr.status >= http.StatusInternalServerError {
		h.logger.WithError(err).WithFields(log.Fields{
			"request_id": middleware.GetReqID(r.Context()),
			"method":     r.Method,
			"path":       r.URL.Path,
		}).Error("request failed")
	}
	writeAPIError(w, apiErr)
}

func writeProblem(w http.ResponseWriter, status int, code, message string) {
	writeAPIError(w, apiError{status: status, code: code, message: message})
}

func writeAPIError(w http.ResponseWriter, e apiError) {
	writeJSON(w, e.status, errorEnvelope{Error: errorPayload{
		Code:    e.code,
		Message: e.message,
		Details: e.details,
	}})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}
