package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/vladislavdragonenkov/orderengine/internal/domain"
	"github.com/vladislavdragonenkov/orderengine/internal/service/checkout"
)

func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request) {
	viewer := viewerFrom(r.Context())
	if viewer.Role != domain.RoleBuyer {
		h.writeError(w, r, fmt.Errorf("%w: only buyers place orders", domain.ErrForbidden))
		return
	}

	var req createOrderRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeProblem(w, http.StatusBadRequest, codeInvalidJSON, err.Error())
		return
	}

	order, err := h.checkout.CreateFromItems(r.Context(), checkout.CreateOrderRequest{
		BuyerID:         viewer.UserID,
		Lines:           req.lines(),
		ShippingAddress: req.ShippingAddress,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	w.Header().Set("Location", "/v1/orders/"+order.ID)
	writeJSON(w, http.StatusCreated, toOrderResponse(order))
}

func (h *Handler) createOrderFromCart(w http.ResponseWriter, r *http.Request) {
	viewer := viewerFrom(r.Context())
	if viewer.Role != domain.RoleBuyer {
		h.writeError(w, r, fmt.Errorf("%w: only buyers place orders", domain.ErrForbidden))
		return
	}

	var req cartCheckoutRequest
	if err := decodeJSON(w, r, &req); err != nil && !errors.Is(err, errBodyRequired) {
		writeProblem(w, http.StatusBadRequest, codeInvalidJSON, err.Error())
		return
	}

	order, err := h.checkout.CreateFromCart(r.Context(), checkout.CartCheckoutRequest{
		BuyerID:         viewer.UserID,
		ShippingAddress: req.ShippingAddress,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	w.Header().Set("Location", "/v1/orders/"+order.ID)
	writeJSON(w, http.StatusCreated, toOrderResponse(order))
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	filter, err := parseOrderFilter(r.URL.Query())
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	page, err := h.queries.ListOrders(r.Context(), viewerFrom(r.Context()), filter)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	orders := make([]orderResponse, 0, len(page.Orders))
	for _, order := range page.Orders {
		orders = append(orders, toOrderResponse(order))
	}
	writeJSON(w, http.StatusOK, orderListResponse{
		Orders:   orders,
		Total:    page.Total,
		Page:     page.Page,
		PageSize: page.PageSize,
	})
}

func (h *Handler) orderStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.queries.Stats(r.Context(), viewerFrom(r.Context()))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toStatsResponse(stats))
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.queries.GetOrder(r.Context(), viewerFrom(r.Context()), chi.URLParam(r, "orderID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(order))
}

func (h *Handler) sellerOrderItems(w http.ResponseWriter, r *http.Request) {
	items, err := h.queries.SellerOrderItems(r.Context(), viewerFrom(r.Context()), chi.URLParam(r, "orderID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, orderItemsResponse{Items: toOrderItemsResponse(items)})
}

func (h *Handler) canCancelOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")
	ok, err := h.queries.CanCancelOrder(r.Context(), viewerFrom(r.Context()), orderID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cancellableResponse{OrderID: orderID, Cancellable: ok})
}

func (h *Handler) orderTimeline(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")
	events, err := h.queries.Timeline(r.Context(), viewerFrom(r.Context()), orderID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTimelineResponse(orderID, events))
}

// cancelOrder отменяет все видимые позиции и возвращает заказ после отмены.
func (h *Handler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	viewer := viewerFrom(r.Context())
	orderID := chi.URLParam(r, "orderID")
	if err := h.fulfillment.CancelOrder(r.Context(), viewer, orderID); err != nil {
		h.writeError(w, r, err)
		return
	}

	order, err := h.queries.GetOrder(r.Context(), viewer, orderID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(order))
}

// parseOrderFilter разбирает status, from, to, q, page и page_size.
// Границы страницы проверяет OrderFilter.Normalize в сервисе.
func parseOrderFilter(q url.Values) (domain.OrderFilter, error) {
	var filter domain.OrderFilter

	if raw := strings.TrimSpace(q.Get("status")); raw != "" {
		status, err := domain.ParseItemStatus(raw)
		if err != nil {
			return filter, err
		}
		filter.Status = status
	}

	var err error
	if filter.CreatedFrom, err = parseTimeParam(q.Get("from"), false); err != nil {
		return filter, fmt.Errorf("%w: from: %v", domain.ErrInvalidDateRange, err)
	}
	if filter.CreatedTo, err = parseTimeParam(q.Get("to"), true); err != nil {
		return filter, fmt.Errorf("%w: to: %v", domain.ErrInvalidDateRange, err)
	}

	filter.Search = strings.TrimSpace(q.Get("q"))

	if filter.Page, err = parseIntParam(q.Get("page")); err != nil {
		return filter, fmt.Errorf("%w: page must be an integer", domain.ErrInvalidPagination)
	}
	if filter.PageSize, err = parseIntParam(q.Get("page_size")); err != nil {
		return filter, fmt.Errorf("%w: page_size must be an integer", domain.ErrInvalidPagination)
	}
	return filter, nil
}

// parseTimeParam принимает RFC 3339 или дату YYYY-MM-DD. Дата как верхняя граница
// включает весь день.
func parseTimeParam(raw string, endOfDay bool) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	if ts, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return ts.UTC(), nil
	}
	day, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("expected RFC 3339 timestamp or YYYY-MM-DD, got %q", raw)
	}
	if endOfDay {
		return day.Add(24*time.Hour - time.Nanosecond), nil
	}
	return day, nil
}

func parseIntParam(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}
