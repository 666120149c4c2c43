// Package httpapi — HTTP JSON API движка заказов поверх chi.
//
// Вызывающий определяется заголовками X-User-ID и X-User-Role, которые
// проставляет внешний auth-слой. Оформление заказа поддерживает Idempotency-Key.
package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/vladislavdragonenkov/orderengine/internal/domain"
	"github.com/vladislavdragonenkov/orderengine/internal/metrics"
	"github.com/vladislavdragonenkov/orderengine/internal/service/checkout"
)

const (
	tracerName = "github.com/vladislavdragonenkov/orderengine/internal/transport/httpapi"

	// DefaultIdempotencyTTL задаёт время жизни ключа идемпотентности.
	DefaultIdempotencyTTL = 24 * time.Hour
	// DefaultRequestTimeout ограничивает обработку одного запроса.
	DefaultRequestTimeout = 10 * time.Second

	maxBodyBytes = 1 << 20
)

// Checkout оформляет заказы.
type Checkout interface {
	CreateFromItems(ctx context.Context, req checkout.CreateOrderRequest) (domain.Order, error)
	CreateFromCart(ctx context.Context, req checkout.CartCheckoutRequest) (domain.Order, error)
}

// Fulfillment меняет статусы и отменяет позиции.
type Fulfillment interface {
	UpdateStatus(ctx context.Context, viewer domain.Viewer, itemID string, target domain.ItemStatus) error
	Cancel(ctx context.Context, viewer domain.Viewer, itemID string) error
	BulkUpdateStatus(ctx context.Context, viewer domain.Viewer, itemIDs []string, target domain.ItemStatus) error
	BulkCancel(ctx context.Context, viewer domain.Viewer, itemIDs []string) error
	CancelOrder(ctx context.Context, viewer domain.Viewer, orderID string) error
}

// OrderQueries читает заказы.
type OrderQueries interface {
	GetOrder(ctx context.Context, viewer domain.Viewer, orderID string) (domain.Order, error)
	ListOrders(ctx context.Context, viewer domain.Viewer, filter domain.OrderFilter) (domain.OrderPage, error)
	SellerOrderItems(ctx context.Context, viewer domain.Viewer, orderID string) ([]domain.OrderItem, error)
	GetOrderItem(ctx context.Context, viewer domain.Viewer, itemID string) (domain.OrderItem, error)
	Stats(ctx context.Context, viewer domain.Viewer) (domain.OrderStats, error)
	CanCancelOrder(ctx context.Context, viewer domain.Viewer, orderID string) (bool, error)
	Timeline(ctx context.Context, viewer domain.Viewer, orderID string) ([]domain.TimelineEvent, error)
}

// Option настраивает Handler.
type Option func(*Handler)

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithMetrics подключает метрики HTTP.
func WithMetrics(m *metrics.HTTPMetrics) Option {
	return func(h *Handler) {
		h.metrics = m
	}
}

// WithIdempotency включает обработку Idempotency-Key на оформлении заказа.
func WithIdempotency(repo domain.IdempotencyRepository, ttl time.Duration) Option {
	return func(h *Handler) {
		h.idempotency = repo
		if ttl > 0 {
			h.idempotencyTTL = ttl
		}
	}
}

// WithRequestTimeout задаёт дедлайн обработки запроса. 0 отключает ограничение.
func WithRequestTimeout(timeout time.Duration) Option {
	return func(h *Handler) {
		h.requestTimeout = timeout
	}
}

// WithTracer задаёт OpenTelemetry tracer.
func WithTracer(tracer trace.Tracer) Option {
	return func(h *Handler) {
		if tracer != nil {
			h.tracer = tracer
		}
	}
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(h *Handler) {
		if now != nil {
			h.now = now
		}
	}
}

// Handler связывает HTTP-маршруты с сервисами движка.
type Handler struct {
	checkout    Checkout
	fulfillment Fulfillment
	queries     OrderQueries

	idempotency    domain.IdempotencyRepository
	idempotencyTTL time.Duration
	requestTimeout time.Duration

	logger  *log.Entry
	metrics *metrics.HTTPMetrics
	tracer  trace.Tracer
	now     func() time.Time
}

// NewHandler создаёт HTTP-обработчик.
func NewHandler(co Checkout, ff Fulfillment, q OrderQueries, opts ...Option) *Handler {
	h := &Handler{
		checkout:       co,
		fulfillment:    ff,
		queries:        q,
		idempotencyTTL: DefaultIdempotencyTTL,
		requestTimeout: DefaultRequestTimeout,
		logger:         log.WithField("component", "http-api"),
		tracer:         otel.Tracer(tracerName),
		now:            func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes собирает chi-роутер со всеми маршрутами /v1.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(h.recoverer)
	r.Use(h.accessLog)
	r.Use(h.instrument)
	if h.requestTimeout > 0 {
		r.Use(middleware.Timeout(h.requestTimeout))
	}

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		writeProblem(w, http.StatusNotFound, codeRouteNotFound, fmt.Sprintf("no route for %s", req.URL.Path))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		writeProblem(w, http.StatusMethodNotAllowed, codeMethodNotAllowed,
			fmt.Sprintf("method %s not allowed on %s", req.Method, req.URL.Path))
	})

	r.Route("/v1", func(r chi.Router) {
		r.Use(h.identify)

		r.Route("/orders", func(r chi.Router) {
			r.With(h.idempotent).Post("/", h.createOrder)
			r.With(h.idempotent).Post("/from-cart", h.createOrderFromCart)
			r.Get("/", h.listOrders)
			r.Get("/stats", h.orderStats)

			r.Route("/{orderID}", func(r chi.Router) {
				r.Get("/", h.getOrder)
				r.Get("/items", h.sellerOrderItems)
				r.Get("/cancellable", h.canCancelOrder)
				r.Get("/timeline", h.orderTimeline)
				r.Post("/cancel", h.cancelOrder)
			})
		})

		r.Route("/order-items", func(r chi.Router) {
			r.Post("/bulk-status", h.bulkUpdateStatus)
			r.Post("/bulk-cancel", h.bulkCancel)
			r.Get("/{itemID}", h.getOrderItem)
			r.Patch("/{itemID}/status", h.updateItemStatus)
			r.Post("/{itemID}/cancel", h.cancelItem)
		})
	})

	return r
}
