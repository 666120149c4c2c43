package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// EngineMetrics содержит метрики оформления заказов, остатков и смены статусов.
// Нулевой указатель допустим: все методы Record* на nil ничего не делают.
type EngineMetrics struct {
	// Оформление
	ordersCreated     prometheus.Counter
	checkoutFailures  *prometheus.CounterVec
	inflightCheckouts prometheus.Gauge

	// Остатки
	stockAdjustments *prometheus.CounterVec
	stockUnits       *prometheus.CounterVec
	stockRejections  prometheus.Counter

	// Статусы позиций
	itemTransitions   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec

	timelineEvents prometheus.Counter
	outboxEnqueued prometheus.Counter
}

// NewEngineMetrics регистрирует метрики в prometheus.DefaultRegisterer.
func NewEngineMetrics() *EngineMetrics {
	return NewEngineMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewEngineMetricsWithRegisterer регистрирует метрики в переданном registerer.
// Повторная регистрация возвращает уже существующие коллекторы.
func NewEngineMetricsWithRegisterer(registerer prometheus.Registerer) *EngineMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &EngineMetrics{
		ordersCreated: registerCounter(registerer, prometheus.CounterOpts{
			Name: "orderengine_orders_created_total",
			Help: "Total number of orders created by checkout",
		}),
		checkoutFailures: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "orderengine_checkout_failures_total",
			Help: "Total number of rejected or failed checkouts grouped by reason",
		}, []string{"reason"}),
		inflightCheckouts: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "orderengine_checkouts_in_flight",
			Help: "Number of checkouts currently holding a transaction",
		}),
		stockAdjustments: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "orderengine_stock_adjustments_total",
			Help: "Total number of applied stock adjustments grouped by direction",
		}, []string{"direction"}),
		stockUnits: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "orderengine_stock_units_total",
			Help: "Total number of stock units moved grouped by direction",
		}, []string{"direction"}),
		stockRejections: registerCounter(registerer, prometheus.CounterOpts{
			Name: "orderengine_stock_rejections_total",
			Help: "Total number of conditional decrements rejected for insufficient stock",
		}),
		itemTransitions: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "orderengine_item_transitions_total",
			Help: "Total number of order items moved to a status",
		}, []string{"status"}),
		operationDuration: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "orderengine_operation_duration_seconds",
			Help:    "Duration of engine operations in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, []string{"operation"}),
		timelineEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "orderengine_timeline_events_total",
			Help: "Total number of timeline events recorded",
		}),
		outboxEnqueued: registerCounter(registerer, prometheus.CounterOpts{
			Name: "orderengine_outbox_enqueued_total",
			Help: "Total number of events written to the transactional outbox",
		}),
	}
}

func registerCounter(registerer prometheus.Registerer, opts prometheus.CounterOpts) prometheus.Counter {
	collector := prometheus.NewCounter(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Counter)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter %q: %v", opts.Name, err))
	}
	return collector
}

func registerCounterVec(registerer prometheus.Registerer, opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	collector := prometheus.NewCounterVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.CounterVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter vec %q: %v", opts.Name, err))
	}
	return collector
}

func registerGauge(registerer prometheus.Registerer, opts prometheus.GaugeOpts) prometheus.Gauge {
	collector := prometheus.NewGauge(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Gauge)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register gauge %q: %v", opts.Name, err))
	}
	return collector
}

func registerHistogramVec(registerer prometheus.Registerer, opts prometheus.HistogramOpts, labels []string) *prometheus.HistogramVec {
	collector := prometheus.NewHistogramVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.HistogramVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register histogram vec %q: %v", opts.Name, err))
	}
	return collector
}

// RecordOrderCreated увеличивает счётчик созданных заказов.
func (m *EngineMetrics) RecordOrderCreated() {
	if m == nil {
		return
	}
	m.ordersCreated.Inc()
}

// RecordCheckoutFailure учитывает отказ оформления с указанной причиной.
func (m *EngineMetrics) RecordCheckoutFailure(reason string) {
	if m == nil {
		return
	}
	m.checkoutFailures.WithLabelValues(reason).Inc()
}

// CheckoutStarted увеличивает число активных оформлений и возвращает функцию завершения.
func (m *EngineMetrics) CheckoutStarted() func() {
	if m == nil {
		return func() {}
	}
	m.inflightCheckouts.Inc()
	return m.inflightCheckouts.Dec
}

// RecordStockAdjustment учитывает применённое изменение остатка.
func (m *EngineMetrics) RecordStockAdjustment(direction string, quantity int64) {
	if m == nil {
		return
	}
	m.stockAdjustments.WithLabelValues(direction).Inc()
	m.stockUnits.WithLabelValues(direction).Add(float64(quantity))
}

// RecordStockRejected учитывает списание, отклонённое из-за нехватки остатка.
func (m *EngineMetrics) RecordStockRejected() {
	if m == nil {
		return
	}
	m.stockRejections.Inc()
}

// RecordItemTransitions учитывает count позиций, переведённых в status.
func (m *EngineMetrics) RecordItemTransitions(status string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.itemTransitions.WithLabelValues(status).Add(float64(count))
}

// RecordOperationDuration записывает время выполнения операции.
func (m *EngineMetrics) RecordOperationDuration(operation string, duration time.Duration) {
	if m == nil {
		return
	}
	m.operationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordTimelineEvent увеличивает счётчик событий timeline.
func (m *EngineMetrics) RecordTimelineEvent() {
	if m == nil {
		return
	}
	m.timelineEvents.Inc()
}

// RecordOutboxEvent увеличивает счётчик событий outbox.
func (m *EngineMetrics) RecordOutboxEvent() {
	if m == nil {
		return
	}
	m.outboxEnqueued.Inc()
}
