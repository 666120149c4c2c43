package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
)

func counterValue(t *testing.T, c prometheus.Collector) float64 {
	t.Helper()
	return testutil.ToFloat64(c)
}

func TestNewEngineMetricsWithRegisterer(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewEngineMetricsWithRegisterer(reg)

	if m.ordersCreated == nil || m.checkoutFailures == nil || m.stockAdjustments == nil {
		t.Fatal("collectors should be initialised")
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	// Vec-коллекторы без меток не попадают в Gather, скалярные попадают сразу.
	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, want := range []string{
		"orderengine_orders_created_total",
		"orderengine_checkouts_in_flight",
		"orderengine_stock_rejections_total",
		"orderengine_timeline_events_total",
		"orderengine_outbox_enqueued_total",
	} {
		if !names[want] {
			t.Errorf("metric %s is not registered", want)
		}
	}
}

func TestNewEngineMetricsReusesRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	first := NewEngineMetricsWithRegisterer(reg)
	second := NewEngineMetricsWithRegisterer(reg)

	first.RecordOrderCreated()
	second.RecordOrderCreated()

	if got := counterValue(t, first.ordersCreated); got != 2 {
		t.Errorf("expected shared counter value 2, got %f", got)
	}
}

func TestRecordStockAdjustment(t *testing.T) {
	m := NewEngineMetricsWithRegisterer(prometheus.NewRegistry())

	m.RecordStockAdjustment("decrement", 3)
	m.RecordStockAdjustment("decrement", 2)
	m.RecordStockAdjustment("restore", 4)

	if got := counterValue(t, m.stockAdjustments.WithLabelValues("decrement")); got != 2 {
		t.Errorf("expected 2 decrements, got %f", got)
	}
	if got := counterValue(t, m.stockUnits.WithLabelValues("decrement")); got != 5 {
		t.Errorf("expected 5 decremented units, got %f", got)
	}
	if got := counterValue(t, m.stockUnits.WithLabelValues("restore")); got != 4 {
		t.Errorf("expected 4 restored units, got %f", got)
	}
}

func TestCheckoutStartedTracksInFlight(t *testing.T) {
	m := NewEngineMetricsWithRegisterer(prometheus.NewRegistry())

	done := m.CheckoutStarted()
	if got := testutil.ToFloat64(m.inflightCheckouts); got != 1 {
		t.Errorf("expected 1 checkout in flight, got %f", got)
	}

	done()
	if got := testutil.ToFloat64(m.inflightCheckouts); got != 0 {
		t.Errorf("expected 0 checkouts in flight, got %f", got)
	}
}

func TestRecordItemTransitionsAndDuration(t *testing.T) {
	m := NewEngineMetricsWithRegisterer(prometheus.NewRegistry())

	m.RecordItemTransitions("cancelled", 3)
	m.RecordItemTransitions("cancelled", 0)
	m.RecordOperationDuration("checkout", 100*time.Millisecond)
	m.RecordOperationDuration("checkout", 300*time.Millisecond)

	if got := counterValue(t, m.itemTransitions.WithLabelValues("cancelled")); got != 3 {
		t.Errorf("expected 3 transitions, got %f", got)
	}

	m.RecordOperationDuration("fulfillment", 50*time.Millisecond)
	if got := testutil.CollectAndCount(m.operationDuration); got != 2 {
		t.Errorf("expected 2 labelled histogram series, got %d", got)
	}
}

func TestNilEngineMetricsIsNoop(t *testing.T) {
	var m *EngineMetrics

	m.RecordOrderCreated()
	m.RecordCheckoutFailure("insufficient_stock")
	m.RecordStockAdjustment("restore", 1)
	m.RecordStockRejected()
	m.RecordItemTransitions("shipped", 1)
	m.RecordOperationDuration("checkout", time.Millisecond)
	m.RecordTimelineEvent()
	m.RecordOutboxEvent()
	m.CheckoutStarted()()
}

func TestRecordOperationDurationHistogram(t *testing.T) {
	m := NewEngineMetricsWithRegisterer(prometheus.NewRegistry())

	m.RecordOperationDuration("checkout", 100*time.Millisecond)
	m.RecordOperationDuration("checkout", 300*time.Millisecond)

	observer, err := m.operationDuration.GetMetricWithLabelValues("checkout")
	if err != nil {
		t.Fatalf("get histogram: %v", err)
	}
	histogram, ok := observer.(prometheus.Histogram)
	if !ok {
		t.Fatalf("expected prometheus.Histogram, got %T", observer)
	}

	metric := &dto.Metric{}
	if err := histogram.Write(metric); err != nil {
		t.Fatalf("failed to write metric: %v", err)
	}

	if got := metric.Histogram.GetSampleCount(); got != 2 {
		t.Errorf("expected 2 samples, got %d", got)
	}
	if got := metric.Histogram.GetSampleSum(); got < 0.399 || got > 0.401 {
		t.Errorf("expected sample sum 0.4, got %f", got)
	}
}
