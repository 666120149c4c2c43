package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestHTTPMetrics_ObserveRequest(t *testing.T) {
	m := NewHTTPMetricsWithRegisterer(prometheus.NewRegistry())

	m.ObserveRequest("POST", "/v1/orders", 201, 15*time.Millisecond)
	m.ObserveRequest("POST", "/v1/orders", 201, 5*time.Millisecond)
	m.ObserveRequest("GET", "", 404, time.Millisecond)

	if got := testutil.ToFloat64(m.requests.WithLabelValues("POST", "/v1/orders", "201")); got != 2 {
		t.Errorf("expected 2 created requests, got %f", got)
	}
	if got := testutil.ToFloat64(m.requests.WithLabelValues("GET", "unmatched", "404")); got != 1 {
		t.Errorf("expected unmatched route label, got %f", got)
	}
}

func TestHTTPMetrics_RequestStarted(t *testing.T) {
	m := NewHTTPMetricsWithRegisterer(prometheus.NewRegistry())

	done := m.RequestStarted()
	if got := testutil.ToFloat64(m.inflight); got != 1 {
		t.Fatalf("expected 1 in-flight request, got %f", got)
	}
	done()
	if got := testutil.ToFloat64(m.inflight); got != 0 {
		t.Fatalf("expected 0 in-flight requests, got %f", got)
	}
}

func TestHTTPMetrics_NilSafe(t *testing.T) {
	var m *HTTPMetrics
	m.RequestStarted()()
	m.ObserveRequest("GET", "/v1/orders", 200, time.Millisecond)
}
