package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestPrometheusCounters(t *testing.T) {
	prom := NewPrometheus()
	prom.Metrics.OrdersPlaced.Inc()
	prom.Metrics.OrdersPlaced.Inc()
	prom.Metrics.OrdersFailed.Inc()
	prom.Metrics.Entries.Inc()
	prom.Metrics.ScaleIns.Inc()
	prom.Metrics.Flattens.Inc()
	prom.Metrics.SampleFailures.Inc()
	prom.Metrics.NotifyFailures.Inc()

	assertCounter(t, prom.ordersPlaced, 2)
	assertCounter(t, prom.ordersFailed, 1)
	assertCounter(t, prom.entries, 1)
	assertCounter(t, prom.scaleIns, 1)
	assertCounter(t, prom.flattens, 1)
	assertCounter(t, prom.sampleFailures, 1)
	assertCounter(t, prom.notifyFailures, 1)
}

func TestPrometheusPairGauges(t *testing.T) {
	prom := NewPrometheus()
	prom.Metrics.PairOffset.Set("A/B", 0.105)
	prom.Metrics.PairGridLevel.Set("A/B", 2)

	if got := testutil.ToFloat64(prom.pairOffset.WithLabelValues("A/B")); got != 0.105 {
		t.Fatalf("expected offset 0.105, got %v", got)
	}
	if got := testutil.ToFloat64(prom.pairGridLevel.WithLabelValues("A/B")); got != 2 {
		t.Fatalf("expected grid level 2, got %v", got)
	}
}

func TestPrometheusHandlerExposesNamespace(t *testing.T) {
	prom := NewPrometheus()
	prom.Metrics.Entries.Inc()
	rec := httptest.NewRecorder()
	prom.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "okx_grid_bot_entries_total 1") {
		t.Fatalf("expected entries counter in output, got %s", rec.Body.String())
	}
}

func TestNoopMetrics(t *testing.T) {
	m := NewNoop()
	m.OrdersPlaced.Inc()
	m.PairOffset.Set("A/B", 1)
}

func assertCounter(t *testing.T, counter prometheus.Counter, expected float64) {
	t.Helper()
	if got := testutil.ToFloat64(counter); got != expected {
		t.Fatalf("expected %v, got %v", expected, got)
	}
}
