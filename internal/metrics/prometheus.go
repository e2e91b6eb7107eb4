package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const promNamespace = "okx_grid_bot"

type promCounter struct {
	counter prometheus.Counter
}

func (p promCounter) Inc() {
	p.counter.Inc()
}

type promGauge struct {
	vec *prometheus.GaugeVec
}

func (p promGauge) Set(pair string, value float64) {
	p.vec.WithLabelValues(pair).Set(value)
}

type Prometheus struct {
	Metrics *Metrics

	registry       *prometheus.Registry
	ordersPlaced   prometheus.Counter
	ordersFailed   prometheus.Counter
	entries        prometheus.Counter
	scaleIns       prometheus.Counter
	flattens       prometheus.Counter
	sampleFailures prometheus.Counter
	notifyFailures prometheus.Counter
	pairOffset     *prometheus.GaugeVec
	pairGridLevel  *prometheus.GaugeVec
}

func newCounter(name, help string) prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      name,
		Help:      help,
	})
}

func NewPrometheus() *Prometheus {
	registry := prometheus.NewRegistry()
	p := &Prometheus{
		registry:       registry,
		ordersPlaced:   newCounter("orders_placed_total", "Total number of orders accepted by OKX."),
		ordersFailed:   newCounter("orders_failed_total", "Total number of order, leverage or close failures."),
		entries:        newCounter("entries_total", "Total number of spread entries."),
		scaleIns:       newCounter("scale_ins_total", "Total number of grid scale-ins."),
		flattens:       newCounter("flattens_total", "Total number of sign reversal flattens."),
		sampleFailures: newCounter("sample_failures_total", "Total number of pair evaluations skipped on sampling errors."),
		notifyFailures: newCounter("notify_failures_total", "Total number of failed notification deliveries."),
		pairOffset: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: promNamespace,
			Name:      "pair_offset",
			Help:      "Latest relative offset of the live ratio from the baseline.",
		}, []string{"pair"}),
		pairGridLevel: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: promNamespace,
			Name:      "pair_grid_level",
			Help:      "Latest grid level of the pair offset.",
		}, []string{"pair"}),
	}
	registry.MustRegister(
		p.ordersPlaced,
		p.ordersFailed,
		p.entries,
		p.scaleIns,
		p.flattens,
		p.sampleFailures,
		p.notifyFailures,
		p.pairOffset,
		p.pairGridLevel,
	)
	p.Metrics = &Metrics{
		OrdersPlaced:   promCounter{p.ordersPlaced},
		OrdersFailed:   promCounter{p.ordersFailed},
		Entries:        promCounter{p.entries},
		ScaleIns:       promCounter{p.scaleIns},
		Flattens:       promCounter{p.flattens},
		SampleFailures: promCounter{p.sampleFailures},
		NotifyFailures: promCounter{p.notifyFailures},
		PairOffset:     promGauge{p.pairOffset},
		PairGridLevel:  promGauge{p.pairGridLevel},
	}
	return p
}

func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}
