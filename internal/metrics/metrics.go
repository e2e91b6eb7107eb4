package metrics

type Counter interface {
	Inc()
}

// PairGauge is a gauge labelled by pair name.
type PairGauge interface {
	Set(pair string, value float64)
}

type Metrics struct {
	OrdersPlaced   Counter
	OrdersFailed   Counter
	Entries        Counter
	ScaleIns       Counter
	Flattens       Counter
	SampleFailures Counter
	NotifyFailures Counter

	PairOffset    PairGauge
	PairGridLevel PairGauge
}

type noopCounter struct{}

func (noopCounter) Inc() {}

type noopGauge struct{}

func (noopGauge) Set(string, float64) {}

func NewNoop() *Metrics {
	n := noopCounter{}
	g := noopGauge{}
	return &Metrics{
		OrdersPlaced:   n,
		OrdersFailed:   n,
		Entries:        n,
		ScaleIns:       n,
		Flattens:       n,
		SampleFailures: n,
		NotifyFailures: n,
		PairOffset:     g,
		PairGridLevel:  g,
	}
}
