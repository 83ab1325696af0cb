package queue

import "github.com/prometheus/client_golang/prometheus"

// Metrics wires a Queue's scheduling state into Prometheus, grounded
// in the same promhttp.Handler() wiring the demo binaries use. A nil
// *Metrics is always safe: Queue checks for nil before every update,
// so metrics are purely optional instrumentation.
type Metrics struct {
	running     *prometheus.GaugeVec
	pending     *prometheus.GaugeVec
	completions *prometheus.CounterVec
}

// NewMetrics constructs a Metrics and registers its collectors with
// reg. Pass prometheus.DefaultRegisterer to expose them on the
// default /metrics handler (the one cmd/queuedemo's serve command
// serves; queuedemo itself never calls NewMetrics).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		running: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "reqqueue_requests_running",
			Help: "Number of Operations currently in the running substate.",
		}, []string{"queue"}),
		pending: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "reqqueue_requests_pending",
			Help: "Number of Operations currently pending (ready or running).",
		}, []string{"queue"}),
		completions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reqqueue_completions_total",
			Help: "Terminal Operation outcomes, by outcome.",
		}, []string{"queue", "outcome"}),
	}

	reg.MustRegister(m.running, m.pending, m.completions)
	return m
}

func (m *Metrics) setRunning(queueName string, n int) {
	if m == nil {
		return
	}
	m.running.WithLabelValues(label(queueName)).Set(float64(n))
}

func (m *Metrics) setPending(queueName string, n int) {
	if m == nil {
		return
	}
	m.pending.WithLabelValues(label(queueName)).Set(float64(n))
}

func (m *Metrics) incCompletions(queueName, outcome string) {
	if m == nil {
		return
	}
	m.completions.WithLabelValues(label(queueName), outcome).Inc()
}

func label(queueName string) string {
	if queueName == "" {
		return "default"
	}
	return queueName
}
