package runtime

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const metricsNamespace = "funcflow"

// invocationMetrics exports invocation counters and latencies to Prometheus.
type invocationMetrics struct {
	invocations *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	inFlight    *prometheus.GaugeVec
}

func newInvocationMetrics(reg prometheus.Registerer) (*invocationMetrics, error) {
	m := &invocationMetrics{
		invocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "invocations_total",
			Help:      "Function invocations by outcome.",
		}, []string{"function", "source", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "invocation_duration_seconds",
			Help:      "Duration of the whole invocation pipeline.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"function", "source"}),
		inFlight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "invocations_in_flight",
			Help:      "Invocations currently running.",
		}, []string{"function"}),
	}
	for _, c := range []prometheus.Collector{m.invocations, m.duration, m.inFlight} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// newMetricsRegistry returns a registry with the Go and process collectors.
func newMetricsRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Hooks records every invocation.
func (m *invocationMetrics) Hooks() InvocationHooks {
	return InvocationHooks{
		OnStart: func(info InvocationInfo) {
			m.inFlight.WithLabelValues(info.Function).Inc()
		},
		OnDone: func(info InvocationInfo) {
			m.observe(info, "success")
		},
		OnError: func(info InvocationInfo, err error) {
			m.observe(info, string(defaultErrorClassifier(err)))
		},
	}
}

func (m *invocationMetrics) observe(info InvocationInfo, outcome string) {
	m.inFlight.WithLabelValues(info.Function).Dec()
	m.invocations.WithLabelValues(info.Function, info.Source, outcome).Inc()
	m.duration.WithLabelValues(info.Function, info.Source).Observe(info.Duration.Seconds())
}
