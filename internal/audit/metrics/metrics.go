package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	WritesTotal           prometheus.Counter
	WriteFailuresTotal    *prometheus.CounterVec
	PolicyViolationsTotal *prometheus.CounterVec
	WriteDurationMS       prometheus.Histogram
	SignalsTotal          *prometheus.CounterVec
	IntegrityPercent      prometheus.Gauge
}

func New() *Metrics {
	return &Metrics{
		WritesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "chronicle_audit_writes_total",
			Help: "Total number of committed dual writes",
		}),
		WriteFailuresTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "chronicle_audit_write_failures_total",
			Help: "Total number of failed dual writes by reason",
		}, []string{"reason"}),
		PolicyViolationsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "chronicle_audit_policy_violations_total",
			Help: "Total number of customer messages rejected by content policy",
		}, []string{"pattern"}),
		WriteDurationMS: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "chronicle_audit_write_duration_ms",
			Help:    "Latency of dual writes in milliseconds",
			Buckets: []float64{1, 2.5, 5, 10, 25, 50, 100, 250},
		}),
		SignalsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "chronicle_audit_signals_total",
			Help: "Total number of signal record calls by outcome",
		}, []string{"was_new"}),
		IntegrityPercent: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "chronicle_audit_integrity_percent",
			Help: "Correlation integrity of the two streams as last audited",
		}),
	}
}

func (m *Metrics) ObserveWrite(durationMS float64) {
	if m == nil {
		return
	}
	m.WritesTotal.Inc()
	m.WriteDurationMS.Observe(durationMS)
}

func (m *Metrics) IncrementWriteFailure(reason string) {
	if m == nil {
		return
	}
	m.WriteFailuresTotal.WithLabelValues(reason).Inc()
}

func (m *Metrics) IncrementPolicyViolation(pattern string) {
	if m == nil {
		return
	}
	m.PolicyViolationsTotal.WithLabelValues(pattern).Inc()
}

func (m *Metrics) IncrementSignal(wasNew bool) {
	if m == nil {
		return
	}
	if wasNew {
		m.SignalsTotal.WithLabelValues("true").Inc()
		return
	}
	m.SignalsTotal.WithLabelValues("false").Inc()
}

func (m *Metrics) SetIntegrityPercent(percent float64) {
	if m == nil {
		return
	}
	m.IntegrityPercent.Set(percent)
}
