package service

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"payflow/internal/model"
)

type Metrics struct {
	operationsTotal  *prometheus.CounterVec
	providerDuration *prometheus.HistogramVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		operationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "payflow",
				Subsystem: "engine",
				Name:      "operations_total",
				Help:      "Top-up and withdraw operations partitioned by outcome.",
			},
			[]string{"operation", "outcome"},
		),
		providerDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "payflow",
				Subsystem: "engine",
				Name:      "provider_duration_seconds",
				Help:      "Latency of payment provider calls.",
				Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"provider", "operation", "result"},
		),
	}
}

func (m *Metrics) observeOperation(kind model.LedgerKind, res model.Result) {
	if m == nil {
		return
	}
	outcome := "success"
	if !res.Success {
		outcome = res.Kind
	}
	m.operationsTotal.WithLabelValues(string(kind), outcome).Inc()
}

func (m *Metrics) observeProvider(name string, kind model.LedgerKind, success bool, d time.Duration) {
	if m == nil {
		return
	}
	result := "success"
	if !success {
		result = "failure"
	}
	m.providerDuration.WithLabelValues(name, string(kind), result).Observe(d.Seconds())
}
