package core

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusMetricsRecorder exports operation latency histograms and outcome
// counters to a Prometheus registry.
type PrometheusMetricsRecorder struct {
	duration *prometheus.HistogramVec
	total    *prometheus.CounterVec
}

// NewPrometheusMetricsRecorder registers the collectors with reg. Collectors
// already registered under the same names are reused.
func NewPrometheusMetricsRecorder(reg prometheus.Registerer) (*PrometheusMetricsRecorder, error) {
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "dragonfarm",
		Name:      "operation_duration_seconds",
		Help:      "Latency of breeding service operations.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation"})
	total := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dragonfarm",
		Name:      "operations_total",
		Help:      "Breeding service operations by outcome.",
	}, []string{"operation", "outcome"})

	var err error
	if duration, err = registerOrReuse(reg, duration); err != nil {
		return nil, err
	}
	if total, err = registerOrReuse(reg, total); err != nil {
		return nil, err
	}
	return &PrometheusMetricsRecorder{duration: duration, total: total}, nil
}

func registerOrReuse[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

// Observe implements MetricsRecorder.
func (p *PrometheusMetricsRecorder) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	if operation == "" {
		return
	}
	p.duration.WithLabelValues(operation).Observe(duration.Seconds())
	p.total.WithLabelValues(operation, outcome(success)).Inc()
}
