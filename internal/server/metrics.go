package server

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"paysweep/internal/sweep"
)

// Metrics tracks sweep runs. It doubles as a scheduler observer.
type Metrics struct {
	registry     *prometheus.Registry
	runsTotal    *prometheus.CounterVec
	recordsTotal *prometheus.CounterVec
	runDuration  prometheus.Histogram
	lastRun      prometheus.Gauge
}

func NewMetrics() *Metrics {
	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "paysweep_runs_total",
		Help: "Total number of sweep runs by status",
	}, []string{"status"})

	records := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "paysweep_records_total",
		Help: "Records processed by outcome reason",
	}, []string{"outcome"})

	duration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "paysweep_run_duration_seconds",
		Help:    "Wall time of a sweep run",
		Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
	})

	last := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "paysweep_last_run_timestamp_seconds",
		Help: "Unix time the last sweep finished",
	})

	r := prometheus.NewRegistry()
	r.MustRegister(runs, records, duration, last)

	return &Metrics{
		registry:     r,
		runsTotal:    runs,
		recordsTotal: records,
		runDuration:  duration,
		lastRun:      last,
	}
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Observe(_ context.Context, res sweep.Result, runErr error) error {
	status := "success"
	if runErr != nil {
		status = "failed"
	}
	m.runsTotal.WithLabelValues(status).Inc()

	for _, o := range res.Outcomes {
		m.recordsTotal.WithLabelValues(o.Reason).Inc()
	}

	if !res.FinishedAt.IsZero() {
		if !res.StartedAt.IsZero() {
			m.runDuration.Observe(res.FinishedAt.Sub(res.StartedAt).Seconds())
		}
		m.lastRun.Set(float64(res.FinishedAt.Unix()))
	}
	return nil
}
