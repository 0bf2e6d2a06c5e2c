// Package prompush implements a metrics.Backend that keeps observations in a
// private Prometheus registry and pushes it to a Pushgateway on Flush. The
// same registry can also be scraped through Handler.
package prompush

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/push"

	"ingest/internal/metrics"
)

// Backend implements metrics.Backend on top of client_golang collectors.
type Backend struct {
	reg    *prometheus.Registry
	pusher *push.Pusher

	counters   map[string]*prometheus.CounterVec
	histograms map[string]*prometheus.HistogramVec
	labelNames map[string][]string
}

// NewBackend registers the ingest collectors and prepares a pusher for
// gatewayURL under job.
func NewBackend(job, gatewayURL string) (*Backend, error) {
	if strings.TrimSpace(gatewayURL) == "" {
		return nil, fmt.Errorf("prompush: gateway url is required")
	}
	if job == "" {
		job = "ingest"
	}

	b := &Backend{
		reg:        prometheus.NewRegistry(),
		counters:   map[string]*prometheus.CounterVec{},
		histograms: map[string]*prometheus.HistogramVec{},
		labelNames: map[string][]string{},
	}

	counters := []struct {
		name, help string
		labels     []string
	}{
		{metrics.RequestsTotal, "Ingestion requests by outcome.", []string{"status", "kind"}},
		{metrics.RowsTotal, "Rows inserted by table.", []string{"table"}},
		{metrics.SchemaChangesTotal, "Schema changes by reconcile action.", []string{"action"}},
	}
	for _, c := range counters {
		vec := prometheus.NewCounterVec(prometheus.CounterOpts{Name: c.name, Help: c.help}, c.labels)
		if err := b.reg.Register(vec); err != nil {
			return nil, fmt.Errorf("prompush: register %s: %w", c.name, err)
		}
		b.counters[c.name] = vec
		b.labelNames[c.name] = c.labels
	}

	hist := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    metrics.DurationSeconds,
		Help:    "Ingestion stage duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"stage", "status"})
	if err := b.reg.Register(hist); err != nil {
		return nil, fmt.Errorf("prompush: register %s: %w", metrics.DurationSeconds, err)
	}
	b.histograms[metrics.DurationSeconds] = hist
	b.labelNames[metrics.DurationSeconds] = []string{"stage", "status"}

	b.pusher = push.New(gatewayURL, job).Gatherer(b.reg)
	return b, nil
}

// values orders labels by the collector's declared label names; missing
// labels become "unknown".
func (b *Backend) values(name string, labels metrics.Labels) []string {
	names := b.labelNames[name]
	out := make([]string, len(names))
	for i, n := range names {
		v := labels[n]
		if v == "" {
			v = "unknown"
		}
		out[i] = v
	}
	return out
}

func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	vec, ok := b.counters[name]
	if !ok || delta <= 0 {
		return
	}
	vec.WithLabelValues(b.values(name, labels)...).Add(delta)
}

func (b *Backend) ObserveHistogram(name string, value float64, labels metrics.Labels) {
	vec, ok := b.histograms[name]
	if !ok || value < 0 {
		return
	}
	vec.WithLabelValues(b.values(name, labels)...).Observe(value)
}

// Flush pushes the whole registry, replacing the job's previous group.
func (b *Backend) Flush() error {
	if err := b.pusher.Push(); err != nil {
		return fmt.Errorf("prompush: push: %w", err)
	}
	return nil
}

// Handler serves the registry in the Prometheus exposition format.
func (b *Backend) Handler() http.Handler {
	return promhttp.HandlerFor(b.reg, promhttp.HandlerOpts{})
}

var _ metrics.Backend = (*Backend)(nil)
