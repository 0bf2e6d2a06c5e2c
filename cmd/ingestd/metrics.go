package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"ingest/internal/config"
	"ingest/internal/metrics"
	"ingest/internal/metrics/datadog"
	"ingest/internal/metrics/prompush"
)

type metricsBackend interface {
	Close() error
}

type pushBackend interface {
	Flush() error
	Handler() http.Handler
}

// Seams for tests; production code never reassigns them.
var (
	newDatadogBackend = func(ctx context.Context, opts datadog.Options) (metricsBackend, error) {
		b, err := datadog.NewBackend(ctx, opts)
		if err != nil {
			return nil, err
		}
		return b, nil
	}
	newPushBackend = func(job, url string) (pushBackend, error) {
		b, err := prompush.NewBackend(job, url)
		if err != nil {
			return nil, err
		}
		return b, nil
	}
	setMetricsBackend = func(b any) {
		if mb, ok := b.(metrics.Backend); ok {
			metrics.SetBackend(mb)
		}
	}
)

// initMetrics wires the configured backend into the metrics package.
//
// The returned handler serves Prometheus exposition for the pushgateway
// backend and is nil otherwise. cleanup is never nil and performs the final
// flush.
func initMetrics(ctx context.Context, log *slog.Logger, cfg config.MetricsConfig) (http.Handler, func(), error) {
	nop := func() {}
	job := cfg.Job
	if job == "" {
		job = "ingest"
	}

	switch cfg.Backend {
	case "", "none":
		log.Debug("metrics: disabled")
		return nil, nop, nil

	case "datadog":
		tags := datadog.ParseTagsCSV(cfg.Tags)
		b, err := newDatadogBackend(ctx, datadog.Options{
			JobName:    job,
			Tags:       tags,
			FlushEvery: cfg.FlushEvery,
		})
		if err != nil {
			return nil, nop, fmt.Errorf("metrics: init datadog backend: %w", err)
		}
		setMetricsBackend(b)
		log.Info("metrics", "backend", "datadog", "job", job, "tags", tags)
		return nil, func() {
			if err := b.Close(); err != nil {
				log.Warn("metrics: datadog close error", "error", err)
			}
		}, nil

	case "pushgateway":
		b, err := newPushBackend(job, cfg.PushgatewayURL)
		if err != nil {
			return nil, nop, fmt.Errorf("metrics: init pushgateway backend: %w", err)
		}
		setMetricsBackend(b)
		log.Info("metrics", "backend", "pushgateway", "job", job, "url", cfg.PushgatewayURL)
		return b.Handler(), func() {
			if err := b.Flush(); err != nil {
				log.Warn("metrics: push error", "error", err)
			}
		}, nil

	default:
		return nil, nop, fmt.Errorf("metrics: unknown backend %q", cfg.Backend)
	}
}
