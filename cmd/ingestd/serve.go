package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"ingest/internal/metrics"
	"ingest/internal/server"
)

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP ingestion API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.serve(cmd.Context())
		},
	}
}

func (a *app) serve(ctx context.Context) error {
	st, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	svc, err := a.newService(st)
	if err != nil {
		return err
	}

	metricsHandler, stopMetrics, err := initMetrics(ctx, a.log, a.cfg.Metrics)
	if err != nil {
		return err
	}
	defer stopMetrics()

	srv := server.New(svc, server.Options{
		MaxUploadBytes: a.cfg.Server.MaxUploadBytes,
		RateLimit: server.RateLimitConfig{
			RequestsPerSecond: a.cfg.Server.RateLimitRPS,
			Burst:             a.cfg.Server.RateLimitBurst,
		},
		Parser:  a.parserOptions(),
		Metrics: metricsHandler,
		Logger:  a.log,
	})
	hs := &http.Server{
		Addr:              a.cfg.Server.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.log.Info("listening", "addr", hs.Addr, "store", a.cfg.Store.Kind, "mode", svc.Options().Mode)
		if err := hs.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
		defer cancel()
		a.log.Info("shutting down")
		return hs.Shutdown(sctx)
	})
	if a.cfg.Metrics.Backend == "pushgateway" && a.cfg.Metrics.FlushEvery > 0 {
		g.Go(func() error {
			t := time.NewTicker(a.cfg.Metrics.FlushEvery)
			defer t.Stop()
			for {
				select {
				case <-gctx.Done():
					return nil
				case <-t.C:
					if err := metrics.Flush(); err != nil {
						a.log.Warn("metrics: push error", "error", err)
					}
				}
			}
		})
	}
	return g.Wait()
}
