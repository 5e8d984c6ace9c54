package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/ironsheep/detcrop/internal/server"
)

func (c *cli) serveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the MCP server on stdin/stdout",
		Long: `Run the MCP server on stdin/stdout. Configure it in your MCP client.

Logs go to stderr since stdout carries the protocol. With metrics.enabled the
Prometheus endpoint is served on metrics.listen at /metrics.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.serve(cmd.Context(), cmd)
		},
	}
}

func (c *cli) serve(ctx context.Context, cmd *cobra.Command) error {
	a, err := c.buildApp()
	if err != nil {
		return err
	}

	opts := server.Options{
		Pipeline: a.pipeline,
		In:       cmd.InOrStdin(),
		Out:      cmd.OutOrStdout(),
		Logger:   c.logger,
		Version:  Version,
	}
	if a.detector != nil {
		opts.Detector = a.detector
		if status, err := a.detector.Health(ctx); err != nil {
			c.logger.Warn("inference service unreachable", "url", c.cfg.Inference.URL, "error", err)
		} else if !status.OK() {
			c.logger.Warn("inference service not ready", "status", status.Status, "detail", status.Detail)
		}
	}

	srv, err := server.New(opts)
	if err != nil {
		return err
	}

	if a.registry != nil {
		stopMetrics := c.serveMetrics(a)
		defer stopMetrics()
	}

	c.logger.Info("detcrop MCP server starting",
		"version", Version,
		"build_time", BuildTime,
		"git_commit", GitCommit,
		"crops_dir", a.store.Dir())

	if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// serveMetrics starts the Prometheus endpoint and returns its shutdown func.
func (c *cli) serveMetrics(a *app) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))

	httpSrv := &http.Server{
		Addr:              c.cfg.Metrics.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		c.logger.Info("metrics endpoint listening", "addr", httpSrv.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			c.logger.Error("metrics endpoint failed", "error", err)
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(ctx); err != nil {
			c.logger.Warn("metrics endpoint shutdown", "error", err)
		}
	}
}
