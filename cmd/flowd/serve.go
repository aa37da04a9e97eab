package main

import (
	"context"
	"errors"
	"fmt"
	nethttp "net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/flowd/internal/config"
	"github.com/fyrsmithlabs/flowd/internal/http"
	"github.com/fyrsmithlabs/flowd/internal/logging"
	"github.com/fyrsmithlabs/flowd/internal/pipeline"
	"github.com/fyrsmithlabs/flowd/internal/reasoning"
	"github.com/fyrsmithlabs/flowd/internal/session"
	"github.com/fyrsmithlabs/flowd/internal/stream"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the flowd server",
	Long: `Start the flowd HTTP server.

The server exposes session management, the SSE run endpoint, /health, and
/metrics. Shutdown is graceful on SIGINT/SIGTERM.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runServe(cmd.Context())
	},
}

// runServe wires the daemon and blocks until a shutdown signal arrives.
//
// The reasoning engine shipped here is the echo stand-in; real deployments
// swap it at this seam.
func runServe(ctx context.Context) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := buildLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	sessions := session.NewInMemoryService()
	runner, err := pipeline.NewRunner(sessions, reasoning.EchoEngine{}, logger.Named("pipeline"))
	if err != nil {
		return fmt.Errorf("build runner: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	bridge := stream.NewBridge(stream.Options{
		StatusKey:         cfg.Pipeline.StatusKey,
		KeepAliveInterval: cfg.Stream.KeepAliveInterval.Duration(),
	}, logger.Named("stream"), stream.NewMetrics(registry))

	srv, err := http.NewServer(http.Options{
		Config:   cfg.Server,
		Runner:   runner,
		Sessions: sessions,
		Bridge:   bridge,
		Root:     buildPipeline(cfg.Pipeline),
		Logger:   logger.Named("http"),
		Registry: registry,
	})
	if err != nil {
		return fmt.Errorf("build server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, nethttp.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info(ctx, "shutdown signal received", zap.String("signal", sig.String()))
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	logger.Info(ctx, "server shutdown complete")
	return nil
}

// buildLogger maps the flowd config section onto the logging config.
func buildLogger(cfg config.LoggingConfig) (*logging.Logger, error) {
	level, err := logging.LevelFromString(cfg.Level)
	if err != nil {
		return nil, err
	}
	logCfg := logging.NewDefaultConfig()
	logCfg.Level = level
	logCfg.Format = cfg.Format
	return logging.NewLogger(logCfg, nil)
}

// buildPipeline assembles the configured review pipeline: a generator/judge
// loop gated by a checker.
func buildPipeline(cfg config.PipelineConfig) *pipeline.Stage {
	return pipeline.NewSequential("course_builder",
		pipeline.NewLoop("review", cfg.MaxIterations,
			pipeline.NewLeaf("generator", cfg.GeneratorInstruction, ""),
			pipeline.NewLeaf("judge", cfg.JudgeInstruction, cfg.StatusKey),
			pipeline.NewChecker("approval", cfg.StatusKey),
		),
	)
}
