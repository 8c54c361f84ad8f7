// Command authz-sync runs the worker that drains sync events into OpenFGA.
package main

import (
	"context"
	"errors"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/and161185/authz-sync/internal/authz"
	"github.com/and161185/authz-sync/internal/config"
	"github.com/and161185/authz-sync/internal/metrics"
	"github.com/and161185/authz-sync/internal/migrate"
	"github.com/and161185/authz-sync/internal/processor"
	"github.com/and161185/authz-sync/internal/repository/postgres"
	grpcserver "github.com/and161185/authz-sync/internal/server/grpc"
	"github.com/and161185/authz-sync/internal/service"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

// main loads configuration, migrates the queue schema and runs the processor
// alongside the health and metrics endpoints until a signal arrives.
func main() {
	cfg, err := config.Parse(flag.CommandLine, os.Args[1:])
	if err != nil {
		os.Exit(2)
	}

	var logger *zap.Logger
	if cfg.Dev {
		logger, _ = zap.NewDevelopment()
	} else {
		logger, _ = zap.NewProduction()
	}
	defer func() { _ = logger.Sync() }()
	logger.Info("starting",
		zap.String("version", version),
		zap.String("buildDate", buildDate),
		zap.String("addr", cfg.Addr),
		zap.String("fga", cfg.FGA.Addr),
	)

	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid config", zap.Error(err))
	}

	// Context with OS signals
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := migrate.Up(ctx, cfg.DSN, logger.Named("migrate")); err != nil {
		logger.Fatal("migrate up", zap.Error(err))
	}

	// DB pool
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		logger.Fatal("pgxpool.New", zap.Error(err))
	}
	defer pool.Close()
	events := postgres.NewEventRepo(&postgres.DB{Pool: pool})

	// Authorization engine
	dc, ac := cfg.Authz()
	fga, err := authz.Dial(dc, ac, logger)
	if err != nil {
		logger.Fatal("dial openfga", zap.Error(err))
	}
	defer func() { _ = fga.Close() }()

	// Services
	syncSvc := service.NewSyncService(fga, logger)
	monitor := service.NewMonitorService(events, 0)

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		metrics.NewQueueCollector(monitor, 2*time.Second, logger.Named("metrics")),
	)
	m := metrics.New(reg)

	// Health gRPC server
	gs, healthRep := grpcserver.New(logger, cfg.Dev)

	proc := processor.New(events, syncSvc,
		processor.Config{Interval: cfg.Processor.Interval, BatchSize: cfg.Processor.BatchSize},
		logger,
		processor.WithRecorder(m),
		processor.WithPollHook(healthRep.PollResult),
	)

	lis, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		logger.Fatal("listen", zap.Error(err))
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	hs := &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("health listening", zap.String("addr", cfg.Addr))
		errCh <- gs.Serve(lis)
	}()
	go func() {
		logger.Info("metrics listening", zap.String("addr", cfg.MetricsAddr))
		if err := hs.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	proc.Start(ctx)

	// Wait for stop
	code := 0
	select {
	case <-ctx.Done():
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
		code = 1
	}

	// drain the batch in flight before tearing down the transports
	healthRep.Shutdown()
	proc.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = hs.Shutdown(shutdownCtx)

	done := make(chan struct{})
	go func() {
		gs.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-shutdownCtx.Done():
		gs.Stop()
	}

	logger.Info("shutdown complete")
	if code != 0 {
		_ = logger.Sync()
		os.Exit(code)
	}
}
