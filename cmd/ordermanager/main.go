package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/NurluhanKakpanAitu/order-manager/internal/catalog"
	"github.com/NurluhanKakpanAitu/order-manager/internal/config"
	"github.com/NurluhanKakpanAitu/order-manager/internal/events"
	"github.com/NurluhanKakpanAitu/order-manager/internal/mcp"
	"github.com/NurluhanKakpanAitu/order-manager/internal/observability"
	"github.com/NurluhanKakpanAitu/order-manager/internal/orders"
	"github.com/NurluhanKakpanAitu/order-manager/internal/payment"
	"github.com/NurluhanKakpanAitu/order-manager/internal/storage"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	// Handle version flag
	if len(os.Args) > 1 && os.Args[1] == "--version" {
		fmt.Printf("Order Manager MCP Server\n")
		fmt.Printf("Version: %s\n", version)
		fmt.Printf("Build Time: %s\n", buildTime)
		fmt.Printf("Build Mode: %s\n", storage.BuildMode)
		fmt.Printf("SQLite Driver: %s\n", storage.DriverName)
		os.Exit(0)
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "ordermanager: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	mcp.ServerVersion = version
	observability.ServiceVersion = version

	// Logs go to stderr, stdout is reserved for the MCP protocol
	var logger *zap.Logger
	if cfg.Telemetry.Enabled() {
		logger, err = observability.NewExportingLogger(cfg.LogLevel, cfg.LogFormat)
	} else {
		logger, err = observability.NewLogger(cfg.LogLevel, cfg.LogFormat)
	}
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := observability.SetupTelemetry(ctx, cfg.Telemetry)
	if err != nil {
		logger.Warn("telemetry setup incomplete", zap.Error(err))
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown failed", zap.Error(err))
		}
	}()

	logger.Info("order manager starting",
		zap.String("version", version),
		zap.String("build_mode", storage.BuildMode),
		zap.String("driver", storage.DriverName),
		zap.String("db_path", cfg.DBPath),
	)

	if dir := filepath.Dir(cfg.DBPath); dir != "" && cfg.DBPath != ":memory:" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	store, err := storage.NewSQLiteStorage(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	defer func() { _ = store.Close() }()

	gateway, err := payment.New(cfg.Payment)
	if err != nil {
		return fmt.Errorf("failed to create payment gateway: %w", err)
	}
	defer func() { _ = gateway.Close() }()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(registry)

	orderSvc := orders.New(store, gateway,
		orders.WithLogger(logger),
		orders.WithMetrics(metrics),
		orders.WithContentionRetries(cfg.ContentionRetries),
		orders.WithSettlementCache(payment.NewSettlementCache(cfg.SettlementCache)),
	)
	catalogSvc := catalog.New(store, catalog.WithLogger(logger))

	publisher := events.NewPublisher(cfg.KafkaBrokers, logger)
	defer func() { _ = publisher.Close() }()
	relay := events.NewRelay(store, publisher,
		events.WithRelayLogger(logger),
		events.WithRelayMetrics(metrics),
		events.WithInterval(cfg.OutboxInterval),
		events.WithBatchSize(cfg.OutboxBatch),
	)

	server := mcp.NewServer(orderSvc, catalogSvc, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		// stdin closing ends the session, which stops everything else
		defer stop()
		return server.Serve(gctx, os.Stdin, os.Stdout)
	})
	g.Go(func() error {
		return relay.Run(gctx)
	})
	if cfg.MetricsAddr != "" {
		httpServer := &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           observability.Handler(registry),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			logger.Info("metrics listening", zap.String("addr", cfg.MetricsAddr))
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return httpServer.Shutdown(shutdownCtx)
		})
	}

	err = g.Wait()
	if pending := orderSvc.PendingSettlements(); len(pending) > 0 {
		logger.Error("unreconciled payments at shutdown", zap.Strings("order_ids", pending))
	}
	logger.Info("server stopped")
	return err
}
