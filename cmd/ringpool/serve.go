package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/arohanajit/ringpool/internal/api/rest"
	"github.com/arohanajit/ringpool/internal/metrics"
)

const shutdownTimeout = 30 * time.Second

var adminAddrFlag string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the pool behind an HTTP key proxy and admin API",
	Long: `Run the pool and serve the key proxy and admin API.

Examples:
  # Proxy to a cluster whose nodes publish the ring over HTTP
  ringpool serve --seeds=10.0.0.1:9160,10.0.0.2:9160

  # Read the ring from etcd and probe blacklisted nodes over gRPC
  ringpool serve --ring-source=etcd --health=grpc --addr=:8090`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&adminAddrFlag, "addr", "", "Address of the admin API (default RINGPOOL_ADMIN_ADDR)")
}

func runServe(cmd *cobra.Command, args []string) error {
	if adminAddrFlag != "" {
		cfg.AdminAddr = adminAddrFlag
	}

	m := metrics.GetMetrics()
	built, err := buildPool(cfg, m, logger)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := built.pool.Start(ctx); err != nil {
		// Routing falls back to every known node until a refresh succeeds
		logger.Warn("Initial ring refresh failed", zap.Error(err))
	}

	router := rest.NewRouter(rest.RouterConfig{
		Pool:           built.pool,
		Metrics:        m,
		MetricsHandler: metrics.Handler(),
		Logger:         logger,
		RequestTimeout: cfg.CallTimeout,
	})
	server := &http.Server{
		Addr:         cfg.AdminAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.CallTimeout + 5*time.Second,
	}

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, syscall.SIGINT, syscall.SIGTERM)

	serveErr := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
		close(serveErr)
	}()
	logger.Info("Server started successfully",
		zap.String("address", cfg.AdminAddr),
		zap.Int("nodes", len(built.pool.Nodes())))

	select {
	case sig := <-signalCh:
		logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
	case err := <-serveErr:
		if err != nil {
			logger.Error("Server failed", zap.Error(err))
			built.Close()
			return err
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	// Drain in-flight proxy requests before the containers close
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during server shutdown", zap.Error(err))
	}
	if err := built.Close(); err != nil {
		logger.Error("Error closing pool", zap.Error(err))
		return err
	}

	logger.Info("Server shutdown completed")
	return nil
}
