package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/joshp123/gohome-skyport/internal/auth"
	"github.com/joshp123/gohome-skyport/internal/core"
	"github.com/joshp123/gohome-skyport/internal/history"
	"github.com/joshp123/gohome-skyport/internal/plugins"
	"github.com/joshp123/gohome-skyport/internal/rate"
	"github.com/joshp123/gohome-skyport/internal/router"
	"github.com/joshp123/gohome-skyport/internal/server"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the gRPC and HTTP servers",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return serve(cmd.Context())
	},
}

func serve(ctx context.Context) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps := plugins.Deps{Log: log}
	store, err := history.Open(cfg.Core.HistoryPath)
	if err != nil {
		log.Error(err, "call history disabled", "path", cfg.Core.HistoryPath)
	} else {
		deps.History = store
		defer store.Close()
	}
	if deps.Blob, err = blobStore(cfg.Blob); err != nil {
		return fmt.Errorf("blob store: %w", err)
	}

	loaded := plugins.Compiled(cfg, deps)
	defer plugins.Close(loaded, log)
	if err := core.ValidatePlugins(loaded); err != nil {
		return err
	}
	if err := core.WriteDashboards(cfg.Core.DashboardDir, loaded); err != nil {
		log.Error(err, "write dashboards", "dir", cfg.Core.DashboardDir)
	}

	grpcServer, err := server.NewGRPCServer(cfg.Core.GRPCAddr, log)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}
	if err := router.RegisterPlugins(grpcServer.Server, loaded); err != nil {
		return err
	}

	shared := append(auth.MetricsCollectors(), rate.MetricsCollectors()...)
	shared = append(shared, server.MetricsCollectors()...)
	shared = append(shared, prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "gohome_build_info",
		Help: "Build information",
	}, func() float64 { return 1 }))
	metricsRegistry := core.MetricsRegistry(loaded, shared...)

	httpServer := server.NewHTTPServer(cfg.Core.HTTPAddr, server.NewRouter(server.Routes{
		Plugins: loaded,
		Metrics: metricsRegistry,
		Log:     log,
	}))

	errs := make(chan error, 2)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- fmt.Errorf("http serve: %w", err)
		}
	}()
	go func() {
		if err := grpcServer.Serve(); err != nil {
			errs <- fmt.Errorf("grpc serve: %w", err)
		}
	}()
	log.Info("serving", "grpc", cfg.Core.GRPCAddr, "http", cfg.Core.HTTPAddr, "plugins", len(loaded))

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err = <-errs:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if shutdownErr := httpServer.Shutdown(shutdownCtx); shutdownErr != nil {
		log.Error(shutdownErr, "http shutdown")
	}
	grpcServer.Stop(shutdownCtx)
	return err
}
