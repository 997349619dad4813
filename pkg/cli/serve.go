package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/wishmock/wishmock/pkg/admin"
	"github.com/wishmock/wishmock/pkg/config"
	"github.com/wishmock/wishmock/pkg/engine"
	"github.com/wishmock/wishmock/pkg/gateway"
	"github.com/wishmock/wishmock/pkg/logging"
	"github.com/wishmock/wishmock/pkg/metrics"
)

// shutdownTimeout bounds graceful drain on SIGINT/SIGTERM.
const shutdownTimeout = 10 * time.Second

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the mock server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd)
		},
	}
}

func runServe(cmd *cobra.Command) error {
	cfg, err := config.FromEnv()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	log := logging.New(logging.Config{
		Level:  logging.ParseLevel(cfg.LogLevel),
		Format: logging.ParseFormat(cfg.LogFormat),
	})

	metrics.Init()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	eng := engine.New(cfg, log)
	if err := eng.Rebuild(ctx); err != nil {
		// Serving still starts so files can be uploaded over the admin
		// API; readiness stays down until a world builds.
		log.Error("initial load failed", "error", err)
	}

	grpcSrv := gateway.NewGRPCServer(cfg, eng, log)
	if err := grpcSrv.Start(ctx); err != nil {
		return fmt.Errorf("starting grpc server: %w", err)
	}
	log.Info("grpc server listening", "port", cfg.GRPCPort, "tls_port", cfg.GRPCTLSPort)

	var httpSrv *gateway.HTTPServer
	if cfg.ConnectEnabled {
		httpSrv = gateway.NewHTTPServer(cfg, eng, log)
		if err := httpSrv.Start(ctx); err != nil {
			return fmt.Errorf("starting connect server: %w", err)
		}
		log.Info("connect server listening", "port", cfg.ConnectPort)
	}

	adminSrv := admin.NewServer(cfg, eng, log, cmd.Root().Version)
	if err := adminSrv.Start(ctx); err != nil {
		return fmt.Errorf("starting admin server: %w", err)
	}
	log.Info("admin server listening", "port", cfg.AdminPort)

	<-ctx.Done()
	log.Info("shutting down")

	drainCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := adminSrv.Stop(drainCtx); err != nil {
		log.Warn("admin server shutdown", "error", err)
	}
	if httpSrv != nil {
		if err := httpSrv.Stop(drainCtx); err != nil {
			log.Warn("connect server shutdown", "error", err)
		}
	}
	if err := grpcSrv.Stop(drainCtx, shutdownTimeout); err != nil {
		log.Warn("grpc server shutdown", "error", err)
	}
	return nil
}
