package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/xela07ax/spaceai-action-pipeline/internal/api"
	"go.uber.org/zap"
	"google.golang.org/grpc"
)

const shutdownTimeout = 5 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP (and gRPC) API over the pipeline",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger, true)
	if err != nil {
		return err
	}
	defer a.Close()

	validator, err := a.validator()
	if err != nil {
		return err
	}
	deps := a.apiDeps(validator)

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      api.NewServer(deps, logger),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 3)
	go func() {
		logger.Info("pipeline API started", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	var metricsSrv *http.Server
	if cfg.Server.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))
		metricsSrv = &http.Server{Addr: cfg.Server.MetricsAddr, Handler: mux, ReadTimeout: cfg.Server.ReadTimeout}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("metrics server: %w", err)
			}
		}()
	}

	var grpcSrv *grpc.Server
	if cfg.Server.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
		if err != nil {
			return fmt.Errorf("listen gRPC: %w", err)
		}
		grpcSrv = grpc.NewServer(grpc.UnaryInterceptor(api.UnaryAuthInterceptor(validator, logger)))
		api.NewGRPCServer(deps).Register(grpcSrv)
		go func() {
			logger.Info("pipeline gRPC server started", zap.String("addr", cfg.Server.GRPCAddr))
			if err := grpcSrv.Serve(lis); err != nil {
				errCh <- fmt.Errorf("grpc server: %w", err)
			}
		}()
	}

	if cfg.Engine.ConfirmationTTL > 0 {
		go sweepConfirmations(ctx, a, cfg.Engine.ConfirmationTTL)
	}

	select {
	case <-ctx.Done():
		logger.Info("pipeline stopping...")
	case err := <-errCh:
		logger.Error("server failed", zap.Error(err))
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown failed", zap.Error(err))
	}
	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(shutdownCtx)
	}
	if grpcSrv != nil {
		grpcSrv.GracefulStop()
	}
	logger.Info("pipeline exited properly")
	return nil
}

// sweepConfirmations периодически убирает просроченные ожидания,
// чтобы gauge отражал реальное число живых подтверждений.
func sweepConfirmations(ctx context.Context, a *app, ttl time.Duration) {
	interval := ttl / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := a.orch.SweepExpired(); n > 0 {
				a.logger.Info("expired confirmations swept", zap.Int("count", n))
			}
		}
	}
}
