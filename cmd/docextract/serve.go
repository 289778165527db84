package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/reflection"

	"github.com/joseph-ayodele/docextract/internal/grpcserver"
	"github.com/joseph-ayodele/docextract/internal/server"
)

func newServeCmd(flags *rootFlags) *cobra.Command {
	var httpAddr, grpcAddr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP (SSE) and gRPC APIs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger := flags.loadConfig("json")
			if httpAddr != "" {
				cfg.Server.HTTPAddr = httpAddr
			}
			if grpcAddr != "" {
				cfg.Server.GRPCAddr = grpcAddr
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg, logger, wireOptions{requireLLM: true})
			if err != nil {
				logger.Error("failed to initialize", "error", err)
				return err
			}
			defer a.close()

			a.sessions.StartJanitor(ctx)

			// gRPC server
			lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
			if err != nil {
				logger.Error("failed to listen on address", "addr", cfg.Server.GRPCAddr, "error", err)
				return err
			}
			grpcServer := grpc.NewServer(grpc.UnaryInterceptor(grpcserver.UnaryLogger(logger)))
			hs := grpcserver.Register(grpcServer, grpcserver.NewServer(a.svc, logger))
			reflection.Register(grpcServer)
			go grpcserver.WatchDatabase(ctx, hs, a.db, 15*time.Second, logger)

			// HTTP server
			gin.SetMode(gin.ReleaseMode)
			api := server.NewServer(a.svc, logger, server.WithExporter(a.exporter), server.WithPinger(a.db))
			httpServer := &http.Server{
				Addr:              cfg.Server.HTTPAddr,
				Handler:           api.Handler(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			errCh := make(chan error, 2)
			go func() {
				logger.Info("grpc listening", "addr", cfg.Server.GRPCAddr)
				if err := grpcServer.Serve(lis); err != nil {
					errCh <- err
				}
			}()
			go func() {
				logger.Info("http listening", "addr", cfg.Server.HTTPAddr)
				if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
			}()

			select {
			case <-ctx.Done():
				logger.Info("shutting down")
			case err = <-errCh:
				logger.Error("server failed", "error", err)
			}

			hs.Shutdown()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			if serr := httpServer.Shutdown(shutdownCtx); serr != nil {
				logger.Warn("http shutdown", "error", serr)
			}
			stopped := make(chan struct{})
			go func() { grpcServer.GracefulStop(); close(stopped) }()
			select {
			case <-stopped:
			case <-shutdownCtx.Done():
				grpcServer.Stop()
			}
			logger.Info("stopped")
			return err
		},
	}
	cmd.Flags().StringVar(&httpAddr, "http-addr", "", "HTTP listen address (default HTTP_ADDR)")
	cmd.Flags().StringVar(&grpcAddr, "grpc-addr", "", "gRPC listen address (default GRPC_ADDR)")
	return cmd
}
