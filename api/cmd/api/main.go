// Command api serves aggregated health snapshots over REST and gRPC.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	grpc_prometheus "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/sentinelpulse/sentinelpulse/api/internal/handler"
	"github.com/sentinelpulse/sentinelpulse/api/internal/rpc"
	"github.com/sentinelpulse/sentinelpulse/pkg/collect"
	"github.com/sentinelpulse/sentinelpulse/pkg/config"
	"github.com/sentinelpulse/sentinelpulse/pkg/fetch"
	"github.com/sentinelpulse/sentinelpulse/pkg/instrument"
	"github.com/sentinelpulse/sentinelpulse/pkg/logging"
	"github.com/sentinelpulse/sentinelpulse/pkg/streamrpc"
)

func main() {
	configPath := flag.String("config", "", "path to config file (defaults to $SENTINELPULSE_CONFIG, then built-in defaults)")
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Logging)
	defer logger.Close() //nolint:errcheck
	slog.SetDefault(logger.Logger)

	if err := run(cfg, logger, config.ResolvePath(*configPath)); err != nil {
		slog.Error("api stopped", "err", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *logging.Logger, configPath string) error {
	slog.Info("sentinelpulse api starting",
		"http", cfg.API.HTTPAddress,
		"grpc", cfg.API.GRPCAddress,
		"metrics", cfg.API.MetricsAddress,
		"targets", len(cfg.Targets),
	)

	if err := instrument.Register(prometheus.DefaultRegisterer); err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	fetchers := fetch.NewAll(cfg.Targets, cfg.Resilience, fetch.WithLogger(logger.Logger))
	agg, err := collect.New(collect.FromFetchers(fetchers), collect.Options{
		Timeout:        cfg.API.CollectTimeout,
		MaxConcurrency: cfg.API.MaxConcurrency,
		Policy:         cfg.Scoring,
		Logger:         logger.Logger,
	})
	if err != nil {
		return err
	}
	defer agg.Close()

	grpc_prometheus.EnableHandlingTimeHistogram()
	grpcSrv := grpc.NewServer(
		grpc.ChainUnaryInterceptor(grpc_prometheus.UnaryServerInterceptor),
		grpc.ChainStreamInterceptor(grpc_prometheus.StreamServerInterceptor),
	)
	streamrpc.RegisterMetricsServer(grpcSrv, rpc.New(agg, cfg.API.StreamInterval, logger.Logger))
	healthSrv := health.NewServer()
	healthSrv.SetServingStatus(streamrpc.ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(grpcSrv, healthSrv)
	grpc_prometheus.Register(grpcSrv)

	lis, err := net.Listen("tcp", cfg.API.GRPCAddress)
	if err != nil {
		return fmt.Errorf("listen grpc %s: %w", cfg.API.GRPCAddress, err)
	}

	httpSrv := &http.Server{
		Addr:              cfg.API.HTTPAddress,
		Handler:           handler.New(agg, logger.Logger),
		ReadHeaderTimeout: 5 * time.Second,
	}

	var metricsSrv *http.Server
	if cfg.API.MetricsAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsSrv = &http.Server{Addr: cfg.API.MetricsAddress, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("gRPC server listening", "addr", lis.Addr().String())
		if err := grpcSrv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("grpc server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		slog.Info("HTTP server listening", "addr", httpSrv.Addr)
		return serveHTTP(httpSrv)
	})
	if metricsSrv != nil {
		g.Go(func() error {
			slog.Info("metrics server listening", "addr", metricsSrv.Addr)
			return serveHTTP(metricsSrv)
		})
	}
	if configPath != "" {
		g.Go(func() error {
			err := config.Watch(gctx, configPath, logger.Logger, func(next *config.Config) {
				logger.SetLevel(next.Logging.Level)
				slog.Info("config reloaded", "log_level", next.Logging.Level)
			})
			if err != nil {
				slog.Warn("config hot-reload disabled", "err", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("sentinelpulse api shutting down")
		healthSrv.Shutdown()

		sctx, scancel := context.WithTimeout(context.Background(), cfg.API.ShutdownTimeout)
		defer scancel()
		stopGRPC(sctx, grpcSrv)
		err := httpSrv.Shutdown(sctx)
		if metricsSrv != nil {
			err = errors.Join(err, metricsSrv.Shutdown(sctx))
		}
		return err
	})

	return g.Wait()
}

func serveHTTP(srv *http.Server) error {
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server %s: %w", srv.Addr, err)
	}
	return nil
}

// stopGRPC drains in-flight calls and force-stops once ctx expires.
// Open StreamMetrics calls end when their clients go away or on Stop.
func stopGRPC(ctx context.Context, srv *grpc.Server) {
	done := make(chan struct{})
	go func() {
		srv.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		srv.Stop()
		<-done
	}
}
