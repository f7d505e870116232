// Command dashboard relays health snapshots to browser clients over a
// websocket and serves the latest one over REST.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/sentinelpulse/sentinelpulse/dashboard/internal/api"
	"github.com/sentinelpulse/sentinelpulse/dashboard/internal/store"
	"github.com/sentinelpulse/sentinelpulse/dashboard/internal/ws"
	"github.com/sentinelpulse/sentinelpulse/pkg/broadcast"
	"github.com/sentinelpulse/sentinelpulse/pkg/collect"
	"github.com/sentinelpulse/sentinelpulse/pkg/config"
	"github.com/sentinelpulse/sentinelpulse/pkg/fallback"
	"github.com/sentinelpulse/sentinelpulse/pkg/fetch"
	"github.com/sentinelpulse/sentinelpulse/pkg/instrument"
	"github.com/sentinelpulse/sentinelpulse/pkg/logging"
	"github.com/sentinelpulse/sentinelpulse/pkg/poll"
	"github.com/sentinelpulse/sentinelpulse/pkg/streamrpc"
)

// HubPath is where browser clients open the push channel.
const HubPath = "/hubs/dashboard"

func main() {
	configPath := flag.String("config", "", "path to config file (defaults to $SENTINELPULSE_CONFIG, then built-in defaults)")
	mode := flag.String("mode", "", "override dashboard.mode: aggregate | poll | stream")
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	if *mode != "" {
		os.Setenv(config.EnvDashboardMode, *mode) //nolint:errcheck
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Logging)
	defer logger.Close() //nolint:errcheck
	slog.SetDefault(logger.Logger)

	if err := run(cfg, logger, config.ResolvePath(*configPath)); err != nil {
		slog.Error("dashboard stopped", "err", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *logging.Logger, configPath string) error {
	dc := cfg.Dashboard
	slog.Info("sentinelpulse dashboard starting",
		"mode", dc.Mode,
		"http", dc.HTTPAddress,
		"metrics", dc.MetricsAddress,
	)

	if err := instrument.Register(prometheus.DefaultRegisterer); err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	st := store.New(dc.SnapshotTTL)
	bc := broadcast.New(broadcast.Options{
		SendTimeout: dc.SendTimeout,
		Buffer:      dc.SendBuffer,
		Logger:      logger.Logger,
	})
	defer bc.Close()
	hub := ws.New(bc, logger.Logger)
	sink := poll.MultiSink{st, bc}

	producer, cleanup, err := newProducer(cfg, sink, logger.Logger)
	if err != nil {
		return err
	}
	defer cleanup()

	mux := http.NewServeMux()
	mux.Handle(HubPath, hub)
	mux.Handle("/api/", api.New(st, hub, dc.Mode))
	httpSrv := &http.Server{Addr: dc.HTTPAddress, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	var metricsSrv *http.Server
	if dc.MetricsAddress != "" {
		mmux := http.NewServeMux()
		mmux.Handle("/metrics", promhttp.Handler())
		metricsSrv = &http.Server{Addr: dc.MetricsAddress, Handler: mmux, ReadHeaderTimeout: 5 * time.Second}
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { st.Run(gctx); return nil })
	g.Go(func() error { hub.Run(gctx); return nil })
	g.Go(func() error { producer(gctx); return nil })
	g.Go(func() error {
		slog.Info("HTTP server listening", "addr", httpSrv.Addr, "hub", HubPath)
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
		slog.Info("sentinelpulse dashboard shutting down")
		sctx, scancel := context.WithTimeout(context.Background(), dc.ShutdownTimeout)
		defer scancel()
		err := httpSrv.Shutdown(sctx)
		if metricsSrv != nil {
			err = errors.Join(err, metricsSrv.Shutdown(sctx))
		}
		return err
	})

	return g.Wait()
}

// newProducer builds the snapshot producer for the configured mode. The
// returned func blocks until ctx is done; cleanup releases what it holds.
func newProducer(cfg *config.Config, sink poll.Sink, logger *slog.Logger) (func(context.Context), func(), error) {
	dc := cfg.Dashboard
	switch dc.Mode {
	case config.ModeAggregate:
		fetchers := fetch.NewAll(cfg.Targets, cfg.Resilience, fetch.WithLogger(logger))
		agg, err := collect.New(collect.FromFetchers(fetchers), collect.Options{
			Timeout:        cfg.API.CollectTimeout,
			MaxConcurrency: cfg.API.MaxConcurrency,
			Policy:         cfg.Scoring,
			Logger:         logger,
		})
		if err != nil {
			return nil, nil, err
		}
		loop := poll.New("aggregate", agg, sink, dc.PollInterval, logger)
		return loop.Run, agg.Close, nil

	case config.ModePoll:
		var rng *rand.Rand
		if dc.FallbackSeed != 0 {
			rng = rand.New(rand.NewSource(dc.FallbackSeed))
		}
		src := poll.NewUpstreamSource(dc.Upstream.BaseURL, dc.Upstream.MetricsPath, fallback.New(rng), poll.UpstreamOptions{
			Policy: cfg.Resilience,
			Logger: logger,
		})
		loop := poll.New("upstream", src, sink, dc.PollInterval, logger)
		return loop.Run, func() {}, nil

	case config.ModeStream:
		client, err := streamrpc.Dial(dc.Upstream.GRPCAddress)
		if err != nil {
			return nil, nil, err
		}
		relay := streamrpc.NewRelay(client, sink, dc.ReconnectBackoff, logger)
		return relay.Run, func() { _ = client.Close() }, nil
	}
	return nil, nil, fmt.Errorf("unknown dashboard mode %q", dc.Mode)
}

func serveHTTP(srv *http.Server) error {
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server %s: %w", srv.Addr, err)
	}
	return nil
}
