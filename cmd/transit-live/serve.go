package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/agentuity/transit-live/cache"
	"github.com/agentuity/transit-live/mask"
	"github.com/agentuity/transit-live/server"
	"github.com/agentuity/transit-live/telemetry"
	"github.com/agentuity/transit-live/transit"
	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log := loadConfig(cmd)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		log.Info("starting %s v%s (%s)", cfg.AppName, cfg.Version, cfg.Environment)
		if cfg.OtelEndpoint != "" {
			_, shutdownTelemetry, err := telemetry.New(ctx, cfg.Telemetry())
			if err != nil {
				return errors.Wrap(err, "error starting telemetry")
			}
			defer shutdownTelemetry()
			log.Info("exporting traces to %s", cfg.OtelEndpoint)
		}
		cacheConfig := cfg.Cache()
		if cacheConfig.RedisURL != "" {
			log.Info("using redis at %s", mask.URL(cacheConfig.RedisURL))
		}
		manager := cache.NewManager(ctx, cacheConfig, log)
		defer manager.Close()

		upstream := transit.New(log, cfg.UpstreamURL, cfg.UpstreamTimeout.Std())
		log.Info("upstream %s (timeout %s)", upstream.BaseURL(), cfg.UpstreamTimeout)
		svc := transit.NewCachedClient(upstream, manager, cfg.TTLs())

		srv := server.New(log, svc, manager, server.Info{
			Name:               cfg.AppName,
			Version:            cfg.Version,
			Environment:        cfg.Environment,
			UpstreamURL:        upstream.BaseURL(),
			FeaturedStationIDs: cfg.FeaturedStationIDs,
		})
		httpServer := &http.Server{
			Addr:              cfg.Listen,
			Handler:           srv.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			log.Info("listening on %s", cfg.Listen)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return errors.Wrapf(err, "listening on %s", cfg.Listen)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			log.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return httpServer.Shutdown(shutdownCtx)
		})
		if err := g.Wait(); err != nil {
			return err
		}
		log.Info("shutdown complete")
		return nil
	},
}

func init() {
	serveCmd.Flags().String("listen", "", "address to listen on (default 0.0.0.0:8000)")
	serveCmd.Flags().String("upstream-url", "", "transit REST API base url")
	serveCmd.Flags().String("redis-url", "", "redis url, empty for the in-process cache")
	serveCmd.Flags().String("cache-ttl", "", "default cache lifetime, e.g. 300, 5m or 1d")
}
