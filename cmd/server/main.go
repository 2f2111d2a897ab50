// Command server runs the collabgrid sync server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"collabgrid/internal/cluster"
	"collabgrid/internal/config"
	"collabgrid/internal/discovery"
	"collabgrid/internal/document"
	"collabgrid/internal/httpapi"
	"collabgrid/internal/identity"
	"collabgrid/internal/metrics"
	"collabgrid/internal/presence"
	"collabgrid/internal/room"
	"collabgrid/internal/session"
	"collabgrid/internal/ws"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := viper.New()
	config.SetDefaults(v)

	cmd := &cobra.Command{
		Use:           "collabgrid-server",
		Short:         "Real-time collaborative grid sync server",
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(v)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg)
		},
	}

	flags := cmd.Flags()
	flags.Int("port", 0, "listen port (env PORT)")
	flags.String("env", "", "environment mode: development or production (env APP_ENV, NODE_ENV)")
	flags.String("log-level", "", "debug, info, warn or error (env LOG_LEVEL)")
	flags.String("broadcast", "", "broadcast backend: local or redis (env BROADCAST_BACKEND)")
	flags.String("redis-addr", "", "redis address for the redis backend (env REDIS_ADDR)")
	flags.Bool("mdns", false, "advertise the server over mDNS (env MDNS_ENABLED)")

	for key, flag := range map[string]string{
		"port":              "port",
		"env":               "env",
		"log_level":         "log-level",
		"broadcast.backend": "broadcast",
		"redis.addr":        "redis-addr",
		"mdns.enabled":      "mdns",
	} {
		_ = v.BindPFlag(key, flags.Lookup(flag))
	}
	return cmd
}

func run(ctx context.Context, cfg *config.Config) error {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// Redis is reached before anything starts, so a failure leaves nothing
	// running.
	var rdb *redis.Client
	if cfg.Redis.Enabled {
		var err error
		if rdb, err = connectRedis(ctx, cfg.Redis.Addr, logger); err != nil {
			return err
		}
		defer rdb.Close()
	}

	g, ctx := errgroup.WithContext(ctx)

	hub := room.NewHub(logger, m)
	g.Go(func() error { return hub.Run(ctx) })

	var (
		rooms room.Dispatcher = hub
		owner session.Claimer
	)
	if rdb != nil {
		relay := room.NewRedisRelay(rdb, hub, logger, m)
		g.Go(func() error { return relay.Run(ctx) })
		rooms = relay

		ownership := cluster.NewOwnership(rdb, instanceID(cfg.Redis.Instance), cfg.Redis.OwnerTTL, logger, m)
		g.Go(func() error { return ownership.Run(ctx) })
		owner = ownership
		logger.Info("claiming documents in redis", "instance", ownership.Instance(), "ttl", cfg.Redis.OwnerTTL)
	}

	coord := session.New(session.Config{
		Documents:  document.NewStore(),
		Presence:   presence.NewRegistry(),
		Rooms:      rooms,
		Identities: identity.New(),
		Logger:     logger,
		Metrics:    m,
		Ownership:  owner,
	})

	srv := &http.Server{
		Addr: cfg.Addr(),
		Handler: httpapi.NewRouter(httpapi.Deps{
			Config:   cfg,
			Sessions: coord,
			Channel:  ws.NewServer(coord, cfg, logger, m),
			Gatherer: reg,
			Logger:   logger,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.Go(func() error {
		logger.Info("collabgrid sync server starting", "addr", srv.Addr, "env", cfg.Env, "broadcast", cfg.Broadcast.Backend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		logger.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	})

	if cfg.MDNS.Enabled {
		g.Go(func() error { return discovery.Advertise(ctx, cfg.MDNS.Service, cfg.Port, logger) })
	}

	return g.Wait()
}

// connectRedis pings Redis with exponential backoff so the server can start
// alongside it.
func connectRedis(ctx context.Context, addr string, logger *slog.Logger) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr, ContextTimeoutEnabled: true})

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 30 * time.Second
	err := backoff.RetryNotify(func() error {
		return rdb.Ping(ctx).Err()
	}, backoff.WithContext(b, ctx), func(err error, wait time.Duration) {
		logger.Warn("could not connect to redis, retrying", "addr", addr, "wait", wait, "error", err)
	})
	if err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("could not connect to redis at %s: %w", addr, err)
	}
	logger.Info("connected to redis", "addr", addr)
	return rdb, nil
}

// instanceID returns configured, or the host name with a random suffix so
// restarts on the same host are told apart.
func instanceID(configured string) string {
	if configured != "" {
		return configured
	}
	host, err := os.Hostname()
	if err != nil {
		host = "collabgrid"
	}
	return host + "-" + uuid.NewString()[:8]
}
