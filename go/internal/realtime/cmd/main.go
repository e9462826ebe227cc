package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/focusroom/focusroom/go/internal/bus"
	"github.com/focusroom/focusroom/go/internal/config"
	"github.com/focusroom/focusroom/go/internal/logging"
	"github.com/focusroom/focusroom/go/internal/metrics"
	"github.com/focusroom/focusroom/go/internal/realtime"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load("")
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	logging.Setup(cfg.LogLevel, cfg.LogFormat)

	transport, err := bus.Open(cfg.Bus())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create bus transport")
	}

	log.Info().
		Str("transport", transport.Name()).
		Str("channel", cfg.BusChannel).
		Int("port", cfg.Port).
		Msg("starting session gateway")

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	service := realtime.NewService(serviceConfig(cfg), transport, metrics.New(registry))
	server := setupServer(cfg, service, registry)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	// Start gateway service (bus connection, bridge, sockets)
	g.Go(func() error {
		return service.Start(gctx)
	})

	g.Go(func() error {
		log.Info().Str("addr", server.Addr).Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("received shutdown signal")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("session gateway stopped with error")
		os.Exit(1)
	}
	log.Info().Msg("session gateway shutdown complete")
}

func serviceConfig(cfg *config.Config) realtime.Config {
	conn := realtime.DefaultConnectionConfig()
	conn.WriteTimeout = cfg.WriteTimeout
	conn.ReadTimeout = cfg.ReadTimeout
	conn.PingInterval = cfg.PingInterval
	conn.MaxMessageSize = cfg.MaxMessageSize
	conn.SendBuffer = cfg.SendBuffer
	conn.AllowedOrigins = cfg.AllowedOrigins

	return realtime.Config{
		Channel:          cfg.BusChannel,
		ConnectionConfig: conn,
		BreakerConfig: realtime.BreakerConfig{
			MaxFailures: cfg.BreakerMaxFailures,
			OpenTimeout: cfg.BreakerOpenTimeout,
		},
	}
}
