package realtime

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/focusroom/focusroom/go/internal/bus"
	"github.com/rs/zerolog/log"
)

const (
	connectTimeout    = 10 * time.Second
	subscribeRetryMin = 500 * time.Millisecond
	subscribeRetryMax = 30 * time.Second
	readinessInterval = 5 * time.Second
)

// Config holds configuration for the session gateway service
type Config struct {
	Channel          string
	ConnectionConfig ConnectionConfig
	BreakerConfig    BreakerConfig
}

// DefaultConfig returns default configuration for the session gateway
func DefaultConfig() Config {
	return Config{
		Channel:          "session_events",
		ConnectionConfig: DefaultConnectionConfig(),
		BreakerConfig:    DefaultBreakerConfig(),
	}
}

// Service is the process-wide composition of registry, bridge, publisher
// and HTTP handlers. Build one per process and share it by reference.
type Service struct {
	transport bus.Transport
	metrics   MetricsCollector

	registry       *Registry
	bridge         *Bridge
	publisher      *Publisher
	wsHandler      *WebSocketHandler
	publishHandler *PublishHandler
	healthChecker  *HealthChecker
}

// NewService creates a new session gateway service
func NewService(config Config, transport bus.Transport, metrics MetricsCollector) *Service {
	if metrics == nil {
		metrics = NoOpMetrics{}
	}

	registry := NewRegistry(metrics)
	bridge := NewBridge(transport, registry, config.Channel, metrics)
	publisher := NewPublisher(transport, config.Channel, config.BreakerConfig, metrics)

	return &Service{
		transport:      transport,
		metrics:        metrics,
		registry:       registry,
		bridge:         bridge,
		publisher:      publisher,
		wsHandler:      NewWebSocketHandler(registry, config.ConnectionConfig, metrics),
		publishHandler: NewPublishHandler(publisher),
		healthChecker:  NewHealthChecker(transport, bridge, registry, metrics),
	}
}

// Start connects the bus and runs the bridge until ctx is done, then
// stops the service. A failed connect is logged and the service keeps
// running degraded: /ready reports 503 and publishes fail fast.
func (s *Service) Start(ctx context.Context) error {
	log.Info().Str("transport", s.transport.Name()).Msg("starting session gateway service")

	connectCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	err := s.transport.Connect(connectCtx)
	cancel()
	if err != nil {
		log.Error().Err(err).Msg("bus transport not ready, running degraded")
	}
	s.metrics.RecordBusReady(s.transport.Ready())

	go s.reportReadiness(ctx)
	s.runBridge(ctx)

	log.Info().Msg("session gateway service shutting down")
	return s.Stop()
}

// runBridge keeps the bridge running. Subscribing can fail while the broker
// is unreachable, so it is retried with backoff.
func (s *Service) runBridge(ctx context.Context) {
	backoff := bus.NewBackoff(subscribeRetryMin, subscribeRetryMax)
	for {
		err := s.bridge.Run(ctx)
		if ctx.Err() != nil {
			return
		}
		if err == nil || errors.Is(err, bus.ErrAlreadySubscribed) || errors.Is(err, bus.ErrClosed) {
			// The subscription cannot be re-established on this transport.
			<-ctx.Done()
			return
		}

		wait := backoff.Next()
		log.Error().Err(err).Dur("retry_in", wait).Msg("bridge failed to subscribe")
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

func (s *Service) reportReadiness(ctx context.Context) {
	ticker := time.NewTicker(readinessInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.metrics.RecordBusReady(s.transport.Ready())
		}
	}
}

// Stop closes every socket and the bus transport.
func (s *Service) Stop() error {
	s.registry.CloseAll()
	if err := s.transport.Close(); err != nil {
		log.Error().Err(err).Msg("failed to close bus transport")
		return err
	}
	log.Info().Msg("session gateway service stopped")
	return nil
}

// RegisterRoutes registers the WebSocket, publish and health routes
func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	s.wsHandler.RegisterRoutes(mux)
	s.publishHandler.RegisterRoutes(mux)
	s.healthChecker.RegisterRoutes(mux)
	log.Info().Msg("session gateway routes registered")
}

// Publisher returns the event publisher for in-process request handlers.
func (s *Service) Publisher() *Publisher {
	return s.publisher
}

// Registry returns the connection registry.
func (s *Service) Registry() *Registry {
	return s.registry
}

// Health returns the current health status.
func (s *Service) Health() HealthStatus {
	return s.healthChecker.Check()
}
