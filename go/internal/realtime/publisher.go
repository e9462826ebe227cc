package realtime

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/focusroom/focusroom/go/internal/bus"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
)

// ErrBusUnavailable is returned while the publish circuit breaker is open.
var ErrBusUnavailable = errors.New("event bus unavailable")

// BreakerConfig controls when publishing stops trying the broker.
type BreakerConfig struct {
	// MaxFailures is the number of consecutive failures that opens the breaker.
	MaxFailures uint32
	// OpenTimeout is how long the breaker stays open before a trial publish.
	OpenTimeout time.Duration
}

// DefaultBreakerConfig returns the default breaker settings
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxFailures: 5,
		OpenTimeout: 30 * time.Second,
	}
}

// Publisher is the entry point request handlers use to emit session events.
// It has no knowledge of which process holds the sockets for a session.
type Publisher struct {
	transport bus.Transport
	channel   string
	breaker   *gobreaker.CircuitBreaker
	metrics   MetricsCollector
}

// NewPublisher creates a publisher writing to channel on transport.
func NewPublisher(transport bus.Transport, channel string, cfg BreakerConfig, metrics MetricsCollector) *Publisher {
	if metrics == nil {
		metrics = NoOpMetrics{}
	}
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = DefaultBreakerConfig().MaxFailures
	}

	maxFailures := cfg.MaxFailures
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "bus-publish",
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		IsSuccessful: isBrokerHealthy,
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state changed")
		},
	})

	return &Publisher{
		transport: transport,
		channel:   channel,
		breaker:   breaker,
		metrics:   metrics,
	}
}

// isBrokerHealthy keeps errors that say nothing about the broker out of the
// failure count: a caller giving up, or a publish racing a disconnect that
// the transport already reports as not ready.
func isBrokerHealthy(err error) bool {
	return err == nil ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, bus.ErrNotReady)
}

// PublishEvent encodes the event and hands it to the broker. A nil error
// means the broker accepted it, not that any client received it. It fails
// with bus.ErrNotReady before the broker connection is up.
func (p *Publisher) PublishEvent(ctx context.Context, sessionID, eventName string, payload any) error {
	event, err := NewEvent(sessionID, eventName, payload)
	if err != nil {
		p.metrics.RecordPublish(PublishResultInvalid)
		return err
	}
	return p.Publish(ctx, event)
}

// Publish sends an already built event.
func (p *Publisher) Publish(ctx context.Context, event Event) error {
	data, err := EncodeBusMessage(event)
	if err != nil {
		p.metrics.RecordPublish(PublishResultInvalid)
		return err
	}

	if !p.transport.Ready() {
		p.metrics.RecordPublish(PublishResultNotReady)
		return fmt.Errorf("publish %s to session %s: %w", event.Name, event.SessionID, bus.ErrNotReady)
	}

	_, err = p.breaker.Execute(func() (interface{}, error) {
		return nil, p.transport.Publish(ctx, p.channel, data)
	})
	if err != nil {
		switch {
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			p.metrics.RecordPublish(PublishResultBreakerOpen)
			return fmt.Errorf("%w: %w", ErrBusUnavailable, err)
		case errors.Is(err, bus.ErrNotReady):
			p.metrics.RecordPublish(PublishResultNotReady)
		default:
			p.metrics.RecordPublish(PublishResultError)
		}
		return fmt.Errorf("publish %s to session %s: %w", event.Name, event.SessionID, err)
	}

	p.metrics.RecordPublish(PublishResultOK)
	log.Debug().
		Str("session_id", event.SessionID).
		Str("event", event.Name).
		Msg("event published")
	return nil
}

// BreakerState reports the current circuit breaker state.
func (p *Publisher) BreakerState() gobreaker.State {
	return p.breaker.State()
}
