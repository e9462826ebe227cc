// Package bus is a thin client over an external publish/subscribe broker.
//
// Every Transport keeps two logical broker connections: one used only for
// publishing and one used only for the single subscription, because broker
// clients usually forbid regular commands on a connection that is blocked
// in subscribe mode. A Transport owns no business state.
package bus

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/jonboulle/clockwork"
)

var (
	// ErrNotReady is returned by Publish before the broker connection is established.
	ErrNotReady = errors.New("bus transport not ready")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("bus transport closed")
	// ErrAlreadySubscribed is returned by a second call to Subscribe.
	ErrAlreadySubscribed = errors.New("bus transport already subscribed")
	// ErrUnsupportedScheme is returned by Open for an unknown URL scheme.
	ErrUnsupportedScheme = errors.New("unsupported bus URL scheme")
	// ErrPayloadTooLarge is returned when the broker cannot carry the payload.
	ErrPayloadTooLarge = errors.New("bus payload too large")
)

// Message is a single delivery received from the broker.
type Message struct {
	Channel string
	Payload []byte
}

// Transport publishes to and subscribes from a broker channel.
type Transport interface {
	// Name identifies the driver in logs and health output.
	Name() string

	// Connect establishes both broker connections. On failure the transport
	// stays usable but not ready.
	Connect(ctx context.Context) error

	// Publish hands payload to the broker. Safe for concurrent use.
	Publish(ctx context.Context, channel string, payload []byte) error

	// Subscribe starts the one subscription this transport allows. The
	// returned channel is closed when ctx is done or the transport closes.
	Subscribe(ctx context.Context, channel string) (<-chan Message, error)

	// Ready reports whether publishing is currently possible.
	Ready() bool

	Close() error
}

// Config holds driver settings shared by all transports.
type Config struct {
	URL string

	// NATS
	MaxReconnects int
	ReconnectWait time.Duration

	// HealthInterval is how often the Redis monitor pings the broker.
	HealthInterval time.Duration

	// SubscriptionBuffer is the capacity of the channel returned by Subscribe.
	SubscriptionBuffer int

	Clock clockwork.Clock
}

// DefaultURL is used when no broker URL is configured.
const DefaultURL = "redis://localhost:6379"

// DefaultConfig returns the default bus configuration
func DefaultConfig() Config {
	return Config{
		URL:                DefaultURL,
		MaxReconnects:      -1, // Infinite
		ReconnectWait:      2 * time.Second,
		HealthInterval:     5 * time.Second,
		SubscriptionBuffer: 256,
		Clock:              clockwork.NewRealClock(),
	}
}

// Open creates the transport matching the scheme of cfg.URL. It does not
// connect; call Connect on the result.
func Open(cfg Config) (Transport, error) {
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.SubscriptionBuffer <= 0 {
		cfg.SubscriptionBuffer = 256
	}

	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse bus URL: %w", err)
	}

	switch u.Scheme {
	case "redis", "rediss":
		return NewRedisTransport(cfg)
	case "nats", "tls":
		return NewNATSTransport(cfg), nil
	case "postgres", "postgresql":
		return NewPostgresTransport(cfg), nil
	case "memory":
		return NewMemoryTransport(cfg.SubscriptionBuffer), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}
}

// redactURL strips credentials so the URL can be logged.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "invalid-url"
	}
	return u.Redacted()
}
