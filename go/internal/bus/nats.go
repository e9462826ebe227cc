package bus

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

// NATSTransport uses core NATS subjects. Publishing and subscribing go
// through separate connections.
type NATSTransport struct {
	config Config

	mu         sync.RWMutex
	pubConn    *nats.Conn
	subConn    *nats.Conn
	closed     atomic.Bool
	subscribed atomic.Bool
	done       chan struct{}
}

// NewNATSTransport creates a NATS transport for a URL such as
// "nats://localhost:4222".
func NewNATSTransport(cfg Config) *NATSTransport {
	return &NATSTransport{config: cfg, done: make(chan struct{})}
}

func (t *NATSTransport) Name() string { return "nats" }

func (t *NATSTransport) options(name string) []nats.Option {
	return []nats.Option{
		nats.Name(name),
		nats.MaxReconnects(t.config.MaxReconnects),
		nats.ReconnectWait(t.config.ReconnectWait),
		nats.RetryOnFailedConnect(true),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Str("conn", name).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("conn", name).Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Str("conn", name).Msg("NATS error")
		}),
	}
}

// Connect dials both connections. With RetryOnFailedConnect the client
// keeps trying in the background, so an unreachable server leaves the
// transport not ready rather than unusable.
func (t *NATSTransport) Connect(ctx context.Context) error {
	if t.closed.Load() {
		return ErrClosed
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.pubConn == nil {
		nc, err := nats.Connect(t.config.URL, t.options("session-bridge-pub")...)
		if err != nil {
			return fmt.Errorf("connect to NATS: %w", err)
		}
		t.pubConn = nc
	}
	if t.subConn == nil {
		nc, err := nats.Connect(t.config.URL, t.options("session-bridge-sub")...)
		if err != nil {
			return fmt.Errorf("connect to NATS: %w", err)
		}
		t.subConn = nc
	}

	if !t.pubConn.IsConnected() || !t.subConn.IsConnected() {
		return fmt.Errorf("connect to NATS %s: %w", redactURL(t.config.URL), ErrNotReady)
	}

	log.Info().Str("url", t.pubConn.ConnectedUrl()).Msg("connected to NATS")
	return nil
}

func (t *NATSTransport) Ready() bool {
	if t.closed.Load() {
		return false
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.pubConn != nil && t.pubConn.IsConnected() &&
		t.subConn != nil && t.subConn.IsConnected()
}

func (t *NATSTransport) Publish(ctx context.Context, channel string, payload []byte) error {
	if t.closed.Load() {
		return ErrClosed
	}
	t.mu.RLock()
	nc := t.pubConn
	t.mu.RUnlock()

	// The client would otherwise buffer while reconnecting.
	if nc == nil || !nc.IsConnected() {
		return ErrNotReady
	}
	if err := nc.Publish(channel, payload); err != nil {
		return fmt.Errorf("publish to NATS: %w", err)
	}
	return nil
}

func (t *NATSTransport) Subscribe(ctx context.Context, channel string) (<-chan Message, error) {
	if t.closed.Load() {
		return nil, ErrClosed
	}

	t.mu.RLock()
	nc := t.subConn
	t.mu.RUnlock()
	if nc == nil {
		return nil, ErrNotReady
	}
	if !t.subscribed.CompareAndSwap(false, true) {
		return nil, ErrAlreadySubscribed
	}

	msgCh := make(chan *nats.Msg, t.config.SubscriptionBuffer)
	sub, err := nc.ChanSubscribe(channel, msgCh)
	if err != nil {
		t.subscribed.Store(false)
		return nil, fmt.Errorf("subscribe to NATS subject: %w", err)
	}

	out := make(chan Message, t.config.SubscriptionBuffer)
	go func() {
		defer close(out)
		defer func() {
			if err := sub.Unsubscribe(); err != nil {
				log.Debug().Err(err).Msg("unsubscribe NATS subject")
			}
		}()

		for {
			select {
			case <-ctx.Done():
				return
			case <-t.done:
				return
			case msg := <-msgCh:
				select {
				case out <- Message{Channel: msg.Subject, Payload: msg.Data}:
				case <-ctx.Done():
					return
				case <-t.done:
					return
				}
			}
		}
	}()

	log.Info().Str("subject", channel).Msg("subscribed to NATS subject")
	return out, nil
}

func (t *NATSTransport) Close() error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(t.done)

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.subConn != nil {
		if err := t.subConn.Drain(); err != nil {
			t.subConn.Close()
		}
	}
	if t.pubConn != nil {
		if err := t.pubConn.Flush(); err != nil {
			log.Debug().Err(err).Msg("flush NATS publisher")
		}
		t.pubConn.Close()
	}
	return nil
}
