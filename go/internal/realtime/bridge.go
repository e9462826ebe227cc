package realtime

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/focusroom/focusroom/go/internal/bus"
	"github.com/rs/zerolog/log"
)

// Bridge subscribes to the event channel and dispatches every message to
// the registry. Dispatch is synchronous, so events for a session reach its
// connections in broker order.
type Bridge struct {
	transport bus.Transport
	registry  *Registry
	channel   string
	metrics   MetricsCollector

	running   atomic.Bool
	processed atomic.Uint64
}

// NewBridge creates a bridge from transport to registry.
func NewBridge(transport bus.Transport, registry *Registry, channel string, metrics MetricsCollector) *Bridge {
	if metrics == nil {
		metrics = NoOpMetrics{}
	}
	return &Bridge{
		transport: transport,
		registry:  registry,
		channel:   channel,
		metrics:   metrics,
	}
}

// Run subscribes once and processes messages until ctx is done or the
// subscription ends.
func (b *Bridge) Run(ctx context.Context) error {
	messages, err := b.transport.Subscribe(ctx, b.channel)
	if err != nil {
		return fmt.Errorf("subscribe to %s: %w", b.channel, err)
	}

	b.running.Store(true)
	defer b.running.Store(false)

	log.Info().
		Str("channel", b.channel).
		Str("transport", b.transport.Name()).
		Msg("bridge started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("bridge shutting down")
			return nil
		case msg, ok := <-messages:
			if !ok {
				log.Warn().Str("channel", b.channel).Msg("bus subscription closed")
				return nil
			}
			b.handleMessage(msg)
		}
	}
}

// handleMessage never lets a single message end the loop.
func (b *Bridge) handleMessage(msg bus.Message) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Interface("panic", r).
				Str("channel", msg.Channel).
				Msg("recovered from panic while handling bus message")
		}
	}()

	event, err := DecodeBusMessage(msg.Payload)
	if err != nil {
		b.metrics.RecordBusMessage(true)
		log.Warn().
			Err(err).
			Str("channel", msg.Channel).
			Int("bytes", len(msg.Payload)).
			Msg("dropping malformed bus message")
		return
	}
	b.metrics.RecordBusMessage(false)

	// Marshal the frame once for all recipients
	frame, err := EncodeFrame(event)
	if err != nil {
		log.Error().Err(err).Str("session_id", event.SessionID).Msg("failed to encode frame")
		return
	}

	delivered := b.registry.Broadcast(event.SessionID, frame)
	b.processed.Add(1)

	log.Debug().
		Str("event", event.Name).
		Str("session_id", event.SessionID).
		Int("connections", delivered).
		Msg("event broadcasted")
}

// Running reports whether the dispatch loop is active.
func (b *Bridge) Running() bool {
	return b.running.Load()
}

// Processed returns the number of messages dispatched so far.
func (b *Bridge) Processed() uint64 {
	return b.processed.Load()
}
