package bus

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const (
	redisReconnectInitial = 500 * time.Millisecond
	redisReconnectMax     = 30 * time.Second
	redisPingTimeout      = 2 * time.Second
)

// RedisTransport uses Redis Pub/Sub. The publisher and subscriber are
// separate clients so the subscribe connection never blocks publishing.
type RedisTransport struct {
	publisher  *redis.Client
	subscriber *redis.Client
	config     Config
	clock      clockwork.Clock

	ready      atomic.Bool
	closed     atomic.Bool
	subscribed atomic.Bool

	monitorOnce sync.Once
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
}

// NewRedisTransport creates a Redis transport from a URL such as
// "redis://localhost:6379/0".
func NewRedisTransport(cfg Config) (*RedisTransport, error) {
	pubOpts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	subOpts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	pubOpts.ClientName = "session-bridge-pub"
	subOpts.ClientName = "session-bridge-sub"

	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.HealthInterval <= 0 {
		cfg.HealthInterval = 5 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &RedisTransport{
		publisher:  redis.NewClient(pubOpts),
		subscriber: redis.NewClient(subOpts),
		config:     cfg,
		clock:      cfg.Clock,
		ctx:        ctx,
		cancel:     cancel,
	}, nil
}

func (t *RedisTransport) Name() string { return "redis" }

// Connect pings both clients and starts the health monitor. The monitor
// keeps running after a failed Connect and flips the transport to ready
// once Redis answers.
func (t *RedisTransport) Connect(ctx context.Context) error {
	if t.closed.Load() {
		return ErrClosed
	}

	t.monitorOnce.Do(func() {
		t.wg.Add(1)
		go t.monitor()
	})

	if err := t.publisher.Ping(ctx).Err(); err != nil {
		t.ready.Store(false)
		return fmt.Errorf("ping redis publisher: %w", err)
	}
	if err := t.subscriber.Ping(ctx).Err(); err != nil {
		t.ready.Store(false)
		return fmt.Errorf("ping redis subscriber: %w", err)
	}

	t.ready.Store(true)
	log.Info().Str("url", redactURL(t.config.URL)).Msg("connected to redis")
	return nil
}

func (t *RedisTransport) Ready() bool {
	return t.ready.Load() && !t.closed.Load()
}

func (t *RedisTransport) Publish(ctx context.Context, channel string, payload []byte) error {
	if t.closed.Load() {
		return ErrClosed
	}
	if !t.ready.Load() {
		return ErrNotReady
	}
	if err := t.publisher.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("publish to redis: %w", err)
	}
	return nil
}

func (t *RedisTransport) Subscribe(ctx context.Context, channel string) (<-chan Message, error) {
	if t.closed.Load() {
		return nil, ErrClosed
	}
	if !t.subscribed.CompareAndSwap(false, true) {
		return nil, ErrAlreadySubscribed
	}

	// go-redis re-establishes the subscription on reconnect.
	sub := t.subscriber.Subscribe(ctx, channel)
	out := make(chan Message, t.config.SubscriptionBuffer)

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		defer close(out)
		defer func() {
			if err := sub.Close(); err != nil {
				log.Debug().Err(err).Msg("close redis subscription")
			}
		}()

		msgCh := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.ctx.Done():
				return
			case msg, ok := <-msgCh:
				if !ok {
					return
				}
				select {
				case out <- Message{Channel: msg.Channel, Payload: []byte(msg.Payload)}:
				case <-ctx.Done():
					return
				case <-t.ctx.Done():
					return
				}
			}
		}
	}()

	log.Info().Str("channel", channel).Msg("subscribed to redis channel")
	return out, nil
}

// monitor pings Redis every HealthInterval and, while it is unreachable,
// retries with exponential backoff.
func (t *RedisTransport) monitor() {
	defer t.wg.Done()

	ticker := t.clock.NewTicker(t.config.HealthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.ctx.Done():
			return
		case <-ticker.Chan():
			if t.ping() == nil {
				continue
			}
			if t.ready.Swap(false) {
				log.Error().Msg("redis unreachable, publishing disabled")
			}
			t.reconnect()
		}
	}
}

func (t *RedisTransport) reconnect() {
	backoff := NewBackoff(redisReconnectInitial, redisReconnectMax)
	for attempt := 1; ; attempt++ {
		err := t.ping()
		if err == nil {
			t.ready.Store(true)
			log.Info().Int("attempts", attempt).Msg("redis reconnected")
			return
		}

		wait := backoff.Next()
		log.Warn().
			Err(err).
			Int("attempt", attempt).
			Dur("retry_in", wait).
			Msg("redis reconnect failed")

		if !sleep(t.ctx, t.clock, wait) {
			return
		}
	}
}

func (t *RedisTransport) ping() error {
	ctx, cancel := context.WithTimeout(t.ctx, redisPingTimeout)
	defer cancel()
	return t.publisher.Ping(ctx).Err()
}

func (t *RedisTransport) Close() error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}
	t.ready.Store(false)
	t.cancel()
	t.wg.Wait()

	pubErr := t.publisher.Close()
	subErr := t.subscriber.Close()
	if pubErr != nil {
		return fmt.Errorf("close redis publisher: %w", pubErr)
	}
	if subErr != nil {
		return fmt.Errorf("close redis subscriber: %w", subErr)
	}
	return nil
}
