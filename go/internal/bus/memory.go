package bus

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// ErrSubscriberFull is returned when the in-process subscriber is not keeping up.
var ErrSubscriberFull = errors.New("memory subscriber buffer full")

// MemoryTransport fans messages out inside a single process. It backs
// single-instance development setups and tests.
type MemoryTransport struct {
	mu         sync.RWMutex
	subs       map[string]chan Message
	ready      atomic.Bool
	closed     bool
	subscribed atomic.Bool
	buffer     int
}

// NewMemoryTransport creates an in-process transport that is ready immediately.
func NewMemoryTransport(buffer int) *MemoryTransport {
	if buffer <= 0 {
		buffer = 256
	}
	t := &MemoryTransport{
		subs:   make(map[string]chan Message),
		buffer: buffer,
	}
	t.ready.Store(true)
	return t
}

func (t *MemoryTransport) Name() string { return "memory" }

func (t *MemoryTransport) Connect(ctx context.Context) error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		return ErrClosed
	}
	return nil
}

// SetReady toggles readiness to simulate a broker outage.
func (t *MemoryTransport) SetReady(ready bool) {
	t.ready.Store(ready)
}

func (t *MemoryTransport) Ready() bool {
	return t.ready.Load()
}

// Publish delivers payload to the subscriber of channel, if any. A full
// subscriber buffer is reported as ErrSubscriberFull.
func (t *MemoryTransport) Publish(ctx context.Context, channel string, payload []byte) error {
	if !t.ready.Load() {
		return ErrNotReady
	}

	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		return ErrClosed
	}

	ch, ok := t.subs[channel]
	if !ok {
		return nil
	}

	data := make([]byte, len(payload))
	copy(data, payload)

	select {
	case ch <- Message{Channel: channel, Payload: data}:
		return nil
	default:
		return ErrSubscriberFull
	}
}

func (t *MemoryTransport) Subscribe(ctx context.Context, channel string) (<-chan Message, error) {
	if !t.subscribed.CompareAndSwap(false, true) {
		return nil, ErrAlreadySubscribed
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, ErrClosed
	}
	ch := make(chan Message, t.buffer)
	t.subs[channel] = ch
	t.mu.Unlock()

	go func() {
		<-ctx.Done()
		t.unsubscribe(channel)
	}()

	return ch, nil
}

func (t *MemoryTransport) unsubscribe(channel string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if ch, ok := t.subs[channel]; ok {
		delete(t.subs, channel)
		close(ch)
	}
}

func (t *MemoryTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	t.ready.Store(false)
	for channel, ch := range t.subs {
		delete(t.subs, channel)
		close(ch)
	}
	return nil
}
