package realtime

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/focusroom/focusroom/go/internal/bus"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublisher_PublishEvent(t *testing.T) {
	transport := newFakeTransport()
	metrics := &recordingMetrics{}
	p := NewPublisher(transport, "session_events", DefaultBreakerConfig(), metrics)

	err := p.PublishEvent(context.Background(), "s1", EventTimerStart, map[string]int{"durationSet": 1500})
	require.NoError(t, err)

	require.Len(t, transport.published, 1)
	assert.JSONEq(t,
		`{"sessionId":"s1","event":"TIMER_START","payload":{"durationSet":1500}}`,
		string(transport.published[0]))
	assert.Equal(t, []string{PublishResultOK}, metrics.publishResults())
}

func TestPublisher_InvalidEvent(t *testing.T) {
	transport := newFakeTransport()
	p := NewPublisher(transport, "session_events", DefaultBreakerConfig(), nil)

	err := p.PublishEvent(context.Background(), "", EventTimerStart, nil)
	assert.ErrorIs(t, err, ErrInvalidEvent)

	err = p.PublishEvent(context.Background(), "s1", "", nil)
	assert.ErrorIs(t, err, ErrInvalidEvent)

	assert.Zero(t, transport.calls())
}

func TestPublisher_NotReadyFailsFast(t *testing.T) {
	transport := bus.NewMemoryTransport(8)
	transport.SetReady(false)
	p := NewPublisher(transport, "session_events", DefaultBreakerConfig(), nil)

	err := p.PublishEvent(context.Background(), "s1", EventTimerEnd, map[string]any{})
	assert.ErrorIs(t, err, bus.ErrNotReady)
}

func TestPublisher_DeliversThroughMemoryBus(t *testing.T) {
	transport := bus.NewMemoryTransport(8)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	msgs, err := transport.Subscribe(ctx, "session_events")
	require.NoError(t, err)

	p := NewPublisher(transport, "session_events", DefaultBreakerConfig(), nil)
	require.NoError(t, p.PublishEvent(ctx, "s1", EventTimerEnd, nil))

	select {
	case msg := <-msgs:
		assert.JSONEq(t, `{"sessionId":"s1","event":"TIMER_END","payload":null}`, string(msg.Payload))
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for bus message")
	}
}

func TestPublisher_BreakerOpensAfterConsecutiveFailures(t *testing.T) {
	transport := newFakeTransport()
	transport.publishErr = errors.New("connection reset")
	metrics := &recordingMetrics{}
	p := NewPublisher(transport, "session_events", BreakerConfig{MaxFailures: 2, OpenTimeout: time.Minute}, metrics)

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		err := p.PublishEvent(ctx, "s1", EventTimerStart, nil)
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrBusUnavailable)
	}
	assert.Equal(t, gobreaker.StateOpen, p.BreakerState())

	// Recovery of the broker is not seen while the breaker is open.
	transport.mu.Lock()
	transport.publishErr = nil
	transport.mu.Unlock()

	err := p.PublishEvent(ctx, "s1", EventTimerStart, nil)
	assert.ErrorIs(t, err, ErrBusUnavailable)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Zero(t, transport.calls())

	assert.Equal(t,
		[]string{PublishResultError, PublishResultError, PublishResultBreakerOpen},
		metrics.publishResults())
}

func TestPublisher_BreakerRecoversAfterTimeout(t *testing.T) {
	transport := newFakeTransport()
	transport.publishErr = errors.New("connection reset")
	p := NewPublisher(transport, "session_events", BreakerConfig{MaxFailures: 1, OpenTimeout: 50 * time.Millisecond}, nil)

	ctx := context.Background()
	require.Error(t, p.PublishEvent(ctx, "s1", EventTimerStart, nil))
	require.Equal(t, gobreaker.StateOpen, p.BreakerState())

	transport.mu.Lock()
	transport.publishErr = nil
	transport.mu.Unlock()

	require.Eventually(t, func() bool {
		return p.BreakerState() == gobreaker.StateHalfOpen
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, p.PublishEvent(ctx, "s1", EventTimerStart, nil))
	assert.Equal(t, gobreaker.StateClosed, p.BreakerState())
	assert.Equal(t, 1, transport.calls())
}

func TestPublisher_CallerCancellationDoesNotOpenBreaker(t *testing.T) {
	transport := newFakeTransport()
	p := NewPublisher(transport, "session_events", BreakerConfig{MaxFailures: 2, OpenTimeout: time.Minute}, nil)

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	for i := 0; i < 5; i++ {
		err := p.PublishEvent(cancelled, "s1", EventTimerStart, nil)
		assert.ErrorIs(t, err, context.Canceled)
	}

	expired, cancelExpired := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancelExpired()
	for i := 0; i < 5; i++ {
		err := p.PublishEvent(expired, "s1", EventTimerStart, nil)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	}

	assert.Equal(t, gobreaker.StateClosed, p.BreakerState())
	require.NoError(t, p.PublishEvent(context.Background(), "s1", EventTimerStart, nil))
	assert.Equal(t, 1, transport.calls())
}

func TestPublisher_NotReadyRaceDoesNotOpenBreaker(t *testing.T) {
	// Ready() still reports true but the broker connection just dropped.
	transport := newFakeTransport()
	transport.publishErr = bus.ErrNotReady
	p := NewPublisher(transport, "session_events", BreakerConfig{MaxFailures: 2, OpenTimeout: time.Minute}, nil)

	for i := 0; i < 5; i++ {
		err := p.PublishEvent(context.Background(), "s1", EventTimerEnd, nil)
		assert.ErrorIs(t, err, bus.ErrNotReady)
		assert.NotErrorIs(t, err, ErrBusUnavailable)
	}
	assert.Equal(t, gobreaker.StateClosed, p.BreakerState())
}
