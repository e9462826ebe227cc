package realtime

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/focusroom/focusroom/go/internal/bus"
)

type recordingMetrics struct {
	NoOpMetrics

	opened    atomic.Int64
	closed    atomic.Int64
	rejected  atomic.Int64
	evicted   atomic.Int64
	received  atomic.Int64
	malformed atomic.Int64

	mu      sync.Mutex
	results []string
}

func (m *recordingMetrics) RecordConnectionOpened()              { m.opened.Add(1) }
func (m *recordingMetrics) RecordConnectionClosed(time.Duration) { m.closed.Add(1) }
func (m *recordingMetrics) RecordConnectionRejected(string)      { m.rejected.Add(1) }
func (m *recordingMetrics) RecordSlowClientEvicted()             { m.evicted.Add(1) }

func (m *recordingMetrics) RecordBusMessage(malformed bool) {
	m.received.Add(1)
	if malformed {
		m.malformed.Add(1)
	}
}

func (m *recordingMetrics) RecordPublish(result string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results = append(m.results, result)
}

func (m *recordingMetrics) publishResults() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.results...)
}

// fakeTransport records publishes and fails them on demand.
type fakeTransport struct {
	mu         sync.Mutex
	ready      bool
	publishErr error
	published  [][]byte
}

var _ bus.Transport = (*fakeTransport)(nil)

func newFakeTransport() *fakeTransport {
	return &fakeTransport{ready: true}
}

func (f *fakeTransport) Name() string                      { return "fake" }
func (f *fakeTransport) Connect(ctx context.Context) error { return nil }
func (f *fakeTransport) Close() error                      { return nil }

func (f *fakeTransport) Ready() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ready
}

func (f *fakeTransport) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publishErr != nil {
		return f.publishErr
	}
	f.published = append(f.published, payload)
	return nil
}

func (f *fakeTransport) Subscribe(ctx context.Context, channel string) (<-chan bus.Message, error) {
	return nil, bus.ErrNotReady
}

func (f *fakeTransport) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.published)
}
