package realtime

import "time"

// MetricsCollector defines the interface for collecting gateway metrics
type MetricsCollector interface {
	RecordConnectionOpened()
	RecordConnectionClosed(duration time.Duration)
	RecordConnectionRejected(reason string)
	RecordActiveSessions(count int)
	RecordBroadcast(recipients int)
	RecordSlowClientEvicted()
	RecordBusMessage(malformed bool)
	RecordPublish(result string)
	RecordBusReady(ready bool)
}

// Publish results recorded through MetricsCollector.RecordPublish.
const (
	PublishResultOK          = "ok"
	PublishResultInvalid     = "invalid"
	PublishResultNotReady    = "not_ready"
	PublishResultBreakerOpen = "breaker_open"
	PublishResultError       = "error"
)

// NoOpMetrics is a no-op implementation for when metrics aren't needed
type NoOpMetrics struct{}

func (NoOpMetrics) RecordConnectionOpened()              {}
func (NoOpMetrics) RecordConnectionClosed(time.Duration) {}
func (NoOpMetrics) RecordConnectionRejected(string)      {}
func (NoOpMetrics) RecordActiveSessions(int)             {}
func (NoOpMetrics) RecordBroadcast(int)                  {}
func (NoOpMetrics) RecordSlowClientEvicted()             {}
func (NoOpMetrics) RecordBusMessage(bool)                {}
func (NoOpMetrics) RecordPublish(string)                 {}
func (NoOpMetrics) RecordBusReady(bool)                  {}
