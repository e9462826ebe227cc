package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_RegistersCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.RecordConnectionRejected("missing_session")
	m.RecordBusMessage(false)
	m.RecordPublish("ok")

	families, err := reg.Gather()
	require.NoError(t, err)

	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["session_gateway_websocket_active_connections"])
	assert.True(t, names["session_gateway_websocket_connections_total"])
	assert.True(t, names["session_gateway_bus_messages_received_total"])
	assert.True(t, names["session_gateway_bus_events_published_total"])
	assert.True(t, names["session_gateway_bus_ready"])
}

func TestNew_DuplicateRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	assert.Panics(t, func() { New(reg) })
}

func TestConnectionLifecycle(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.RecordConnectionOpened()
	m.RecordConnectionOpened()
	m.RecordConnectionClosed(2 * time.Second)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ActiveConnections))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ConnectionsTotal.WithLabelValues("accepted")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.ConnectionDuration))
}

func TestBusCounters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.RecordBusMessage(false)
	m.RecordBusMessage(true)
	m.RecordBusMessage(true)
	m.RecordPublish("ok")
	m.RecordPublish("not_ready")
	m.RecordBroadcast(3)
	m.RecordSlowClientEvicted()
	m.RecordActiveSessions(4)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.BusMessagesReceived.WithLabelValues("ok")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.BusMessagesReceived.WithLabelValues("malformed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventsPublished.WithLabelValues("not_ready")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.FramesSent))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SlowClientsEvicted))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.ActiveSessions))
}

func TestRecordBusReady(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.RecordBusReady(true)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BusReady))

	m.RecordBusReady(false)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.BusReady))
}
