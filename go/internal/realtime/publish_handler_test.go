package realtime

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/focusroom/focusroom/go/internal/bus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPublishMux(transport bus.Transport, breaker BreakerConfig) *http.ServeMux {
	mux := http.NewServeMux()
	NewPublishHandler(NewPublisher(transport, testChannel, breaker, nil)).RegisterRoutes(mux)
	return mux
}

func doPublish(mux http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestPublishHandler_Accepted(t *testing.T) {
	transport := bus.NewMemoryTransport(8)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	msgs, err := transport.Subscribe(ctx, testChannel)
	require.NoError(t, err)

	mux := newPublishMux(transport, DefaultBreakerConfig())
	rec := doPublish(mux, http.MethodPost, "/api/sessions/s1/events", `{"event":"TIMER_START","payload":{"durationSet":1500}}`)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.JSONEq(t, `{"status":"accepted"}`, rec.Body.String())

	select {
	case msg := <-msgs:
		assert.JSONEq(t, `{"sessionId":"s1","event":"TIMER_START","payload":{"durationSet":1500}}`, string(msg.Payload))
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for bus message")
	}
}

func TestPublishHandler_Errors(t *testing.T) {
	tests := []struct {
		name       string
		method     string
		body       string
		setup      func(*fakeTransport)
		wantStatus int
	}{
		{
			name:       "invalid json",
			method:     http.MethodPost,
			body:       `{"event":`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "missing event name",
			method:     http.MethodPost,
			body:       `{"payload":{}}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "bus not ready",
			method:     http.MethodPost,
			body:       `{"event":"TIMER_END"}`,
			setup:      func(f *fakeTransport) { f.ready = false },
			wantStatus: http.StatusServiceUnavailable,
		},
		{
			name:       "payload too large for broker",
			method:     http.MethodPost,
			body:       `{"event":"TIMER_END"}`,
			setup:      func(f *fakeTransport) { f.publishErr = bus.ErrPayloadTooLarge },
			wantStatus: http.StatusRequestEntityTooLarge,
		},
		{
			name:       "broker error",
			method:     http.MethodPost,
			body:       `{"event":"TIMER_END"}`,
			setup:      func(f *fakeTransport) { f.publishErr = errors.New("broken pipe") },
			wantStatus: http.StatusBadGateway,
		},
		{
			name:       "wrong method",
			method:     http.MethodGet,
			wantStatus: http.StatusMethodNotAllowed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			transport := newFakeTransport()
			if tt.setup != nil {
				tt.setup(transport)
			}
			mux := newPublishMux(transport, DefaultBreakerConfig())

			rec := doPublish(mux, tt.method, "/api/sessions/s1/events", tt.body)
			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Zero(t, transport.calls())
		})
	}
}

func TestPublishHandler_BreakerOpenIsUnavailable(t *testing.T) {
	transport := newFakeTransport()
	transport.publishErr = errors.New("broken pipe")
	mux := newPublishMux(transport, BreakerConfig{MaxFailures: 1, OpenTimeout: time.Minute})

	rec := doPublish(mux, http.MethodPost, "/api/sessions/s1/events", `{"event":"TIMER_START"}`)
	assert.Equal(t, http.StatusBadGateway, rec.Code)

	rec = doPublish(mux, http.MethodPost, "/api/sessions/s1/events", `{"event":"TIMER_START"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
