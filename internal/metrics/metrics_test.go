package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adumbdinosaur/irbridge/internal/ircode"
	"github.com/adumbdinosaur/irbridge/internal/reactor"
)

func TestObserverCounters(t *testing.T) {
	m := New()

	m.SessionsOpen(1)
	m.CommandDispatched("p1", nil)
	m.CommandDispatched("p1", nil)
	m.CommandDispatched("r", errors.New("device busy"))
	m.LineEchoed()

	frame := ircode.Frame{Protocol: ircode.ProtocolNEC, Address: 0x32, Command: 0x10}
	m.FrameHandled(frame, reactor.OutcomeAction)
	m.FrameHandled(frame, reactor.OutcomeRepeat)
	m.FrameHandled(frame, reactor.OutcomeRepeat)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.sessions))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.commands.WithLabelValues("p1", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.commands.WithLabelValues("r", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.echoes))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.frames.WithLabelValues(ircode.ProtocolNEC.String(), "repeat")))

	m.SessionsOpen(0)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.sessions))
}

func TestMetricsEndpoint(t *testing.T) {
	m := New()
	m.WatchDropped(func() uint64 { return 7 })
	m.WatchLink(func() int { return 2 })
	m.LineEchoed()

	ts := httptest.NewServer(NewRouter(m, func() (bool, string) { return true, "connected" }, nil))
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	text := string(body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, text, "irbridge_frames_dropped_total 7")
	assert.Contains(t, text, "irbridge_link_state 2")
	assert.Contains(t, text, "irbridge_lines_echoed_total 1")
}

func TestHealthz(t *testing.T) {
	tests := []struct {
		name       string
		ok         bool
		status     string
		wantStatus int
	}{
		{"connected", true, "connected", http.StatusOK},
		{"link down", false, "disconnected", http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewRouter(New(), func() (bool, string) { return tt.ok, tt.status }, nil)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.status, strings.TrimSpace(rec.Body.String()))
		})
	}
}

func TestWebSocketRoute(t *testing.T) {
	called := false
	ws := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusTeapot)
	})

	h := NewRouter(New(), func() (bool, string) { return true, "connected" }, ws)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ws", nil))
	assert.True(t, called)
	assert.Equal(t, http.StatusTeapot, rec.Code)

	// Without a handler the route is absent.
	h = NewRouter(New(), func() (bool, string) { return true, "connected" }, nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ws", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
