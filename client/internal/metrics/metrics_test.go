package metrics

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func newTestMetrics(t *testing.T) (*Metrics, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	m, err := New("test", reg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return m, reg
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	m.FrameSent("PUBLISH")
	m.FrameReceived("EVENT")
	m.DecodeError()
	m.Dispatched(1, 1, 1)
	m.ConnectAttempt(true)
	m.Closed(1000)
	m.Reconnect()
	m.SessionOpened()
	m.SessionClosed()
	m.SubscriptionsChanged(3)
}

func TestMetrics_Dispatched(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.Dispatched(3, 3, 1)
	m.Dispatched(0, 0, 0)

	if got := testutil.ToFloat64(m.eventsDispatched); got != 3 {
		t.Errorf("handler invocations: got %v, want 3", got)
	}
	if got := testutil.ToFloat64(m.handlerErrors); got != 1 {
		t.Errorf("handler errors: got %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.eventsDropped); got != 1 {
		t.Errorf("unmatched events: got %v, want 1", got)
	}
}

func TestMetrics_LabelledCounters(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.FrameSent("PUBLISH")
	m.FrameSent("PUBLISH")
	m.ConnectAttempt(false)
	m.Closed(1006)

	if got := testutil.ToFloat64(m.framesSent.WithLabelValues("PUBLISH")); got != 2 {
		t.Errorf("frames sent: got %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.connects.WithLabelValues("failed")); got != 1 {
		t.Errorf("failed connects: got %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.closes.WithLabelValues("1006")); got != 1 {
		t.Errorf("1006 closes: got %v, want 1", got)
	}
}

func TestMetrics_Gauges(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.SessionOpened()
	m.SubscriptionsChanged(2)
	m.SubscriptionsChanged(-1)

	if got := testutil.ToFloat64(m.sessionsOpen); got != 1 {
		t.Errorf("sessions open: got %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.subscriptions); got != 1 {
		t.Errorf("subscriptions: got %v, want 1", got)
	}
}

func TestNew_TwiceReusesCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	a, err := New("dup", reg)
	if err != nil {
		t.Fatalf("first New: %v", err)
	}
	b, err := New("dup", reg)
	if err != nil {
		t.Fatalf("second New: %v", err)
	}
	a.Reconnect()
	if got := testutil.ToFloat64(b.reconnects); got != 1 {
		t.Errorf("shared reconnects: got %v, want 1", got)
	}
}

func TestWriteText(t *testing.T) {
	m, reg := newTestMetrics(t)
	m.FrameReceived("EVENT")

	var buf bytes.Buffer
	if err := WriteText(&buf, reg); err != nil {
		t.Fatalf("WriteText: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, `test_frames_received_total{type="EVENT"} 1`) {
		t.Errorf("exposition missing frames_received sample:\n%s", out)
	}
	if !strings.Contains(out, "# TYPE test_sessions_open gauge") {
		t.Errorf("exposition missing sessions_open type line:\n%s", out)
	}
}

func TestHandler(t *testing.T) {
	m, reg := newTestMetrics(t)
	m.Reconnect()

	srv := httptest.NewServer(Handler(reg))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status: got %d, want 200", resp.StatusCode)
	}
	var buf bytes.Buffer
	buf.ReadFrom(resp.Body) //nolint:errcheck
	if !strings.Contains(buf.String(), "test_reconnects_total 1") {
		t.Errorf("body missing reconnects sample:\n%s", buf.String())
	}
}
