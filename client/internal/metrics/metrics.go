package metrics

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
)

const defaultNamespace = "sessionbus"

// Metrics holds the client-side collectors. A nil *Metrics is valid and
// records nothing, so components never need to check before calling.
type Metrics struct {
	framesSent       *prometheus.CounterVec
	framesReceived   *prometheus.CounterVec
	decodeErrors     prometheus.Counter
	eventsDispatched prometheus.Counter
	eventsDropped    prometheus.Counter
	handlerErrors    prometheus.Counter
	connects         *prometheus.CounterVec
	closes           *prometheus.CounterVec
	reconnects       prometheus.Counter
	sessionsOpen     prometheus.Gauge
	subscriptions    prometheus.Gauge
}

// New registers the client collectors with reg under namespace.
// Registering twice against the same registry reuses the existing collectors.
func New(namespace string, reg prometheus.Registerer) (*Metrics, error) {
	if namespace == "" {
		namespace = defaultNamespace
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{}
	var err error
	if m.framesSent, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "frames_sent_total",
		Help:      "Frames handed to the transport, by message type.",
	}, []string{"type"})); err != nil {
		return nil, err
	}
	if m.framesReceived, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "frames_received_total",
		Help:      "Frames decoded from the transport, by message type.",
	}, []string{"type"})); err != nil {
		return nil, err
	}
	if m.decodeErrors, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "frame_decode_errors_total",
		Help:      "Inbound payloads that could not be decoded.",
	})); err != nil {
		return nil, err
	}
	if m.eventsDispatched, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "handler_invocations_total",
		Help:      "Subscription handler invocations.",
	})); err != nil {
		return nil, err
	}
	if m.eventsDropped, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_unmatched_total",
		Help:      "Events received for channels with no local subscription.",
	})); err != nil {
		return nil, err
	}
	if m.handlerErrors, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "handler_errors_total",
		Help:      "Handler invocations that returned an error or panicked.",
	})); err != nil {
		return nil, err
	}
	if m.connects, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "connect_attempts_total",
		Help:      "Connection attempts by outcome (opened, failed).",
	}, []string{"result"})); err != nil {
		return nil, err
	}
	if m.closes, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "connection_closes_total",
		Help:      "Connection closures by close code.",
	}, []string{"code"})); err != nil {
		return nil, err
	}
	if m.reconnects, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reconnects_total",
		Help:      "Reconnect attempts scheduled by the supervisor.",
	})); err != nil {
		return nil, err
	}
	if m.sessionsOpen, err = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "sessions_open",
		Help:      "Sessions currently open.",
	})); err != nil {
		return nil, err
	}
	if m.subscriptions, err = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "subscriptions",
		Help:      "Local subscriptions currently registered across sessions.",
	})); err != nil {
		return nil, err
	}
	return m, nil
}

func register[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
		}
		var zero T
		return zero, fmt.Errorf("metrics: register: %w", err)
	}
	return c, nil
}

// FrameSent counts one outbound frame of msgType.
func (m *Metrics) FrameSent(msgType string) {
	if m == nil {
		return
	}
	m.framesSent.WithLabelValues(msgType).Inc()
}

// FrameReceived counts one decoded inbound frame of msgType.
func (m *Metrics) FrameReceived(msgType string) {
	if m == nil {
		return
	}
	m.framesReceived.WithLabelValues(msgType).Inc()
}

// DecodeError counts an inbound frame that could not be decoded.
func (m *Metrics) DecodeError() {
	if m == nil {
		return
	}
	m.decodeErrors.Inc()
}

// Dispatched records one event fan-out: invoked handlers and failures.
// An event that matched nothing counts as unmatched.
func (m *Metrics) Dispatched(matched, invoked, failed int) {
	if m == nil {
		return
	}
	if matched == 0 {
		m.eventsDropped.Inc()
	}
	m.eventsDispatched.Add(float64(invoked))
	m.handlerErrors.Add(float64(failed))
}

// ConnectAttempt records whether a connection reached WELCOME.
func (m *Metrics) ConnectAttempt(opened bool) {
	if m == nil {
		return
	}
	result := "failed"
	if opened {
		result = "opened"
	}
	m.connects.WithLabelValues(result).Inc()
}

// Closed counts a connection close by its close code.
func (m *Metrics) Closed(code int) {
	if m == nil {
		return
	}
	m.closes.WithLabelValues(strconv.Itoa(code)).Inc()
}

// Reconnect counts a reconnect scheduled by the supervisor.
func (m *Metrics) Reconnect() {
	if m == nil {
		return
	}
	m.reconnects.Inc()
}

// SessionOpened increments the open sessions gauge.
func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.sessionsOpen.Inc()
}

// SessionClosed decrements the open sessions gauge.
func (m *Metrics) SessionClosed() {
	if m == nil {
		return
	}
	m.sessionsOpen.Dec()
}

// SubscriptionsChanged adjusts the subscription gauge by delta.
func (m *Metrics) SubscriptionsChanged(delta int) {
	if m == nil || delta == 0 {
		return
	}
	m.subscriptions.Add(float64(delta))
}

// Handler serves the gathered metrics in the Prometheus exposition format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// WriteText gathers g and writes every family in the text exposition
// format. Used by the CLI to dump counters on exit.
func WriteText(w io.Writer, g prometheus.Gatherer) error {
	mfs, err := g.Gather()
	if err != nil {
		return fmt.Errorf("metrics: gather: %w", err)
	}
	return encodeText(w, mfs)
}

func encodeText(w io.Writer, mfs []*dto.MetricFamily) error {
	enc := expfmt.NewEncoder(w, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range mfs {
		if err := enc.Encode(mf); err != nil {
			return fmt.Errorf("metrics: encode %s: %w", mf.GetName(), err)
		}
	}
	return nil
}
