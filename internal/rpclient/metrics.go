package rpclient

import (
	"errors"
	"time"

	"github.com/EgorLis/thinws/internal/envelope"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics Prometheus-коллекторы клиента. nil *Metrics допустим и ничего
// не пишет.
type Metrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
	pending  prometheus.Gauge
	opens    prometheus.Counter
	losses   *prometheus.CounterVec
	dropped  *prometheus.CounterVec
	state    prometheus.Gauge
}

// NewMetrics создаёт коллекторы и регистрирует их в reg
// (prometheus.DefaultRegisterer, если nil).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "thinws",
				Subsystem: "client",
				Name:      "requests_total",
				Help:      "Completed requests by envelope type and outcome.",
			},
			[]string{"type", "outcome"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "thinws",
				Subsystem: "client",
				Name:      "request_duration_seconds",
				Help:      "Time from send to completion.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"type"},
		),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "thinws",
			Subsystem: "client",
			Name:      "pending_requests",
			Help:      "Requests awaiting a response.",
		}),
		opens: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "thinws",
			Subsystem: "transport",
			Name:      "opens_total",
			Help:      "Successful connection opens, first or reconnect.",
		}),
		losses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "thinws",
				Subsystem: "transport",
				Name:      "failures_total",
				Help:      "Failed attempts and lost connections.",
			},
			[]string{"kind"},
		),
		dropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "thinws",
				Subsystem: "client",
				Name:      "dropped_frames_total",
				Help:      "Inbound frames that resolved nothing.",
			},
			[]string{"reason"},
		),
		state: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "thinws",
			Subsystem: "client",
			Name:      "state",
			Help:      "Connection state (0 idle, 1 connecting, 2 connected, 3 reconnecting, 4 closed).",
		}),
	}
	reg.MustRegister(m.requests, m.duration, m.pending, m.opens, m.losses, m.dropped, m.state)
	return m
}

func outcomeLabel(err error) string {
	var remote *RemoteError
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &remote):
		return "remote_error"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrCanceled):
		return "canceled"
	case errors.Is(err, ErrClosed):
		return "closed"
	default:
		return "error"
	}
}

func (m *Metrics) observeRequest(typ envelope.Type, err error, took time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(string(typ), outcomeLabel(err)).Inc()
	m.duration.WithLabelValues(string(typ)).Observe(took.Seconds())
}

func (m *Metrics) setPending(n int) {
	if m == nil {
		return
	}
	m.pending.Set(float64(n))
}

func (m *Metrics) opened() {
	if m == nil {
		return
	}
	m.opens.Inc()
}

func (m *Metrics) failure(kind string) {
	if m == nil {
		return
	}
	m.losses.WithLabelValues(kind).Inc()
}

func (m *Metrics) droppedFrame(reason string) {
	if m == nil {
		return
	}
	m.dropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) setState(s State) {
	if m == nil {
		return
	}
	m.state.Set(float64(s))
}
