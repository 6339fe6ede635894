// Package metrics exports bridge counters to Prometheus and serves the
// daemon's HTTP surface.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/adumbdinosaur/irbridge/internal/ircode"
	"github.com/adumbdinosaur/irbridge/internal/reactor"
)

const namespace = "irbridge"

// Metrics implements session.Observer and reactor.Observer.  All metrics
// live on a private registry so tests can build as many as they like.
type Metrics struct {
	registry *prometheus.Registry

	sessions prometheus.Gauge
	commands *prometheus.CounterVec
	echoes   prometheus.Counter
	frames   *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		sessions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "sessions_open",
				Help:      "Command sessions currently open",
			},
		),
		commands: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "commands_total",
				Help:      "Session commands dispatched to the IR transmitter",
			},
			[]string{"key", "result"},
		),
		echoes: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "lines_echoed_total",
				Help:      "Session lines that matched no command and were echoed",
			},
		),
		frames: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "frames_total",
				Help:      "IR frames handled by the reactor",
			},
			[]string{"protocol", "outcome"},
		),
	}
	m.registry.MustRegister(m.sessions, m.commands, m.echoes, m.frames)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// WatchDropped exports the receiver's gate drop count.
func (m *Metrics) WatchDropped(dropped func() uint64) {
	m.registry.MustRegister(prometheus.NewCounterFunc(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_dropped_total",
			Help:      "IR frames dropped because the receiver was not re-armed",
		},
		func() float64 { return float64(dropped()) },
	))
}

// WatchLink exports the supervisor state (0 disconnected, 1 connecting,
// 2 connected).
func (m *Metrics) WatchLink(state func() int) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "link_state",
			Help:      "Network link state",
		},
		func() float64 { return float64(state()) },
	))
}

func (m *Metrics) SessionsOpen(n int) {
	m.sessions.Set(float64(n))
}

func (m *Metrics) CommandDispatched(key string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.commands.WithLabelValues(key, result).Inc()
}

func (m *Metrics) LineEchoed() { m.echoes.Inc() }

func (m *Metrics) FrameHandled(f ircode.Frame, outcome reactor.Outcome) {
	m.frames.WithLabelValues(f.Protocol.String(), outcome.String()).Inc()
}
