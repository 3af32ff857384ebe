package relay

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "streamrelay"

// metrics are registered per Relay so that instances sharing a process
// do not overwrite each other's gauges. Each instance needs its own
// Registerer; registering two on the same one panics.
type metrics struct {
	connectAttempts  prometheus.Counter
	upstreamFailures *prometheus.CounterVec
	fallbacks        prometheus.Counter
	upstreamBytes    prometheus.Counter
	upstreamState    *prometheus.GaugeVec
	targetSwitches   prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) *metrics {
	f := promauto.With(reg)

	return &metrics{
		connectAttempts: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "upstream_connect_attempts_total",
			Help:      "Upstream connection attempts.",
		}),
		upstreamFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "upstream_failures_total",
			Help:      "Upstream failures by class (status, error, end, watchdog).",
		}, []string{"class"}),
		fallbacks: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "upstream_fallbacks_total",
			Help:      "Times the relay reverted to the previous target.",
		}),
		upstreamBytes: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "upstream_received_bytes_total",
			Help:      "Bytes received from the upstream.",
		}),
		upstreamState: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "upstream_state",
			Help:      "1 for the connector's current state, 0 otherwise.",
		}, []string{"state"}),
		targetSwitches: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "target_switches_total",
			Help:      "Accepted target changes.",
		}),
	}
}

func (m *metrics) observeState(s State) {
	for _, st := range []State{StateIdle, StateConnecting, StateStreaming, StateFailed} {
		v := 0.0
		if st == s {
			v = 1
		}
		m.upstreamState.WithLabelValues(string(st)).Set(v)
	}
}
