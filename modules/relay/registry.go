package relay

import (
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Sink is one downstream listener.
//
// Write is called from the relay loop and must not block: a sink that cannot
// take the chunk right away returns an error and is evicted.
type Sink interface {
	ID() string
	Write(chunk []byte) error
	Close() error
}

// Registry is the set of listeners receiving the upstream bytes.
//
// It is not safe for concurrent use. The relay loop is its only caller.
type Registry struct {
	logger *slog.Logger
	sinks  map[string]Sink

	listeners prometheus.Gauge
	evictions prometheus.Counter
}

// NewRegistry creates an empty registry whose metrics are registered with reg.
func NewRegistry(logger *slog.Logger, reg prometheus.Registerer) *Registry {
	f := promauto.With(reg)

	return &Registry{
		logger: logger,
		sinks:  make(map[string]Sink),
		listeners: f.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "listeners",
			Help:      "Currently registered listeners.",
		}),
		evictions: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "listener_evictions_total",
			Help:      "Listeners removed because a write to them failed.",
		}),
	}
}

// Register adds s. Only chunks broadcast after this call reach it.
func (r *Registry) Register(s Sink) {
	r.sinks[s.ID()] = s
	r.listeners.Set(float64(len(r.sinks)))
	r.logger.Info("listener connected", "listener", s.ID(), "listeners", len(r.sinks))
}

// Unregister removes the sink with the given id. Removing an unknown id is a
// no-op. It reports whether a sink was removed.
func (r *Registry) Unregister(id string) bool {
	if _, ok := r.sinks[id]; !ok {
		return false
	}
	delete(r.sinks, id)
	r.listeners.Set(float64(len(r.sinks)))
	r.logger.Info("listener disconnected", "listener", id, "listeners", len(r.sinks))
	return true
}

// Broadcast writes chunk to every registered sink and returns how many took
// it. A sink whose write fails is closed and removed; the others are not
// affected.
func (r *Registry) Broadcast(chunk []byte) int {
	delivered := 0
	for id, s := range r.sinks {
		if err := s.Write(chunk); err != nil {
			// Deleting the current key while ranging over a map is safe.
			delete(r.sinks, id)
			_ = s.Close()
			r.evictions.Inc()
			r.logger.Warn("evicted listener", "listener", id, "err", err)
			continue
		}
		delivered++
	}
	r.listeners.Set(float64(len(r.sinks)))
	return delivered
}

// CloseAll closes and removes every sink, returning how many there were.
func (r *Registry) CloseAll() int {
	n := len(r.sinks)
	for id, s := range r.sinks {
		_ = s.Close()
		delete(r.sinks, id)
	}
	r.listeners.Set(0)
	return n
}

// Len returns the number of registered sinks.
func (r *Registry) Len() int {
	return len(r.sinks)
}
