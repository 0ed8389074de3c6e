// Package xmetrics wires the recording core's counters and gauges to
// github.com/prometheus/client_golang: a single place that owns the
// registry and exposes it over HTTP.
package xmetrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the recording core's metrics sink. It is intentionally a
// thin wrapper: components register their own Counters/Gauges/Histograms
// directly against the embedded prometheus.Registerer rather than going
// through a translation layer.
type Registry struct {
	*prometheus.Registry
}

func New() *Registry {
	reg := prometheus.NewRegistry()
	return &Registry{Registry: reg}
}

// HTTPHandler returns a handler suitable for mounting at /metrics, as
// cmd/recorder mounts it at /metrics.
func (r *Registry) HTTPHandler() http.Handler {
	return promhttp.HandlerFor(r.Registry, promhttp.HandlerOpts{})
}

// Counter registers and returns a new counter, or panics on a duplicate
// registration (matching prometheus client_golang's own MustRegister
// semantics, which every caller in this module relies on).
func (r *Registry) Counter(name, help string) prometheus.Counter {
	c := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "flightrec",
		Name:      name,
		Help:      help,
	})
	r.MustRegister(c)
	return c
}

// Gauge registers and returns a new gauge.
func (r *Registry) Gauge(name, help string) prometheus.Gauge {
	g := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "flightrec",
		Name:      name,
		Help:      help,
	})
	r.MustRegister(g)
	return g
}
