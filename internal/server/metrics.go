package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the Prometheus instruments exposed on the loopback-only
// /metrics endpoint (SPEC_FULL.md §4.8).
type Metrics struct {
	registry *prometheus.Registry

	sessionsActive prometheus.Gauge
	ipPoolUsed     prometheus.Gauge
	ipPoolCapacity prometheus.Gauge
}

// NewMetrics builds a fresh registry and instruments, isolated from the
// global default registerer so tests can construct multiple servers
// without collector-already-registered panics.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		sessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "vpngw",
			Name:      "sessions_active",
			Help:      "Number of sessions currently in the Active state.",
		}),
		ipPoolUsed: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "vpngw",
			Name:      "ip_pool_used",
			Help:      "Leased addresses in the VPN IP pool, gateway included.",
		}),
		ipPoolCapacity: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "vpngw",
			Name:      "ip_pool_capacity",
			Help:      "Addresses available to clients in the VPN IP pool.",
		}),
	}
}
