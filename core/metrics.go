package core

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Each subsystem builds its own metrics struct out of unregistered
// collectors. Instances are registered against a caller-supplied
// *prometheus.Registry exactly once, in cmd/choros's node wiring — keeping
// registration out of these constructors lets tests construct any number of
// router/assembler/finality instances without tripping prometheus's
// duplicate-collector panic.

type routerMetrics struct {
	eventsPublished   prometheus.Counter
	subscribersLagged prometheus.Counter
}

func newRouterMetrics() *routerMetrics {
	return &routerMetrics{
		eventsPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "choros",
			Subsystem: "router",
			Name:      "events_published_total",
			Help:      "Number of envelopes that passed authentication and were fanned out.",
		}),
		subscribersLagged: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "choros",
			Subsystem: "router",
			Name:      "subscribers_lagged_total",
			Help:      "Number of times a subscriber's buffer overflowed and dropped its oldest entry.",
		}),
	}
}

// Collectors returns the metrics for registration against a registry.
func (m *routerMetrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{m.eventsPublished, m.subscribersLagged}
}

type assemblerMetrics struct {
	pendingAssemblies prometheus.Gauge
	blocksStored      prometheus.Counter
	assemblyTimeouts  prometheus.Counter
}

func newAssemblerMetrics() *assemblerMetrics {
	return &assemblerMetrics{
		pendingAssemblies: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "choros",
			Subsystem: "assembler",
			Name:      "pending_assemblies",
			Help:      "Number of block assemblies awaiting all three inputs.",
		}),
		blocksStored: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "choros",
			Subsystem: "assembler",
			Name:      "blocks_stored_total",
			Help:      "Number of blocks committed atomically.",
		}),
		assemblyTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "choros",
			Subsystem: "assembler",
			Name:      "assembly_timeouts_total",
			Help:      "Number of pending assemblies purged for exceeding the assembly timeout.",
		}),
	}
}

func (m *assemblerMetrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{m.pendingAssemblies, m.blocksStored, m.assemblyTimeouts}
}

type finalityMetrics struct {
	lastJustifiedEpoch prometheus.Gauge
	lastFinalizedEpoch prometheus.Gauge
	slashingEvents     prometheus.Counter
}

func newFinalityMetrics() *finalityMetrics {
	return &finalityMetrics{
		lastJustifiedEpoch: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "choros",
			Subsystem: "finality",
			Name:      "last_justified_epoch",
			Help:      "Epoch number of the most recently justified checkpoint.",
		}),
		lastFinalizedEpoch: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "choros",
			Subsystem: "finality",
			Name:      "last_finalized_epoch",
			Help:      "Epoch number of the most recently finalized checkpoint.",
		}),
		slashingEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "choros",
			Subsystem: "finality",
			Name:      "slashing_events_total",
			Help:      "Number of detected double-vote or surround-vote offenses.",
		}),
	}
}

func (m *finalityMetrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{m.lastJustifiedEpoch, m.lastFinalizedEpoch, m.slashingEvents}
}

type registryMetrics struct {
	subsystemsHealthy  prometheus.Gauge
	subsystemsDegraded prometheus.Gauge
}

func newRegistryMetrics() *registryMetrics {
	return &registryMetrics{
		subsystemsHealthy: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "choros",
			Subsystem: "registry",
			Name:      "subsystems_healthy",
			Help:      "Number of subsystems currently reporting Healthy.",
		}),
		subsystemsDegraded: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "choros",
			Subsystem: "registry",
			Name:      "subsystems_degraded",
			Help:      "Number of subsystems currently reporting Degraded.",
		}),
	}
}

func (m *registryMetrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{m.subsystemsHealthy, m.subsystemsDegraded}
}
