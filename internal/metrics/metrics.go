// Package metrics defines the Prometheus instrumentation shared by the DDIL
// components. A single Set is created at wiring time and handed to the
// controller, handover manager, and cache; each component updates its own
// collectors. Tests that do not care about metrics use NewNopSet, which
// registers against a private throwaway registry.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/edgefleet/ddil/internal/logger"
)

// Set bundles every collector the DDIL components update.
type Set struct {
	// ActivePath is 1 for the currently active path mode, 0 otherwise.
	ActivePath *prometheus.GaugeVec

	// PathState encodes each path's connection state as a small integer
	// (0 disconnected, 1 connecting, 2 connected, 3 degraded, 4 failing).
	PathState *prometheus.GaugeVec

	// Offline is 1 while the system is in full DDIL (offline) mode.
	Offline prometheus.Gauge

	// DDILTransitions counts offline entries and exits, labelled by direction.
	DDILTransitions *prometheus.CounterVec

	// HandoverDuration observes handover wall-clock durations in milliseconds,
	// labelled by strategy and outcome.
	HandoverDuration *prometheus.HistogramVec

	// HandoversTotal counts handover attempts by strategy and outcome.
	HandoversTotal *prometheus.CounterVec

	// CacheHits / CacheMisses / CacheEvictions count cache activity.
	CacheHits      prometheus.Counter
	CacheMisses    prometheus.Counter
	CacheEvictions prometheus.Counter

	// CacheUsedBytes tracks the current byte accounting of the cache.
	CacheUsedBytes prometheus.Gauge
}

// NewSet creates the collector set and registers it with the given registerer.
func NewSet(registerer prometheus.Registerer) *Set {
	set := &Set{
		ActivePath: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "ddil",
			Name:      "active_path",
			Help:      "1 for the active path mode, 0 otherwise.",
		}, []string{"mode"}),
		PathState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "ddil",
			Name:      "path_state",
			Help:      "Connection state per path (0=disconnected 1=connecting 2=connected 3=degraded 4=failing).",
		}, []string{"mode"}),
		Offline: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ddil",
			Name:      "offline",
			Help:      "1 while no path is eligible and the system operates offline.",
		}),
		DDILTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ddil",
			Name:      "transitions_total",
			Help:      "Offline mode transitions by direction (enter/exit).",
		}, []string{"direction"}),
		HandoverDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "ddil",
			Name:      "handover_duration_ms",
			Help:      "Handover wall-clock duration in milliseconds.",
			Buckets:   []float64{10, 25, 50, 75, 100, 150, 200, 500},
		}, []string{"strategy", "outcome"}),
		HandoversTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ddil",
			Name:      "handovers_total",
			Help:      "Handover attempts by strategy and outcome.",
		}, []string{"strategy", "outcome"}),
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ddil",
			Name:      "cache_hits_total",
			Help:      "Cache lookups that returned a live entry.",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ddil",
			Name:      "cache_misses_total",
			Help:      "Cache lookups that found no live entry.",
		}),
		CacheEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ddil",
			Name:      "cache_evictions_total",
			Help:      "Entries evicted under capacity pressure.",
		}),
		CacheUsedBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ddil",
			Name:      "cache_used_bytes",
			Help:      "Current sum of cached entry sizes.",
		}),
	}

	registerer.MustRegister(
		set.ActivePath,
		set.PathState,
		set.Offline,
		set.DDILTransitions,
		set.HandoverDuration,
		set.HandoversTotal,
		set.CacheHits,
		set.CacheMisses,
		set.CacheEvictions,
		set.CacheUsedBytes,
	)

	logger.MetricsLog.Debug("prometheus collectors registered")
	return set
}

// NewNopSet creates a Set backed by a private registry. Components can update
// it unconditionally; nothing is exported.
func NewNopSet() *Set {
	return NewSet(prometheus.NewRegistry())
}

// StateValue maps a connection state string onto the PathState encoding.
func StateValue(state string) float64 {
	switch state {
	case "disconnected":
		return 0
	case "connecting":
		return 1
	case "connected":
		return 2
	case "degraded":
		return 3
	case "failing":
		return 4
	default:
		return -1
	}
}
