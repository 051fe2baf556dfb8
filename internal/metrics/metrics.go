// Package metrics wires the playback core's Prometheus instrumentation.
// Grounded on the teacher's internal/api/observability.go: promauto
// registrations with bounded label sets only (no per-track or per-effect-id
// labels, which would be unbounded cardinality).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles every counter/gauge/histogram the playback core emits.
// Construct one with New and pass it down to the components that
// need it; never reach for the global promauto registry directly from
// component code so tests can use an isolated registry.
type Metrics struct {
	CrossfadeDuration    prometheus.Histogram
	CrossfadeCancelled   *prometheus.CounterVec // label: reason
	StateTransitions     *prometheus.CounterVec // labels: from, to
	OperationQueueDepth  prometheus.Gauge
	OperationPreempted   *prometheus.CounterVec // label: priority
	EffectCacheHits      prometheus.Counter
	EffectCacheMisses    prometheus.Counter
	EffectCacheEvictions prometheus.Counter
}

// New registers the playback core's metrics against reg. Pass
// prometheus.NewRegistry() in tests to avoid collisions with the global
// registry; pass prometheus.DefaultRegisterer in production via promauto.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		CrossfadeDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "playback_crossfade_duration_seconds",
			Help:    "Wall-clock duration of completed crossfades",
			Buckets: []float64{0.5, 1, 2, 3, 5, 8, 13, 21, 30},
		}),
		CrossfadeCancelled: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "playback_crossfade_cancelled_total",
			Help: "Crossfades cancelled, by reason",
		}, []string{"reason"}), // bounded: "invalid-state", "cancelled"
		StateTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "playback_state_transitions_total",
			Help: "Main player state transitions",
		}, []string{"from", "to"}), // bounded: six named states
		OperationQueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "playback_operation_queue_depth",
			Help: "Number of queued (not running) operations",
		}),
		OperationPreempted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "playback_operation_preempted_total",
			Help: "Operations cancelled by a higher-priority enqueue",
		}, []string{"priority"}), // bounded: five priority names
		EffectCacheHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "playback_effect_cache_hits_total",
			Help: "Sound-effect trigger cache hits",
		}),
		EffectCacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Name: "playback_effect_cache_misses_total",
			Help: "Sound-effect trigger attempts with no preloaded buffer",
		}),
		EffectCacheEvictions: factory.NewCounter(prometheus.CounterOpts{
			Name: "playback_effect_cache_evictions_total",
			Help: "Sound-effect buffers evicted by the LRU policy",
		}),
	}
}
