package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors of the shopping list engine.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	cacheRequests      *prometheus.CounterVec
	cacheErrors        *prometheus.CounterVec
	cacheInvalidations *prometheus.CounterVec
	generationDuration prometheus.Histogram
	softFailures       *prometheus.CounterVec
	listMutations      *prometheus.CounterVec
	versionConflicts   prometheus.Counter
}

// NewMetrics registers the collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		cacheRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "shopping_cache_requests_total",
			Help: "Cache lookups by component and result (hit, miss).",
		}, []string{"component", "result"}),
		cacheErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "shopping_cache_errors_total",
			Help: "Cache backend failures degraded to recomputation.",
		}, []string{"component", "op"}),
		cacheInvalidations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "shopping_cache_invalidated_keys_total",
			Help: "Cache keys removed by invalidation, by reason.",
		}, []string{"reason"}),
		generationDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "shopping_generation_duration_seconds",
			Help:    "Duration of uncached shopping list generation.",
			Buckets: prometheus.DefBuckets,
		}),
		softFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "shopping_soft_failures_total",
			Help: "Records skipped during generation, by kind.",
		}, []string{"kind"}),
		listMutations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "shopping_list_mutations_total",
			Help: "Accepted shopping list mutations by history action.",
		}, []string{"action"}),
		versionConflicts: f.NewCounter(prometheus.CounterOpts{
			Name: "shopping_list_version_conflicts_total",
			Help: "Mutations rejected because the list version changed.",
		}),
	}
}

func (m *Metrics) CacheHit(component string) {
	if m == nil {
		return
	}
	m.cacheRequests.WithLabelValues(component, "hit").Inc()
}

func (m *Metrics) CacheMiss(component string) {
	if m == nil {
		return
	}
	m.cacheRequests.WithLabelValues(component, "miss").Inc()
}

func (m *Metrics) CacheError(component, op string) {
	if m == nil {
		return
	}
	m.cacheErrors.WithLabelValues(component, op).Inc()
}

func (m *Metrics) CacheInvalidated(reason string, keys int) {
	if m == nil {
		return
	}
	m.cacheInvalidations.WithLabelValues(reason).Add(float64(keys))
}

func (m *Metrics) ObserveGeneration(d time.Duration) {
	if m == nil {
		return
	}
	m.generationDuration.Observe(d.Seconds())
}

func (m *Metrics) SoftFailure(kind string) {
	if m == nil {
		return
	}
	m.softFailures.WithLabelValues(kind).Inc()
}

func (m *Metrics) ListMutation(action string) {
	if m == nil {
		return
	}
	m.listMutations.WithLabelValues(action).Inc()
}

func (m *Metrics) VersionConflict() {
	if m == nil {
		return
	}
	m.versionConflicts.Inc()
}
