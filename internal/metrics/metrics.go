// Package metrics collects and exposes Prometheus metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Search paths reported by RecordSearch.
const (
	SearchPathProvider = "provider"
	SearchPathFallback = "fallback"
	SearchPathEmpty    = "empty"
)

// Recorder is the metrics surface used by services.
type Recorder interface {
	RecordRelationshipOp(op, outcome string)
	RecordSearch(path string, duration time.Duration)
	RecordSearchDegraded(reason string)
	RecordRehydrationMiss()
	RecordIndexSync(outcome string)
}

type Collector struct {
	relationshipOps *prometheus.CounterVec
	searches        *prometheus.CounterVec
	searchLatency   *prometheus.HistogramVec
	searchDegraded  *prometheus.CounterVec
	rehydrateMisses prometheus.Counter
	indexSyncs      *prometheus.CounterVec
}

// NewCollector registers the collector's metrics on reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		relationshipOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "friendlane_relationship_ops_total",
			Help: "Relationship ledger operations by operation and outcome.",
		}, []string{"op", "outcome"}),
		searches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "friendlane_search_requests_total",
			Help: "Directory searches by the path that answered them.",
		}, []string{"path"}),
		searchLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "friendlane_search_latency_seconds",
			Help:    "Directory search latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"path"}),
		searchDegraded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "friendlane_search_degraded_total",
			Help: "Searches that fell back from the hosted index, by reason.",
		}, []string{"reason"}),
		rehydrateMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "friendlane_search_rehydration_misses_total",
			Help: "Search hits dropped because the profile no longer exists or is hidden.",
		}),
		indexSyncs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "friendlane_index_syncs_total",
			Help: "Profile index synchronisations by outcome.",
		}, []string{"outcome"}),
	}

	reg.MustRegister(
		c.relationshipOps,
		c.searches,
		c.searchLatency,
		c.searchDegraded,
		c.rehydrateMisses,
		c.indexSyncs,
	)
	return c
}

func (c *Collector) RecordRelationshipOp(op, outcome string) {
	c.relationshipOps.WithLabelValues(op, outcome).Inc()
}

func (c *Collector) RecordSearch(path string, duration time.Duration) {
	c.searches.WithLabelValues(path).Inc()
	c.searchLatency.WithLabelValues(path).Observe(duration.Seconds())
}

func (c *Collector) RecordSearchDegraded(reason string) {
	c.searchDegraded.WithLabelValues(reason).Inc()
}

func (c *Collector) RecordRehydrationMiss() {
	c.rehydrateMisses.Inc()
}

func (c *Collector) RecordIndexSync(outcome string) {
	c.indexSyncs.WithLabelValues(outcome).Inc()
}

// Nop discards every measurement.
type Nop struct{}

func (Nop) RecordRelationshipOp(string, string) {}
func (Nop) RecordSearch(string, time.Duration)  {}
func (Nop) RecordSearchDegraded(string)         {}
func (Nop) RecordRehydrationMiss()              {}
func (Nop) RecordIndexSync(string)              {}

// Handler serves the registry for Prometheus scrapes.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
