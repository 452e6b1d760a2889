// Package metrics exposes the Prometheus counters and histograms
// mini-dynamo's server and client coordinators update on every
// operation.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry is a private Prometheus registry, separate from the default
// global one; the package's metrics are registered on it once, in init.
var Registry = prometheus.NewRegistry()

var (
	PutsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "minidynamo_puts_total",
		Help: "Total number of PUT operations handled by this node.",
	})
	GetsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "minidynamo_gets_total",
		Help: "Total number of GET operations handled by this node.",
	})
	QuorumFailuresTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "minidynamo_quorum_failures_total",
		Help: "Total number of operations that failed to reach quorum before their timeout.",
	}, []string{"op"})
	ReadRepairsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "minidynamo_read_repairs_total",
		Help: "Total number of read-repair writes issued after a quorum GET.",
	})
	ReplicationLatencySeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "minidynamo_replication_latency_seconds",
		Help:    "Time spent waiting for replication quorum on a PUT.",
		Buckets: prometheus.DefBuckets,
	})
	RingSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "minidynamo_ring_size",
		Help: "Number of physical nodes currently in the hash ring.",
	})
)

func init() {
	Registry.MustRegister(
		PutsTotal,
		GetsTotal,
		QuorumFailuresTotal,
		ReadRepairsTotal,
		ReplicationLatencySeconds,
		RingSize,
	)
}
