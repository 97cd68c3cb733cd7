// Package metrics exposes the node and farmer's operational counters and
// gauges over the standard Prometheus /metrics endpoint.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	BestBlockNumber = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "kumandra",
		Name:      "best_block_number",
		Help:      "Number of the current best block.",
	})

	ArchivedSegments = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "kumandra",
		Name:      "archived_segments_total",
		Help:      "Total segments emitted by the archiver.",
	})

	BlocksImported = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kumandra",
		Name:      "blocks_imported_total",
		Help:      "Block imports by outcome.",
	}, []string{"result"})

	EquivocationsReported = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "kumandra",
		Name:      "equivocations_reported_total",
		Help:      "Total equivocation proofs submitted to the runtime.",
	})

	FarmerConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "kumandra",
		Name:      "farmer_rpc_connections",
		Help:      "Number of farmer RPC sessions currently connected.",
	})

	SolutionsSubmitted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kumandra",
		Name:      "solutions_submitted_total",
		Help:      "Solutions submitted by farmers, by outcome.",
	}, []string{"result"})

	PlottedPieces = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "kumandra",
		Name:      "farmer_plotted_pieces",
		Help:      "Number of pieces currently plotted to disk.",
	})

	AuditDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "kumandra",
		Name:      "farmer_audit_duration_seconds",
		Help:      "Time spent auditing plotted pieces against a single slot challenge.",
		Buckets:   prometheus.DefBuckets,
	})

	UptimeSeconds = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "kumandra",
		Name:      "uptime_seconds",
		Help:      "Process uptime in seconds.",
	})
)

func init() {
	prometheus.MustRegister(
		BestBlockNumber,
		ArchivedSegments,
		BlocksImported,
		EquivocationsReported,
		FarmerConnections,
		SolutionsSubmitted,
		PlottedPieces,
		AuditDuration,
		UptimeSeconds,
	)
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
