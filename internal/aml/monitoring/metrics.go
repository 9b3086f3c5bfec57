package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
)

// TransactionsIngested counts ledger records fed to the graph builder,
// split by validity
var TransactionsIngested = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "ledgersift_transactions_ingested_total",
		Help: "Total ledger records processed by the detection pipeline",
	},
	[]string{"validity"},
)

// StageDuration records wall-clock time per pipeline stage
var StageDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "ledgersift_stage_duration_seconds",
		Help:    "Duration of each detection pipeline stage",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"stage"},
)

// Detection result gauges, set once per run
var (
	GraphAccounts = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ledgersift_graph_accounts",
		Help: "Accounts in the flow graph of the latest run",
	})

	GraphEdges = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ledgersift_graph_edges",
		Help: "Aggregated flow edges in the graph of the latest run",
	})

	KingpinCandidates = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ledgersift_kingpin_candidates",
		Help: "Centrality hub candidates found in the latest run",
	})

	StructuringFlags = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ledgersift_structuring_flags",
		Help: "Accounts flagged for structuring in the latest run",
	})

	RingsExtracted = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ledgersift_rings_extracted",
		Help: "Laundering rings extracted in the latest run",
	})
)

func init() {
	prometheus.MustRegister(TransactionsIngested, StageDuration)
	prometheus.MustRegister(GraphAccounts, GraphEdges, KingpinCandidates, StructuringFlags, RingsExtracted)
}
