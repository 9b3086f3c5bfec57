// Package aml wires the detection passes into one batch pipeline: build
// the flow graph, rank aggregation hubs, flag structuring, extract
// rings, merge everything into composite risk records.
package aml

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ledgersift/ledgersift/internal/aml/detection"
	"github.com/ledgersift/ledgersift/internal/aml/graph"
	"github.com/ledgersift/ledgersift/internal/aml/monitoring"
	"github.com/ledgersift/ledgersift/internal/aml/rings"
	"github.com/ledgersift/ledgersift/internal/aml/scoring"
	"github.com/ledgersift/ledgersift/internal/config"
	"github.com/ledgersift/ledgersift/internal/ledger"
)

// ErrEmptyGraph is returned when zero valid transactions produced zero
// accounts. Callers get an empty result alongside it and report an empty
// run rather than crashing.
var ErrEmptyGraph = errors.New("empty transaction graph")

// Summary describes one run for the output report.
type Summary struct {
	Transactions     int           `json:"transactions"`
	MalformedRecords int           `json:"malformed_records"`
	Accounts         int           `json:"accounts"`
	Edges            int           `json:"edges"`
	Kingpins         int           `json:"kingpins"`
	StructuringFlags int           `json:"structuring_flags"`
	Rings            int           `json:"rings"`
	Windows          int           `json:"windows"`
	Elapsed          time.Duration `json:"elapsed"`
}

// Result is the full pipeline output: ranked risk records, ranked rings
// and the run summary.
type Result struct {
	Records []scoring.RiskRecord `json:"records"`
	Rings   []rings.Ring         `json:"rings"`
	Summary Summary              `json:"summary"`
}

// Service runs the detection pipeline over a transaction sequence.
type Service struct {
	cfg    config.Config
	logger *zap.SugaredLogger

	centrality  *detection.CentralityAnalyzer
	structuring *detection.StructuringDetector
	extractor   *rings.Extractor
	ranker      *scoring.Ranker
}

// NewService validates the configuration and builds the pipeline.
// Invalid thresholds fail here, before any data is touched.
func NewService(cfg config.Config, logger *zap.Logger) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	sugar := logger.Sugar()
	return &Service{
		cfg:         cfg,
		logger:      sugar,
		centrality:  detection.NewCentralityAnalyzer(cfg.Kingpin, sugar),
		structuring: detection.NewStructuringDetector(cfg.Structuring, sugar),
		extractor:   rings.NewExtractor(cfg.Rings, sugar),
		ranker:      scoring.NewRanker(cfg.Risk, sugar),
	}, nil
}

// Run executes the full pipeline. With a positive WindowSize the ledger
// is processed in bounded time slices (see RunWindowed); otherwise one
// graph covers the whole input.
//
// The graph is built once and shared read-only by the centrality and
// structuring passes, which run concurrently. Ranked outputs use total
// orderings throughout, so two runs over the same input and
// configuration are bit-identical.
func (s *Service) Run(ctx context.Context, txs []ledger.Transaction) (Result, error) {
	if s.cfg.WindowSize > 0 {
		return s.RunWindowed(ctx, txs)
	}

	started := time.Now()

	g := s.buildGraph(txs)
	if g.NodeCount() == 0 {
		return Result{Summary: Summary{
			Transactions:     len(txs),
			MalformedRecords: g.MalformedRecords(),
			Elapsed:          time.Since(started),
		}}, ErrEmptyGraph
	}

	var (
		centrality []detection.CentralityScore
		flags      []detection.StructuringFlag
	)
	eg, _ := errgroup.WithContext(ctx)
	eg.Go(func() error {
		defer observeStage("centrality", time.Now())
		centrality = s.centrality.Analyze(g)
		return nil
	})
	eg.Go(func() error {
		defer observeStage("structuring", time.Now())
		flags = s.structuring.Detect(g)
		return nil
	})
	if err := eg.Wait(); err != nil {
		return Result{}, err
	}

	kingpins := s.centrality.Kingpins(centrality)

	ringStart := time.Now()
	ringList := s.extractor.Extract(g, kingpins)
	observeStage("rings", ringStart)

	rankStart := time.Now()
	records := s.ranker.Rank(centrality, flags, ringList)
	observeStage("ranking", rankStart)

	result := Result{
		Records: records,
		Rings:   ringList,
		Summary: Summary{
			Transactions:     len(txs),
			MalformedRecords: g.MalformedRecords(),
			Accounts:         g.NodeCount(),
			Edges:            g.EdgeCount(),
			Kingpins:         len(kingpins),
			StructuringFlags: len(flags),
			Rings:            len(ringList),
			Windows:          1,
			Elapsed:          time.Since(started),
		},
	}
	s.publishMetrics(result.Summary)
	s.logger.Infow("detection run complete",
		"accounts", result.Summary.Accounts,
		"edges", result.Summary.Edges,
		"kingpins", result.Summary.Kingpins,
		"structuring_flags", result.Summary.StructuringFlags,
		"rings", result.Summary.Rings,
		"malformed", result.Summary.MalformedRecords,
		"elapsed", result.Summary.Elapsed)
	return result, nil
}

func (s *Service) buildGraph(txs []ledger.Transaction) *graph.Graph {
	defer observeStage("graph_build", time.Now())
	g := graph.Build(txs)
	monitoring.TransactionsIngested.WithLabelValues("valid").
		Add(float64(len(txs) - g.MalformedRecords()))
	monitoring.TransactionsIngested.WithLabelValues("malformed").
		Add(float64(g.MalformedRecords()))
	return g
}

func (s *Service) publishMetrics(sum Summary) {
	monitoring.GraphAccounts.Set(float64(sum.Accounts))
	monitoring.GraphEdges.Set(float64(sum.Edges))
	monitoring.KingpinCandidates.Set(float64(sum.Kingpins))
	monitoring.StructuringFlags.Set(float64(sum.StructuringFlags))
	monitoring.RingsExtracted.Set(float64(sum.Rings))
}

func observeStage(stage string, started time.Time) {
	monitoring.StageDuration.WithLabelValues(stage).
		Observe(time.Since(started).Seconds())
}
