package aml

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ledgersift/ledgersift/internal/aml/detection"
	"github.com/ledgersift/ledgersift/internal/aml/graph"
	"github.com/ledgersift/ledgersift/internal/aml/rings"
	"github.com/ledgersift/ledgersift/internal/ledger"
)

// windowedAccount carries the account-level aggregates that survive a
// window: inbound volume and the distinct-sender set. This is all later
// stages need, so per-window graphs can be discarded.
type windowedAccount struct {
	inVolume decimal.Decimal
	senders  map[string]struct{}
}

// mergedRing accumulates one kingpin's ring across windows.
type mergedRing struct {
	members map[string]bool
	volume  decimal.Decimal
}

// RunWindowed processes the ledger in bounded time slices for inputs too
// large to graph at once. Each slice is built, analyzed and discarded;
// only derived account summaries, structuring flags and ring aggregates
// are merged across slices. Final centrality, kingpin selection and risk
// ranking run over the merged summaries.
//
// The trade against a whole-run graph: an account's flows split across
// slice boundaries are aggregated at the summary level, and structuring
// windows never span slices, so WindowSize should be a multiple of the
// structuring window.
func (s *Service) RunWindowed(ctx context.Context, txs []ledger.Transaction) (Result, error) {
	started := time.Now()

	slices := partition(txs, s.cfg.WindowSize)

	accounts := make(map[string]*windowedAccount)
	bestFlags := make(map[string]detection.StructuringFlag)
	ringAgg := make(map[string]*mergedRing)
	var malformed int

	for _, slice := range slices {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		g := s.buildGraph(slice)
		malformed += g.MalformedRecords()

		s.mergeAccounts(accounts, g)
		s.mergeFlags(bestFlags, s.structuring.Detect(g))

		// Ring candidates are cut per slice; the merged ring list is
		// re-filtered against the globally selected kingpins below.
		winScores := s.centrality.Analyze(g)
		for _, ring := range s.extractor.Extract(g, s.centrality.Kingpins(winScores)) {
			s.mergeRing(ringAgg, ring)
		}
	}

	if len(accounts) == 0 {
		return Result{Summary: Summary{
			Transactions:     len(txs),
			MalformedRecords: malformed,
			Windows:          len(slices),
			Elapsed:          time.Since(started),
		}}, ErrEmptyGraph
	}

	merged := mergedCentrality(accounts)
	kingpins := s.centrality.Kingpins(merged)
	finalRings := s.assembleRings(ringAgg, kingpins)
	flags := sortedFlags(bestFlags)
	records := s.ranker.Rank(merged, flags, finalRings)

	edges := 0
	for _, acct := range accounts {
		edges += len(acct.senders)
	}

	result := Result{
		Records: records,
		Rings:   finalRings,
		Summary: Summary{
			Transactions:     len(txs),
			MalformedRecords: malformed,
			Accounts:         len(accounts),
			Edges:            edges,
			Kingpins:         len(kingpins),
			StructuringFlags: len(flags),
			Rings:            len(finalRings),
			Windows:          len(slices),
			Elapsed:          time.Since(started),
		},
	}
	s.publishMetrics(result.Summary)
	s.logger.Infow("windowed detection run complete",
		"windows", result.Summary.Windows,
		"accounts", result.Summary.Accounts,
		"kingpins", result.Summary.Kingpins,
		"rings", result.Summary.Rings,
		"elapsed", result.Summary.Elapsed)
	return result, nil
}

// partition splits transactions into time slices of the given size,
// anchored at the Unix epoch, ordered by slice start. Slicing is
// timestamp-driven, so input order does not matter.
func partition(txs []ledger.Transaction, size time.Duration) [][]ledger.Transaction {
	buckets := make(map[time.Time][]ledger.Transaction)
	for _, tx := range txs {
		start := tx.Timestamp.Truncate(size)
		buckets[start] = append(buckets[start], tx)
	}
	starts := make([]time.Time, 0, len(buckets))
	for start := range buckets {
		starts = append(starts, start)
	}
	sort.Slice(starts, func(i, j int) bool { return starts[i].Before(starts[j]) })

	out := make([][]ledger.Transaction, 0, len(buckets))
	for _, start := range starts {
		out = append(out, buckets[start])
	}
	return out
}

func (s *Service) mergeAccounts(into map[string]*windowedAccount, g *graph.Graph) {
	for _, acct := range g.Accounts() {
		agg := into[acct.ID]
		if agg == nil {
			agg = &windowedAccount{inVolume: decimal.Zero, senders: make(map[string]struct{})}
			into[acct.ID] = agg
		}
		agg.inVolume = agg.inVolume.Add(acct.InVolume)
		for _, edge := range g.InEdges(acct.ID) {
			if edge.Sender == acct.ID {
				continue // self-loops do not count toward in-degree
			}
			agg.senders[edge.Sender] = struct{}{}
		}
	}
}

// mergeFlags keeps each account's highest-scoring flag across windows,
// preferring the earlier window on ties.
func (s *Service) mergeFlags(into map[string]detection.StructuringFlag, flags []detection.StructuringFlag) {
	for _, f := range flags {
		cur, ok := into[f.AccountID]
		if !ok || f.Score > cur.Score ||
			(f.Score == cur.Score && f.WindowStart.Before(cur.WindowStart)) {
			into[f.AccountID] = f
		}
	}
}

func (s *Service) mergeRing(into map[string]*mergedRing, ring rings.Ring) {
	agg := into[ring.Kingpin]
	if agg == nil {
		agg = &mergedRing{members: make(map[string]bool), volume: decimal.Zero}
		into[ring.Kingpin] = agg
	}
	agg.volume = agg.volume.Add(ring.AggregateVolume)
	for _, m := range ring.Members {
		agg.members[m] = true
	}
}

func mergedCentrality(accounts map[string]*windowedAccount) []detection.CentralityScore {
	denom := float64(len(accounts) - 1)
	scores := make([]detection.CentralityScore, 0, len(accounts))
	for id, agg := range accounts {
		s := detection.CentralityScore{
			AccountID: id,
			InDegree:  len(agg.senders),
			InVolume:  agg.inVolume,
		}
		if denom > 0 {
			s.Centrality = float64(len(agg.senders)) / denom
		}
		scores = append(scores, s)
	}
	detection.RankScores(scores)
	return scores
}

// assembleRings rebuilds Ring values for the globally selected kingpins
// from the merged per-window aggregates, ranked by volume descending.
func (s *Service) assembleRings(agg map[string]*mergedRing, kingpins []detection.CentralityScore) []rings.Ring {
	var out []rings.Ring
	for _, kp := range kingpins {
		merged := agg[kp.AccountID]
		if merged == nil || len(merged.members) < s.cfg.Rings.MinMembers {
			continue
		}
		members := make([]string, 0, len(merged.members))
		for m := range merged.members {
			members = append(members, m)
		}
		sort.Strings(members)
		out = append(out, rings.Ring{
			ID:              uuid.NewSHA1(rings.Namespace(), []byte(kp.AccountID)),
			Kingpin:         kp.AccountID,
			Members:         members,
			AggregateVolume: merged.volume,
			Depth:           s.cfg.Rings.Depth,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].AggregateVolume.Equal(out[j].AggregateVolume) {
			return out[i].AggregateVolume.GreaterThan(out[j].AggregateVolume)
		}
		return out[i].Kingpin < out[j].Kingpin
	})
	return out
}

func sortedFlags(m map[string]detection.StructuringFlag) []detection.StructuringFlag {
	out := make([]detection.StructuringFlag, 0, len(m))
	for _, f := range m {
		out = append(out, f)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].AccountID < out[j].AccountID
	})
	return out
}
