// Package scoring merges the detection passes into one ranked composite
// risk record per account, the engine's primary output for forensic
// review.
package scoring

import (
	"sort"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ledgersift/ledgersift/internal/aml/detection"
	"github.com/ledgersift/ledgersift/internal/aml/rings"
	"github.com/ledgersift/ledgersift/internal/config"
)

// RiskRecord is the composite risk assessment for one account. Purely
// derived; it has no lifecycle of its own.
type RiskRecord struct {
	AccountID string `json:"account_id"`
	// CentralityRank is the 1-based position in the centrality ranking.
	CentralityRank int     `json:"centrality_rank"`
	Centrality     float64 `json:"centrality"`
	// InVolume is the raw inbound volume, the final tie-breaker.
	InVolume         decimal.Decimal `json:"in_volume"`
	IsStructuring    bool            `json:"is_structuring"`
	StructuringScore float64         `json:"structuring_score"`
	// RingID is the highest-volume ring the account belongs to, if any.
	RingID     uuid.UUID       `json:"ring_id"`
	RingVolume decimal.Decimal `json:"ring_volume"`
	// CompositeScore is the configured weighted sum of normalized
	// centrality and normalized structuring score, in [0,1].
	CompositeScore float64 `json:"composite_score"`
}

// Ranker computes composite risk records.
type Ranker struct {
	cfg    config.RiskConfig
	logger *zap.SugaredLogger
}

// NewRanker creates a risk ranker.
func NewRanker(cfg config.RiskConfig, logger *zap.SugaredLogger) *Ranker {
	return &Ranker{cfg: cfg, logger: logger}
}

// Rank merges centrality scores, structuring flags and ring membership
// into one record per account, ordered by composite score descending,
// raw inbound volume descending, account id ascending. The order is
// total: identical inputs and configuration yield identical output.
//
// Centrality is already normalized to [0,1]; structuring scores are
// normalized against the run's maximum so both terms share a scale
// before weighting.
func (r *Ranker) Rank(centrality []detection.CentralityScore, flags []detection.StructuringFlag, ringList []rings.Ring) []RiskRecord {
	flagged := make(map[string]detection.StructuringFlag, len(flags))
	maxStructuring := 0.0
	for _, f := range flags {
		flagged[f.AccountID] = f
		if f.Score > maxStructuring {
			maxStructuring = f.Score
		}
	}

	// rings arrive sorted by volume descending, so the first ring seen
	// for an account is its highest-volume one
	memberRing := make(map[string]*rings.Ring)
	for i := range ringList {
		ring := &ringList[i]
		if memberRing[ring.Kingpin] == nil {
			memberRing[ring.Kingpin] = ring
		}
		for _, m := range ring.Members {
			if memberRing[m] == nil {
				memberRing[m] = ring
			}
		}
	}

	records := make([]RiskRecord, 0, len(centrality))
	for i, c := range centrality {
		rec := RiskRecord{
			AccountID:      c.AccountID,
			CentralityRank: i + 1,
			Centrality:     c.Centrality,
			InVolume:       c.InVolume,
			RingVolume:     decimal.Zero,
		}
		if f, ok := flagged[c.AccountID]; ok {
			rec.IsStructuring = true
			rec.StructuringScore = f.Score
		}
		if ring := memberRing[c.AccountID]; ring != nil {
			rec.RingID = ring.ID
			rec.RingVolume = ring.AggregateVolume
		}

		normStructuring := 0.0
		if maxStructuring > 0 {
			normStructuring = rec.StructuringScore / maxStructuring
		}
		rec.CompositeScore = r.cfg.WeightCentrality*rec.Centrality +
			r.cfg.WeightStructuring*normStructuring

		records = append(records, rec)
	}

	sort.SliceStable(records, func(i, j int) bool {
		if records[i].CompositeScore != records[j].CompositeScore {
			return records[i].CompositeScore > records[j].CompositeScore
		}
		if !records[i].InVolume.Equal(records[j].InVolume) {
			return records[i].InVolume.GreaterThan(records[j].InVolume)
		}
		return records[i].AccountID < records[j].AccountID
	})

	r.logger.Infow("risk ranking complete", "records", len(records))
	return records
}
