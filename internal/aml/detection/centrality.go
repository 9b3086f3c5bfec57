// Package detection holds the per-account analysis passes: in-degree
// centrality for aggregation-hub ("kingpin") ranking and the statistical
// structuring detector. Both read the shared flow graph and produce
// their own result slices.
package detection

import (
	"math"
	"sort"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ledgersift/ledgersift/internal/aml/graph"
	"github.com/ledgersift/ledgersift/internal/config"
)

// CentralityScore is the centrality result for one account.
type CentralityScore struct {
	AccountID string `json:"account_id"`
	// InDegree counts distinct senders.
	InDegree int `json:"in_degree"`
	// Centrality is InDegree / (V-1), in [0,1]. Defined as 0 when the
	// graph has fewer than two accounts.
	Centrality float64 `json:"centrality"`
	// InVolume is the weighted variant: total inbound flow.
	InVolume decimal.Decimal `json:"in_volume"`
}

// CentralityAnalyzer ranks accounts by how many distinct counterparties
// funnel money into them. A star topology, many senders to one receiver,
// puts the receiver at the top of this ranking.
type CentralityAnalyzer struct {
	cfg    config.KingpinConfig
	logger *zap.SugaredLogger
}

// NewCentralityAnalyzer creates a centrality analyzer.
func NewCentralityAnalyzer(cfg config.KingpinConfig, logger *zap.SugaredLogger) *CentralityAnalyzer {
	return &CentralityAnalyzer{cfg: cfg, logger: logger}
}

// Analyze computes in-degree centrality for every account and returns
// the population in rank order: centrality descending, inbound volume
// descending, account id ascending. The order is total, so repeated runs
// over the same graph produce identical output.
func (ca *CentralityAnalyzer) Analyze(g *graph.Graph) []CentralityScore {
	accounts := g.Accounts()
	scores := make([]CentralityScore, 0, len(accounts))

	denom := float64(len(accounts) - 1)
	for _, acct := range accounts {
		s := CentralityScore{
			AccountID: acct.ID,
			InDegree:  acct.InDegree,
			InVolume:  acct.InVolume,
		}
		if denom > 0 {
			s.Centrality = float64(acct.InDegree) / denom
		}
		scores = append(scores, s)
	}

	RankScores(scores)
	return scores
}

// RankScores sorts a centrality population in rank order: centrality
// descending, inbound volume descending, account id ascending. The order
// is total. Windowed runs use it directly on merged account summaries.
func RankScores(scores []CentralityScore) {
	sort.SliceStable(scores, func(i, j int) bool {
		if scores[i].Centrality != scores[j].Centrality {
			return scores[i].Centrality > scores[j].Centrality
		}
		if !scores[i].InVolume.Equal(scores[j].InVolume) {
			return scores[i].InVolume.GreaterThan(scores[j].InVolume)
		}
		return scores[i].AccountID < scores[j].AccountID
	})
}

// Kingpins cuts hub candidates from an Analyze ranking using the
// configured mode: the accounts at or above the p-th percentile of the
// centrality distribution, or the top N ranked accounts. Accounts with
// zero centrality are never candidates regardless of mode.
func (ca *CentralityAnalyzer) Kingpins(scores []CentralityScore) []CentralityScore {
	var cut []CentralityScore
	switch ca.cfg.Mode {
	case config.KingpinModeTopN:
		for _, s := range scores {
			if len(cut) >= ca.cfg.TopN || s.Centrality == 0 {
				break
			}
			cut = append(cut, s)
		}
	default: // percentile
		threshold := percentile(scores, ca.cfg.Percentile)
		for _, s := range scores {
			if s.Centrality < threshold || s.Centrality == 0 {
				break
			}
			cut = append(cut, s)
		}
	}

	ca.logger.Infow("kingpin candidates selected",
		"mode", ca.cfg.Mode, "population", len(scores), "candidates", len(cut))
	return cut
}

// percentile returns the p-th percentile centrality by the nearest-rank
// method. scores must be in Analyze rank order (descending).
func percentile(scores []CentralityScore, p float64) float64 {
	n := len(scores)
	if n == 0 {
		return 0
	}
	// nearest rank in the ascending distribution
	rank := int(math.Ceil(p / 100 * float64(n)))
	if rank < 1 {
		rank = 1
	}
	if rank > n {
		rank = n
	}
	// scores are in descending order; the k-th ascending value sits at
	// index n-k
	return scores[n-rank].Centrality
}
