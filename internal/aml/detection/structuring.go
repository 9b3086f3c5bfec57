package detection

import (
	"math"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ledgersift/ledgersift/internal/aml/graph"
	"github.com/ledgersift/ledgersift/internal/config"
)

// StructuringFlag is the detector's verdict on one flagged account,
// carrying the outbound distribution statistics of the window that
// triggered it.
type StructuringFlag struct {
	AccountID string `json:"account_id"`
	// Count, Mean and CV describe the flagged window's outbound amounts:
	// transaction count, mean amount and coefficient of variation.
	Count int             `json:"count"`
	Mean  decimal.Decimal `json:"mean"`
	CV    float64         `json:"cv"`
	// NearThresholdShare is the fraction of amounts falling within the
	// configured margin just below the reporting threshold.
	NearThresholdShare float64 `json:"near_threshold_share"`
	// Score grows with frequency and shrinks with mean amount: many small
	// payments score high, few large ones score low. Raw, normalized by
	// the risk ranker against the run's population.
	Score       float64   `json:"score"`
	WindowStart time.Time `json:"window_start"`
}

// StructuringDetector flags accounts whose outbound activity looks like
// one large sum split into many small transactions.
//
// This is a heuristic classifier, not a hypothesis test: the thresholds
// trade recall for precision, and picking them is a policy decision made
// in configuration, outside this algorithm.
type StructuringDetector struct {
	cfg    config.StructuringConfig
	logger *zap.SugaredLogger
}

// NewStructuringDetector creates a structuring detector.
func NewStructuringDetector(cfg config.StructuringConfig, logger *zap.SugaredLogger) *StructuringDetector {
	return &StructuringDetector{cfg: cfg, logger: logger}
}

// Detect evaluates every account's outbound amounts per time window and
// flags those where, within a single window, the transaction count
// exceeds the high-frequency threshold, the mean amount sits below the
// low-volume threshold, and — when a margin is configured — the amounts
// cluster just under the reporting threshold. Flags are returned sorted
// by score descending, account id ascending.
func (sd *StructuringDetector) Detect(g *graph.Graph) []StructuringFlag {
	var flags []StructuringFlag
	for _, acct := range g.Accounts() {
		if flag, ok := sd.evaluate(acct.ID, g.Outbound(acct.ID)); ok {
			flags = append(flags, flag)
		}
	}

	sort.SliceStable(flags, func(i, j int) bool {
		if flags[i].Score != flags[j].Score {
			return flags[i].Score > flags[j].Score
		}
		return flags[i].AccountID < flags[j].AccountID
	})

	sd.logger.Infow("structuring detection complete",
		"population", g.NodeCount(), "flagged", len(flags))
	return flags
}

// evaluate windows one account's outbound observations and returns the
// highest-scoring flagged window, if any.
func (sd *StructuringDetector) evaluate(id string, obs []graph.Observation) (StructuringFlag, bool) {
	if len(obs) == 0 {
		return StructuringFlag{}, false
	}

	var (
		best    StructuringFlag
		flagged bool
	)
	for start, window := range sd.windows(obs) {
		flag, ok := sd.evaluateWindow(id, start, window)
		if !ok {
			continue
		}
		// earlier window wins score ties to keep runs deterministic
		if !flagged || flag.Score > best.Score ||
			(flag.Score == best.Score && flag.WindowStart.Before(best.WindowStart)) {
			best, flagged = flag, true
		}
	}
	return best, flagged
}

// windows buckets observations into fixed time slices anchored at the
// Unix epoch, so bucketing does not depend on input order. A zero window
// treats the whole run as one bucket.
func (sd *StructuringDetector) windows(obs []graph.Observation) map[time.Time][]graph.Observation {
	if sd.cfg.Window <= 0 {
		return map[time.Time][]graph.Observation{{}: obs}
	}
	buckets := make(map[time.Time][]graph.Observation)
	for _, o := range obs {
		start := o.At.Truncate(sd.cfg.Window)
		buckets[start] = append(buckets[start], o)
	}
	return buckets
}

func (sd *StructuringDetector) evaluateWindow(id string, start time.Time, obs []graph.Observation) (StructuringFlag, bool) {
	count := len(obs)
	if count <= sd.cfg.HighFrequencyCount {
		return StructuringFlag{}, false
	}

	sum := decimal.Zero
	for _, o := range obs {
		sum = sum.Add(o.Amount)
	}
	mean := sum.Div(decimal.NewFromInt(int64(count)))
	if !mean.LessThan(decimal.NewFromFloat(sd.cfg.LowVolumeMean)) {
		return StructuringFlag{}, false
	}

	nearShare := sd.nearThresholdShare(obs)
	if sd.cfg.Margin > 0 && nearShare < 0.5 {
		// Margin configured: also require the amounts to sit just under
		// the reporting limit.
		return StructuringFlag{}, false
	}

	return StructuringFlag{
		AccountID:          id,
		Count:              count,
		Mean:               mean,
		CV:                 coefficientOfVariation(obs, mean),
		NearThresholdShare: nearShare,
		Score:              sd.score(count, mean),
		WindowStart:        start,
	}, true
}

// score = normalized count × inverse normalized mean. A zero mean
// (free-of-charge transfers) contributes no inverse term rather than
// dividing by zero.
func (sd *StructuringDetector) score(count int, mean decimal.Decimal) float64 {
	freq := float64(count) / float64(sd.cfg.HighFrequencyCount)
	if mean.IsZero() {
		return freq
	}
	inv, _ := decimal.NewFromFloat(sd.cfg.LowVolumeMean).Div(mean).Float64()
	return freq * inv
}

func (sd *StructuringDetector) nearThresholdShare(obs []graph.Observation) float64 {
	if sd.cfg.Margin <= 0 {
		return 0
	}
	limit := decimal.NewFromFloat(sd.cfg.ReportingThreshold)
	floor := limit.Sub(decimal.NewFromFloat(sd.cfg.Margin))
	near := 0
	for _, o := range obs {
		if o.Amount.GreaterThanOrEqual(floor) && o.Amount.LessThan(limit) {
			near++
		}
	}
	return float64(near) / float64(len(obs))
}

func coefficientOfVariation(obs []graph.Observation, mean decimal.Decimal) float64 {
	if len(obs) < 2 || mean.IsZero() {
		return 0
	}
	m, _ := mean.Float64()
	var ss float64
	for _, o := range obs {
		a, _ := o.Amount.Float64()
		d := a - m
		ss += d * d
	}
	return math.Sqrt(ss/float64(len(obs))) / m
}
