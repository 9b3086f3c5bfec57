package detection

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ledgersift/ledgersift/internal/aml/graph"
	"github.com/ledgersift/ledgersift/internal/config"
	"github.com/ledgersift/ledgersift/internal/ledger"
)

func tx(sender, receiver string, amount float64) ledger.Transaction {
	return ledger.Transaction{
		SenderID:   sender,
		ReceiverID: receiver,
		Amount:     decimal.NewFromFloat(amount),
		Timestamp:  time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		Kind:       ledger.KindTransfer,
	}
}

// starGraph is the canonical fan-in topology: three senders funneling
// into D.
func starGraph() *graph.Graph {
	return graph.Build([]ledger.Transaction{
		tx("A", "D", 3000),
		tx("B", "D", 3000),
		tx("C", "D", 3000),
	})
}

func newAnalyzer(t *testing.T, cfg config.KingpinConfig) *CentralityAnalyzer {
	return NewCentralityAnalyzer(cfg, zaptest.NewLogger(t).Sugar())
}

func TestAnalyzeStarTopology(t *testing.T) {
	ca := newAnalyzer(t, config.Default().Kingpin)
	scores := ca.Analyze(starGraph())

	require.Len(t, scores, 4)
	// D receives from all 3 other accounts: centrality 3/(4-1) = 1.0
	assert.Equal(t, "D", scores[0].AccountID)
	assert.Equal(t, 3, scores[0].InDegree)
	assert.Equal(t, 1.0, scores[0].Centrality)
	assert.True(t, scores[0].InVolume.Equal(decimal.NewFromInt(9000)))

	for _, s := range scores {
		assert.GreaterOrEqual(t, s.Centrality, 0.0)
		assert.LessOrEqual(t, s.Centrality, 1.0)
	}
	// senders tie at zero centrality, broken by id
	assert.Equal(t, []string{"A", "B", "C"},
		[]string{scores[1].AccountID, scores[2].AccountID, scores[3].AccountID})
}

func TestKingpinsPercentile(t *testing.T) {
	// D is the sole candidate at any percentile up to 100
	for _, p := range []float64{25, 50, 75, 99, 100} {
		ca := newAnalyzer(t, config.KingpinConfig{Mode: config.KingpinModePercentile, Percentile: p, TopN: 1})
		scores := ca.Analyze(starGraph())
		kingpins := ca.Kingpins(scores)
		require.Len(t, kingpins, 1, "percentile %v", p)
		assert.Equal(t, "D", kingpins[0].AccountID)
	}
}

func TestKingpinsTopN(t *testing.T) {
	g := graph.Build([]ledger.Transaction{
		tx("A", "D", 100), tx("B", "D", 100), tx("C", "D", 100),
		tx("A", "E", 100), tx("B", "E", 100),
		tx("A", "F", 100),
	})
	ca := newAnalyzer(t, config.KingpinConfig{Mode: config.KingpinModeTopN, TopN: 2, Percentile: 99})

	kingpins := ca.Kingpins(ca.Analyze(g))
	require.Len(t, kingpins, 2)
	assert.Equal(t, "D", kingpins[0].AccountID)
	assert.Equal(t, "E", kingpins[1].AccountID)
}

func TestKingpinsTopNNeverIncludesZeroCentrality(t *testing.T) {
	ca := newAnalyzer(t, config.KingpinConfig{Mode: config.KingpinModeTopN, TopN: 10, Percentile: 99})
	kingpins := ca.Kingpins(ca.Analyze(starGraph()))

	// only D has inbound flow; the three senders must not pad the cut
	require.Len(t, kingpins, 1)
	assert.Equal(t, "D", kingpins[0].AccountID)
}

func TestSelfLoopsDoNotInflateCentrality(t *testing.T) {
	// A wires to itself on top of receiving from B and C; only the two
	// other nodes count, so A caps at 2/(3-1) = 1.0
	g := graph.Build([]ledger.Transaction{
		tx("A", "A", 100),
		tx("B", "A", 100),
		tx("C", "A", 100),
	})
	ca := newAnalyzer(t, config.Default().Kingpin)

	scores := ca.Analyze(g)
	require.Len(t, scores, 3)
	for _, s := range scores {
		assert.LessOrEqual(t, s.Centrality, 1.0, "account %s", s.AccountID)
		assert.GreaterOrEqual(t, s.Centrality, 0.0, "account %s", s.AccountID)
	}
	assert.Equal(t, "A", scores[0].AccountID)
	assert.Equal(t, 2, scores[0].InDegree)
	assert.Equal(t, 1.0, scores[0].Centrality)
}

func TestCentralityDegenerateGraphs(t *testing.T) {
	ca := newAnalyzer(t, config.Default().Kingpin)

	t.Run("empty", func(t *testing.T) {
		assert.Empty(t, ca.Analyze(graph.Build(nil)))
		assert.Empty(t, ca.Kingpins(nil))
	})

	t.Run("single account", func(t *testing.T) {
		// a self-loop produces one node; centrality is defined as 0
		g := graph.Build([]ledger.Transaction{tx("A", "A", 10)})
		scores := ca.Analyze(g)
		require.Len(t, scores, 1)
		assert.Equal(t, 0.0, scores[0].Centrality)
	})
}

func TestRankOrderIsDeterministic(t *testing.T) {
	// same centrality and volume: id breaks the tie
	g := graph.Build([]ledger.Transaction{
		tx("A", "X", 500),
		tx("A", "Y", 500),
	})
	ca := newAnalyzer(t, config.Default().Kingpin)

	for i := 0; i < 5; i++ {
		scores := ca.Analyze(g)
		require.Len(t, scores, 3)
		assert.Equal(t, "X", scores[0].AccountID)
		assert.Equal(t, "Y", scores[1].AccountID)
		assert.Equal(t, "A", scores[2].AccountID)
	}
}
