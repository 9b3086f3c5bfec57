package aml

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/ledgersift/ledgersift/internal/config"
	"github.com/ledgersift/ledgersift/internal/ledger"
)

// PipelineTestSuite runs the full detection pipeline end to end.
type PipelineTestSuite struct {
	suite.Suite
	logger *zap.Logger
}

func (s *PipelineTestSuite) SetupTest() {
	s.logger = zaptest.NewLogger(s.T())
}

func TestPipelineSuite(t *testing.T) {
	suite.Run(t, new(PipelineTestSuite))
}

func (s *PipelineTestSuite) service(mutate func(*config.Config)) *Service {
	cfg := config.Default()
	cfg.Kingpin = config.KingpinConfig{Mode: config.KingpinModePercentile, Percentile: 99, TopN: 5}
	cfg.Structuring = config.StructuringConfig{
		HighFrequencyCount: 20,
		LowVolumeMean:      500,
		ReportingThreshold: 10000,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	svc, err := NewService(cfg, s.logger)
	s.Require().NoError(err)
	return svc
}

func tx(sender, receiver string, amount float64, at time.Time) ledger.Transaction {
	return ledger.Transaction{
		SenderID:   sender,
		ReceiverID: receiver,
		Amount:     decimal.NewFromFloat(amount),
		Timestamp:  at,
		Kind:       ledger.KindTransfer,
	}
}

// starLedger: A, B and C each wire 3,000 to D once.
func starLedger() []ledger.Transaction {
	at := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	return []ledger.Transaction{
		tx("A", "D", 3000, at),
		tx("B", "D", 3000, at.Add(time.Hour)),
		tx("C", "D", 3000, at.Add(2*time.Hour)),
	}
}

func (s *PipelineTestSuite) TestStarTopologyScenario() {
	svc := s.service(nil)

	result, err := svc.Run(context.Background(), starLedger())
	s.Require().NoError(err)

	s.Equal(4, result.Summary.Accounts)
	s.Equal(3, result.Summary.Edges)
	s.Equal(1, result.Summary.Kingpins)
	s.Equal(0, result.Summary.MalformedRecords)

	s.Require().Len(result.Rings, 1)
	ring := result.Rings[0]
	s.Equal("D", ring.Kingpin)
	s.Len(ring.Members, 3)
	s.True(ring.AggregateVolume.Equal(decimal.NewFromInt(9000)))

	s.Require().NotEmpty(result.Records)
	top := result.Records[0]
	s.Equal("D", top.AccountID)
	s.Equal(1.0, top.Centrality)
	s.Equal(1, top.CentralityRank)
	s.Equal(ring.ID, top.RingID)
}

func (s *PipelineTestSuite) TestSmurfingScenario() {
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	var txs []ledger.Transaction
	for i := 0; i < 50; i++ {
		txs = append(txs, tx("E", "F", 150, base.Add(time.Duration(i)*10*time.Minute)))
	}
	txs = append(txs, tx("G", "F", 7500, base))

	svc := s.service(nil)
	result, err := svc.Run(context.Background(), txs)
	s.Require().NoError(err)

	s.Equal(1, result.Summary.StructuringFlags)
	var flaggedE, flaggedG bool
	for _, rec := range result.Records {
		switch rec.AccountID {
		case "E":
			flaggedE = rec.IsStructuring
		case "G":
			flaggedG = rec.IsStructuring
		}
	}
	s.True(flaggedE, "E splits 7,500 into 50 small payments")
	s.False(flaggedG, "G moves the same total in one transaction")
}

func (s *PipelineTestSuite) TestIdempotentRuns() {
	svc := s.service(nil)
	txs := append(starLedger(),
		tx("E", "D", 120, time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC)),
		tx("E", "B", 80, time.Date(2024, 3, 2, 1, 0, 0, 0, time.UTC)),
	)

	first, err := svc.Run(context.Background(), txs)
	s.Require().NoError(err)
	second, err := svc.Run(context.Background(), txs)
	s.Require().NoError(err)

	s.Equal(first.Records, second.Records)
	s.Equal(first.Rings, second.Rings)
}

func (s *PipelineTestSuite) TestEmptyGraph() {
	svc := s.service(nil)

	result, err := svc.Run(context.Background(), []ledger.Transaction{
		{SenderID: "", ReceiverID: "B", Amount: decimal.NewFromInt(10)},
	})

	s.Require().ErrorIs(err, ErrEmptyGraph)
	s.Empty(result.Records)
	s.Empty(result.Rings)
	s.Equal(1, result.Summary.MalformedRecords)
}

func (s *PipelineTestSuite) TestMalformedRecordsAreCountedNotFatal() {
	txs := append(starLedger(),
		ledger.Transaction{SenderID: "X", ReceiverID: "D", Amount: decimal.NewFromInt(-1)},
		ledger.Transaction{SenderID: "", ReceiverID: "D", Amount: decimal.NewFromInt(5)},
	)
	svc := s.service(nil)

	result, err := svc.Run(context.Background(), txs)
	s.Require().NoError(err)
	s.Equal(2, result.Summary.MalformedRecords)
	s.Equal(4, result.Summary.Accounts)
}

func (s *PipelineTestSuite) TestInvalidConfigurationFailsFast() {
	cfg := config.Default()
	cfg.Rings.Depth = 3

	_, err := NewService(cfg, s.logger)
	s.Require().ErrorIs(err, config.ErrInvalidConfiguration)
}

func (s *PipelineTestSuite) TestWindowedRunMatchesSingleRunOnStar() {
	// the star fits one window, so both modes must agree on the findings
	single := s.service(nil)
	windowed := s.service(func(c *config.Config) { c.WindowSize = 24 * time.Hour })

	want, err := single.Run(context.Background(), starLedger())
	s.Require().NoError(err)
	got, err := windowed.Run(context.Background(), starLedger())
	s.Require().NoError(err)

	s.Equal(1, got.Summary.Windows)
	s.Equal(want.Summary.Accounts, got.Summary.Accounts)
	s.Equal(want.Summary.Edges, got.Summary.Edges)
	s.Require().Len(got.Rings, 1)
	s.Equal(want.Rings[0].ID, got.Rings[0].ID)
	s.True(want.Rings[0].AggregateVolume.Equal(got.Rings[0].AggregateVolume))
	s.Equal(want.Records[0].AccountID, got.Records[0].AccountID)
}

func (s *PipelineTestSuite) TestWindowedRunMergesAcrossSlices() {
	// the same senders hit D in two different weeks; merged summaries
	// must still see one ring with the combined volume
	week1 := time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)
	week2 := week1.Add(7 * 24 * time.Hour)
	txs := []ledger.Transaction{
		tx("A", "D", 1000, week1), tx("B", "D", 1000, week1),
		tx("A", "D", 2000, week2), tx("B", "D", 2000, week2),
	}

	svc := s.service(func(c *config.Config) { c.WindowSize = 7 * 24 * time.Hour })
	result, err := svc.Run(context.Background(), txs)
	s.Require().NoError(err)

	s.Equal(2, result.Summary.Windows)
	s.Equal(3, result.Summary.Accounts)
	s.Require().Len(result.Rings, 1)
	s.Equal("D", result.Rings[0].Kingpin)
	s.Equal([]string{"A", "B"}, result.Rings[0].Members)
	s.True(result.Rings[0].AggregateVolume.Equal(decimal.NewFromInt(6000)),
		"volume %s", result.Rings[0].AggregateVolume)
}
