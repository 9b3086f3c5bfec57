package ledger

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// simulation epoch for step-indexed ledgers; one step is one hour
var stepEpoch = time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)

// Loader reads PaySim-style ledger CSVs
// (step,type,amount,nameOrig,...,nameDest,...) into typed transactions.
type Loader struct {
	logger  *zap.SugaredLogger
	kinds   map[TransferKind]bool
	maxRows int
}

// NewLoader creates a loader that keeps only the given transfer kinds.
// An empty kinds list keeps everything. maxRows of 0 means unlimited.
func NewLoader(kinds []string, maxRows int, logger *zap.SugaredLogger) *Loader {
	keep := make(map[TransferKind]bool, len(kinds))
	for _, k := range kinds {
		keep[TransferKind(k)] = true
	}
	return &Loader{logger: logger, kinds: keep, maxRows: maxRows}
}

// LoadFile reads the CSV at path. Rows that fail type coercion are
// skipped and reported in the returned skipped count; the core's graph
// builder applies its own validity checks on top.
func (l *Loader) LoadFile(path string) ([]Transaction, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("open ledger %s: %w", path, err)
	}
	defer f.Close()
	return l.Load(f)
}

// Load reads CSV records from r. The first row must be a header naming
// at least step, type, amount, nameOrig and nameDest.
func (l *Loader) Load(r io.Reader) ([]Transaction, int, error) {
	cr := csv.NewReader(r)
	cr.ReuseRecord = true

	header, err := cr.Read()
	if err != nil {
		return nil, 0, fmt.Errorf("read ledger header: %w", err)
	}
	cols := map[string]int{}
	for i, name := range header {
		cols[name] = i
	}
	for _, required := range []string{"step", "type", "amount", "nameOrig", "nameDest"} {
		if _, ok := cols[required]; !ok {
			return nil, 0, fmt.Errorf("ledger header missing column %q", required)
		}
	}

	var (
		txs     []Transaction
		skipped int
	)
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			// A ragged row is a data defect, not a run killer.
			skipped++
			continue
		}

		kind := TransferKind(row[cols["type"]])
		if len(l.kinds) > 0 && !l.kinds[kind] {
			continue
		}

		tx, err := l.parseRow(row, cols, kind)
		if err != nil {
			skipped++
			l.logger.Debugw("skipping unparseable ledger row", "error", err)
			continue
		}
		txs = append(txs, tx)

		if l.maxRows > 0 && len(txs) >= l.maxRows {
			break
		}
	}

	l.logger.Infow("ledger loaded", "transactions", len(txs), "skipped_rows", skipped)
	return txs, skipped, nil
}

func (l *Loader) parseRow(row []string, cols map[string]int, kind TransferKind) (Transaction, error) {
	amount, err := decimal.NewFromString(row[cols["amount"]])
	if err != nil {
		return Transaction{}, fmt.Errorf("amount %q: %w", row[cols["amount"]], err)
	}
	step, err := strconv.Atoi(row[cols["step"]])
	if err != nil {
		return Transaction{}, fmt.Errorf("step %q: %w", row[cols["step"]], err)
	}
	return Transaction{
		SenderID:   row[cols["nameOrig"]],
		ReceiverID: row[cols["nameDest"]],
		Amount:     amount,
		Timestamp:  stepEpoch.Add(time.Duration(step) * time.Hour),
		Kind:       kind,
	}, nil
}
