// Package ledger defines the typed transaction record the detection core
// consumes and a loader that produces it from raw ledger files. The core
// never sees an untyped row: whatever the source format, it is coerced
// and validated here.
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransferKind classifies how money moved.
type TransferKind string

const (
	KindTransfer TransferKind = "TRANSFER"
	KindCashOut  TransferKind = "CASH_OUT"
	KindCashIn   TransferKind = "CASH_IN"
	KindPayment  TransferKind = "PAYMENT"
	KindDebit    TransferKind = "DEBIT"
)

// Transaction is one normalized ledger record. Immutable once ingested.
type Transaction struct {
	SenderID   string          `json:"sender_id"`
	ReceiverID string          `json:"receiver_id"`
	Amount     decimal.Decimal `json:"amount"`
	Timestamp  time.Time       `json:"timestamp"`
	Kind       TransferKind    `json:"kind"`
}

// Malformed reports whether the record fails basic validity: a missing
// account id or a negative amount. Malformed records are skipped and
// counted, never fatal to a run.
func (t Transaction) Malformed() bool {
	return t.SenderID == "" || t.ReceiverID == "" || t.Amount.IsNegative()
}
