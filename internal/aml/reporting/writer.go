// Package reporting serializes detection results into the stable
// tabular schema downstream consumers read. No binary format is
// mandated; CSV and JSON cover the reporting and visualization
// collaborators.
package reporting

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/ledgersift/ledgersift/internal/aml"
)

// riskHeader is the published column schema for risk records. Column
// order is part of the contract; append, never reorder.
var riskHeader = []string{
	"account_id", "centrality_rank", "centrality", "in_volume",
	"is_structuring", "structuring_score", "ring_id", "ring_volume",
	"composite_score",
}

var ringHeader = []string{
	"ring_id", "kingpin", "member_count", "members", "aggregate_volume", "depth",
}

// WriteRiskCSV writes the ranked risk records.
func WriteRiskCSV(w io.Writer, result aml.Result) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(riskHeader); err != nil {
		return fmt.Errorf("write risk header: %w", err)
	}
	for _, rec := range result.Records {
		ringID := ""
		if rec.RingID != uuid.Nil {
			ringID = rec.RingID.String()
		}
		row := []string{
			rec.AccountID,
			strconv.Itoa(rec.CentralityRank),
			formatFloat(rec.Centrality),
			rec.InVolume.String(),
			strconv.FormatBool(rec.IsStructuring),
			formatFloat(rec.StructuringScore),
			ringID,
			rec.RingVolume.String(),
			formatFloat(rec.CompositeScore),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write risk row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteRingsCSV writes the ranked ring list. Members are joined with
// "|" so the table stays one row per ring.
func WriteRingsCSV(w io.Writer, result aml.Result) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(ringHeader); err != nil {
		return fmt.Errorf("write ring header: %w", err)
	}
	for _, ring := range result.Rings {
		row := []string{
			ring.ID.String(),
			ring.Kingpin,
			strconv.Itoa(len(ring.Members)),
			strings.Join(ring.Members, "|"),
			ring.AggregateVolume.String(),
			strconv.Itoa(ring.Depth),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write ring row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteJSON writes the whole result, summary included, as indented JSON.
func WriteJSON(w io.Writer, result aml.Result) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 6, 64)
}
