// Package rings isolates the subgraph around each kingpin candidate: the
// accounts funneling money into it, directly or through one layering
// hop.
package rings

import (
	"sort"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ledgersift/ledgersift/internal/aml/detection"
	"github.com/ledgersift/ledgersift/internal/aml/graph"
	"github.com/ledgersift/ledgersift/internal/config"
)

// ring ids derive from the kingpin account id so identical runs produce
// identical output
var ringNamespace = uuid.MustParse("8a9e7b1c-33d2-4a8e-9c91-6d2f0b5a7e44")

// Namespace returns the UUID namespace ring ids derive from, for callers
// that rebuild rings from merged window aggregates.
func Namespace() uuid.UUID { return ringNamespace }

// Ring is the ego-graph around one kingpin: the sender accounts whose
// flow reaches it within the configured depth. Recomputed each run,
// never persisted independently of its source graph.
type Ring struct {
	ID      uuid.UUID `json:"id"`
	Kingpin string    `json:"kingpin"`
	// Members lists the sender accounts in the ring, kingpin excluded,
	// ascending id order.
	Members []string `json:"members"`
	// AggregateVolume is the sum of the filtered inbound edge weights
	// reaching the kingpin. Layering-hop edges add members, not volume,
	// so nothing is counted twice.
	AggregateVolume decimal.Decimal `json:"aggregate_volume"`
	Depth           int             `json:"depth"`
}

// Extractor pulls rings out of the flow graph around kingpin candidates.
type Extractor struct {
	cfg    config.RingConfig
	logger *zap.SugaredLogger
}

// NewExtractor creates a ring extractor.
func NewExtractor(cfg config.RingConfig, logger *zap.SugaredLogger) *Extractor {
	return &Extractor{cfg: cfg, logger: logger}
}

// Extract builds one ring per kingpin candidate via a bounded
// breadth-first traversal over inbound edges, keeping the traversal
// depth and the whole-graph cost explicit. Edges below the minimum
// weight are treated as noise and skipped. Rings with fewer members
// than the configured minimum are dropped. The result is ordered by
// aggregate volume descending, kingpin id ascending.
func (e *Extractor) Extract(g *graph.Graph, kingpins []detection.CentralityScore) []Ring {
	var out []Ring
	for _, kp := range kingpins {
		if ring, ok := e.extractOne(g, kp.AccountID); ok {
			out = append(out, ring)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].AggregateVolume.Equal(out[j].AggregateVolume) {
			return out[i].AggregateVolume.GreaterThan(out[j].AggregateVolume)
		}
		return out[i].Kingpin < out[j].Kingpin
	})

	e.logger.Infow("ring extraction complete", "kingpins", len(kingpins), "rings", len(out))
	return out
}

func (e *Extractor) extractOne(g *graph.Graph, kingpin string) (Ring, bool) {
	minWeight := decimal.NewFromFloat(e.cfg.MinEdgeWeight)
	members := make(map[string]bool)
	volume := decimal.Zero

	// depth 1: direct senders into the kingpin
	var frontier []string
	for _, edge := range g.InEdges(kingpin) {
		if edge.Weight.LessThan(minWeight) {
			continue
		}
		if edge.Sender == kingpin {
			continue // self-loop adds no member
		}
		members[edge.Sender] = true
		frontier = append(frontier, edge.Sender)
		volume = volume.Add(edge.Weight)
	}

	// depth 2: one layering hop through the senders' own senders
	if e.cfg.Depth == 2 {
		for _, mule := range frontier {
			for _, edge := range g.InEdges(mule) {
				if edge.Weight.LessThan(minWeight) {
					continue
				}
				if edge.Sender == kingpin || members[edge.Sender] {
					continue
				}
				members[edge.Sender] = true
			}
		}
	}

	if len(members) < e.cfg.MinMembers {
		return Ring{}, false
	}

	ids := make([]string, 0, len(members))
	for id := range members {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	return Ring{
		ID:              uuid.NewSHA1(ringNamespace, []byte(kingpin)),
		Kingpin:         kingpin,
		Members:         ids,
		AggregateVolume: volume,
		Depth:           e.cfg.Depth,
	}, true
}
