// Package graph builds the directed flow graph the detection passes run
// over. Accounts are nodes, aggregated sender→receiver flows are edges.
// The graph is immutable once built: every analysis pass reads it and
// produces its own result structure, none mutates it.
package graph

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ledgersift/ledgersift/internal/ledger"
)

// ErrMalformedRecord classifies a transaction that failed basic validity
// (negative amount or missing account id). Such records are skipped and
// counted, never fatal.
var ErrMalformedRecord = errors.New("malformed transaction record")

// Validate reports why a record would be rejected by Build, wrapping
// ErrMalformedRecord, or nil if it would be accepted.
func Validate(tx ledger.Transaction) error {
	switch {
	case tx.SenderID == "":
		return fmt.Errorf("%w: empty sender id", ErrMalformedRecord)
	case tx.ReceiverID == "":
		return fmt.Errorf("%w: empty receiver id", ErrMalformedRecord)
	case tx.Amount.IsNegative():
		return fmt.Errorf("%w: negative amount %s", ErrMalformedRecord, tx.Amount)
	}
	return nil
}

// Account is one node with its accumulated flow attributes. Created
// lazily the first time the id appears as sender or receiver; never
// deleted during a run.
type Account struct {
	ID        string
	InVolume  decimal.Decimal
	OutVolume decimal.Decimal
	// InDegree counts distinct senders and OutDegree distinct receivers,
	// the account itself excluded in both: an account wiring money to
	// itself is not another node sending to it, so self-loops must not
	// push centrality past 1.
	InDegree  int
	OutDegree int
}

// Observation is one outbound amount with its time, kept per sender for
// the structuring statistics.
type Observation struct {
	Amount decimal.Decimal
	At     time.Time
}

// FlowEdge aggregates every transaction between one ordered account pair.
// Weight >= 0 and Count >= 1 always hold for a stored edge.
type FlowEdge struct {
	Sender   string
	Receiver string
	Weight   decimal.Decimal
	Count    int
}

// Graph is the directed weighted account-flow graph. Read-only after
// Build returns; safe for concurrent readers without locking.
type Graph struct {
	nodes    map[string]*Account
	in       map[string]map[string]*FlowEdge // receiver -> sender -> edge
	out      map[string]map[string]*FlowEdge // sender -> receiver -> edge
	outbound map[string][]Observation
	edges    int
	// selfLoops counts aggregated sender==receiver edges, which stay out
	// of the degree counts: sum of in-degrees plus selfLoops equals the
	// edge count.
	selfLoops int

	malformed int
}

// Build aggregates transactions into a graph in a single pass, O(1)
// amortized per record. Malformed records are counted and dropped.
func Build(txs []ledger.Transaction) *Graph {
	g := &Graph{
		nodes:    make(map[string]*Account),
		in:       make(map[string]map[string]*FlowEdge),
		out:      make(map[string]map[string]*FlowEdge),
		outbound: make(map[string][]Observation),
	}
	for _, tx := range txs {
		if tx.Malformed() {
			g.malformed++
			continue
		}
		g.add(tx)
	}
	return g
}

func (g *Graph) add(tx ledger.Transaction) {
	sender := g.node(tx.SenderID)
	receiver := g.node(tx.ReceiverID)
	sender.OutVolume = sender.OutVolume.Add(tx.Amount)
	receiver.InVolume = receiver.InVolume.Add(tx.Amount)

	edge := g.out[tx.SenderID][tx.ReceiverID]
	if edge == nil {
		edge = &FlowEdge{Sender: tx.SenderID, Receiver: tx.ReceiverID, Weight: decimal.Zero}
		if g.out[tx.SenderID] == nil {
			g.out[tx.SenderID] = make(map[string]*FlowEdge)
		}
		if g.in[tx.ReceiverID] == nil {
			g.in[tx.ReceiverID] = make(map[string]*FlowEdge)
		}
		g.out[tx.SenderID][tx.ReceiverID] = edge
		g.in[tx.ReceiverID][tx.SenderID] = edge
		if tx.SenderID == tx.ReceiverID {
			g.selfLoops++
		} else {
			sender.OutDegree++
			receiver.InDegree++
		}
		g.edges++
	}
	edge.Weight = edge.Weight.Add(tx.Amount)
	edge.Count++

	g.outbound[tx.SenderID] = append(g.outbound[tx.SenderID], Observation{Amount: tx.Amount, At: tx.Timestamp})
}

func (g *Graph) node(id string) *Account {
	if acct, ok := g.nodes[id]; ok {
		return acct
	}
	acct := &Account{ID: id, InVolume: decimal.Zero, OutVolume: decimal.Zero}
	g.nodes[id] = acct
	return acct
}

// NodeCount returns the number of accounts.
func (g *Graph) NodeCount() int { return len(g.nodes) }

// EdgeCount returns the number of aggregated sender→receiver edges,
// self-loops included.
func (g *Graph) EdgeCount() int { return g.edges }

// SelfLoopCount returns the number of aggregated sender==receiver edges.
func (g *Graph) SelfLoopCount() int { return g.selfLoops }

// MalformedRecords returns how many input records were dropped.
func (g *Graph) MalformedRecords() int { return g.malformed }

// Account returns the node for id, or nil if the id never appeared.
func (g *Graph) Account(id string) *Account { return g.nodes[id] }

// Accounts returns every node in ascending id order.
func (g *Graph) Accounts() []*Account {
	out := make([]*Account, 0, len(g.nodes))
	for _, acct := range g.nodes {
		out = append(out, acct)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// InEdges returns the aggregated inbound edges of id in ascending sender
// order.
func (g *Graph) InEdges(id string) []*FlowEdge {
	return sortedEdges(g.in[id], func(e *FlowEdge) string { return e.Sender })
}

// OutEdges returns the aggregated outbound edges of id in ascending
// receiver order.
func (g *Graph) OutEdges(id string) []*FlowEdge {
	return sortedEdges(g.out[id], func(e *FlowEdge) string { return e.Receiver })
}

// Outbound returns the individual outbound amount observations of id in
// input order.
func (g *Graph) Outbound(id string) []Observation { return g.outbound[id] }

func sortedEdges(m map[string]*FlowEdge, key func(*FlowEdge) string) []*FlowEdge {
	if len(m) == 0 {
		return nil
	}
	out := make([]*FlowEdge, 0, len(m))
	for _, e := range m {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return key(out[i]) < key(out[j]) })
	return out
}
