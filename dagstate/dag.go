// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package dagstate holds the committer's in-memory DAG: a round-keyed
// mapping of hash to vertex (spec.md §3). It is owned exclusively by
// the committer goroutine — nothing else may mutate it (spec.md §3
// "Ownership").
package dagstate

import (
	"github.com/luxfi/dagrider/core"
	"github.com/luxfi/metric"
	"github.com/prometheus/client_golang/prometheus"
)

// DAG is the round-indexed map of hash to vertex. Rounds are kept in a
// plain map rather than a sorted structure; callers that need a range
// scan (the committer's order_leaders) walk explicit round numbers
// rather than iterating map keys, so ordering of the outer map doesn't
// matter.
type DAG struct {
	rounds  map[core.Round]map[core.VertexHash]*core.Vertex
	byOwner map[core.Round]map[core.PublicKey]core.VertexHash

	equivocations prometheus.Counter
}

// New creates an empty DAG. registerer may be nil, in which case the
// equivocation counter is created but never exposed — useful in tests.
func New(registerer prometheus.Registerer) *DAG {
	d := &DAG{
		rounds:  make(map[core.Round]map[core.VertexHash]*core.Vertex),
		byOwner: make(map[core.Round]map[core.PublicKey]core.VertexHash),
		equivocations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dagbft_equivocations_total",
			Help: "Number of times a later vertex from the same owner/round replaced an earlier one.",
		}),
	}
	if registerer != nil {
		_ = registerer.Register(d.equivocations)
	}
	return d
}

// Gatherer exposes the DAG's own metrics as a sub-gatherer, the way
// engine/graph/state registers nested gatherers in the teacher repo.
func (d *DAG) Gatherer() metric.Gatherer {
	reg := prometheus.NewRegistry()
	reg.MustRegister(d.equivocations)
	return reg
}

// Insert adds v to the DAG. If another vertex from the same owner and
// round already exists, the newer one (by arrival order, i.e. this
// call) replaces it — spec.md §8 scenario 3's equivocation rule: "the
// later one to arrive replaces the first". Insert reports whether this
// replaced an existing entry from the same owner.
func (d *DAG) Insert(v *core.Vertex) (equivocated bool) {
	round := d.roundBucket(v.Round)
	owners := d.ownerBucket(v.Round)

	if prevHash, ok := owners[v.Owner]; ok && prevHash != v.Hash {
		delete(round, prevHash)
		equivocated = true
		d.equivocations.Inc()
	}

	round[v.Hash] = v
	owners[v.Owner] = v.Hash
	return equivocated
}

func (d *DAG) roundBucket(r core.Round) map[core.VertexHash]*core.Vertex {
	b, ok := d.rounds[r]
	if !ok {
		b = make(map[core.VertexHash]*core.Vertex)
		d.rounds[r] = b
	}
	return b
}

func (d *DAG) ownerBucket(r core.Round) map[core.PublicKey]core.VertexHash {
	b, ok := d.byOwner[r]
	if !ok {
		b = make(map[core.PublicKey]core.VertexHash)
		d.byOwner[r] = b
	}
	return b
}

// Get looks a vertex up by (round, hash).
func (d *DAG) Get(round core.Round, hash core.VertexHash) (*core.Vertex, bool) {
	b, ok := d.rounds[round]
	if !ok {
		return nil, false
	}
	v, ok := b[hash]
	return v, ok
}

// GetByOwner looks the current (possibly equivocation-replaced) vertex
// from owner in round up.
func (d *DAG) GetByOwner(round core.Round, owner core.PublicKey) (*core.Vertex, bool) {
	owners, ok := d.byOwner[round]
	if !ok {
		return nil, false
	}
	hash, ok := owners[owner]
	if !ok {
		return nil, false
	}
	return d.Get(round, hash)
}

// Round returns every vertex currently stored for round r.
func (d *DAG) Round(r core.Round) map[core.VertexHash]*core.Vertex {
	return d.rounds[r]
}

// HasQuorum reports whether round r holds at least threshold distinct
// vertices (by owner).
func (d *DAG) HasQuorum(r core.Round, threshold int) bool {
	return len(d.byOwner[r]) >= threshold
}

// VoteCount returns, among the vertices stored in round r, how many
// list leaderHash as a parent (votesFor) and how many don't (against).
func (d *DAG) VoteCount(r core.Round, leaderHash core.VertexHash) (votesFor, against int) {
	for _, v := range d.rounds[r] {
		if v.HasParent(leaderHash) {
			votesFor++
		} else {
			against++
		}
	}
	return votesFor, against
}

// RoundTimestamps returns the creation timestamps of every vertex
// stored for round r, used by the garbage collector's median
// computation (spec.md §4.5).
func (d *DAG) RoundTimestamps(r core.Round) []core.Timestamp {
	b := d.rounds[r]
	out := make([]core.Timestamp, 0, len(b))
	for _, v := range b {
		out = append(out, v.Timestamp)
	}
	return out
}

// PruneBefore drops every vertex (and owner index entry) at or below
// round r. Advisory only — correctness of the commit protocol never
// depends on it (spec.md §4.5).
func (d *DAG) PruneBefore(r core.Round) {
	for round := range d.rounds {
		if round <= r {
			delete(d.rounds, round)
			delete(d.byOwner, round)
		}
	}
}
