// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package aggregator implements the vertex aggregator and
// synchronizer of spec.md §4.1-§4.2: the entry point for every vertex,
// whether it came from the network, the local proposer, or the
// synchronizer's loopback. It validates parent availability against
// the store, persists accepted vertices, forwards them to the
// committer, and accumulates per-round quorums for the proposer.
package aggregator

import (
	"context"
	"sync"

	"github.com/luxfi/dagrider/committee"
	"github.com/luxfi/dagrider/core"
	"github.com/luxfi/dagrider/metrics"
	"github.com/luxfi/dagrider/store"
	"github.com/luxfi/log"
)

// RoundQuorum is handed to the proposer the first time a round's
// accumulator reaches quorum_threshold.
type RoundQuorum struct {
	Round   core.Round
	Parents map[core.VertexHash]*core.Vertex
}

// roundAccumulator dedupes vertices arriving for one round by hash and
// remembers whether it has already drained (spec.md §4.1: "When the
// accumulator for round r first reaches quorum_threshold").
type roundAccumulator struct {
	vertices map[core.VertexHash]*core.Vertex
	drained  bool
}

// Aggregator owns the per-round accumulator state. It is driven by a
// single task; Process must not be called concurrently with itself.
type Aggregator struct {
	committee *committee.Committee
	store     store.Store
	log       log.Logger
	metrics   *metrics.Metrics

	toCommitter    chan<- *core.Vertex
	toProposer     chan<- RoundQuorum
	toSynchronizer chan<- SyncRequest

	mu           sync.Mutex
	accumulators map[core.Round]*roundAccumulator
}

// New builds an Aggregator. The three output channels are owned by
// the caller (the engine wiring); Process blocks on a full channel,
// exactly like any other bounded inter-component channel in the
// concurrency model (spec.md §5).
func New(
	committee *committee.Committee,
	st store.Store,
	logger log.Logger,
	m *metrics.Metrics,
	toCommitter chan<- *core.Vertex,
	toProposer chan<- RoundQuorum,
	toSynchronizer chan<- SyncRequest,
) *Aggregator {
	if logger == nil {
		logger = log.NewNoOpLogger()
	}
	return &Aggregator{
		committee:      committee,
		store:          st,
		log:            logger,
		metrics:        m,
		toCommitter:    toCommitter,
		toProposer:     toProposer,
		toSynchronizer: toSynchronizer,
		accumulators:   make(map[core.Round]*roundAccumulator),
	}
}

// Process is spec.md §4.1's `process(vertex)` operation.
func (a *Aggregator) Process(ctx context.Context, v *core.Vertex) error {
	missing, err := a.missingParents(ctx, v)
	if err != nil {
		return err
	}
	if len(missing) > 0 {
		req := SyncRequest{Missing: missing, Vertex: v}
		select {
		case a.toSynchronizer <- req:
		case <-ctx.Done():
			return ctx.Err()
		}
		return nil
	}

	if len(v.StrongParents()) < a.committee.QuorumThreshold() && v.Round > 1 {
		if a.metrics != nil {
			a.metrics.VerticesRejected.Inc()
		}
		return core.ErrVertexParentsQuorumFailed
	}

	if err := a.store.Write(ctx, v.Hash[:], v.CanonicalBytes()); err != nil {
		a.log.Error("aggregator: store write failed, aborting process", "error", err)
		panic(err) // storage failure is fatal: spec.md §7
	}

	if a.metrics != nil {
		a.metrics.VerticesProcessed.Inc()
	}

	if quorum, ready := a.accumulate(v); ready {
		select {
		case a.toProposer <- quorum:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	select {
	case a.toCommitter <- v:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// missingParents reads every parent hash from the store and returns
// the ones not yet present.
func (a *Aggregator) missingParents(ctx context.Context, v *core.Vertex) ([]core.VertexHash, error) {
	var missing []core.VertexHash
	for h := range v.Parents {
		_, ok, err := a.store.Read(ctx, h[:])
		if err != nil {
			return nil, err
		}
		if !ok {
			missing = append(missing, h)
		}
	}
	return missing, nil
}

// accumulate appends v to its round's accumulator, deduplicating by
// hash, and reports the quorum the first time the round crosses
// quorum_threshold.
func (a *Aggregator) accumulate(v *core.Vertex) (RoundQuorum, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	acc, ok := a.accumulators[v.Round]
	if !ok {
		acc = &roundAccumulator{vertices: make(map[core.VertexHash]*core.Vertex)}
		a.accumulators[v.Round] = acc
	}
	acc.vertices[v.Hash] = v

	if acc.drained || len(acc.vertices) < a.committee.QuorumThreshold() {
		return RoundQuorum{}, false
	}
	acc.drained = true

	parents := make(map[core.VertexHash]*core.Vertex, len(acc.vertices))
	for h, vv := range acc.vertices {
		parents[h] = vv
	}
	return RoundQuorum{Round: v.Round, Parents: parents}, true
}

// EvictBefore drops accumulator state for any round ≤ gcRound
// (spec.md §4.1, driven by the garbage collector's broadcast).
func (a *Aggregator) EvictBefore(gcRound core.Round) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for r := range a.accumulators {
		if r <= gcRound {
			delete(a.accumulators, r)
		}
	}
}
