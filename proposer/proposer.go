// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package proposer implements spec.md §4.3: local round advancement,
// vertex assembly, and reliable broadcast of newly created vertices.
package proposer

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/luxfi/dagrider/aggregator"
	"github.com/luxfi/dagrider/committee"
	"github.com/luxfi/dagrider/core"
	"github.com/luxfi/dagrider/metrics"
	"github.com/luxfi/dagrider/transport"
	"github.com/luxfi/dagrider/wire"
	"github.com/luxfi/log"
)

// Proposer owns round, last_parents, last_leader, blocks and
// can_proceed. It is driven by a single task (the engine's proposer
// loop); every exported method takes p.mu while it touches that state.
type Proposer struct {
	self      core.PublicKey
	committee *committee.Committee
	net       transport.Network
	log       log.Logger
	metrics   *metrics.Metrics

	maxDelay time.Duration

	mu          sync.Mutex
	round       core.Round
	lastParents map[core.VertexHash]*core.Vertex
	lastLeader  *core.Vertex
	blocks      []core.BlockHash
	canProceed  bool

	// history remembers every round's observed vertex set so Propose
	// can find weak-parent candidates (spec.md §8 scenario 6). It is
	// pruned by EvictBefore exactly like the aggregator's and
	// synchronizer's own per-round state, so it never grows past what
	// the garbage collector still considers live.
	history map[core.Round]map[core.VertexHash]*core.Vertex
}

// New builds a Proposer seeded with the genesis vertex set (spec.md §8:
// "At genesis (round 1), the proposer immediately has
// last_parents = genesis_vertices"). It starts at round 1 with
// can_proceed set, since round 1 is a voting round with no leader, so
// its first proposal is a round-2 vertex, made as soon as blocks are
// pending or the max-delay timer elapses.
func New(
	self core.PublicKey,
	cmt *committee.Committee,
	net transport.Network,
	logger log.Logger,
	m *metrics.Metrics,
	maxDelay time.Duration,
	genesis map[core.VertexHash]*core.Vertex,
) *Proposer {
	if logger == nil {
		logger = log.NewNoOpLogger()
	}
	parents := make(map[core.VertexHash]*core.Vertex, len(genesis))
	genesisHistory := make(map[core.VertexHash]*core.Vertex, len(genesis))
	for h, v := range genesis {
		parents[h] = v
		genesisHistory[h] = v
	}
	return &Proposer{
		self:        self,
		committee:   cmt,
		net:         net,
		log:         logger,
		metrics:     m,
		maxDelay:    maxDelay,
		round:       1,
		lastParents: parents,
		canProceed:  true,
		history:     map[core.Round]map[core.VertexHash]*core.Vertex{1: genesisHistory},
	}
}

// AddBlocks enqueues block hashes handed off by the (external) block
// builder.
func (p *Proposer) AddBlocks(hashes ...core.BlockHash) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.blocks = append(p.blocks, hashes...)
}

// Round returns the proposer's current round.
func (p *Proposer) Round() core.Round {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.round
}

// OnQuorum folds a newly observed round quorum into last_parents and
// recomputes can_proceed (spec.md §4.3's "can_proceed definition").
func (p *Proposer) OnQuorum(q aggregator.RoundQuorum) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.mergeHistoryLocked(q.Round, q.Parents)

	switch {
	case q.Round > p.round:
		p.round = q.Round
		p.lastParents = q.Parents
	case q.Round < p.round:
		return
	default:
		for h, v := range q.Parents {
			p.lastParents[h] = v
		}
	}

	if p.round.IsLeaderRound() {
		leaderKey := p.committee.Leader(uint64(p.round))
		p.lastLeader = nil
		for _, v := range p.lastParents {
			if v.Owner == leaderKey {
				p.lastLeader = v
				break
			}
		}
		p.canProceed = p.lastLeader != nil
		return
	}

	p.canProceed = p.enoughVotesLocked()
}

// mergeHistoryLocked records a round's observed vertices so later
// proposals can scan back for weak-parent candidates. Caller holds
// p.mu.
func (p *Proposer) mergeHistoryLocked(round core.Round, vertices map[core.VertexHash]*core.Vertex) {
	bucket, ok := p.history[round]
	if !ok {
		bucket = make(map[core.VertexHash]*core.Vertex, len(vertices))
		p.history[round] = bucket
	}
	for h, v := range vertices {
		bucket[h] = v
	}
}

// EvictBefore drops history for any round ≤ gcRound, driven by the
// garbage collector's broadcast exactly like the aggregator's and
// synchronizer's own eviction.
func (p *Proposer) EvictBefore(gcRound core.Round) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for r := range p.history {
		if r <= gcRound {
			delete(p.history, r)
		}
	}
}

// selectWeakParentsLocked implements spec.md §8 scenario 6: starting
// from the strong parents chosen for a new vertex at newRound, walk
// backward through the observed history along strong-parent edges
// only (committer.isStronglyConnected's same resolution of the
// strong-vs-weak connectivity Open Question). Any vertex at an older
// round that the walk never reaches is attached as a weak parent.
// Caller holds p.mu.
func (p *Proposer) selectWeakParentsLocked(strongParents map[core.VertexHash]*core.Vertex, newRound core.Round) map[core.VertexHash]*core.Vertex {
	weak := map[core.VertexHash]*core.Vertex{}
	if newRound < 3 {
		return weak
	}

	frontier := strongParents
	for r := int64(newRound) - 2; r >= 1; r-- {
		roundVertices, ok := p.history[core.Round(r)]
		if !ok {
			break
		}

		next := make(map[core.VertexHash]*core.Vertex)
		for _, fv := range frontier {
			for _, h := range fv.StrongParents() {
				if pv, ok := roundVertices[h]; ok {
					next[h] = pv
				}
			}
		}
		for h, v := range roundVertices {
			if _, reached := next[h]; !reached {
				weak[h] = v
			}
		}
		frontier = next
	}
	return weak
}

// enoughVotesLocked implements spec.md §4.3's enough_votes: no leader
// means nothing to wait for; otherwise compare the leader's support in
// last_parents against the quorum and validity thresholds. Caller
// holds p.mu.
func (p *Proposer) enoughVotesLocked() bool {
	if p.lastLeader == nil {
		return true
	}
	votesFor, noVotes := 0, 0
	for _, v := range p.lastParents {
		if v.HasParent(p.lastLeader.Hash) {
			votesFor++
		} else {
			noVotes++
		}
	}
	return votesFor >= p.committee.QuorumThreshold() || noVotes >= p.committee.ValidityThreshold()
}

// ShouldPropose reports whether spec.md §4.3's round advancement rule
// currently holds, given whether the max-delay timer has elapsed.
func (p *Proposer) ShouldPropose(timerElapsed bool) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.lastParents) == 0 {
		return false
	}
	return timerElapsed || (len(p.blocks) > 0 && p.canProceed)
}

// Propose constructs the next vertex from the drained state, broadcasts
// it reliably to every committee vertex address, and returns it.
func (p *Proposer) Propose(ctx context.Context, now time.Time) (*core.Vertex, error) {
	p.mu.Lock()
	p.round++
	v := &core.Vertex{
		Owner:     p.self,
		Round:     p.round,
		Blocks:    p.blocks,
		Parents:   make(map[core.VertexHash]core.ParentInfo, len(p.lastParents)),
		Timestamp: core.Timestamp(now.UnixMilli()),
	}
	for h, parent := range p.lastParents {
		v.AddParent(h, parent.Round, parent.Timestamp)
	}
	for h, weak := range p.selectWeakParentsLocked(p.lastParents, v.Round) {
		v.AddParent(h, weak.Round, weak.Timestamp)
	}
	p.blocks = nil
	p.lastParents = map[core.VertexHash]*core.Vertex{}
	v.ComputeHash()
	p.mu.Unlock()

	if p.metrics != nil {
		p.metrics.RoundAdvance.Set(float64(v.Round))
	}

	payload, err := json.Marshal(wire.NewVertexMessage(v))
	if err != nil {
		return nil, err
	}

	addresses := make([]string, 0, p.committee.Size())
	for _, m := range p.committee.Members() {
		addresses = append(addresses, m.VertexAddress)
	}
	handles := p.net.Broadcast(ctx, addresses, payload)
	for _, h := range handles {
		h := h
		go func() {
			if err := h.Wait(ctx); err != nil {
				p.log.Debug("proposer: broadcast ack failed", "error", err)
			}
		}()
	}

	p.log.Info("proposed vertex", "round", v.Round, "parents", len(v.Parents), "blocks", len(v.Blocks))
	return v, nil
}
