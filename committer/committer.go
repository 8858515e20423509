// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package committer implements the six-step commit protocol of
// spec.md §4.4: on every new vertex, check whether the round behind it
// now holds a validated leader, walk the chain of previously
// uncommitted leaders that are still strongly connected to it, and
// flatten each leader's causal sub-DAG into a deterministic delivery
// order.
package committer

import (
	"github.com/luxfi/dagrider/committee"
	"github.com/luxfi/dagrider/core"
	"github.com/luxfi/dagrider/dagstate"
	"github.com/luxfi/dagrider/gc"
	"github.com/luxfi/dagrider/metrics"
	"github.com/luxfi/dagrider/utils/set"
	"github.com/luxfi/log"
)

// Committer owns the DAG, the delivered-vertex set and the garbage
// collector. It is driven by a single goroutine (spec.md §5's
// concurrency model): Process must never be called concurrently with
// itself.
type Committer struct {
	dag       *dagstate.DAG
	committee *committee.Committee
	gc        *gc.GC
	broadcast *gc.Broadcaster
	metrics   *metrics.Metrics

	lastCommittedRound core.Round
	delivered          set.Set[core.VertexHash]

	log log.Logger
}

// New builds a Committer over an existing DAG and committee.
// broadcast may be nil if nothing needs gc_round notifications, and m
// may be nil in tests that don't care about observability.
func New(dag *dagstate.DAG, committee *committee.Committee, logger log.Logger, broadcast *gc.Broadcaster, m *metrics.Metrics) *Committer {
	if logger == nil {
		logger = log.NewNoOpLogger()
	}
	return &Committer{
		dag:       dag,
		committee: committee,
		gc:        gc.New(gc.DefaultDeltaTime),
		broadcast: broadcast,
		metrics:   m,
		delivered: set.NewSet[core.VertexHash](0),
		log:       logger,
	}
}

// GCRound returns the garbage collector's current advisory round.
func (c *Committer) GCRound() core.Round {
	return c.gc.Round()
}

// LastCommittedRound returns the highest round committed so far.
func (c *Committer) LastCommittedRound() core.Round {
	return c.lastCommittedRound
}

// Process inserts v into the DAG and, if v's arrival completes the
// validation threshold for the leader one round behind it, runs the
// commit protocol. It returns the vertices delivered to the
// application as a result of this call: the oldest committed leader's
// sub-DAG first, each in orderDAG's emission order.
func (c *Committer) Process(v *core.Vertex) []*core.Vertex {
	c.dag.Insert(v)

	if v.Round < 2 {
		return nil
	}
	leaderRound := v.Round - 1
	if leaderRound%core.Wave != 0 || leaderRound <= c.lastCommittedRound {
		return nil
	}

	leader, ok := c.leaderVertexAt(leaderRound)
	if !ok {
		return nil
	}
	votesFor, noVotes := c.dag.VoteCount(v.Round, leader.Hash)
	if c.metrics != nil {
		c.metrics.VotesForLeader.Set(float64(votesFor))
		c.metrics.NoVotes.Set(float64(noVotes))
	}
	if votesFor < c.committee.ValidityThreshold() {
		return nil
	}

	chain := c.orderLeaders(leader)
	var delivered []*core.Vertex
	for _, l := range chain {
		delivered = append(delivered, c.orderDAG(l)...)

		gcRound, advanced := c.gc.Observe(l, c.dag)
		if advanced {
			c.dag.PruneBefore(gcRound)
			if c.broadcast != nil {
				c.broadcast.Publish(gcRound)
			}
			c.log.Debug("garbage collector advanced", "round", gcRound)
		}
	}
	c.log.Info("committed leader chain", "leaders", len(chain), "delivered", len(delivered), "lastCommittedRound", c.lastCommittedRound)
	return delivered
}

// leaderVertexAt returns the vertex authored by round r's deterministic
// leader, if the DAG holds one.
func (c *Committer) leaderVertexAt(r core.Round) (*core.Vertex, bool) {
	leaderKey := c.committee.Leader(uint64(r))
	return c.dag.GetByOwner(r, leaderKey)
}

// orderLeaders walks backward from leader in steps of core.Wave,
// prepending every earlier leader that is still strongly connected to
// the closest later leader found so far (spec.md §4.4, §9's Open
// Question resolution). The result is oldest-first.
func (c *Committer) orderLeaders(leader *core.Vertex) []*core.Vertex {
	chain := []*core.Vertex{leader}
	current := leader

	end := int64(c.lastCommittedRound) + 2
	for r := int64(leader.Round) - 2; r >= end; r -= core.Wave {
		candidate, ok := c.leaderVertexAt(core.Round(r))
		if !ok {
			continue
		}
		if c.isStronglyConnected(current, candidate) {
			chain = append([]*core.Vertex{candidate}, chain...)
			current = candidate
		}
	}
	return chain
}

// isStronglyConnected reports whether older is reachable from newer by
// walking strong-parent edges only, round by round (spec.md §9: the
// Open Question on whether weak edges count towards connectivity is
// resolved in favor of strong-only, since weak edges exist to carry
// stale blocks forward, not to extend the commit frontier).
func (c *Committer) isStronglyConnected(newer, older *core.Vertex) bool {
	if newer.Round <= older.Round {
		return false
	}

	frontier := map[core.VertexHash]*core.Vertex{newer.Hash: newer}
	for r := newer.Round; r > older.Round; r-- {
		next := make(map[core.VertexHash]*core.Vertex)
		for _, v := range frontier {
			for _, h := range v.StrongParents() {
				if pv, ok := c.dag.Get(r-1, h); ok {
					next[h] = pv
				}
			}
		}
		frontier = next
		if len(frontier) == 0 {
			return false
		}
	}
	_, ok := frontier[older.Hash]
	return ok
}

// orderDAG depth-first flattens leader's causal sub-DAG: every
// ancestor at a round above the committer's current boundary that
// hasn't already been delivered, stopping at rounds already folded
// into a previous commit. Emission order is the reverse of DFS-pop
// order, so the leader itself is always last (spec.md §4.4). A vertex
// reached through more than one path is emitted only once, at the
// position of the path that pushed it first, so it can come after one
// of its descendants.
func (c *Committer) orderDAG(leader *core.Vertex) []*core.Vertex {
	boundary := c.lastCommittedRound

	var popped []*core.Vertex
	stack := []*core.Vertex{leader}
	c.delivered.Add(leader.Hash)

	for len(stack) > 0 {
		v := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		popped = append(popped, v)

		for _, h := range v.SortedParentHashes() {
			info := v.Parents[h]
			if info.Round <= boundary || c.delivered.Contains(h) {
				continue
			}
			pv, ok := c.dag.Get(info.Round, h)
			if !ok {
				continue
			}
			c.delivered.Add(h)
			stack = append(stack, pv)
		}
	}

	if leader.Round > c.lastCommittedRound {
		c.lastCommittedRound = leader.Round
	}

	emitted := make([]*core.Vertex, len(popped))
	for i, v := range popped {
		emitted[len(popped)-1-i] = v
	}
	return emitted
}
