// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package gc implements the advisory garbage collector of spec.md §4.5:
// given a newly committed leader and the timestamps of the rounds below
// it, decide the highest round that is safe to prune from the
// committer's in-memory DAG.
package gc

import (
	"sort"

	"github.com/luxfi/dagrider/core"
)

// DefaultDeltaTime is GC_DELTA_TIME from spec.md §4.5: how far a
// round's median timestamp must trail the leader's before that round
// is eligible for pruning.
const DefaultDeltaTime core.Timestamp = 2000

// TimestampSource supplies the creation timestamps of every vertex
// stored for a round, so GC can compute that round's median without
// depending on dagstate directly.
type TimestampSource interface {
	RoundTimestamps(core.Round) []core.Timestamp
}

// GC tracks the highest round known to be safe to prune. It is driven
// exclusively by the committer, once per commit (spec.md §4.5).
type GC struct {
	deltaTime core.Timestamp
	gcRound   core.Round
}

// New creates a GC with the given delta. Use DefaultDeltaTime unless a
// test needs a different sensitivity.
func New(deltaTime core.Timestamp) *GC {
	return &GC{deltaTime: deltaTime}
}

// Round returns the current gc_round.
func (g *GC) Round() core.Round {
	return g.gcRound
}

// Observe runs the median-timestamp sweep for a newly committed
// leader and returns the (possibly unchanged) gc_round plus whether it
// advanced this call.
func (g *GC) Observe(leader *core.Vertex, source TimestampSource) (core.Round, bool) {
	leaderTS := make([]core.Timestamp, 0, len(leader.Parents))
	for _, p := range leader.Parents {
		leaderTS = append(leaderTS, p.Timestamp)
	}
	if len(leaderTS) == 0 {
		return g.gcRound, false
	}
	leaderMedian := median(leaderTS)

	newGCRound := g.gcRound
	start := int64(g.gcRound) + 1
	end := int64(leader.Round) - 2
	for r := start; r <= end; r++ {
		round := core.Round(r)
		roundTS := source.RoundTimestamps(round)
		roundMedian := leaderMedian
		if len(roundTS) > 0 {
			roundMedian = median(roundTS)
		}
		if leaderMedian > roundMedian && leaderMedian-roundMedian > g.deltaTime {
			newGCRound = round
		}
	}

	if newGCRound <= g.gcRound {
		return g.gcRound, false
	}
	g.gcRound = newGCRound
	return g.gcRound, true
}

// median returns the element at index floor(n/2) of the sorted input,
// per spec.md §4.5's explicit definition.
func median(ts []core.Timestamp) core.Timestamp {
	sorted := append([]core.Timestamp(nil), ts...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	return sorted[len(sorted)/2]
}
