// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package proposer

import (
	"context"
	"testing"
	"time"

	"github.com/luxfi/dagrider/aggregator"
	"github.com/luxfi/dagrider/committee"
	"github.com/luxfi/dagrider/core"
	"github.com/luxfi/dagrider/transport"
	"github.com/luxfi/ids"
	"github.com/stretchr/testify/require"
)

type noopNetwork struct{}

func (noopNetwork) Broadcast(context.Context, []string, []byte) []*transport.CancelHandle {
	return nil
}
func (noopNetwork) BroadcastAndWait(context.Context, []string, []byte, int) bool { return false }
func (noopNetwork) Send(context.Context, string, []byte) error                   { return nil }
func (noopNetwork) LuckyBroadcast(context.Context, []string, []byte, int)        {}

func fourValidatorCommittee() (*committee.Committee, []core.PublicKey) {
	members := make(map[uint32]committee.Member, 4)
	keys := make([]core.PublicKey, 4)
	for i := uint32(0); i < 4; i++ {
		key := ids.GenerateTestNodeID()
		keys[i] = key
		members[i] = committee.Member{ID: i, PublicKey: key, VertexAddress: "127.0.0.1:0"}
	}
	return committee.New(members), keys
}

func genesisFor(keys []core.PublicKey) map[core.VertexHash]*core.Vertex {
	out := make(map[core.VertexHash]*core.Vertex, len(keys))
	for _, k := range keys {
		v := core.NewGenesisVertex(k)
		v.ComputeHash()
		out[v.Hash] = v
	}
	return out
}

func TestShouldProposeAtGenesisWaitsForTimerOrBlocks(t *testing.T) {
	require := require.New(t)
	cmt, keys := fourValidatorCommittee()
	genesis := genesisFor(keys)

	p := New(keys[0], cmt, noopNetwork{}, nil, nil, time.Second, genesis)

	require.False(p.ShouldPropose(false), "no timer elapsed and no blocks: must wait")
	require.True(p.ShouldPropose(true), "the max-delay timer always forces a proposal")

	p.AddBlocks(ids.GenerateTestID())
	require.True(p.ShouldPropose(false), "at genesis can_proceed holds, so pending blocks alone trigger a proposal")
}

func TestOnQuorumOddRoundNoLeaderAlwaysCanProceed(t *testing.T) {
	require := require.New(t)
	cmt, keys := fourValidatorCommittee()
	genesis := genesisFor(keys)

	p := New(keys[0], cmt, noopNetwork{}, nil, nil, time.Second, genesis)

	// Round 1 (odd, a voting round by definition since round 2 is the
	// first leader round) with a quorum of parents but no recorded
	// leader: enough_votes must default to true.
	p.OnQuorum(aggregator.RoundQuorum{Round: 1, Parents: genesis})
	require.True(p.canProceed)
}

func TestOnQuorumEvenRoundLocksLeaderByOwner(t *testing.T) {
	require := require.New(t)
	cmt, keys := fourValidatorCommittee()
	genesis := genesisFor(keys)

	p := New(keys[0], cmt, noopNetwork{}, nil, nil, time.Second, genesis)

	leaderKey := cmt.Leader(2)
	parents := map[core.VertexHash]*core.Vertex{}
	for _, v := range genesis {
		parents[v.Hash] = v
	}
	leaderVertex := &core.Vertex{Owner: leaderKey, Round: 2, Parents: map[core.VertexHash]core.ParentInfo{}}
	leaderVertex.ComputeHash()
	parents[leaderVertex.Hash] = leaderVertex

	p.OnQuorum(aggregator.RoundQuorum{Round: 2, Parents: parents})

	require.NotNil(p.lastLeader)
	require.Equal(leaderVertex.Hash, p.lastLeader.Hash)
	require.True(p.canProceed, "a freshly observed leader vertex itself counts as that leader showing up")
}

func TestOnQuorumEvenRoundMissingLeaderBlocksProceed(t *testing.T) {
	require := require.New(t)
	cmt, keys := fourValidatorCommittee()
	genesis := genesisFor(keys)

	p := New(keys[0], cmt, noopNetwork{}, nil, nil, time.Second, genesis)

	leaderKey := cmt.Leader(2)
	parents := map[core.VertexHash]*core.Vertex{}
	for _, v := range genesis {
		if v.Owner == leaderKey {
			continue // the leader never shows up in this round's quorum
		}
		parents[v.Hash] = v
	}

	p.OnQuorum(aggregator.RoundQuorum{Round: 2, Parents: parents})

	require.Nil(p.lastLeader)
	require.False(p.canProceed)
}

func TestEnoughVotesCountsQuorumAndValidity(t *testing.T) {
	require := require.New(t)
	cmt, keys := fourValidatorCommittee()
	genesis := genesisFor(keys)

	p := New(keys[0], cmt, noopNetwork{}, nil, nil, time.Second, genesis)
	p.round = 2
	leader := &core.Vertex{Owner: cmt.Leader(2), Round: 2, Parents: map[core.VertexHash]core.ParentInfo{}}
	leader.ComputeHash()
	p.lastLeader = leader

	// Three of four round-3 vertices vote for the leader: reaches
	// quorum_threshold (3) for N=4.
	voters := map[core.VertexHash]*core.Vertex{}
	for i, owner := range keys {
		v := &core.Vertex{Owner: owner, Round: 3, Parents: map[core.VertexHash]core.ParentInfo{}}
		if i < 3 {
			v.AddParent(leader.Hash, 2, 0)
		}
		v.ComputeHash()
		voters[v.Hash] = v
	}
	p.lastParents = voters

	require.True(p.enoughVotesLocked())
}

// chainVertex builds a round-r vertex for owner that strongly-parents
// every vertex in prevRound.
func chainVertex(owner core.PublicKey, round core.Round, prevRound map[core.VertexHash]*core.Vertex) *core.Vertex {
	v := &core.Vertex{Owner: owner, Round: round, Parents: map[core.VertexHash]core.ParentInfo{}, Timestamp: core.Timestamp(round) * 1000}
	for h, p := range prevRound {
		v.AddParent(h, p.Round, p.Timestamp)
	}
	v.ComputeHash()
	return v
}

func TestProposeAttachesUnreachableOlderVerticesAsWeakParents(t *testing.T) {
	require := require.New(t)
	cmt, keys := fourValidatorCommittee()
	genesis := genesisFor(keys)

	p := New(keys[0], cmt, noopNetwork{}, nil, nil, time.Second, genesis)

	// Round 2: every validator strongly-parents all of genesis.
	round2 := map[core.VertexHash]*core.Vertex{}
	for _, k := range keys {
		v := chainVertex(k, 2, genesis)
		round2[v.Hash] = v
	}
	p.OnQuorum(aggregator.RoundQuorum{Round: 2, Parents: round2})

	// Round 3: keys[0..2] continue the main chain from round 2; keys[3]
	// instead produces an orphan that nothing later ever references
	// (spec.md §8 scenario 6's "not transitively reachable" vertex).
	round3 := map[core.VertexHash]*core.Vertex{}
	for _, k := range keys[:3] {
		v := chainVertex(k, 3, round2)
		round3[v.Hash] = v
	}
	orphan := chainVertex(keys[3], 3, genesis)
	round3[orphan.Hash] = orphan
	p.OnQuorum(aggregator.RoundQuorum{Round: 3, Parents: round3})

	mainRound3 := map[core.VertexHash]*core.Vertex{}
	for h, v := range round3 {
		if h != orphan.Hash {
			mainRound3[h] = v
		}
	}

	// Round 4 and 5 continue the chain from the main round-3 vertices
	// only: the orphan is never a strong parent of anything again.
	round4 := map[core.VertexHash]*core.Vertex{}
	for _, k := range keys[:3] {
		v := chainVertex(k, 4, mainRound3)
		round4[v.Hash] = v
	}
	p.OnQuorum(aggregator.RoundQuorum{Round: 4, Parents: round4})

	round5 := map[core.VertexHash]*core.Vertex{}
	for _, k := range keys[:3] {
		v := chainVertex(k, 5, round4)
		round5[v.Hash] = v
	}
	p.OnQuorum(aggregator.RoundQuorum{Round: 5, Parents: round5})

	v, err := p.Propose(context.Background(), time.Now())
	require.NoError(err)
	require.Equal(core.Round(6), v.Round)

	require.Contains(v.WeakParents(), orphan.Hash, "the round-3 orphan must be attached as a weak parent")
	require.NotContains(v.StrongParents(), orphan.Hash)
}

func TestProposeAdvancesRoundAndDrainsState(t *testing.T) {
	require := require.New(t)
	cmt, keys := fourValidatorCommittee()
	genesis := genesisFor(keys)

	p := New(keys[0], cmt, noopNetwork{}, nil, nil, time.Second, genesis)
	p.AddBlocks(ids.GenerateTestID())

	v, err := p.Propose(context.Background(), time.Now())
	require.NoError(err)
	require.Equal(core.Round(2), v.Round)
	require.Equal(keys[0], v.Owner)
	require.Len(v.Parents, len(genesis))
	require.Empty(p.blocks)
	require.Empty(p.lastParents)
}

func TestOnQuorumMergesIntoDrainedParentsAfterPropose(t *testing.T) {
	require := require.New(t)
	cmt, keys := fourValidatorCommittee()
	genesis := genesisFor(keys)

	p := New(keys[0], cmt, noopNetwork{}, nil, nil, time.Second, genesis)

	v, err := p.Propose(context.Background(), time.Now())
	require.NoError(err)
	require.Empty(p.lastParents)

	// The proposer's own just-broadcast vertex reaches quorum for the
	// round it was proposed at: OnQuorum must merge into the drained
	// (but non-nil) last_parents rather than panic on a nil map.
	require.NotPanics(func() {
		p.OnQuorum(aggregator.RoundQuorum{Round: v.Round, Parents: map[core.VertexHash]*core.Vertex{v.Hash: v}})
	})
	require.Contains(p.lastParents, v.Hash)
	require.True(p.ShouldPropose(true), "merged parents make last_parents non-empty again")
}
