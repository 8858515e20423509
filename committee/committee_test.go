// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package committee

import (
	"testing"

	"github.com/luxfi/dagrider/core"
	"github.com/luxfi/ids"
	"github.com/stretchr/testify/require"
)

func fourValidatorCommittee() *Committee {
	members := make(map[uint32]Member, 4)
	for i := uint32(0); i < 4; i++ {
		members[i] = Member{
			ID:            i,
			PublicKey:     ids.GenerateTestNodeID(),
			VertexAddress: "127.0.0.1:0",
		}
	}
	return New(members)
}

func TestThresholds(t *testing.T) {
	require := require.New(t)

	c := fourValidatorCommittee()
	require.Equal(4, c.Size())
	// N=4 -> f = floor(3/3) = 1, quorum = 2*1+1 = 3, validity = f+1 = 2.
	require.Equal(3, c.QuorumThreshold())
	require.Equal(2, c.ValidityThreshold())
}

func TestLeaderIsDeterministicRoundRobin(t *testing.T) {
	require := require.New(t)

	c := fourValidatorCommittee()
	l1 := c.Leader(5)
	l2 := c.Leader(5)
	require.Equal(l1, l2)

	seen := map[core.PublicKey]bool{}
	for seed := uint64(0); seed < uint64(c.Size()); seed++ {
		seen[c.Leader(seed)] = true
	}
	require.Len(seen, c.Size(), "round-robin over N consecutive seeds must hit every validator once")
}

func TestGenesisOnePerValidator(t *testing.T) {
	require := require.New(t)

	c := fourValidatorCommittee()
	genesis := c.Genesis()
	require.Len(genesis, c.Size())
	for _, v := range genesis {
		require.Equal(core.Round(1), v.Round)
		require.Empty(v.Parents)
		require.Empty(v.Blocks)
	}
}
