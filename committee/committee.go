// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package committee models the fixed validator set a DAG-BFT run
// commits to before it starts: one entry per validator id, its public
// key, and the four network addresses spec.md §6 requires. The
// committee is immutable for the lifetime of a run (no dynamic
// reconfiguration, per spec.md's Non-goals).
package committee

import (
	"sort"

	"github.com/luxfi/dagrider/core"
)

// Member is one validator's entry in the committee file.
type Member struct {
	ID                    uint32
	PublicKey             core.PublicKey
	VertexAddress         string
	BlockProposalAddress  string
	TxAddress             string
	BlockAddress          string
}

// Committee is the ordered, immutable set of validators participating
// in a run.
type Committee struct {
	members    map[uint32]Member
	byKey      map[core.PublicKey]Member
	sortedKeys []core.PublicKey
}

// New builds a Committee from a numeric-id-keyed member map. The
// members are re-sorted by public key (lexicographic order) once, so
// that Leader is a pure function of (committee, seed).
func New(members map[uint32]Member) *Committee {
	c := &Committee{
		members: members,
		byKey:   make(map[core.PublicKey]Member, len(members)),
	}
	for _, m := range members {
		c.byKey[m.PublicKey] = m
		c.sortedKeys = append(c.sortedKeys, m.PublicKey)
	}
	sort.Slice(c.sortedKeys, func(i, j int) bool {
		return c.sortedKeys[i].Compare(c.sortedKeys[j]) < 0
	})
	return c
}

// Size returns N, the number of validators in the committee.
func (c *Committee) Size() int {
	return len(c.members)
}

// faultTolerance returns f = ⌊(N-1)/3⌋.
func (c *Committee) faultTolerance() int {
	return (c.Size() - 1) / 3
}

// QuorumThreshold returns 2N/3 + 1 under integer division (spec.md §3).
// This equals 2f+1 when N = 3f+1; for N = 3f+2 or 3f+3 it is larger
// (N=5 gives 4, N=6 gives 5).
func (c *Committee) QuorumThreshold() int {
	n := c.Size()
	return 2*n/3 + 1
}

// ValidityThreshold returns f+1 (equivalently (N+2)/3 under integer
// division, per spec.md §3).
func (c *Committee) ValidityThreshold() int {
	n := c.Size()
	return (n + 2) / 3
}

// Member looks a validator up by numeric id.
func (c *Committee) Member(id uint32) (Member, bool) {
	m, ok := c.members[id]
	return m, ok
}

// MemberByKey looks a validator up by public key.
func (c *Committee) MemberByKey(key core.PublicKey) (Member, bool) {
	m, ok := c.byKey[key]
	return m, ok
}

// Members returns every validator, in no particular order.
func (c *Committee) Members() []Member {
	out := make([]Member, 0, len(c.members))
	for _, m := range c.members {
		out = append(out, m)
	}
	return out
}

// Leader returns the deterministic round-robin leader for the given
// seed: committee public keys sorted lexicographically, indexed by
// seed mod N. spec.md §4.3 uses the current round as the seed.
func (c *Committee) Leader(seed uint64) core.PublicKey {
	n := uint64(len(c.sortedKeys))
	return c.sortedKeys[seed%n]
}

// Genesis builds the one-per-validator round-1 genesis vertex set every
// node must construct identically to bootstrap its proposer's
// last_parents (spec.md §3, §8).
func (c *Committee) Genesis() map[core.VertexHash]*core.Vertex {
	out := make(map[core.VertexHash]*core.Vertex, len(c.members))
	for _, key := range c.sortedKeys {
		v := core.NewGenesisVertex(key)
		v.ComputeHash()
		out[v.Hash] = v
	}
	return out
}
