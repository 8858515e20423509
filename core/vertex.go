// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package core

import (
	"sort"
)

// ParentInfo records what a vertex knows about one of its parents
// without having to look the parent up: its round and the creation
// timestamp its author stamped on it.
type ParentInfo struct {
	Round     Round
	Timestamp Timestamp
}

// Vertex is a round-r entity authored by one validator, referencing a
// quorum of strong parents from round r-1 plus optional weak parents
// from older rounds. See spec.md §3.
type Vertex struct {
	Hash      VertexHash
	Owner     PublicKey
	Round     Round
	Blocks    []BlockHash
	Parents   map[VertexHash]ParentInfo
	Timestamp Timestamp
}

// NewGenesisVertex builds the distinguished round-1 vertex for owner.
// Genesis vertices have no blocks and no parents.
func NewGenesisVertex(owner PublicKey) *Vertex {
	return &Vertex{
		Owner:   owner,
		Round:   1,
		Blocks:  nil,
		Parents: map[VertexHash]ParentInfo{},
	}
}

// StrongParents returns the hashes of parents whose round equals
// v.Round-1.
func (v *Vertex) StrongParents() []VertexHash {
	out := make([]VertexHash, 0, len(v.Parents))
	for h, p := range v.Parents {
		if p.Round == v.Round-1 {
			out = append(out, h)
		}
	}
	return out
}

// WeakParents returns the hashes of parents whose round is strictly
// less than v.Round-1.
func (v *Vertex) WeakParents() []VertexHash {
	out := make([]VertexHash, 0, len(v.Parents))
	for h, p := range v.Parents {
		if p.Round < v.Round-1 {
			out = append(out, h)
		}
	}
	return out
}

// HasParent reports whether h is among v's parents, strong or weak.
func (v *Vertex) HasParent(h VertexHash) bool {
	_, ok := v.Parents[h]
	return ok
}

// SortedParentHashes returns the parent hashes in ascending byte order,
// the order the canonical encoding (spec.md §6) requires.
func (v *Vertex) SortedParentHashes() []VertexHash {
	hashes := make([]VertexHash, 0, len(v.Parents))
	for h := range v.Parents {
		hashes = append(hashes, h)
	}
	sort.Slice(hashes, func(i, j int) bool {
		return hashes[i].Compare(hashes[j]) < 0
	})
	return hashes
}

// AddParent adds or overwrites v's record for parent hash h.
func (v *Vertex) AddParent(h VertexHash, round Round, ts Timestamp) {
	if v.Parents == nil {
		v.Parents = map[VertexHash]ParentInfo{}
	}
	v.Parents[h] = ParentInfo{Round: round, Timestamp: ts}
}
