// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package core

import (
	"fmt"

	"github.com/luxfi/crypto/hashing"
	"github.com/luxfi/ids"
	"google.golang.org/protobuf/encoding/protowire"
)

// Canonical field numbers for Vertex encoding. The wire type doesn't
// matter for our purposes beyond picking the right Append* helper;
// what matters is that every validator lays out the same bytes for the
// same vertex.
const (
	fieldOwner          protowire.Number = 1
	fieldRound          protowire.Number = 2
	fieldBlock          protowire.Number = 3
	fieldParentHash     protowire.Number = 4
	fieldParentRound    protowire.Number = 5
	fieldParentTime     protowire.Number = 6
	fieldTimestamp      protowire.Number = 7
)

// CanonicalBytes returns the deterministic byte encoding of every
// Vertex attribute except Hash, in the field order spec.md §6
// prescribes: owner, round, blocks, parents (ascending hash order),
// timestamp. Two vertices with identical attributes (other than Hash)
// always produce identical bytes, on every validator.
func (v *Vertex) CanonicalBytes() []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldOwner, protowire.BytesType)
	b = protowire.AppendBytes(b, v.Owner[:])

	b = protowire.AppendTag(b, fieldRound, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(v.Round))

	for _, blk := range v.Blocks {
		b = protowire.AppendTag(b, fieldBlock, protowire.BytesType)
		b = protowire.AppendBytes(b, blk[:])
	}

	for _, h := range v.SortedParentHashes() {
		p := v.Parents[h]
		b = protowire.AppendTag(b, fieldParentHash, protowire.BytesType)
		b = protowire.AppendBytes(b, h[:])
		b = protowire.AppendTag(b, fieldParentRound, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(p.Round))
		b = protowire.AppendTag(b, fieldParentTime, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(p.Timestamp))
	}

	b = protowire.AppendTag(b, fieldTimestamp, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(v.Timestamp))

	return b
}

// ComputeHash derives v.Hash from v.CanonicalBytes(). Call this once
// after a vertex's other fields are finalized, before storing or
// broadcasting it.
func (v *Vertex) ComputeHash() VertexHash {
	hashArray := hashing.ComputeHash256Array(v.CanonicalBytes())
	v.Hash = ids.ID(hashArray)
	return v.Hash
}

// DecodeCanonical reverses CanonicalBytes, reconstructing a Vertex from
// the bytes the store persists (everything but Hash, which the caller
// recomputes with ComputeHash). It only needs to understand the exact
// field sequence this package writes, not arbitrary protobuf wire
// input.
func DecodeCanonical(data []byte) (*Vertex, error) {
	v := &Vertex{Parents: map[VertexHash]ParentInfo{}}

	var pendingParentHash *VertexHash
	var pendingParentRound Round
	var haveRound bool

	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, fmt.Errorf("core: malformed canonical tag: %w", protowire.ParseError(n))
		}
		data = data[n:]

		switch num {
		case fieldOwner:
			raw, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, fmt.Errorf("core: malformed owner field: %w", protowire.ParseError(n))
			}
			data = data[n:]
			copy(v.Owner[:], raw)
		case fieldRound:
			val, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return nil, fmt.Errorf("core: malformed round field: %w", protowire.ParseError(n))
			}
			data = data[n:]
			v.Round = Round(val)
		case fieldBlock:
			raw, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, fmt.Errorf("core: malformed block field: %w", protowire.ParseError(n))
			}
			data = data[n:]
			var h BlockHash
			copy(h[:], raw)
			v.Blocks = append(v.Blocks, h)
		case fieldParentHash:
			raw, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, fmt.Errorf("core: malformed parent hash field: %w", protowire.ParseError(n))
			}
			data = data[n:]
			var h VertexHash
			copy(h[:], raw)
			pendingParentHash = &h
			haveRound = false
		case fieldParentRound:
			val, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return nil, fmt.Errorf("core: malformed parent round field: %w", protowire.ParseError(n))
			}
			data = data[n:]
			pendingParentRound = Round(val)
			haveRound = true
		case fieldParentTime:
			val, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return nil, fmt.Errorf("core: malformed parent timestamp field: %w", protowire.ParseError(n))
			}
			data = data[n:]
			if pendingParentHash == nil || !haveRound {
				return nil, fmt.Errorf("core: parent timestamp field out of sequence")
			}
			v.Parents[*pendingParentHash] = ParentInfo{Round: pendingParentRound, Timestamp: Timestamp(val)}
			pendingParentHash = nil
			haveRound = false
		case fieldTimestamp:
			val, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return nil, fmt.Errorf("core: malformed timestamp field: %w", protowire.ParseError(n))
			}
			data = data[n:]
			v.Timestamp = Timestamp(val)
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return nil, fmt.Errorf("core: unknown field %d: %w", num, protowire.ParseError(n))
			}
			data = data[n:]
		}
	}

	return v, nil
}
