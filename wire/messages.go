// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package wire defines the tagged message envelopes exchanged between
// validators (spec.md §6): vertex gossip/sync traffic and the
// block-builder handoff. Content that must hash deterministically
// (the vertex itself) uses the canonical encoding in core/codec.go;
// these envelopes are the transport-level framing around it and carry
// plain JSON tags, the same shape pkg/wire uses for its candidate and
// vote payloads.
package wire

import "github.com/luxfi/dagrider/core"

// VertexMessageType discriminates the VertexMessage union.
type VertexMessageType string

const (
	TypeNewVertex     VertexMessageType = "new_vertex"
	TypeVertexRequest VertexMessageType = "vertex_request"
	TypeUnSyncVertex  VertexMessageType = "unsync_vertex"
)

// VertexMessage is the tagged union of spec.md §6's VertexMessage enum.
// Exactly one of Vertex / Request is populated, selected by Type.
type VertexMessage struct {
	Type    VertexMessageType     `json:"type"`
	Vertex  *VertexPayload        `json:"vertex,omitempty"`
	Request *VertexRequestPayload `json:"request,omitempty"`
}

// VertexPayload is the wire-friendly projection of core.Vertex.
type VertexPayload struct {
	Hash      core.VertexHash  `json:"hash"`
	Owner     core.PublicKey   `json:"owner"`
	Round     core.Round       `json:"round"`
	Blocks    []core.BlockHash `json:"blocks,omitempty"`
	Parents   []ParentPayload  `json:"parents,omitempty"`
	Timestamp core.Timestamp   `json:"timestamp"`
}

// ParentPayload is one entry of a vertex's parent map, flattened for
// wire transport (the in-memory representation keys by hash; the wire
// form lists pairs so the ascending-hash canonical order is explicit
// on the wire too).
type ParentPayload struct {
	Hash      core.VertexHash `json:"hash"`
	Round     core.Round      `json:"round"`
	Timestamp core.Timestamp  `json:"timestamp"`
}

// VertexRequestPayload is a synchronizer pull request for a set of
// missing parent hashes.
type VertexRequestPayload struct {
	Missing   []core.VertexHash `json:"missing"`
	Requester core.PublicKey    `json:"requester"`
}

// FromVertex projects a core.Vertex into its wire form, parents listed
// in ascending-hash order.
func FromVertex(v *core.Vertex) *VertexPayload {
	hashes := v.SortedParentHashes()
	parents := make([]ParentPayload, 0, len(hashes))
	for _, h := range hashes {
		info := v.Parents[h]
		parents = append(parents, ParentPayload{Hash: h, Round: info.Round, Timestamp: info.Timestamp})
	}
	return &VertexPayload{
		Hash:      v.Hash,
		Owner:     v.Owner,
		Round:     v.Round,
		Blocks:    v.Blocks,
		Parents:   parents,
		Timestamp: v.Timestamp,
	}
}

// ToVertex reconstructs a core.Vertex from its wire form and recomputes
// its hash, rejecting payloads whose claimed hash doesn't match the
// recomputed one.
func (p *VertexPayload) ToVertex() (*core.Vertex, error) {
	v := &core.Vertex{
		Owner:     p.Owner,
		Round:     p.Round,
		Blocks:    p.Blocks,
		Parents:   make(map[core.VertexHash]core.ParentInfo, len(p.Parents)),
		Timestamp: p.Timestamp,
	}
	for _, parent := range p.Parents {
		v.Parents[parent.Hash] = core.ParentInfo{Round: parent.Round, Timestamp: parent.Timestamp}
	}
	if got := v.ComputeHash(); got != p.Hash {
		return nil, core.ErrHashMismatch
	}
	return v, nil
}

// NewVertexMessage wraps v for broadcast by the proposer.
func NewVertexMessage(v *core.Vertex) *VertexMessage {
	return &VertexMessage{Type: TypeNewVertex, Vertex: FromVertex(v)}
}

// NewVertexRequestMessage builds a synchronizer pull request.
func NewVertexRequestMessage(missing []core.VertexHash, requester core.PublicKey) *VertexMessage {
	return &VertexMessage{Type: TypeVertexRequest, Request: &VertexRequestPayload{Missing: missing, Requester: requester}}
}

// NewUnSyncVertexMessage answers a VertexRequest with the vertex v.
func NewUnSyncVertexMessage(v *core.Vertex) *VertexMessage {
	return &VertexMessage{Type: TypeUnSyncVertex, Vertex: FromVertex(v)}
}

// BlockMessageType discriminates the BlockMessage union (spec.md §6).
// The block builder that produces these is an external collaborator;
// dagrider only needs to speak the wire shape, not build blocks.
type BlockMessageType string

const (
	TypeBlock         BlockMessageType = "block"
	TypeProposeBlock  BlockMessageType = "propose_block"
	TypeRegisterBlock BlockMessageType = "register_block"
)

// BlockMessage is the tagged union of spec.md §6's BlockMessage enum.
type BlockMessage struct {
	Type      BlockMessageType `json:"type"`
	Publisher core.PublicKey   `json:"publisher,omitempty"`
	BlockHash core.BlockHash   `json:"block_hash,omitempty"`
	Block     []byte           `json:"block,omitempty"`
}

// NewBlockMessage wraps a fully materialized block for dissemination.
func NewBlockMessage(publisher core.PublicKey, hash core.BlockHash, payload []byte) *BlockMessage {
	return &BlockMessage{Type: TypeBlock, Publisher: publisher, BlockHash: hash, Block: payload}
}

// NewProposeBlockMessage hands a block hash from the builder to the
// proposer's pending-blocks queue.
func NewProposeBlockMessage(hash core.BlockHash, publisher core.PublicKey) *BlockMessage {
	return &BlockMessage{Type: TypeProposeBlock, Publisher: publisher, BlockHash: hash}
}

// NewRegisterBlockMessage acknowledges a block hash has been durably
// recorded and is safe to reference from a vertex.
func NewRegisterBlockMessage(hash core.BlockHash, publisher core.PublicKey) *BlockMessage {
	return &BlockMessage{Type: TypeRegisterBlock, Publisher: publisher, BlockHash: hash}
}
