// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package core defines the wire-independent data model of the DAG:
// vertices, rounds, waves, and parent references. It has no dependency
// on the committee, store, or transport packages so that every other
// package can depend on it without creating import cycles.
package core

import "github.com/luxfi/ids"

// Round is a monotonically increasing protocol step. Round 1 is genesis.
type Round uint64

// Wave is the fixed number of consecutive rounds making up one
// leader-commit cycle. Even rounds are leader rounds, odd rounds are
// voting rounds.
const Wave = 2

// IsLeaderRound reports whether r is a leader (even) round.
func (r Round) IsLeaderRound() bool {
	return r%Wave == 0
}

// VertexHash is the 32-byte content hash identifying a vertex.
type VertexHash = ids.ID

// PublicKey is the 32-byte identifier of a validator.
type PublicKey = ids.NodeID

// BlockHash is an opaque 32-byte reference to a payload produced by the
// (out-of-scope) block builder.
type BlockHash = ids.ID

// Timestamp is milliseconds since the Unix epoch.
type Timestamp int64
