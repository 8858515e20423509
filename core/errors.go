// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package core

import "errors"

var (
	// ErrVertexParentsQuorumFailed is returned when a vertex's strong
	// parent count is below the committee's quorum threshold.
	ErrVertexParentsQuorumFailed = errors.New("vertex strong parents below quorum threshold")

	// ErrInvalidParentRound describes a parent whose recorded round is
	// not strictly less than the vertex's own round. No function in this
	// module checks for that case or returns this error.
	ErrInvalidParentRound = errors.New("parent round must be less than vertex round")

	// ErrNotGenesis describes a round-1 vertex that carries blocks or
	// parents. No function in this module checks for that case or
	// returns this error.
	ErrNotGenesis = errors.New("round-1 vertex must have no blocks and no parents")

	// ErrHashMismatch is returned when a vertex reconstructed from the
	// wire doesn't recompute to its claimed hash.
	ErrHashMismatch = errors.New("vertex hash does not match canonical encoding")
)
