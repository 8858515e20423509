// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package config

import "errors"

var (
	ErrInvalidKeypairLength = errors.New("committee: keypair must be a hex-encoded ed25519 private key (seed || public)")
	ErrInvalidValidatorID   = errors.New("committee: validator id must be a decimal uint32")
	ErrMissingVertexAddress = errors.New("committee: vertex_address is required")
	ErrEmptyCommittee       = errors.New("committee: file contains no validators")
	ErrMissingSelfID        = errors.New("config: --id does not match any committee member")
)
