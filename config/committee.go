// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package config loads a run's static committee file and command-line
// parameters (spec.md §6).
package config

import (
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"os"
	"strconv"

	"github.com/luxfi/crypto/hashing"
	"github.com/luxfi/dagrider/committee"
	"github.com/luxfi/dagrider/core"
	"github.com/luxfi/dagrider/utils/wrappers"
	"github.com/luxfi/ids"
)

// committeeFile is the literal on-disk shape spec.md §6 specifies: a
// single JSON object keyed by validator id, each entry holding the
// validator's full hex ed25519 keypair and its four service addresses.
type committeeFile struct {
	Validators map[string]validatorFile `json:"validators"`
}

type validatorFile struct {
	KeypairHex           string `json:"keypair"`
	VertexAddress        string `json:"vertex_address"`
	BlockProposalAddress string `json:"block_proposal_address"`
	TxAddress            string `json:"tx_address"`
	BlockAddress         string `json:"block_address"`
}

// LoadCommittee reads and validates a committee.json file shaped per
// spec.md §6: a "validators" object keyed by decimal validator id, each
// entry carrying a hex-encoded ed25519 keypair (seed || public, the
// same 64-byte layout crypto/ed25519.PrivateKey uses) rather than a
// bare public key.
//
// Public keys are derived by hashing the keypair's embedded ed25519
// public key with github.com/luxfi/crypto/hashing's SHA-256
// (hashing.ComputeHash256Array, the same substitution core/codec.go
// already makes for vertex content hashes), rather than
// blake3(serialize(keypair.public))[0..32] as spec.md §6 literally
// describes: blake3 has no maintained Go implementation in this stack,
// so every content/identity hash in this module uses the corpus's own
// SHA-256 wrapper instead.
func LoadCommittee(path string) (*committee.Committee, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var file committeeFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, err
	}

	errs := wrappers.Errs{}
	members := make(map[uint32]committee.Member, len(file.Validators))
	for idStr, v := range file.Validators {
		id, err := parseValidatorID(idStr)
		if err != nil {
			errs.Add(err)
			continue
		}
		raw, err := hex.DecodeString(v.KeypairHex)
		if err != nil {
			errs.Add(err)
			continue
		}
		if len(raw) != ed25519.PrivateKeySize {
			errs.Add(ErrInvalidKeypairLength)
			continue
		}
		pub := ed25519.PrivateKey(raw).Public().(ed25519.PublicKey)
		hashArray := hashing.ComputeHash256Array(pub)
		nodeID, err := ids.ToNodeID(hashArray[:])
		if err != nil {
			errs.Add(err)
			continue
		}
		if v.VertexAddress == "" {
			errs.Add(ErrMissingVertexAddress)
			continue
		}
		members[id] = committee.Member{
			ID:                   id,
			PublicKey:            core.PublicKey(nodeID),
			VertexAddress:        v.VertexAddress,
			BlockProposalAddress: v.BlockProposalAddress,
			TxAddress:            v.TxAddress,
			BlockAddress:         v.BlockAddress,
		}
	}
	if errs.Errored() {
		return nil, errs.Err()
	}
	if len(members) == 0 {
		return nil, ErrEmptyCommittee
	}
	return committee.New(members), nil
}

func parseValidatorID(s string) (uint32, error) {
	id, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, ErrInvalidValidatorID
	}
	return uint32(id), nil
}
