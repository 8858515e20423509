// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package config

import (
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeCommitteeFile(t *testing.T, members map[uint32]validatorFile) string {
	t.Helper()
	byID := make(map[string]validatorFile, len(members))
	for id, v := range members {
		byID[fmt.Sprintf("%d", id)] = v
	}
	data, err := json.Marshal(committeeFile{Validators: byID})
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "committee.json")
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func genMember(t *testing.T, id uint32) validatorFile {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	return validatorFile{
		KeypairHex:           hex.EncodeToString(priv),
		VertexAddress:        "127.0.0.1:900" + string(rune('0'+id)),
		BlockProposalAddress: "127.0.0.1:910" + string(rune('0'+id)),
		TxAddress:            "127.0.0.1:920" + string(rune('0'+id)),
		BlockAddress:         "127.0.0.1:930" + string(rune('0'+id)),
	}
}

func TestLoadCommitteeParsesValidFile(t *testing.T) {
	require := require.New(t)
	path := writeCommitteeFile(t, map[uint32]validatorFile{
		0: genMember(t, 0), 1: genMember(t, 1), 2: genMember(t, 2), 3: genMember(t, 3),
	})

	cmt, err := LoadCommittee(path)
	require.NoError(err)
	require.Equal(4, cmt.Size())
}

func TestLoadCommitteeRejectsBadKeypair(t *testing.T) {
	require := require.New(t)
	m := genMember(t, 0)
	m.KeypairHex = "not-hex"
	path := writeCommitteeFile(t, map[uint32]validatorFile{0: m})

	_, err := LoadCommittee(path)
	require.Error(err)
}

func TestLoadCommitteeRejectsShortKeypair(t *testing.T) {
	require := require.New(t)
	pub, _, err := ed25519.GenerateKey(nil)
	require.NoError(err)
	m := genMember(t, 0)
	m.KeypairHex = hex.EncodeToString(pub)
	path := writeCommitteeFile(t, map[uint32]validatorFile{0: m})

	_, err = LoadCommittee(path)
	require.ErrorIs(err, ErrInvalidKeypairLength)
}

func TestLoadCommitteeRejectsMissingVertexAddress(t *testing.T) {
	require := require.New(t)
	m := genMember(t, 0)
	m.VertexAddress = ""
	path := writeCommitteeFile(t, map[uint32]validatorFile{0: m})

	_, err := LoadCommittee(path)
	require.ErrorIs(err, ErrMissingVertexAddress)
}

func TestLoadCommitteeRejectsMalformedValidatorID(t *testing.T) {
	require := require.New(t)
	data, err := json.Marshal(committeeFile{Validators: map[string]validatorFile{"not-a-number": genMember(t, 0)}})
	require.NoError(err)
	path := filepath.Join(t.TempDir(), "committee.json")
	require.NoError(os.WriteFile(path, data, 0o600))

	_, err = LoadCommittee(path)
	require.ErrorIs(err, ErrInvalidValidatorID)
}

func TestLoadResolvesSelfAndFillsDefaults(t *testing.T) {
	require := require.New(t)
	path := writeCommitteeFile(t, map[uint32]validatorFile{0: genMember(t, 0), 1: genMember(t, 1)})

	cfg := &Config{Self: 0, CommitteePath: path}
	require.NoError(Load(cfg))
	require.NotNil(cfg.Committee)
	require.Equal(DefaultMaxProposalDelay, cfg.MaxProposalDelay)
	require.Equal(DefaultSyncRetryNodes, cfg.SyncRetryNodes)
}

func TestLoadRejectsUnknownSelfID(t *testing.T) {
	require := require.New(t)
	path := writeCommitteeFile(t, map[uint32]validatorFile{0: genMember(t, 0)})

	cfg := &Config{Self: 99, CommitteePath: path}
	err := Load(cfg)
	require.ErrorIs(err, ErrMissingSelfID)
}
